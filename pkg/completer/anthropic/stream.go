package anthropic

import (
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/paperbench/paperbench/pkg/chat"
)

// anthropicStreamAdapter turns the SDK's accumulating SSE stream into the
// Recv-one-chunk-at-a-time shape chat.MessageStream expects.
type anthropicStreamAdapter struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	usage  *chat.Usage
}

func (a *anthropicStreamAdapter) Recv() (chat.Chunk, error) {
	if !a.stream.Next() {
		if err := a.stream.Err(); err != nil {
			return chat.Chunk{}, err
		}
		return chat.Chunk{Done: true, Usage: a.usage}, io.EOF
	}

	event := a.stream.Current()
	switch event.Type {
	case "content_block_delta":
		delta := event.Delta
		return chat.Chunk{Delta: chat.Delta{Content: delta.Text}}, nil
	case "message_delta":
		if event.Usage.OutputTokens > 0 {
			a.usage = &chat.Usage{OutputTokens: int(event.Usage.OutputTokens)}
		}
		return chat.Chunk{}, nil
	default:
		return chat.Chunk{}, nil
	}
}

func (a *anthropicStreamAdapter) Close() error {
	return a.stream.Close()
}
