// Package openai adapts the OpenAI Chat Completions API to the
// completer.Provider interface.
package openai

import (
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"github.com/paperbench/paperbench/pkg/chat"
)

// Config holds the per-client settings resolved by completer.New.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature *float64
}

// Client wraps an openai-go client, implementing completer.Provider.
type Client struct {
	client openai.Client
	cfg    Config
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: missing API key")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

func (c *Client) buildParams(messages []chat.Message) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: c.cfg.Model,
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(c.cfg.MaxTokens)
	}
	if c.cfg.Temperature != nil {
		params.Temperature = openai.Float(*c.cfg.Temperature)
	}

	for _, m := range messages {
		switch m.Role {
		case chat.RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case chat.RoleUser:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		case chat.RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		case chat.RoleTool:
			params.Messages = append(params.Messages, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}

	return params
}

func (c *Client) CreateChatCompletion(ctx context.Context, messages []chat.Message) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.buildParams(messages))
	if err != nil {
		return "", fmt.Errorf("openai: create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) CreateChatCompletionStream(ctx context.Context, messages []chat.Message) (chat.MessageStream, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.buildParams(messages))
	return &streamAdapter{stream: stream}, nil
}

// CreateStructuredCompletion uses OpenAI's JSON-schema response_format to
// force the model to return a parseable object matching schema.
func (c *Client) CreateStructuredCompletion(ctx context.Context, messages []chat.Message, schemaName string, schema any) (string, error) {
	params := c.buildParams(messages)
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   schemaName,
				Schema: schema,
				Strict: openai.Bool(true),
			},
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: create structured completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

type streamAdapter struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *streamAdapter) Recv() (chat.Chunk, error) {
	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			return chat.Chunk{}, err
		}
		return chat.Chunk{Done: true}, io.EOF
	}

	chunk := s.stream.Current()
	if len(chunk.Choices) == 0 {
		return chat.Chunk{}, nil
	}
	return chat.Chunk{Delta: chat.Delta{Content: chunk.Choices[0].Delta.Content}}, nil
}

func (s *streamAdapter) Close() error {
	return s.stream.Close()
}
