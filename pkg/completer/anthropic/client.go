// Package anthropic adapts the Anthropic Messages API to the completer.Provider
// interface.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

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

// Client wraps an anthropic-sdk-go client, implementing completer.Provider.
type Client struct {
	client anthropic.Client
	cfg    Config
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: missing API key")
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

func (c *Client) buildParams(messages []chat.Message) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: c.cfg.MaxTokens,
	}
	if c.cfg.Temperature != nil {
		params.Temperature = anthropic.Float(*c.cfg.Temperature)
	}

	var systemBlocks []string
	for _, m := range messages {
		switch m.Role {
		case chat.RoleSystem:
			systemBlocks = append(systemBlocks, m.Content)
		case chat.RoleUser:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case chat.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case chat.RoleTool:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(systemBlocks) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(systemBlocks, "\n\n")}}
	}

	return params
}

func (c *Client) CreateChatCompletion(ctx context.Context, messages []chat.Message) (string, error) {
	msg, err := c.client.Messages.New(ctx, c.buildParams(messages))
	if err != nil {
		return "", fmt.Errorf("anthropic: create message: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (c *Client) CreateChatCompletionStream(ctx context.Context, messages []chat.Message) (chat.MessageStream, error) {
	stream := c.client.Messages.NewStreaming(ctx, c.buildParams(messages))
	return &anthropicStreamAdapter{stream: stream}, nil
}

// CreateStructuredCompletion asks the model to return JSON conforming to
// schema by appending an instruction to the final user turn; Anthropic's
// Messages API has no native JSON-schema response_format, so the judge's
// "simple" scaffold relies on prompt-level constraints plus a strict parse.
func (c *Client) CreateStructuredCompletion(ctx context.Context, messages []chat.Message, schemaName string, schema any) (string, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("marshaling %s schema: %w", schemaName, err)
	}
	augmented := make([]chat.Message, len(messages))
	copy(augmented, messages)
	if len(augmented) > 0 {
		last := augmented[len(augmented)-1]
		last.Content += fmt.Sprintf("\n\nRespond with a single JSON object named %s that conforms to this JSON schema, and nothing else:\n%s", schemaName, schemaJSON)
		augmented[len(augmented)-1] = last
	}
	return c.CreateChatCompletion(ctx, augmented)
}
