// Package completer defines the LLM backend abstraction consumed by the
// judge engine's "simple" scaffold and the default agent solver.
package completer

import (
	"context"

	"github.com/paperbench/paperbench/pkg/chat"
)

// Provider is a chat-completion backend: a concrete LLM API (Anthropic,
// OpenAI, ...) wired through a Config.
type Provider interface {
	// CreateChatCompletion issues a single non-streaming completion request
	// and returns the assembled response text.
	CreateChatCompletion(ctx context.Context, messages []chat.Message) (string, error)

	// CreateChatCompletionStream issues a streaming completion request.
	CreateChatCompletionStream(ctx context.Context, messages []chat.Message) (chat.MessageStream, error)
}

// StructuredProvider is implemented by providers that can constrain their
// output to a JSON schema, used by the judge's "simple" scaffold to obtain
// a parseable score/explanation pair in one round trip.
type StructuredProvider interface {
	Provider
	// CreateStructuredCompletion issues a completion constrained to schema
	// (a JSON Schema document) and returns the raw JSON response text.
	CreateStructuredCompletion(ctx context.Context, messages []chat.Message, schemaName string, schema any) (string, error)
}

// Config describes which backend to construct and how.
type Config struct {
	// Type selects the backend: "anthropic" or "openai".
	Type string `yaml:"type"`
	// Model is the backend-specific model identifier.
	Model string `yaml:"model"`
	// BaseURL overrides the default API endpoint, used for gateway routing.
	BaseURL string `yaml:"base_url,omitempty"`
	// MaxTokens bounds the response length.
	MaxTokens int64 `yaml:"max_tokens,omitempty"`
	// Temperature controls sampling randomness.
	Temperature *float64 `yaml:"temperature,omitempty"`
}
