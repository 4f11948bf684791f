package completer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paperbench/paperbench/pkg/completer/anthropic"
	"github.com/paperbench/paperbench/pkg/completer/openai"
	"github.com/paperbench/paperbench/pkg/environment"
)

// New constructs the Provider named by cfg.Type, reading its API key from
// env under ANTHROPIC_API_KEY or OPENAI_API_KEY according to that type.
func New(ctx context.Context, cfg *Config, env environment.Provider, logger *slog.Logger) (Provider, error) {
	logger.Debug("creating completer provider", "type", cfg.Type, "model", cfg.Model)

	switch cfg.Type {
	case "anthropic":
		apiKey, _ := env.Get(ctx, "ANTHROPIC_API_KEY")
		return anthropic.NewClient(anthropic.Config{
			APIKey:      apiKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case "openai":
		apiKey, _ := env.Get(ctx, "OPENAI_API_KEY")
		return openai.NewClient(openai.Config{
			APIKey:      apiKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	}

	logger.Error("unknown completer provider type", "type", cfg.Type)
	return nil, fmt.Errorf("unknown completer provider type: %s", cfg.Type)
}

// ParseModelRef splits a "provider/model" reference (e.g.
// "anthropic/claude-opus-4-5-20251101") into its two parts.
func ParseModelRef(ref string) (providerType, model string, err error) {
	for i := range ref {
		if ref[i] == '/' {
			return ref[:i], ref[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid model reference %q, expected \"provider/model\"", ref)
}
