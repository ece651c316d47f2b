package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/wfm-assistant/internal/config"
)

// ErrMissingAPIKey is returned by New when the selected provider has no key.
var ErrMissingAPIKey = errors.New("llm api key is not configured")

// New builds the client for cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w for provider %q", ErrMissingAPIKey, cfg.Provider)
	}
	switch cfg.Provider {
	case config.ProviderAnthropic, "":
		return NewAnthropicClient(cfg.APIKey, cfg.BaseURL, logger), nil
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, logger), nil
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg.APIKey, cfg.BaseURL, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
