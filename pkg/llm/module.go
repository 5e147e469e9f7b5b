package llm

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/factweave/factweave/internal/config"
)

var Module = fx.Module("llm",
	fx.Provide(NewProvider),
)

// NewProvider builds the configured chat provider.
func NewProvider(cfg *config.Config, log *slog.Logger) Provider {
	return NewOpenAIProvider(OpenAIConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		HTTPTimeout: cfg.LLM.HTTPTimeout,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.BaseTemperature,
	}, log)
}
