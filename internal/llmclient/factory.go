package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/darkswarm/internal/config"
)

// NewModel creates a Model for the configured provider.
func NewModel(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (Model, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiClient(ctx, cfg, logger)
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI)
	}
}

// NewRouterFromConfig builds both tier models and the router over them.
func NewRouterFromConfig(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*Router, error) {
	fast, err := NewModel(ctx, withSharedKey(cfg.Fast, cfg.APIKey), logger)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}
	powerful, err := NewModel(ctx, withSharedKey(cfg.Powerful, cfg.APIKey), logger)
	if err != nil {
		return nil, fmt.Errorf("powerful tier: %w", err)
	}
	return NewRouter(logger, fast, powerful)
}

func withSharedKey(m config.LLMModelConfig, key string) config.LLMModelConfig {
	if m.APIKey == "" {
		m.APIKey = key
	}
	return m
}
