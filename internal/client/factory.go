package client

import (
	"context"
	"fmt"

	"turnstile/internal/config"
	"turnstile/internal/ratelimit"
)

// New creates the backend selected by cfg.Provider.
func New(ctx context.Context, cfg config.BackendConfig) (Backend, error) {
	retry := DefaultRetryConfig()
	if cfg.Retry.MaxRetries > 0 {
		retry.MaxRetries = cfg.Retry.MaxRetries
	}
	if cfg.Retry.RetryDelay > 0 {
		retry.RetryDelay = cfg.Retry.RetryDelay
	}
	limiter := ratelimit.PerMinute(cfg.RequestsPerMinute)

	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaBackend(OllamaConfig{
			BaseURL:     cfg.OllamaBaseURL,
			APIKey:      cfg.OllamaKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			HTTPTimeout: cfg.Timeout,
			Retry:       retry,
			Limiter:     limiter,
		})
	case "gemini":
		return NewGeminiBackend(ctx, GeminiConfig{
			APIKey:      cfg.GeminiKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Retry:       retry,
			Limiter:     limiter,
		})
	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}
}
