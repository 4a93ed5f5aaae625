package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ProviderConfig selects and configures a transform provider.
type ProviderConfig struct {
	Provider      string // openrouter, gemini or identity
	Model         string
	BaseURL       string
	APIKey        string
	Temperature   float64
	MaxTokens     int
	Seed          *int
	Timeout       time.Duration
	StreamTimeout time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	CacheSize     int // 0 disables the cache
}

// NewProvider builds the configured client wrapped in Retry and, when
// CacheSize > 0, Cached. The identity provider is returned bare.
func NewProvider(ctx context.Context, cfg ProviderConfig, log *slog.Logger) (Transformer, error) {
	var base Transformer
	switch cfg.Provider {
	case "identity":
		return Identity{}, nil
	case "", "openrouter":
		or, err := NewOpenRouter(OpenRouterConfig{
			BaseURL:       cfg.BaseURL,
			APIKey:        cfg.APIKey,
			Model:         cfg.Model,
			Temperature:   cfg.Temperature,
			MaxTokens:     cfg.MaxTokens,
			Seed:          cfg.Seed,
			Timeout:       cfg.Timeout,
			StreamTimeout: cfg.StreamTimeout,
			AppTitle:      "docfactory",
		})
		if err != nil {
			return nil, err
		}
		base = or
	case "gemini":
		g, err := NewGemini(ctx, GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Seed:        cfg.Seed,
		})
		if err != nil {
			return nil, err
		}
		base = g
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	t := Retry(base, cfg.MaxRetries, cfg.RetryDelay, log)
	if cfg.CacheSize > 0 {
		c, err := NewCached(t, cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create transform cache: %w", err)
		}
		return c, nil
	}
	return t, nil
}
