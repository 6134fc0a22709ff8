package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/garyellow/degree-advisor/internal/metrics"
	"github.com/garyellow/degree-advisor/internal/rag"
)

// CreateGenerator builds a FallbackGenerator over every configured model.
//
// Provider selection logic:
//  1. Providers are visited in cfg.Providers order, skipping those without a key.
//  2. Each provider contributes its models in order (defaults when unset).
//  3. Each model is tried with retry logic (configured in RetryConfig).
//
// Returns ErrNoGenerator if no model could be constructed.
func CreateGenerator(ctx context.Context, cfg Config, m *metrics.Metrics) (*FallbackGenerator, error) {
	var generators []Generator

	for _, provider := range cfg.ConfiguredProviders() {
		pc := cfg.GetProviderConfig(provider)
		models := pc.Models
		if len(models) == 0 {
			models = DefaultModels(provider)
		}

		for _, model := range models {
			g, err := newGenerator(ctx, provider, pc.APIKey, model, cfg)
			if err != nil {
				slog.WarnContext(ctx, "failed to create generator",
					"provider", provider,
					"model", model,
					"error", err)
				continue
			}
			if g != nil {
				generators = append(generators, g)
			}
		}
	}

	if len(generators) == 0 {
		return nil, ErrNoGenerator
	}

	chain := NewFallbackGenerator(cfg.RetryConfig, cfg.CallTimeout, m, generators...)
	slog.InfoContext(ctx, "generation chain ready",
		"models", chain.Len(),
		"chain", chain.Model())
	return chain, nil
}

func newGenerator(ctx context.Context, provider Provider, apiKey, model string, cfg Config) (Generator, error) {
	if provider == ProviderGemini {
		g, err := newGeminiGenerator(ctx, apiKey, model, cfg.Temperature, cfg.MaxTokens)
		if g == nil || err != nil {
			return nil, err
		}
		return g, nil
	}
	if !provider.IsOpenAICompatible() {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	g, err := newOpenAIGenerator(provider, apiKey, model, "", cfg.Temperature, cfg.MaxTokens)
	if g == nil || err != nil {
		return nil, err
	}
	return g, nil
}

// CreateEmbedder returns the embedder for the named provider ("gemini" or
// "mistral").
func CreateEmbedder(provider Provider, apiKey string, m *metrics.Metrics) (rag.Embedder, error) {
	if apiKey == "" {
		return nil, errors.New("embedding API key not configured")
	}
	switch provider {
	case ProviderGemini:
		return NewGeminiEmbedder(apiKey, m), nil
	case ProviderMistral:
		return NewMistralEmbedder(apiKey, "", m), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", provider)
	}
}
