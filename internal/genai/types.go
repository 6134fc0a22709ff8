// Package genai provides the text generation and embedding backends used by
// the advisor.
//
// Architecture:
//   - Gemini: google.golang.org/genai for generation, REST for batch embedding
//   - Mistral/Groq/Cerebras: github.com/openai/openai-go/v3 (OpenAI-compatible API)
//
// Fallback order for generation:
//  1. Model Chain: Next model in same provider's model list
//  2. Provider Chain: Next provider in the configured provider order
//
// Each model is called once per attempt; the advisor makes at most two
// attempts per turn. Embedding batches are retried with backoff.
package genai

import (
	"context"
	"time"

	"github.com/garyellow/degree-advisor/internal/dialogue"
)

// Provider represents an LLM provider.
type Provider string

const (
	// ProviderGemini represents Google's Gemini API (non-OpenAI-compatible).
	ProviderGemini Provider = "gemini"
	// ProviderMistral represents Mistral's API (OpenAI-compatible).
	ProviderMistral Provider = "mistral"
	// ProviderGroq represents Groq's API (OpenAI-compatible, fast inference).
	ProviderGroq Provider = "groq"
	// ProviderCerebras represents Cerebras's API (OpenAI-compatible).
	ProviderCerebras Provider = "cerebras"
)

// ProviderEndpoint defines the base URL for OpenAI-compatible providers.
// Gemini is not included as it uses a different SDK.
var ProviderEndpoint = map[Provider]string{
	ProviderMistral:  "https://api.mistral.ai/v1/",
	ProviderGroq:     "https://api.groq.com/openai/v1/",
	ProviderCerebras: "https://api.cerebras.ai/v1/",
}

// IsOpenAICompatible returns true if the provider uses OpenAI-compatible API.
func (p Provider) IsOpenAICompatible() bool {
	_, ok := ProviderEndpoint[p]
	return ok
}

// String returns the string representation of the provider.
func (p Provider) String() string {
	return string(p)
}

// Generator produces one assistant reply from an ordered message list.
// The first message may carry the system role.
type Generator interface {
	Generate(ctx context.Context, msgs []dialogue.Turn) (string, error)
	// Provider returns the provider type for metrics.
	Provider() Provider
	// Model returns the model name, or a chain description for fallbacks.
	Model() string
	// Close releases any resources held by the generator.
	Close() error
}

// RetryConfig defines retry behavior for LLM API calls.
// Uses AWS-recommended Full Jitter exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int
	// InitialDelay is the base delay before first retry.
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration
}

// ProviderConfig holds configuration for a single LLM provider.
type ProviderConfig struct {
	APIKey string
	// Models is the ordered generation model list. First is primary.
	Models []string
}

// Config holds configuration for all generation providers.
type Config struct {
	// Providers is the ordered list of providers to try.
	Providers []Provider

	Gemini   ProviderConfig
	Mistral  ProviderConfig
	Groq     ProviderConfig
	Cerebras ProviderConfig

	Temperature float64
	MaxTokens   int

	// CallTimeout bounds each individual model call.
	CallTimeout time.Duration

	RetryConfig RetryConfig
}

// Default model configurations.
// First element is primary model, subsequent elements are fallbacks.
var (
	DefaultGeminiModels   = []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}
	DefaultMistralModels  = []string{"mistral-small-latest", "open-mistral-nemo"}
	DefaultGroqModels     = []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant"}
	DefaultCerebrasModels = []string{"llama-3.3-70b", "llama-3.1-8b"}

	// DefaultProviders is the default provider order for fallback.
	DefaultProviders = []Provider{ProviderMistral, ProviderGemini}
)

// GenerationRetryConfig calls every model in the chain exactly once. The
// advisor already retries a failed turn with a reduced context, so retrying
// inside the chain would multiply the calls made for one turn.
func GenerationRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 1}
}

// HasAnyProvider returns true if at least one provider is configured.
func (c *Config) HasAnyProvider() bool {
	return c.Gemini.APIKey != "" || c.Mistral.APIKey != "" || c.Groq.APIKey != "" || c.Cerebras.APIKey != ""
}

// HasProvider returns true if the specified provider is configured with an API key.
func (c *Config) HasProvider(p Provider) bool {
	pc := c.GetProviderConfig(p)
	return pc != nil && pc.APIKey != ""
}

// GetProviderConfig returns the configuration for a specific provider.
func (c *Config) GetProviderConfig(p Provider) *ProviderConfig {
	switch p {
	case ProviderGemini:
		return &c.Gemini
	case ProviderMistral:
		return &c.Mistral
	case ProviderGroq:
		return &c.Groq
	case ProviderCerebras:
		return &c.Cerebras
	default:
		return nil
	}
}

// ConfiguredProviders returns the list of providers with configured API keys,
// in the order specified by c.Providers.
func (c *Config) ConfiguredProviders() []Provider {
	result := make([]Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		if c.HasProvider(p) {
			result = append(result, p)
		}
	}
	return result
}

// DefaultModels returns the built-in model chain for a provider.
func DefaultModels(p Provider) []string {
	switch p {
	case ProviderGemini:
		return DefaultGeminiModels
	case ProviderMistral:
		return DefaultMistralModels
	case ProviderGroq:
		return DefaultGroqModels
	case ProviderCerebras:
		return DefaultCerebrasModels
	default:
		return nil
	}
}
