package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/garyellow/degree-advisor/internal/dialogue"
)

// ErrEmptyResponse is returned when a model answers with no text.
var ErrEmptyResponse = errors.New("empty response from model")

// openaiGenerator implements Generator for OpenAI-compatible APIs
// (Mistral, Groq, Cerebras).
type openaiGenerator struct {
	client      openai.Client
	model       string
	provider    Provider
	temperature float64
	maxTokens   int64
}

// newOpenAIGenerator creates a generator for an OpenAI-compatible provider.
// Returns nil if apiKey is empty (provider disabled). baseURL overrides the
// provider endpoint when non-empty.
func newOpenAIGenerator(provider Provider, apiKey, model, baseURL string, temperature float64, maxTokens int) (*openaiGenerator, error) {
	if apiKey == "" {
		return nil, nil //nolint:nilnil // Intentional: provider disabled when no API key
	}

	if baseURL == "" {
		var ok bool
		baseURL, ok = ProviderEndpoint[provider]
		if !ok {
			return nil, fmt.Errorf("unsupported OpenAI-compatible provider: %s", provider)
		}
	}

	if model == "" {
		defaults := DefaultModels(provider)
		if len(defaults) == 0 {
			return nil, fmt.Errorf("no default model for provider: %s", provider)
		}
		model = defaults[0]
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		// Retries are handled by WithRetry so backoff and metrics stay in one place.
		option.WithMaxRetries(0),
	)

	return &openaiGenerator{
		client:      client,
		model:       model,
		provider:    provider,
		temperature: temperature,
		maxTokens:   int64(maxTokens),
	}, nil
}

// Generate sends the conversation as chat completion messages.
func (g *openaiGenerator) Generate(ctx context.Context, msgs []dialogue.Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case dialogue.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case dialogue.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       g.model,
		Messages:    messages,
		Temperature: openai.Float(g.temperature),
		MaxTokens:   openai.Int(g.maxTokens),
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, params)
	duration := time.Since(start)

	if err != nil {
		slog.WarnContext(ctx, "generation API call failed",
			"provider", g.provider,
			"model", g.model,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	result := strings.TrimSpace(resp.Choices[0].Message.Content)
	if result == "" {
		return "", ErrEmptyResponse
	}

	if resp.Usage.TotalTokens > 0 {
		slog.DebugContext(ctx, "generation completed",
			"provider", g.provider,
			"model", g.model,
			"input_tokens", resp.Usage.PromptTokens,
			"output_tokens", resp.Usage.CompletionTokens,
			"total_tokens", resp.Usage.TotalTokens,
			"duration_ms", duration.Milliseconds(),
			"finish_reason", resp.Choices[0].FinishReason)
	}

	return result, nil
}

// Provider returns the provider type.
func (g *openaiGenerator) Provider() Provider { return g.provider }

// Model returns the model name.
func (g *openaiGenerator) Model() string { return g.model }

// Close releases resources.
func (g *openaiGenerator) Close() error { return nil }
