package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/garyellow/degree-advisor/internal/metrics"
	"github.com/garyellow/degree-advisor/internal/ratelimit"
)

const (
	// GeminiEmbeddingModel is the model used for generating embeddings
	GeminiEmbeddingModel = "gemini-embedding-001"

	// GeminiEmbeddingDimensions is the output dimension (MRL truncation of the 3072 native size)
	GeminiEmbeddingDimensions = 768

	// GeminiAPIRateLimit is the requests per minute limit (1000 RPM for embedding API)
	GeminiAPIRateLimit = 1000

	// geminiMaxBatch is the batchEmbedContents request limit
	geminiMaxBatch = 100

	// geminiAPIBaseURL is the base URL for Gemini API
	geminiAPIBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

	// MistralEmbeddingModel is the OpenAI-compatible embedding model on Mistral
	MistralEmbeddingModel = "mistral-embed"

	// MistralAPIRateLimit is a conservative requests per minute budget
	MistralAPIRateLimit = 300

	mistralMaxBatch = 32
)

// embeddingRetryConfig retries the same batch; index builds run in the
// background and can afford to wait out a rate-limit window.
var embeddingRetryConfig = RetryConfig{
	MaxAttempts:  5,
	InitialDelay: 2 * time.Second,
	MaxDelay:     20 * time.Second,
}

// GeminiEmbedder generates embeddings with the Gemini batch REST API.
type GeminiEmbedder struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *ratelimit.Limiter
	retry       RetryConfig
	metrics     *metrics.Metrics
}

// NewGeminiEmbedder creates a Gemini embedding client. m may be nil.
func NewGeminiEmbedder(apiKey string, m *metrics.Metrics) *GeminiEmbedder {
	return &GeminiEmbedder{
		apiKey:  apiKey,
		baseURL: geminiAPIBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rateLimiter: ratelimit.NewPerMinute(GeminiAPIRateLimit),
		retry:       embeddingRetryConfig,
		metrics:     m,
	}
}

type batchEmbedRequest struct {
	Requests []embedContentRequest `json:"requests"`
}

type embedContentRequest struct {
	Model                string           `json:"model"`
	Content              embeddingContent `json:"content"`
	TaskType             string           `json:"taskType,omitempty"`
	OutputDimensionality int              `json:"outputDimensionality,omitempty"`
}

type embeddingContent struct {
	Parts []embeddingPart `json:"parts"`
}

type embeddingPart struct {
	Text string `json:"text"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Model identifies the model and dimensionality, so cached vectors from a
// different configuration are never reused.
func (c *GeminiEmbedder) Model() string {
	return GeminiEmbeddingModel + "@" + strconv.Itoa(GeminiEmbeddingDimensions)
}

// IsConfigured returns true if the API key is set
func (c *GeminiEmbedder) IsConfigured() bool {
	return c.apiKey != ""
}

// Embed returns one vector per text, in input order.
// Uses exponential backoff with jitter for transient errors (429, 5xx).
func (c *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.apiKey == "" {
		return nil, errors.New("gemini API key not configured")
	}
	if err := checkTexts(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiMaxBatch {
		batch := texts[start:min(start+geminiMaxBatch, len(texts))]

		var vectors [][]float32
		err := WithRetry(ctx, c.retry, nil, func() error {
			if err := waitLimiter(ctx, c.rateLimiter, c.metrics); err != nil {
				return err
			}
			var err error
			vectors, err = c.embedOnce(ctx, batch)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("gemini embed batch at %d: %w", start, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// embedOnce performs a single batchEmbedContents request.
func (c *GeminiEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	url := fmt.Sprintf("%s/%s:batchEmbedContents?key=%s", c.baseURL, GeminiEmbeddingModel, c.apiKey)

	reqBody := batchEmbedRequest{Requests: make([]embedContentRequest, len(texts))}
	for i, text := range texts {
		reqBody.Requests[i] = embedContentRequest{
			Model:                "models/" + GeminiEmbeddingModel,
			Content:              embeddingContent{Parts: []embeddingPart{{Text: text}}},
			TaskType:             "SEMANTIC_SIMILARITY",
			OutputDimensionality: GeminiEmbeddingDimensions,
		}
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record("error", time.Since(start))
		// Network errors are retryable
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.record("rate_limit", time.Since(start))
		// Honor the server's hint before the jittered backoff kicks in.
		if wait := retryAfter(resp.Header); wait > 0 && HasSufficientBudget(ctx, wait) {
			_ = Sleep(ctx, wait)
		}
		return nil, withStatus(ProviderGemini, resp.StatusCode, errors.New("embedding rate limited"))
	}

	var embedResp batchEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		c.record("error", time.Since(start))
		if resp.StatusCode >= 400 {
			return nil, withStatus(ProviderGemini, resp.StatusCode, errors.New("embedding request failed"))
		}
		return nil, withStatus(ProviderGemini, http.StatusBadGateway, fmt.Errorf("decode response: %w", err))
	}

	if embedResp.Error != nil {
		c.record("error", time.Since(start))
		code := embedResp.Error.Code
		if code == 0 {
			code = resp.StatusCode
		}
		return nil, withStatus(ProviderGemini, code, fmt.Errorf("%s: %s",
			embedResp.Error.Status, embedResp.Error.Message))
	}
	if resp.StatusCode >= 400 {
		c.record("error", time.Since(start))
		return nil, withStatus(ProviderGemini, resp.StatusCode, errors.New("embedding request failed"))
	}

	if len(embedResp.Embeddings) != len(texts) {
		c.record("error", time.Since(start))
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(embedResp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range embedResp.Embeddings {
		if len(e.Values) == 0 {
			c.record("error", time.Since(start))
			return nil, fmt.Errorf("empty embedding returned for text %d", i)
		}
		vectors[i] = e.Values
	}

	c.record("success", time.Since(start))
	return vectors, nil
}

func (c *GeminiEmbedder) record(status string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordLLM(string(ProviderGemini), "embed", status, d.Seconds())
	}
}

// OpenAIEmbedder generates embeddings through an OpenAI-compatible
// embeddings endpoint (Mistral by default).
type OpenAIEmbedder struct {
	client      openai.Client
	provider    Provider
	model       string
	rateLimiter *ratelimit.Limiter
	retry       RetryConfig
	metrics     *metrics.Metrics
}

// NewMistralEmbedder creates an embedder for Mistral's embedding model.
// baseURL overrides the provider endpoint when non-empty. m may be nil.
func NewMistralEmbedder(apiKey, baseURL string, m *metrics.Metrics) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = ProviderEndpoint[ProviderMistral]
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		),
		provider:    ProviderMistral,
		model:       MistralEmbeddingModel,
		rateLimiter: ratelimit.NewPerMinute(MistralAPIRateLimit),
		retry:       embeddingRetryConfig,
		metrics:     m,
	}
}

// Model identifies the embedding model.
func (e *OpenAIEmbedder) Model() string {
	return string(e.provider) + ":" + e.model
}

// Embed returns one vector per text, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkTexts(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += mistralMaxBatch {
		batch := texts[start:min(start+mistralMaxBatch, len(texts))]

		var vectors [][]float32
		err := WithRetry(ctx, e.retry, nil, func() error {
			if err := waitLimiter(ctx, e.rateLimiter, e.metrics); err != nil {
				return err
			}
			var err error
			vectors, err = e.embedOnce(ctx, batch)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%s embed batch at %d: %w", e.provider, start, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		e.record(statusLabel(err), time.Since(start))
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}

	if len(resp.Data) != len(texts) {
		e.record("error", time.Since(start))
		return nil, fmt.Errorf("%s returned %d embeddings for %d texts", e.provider, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) || len(d.Embedding) == 0 {
			e.record("error", time.Since(start))
			return nil, fmt.Errorf("invalid embedding at index %d", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		vectors[d.Index] = vec
	}
	for i, v := range vectors {
		if v == nil {
			e.record("error", time.Since(start))
			return nil, fmt.Errorf("missing embedding for text %d", i)
		}
	}

	e.record("success", time.Since(start))
	return vectors, nil
}

func (e *OpenAIEmbedder) record(status string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordLLM(string(e.provider), "embed", status, d.Seconds())
	}
}

func checkTexts(texts []string) error {
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("text %d is empty or whitespace-only and cannot be embedded", i)
		}
	}
	return nil
}

func waitLimiter(ctx context.Context, l *ratelimit.Limiter, m *metrics.Metrics) error {
	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if m != nil {
		m.RecordRateLimiterWait("embedding", time.Since(start).Seconds())
	}
	return nil
}
