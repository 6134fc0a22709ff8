package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Action
	}{
		{"nil", nil, Abort},
		{"turn canceled", context.Canceled, Abort},
		{"model call timed out", fmt.Errorf("generate: %w", context.DeadlineExceeded), Retry},

		// Gemini generation surfaces genai.APIError.
		{"gemini overloaded", genai.APIError{Code: 503, Message: "The model is overloaded.", Status: "UNAVAILABLE"}, Retry},
		{"gemini per-minute limit", genai.APIError{Code: 429, Message: "Resource has been exhausted.", Status: "RESOURCE_EXHAUSTED"}, Retry},
		{"gemini free tier used up", genai.APIError{Code: 429, Message: "You exceeded your current quota.", Status: "RESOURCE_EXHAUSTED"}, NextModel},
		{"gemini bad key", genai.APIError{Code: 400, Message: "API key not valid.", Status: "INVALID_ARGUMENT"}, Abort},
		{"gemini unknown model", genai.APIError{Code: 404, Message: "models/gemini-9 is not found", Status: "NOT_FOUND"}, Abort},

		// The Gemini embedding endpoint is wrapped by hand.
		{"embedding rate limited", withStatus(ProviderGemini, 429, errors.New("embedding rate limited")), Retry},
		{"embedding body unreadable", withStatus(ProviderGemini, http.StatusBadGateway, errors.New("decode response")), Retry},
		{"embedding forbidden", withStatus(ProviderGemini, 403, errors.New("PERMISSION_DENIED")), Abort},

		// No status at all: network resets and empty replies.
		{"connection reset", errors.New("read tcp: connection reset by peer"), Retry},
		{"empty reply", ErrEmptyResponse, Retry},
		{"billing text without status", errors.New("mistral: billing limit reached"), NextModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.err), "Classify(%v) = %s", tt.err, Classify(tt.err))
		})
	}
}

func TestClassify_QuotaOnlyCountsOnRateLimitStatus(t *testing.T) {
	t.Parallel()

	// A 400 that merely mentions the word is still the request's fault.
	err := genai.APIError{Code: 400, Message: "quota project header is malformed"}
	assert.Equal(t, Abort, Classify(err))
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	inner := errors.New("embedding request failed")
	err := fmt.Errorf("gemini embed batch at 0: %w", withStatus(ProviderGemini, 503, inner))

	var se *StatusError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, ProviderGemini, se.Provider)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, 503, httpStatus(err))
	assert.Contains(t, err.Error(), "gemini: embedding request failed (HTTP 503)")
}

func TestAction_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "retry", Retry.String())
	assert.Equal(t, "next_model", NextModel.String())
	assert.Equal(t, "abort", Abort.String())
	assert.Equal(t, "unknown", Action(42).String())
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	header := func(v string) http.Header {
		h := http.Header{}
		if v != "" {
			h.Set("Retry-After", v)
		}
		return h
	}

	assert.Equal(t, 7*time.Second, retryAfter(header("7")))
	assert.Zero(t, retryAfter(header("")))
	assert.Zero(t, retryAfter(header("soon")))
	assert.Zero(t, retryAfter(header("-3")))
	assert.Zero(t, retryAfter(header(time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat))), "a date in the past means no wait")

	got := retryAfter(header(time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)))
	assert.InDelta(t, 30*time.Second, got, float64(2*time.Second))
}
