package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"google.golang.org/genai"
)

// Action is what the retry loop does after a failed provider call.
type Action int

const (
	// Retry calls the same model again after a backoff.
	Retry Action = iota
	// NextModel gives up on this model at once; its quota will not come
	// back within the turn.
	NextModel
	// Abort gives up on this model without retrying. The provider rejected
	// the request itself: a bad key, an unknown model, a malformed payload.
	Abort
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case NextModel:
		return "next_model"
	case Abort:
		return "abort"
	}
	return "unknown"
}

// StatusError is a provider failure with the HTTP status it answered with.
// The Gemini batch embedding endpoint is called over plain REST, so its
// failures are wrapped in one; SDK errors carry their own status.
type StatusError struct {
	Provider Provider
	Status   int
	Err      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %v (HTTP %d)", e.Provider, e.Err, e.Status)
}

func (e *StatusError) Unwrap() error { return e.Err }

func withStatus(p Provider, status int, err error) error {
	return &StatusError{Provider: p, Status: status, Err: err}
}

// Classify decides how to treat a failed generation or embedding call:
//
//	429 naming a quota or billing limit  -> NextModel
//	429, 408, 409, 5xx                   -> Retry
//	any other 4xx                        -> Abort
//	no status (reset, empty reply)       -> Retry, or NextModel on quota text
func Classify(err error) Action {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return Abort
	case errors.Is(err, context.DeadlineExceeded):
		return Retry
	}

	status := httpStatus(err)
	quota := quotaExhausted(err)
	switch {
	case quota && (status == 0 || status == http.StatusTooManyRequests):
		return NextModel
	case status == 0,
		status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status == http.StatusConflict,
		status >= http.StatusInternalServerError:
		return Retry
	}
	return Abort
}

// httpStatus digs the HTTP status out of err, or returns 0.
func httpStatus(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return oaiErr.StatusCode
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	return 0
}

// quotaExhausted matches the messages Mistral and Gemini send when a key
// ran out of its daily or billing allowance, as opposed to a per-minute
// rate limit.
func quotaExhausted(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"quota", "billing", "daily limit", "monthly limit"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP
// date. It returns 0 when the header is absent, malformed or in the past.
func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if sec, err := strconv.Atoi(v); err == nil {
		return max(time.Duration(sec)*time.Second, 0)
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}
