package genai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

var quickRetry = RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

// scriptedCalls fails with errs in order and succeeds once they run out.
func scriptedCalls(errs ...error) (func() error, *int) {
	n := 0
	return func() error {
		n++
		if n <= len(errs) {
			return errs[n-1]
		}
		return nil
	}, &n
}

func TestWithRetry_ProviderFailures(t *testing.T) {
	t.Parallel()

	overloaded := genai.APIError{Code: 503, Status: "UNAVAILABLE"}
	tests := []struct {
		name      string
		cfg       RetryConfig
		errs      []error
		wantErr   bool
		wantCalls int
	}{
		{"overloaded model recovers", quickRetry, []error{overloaded}, false, 2},
		{"overloaded model gives up at the cap", quickRetry, []error{overloaded, overloaded, overloaded}, true, 3},
		{"quota skips the retries", quickRetry, []error{genai.APIError{Code: 429, Message: "exceeded your current quota"}}, true, 1},
		{"bad key skips the retries", quickRetry, []error{withStatus(ProviderMistral, 401, errors.New("unauthorized"))}, true, 1},
		{"generation chain calls each model once", GenerationRetryConfig(), []error{overloaded}, true, 1},
		{"zero attempts still calls once", RetryConfig{}, nil, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fn, calls := scriptedCalls(tt.errs...)
			err := WithRetry(context.Background(), tt.cfg, nil, fn)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, *calls)
		})
	}
}

func TestWithRetry_OnRetrySeesEachFailure(t *testing.T) {
	t.Parallel()

	var seen []int
	fn, _ := scriptedCalls(ErrEmptyResponse, ErrEmptyResponse)
	err := WithRetry(context.Background(), quickRetry, func(attempt int, err error) {
		assert.ErrorIs(t, err, ErrEmptyResponse)
		seen = append(seen, attempt)
	}, fn)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestWithRetry_TurnCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	slow := RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour}

	calls := 0
	err := WithRetry(ctx, slow, func(int, error) { cancel() }, func() error {
		calls++
		return errors.New("connection reset")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestCalculateBackoff_Bounds(t *testing.T) {
	t.Parallel()

	assert.Zero(t, CalculateBackoff(0, time.Second, time.Minute), "the first call never waits")
	assert.Zero(t, CalculateBackoff(3, 0, time.Minute))
	for range 20 {
		assert.LessOrEqual(t, CalculateBackoff(1, 2*time.Second, time.Minute), 2*time.Second)
		assert.LessOrEqual(t, CalculateBackoff(8, 2*time.Second, 20*time.Second), 20*time.Second, "capped by the max delay")
	}
}

func TestSleep_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), 0))
}

func TestHasSufficientBudget(t *testing.T) {
	t.Parallel()

	assert.True(t, HasSufficientBudget(context.Background(), time.Hour), "no deadline")
	assert.Zero(t, RemainingBudget(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	assert.True(t, HasSufficientBudget(ctx, minCallBudget))
	assert.False(t, HasSufficientBudget(ctx, time.Hour))
	assert.InDelta(t, time.Minute, RemainingBudget(ctx), float64(time.Second))
}
