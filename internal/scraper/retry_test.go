package scraper

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pageFailures returns fn failing with errs in order, then succeeding.
func pageFailures(errs ...error) (fn func() error, calls *int) {
	calls = new(int)
	return func() error {
		*calls++
		if *calls <= len(errs) {
			return errs[*calls-1]
		}
		return nil
	}, calls
}

func TestRetryWithBackoff_CoursePageFailures(t *testing.T) {
	t.Parallel()

	reset := errors.New("read tcp: connection reset by peer")
	gone := errors.New("course page: status 410")
	busy := &retryAfterError{err: errors.New("course page: status 429"), after: time.Millisecond}

	tests := []struct {
		name       string
		maxRetries int
		errs       []error
		wantErr    error
		wantCalls  int
	}{
		{"flaky host recovers", 2, []error{reset, reset}, nil, 3},
		{"flaky host exhausts retries", 2, []error{reset, reset, reset}, reset, 3},
		{"no retries configured", 0, []error{reset}, reset, 1},
		{"removed page is not retried", 4, []error{&permanentError{err: gone}}, gone, 1},
		{"wrapped permanent failure is not retried", 4, []error{fmt.Errorf("fetch: %w", &permanentError{err: gone})}, gone, 1},
		{"rate limited host recovers", 1, []error{busy}, nil, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fn, calls := pageFailures(tt.errs...)
			err := RetryWithBackoff(context.Background(), tt.maxRetries, time.Millisecond, fn)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.wantCalls, *calls)
		})
	}
}

func TestRetryWithBackoff_PermanentFailureIsUnwrapped(t *testing.T) {
	t.Parallel()

	notFound := errors.New("course page: status 404")
	fn, _ := pageFailures(&permanentError{err: notFound})
	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, fn)

	var perm *permanentError
	assert.False(t, errors.As(err, &perm), "callers see the page error, not the marker")
	assert.Equal(t, notFound, err)
}

func TestRetryWithBackoff_TurnCanceledBetweenAttempts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryWithBackoff(ctx, 5, time.Hour, func() error {
		calls++
		cancel()
		return errors.New("connection reset")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "no attempt after the turn is gone")
}

func TestRetryWithBackoff_RetryAfterStretchesDelay(t *testing.T) {
	t.Parallel()

	var stamps []time.Time
	_ = RetryWithBackoff(context.Background(), 1, time.Millisecond, func() error {
		stamps = append(stamps, time.Now())
		return &retryAfterError{err: errors.New("course page: status 429"), after: 60 * time.Millisecond}
	})

	require.Len(t, stamps, 2)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 50*time.Millisecond)
}

func TestBackoffDelay_JitterWindow(t *testing.T) {
	t.Parallel()

	for range 50 {
		d := backoffDelay(2, 100*time.Millisecond)
		assert.GreaterOrEqual(t, d, 300*time.Millisecond)
		assert.Less(t, d, 500*time.Millisecond)

		capped := backoffDelay(30, time.Second)
		assert.GreaterOrEqual(t, capped, maxBackoff*3/4)
		assert.Less(t, capped, maxBackoff*5/4)
	}
}

func TestSleep(t *testing.T) {
	t.Parallel()

	start := time.Now()
	require.NoError(t, Sleep(context.Background(), 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start = time.Now()
	assert.ErrorIs(t, Sleep(ctx, time.Second), context.Canceled)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled, "a zero wait still reports a dead turn")
}
