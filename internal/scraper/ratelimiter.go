package scraper

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/garyellow/degree-advisor/internal/metrics"
	"github.com/garyellow/degree-advisor/internal/ratelimit"
)

// refillWindow is how long the bucket takes to refill from empty.
const refillWindow = 15 * time.Second

// RateLimiter throttles page fetches: a token bucket sized to the worker
// count, plus a random politeness delay before every request.
type RateLimiter struct {
	bucket   *ratelimit.Limiter
	minDelay time.Duration
	maxDelay time.Duration
	metrics  *metrics.Metrics
}

// NewRateLimiter creates a limiter allowing workers requests per refill window.
func NewRateLimiter(workers int, minDelay, maxDelay time.Duration) *RateLimiter {
	if workers < 1 {
		workers = 1
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &RateLimiter{
		bucket:   ratelimit.New(float64(workers), float64(workers)/refillWindow.Seconds()),
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

// Wait blocks until a token is available and the politeness delay elapsed.
func (r *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := r.bucket.Wait(ctx); err != nil {
		if r.metrics != nil {
			r.metrics.RecordRateLimiterDrop("scraper")
		}
		return err
	}
	if err := Sleep(ctx, r.randomDelay()); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.RecordRateLimiterWait("scraper", time.Since(start).Seconds())
	}
	return nil
}

func (r *RateLimiter) randomDelay() time.Duration {
	if r.maxDelay <= r.minDelay {
		return r.minDelay
	}
	return r.minDelay + rand.N(r.maxDelay-r.minDelay+1) //nolint:gosec // jitter, not security
}
