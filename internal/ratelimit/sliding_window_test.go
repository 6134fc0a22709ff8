package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewSlidingWindowCounter(t *testing.T) {
	t.Parallel()
	if NewSlidingWindowCounter(0, time.Hour) != nil {
		t.Error("expected nil for maxRequests <= 0")
	}
	if NewSlidingWindowCounter(10, 0) != nil {
		t.Error("expected nil for a zero window")
	}
	if NewSlidingWindowCounter(10, time.Hour) == nil {
		t.Error("expected non-nil counter")
	}
}

func TestSlidingWindowCounter_NilIsDisabled(t *testing.T) {
	t.Parallel()
	var swc *SlidingWindowCounter
	if !swc.Allow() || !swc.Check() || !swc.IsIdle() {
		t.Error("nil counter must allow everything")
	}
	swc.Consume()
	if swc.Remaining() != -1 {
		t.Errorf("Remaining() = %d, want -1", swc.Remaining())
	}
}

func TestSlidingWindowCounter_Allow(t *testing.T) {
	t.Parallel()
	swc := NewSlidingWindowCounter(5, time.Hour)

	for i := range 5 {
		if !swc.Allow() {
			t.Errorf("Allow() failed at request %d", i+1)
		}
	}
	if swc.Allow() {
		t.Error("Allow() passed when limit exceeded")
	}
}

func TestSlidingWindowCounter_Weighting(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	swc := newSlidingWindowCounter(10, time.Hour, clock.Now)

	for range 10 {
		swc.Allow()
	}
	if swc.Allow() {
		t.Fatal("should be limited")
	}

	// 1.5 windows later half of the previous window still counts.
	clock.Advance(90 * time.Minute)
	if got := swc.EffectiveCount(); got != 5 {
		t.Errorf("EffectiveCount() = %v, want 5", got)
	}
	if got := swc.Remaining(); got != 5 {
		t.Errorf("Remaining() = %d, want 5", got)
	}
	if swc.IsIdle() {
		t.Error("IsIdle() = true while the previous window has requests")
	}

	// Three windows later nothing counts.
	clock.Advance(3 * time.Hour)
	if got := swc.EffectiveCount(); got != 0 {
		t.Errorf("EffectiveCount() after long gap = %v, want 0", got)
	}
	if !swc.IsIdle() {
		t.Error("IsIdle() = false after a long gap")
	}
}

func TestSlidingWindowCounter_CheckConsume(t *testing.T) {
	t.Parallel()
	swc := NewSlidingWindowCounter(1, time.Minute)

	if !swc.Check() {
		t.Error("Check() should return true for empty counter")
	}
	swc.Consume()
	if swc.Check() {
		t.Error("Check() should return false after limit reached")
	}
	swc.Consume()
	if got := swc.EffectiveCount(); got != 1 {
		t.Errorf("Consume past the limit counted: %v", got)
	}
}

func TestSlidingWindowCounter_Concurrency(t *testing.T) {
	t.Parallel()
	limit := 100
	swc := NewSlidingWindowCounter(limit, time.Hour)

	var wg sync.WaitGroup
	var successCount atomic.Int32
	for range 200 {
		wg.Go(func() {
			if swc.Allow() {
				successCount.Add(1)
			}
		})
	}
	wg.Wait()

	if got := int(successCount.Load()); got != limit {
		t.Errorf("Allowed %d requests concurrently, want %d", got, limit)
	}
}
