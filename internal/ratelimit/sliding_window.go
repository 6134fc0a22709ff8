package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindowCounter limits requests over a rolling window using two fixed
// windows and a weighted average:
//
//	effective = currCount + prevCount × (time left in current window / window)
//
// With a 1h window and a limit of 30 sessions, a client that opened 20
// sessions in the previous hour and is 15 minutes into the current one
// counts as currCount + 15, leaving roughly 15 more.
//
// A nil counter is disabled and allows everything.
type SlidingWindowCounter struct {
	mu              sync.Mutex
	currCount       int
	prevCount       int
	currWindowStart time.Time
	windowDuration  time.Duration
	maxRequests     int
	now             func() time.Time
}

// NewSlidingWindowCounter creates a counter allowing maxRequests per window.
// It returns nil (disabled) when maxRequests <= 0.
func NewSlidingWindowCounter(maxRequests int, window time.Duration) *SlidingWindowCounter {
	return newSlidingWindowCounter(maxRequests, window, time.Now)
}

func newSlidingWindowCounter(maxRequests int, window time.Duration, now func() time.Time) *SlidingWindowCounter {
	if maxRequests <= 0 || window <= 0 {
		return nil
	}
	return &SlidingWindowCounter{
		currWindowStart: now(),
		windowDuration:  window,
		maxRequests:     maxRequests,
		now:             now,
	}
}

// Allow counts a request if the window has room for it.
func (swc *SlidingWindowCounter) Allow() bool {
	if swc == nil {
		return true
	}

	swc.mu.Lock()
	defer swc.mu.Unlock()

	now := swc.now()
	swc.rotate(now)
	if swc.weightedCount(now) >= float64(swc.maxRequests) {
		return false
	}
	swc.currCount++
	return true
}

// Check reports whether a request would be allowed without counting it.
func (swc *SlidingWindowCounter) Check() bool {
	if swc == nil {
		return true
	}

	swc.mu.Lock()
	defer swc.mu.Unlock()

	now := swc.now()
	swc.rotate(now)
	return swc.weightedCount(now) < float64(swc.maxRequests)
}

// Consume counts a request after a successful Check.
func (swc *SlidingWindowCounter) Consume() {
	if swc == nil {
		return
	}

	swc.mu.Lock()
	defer swc.mu.Unlock()

	now := swc.now()
	swc.rotate(now)
	if swc.weightedCount(now) < float64(swc.maxRequests) {
		swc.currCount++
	}
}

// rotate moves to the window containing now. Must be called with mu held.
func (swc *SlidingWindowCounter) rotate(now time.Time) {
	elapsed := now.Sub(swc.currWindowStart)
	if elapsed < swc.windowDuration {
		return
	}

	windowsPassed := int(elapsed / swc.windowDuration)
	if windowsPassed == 1 {
		swc.prevCount = swc.currCount
	} else {
		swc.prevCount = 0
	}
	swc.currCount = 0
	swc.currWindowStart = swc.currWindowStart.Add(time.Duration(windowsPassed) * swc.windowDuration)
}

// weightedCount must be called with mu held, after rotate.
func (swc *SlidingWindowCounter) weightedCount(now time.Time) float64 {
	elapsed := now.Sub(swc.currWindowStart)
	overlap := float64(swc.windowDuration-elapsed) / float64(swc.windowDuration)
	overlap = min(max(overlap, 0), 1)
	return float64(swc.currCount) + float64(swc.prevCount)*overlap
}

// EffectiveCount returns the current weighted count.
func (swc *SlidingWindowCounter) EffectiveCount() float64 {
	if swc == nil {
		return 0
	}

	swc.mu.Lock()
	defer swc.mu.Unlock()

	now := swc.now()
	swc.rotate(now)
	return swc.weightedCount(now)
}

// Remaining returns the approximate remaining quota, or -1 when disabled.
func (swc *SlidingWindowCounter) Remaining() int {
	if swc == nil {
		return -1
	}

	swc.mu.Lock()
	defer swc.mu.Unlock()

	now := swc.now()
	swc.rotate(now)
	return max(int(float64(swc.maxRequests)-swc.weightedCount(now)), 0)
}

// IsIdle reports whether neither window holds any requests.
func (swc *SlidingWindowCounter) IsIdle() bool {
	if swc == nil {
		return true
	}

	swc.mu.Lock()
	defer swc.mu.Unlock()

	swc.rotate(swc.now())
	return swc.currCount == 0 && swc.prevCount == 0
}
