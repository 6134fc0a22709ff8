package ratelimit

import (
	"sync"
	"time"

	"github.com/garyellow/degree-advisor/internal/metrics"
)

const defaultCleanupPeriod = 5 * time.Minute

// KeyedConfig configures a KeyedLimiter instance.
type KeyedConfig struct {
	// Name identifies this limiter in metrics, e.g. "turn" or "session".
	Name string

	// Token bucket settings.
	Burst      float64 // maximum tokens
	RefillRate float64 // tokens per second

	// Optional rolling quota on top of the bucket (WindowLimit 0 = disabled).
	WindowLimit int
	Window      time.Duration

	// How often idle keys are forgotten. Defaults to 5 minutes.
	CleanupPeriod time.Duration

	Metrics *metrics.Metrics
}

// KeyedLimiter keeps one limiter per key (a session ID or a client address)
// and forgets keys that have gone idle.
type KeyedLimiter struct {
	mu      sync.RWMutex
	entries map[string]*keyedEntry
	config  KeyedConfig
	stopCh  chan struct{}
	once    sync.Once
}

// keyedEntry holds the per-key state. Its mutex makes the two-layer
// check-then-consume atomic.
type keyedEntry struct {
	mu      sync.Mutex
	limiter *Limiter
	window  *SlidingWindowCounter
}

// NewKeyedLimiter creates a per-key limiter and starts its cleanup loop.
// Call Stop when done.
//
//	turns := ratelimit.NewKeyedLimiter(ratelimit.KeyedConfig{
//	    Name:       "turn",
//	    Burst:      6,
//	    RefillRate: 0.2, // one turn every 5 seconds
//	})
//	defer turns.Stop()
func NewKeyedLimiter(cfg KeyedConfig) *KeyedLimiter {
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = defaultCleanupPeriod
	}
	kl := &KeyedLimiter{
		entries: make(map[string]*keyedEntry),
		config:  cfg,
		stopCh:  make(chan struct{}),
	}
	go kl.cleanupLoop()
	return kl
}

// Allow reports whether a request for key may proceed, consuming from both
// the bucket and the rolling quota when it does. An empty key is never
// limited.
func (kl *KeyedLimiter) Allow(key string) bool {
	if key == "" {
		return true
	}

	entry := kl.getOrCreateEntry(key)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.window.Check() || !entry.limiter.Check() {
		if kl.config.Metrics != nil {
			kl.config.Metrics.RecordRateLimiterDrop(kl.config.Name)
		}
		return false
	}

	entry.window.Consume()
	entry.limiter.Consume()
	return true
}

// RetryAfter returns how long a rejected key should wait before its bucket
// has a token again. Unknown keys return zero.
func (kl *KeyedLimiter) RetryAfter(key string) time.Duration {
	kl.mu.RLock()
	entry, exists := kl.entries[key]
	kl.mu.RUnlock()

	if !exists {
		return 0
	}
	return entry.limiter.RetryAfter()
}

func (kl *KeyedLimiter) getOrCreateEntry(key string) *keyedEntry {
	kl.mu.RLock()
	entry, exists := kl.entries[key]
	kl.mu.RUnlock()

	if exists {
		return entry
	}

	kl.mu.Lock()
	defer kl.mu.Unlock()

	if entry, exists = kl.entries[key]; exists {
		return entry
	}

	entry = &keyedEntry{
		limiter: New(kl.config.Burst, kl.config.RefillRate),
		window:  NewSlidingWindowCounter(kl.config.WindowLimit, kl.config.Window),
	}
	kl.entries[key] = entry
	return entry
}

// Available returns the tokens left for key, or Burst for unknown keys.
func (kl *KeyedLimiter) Available(key string) float64 {
	kl.mu.RLock()
	entry, exists := kl.entries[key]
	kl.mu.RUnlock()

	if !exists {
		return kl.config.Burst
	}
	return entry.limiter.Available()
}

// WindowRemaining returns the rolling quota left for key, or -1 when the
// quota is disabled.
func (kl *KeyedLimiter) WindowRemaining(key string) int {
	if kl.config.WindowLimit <= 0 {
		return -1
	}

	kl.mu.RLock()
	entry, exists := kl.entries[key]
	kl.mu.RUnlock()

	if !exists {
		return kl.config.WindowLimit
	}
	return entry.window.Remaining()
}

// Forget drops the state for key, e.g. when its session ends.
func (kl *KeyedLimiter) Forget(key string) {
	kl.mu.Lock()
	delete(kl.entries, key)
	count := len(kl.entries)
	kl.mu.Unlock()

	kl.reportKeys(count)
}

// ActiveCount returns the number of tracked keys.
func (kl *KeyedLimiter) ActiveCount() int {
	kl.mu.RLock()
	defer kl.mu.RUnlock()
	return len(kl.entries)
}

func (kl *KeyedLimiter) cleanupLoop() {
	ticker := time.NewTicker(kl.config.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-kl.stopCh:
			return
		case <-ticker.C:
			kl.reportKeys(kl.sweep())
		}
	}
}

// sweep removes keys whose bucket is full and whose quota is unused.
func (kl *KeyedLimiter) sweep() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	for key, entry := range kl.entries {
		if entry.limiter.IsFull() && entry.window.IsIdle() {
			delete(kl.entries, key)
		}
	}
	return len(kl.entries)
}

func (kl *KeyedLimiter) reportKeys(count int) {
	if kl.config.Metrics != nil {
		kl.config.Metrics.SetRateLimiterKeys(kl.config.Name, count)
	}
}

// Stop ends the cleanup loop. Safe to call more than once.
func (kl *KeyedLimiter) Stop() {
	kl.once.Do(func() { close(kl.stopCh) })
}
