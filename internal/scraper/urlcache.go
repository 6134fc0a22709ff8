package scraper

import (
	"sync"
	"time"
)

// DefaultFailureTTL is how long a failed course page is skipped.
const DefaultFailureTTL = 10 * time.Minute

// URLCache remembers course pages that recently failed to fetch, so a
// student asking about the same course twice does not wait out a second
// timeout. Entries expire after ttl.
type URLCache struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	failing map[string]time.Time
}

// NewURLCache creates a failure cache. ttl <= 0 uses DefaultFailureTTL.
func NewURLCache(ttl time.Duration) *URLCache {
	if ttl <= 0 {
		ttl = DefaultFailureTTL
	}
	return &URLCache{
		ttl:     ttl,
		now:     time.Now,
		failing: make(map[string]time.Time),
	}
}

// MarkFailed records a fetch failure for url.
func (c *URLCache) MarkFailed(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.failing[url] = now
	// Opportunistic sweep keeps the map bounded by recent failures.
	for u, at := range c.failing {
		if now.Sub(at) >= c.ttl {
			delete(c.failing, u)
		}
	}
}

// RecentlyFailed reports whether url failed within the ttl.
func (c *URLCache) RecentlyFailed(url string) bool {
	c.mu.RLock()
	at, ok := c.failing[url]
	c.mu.RUnlock()
	return ok && c.now().Sub(at) < c.ttl
}

// Clear removes url, allowing the next fetch to go through.
func (c *URLCache) Clear(url string) {
	c.mu.Lock()
	delete(c.failing, url)
	c.mu.Unlock()
}

// Len returns the number of tracked failures, including expired ones not yet swept.
func (c *URLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.failing)
}
