package scraper

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestURLCache_MarkAndExpire(t *testing.T) {
	cache := NewURLCache(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	url := "https://example.edu/bdes-animation"
	if cache.RecentlyFailed(url) {
		t.Fatal("unknown URL should not be marked as failed")
	}

	cache.MarkFailed(url)
	if !cache.RecentlyFailed(url) {
		t.Error("URL should be marked as failed right after MarkFailed")
	}

	now = now.Add(59 * time.Second)
	if !cache.RecentlyFailed(url) {
		t.Error("URL should still be failing inside the ttl")
	}

	now = now.Add(2 * time.Second)
	if cache.RecentlyFailed(url) {
		t.Error("URL should expire after the ttl")
	}
}

func TestURLCache_SweepOnMark(t *testing.T) {
	cache := NewURLCache(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.MarkFailed("a")
	cache.MarkFailed("b")
	now = now.Add(2 * time.Minute)
	cache.MarkFailed("c")

	if got := cache.Len(); got != 1 {
		t.Errorf("expired entries should be swept, Len() = %d", got)
	}
}

func TestURLCache_Clear(t *testing.T) {
	cache := NewURLCache(0)
	if cache.ttl != DefaultFailureTTL {
		t.Errorf("ttl <= 0 should use default, got %v", cache.ttl)
	}

	cache.MarkFailed("x")
	cache.Clear("x")
	if cache.RecentlyFailed("x") {
		t.Error("Clear should remove the failure")
	}
}

func TestURLCache_ConcurrentAccess(t *testing.T) {
	cache := NewURLCache(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			cache.MarkFailed(fmt.Sprintf("https://example.edu/%d", n%5))
		}(i)
		go func(n int) {
			defer wg.Done()
			_ = cache.RecentlyFailed(fmt.Sprintf("https://example.edu/%d", n%5))
		}(i)
	}
	wg.Wait()

	if got := cache.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5", got)
	}
}
