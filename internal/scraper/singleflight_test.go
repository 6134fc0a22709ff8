package scraper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/metrics"
)

func TestFetchGroupSingleExecution(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	group := NewFetchGroup(m)
	ctx := context.Background()

	var execCount int32
	want := &catalog.Enrichment{Description: "A four year programme."}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			got, err := group.Do(ctx, "https://example.edu/btech", func() (*catalog.Enrichment, error) {
				atomic.AddInt32(&execCount, 1)
				time.Sleep(100 * time.Millisecond)
				return want, nil
			})
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if got != want {
				t.Errorf("Expected shared result, got %v", got)
			}
		}()
	}
	wg.Wait()

	if execCount != 1 {
		t.Errorf("Expected function to execute once, but executed %d times", execCount)
	}
	if dedup := testutil.ToFloat64(m.SingleflightDedupTotal.WithLabelValues("scraper")); dedup < 1 {
		t.Errorf("Expected dedup metric to be recorded, got %v", dedup)
	}
}

func TestFetchGroupDifferentKeys(t *testing.T) {
	group := NewFetchGroup(nil)
	ctx := context.Background()

	var execCount int32
	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			_, _ = group.Do(ctx, k, func() (*catalog.Enrichment, error) {
				atomic.AddInt32(&execCount, 1)
				time.Sleep(20 * time.Millisecond)
				return &catalog.Enrichment{Title: k}, nil
			})
		}(key)
	}
	wg.Wait()

	if execCount != 3 {
		t.Errorf("Expected 3 executions for distinct keys, got %d", execCount)
	}
}

func TestFetchGroupError(t *testing.T) {
	group := NewFetchGroup(nil)
	boom := errors.New("fetch failed")

	got, err := group.Do(context.Background(), "k", func() (*catalog.Enrichment, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected %v, got %v", boom, err)
	}
	if got != nil {
		t.Errorf("Expected nil result on error, got %v", got)
	}
}

func TestFetchGroupContextCanceled(t *testing.T) {
	group := NewFetchGroup(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := group.Do(ctx, "k", func() (*catalog.Enrichment, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("fn should not run with a canceled context")
	}
}

func TestFetchGroupForget(t *testing.T) {
	group := NewFetchGroup(nil)
	ctx := context.Background()
	var execCount int32

	run := func() {
		_, _ = group.Do(ctx, "k", func() (*catalog.Enrichment, error) {
			atomic.AddInt32(&execCount, 1)
			return &catalog.Enrichment{}, nil
		})
	}
	run()
	group.Forget("k")
	run()

	if execCount != 2 {
		t.Errorf("Expected 2 executions after Forget, got %d", execCount)
	}
}
