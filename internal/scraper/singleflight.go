package scraper

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/metrics"
)

// FetchGroup collapses concurrent fetches of the same course page into one
// request. Every waiter receives the same *catalog.Enrichment, which callers
// must treat as read-only.
type FetchGroup struct {
	group   singleflight.Group
	metrics *metrics.Metrics
}

// NewFetchGroup creates a new fetch group. m may be nil.
func NewFetchGroup(m *metrics.Metrics) *FetchGroup {
	return &FetchGroup{metrics: m}
}

// Do executes fn once per key among concurrent callers.
func (g *FetchGroup) Do(ctx context.Context, key string, fn func() (*catalog.Enrichment, error)) (*catalog.Enrichment, error) {
	v, err, shared := g.group.Do(key, func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn()
	})
	if shared && g.metrics != nil {
		g.metrics.RecordSingleflightDedup("scraper")
	}
	if err != nil {
		return nil, err
	}
	e, _ := v.(*catalog.Enrichment)
	return e, nil
}

// Forget removes a key from the group, allowing a new request to execute
func (g *FetchGroup) Forget(key string) {
	g.group.Forget(key)
}
