package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/garyellow/degree-advisor/internal/catalog"
	apperrors "github.com/garyellow/degree-advisor/internal/errors"
	"github.com/garyellow/degree-advisor/internal/taxonomy"
)

// Fetcher retrieves and extracts course detail pages.
type Fetcher struct {
	client   *Client
	flight   *FetchGroup
	failures *URLCache
	subjects []taxonomy.PageSubject
	now      func() time.Time
}

// NewFetcher creates a Fetcher using vocab's page subjects.
func NewFetcher(client *Client, vocab *taxonomy.Vocabulary) *Fetcher {
	return &Fetcher{
		client:   client,
		flight:   NewFetchGroup(client.metrics),
		failures: NewURLCache(DefaultFailureTTL),
		subjects: vocab.PageSubjects,
		now:      time.Now,
	}
}

// FetchCourseDetail downloads the course page at rawURL and extracts its
// facts. Concurrent calls for the same URL share one request. A page that
// failed within the last few minutes is not retried. The returned
// enrichment may be empty (see Enrichment.IsEmpty); it is shared between
// concurrent callers and must not be modified.
func (f *Fetcher) FetchCourseDetail(ctx context.Context, rawURL string) (*catalog.Enrichment, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperrors.NewValidationError("source_url", fmt.Sprintf("not an http(s) URL: %q", rawURL))
	}

	if f.failures.RecentlyFailed(rawURL) {
		return nil, apperrors.NewScraperError(rawURL, 0, fmt.Errorf("skipped: page failed recently"))
	}

	e, err := f.flight.Do(ctx, rawURL, func() (*catalog.Enrichment, error) {
		start := time.Now()
		doc, err := f.client.GetDocument(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		e := ExtractEnrichment(doc, f.subjects)
		e.FetchedAt = f.now().UTC()

		slog.DebugContext(ctx, "course page extracted",
			"url", rawURL,
			"title", e.Title,
			"curriculum", len(e.Curriculum),
			"subjects", len(e.Subjects),
			"empty", e.IsEmpty(),
			"duration_ms", time.Since(start).Milliseconds())
		return e, nil
	})
	if err != nil {
		if ctx.Err() == nil {
			f.failures.MarkFailed(rawURL)
		}
		return nil, err
	}
	return e, nil
}
