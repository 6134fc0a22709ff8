package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/garyellow/degree-advisor/internal/catalog"
	apperrors "github.com/garyellow/degree-advisor/internal/errors"
)

// Enrichment outcomes reported to metrics.
const (
	EnrichApplied    = "applied"
	EnrichCached     = "cached"
	EnrichFetchError = "fetch_error"
	EnrichEmbedError = "embed_error"
	EnrichEmpty      = "empty"
)

// EnrichmentRecorder publishes enrichments fetched by this instance so the
// next indexer run can fold them into the shared snapshot.
type EnrichmentRecorder interface {
	RecordEnrichment(ctx context.Context, courseID, sourceURL string, e *catalog.Enrichment) error
}

// resolveCourse returns the current record for a course the student asked
// about, fetching its detail page first when nothing is known beyond the
// catalog entry. Any failure falls back to the record as it is.
func (a *Advisor) resolveCourse(ctx context.Context, eng *Engine, rec catalog.CourseRecord) catalog.CourseRecord {
	current, ok := eng.Matcher.Record(rec.ID)
	if !ok {
		return rec
	}
	if !current.Enrichment.IsEmpty() {
		a.recordEnrichment(EnrichCached)
		return current
	}
	if a.fetcher == nil || current.SourceURL == "" {
		return current
	}

	enriched, status, err := a.enrich(ctx, eng, current)
	a.recordEnrichment(status)
	if err != nil {
		slog.WarnContext(ctx, "Course enrichment failed",
			"course_id", current.ID,
			"url", current.SourceURL,
			"status", status,
			"error", err)
	}
	return enriched
}

// EnrichCourse fetches the page at sourceURL and attaches its details to
// the catalog course published at that URL.
func (a *Advisor) EnrichCourse(ctx context.Context, sourceURL string) (catalog.CourseRecord, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return catalog.CourseRecord{}, apperrors.NewValidationError("source_url", "required")
	}
	if a.fetcher == nil {
		return catalog.CourseRecord{}, fmt.Errorf("%w: no course page fetcher", apperrors.ErrBackendUnavailable)
	}

	eng := a.Engine()
	rec, ok := eng.Catalog.FindBySourceURL(sourceURL)
	if !ok {
		return catalog.CourseRecord{}, fmt.Errorf("course at %s: %w", sourceURL, apperrors.ErrNotFound)
	}
	current, _ := eng.Matcher.Record(rec.ID)

	enriched, status, err := a.enrich(ctx, eng, current)
	a.recordEnrichment(status)
	if err != nil && status != EnrichEmbedError {
		return current, err
	}
	if err != nil {
		slog.WarnContext(ctx, "Enrichment stored without a fresh vector", "course_id", rec.ID, "error", err)
	}
	return enriched, nil
}

// enrich fetches rec's page, applies the result to the matcher and writes
// it through to the store. The returned record carries the enrichment
// whenever the fetch produced one, even if re-embedding failed.
func (a *Advisor) enrich(ctx context.Context, eng *Engine, rec catalog.CourseRecord) (catalog.CourseRecord, string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, a.opts.FetchTimeout)
	e, err := a.fetcher.FetchCourseDetail(fetchCtx, rec.SourceURL)
	cancel()
	if err != nil {
		return rec, EnrichFetchError, fmt.Errorf("%w: %w", apperrors.ErrContentFetch, err)
	}
	if e.IsEmpty() {
		return rec, EnrichEmpty, nil
	}

	updated, applyErr := eng.Matcher.ApplyEnrichment(ctx, rec.ID, e)
	a.persist(ctx, eng, rec, e, applyErr == nil)
	if applyErr != nil {
		return rec.WithEnrichment(e), EnrichEmbedError, applyErr
	}
	return updated, EnrichApplied, nil
}

// persist writes an enrichment and, when the index slot was refreshed, the
// course's new vector. Failures only cost a refetch later.
func (a *Advisor) persist(ctx context.Context, eng *Engine, rec catalog.CourseRecord, e *catalog.Enrichment, slotUpdated bool) {
	if a.deltas != nil {
		if err := a.deltas.RecordEnrichment(ctx, rec.ID, rec.SourceURL, e); err != nil {
			slog.WarnContext(ctx, "Failed to record enrichment delta", "course_id", rec.ID, "error", err)
		}
	}
	if a.store == nil {
		return
	}
	if err := a.store.SaveEnrichment(ctx, rec.ID, rec.SourceURL, e); err != nil {
		slog.WarnContext(ctx, "Failed to store enrichment", "course_id", rec.ID, "error", err)
		return
	}

	index := eng.Matcher.Index()
	if !slotUpdated || !index.Ready() {
		return
	}
	pos := eng.Catalog.Position(rec.ID)
	if err := a.store.UpdateCourseVector(ctx, eng.Version(), index.Model(), pos, rec.ID, index.Vector(pos)); err != nil {
		slog.WarnContext(ctx, "Failed to store course vector", "course_id", rec.ID, "error", err)
	}
}

func (a *Advisor) recordEnrichment(status string) {
	if a.metrics != nil {
		a.metrics.RecordEnrichment(status)
	}
}
