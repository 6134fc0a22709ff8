// Package storage is the sqlite cache behind the course matcher: embedded
// course vectors keyed by catalog version and embedding model, and fetched
// course enrichments keyed by course id. Everything in it can be rebuilt
// from the catalog and the course pages.
package storage

import (
	"context"

	"github.com/garyellow/degree-advisor/internal/catalog"
)

// VectorCache persists embedded vector sets.
type VectorCache interface {
	LoadVectorSet(ctx context.Context, version, model string) ([][]float32, error)
	SaveVectorSet(ctx context.Context, version, model string, ids []string, vectors [][]float32) error
	UpdateCourseVector(ctx context.Context, version, model string, pos int, courseID string, vec []float32) error
}

// EnrichmentStore persists course enrichments.
type EnrichmentStore interface {
	SaveEnrichment(ctx context.Context, courseID, sourceURL string, e *catalog.Enrichment) error
	LoadEnrichments(ctx context.Context) (map[string]*catalog.Enrichment, error)
}

var (
	_ VectorCache     = (*DB)(nil)
	_ EnrichmentStore = (*DB)(nil)
)
