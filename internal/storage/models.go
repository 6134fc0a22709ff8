package storage

import (
	"time"

	"github.com/garyellow/degree-advisor/internal/catalog"
)

// VectorSet describes one cached embedding of a catalog version.
type VectorSet struct {
	CatalogVersion string    `json:"catalog_version"`
	Model          string    `json:"model"`
	Dims           int       `json:"dims"`
	Count          int       `json:"count"`
	BuiltAt        time.Time `json:"built_at"`
}

// CourseVector is the embedding of the course at a catalog position.
type CourseVector struct {
	Position int
	CourseID string
	Vector   []float32
}

// StoredEnrichment is an enrichment as persisted for a course.
type StoredEnrichment struct {
	CourseID   string              `json:"course_id"`
	SourceURL  string              `json:"source_url"`
	Enrichment *catalog.Enrichment `json:"enrichment"`
	CachedAt   int64               `json:"cached_at"`
}
