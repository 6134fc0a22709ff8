package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// InitSchema creates all necessary tables and indexes.
// WAL mode is configured per connection in db.go.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if err := createVectorSetsTable(ctx, db); err != nil {
		return err
	}
	if err := createCourseVectorsTable(ctx, db); err != nil {
		return err
	}
	return createEnrichmentsTable(ctx, db)
}

// createVectorSetsTable stores one row per embedded catalog version and
// embedding model. A set is only usable once complete = 1.
func createVectorSetsTable(ctx context.Context, db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS vector_sets (
		catalog_version TEXT NOT NULL,
		model TEXT NOT NULL,
		dims INTEGER NOT NULL,
		count INTEGER NOT NULL,
		complete INTEGER NOT NULL DEFAULT 0,
		built_at INTEGER NOT NULL,
		PRIMARY KEY (catalog_version, model)
	);
	CREATE INDEX IF NOT EXISTS idx_vector_sets_built_at ON vector_sets(built_at);
	`

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create vector_sets table: %w", err)
	}
	return nil
}

// createCourseVectorsTable stores zstd-compressed little-endian float32
// vectors by catalog position.
func createCourseVectorsTable(ctx context.Context, db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS course_vectors (
		catalog_version TEXT NOT NULL,
		model TEXT NOT NULL,
		position INTEGER NOT NULL,
		course_id TEXT NOT NULL,
		vector BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (catalog_version, model, position),
		FOREIGN KEY (catalog_version, model) REFERENCES vector_sets(catalog_version, model) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_course_vectors_course_id ON course_vectors(course_id);
	`

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create course_vectors table: %w", err)
	}
	return nil
}

func createEnrichmentsTable(ctx context.Context, db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS enrichments (
		course_id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL,
		payload TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		cached_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_enrichments_source_url ON enrichments(source_url);
	`

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create enrichments table: %w", err)
	}
	return nil
}
