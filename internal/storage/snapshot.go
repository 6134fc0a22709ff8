package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// ImportStats reports what ImportSnapshot copied.
type ImportStats struct {
	Vectors     int64
	Enrichments int64
}

// CreateSnapshot writes a consistent, compacted copy of the database to
// path. path must not exist.
func (db *DB) CreateSnapshot(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("create snapshot: %s already exists", path)
	}
	if _, err := db.Writer().ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	return nil
}

// ImportSnapshot copies the (version, model) vector set from the database
// file at srcPath, replacing any local copy, and adds enrichments the local
// database does not have yet. Local enrichments always win.
func (db *DB) ImportSnapshot(ctx context.Context, srcPath, version, model string) (ImportStats, error) {
	var stats ImportStats
	start := time.Now()

	// ATTACH is per connection, so pin one for the whole import.
	conn, err := db.Writer().Conn(ctx)
	if err != nil {
		return stats, fmt.Errorf("import snapshot: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `ATTACH DATABASE ? AS snap`, srcPath); err != nil {
		return stats, fmt.Errorf("import snapshot: attach: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), `DETACH DATABASE snap`); err != nil {
			slog.WarnContext(ctx, "failed to detach snapshot", "error", err)
		}
	}()

	var count int
	err = conn.QueryRowContext(ctx,
		`SELECT count FROM snap.vector_sets WHERE catalog_version = ? AND model = ? AND complete = 1`,
		version, model).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, fmt.Errorf("import snapshot: no complete vector set %s/%s", version, model)
	}
	if err != nil {
		return stats, fmt.Errorf("import snapshot: %w", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("import snapshot: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM main.vector_sets WHERE catalog_version = ? AND model = ?`, version, model); err != nil {
		return stats, fmt.Errorf("import snapshot: clear: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO main.vector_sets (catalog_version, model, dims, count, complete, built_at)
		SELECT catalog_version, model, dims, count, complete, built_at FROM snap.vector_sets
		WHERE catalog_version = ? AND model = ?`, version, model); err != nil {
		return stats, fmt.Errorf("import snapshot: vector set: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO main.course_vectors (catalog_version, model, position, course_id, vector, updated_at)
		SELECT catalog_version, model, position, course_id, vector, updated_at FROM snap.course_vectors
		WHERE catalog_version = ? AND model = ?`, version, model)
	if err != nil {
		return stats, fmt.Errorf("import snapshot: vectors: %w", err)
	}
	stats.Vectors, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO main.enrichments (course_id, source_url, payload, fetched_at, cached_at)
		SELECT course_id, source_url, payload, fetched_at, cached_at FROM snap.enrichments`)
	if err != nil {
		return stats, fmt.Errorf("import snapshot: enrichments: %w", err)
	}
	stats.Enrichments, _ = res.RowsAffected()

	if int(stats.Vectors) != count {
		return stats, fmt.Errorf("import snapshot: copied %d vectors, want %d", stats.Vectors, count)
	}
	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("import snapshot: commit: %w", err)
	}

	slog.InfoContext(ctx, "snapshot imported",
		"catalog_version", version,
		"model", model,
		"vectors", stats.Vectors,
		"enrichments", stats.Enrichments,
		"duration_ms", time.Since(start).Milliseconds())
	return stats, nil
}
