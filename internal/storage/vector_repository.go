package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/garyellow/degree-advisor/internal/errors"
)

// SaveVectorSet replaces the cached vectors for (version, model) in one
// transaction. vectors[i] belongs to catalog position i and course ids[i].
func (db *DB) SaveVectorSet(ctx context.Context, version, model string, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("save vector set: %d ids for %d vectors", len(ids), len(vectors))
	}
	if len(vectors) == 0 {
		return errors.New("save vector set: no vectors")
	}

	start := time.Now()
	now := start.Unix()

	tx, err := db.Writer().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vector_sets WHERE catalog_version = ? AND model = ?`, version, model); err != nil {
		return fmt.Errorf("clear vector set: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vector_sets (catalog_version, model, dims, count, complete, built_at) VALUES (?, ?, ?, ?, 0, ?)`,
		version, model, len(vectors[0]), len(vectors), now); err != nil {
		return fmt.Errorf("insert vector set: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO course_vectors (catalog_version, model, position, course_id, vector, updated_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare vector insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, vec := range vectors {
		if _, err := stmt.ExecContext(ctx, version, model, i, ids[i], encodeVector(vec), now); err != nil {
			return fmt.Errorf("insert vector %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE vector_sets SET complete = 1 WHERE catalog_version = ? AND model = ?`, version, model); err != nil {
		return fmt.Errorf("mark vector set complete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vector set: %w", err)
	}

	slog.DebugContext(ctx, "vector set saved",
		"catalog_version", version,
		"model", model,
		"count", len(vectors),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// LoadVectorSet returns the cached vectors for (version, model) ordered by
// catalog position, or nil when no complete set exists.
func (db *DB) LoadVectorSet(ctx context.Context, version, model string) ([][]float32, error) {
	var count int
	err := db.Reader().QueryRowContext(ctx,
		`SELECT count FROM vector_sets WHERE catalog_version = ? AND model = ? AND complete = 1`,
		version, model).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query vector set: %w", err)
	}

	rows, err := db.Reader().QueryContext(ctx,
		`SELECT position, vector FROM course_vectors WHERE catalog_version = ? AND model = ? ORDER BY position`,
		version, model)
	if err != nil {
		return nil, fmt.Errorf("query course vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	vectors := make([][]float32, 0, count)
	for rows.Next() {
		var pos int
		var blob []byte
		if err := rows.Scan(&pos, &blob); err != nil {
			return nil, fmt.Errorf("scan course vector: %w", err)
		}
		if pos != len(vectors) {
			return nil, fmt.Errorf("vector set %s/%s has a gap at position %d", version, model, len(vectors))
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", pos, err)
		}
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate course vectors: %w", err)
	}
	if len(vectors) != count {
		return nil, fmt.Errorf("vector set %s/%s has %d rows, want %d", version, model, len(vectors), count)
	}
	return vectors, nil
}

// UpdateCourseVector replaces one cached vector after a point-update.
// It returns ErrNotFound when the set or position is not cached.
func (db *DB) UpdateCourseVector(ctx context.Context, version, model string, pos int, courseID string, vec []float32) error {
	res, err := db.Writer().ExecContext(ctx,
		`UPDATE course_vectors SET vector = ?, course_id = ?, updated_at = ?
		 WHERE catalog_version = ? AND model = ? AND position = ?`,
		encodeVector(vec), courseID, time.Now().Unix(), version, model, pos)
	if err != nil {
		slog.ErrorContext(ctx, "failed to update course vector",
			"course_id", courseID,
			"error", err)
		return fmt.Errorf("update course vector: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("course vector %s/%s#%d: %w", version, model, pos, apperrors.ErrNotFound)
	}
	return nil
}

// ListVectorSets returns every complete vector set, newest first.
func (db *DB) ListVectorSets(ctx context.Context) ([]VectorSet, error) {
	rows, err := db.Reader().QueryContext(ctx,
		`SELECT catalog_version, model, dims, count, built_at FROM vector_sets WHERE complete = 1 ORDER BY built_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query vector sets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sets []VectorSet
	for rows.Next() {
		var s VectorSet
		var builtAt int64
		if err := rows.Scan(&s.CatalogVersion, &s.Model, &s.Dims, &s.Count, &builtAt); err != nil {
			return nil, fmt.Errorf("scan vector set: %w", err)
		}
		s.BuiltAt = time.Unix(builtAt, 0).UTC()
		sets = append(sets, s)
	}
	return sets, rows.Err()
}

// PruneVectorSets deletes every vector set of a catalog version other than
// keepVersion and returns how many sets were removed.
func (db *DB) PruneVectorSets(ctx context.Context, keepVersion string) (int64, error) {
	res, err := db.Writer().ExecContext(ctx,
		`DELETE FROM vector_sets WHERE catalog_version != ?`, keepVersion)
	if err != nil {
		return 0, fmt.Errorf("prune vector sets: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.InfoContext(ctx, "pruned stale vector sets",
			"kept_version", keepVersion,
			"removed", n)
	}
	return n, nil
}
