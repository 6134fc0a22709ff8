package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/garyellow/degree-advisor/internal/catalog"
)

// SaveEnrichment inserts or updates the enrichment of a course.
func (db *DB) SaveEnrichment(ctx context.Context, courseID, sourceURL string, e *catalog.Enrichment) error {
	if e == nil {
		return errors.New("save enrichment: nil enrichment")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal enrichment: %w", err)
	}

	query := `
		INSERT INTO enrichments (course_id, source_url, payload, fetched_at, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(course_id) DO UPDATE SET
			source_url = excluded.source_url,
			payload = excluded.payload,
			fetched_at = excluded.fetched_at,
			cached_at = excluded.cached_at
	`
	start := time.Now()
	if _, err := db.Writer().ExecContext(ctx, query, courseID, sourceURL, string(payload), e.FetchedAt.Unix(), start.Unix()); err != nil {
		slog.ErrorContext(ctx, "failed to save enrichment",
			"course_id", courseID,
			"error", err)
		return fmt.Errorf("failed to save enrichment: %w", err)
	}

	if duration := time.Since(start); duration > 100*time.Millisecond {
		slog.WarnContext(ctx, "slow database operation",
			"operation", "SaveEnrichment",
			"duration_ms", duration.Milliseconds(),
			"course_id", courseID)
	}
	return nil
}

// GetEnrichment returns the stored enrichment of a course, or nil if none.
func (db *DB) GetEnrichment(ctx context.Context, courseID string) (*StoredEnrichment, error) {
	row := db.Reader().QueryRowContext(ctx,
		`SELECT course_id, source_url, payload, cached_at FROM enrichments WHERE course_id = ?`, courseID)
	se, err := scanEnrichment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query enrichment: %w", err)
	}
	return se, nil
}

// LoadEnrichments returns every stored enrichment keyed by course id.
// Rows that fail to decode are skipped with a warning.
func (db *DB) LoadEnrichments(ctx context.Context) (map[string]*catalog.Enrichment, error) {
	rows, err := db.Reader().QueryContext(ctx,
		`SELECT course_id, source_url, payload, cached_at FROM enrichments`)
	if err != nil {
		return nil, fmt.Errorf("query enrichments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*catalog.Enrichment)
	for rows.Next() {
		se, err := scanEnrichment(rows)
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable enrichment", "error", err)
			continue
		}
		out[se.CourseID] = se.Enrichment
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrichments: %w", err)
	}
	return out, nil
}

// SearchEnrichmentsBySourceURL returns enrichments whose source URL starts
// with prefix, most recently cached first.
func (db *DB) SearchEnrichmentsBySourceURL(ctx context.Context, prefix string, limit int) ([]StoredEnrichment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Reader().QueryContext(ctx,
		`SELECT course_id, source_url, payload, cached_at FROM enrichments
		 WHERE source_url LIKE ? ESCAPE '\' ORDER BY cached_at DESC LIMIT ?`,
		sanitizeSearchTerm(prefix)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search enrichments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StoredEnrichment
	for rows.Next() {
		se, err := scanEnrichment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *se)
	}
	return out, rows.Err()
}

// CountEnrichments returns the number of stored enrichments.
func (db *DB) CountEnrichments(ctx context.Context) (int, error) {
	var n int
	if err := db.Reader().QueryRowContext(ctx, `SELECT COUNT(*) FROM enrichments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count enrichments: %w", err)
	}
	return n, nil
}

// DeleteEnrichment removes the enrichment of a course.
func (db *DB) DeleteEnrichment(ctx context.Context, courseID string) error {
	if _, err := db.Writer().ExecContext(ctx, `DELETE FROM enrichments WHERE course_id = ?`, courseID); err != nil {
		return fmt.Errorf("delete enrichment: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnrichment(r rowScanner) (*StoredEnrichment, error) {
	var se StoredEnrichment
	var payload string
	if err := r.Scan(&se.CourseID, &se.SourceURL, &payload, &se.CachedAt); err != nil {
		return nil, err
	}
	var e catalog.Enrichment
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, fmt.Errorf("decode enrichment %s: %w", se.CourseID, err)
	}
	se.Enrichment = &e
	return &se, nil
}
