// Package delta provides an R2-backed log of course enrichments fetched by
// serving instances, merged into the vector cache by the next indexer run.
package delta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/r2client"
	"github.com/garyellow/degree-advisor/internal/storage"
)

// Recorder captures enrichments fetched on demand.
type Recorder interface {
	RecordEnrichment(ctx context.Context, courseID, sourceURL string, e *catalog.Enrichment) error
}

// MergeStats summarizes merge results.
type MergeStats struct {
	ObjectsProcessed int
	ObjectsMerged    int
	ObjectsStale     int // older than what the store already had
	ObjectsSkipped   int // unreadable; left in place
}

// Entry represents a single append-only delta log record.
type Entry struct {
	Type      string          `json:"type"`
	CreatedAt int64           `json:"created_at"`
	Instance  string          `json:"instance"`
	Payload   json.RawMessage `json:"payload"`
}

// EntryTypeEnrichment is the only entry type written today.
const EntryTypeEnrichment = "enrichment"

// EnrichmentPayload is the payload of an enrichment entry.
type EnrichmentPayload struct {
	CourseID   string              `json:"course_id"`
	SourceURL  string              `json:"source_url"`
	Enrichment *catalog.Enrichment `json:"enrichment"`
}

// R2Log writes and merges delta logs stored in R2.
type R2Log struct {
	client     *r2client.Client
	prefix     string
	instanceID string
}

var _ Recorder = (*R2Log)(nil)

// NewR2Log creates a new R2 delta log helper.
func NewR2Log(client *r2client.Client, prefix, instanceID string) (*R2Log, error) {
	if client == nil {
		return nil, errors.New("delta: r2 client is required")
	}
	prefix = normalizePrefix(prefix)
	if prefix == "" {
		return nil, errors.New("delta: prefix must not be empty")
	}
	if instanceID == "" {
		instanceID = "unknown"
	}
	return &R2Log{client: client, prefix: prefix, instanceID: instanceID}, nil
}

// RecordEnrichment appends one fetched enrichment to the delta log.
func (l *R2Log) RecordEnrichment(ctx context.Context, courseID, sourceURL string, e *catalog.Enrichment) error {
	if courseID == "" || e.IsEmpty() {
		return nil
	}
	return l.record(ctx, EntryTypeEnrichment, EnrichmentPayload{
		CourseID:   courseID,
		SourceURL:  sourceURL,
		Enrichment: e,
	})
}

// MergeInto applies all pending entries to store, oldest first, and deletes
// each object once applied. An entry whose enrichment is not newer than the
// stored one is dropped without being written.
func (l *R2Log) MergeInto(ctx context.Context, store storage.EnrichmentStore) (MergeStats, error) {
	keys, err := l.client.List(ctx, l.objectPrefix())
	if err != nil {
		return MergeStats{}, fmt.Errorf("delta: list objects: %w", err)
	}
	known, err := store.LoadEnrichments(ctx)
	if err != nil {
		return MergeStats{}, fmt.Errorf("delta: load enrichments: %w", err)
	}

	sort.SliceStable(keys, func(i, j int) bool {
		ti, okI := parseDeltaTimestamp(keys[i])
		tj, okJ := parseDeltaTimestamp(keys[j])
		if okI && okJ && ti != tj {
			return ti < tj
		}
		return keys[i] < keys[j]
	})

	stats := MergeStats{}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.ObjectsProcessed++
		applied, err := l.mergeObject(ctx, store, known, key)
		switch {
		case err != nil:
			stats.ObjectsSkipped++
		case applied:
			stats.ObjectsMerged++
		default:
			stats.ObjectsStale++
		}
	}
	return stats, nil
}

func (l *R2Log) mergeObject(ctx context.Context, store storage.EnrichmentStore, known map[string]*catalog.Enrichment, key string) (bool, error) {
	body, _, err := l.client.Download(ctx, key)
	if err != nil {
		return false, fmt.Errorf("download %s: %w", key, err)
	}
	defer func() {
		_ = body.Close()
	}()

	var entry Entry
	if err := json.NewDecoder(body).Decode(&entry); err != nil {
		return false, fmt.Errorf("decode entry %s: %w", key, err)
	}

	applied, err := applyEntry(ctx, store, known, entry)
	if err != nil {
		return false, fmt.Errorf("apply entry %s: %w", key, err)
	}

	if err := l.client.Delete(ctx, key); err != nil {
		return false, fmt.Errorf("delete entry %s: %w", key, err)
	}
	return applied, nil
}

func applyEntry(ctx context.Context, store storage.EnrichmentStore, known map[string]*catalog.Enrichment, entry Entry) (bool, error) {
	switch entry.Type {
	case EntryTypeEnrichment:
		var p EnrichmentPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return false, fmt.Errorf("decode enrichment: %w", err)
		}
		if p.CourseID == "" || p.Enrichment.IsEmpty() {
			return false, nil
		}
		if cur, ok := known[p.CourseID]; ok && !p.Enrichment.FetchedAt.After(cur.FetchedAt) {
			return false, nil
		}
		if err := store.SaveEnrichment(ctx, p.CourseID, p.SourceURL, p.Enrichment); err != nil {
			return false, err
		}
		known[p.CourseID] = p.Enrichment
		return true, nil

	default:
		return false, fmt.Errorf("unknown entry type: %s", entry.Type)
	}
}

func (l *R2Log) record(ctx context.Context, entryType string, payload any) error {
	payloadData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("delta: marshal payload: %w", err)
	}

	entryData, err := json.Marshal(Entry{
		Type:      entryType,
		CreatedAt: time.Now().UTC().Unix(),
		Instance:  l.instanceID,
		Payload:   payloadData,
	})
	if err != nil {
		return fmt.Errorf("delta: marshal entry: %w", err)
	}

	if _, err := l.client.Upload(ctx, l.objectKey(), bytes.NewReader(entryData), "application/json", nil); err != nil {
		return fmt.Errorf("delta: upload entry: %w", err)
	}
	return nil
}

func (l *R2Log) objectPrefix() string {
	return l.prefix + "/"
}

func (l *R2Log) objectKey() string {
	return fmt.Sprintf("%s/%s/%d-%s.json", l.prefix, l.instanceID, time.Now().UnixNano(), uuid.NewString())
}

func parseDeltaTimestamp(key string) (int64, bool) {
	ts, _, ok := strings.Cut(path.Base(key), "-")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	return n, err == nil
}

func normalizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}
