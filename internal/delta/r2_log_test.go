package delta

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/r2client"
	"github.com/garyellow/degree-advisor/internal/r2client/r2test"
	"github.com/garyellow/degree-advisor/internal/storage"
)

func newTestLog(t *testing.T, instance string) (*R2Log, *r2test.Server) {
	t.Helper()
	srv := r2test.NewServer()
	t.Cleanup(srv.Close)

	client, err := r2client.New(context.Background(), srv.Config())
	require.NoError(t, err)
	log, err := NewR2Log(client, "/deltas/enrichments/", instance)
	require.NoError(t, err)
	return log, srv
}

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func enrichment(desc string, fetched time.Time) *catalog.Enrichment {
	return &catalog.Enrichment{Description: desc, FetchedAt: fetched}
}

func TestNewR2Log_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewR2Log(nil, "deltas", "a")
	assert.Error(t, err)

	srv := r2test.NewServer()
	defer srv.Close()
	client, err := r2client.New(context.Background(), srv.Config())
	require.NoError(t, err)

	_, err = NewR2Log(client, " / ", "a")
	assert.Error(t, err)

	log, err := NewR2Log(client, "deltas", "")
	require.NoError(t, err)
	assert.Equal(t, "unknown", log.instanceID)
}

func TestRecordEnrichment_WritesEntry(t *testing.T) {
	t.Parallel()
	log, srv := newTestLog(t, "web-1")
	ctx := context.Background()

	require.NoError(t, log.RecordEnrichment(ctx, "c1", "https://example.edu/c1", enrichment("Design", time.Now())))
	// Empty enrichments and blank IDs are not worth a round trip.
	require.NoError(t, log.RecordEnrichment(ctx, "c2", "", &catalog.Enrichment{}))
	require.NoError(t, log.RecordEnrichment(ctx, "", "", enrichment("x", time.Now())))

	assert.Equal(t, 1, srv.Keys())
	keys, err := log.client.List(ctx, "deltas/enrichments/web-1/")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, strings.HasSuffix(keys[0], ".json"))

	data, ok := srv.Object(keys[0])
	require.True(t, ok)
	var entry Entry
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, EntryTypeEnrichment, entry.Type)
	assert.Equal(t, "web-1", entry.Instance)

	var p EnrichmentPayload
	require.NoError(t, json.Unmarshal(entry.Payload, &p))
	assert.Equal(t, "c1", p.CourseID)
	assert.Equal(t, "Design", p.Enrichment.Description)
}

func TestMergeInto(t *testing.T) {
	t.Parallel()
	log, srv := newTestLog(t, "web-1")
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.SaveEnrichment(ctx, "kept", "https://example.edu/kept", enrichment("fresh", base.Add(time.Hour))))

	require.NoError(t, log.RecordEnrichment(ctx, "new", "https://example.edu/new", enrichment("first", base)))
	require.NoError(t, log.RecordEnrichment(ctx, "new", "https://example.edu/new", enrichment("second", base.Add(time.Minute))))
	require.NoError(t, log.RecordEnrichment(ctx, "kept", "https://example.edu/kept", enrichment("stale", base)))
	srv.Put("deltas/enrichments/web-2/1-broken.json", []byte("{not json"))

	stats, err := log.MergeInto(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, MergeStats{ObjectsProcessed: 4, ObjectsMerged: 2, ObjectsStale: 1, ObjectsSkipped: 1}, stats)

	all, err := db.LoadEnrichments(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", all["new"].Description, "later entries win")
	assert.Equal(t, "fresh", all["kept"].Description, "an older delta never overwrites")

	// Applied and stale objects are removed; the unreadable one stays for inspection.
	assert.Equal(t, 1, srv.Keys())

	stats, err = log.MergeInto(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ObjectsSkipped)
	assert.Zero(t, stats.ObjectsMerged)
}

func TestParseDeltaTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key  string
		want int64
		ok   bool
	}{
		{"deltas/web-1/1700000000000000000-abc.json", 1700000000000000000, true},
		{"deltas/web-1/abc-def.json", 0, false},
		{"deltas/web-1/plain.json", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseDeltaTimestamp(tt.key)
		assert.Equal(t, tt.ok, ok, tt.key)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.key)
		}
	}
}
