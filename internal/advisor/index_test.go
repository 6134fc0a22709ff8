package advisor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyellow/degree-advisor/internal/catalog"
	apperrors "github.com/garyellow/degree-advisor/internal/errors"
	"github.com/garyellow/degree-advisor/internal/rag"
	"github.com/garyellow/degree-advisor/internal/storage"
)

func TestIndexLoader_KeywordOnlyWithoutEmbedder(t *testing.T) {
	t.Parallel()
	l := &IndexLoader{Store: newTestDB(t)}

	eng, err := l.Load(context.Background(), fixtureCatalog(), false)
	require.NoError(t, err)
	assert.Equal(t, SourceKeyword, eng.Source)
	assert.False(t, eng.Matcher.SemanticReady())
	assert.Equal(t, fixtureCatalog().Version(), eng.Version())
}

func TestIndexLoader_BuildThenCache(t *testing.T) {
	t.Parallel()
	m := newTestMetrics()
	l, emb, db := testLoader(t, m)
	ctx := context.Background()
	cat := fixtureCatalog()

	eng, err := l.Load(ctx, cat, false)
	require.NoError(t, err)
	assert.Equal(t, SourceBuilt, eng.Source)
	assert.True(t, eng.Matcher.SemanticReady())
	embedCalls := emb.calls.Load()
	assert.Positive(t, embedCalls)

	vectors, err := db.LoadVectorSet(ctx, cat.Version(), emb.Model())
	require.NoError(t, err)
	assert.Len(t, vectors, cat.Len())

	eng, err = l.Load(ctx, cat, false)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, eng.Source)
	assert.Equal(t, embedCalls, emb.calls.Load(), "cached load must not embed")

	eng, err = l.Load(ctx, cat, true)
	require.NoError(t, err)
	assert.Equal(t, SourceBuilt, eng.Source)
	assert.Greater(t, emb.calls.Load(), embedCalls)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.VectorCacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VectorCacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexReady))
	assert.Equal(t, float64(cat.Len()), testutil.ToFloat64(m.IndexCourses))
}

func TestIndexLoader_StoredEnrichmentsReachIndex(t *testing.T) {
	t.Parallel()
	l, _, db := testLoader(t, nil)
	ctx := context.Background()
	cat := fixtureCatalog()
	rec := cat.At(0)

	require.NoError(t, db.SaveEnrichment(ctx, rec.ID, rec.SourceURL, &catalog.Enrichment{
		Description: "Stored description.",
	}))

	eng, err := l.Load(ctx, cat, false)
	require.NoError(t, err)
	got, ok := eng.Matcher.Record(rec.ID)
	require.True(t, ok)
	require.NotNil(t, got.Enrichment)
	assert.Equal(t, "Stored description.", got.Enrichment.Description)
}

func TestIndexLoader_RestoresSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cat := fixtureCatalog()

	// A peer built and cached the vectors.
	peer, emb, peerDB := testLoader(t, nil)
	_, err := peer.Load(ctx, cat, false)
	require.NoError(t, err)
	published, err := peerDB.LoadVectorSet(ctx, cat.Version(), emb.Model())
	require.NoError(t, err)

	local, localEmb, localDB := testLoader(t, nil)
	var restores int
	local.Restore = func(ctx context.Context, version, model string) error {
		restores++
		ids := make([]string, cat.Len())
		for i := range ids {
			ids[i] = cat.At(i).ID
		}
		return localDB.SaveVectorSet(ctx, version, model, ids, published)
	}

	eng, err := local.Load(ctx, cat, false)
	require.NoError(t, err)
	assert.Equal(t, SourceSnapshot, eng.Source)
	assert.Equal(t, 1, restores)
	assert.Zero(t, localEmb.calls.Load(), "restored vectors must not be re-embedded")
}

func TestIndexLoader_MissingSnapshotBuilds(t *testing.T) {
	t.Parallel()
	l, _, _ := testLoader(t, nil)
	l.Restore = func(context.Context, string, string) error {
		return fmt.Errorf("snapshot: %w", apperrors.ErrNotFound)
	}

	eng, err := l.Load(context.Background(), fixtureCatalog(), false)
	require.NoError(t, err)
	assert.Equal(t, SourceBuilt, eng.Source)
}

func TestIndexLoader_EmbeddingFailureFallsBackToKeyword(t *testing.T) {
	t.Parallel()
	m := newTestMetrics()
	l, emb, _ := testLoader(t, m)
	emb.fail.Store(true)

	eng, err := l.Load(context.Background(), fixtureCatalog(), false)
	require.Error(t, err)
	require.NotNil(t, eng)
	assert.Equal(t, SourceKeyword, eng.Source)
	assert.False(t, eng.Matcher.SemanticReady())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.IndexReady))

	set, err := eng.Matcher.Match(context.Background(), techProfile(), nil, rag.MatchOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, set.Candidates, "keyword path must still answer")
}

func TestIndexLoader_UnreadableCacheRebuilds(t *testing.T) {
	t.Parallel()
	l, _, _ := testLoader(t, nil)
	l.Store = brokenStore{Store: l.Store}

	eng, err := l.Load(context.Background(), fixtureCatalog(), false)
	require.NoError(t, err)
	assert.Equal(t, SourceBuilt, eng.Source)
}

// brokenStore fails every vector read and write.
type brokenStore struct{ Store }

func (brokenStore) LoadVectorSet(context.Context, string, string) ([][]float32, error) {
	return nil, errors.New("disk I/O error")
}

func (brokenStore) SaveVectorSet(context.Context, string, string, []string, [][]float32) error {
	return errors.New("disk I/O error")
}

var _ Store = (*storage.DB)(nil)
