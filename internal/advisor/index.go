package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/intent"
	"github.com/garyellow/degree-advisor/internal/metrics"
	"github.com/garyellow/degree-advisor/internal/rag"
	"github.com/garyellow/degree-advisor/internal/storage"
)

// Where an engine's vectors came from.
const (
	SourceCache    = "cache"
	SourceSnapshot = "snapshot"
	SourceBuilt    = "built"
	SourceKeyword  = "keyword_only"
)

// Store is the persistent cache behind the matcher.
type Store interface {
	storage.VectorCache
	storage.EnrichmentStore
	PruneVectorSets(ctx context.Context, keepVersion string) (int64, error)
}

// RestoreFunc imports a published vector set for (version, model) into the
// local cache. It returns an error wrapping a not-found sentinel when no
// snapshot exists.
type RestoreFunc func(ctx context.Context, version, model string) error

// Engine bundles everything that depends on one catalog version. It is
// replaced as a whole when the catalog changes.
type Engine struct {
	Catalog    *catalog.Catalog
	Matcher    *rag.MatcherContext
	Classifier *intent.Classifier
	Source     string
	LoadedAt   time.Time
}

// NewEngine wraps a matcher and builds a classifier for its catalog.
func NewEngine(m *rag.MatcherContext, source string) *Engine {
	return &Engine{
		Catalog:    m.Catalog(),
		Matcher:    m,
		Classifier: intent.NewClassifier(m.Catalog()),
		Source:     source,
		LoadedAt:   time.Now(),
	}
}

// Version returns the catalog version.
func (e *Engine) Version() string { return e.Catalog.Version() }

// IndexLoader produces engines, reusing cached vectors whenever possible.
type IndexLoader struct {
	Store    Store
	Embedder rag.Embedder // nil runs keyword-only
	Restore  RestoreFunc  // nil skips the remote snapshot
	Build    rag.BuildOptions
	Matcher  rag.Options
	Metrics  *metrics.Metrics
}

// Load returns an engine for cat. Vectors come from the local cache, then a
// remote snapshot, then a fresh embedding pass; force skips straight to the
// embedding pass. When no vectors can be had the engine still works on the
// keyword path and the returned error says why.
func (l *IndexLoader) Load(ctx context.Context, cat *catalog.Catalog, force bool) (*Engine, error) {
	version := cat.Version()
	index := rag.NewVectorIndex(cat, l.enrichments(ctx))

	if l.Embedder == nil {
		return l.engine(cat, index, SourceKeyword), nil
	}
	model := l.Embedder.Model()

	if !force {
		if ok := l.loadCached(ctx, index, version, model); ok {
			l.recordLookup("hit")
			return l.engine(cat, index, SourceCache), nil
		}

		if l.Restore != nil {
			if err := l.Restore(ctx, version, model); err == nil {
				// The snapshot may have brought enrichments this server lacked.
				restored := rag.NewVectorIndex(cat, l.enrichments(ctx))
				if l.loadCached(ctx, restored, version, model) {
					l.recordLookup("snapshot")
					return l.engine(cat, restored, SourceSnapshot), nil
				}
			} else {
				slog.InfoContext(ctx, "No usable vector snapshot", "version", version, "model", model, "error", err)
			}
		}
		l.recordLookup("miss")
	}

	if err := l.build(ctx, index, version); err != nil {
		return l.engine(cat, index, SourceKeyword), err
	}
	return l.engine(cat, index, SourceBuilt), nil
}

func (l *IndexLoader) build(ctx context.Context, index *rag.VectorIndex, version string) error {
	start := time.Now()
	if err := index.Build(ctx, l.Embedder, l.Build); err != nil {
		return fmt.Errorf("build vector index: %w", err)
	}
	if l.Metrics != nil {
		l.Metrics.RecordIndexBuild(time.Since(start).Seconds())
	}

	if l.Store == nil {
		return nil
	}
	ids := make([]string, index.Len())
	for pos := range ids {
		ids[pos] = index.Record(pos).ID
	}
	if err := l.Store.SaveVectorSet(ctx, version, index.Model(), ids, index.Vectors()); err != nil {
		// The index is usable; only the next start pays for the rebuild.
		slog.WarnContext(ctx, "Failed to cache vector set", "version", version, "error", err)
		return nil
	}
	if pruned, err := l.Store.PruneVectorSets(ctx, version); err != nil {
		slog.WarnContext(ctx, "Failed to prune old vector sets", "error", err)
	} else if pruned > 0 {
		slog.InfoContext(ctx, "Pruned old vector sets", "count", pruned)
	}
	return nil
}

func (l *IndexLoader) loadCached(ctx context.Context, index *rag.VectorIndex, version, model string) bool {
	if l.Store == nil {
		return false
	}
	vectors, err := l.Store.LoadVectorSet(ctx, version, model)
	if err != nil {
		slog.WarnContext(ctx, "Vector cache unreadable", "version", version, "error", err)
		return false
	}
	if vectors == nil {
		return false
	}
	if err := index.Load(model, vectors); err != nil {
		slog.WarnContext(ctx, "Cached vectors rejected", "version", version, "error", err)
		return false
	}
	return true
}

func (l *IndexLoader) enrichments(ctx context.Context) map[string]*catalog.Enrichment {
	if l.Store == nil {
		return nil
	}
	all, err := l.Store.LoadEnrichments(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load stored enrichments", "error", err)
		return nil
	}
	return all
}

func (l *IndexLoader) engine(cat *catalog.Catalog, index *rag.VectorIndex, source string) *Engine {
	var emb rag.Embedder
	if index.Ready() {
		emb = l.Embedder
	}
	if l.Metrics != nil {
		l.Metrics.SetIndexState(index.Len(), index.Ready())
	}
	return NewEngine(rag.NewMatcher(cat, index, emb, l.Matcher), source)
}

func (l *IndexLoader) recordLookup(result string) {
	if l.Metrics != nil {
		l.Metrics.RecordVectorCacheLookup(result)
	}
}
