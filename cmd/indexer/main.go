// Package main provides the offline indexer: it folds enrichments recorded by
// servers into the local store, embeds the course catalog into the SQLite
// vector cache and publishes the result to R2 so servers can start without
// embedding anything.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/garyellow/degree-advisor/internal/advisor"
	"github.com/garyellow/degree-advisor/internal/app"
	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/config"
	"github.com/garyellow/degree-advisor/internal/delta"
	"github.com/garyellow/degree-advisor/internal/genai"
	"github.com/garyellow/degree-advisor/internal/logger"
	"github.com/garyellow/degree-advisor/internal/scraper"
	"github.com/garyellow/degree-advisor/internal/snapshot"
	"github.com/garyellow/degree-advisor/internal/storage"
)

// CLI flags
var (
	forceFlag     = flag.Bool("force", false, "Re-embed the catalog even when cached vectors exist")
	enrichFlag    = flag.Bool("enrich", false, "Fetch detail pages for courses without stored enrichment before embedding")
	noPublishFlag = flag.Bool("no-publish", false, "Skip publishing the snapshot to R2")
	noMergeFlag   = flag.Bool("no-merge", false, "Leave pending enrichment deltas in R2")
	workersFlag   = flag.Int("workers", 0, "Concurrent page fetches for -enrich (0 = use default)")
)

// enrichStats counts the outcome of an enrichment pass.
type enrichStats struct {
	fetched atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

type detailFetcher interface {
	FetchCourseDetail(ctx context.Context, url string) (*catalog.Enrichment, error)
}

type enrichmentStore interface {
	LoadEnrichments(ctx context.Context) (map[string]*catalog.Enrichment, error)
	SaveEnrichment(ctx context.Context, courseID, sourceURL string, e *catalog.Enrichment) error
}

func main() {
	flag.Parse()

	cfg, err := config.LoadForMode(config.IndexerMode)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel).WithModule("indexer")
	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Indexing failed")
		_, _ = fmt.Fprintf(os.Stderr, "\n❌ Indexing failed: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.IndexBuild+config.SnapshotUpload)
	defer cancel()
	start := time.Now()

	db, err := storage.New(ctx, cfg.SQLitePath())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer func() { _ = db.Close() }()
	log.WithField("path", cfg.SQLitePath()).Info("Database connected")

	vocab, err := app.LoadVocabulary(cfg.TaxonomyPath)
	if err != nil {
		return err
	}
	cat, err := catalog.Load(cfg.CatalogPath, vocab)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	log.WithField("courses", cat.Len()).WithField("version", cat.Version()).Info("Catalog loaded")

	embedder, err := genai.CreateEmbedder(genai.Provider(cfg.EmbeddingProvider), cfg.EmbeddingAPIKey(), nil)
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}

	r2, err := app.NewR2Client(ctx, cfg)
	if err != nil {
		return fmt.Errorf("r2: %w", err)
	}

	force := *forceFlag
	if r2 != nil && !*noMergeFlag {
		deltas, err := delta.NewR2Log(r2, cfg.R2DeltaPrefix, "indexer")
		if err != nil {
			return err
		}
		stats, err := deltas.MergeInto(ctx, db)
		if err != nil {
			return fmt.Errorf("merge deltas: %w", err)
		}
		log.WithFields(map[string]any{
			"processed": stats.ObjectsProcessed,
			"merged":    stats.ObjectsMerged,
			"stale":     stats.ObjectsStale,
			"skipped":   stats.ObjectsSkipped,
		}).Info("Enrichment deltas merged")
		// New enrichments change the embedding text of their courses.
		force = force || stats.ObjectsMerged > 0
	}

	if *enrichFlag {
		workers := *workersFlag
		if workers <= 0 {
			workers = config.ScraperWorkers
		}
		client := scraper.NewClient(cfg.ScraperTimeout, workers,
			config.ScraperRateLimit, config.ScraperMaxDelay, cfg.ScraperMaxRetries, nil)
		stats, err := enrichCatalog(ctx, cat, scraper.NewFetcher(client, vocab), db, workers)
		if err != nil {
			return fmt.Errorf("enrich: %w", err)
		}
		log.WithFields(map[string]any{
			"fetched": stats.fetched.Load(),
			"skipped": stats.skipped.Load(),
			"failed":  stats.failed.Load(),
		}).Info("Enrichment pass complete")
		force = force || stats.fetched.Load() > 0
	}

	snapshots := app.NewSnapshotManager(cfg, r2)
	loader := app.NewIndexLoader(cfg, db, embedder, snapshots, nil)
	engine, err := loader.Load(ctx, cat, force)
	if err != nil {
		return err
	}
	log.WithField("source", engine.Source).Info("Vector index ready")

	published := "skipped"
	if snapshots != nil && !*noPublishFlag && engine.Source == advisor.SourceBuilt {
		pubCtx, pubCancel := context.WithTimeout(ctx, config.SnapshotUpload)
		etag, err := snapshots.Publish(pubCtx, db, cat.Version(), embedder.Model())
		pubCancel()
		switch {
		case errors.Is(err, snapshot.ErrLocked):
			log.Info("Another indexer is publishing this snapshot")
		case err != nil:
			return err
		default:
			published = etag
		}
	}

	duration := time.Since(start)
	log.WithField("duration", duration).Info("Indexing complete")
	fmt.Printf("\n✅ Indexed %d courses (version %s, source %s, snapshot %s)\n",
		cat.Len(), cat.Version(), engine.Source, published)
	fmt.Printf("Total time: %v\n", duration.Round(time.Second))
	return nil
}

// enrichCatalog fetches the detail page of every course that has a source
// URL and no stored enrichment. Individual page failures are counted, not
// returned; only a store failure aborts the pass.
func enrichCatalog(ctx context.Context, cat *catalog.Catalog, fetcher detailFetcher, store enrichmentStore, workers int) (*enrichStats, error) {
	existing, err := store.LoadEnrichments(ctx)
	if err != nil {
		return nil, err
	}

	stats := &enrichStats{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))

	for _, rec := range cat.Records() {
		if rec.SourceURL == "" || !existing[rec.ID].IsEmpty() {
			stats.skipped.Add(1)
			continue
		}
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, config.ContentFetch)
			e, err := fetcher.FetchCourseDetail(fetchCtx, rec.SourceURL)
			cancel()
			if err != nil || e.IsEmpty() {
				stats.failed.Add(1)
				return nil
			}
			if err := store.SaveEnrichment(gctx, rec.ID, rec.SourceURL, e); err != nil {
				return fmt.Errorf("save %s: %w", rec.ID, err)
			}
			stats.fetched.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}
