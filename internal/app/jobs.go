package app

import (
	"context"
	"time"

	"github.com/garyellow/degree-advisor/internal/advisor"
	"github.com/garyellow/degree-advisor/internal/config"
)

// startBackgroundJobs starts all background goroutines tracked by WaitGroup.
func (a *Application) startBackgroundJobs(ctx context.Context) {
	a.wg.Go(func() {
		a.sweepSessions(ctx)
	})
	a.wg.Go(func() {
		a.updateIndexMetrics(ctx)
	})
	a.startSnapshotPolling(ctx)
}

// sweepSessions evicts idle sessions until shutdown.
func (a *Application) sweepSessions(ctx context.Context) {
	a.logger.Debug("Session sweeper started")
	defer a.logger.Debug("Session sweeper stopped")

	a.advisor.Sessions().RunSweeper(ctx, config.SessionSweepInterval)
}

// updateIndexMetrics periodically re-publishes the live engine's gauges,
// which change when an engine is swapped in by a reload or a restore.
func (a *Application) updateIndexMetrics(ctx context.Context) {
	a.logger.Debug("Index metrics job started")
	defer a.logger.Debug("Index metrics job stopped")

	ticker := time.NewTicker(config.MetricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.recordIndexMetrics()
		}
	}
}

func (a *Application) recordIndexMetrics() {
	if a.metrics == nil {
		return
	}
	engine := a.advisor.Engine()
	a.metrics.SetIndexState(engine.Matcher.Index().Len(), engine.Matcher.SemanticReady())
	a.metrics.SetSessionsActive(a.advisor.Sessions().Len())
}

// startSnapshotPolling watches R2 for a vector snapshot when the server came
// up keyword-only, so an indexer run elsewhere upgrades it without a restart.
// Polling is bound to the startup catalog version; once the catalog is
// reloaded to another version a late snapshot is ignored.
func (a *Application) startSnapshotPolling(ctx context.Context) {
	engine := a.advisor.Engine()
	if a.snapshots == nil || a.loader.Embedder == nil || engine.Source != advisor.SourceKeyword {
		return
	}

	version := engine.Version()
	model := a.loader.Embedder.Model()
	a.snapshots.StartPolling(ctx, a.db, version, model, func(ctx context.Context) error {
		if a.advisor.Engine().Version() != version {
			a.logger.WithField("version", version).Info("Ignoring snapshot for a replaced catalog")
			return nil
		}
		_, err := a.reload(ctx, false)
		return err
	})
}
