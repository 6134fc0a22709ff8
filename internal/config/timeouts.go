// Package config provides centralized timeout constants for the application.
//
// The dialogue path has two suspension points, course detail fetches and
// text generation. Both carry their own deadline so a turn always finishes
// with a defined response inside the HTTP write timeout.
package config

import "time"

// HTTP server timeouts
const (
	// HTTPRead is the server read timeout. Request bodies are small JSON documents.
	HTTPRead = 10 * time.Second

	// HTTPWrite must cover TurnProcessing plus serialization.
	HTTPWrite = 95 * time.Second

	// HTTPIdle is the idle timeout for keep-alive connections.
	HTTPIdle = 120 * time.Second

	// TurnProcessing bounds one dialogue turn: one detail fetch, one match,
	// and up to two generation attempts.
	TurnProcessing = 90 * time.Second

	// ReadinessCheck bounds the database ping in /readyz.
	ReadinessCheck = 3 * time.Second
)

// External collaborator timeouts
const (
	// ContentFetch bounds fetching and parsing a single course detail page.
	ContentFetch = 15 * time.Second

	// Generation bounds a single text generation call, per provider.
	Generation = 30 * time.Second

	// Embedding bounds one embedding request including retries.
	Embedding = 30 * time.Second

	// IndexBuild bounds a full catalog embedding pass.
	IndexBuild = 10 * time.Minute
)

// Scraper timeouts
const (
	// ScraperRequest is the timeout for a single HTTP request to a course site.
	ScraperRequest = 15 * time.Second

	// ScraperRetryInitial is the initial delay before retrying a failed request.
	// Uses exponential backoff with jitter: 1s -> 2s -> 4s.
	ScraperRetryInitial = 1 * time.Second

	// ScraperRateLimit is the minimum delay between consecutive requests to course sites.
	ScraperRateLimit = 500 * time.Millisecond

	// ScraperMaxDelay caps the jittered delay between requests.
	ScraperMaxDelay = 2 * time.Second
)

// ScraperWorkers is how many course pages may be fetched at once.
const ScraperWorkers = 3

// Database timeouts
const (
	// DatabaseBusyTimeout is the SQLite busy_timeout pragma value.
	DatabaseBusyTimeout = 30 * time.Second

	// DatabaseConnMaxLifetime is the maximum lifetime of database connections.
	DatabaseConnMaxLifetime = time.Hour
)

// Snapshot timeouts
const (
	// SnapshotDownload bounds fetching the vector cache snapshot from R2 at startup.
	SnapshotDownload = 2 * time.Minute

	// SnapshotUpload bounds publishing a snapshot from the indexer.
	SnapshotUpload = 5 * time.Minute

	// SnapshotPoll is the default interval at which a server without
	// vectors checks for a published snapshot.
	SnapshotPoll = 15 * time.Minute

	// SnapshotLockTTL is the lease of the publish lock.
	SnapshotLockTTL = 10 * time.Minute
)

// Background jobs
const (
	// MetricsUpdateInterval is how often index size gauges are refreshed.
	MetricsUpdateInterval = 5 * time.Minute

	// SessionSweepInterval is how often idle dialogue sessions are evicted.
	SessionSweepInterval = 10 * time.Minute

	// SessionIdleTTL is how long a session survives without a turn.
	SessionIdleTTL = 2 * time.Hour

	// GracefulShutdown allows in-flight requests to complete before forceful termination.
	GracefulShutdown = 30 * time.Second

	// SentryFlush bounds delivery of buffered error events at shutdown.
	SentryFlush = 2 * time.Second
)
