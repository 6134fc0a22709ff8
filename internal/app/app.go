// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/garyellow/degree-advisor/internal/advisor"
	"github.com/garyellow/degree-advisor/internal/buildinfo"
	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/config"
	"github.com/garyellow/degree-advisor/internal/delta"
	"github.com/garyellow/degree-advisor/internal/genai"
	"github.com/garyellow/degree-advisor/internal/logger"
	"github.com/garyellow/degree-advisor/internal/metrics"
	"github.com/garyellow/degree-advisor/internal/profile"
	"github.com/garyellow/degree-advisor/internal/prompt"
	"github.com/garyellow/degree-advisor/internal/r2client"
	"github.com/garyellow/degree-advisor/internal/rag"
	"github.com/garyellow/degree-advisor/internal/ratelimit"
	"github.com/garyellow/degree-advisor/internal/scraper"
	"github.com/garyellow/degree-advisor/internal/sentry"
	"github.com/garyellow/degree-advisor/internal/snapshot"
	"github.com/garyellow/degree-advisor/internal/storage"
	"github.com/garyellow/degree-advisor/internal/taxonomy"
)

// Application manages the application lifecycle and dependencies.
type Application struct {
	cfg      *config.Config
	logger   *logger.Logger
	db       *storage.DB
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	vocab     *taxonomy.Vocabulary
	loader    *advisor.IndexLoader
	advisor   *advisor.Advisor
	generator *genai.FallbackGenerator
	snapshots *snapshot.Manager // nil unless R2 is enabled
	deltas    *delta.R2Log      // nil unless R2 is enabled

	genLimiter     *ratelimit.Limiter
	turnLimiter    *ratelimit.KeyedLimiter
	sessionLimiter *ratelimit.KeyedLimiter

	reloadMu sync.Mutex // serializes catalog reloads
	server   *http.Server
	wg       sync.WaitGroup // Track background goroutines for graceful shutdown
}

// Initialize creates and initializes a new application with all dependencies.
func Initialize(ctx context.Context, cfg *config.Config) (*Application, error) {
	log := logger.NewWithOptions(cfg.LogLevel, os.Stdout, logger.Options{
		BetterStackToken:    cfg.BetterStackToken,
		BetterStackEndpoint: cfg.BetterStackEndpoint,
	})

	log = log.WithField("service", "degree-advisor")
	instanceID, _ := os.Hostname()
	if instanceID != "" {
		log = log.WithField("instance_id", instanceID)
	}
	if buildinfo.Version != "" {
		log = log.WithField("version", buildinfo.Version)
	}

	// Set as default logger so package-level slog.*Context() calls pick up
	// session and request IDs through the context handler.
	slog.SetDefault(log.Logger)

	log.Info("Initializing application...")
	if cfg.BetterStackToken != "" {
		log.WithField("endpoint", cfg.BetterStackEndpoint).Info("Better Stack logging enabled")
	}

	release := cfg.SentryRelease
	if release == "" {
		release = buildinfo.Version
	}
	if err := sentry.Initialize(sentry.Config{
		Token:       cfg.SentryToken,
		Host:        cfg.SentryHost,
		Environment: cfg.SentryEnvironment,
		Release:     release,
		SampleRate:  cfg.SentrySampleRate,
	}); err != nil {
		log.WithError(err).Warn("Sentry initialization failed")
	} else if sentry.IsEnabled() {
		log.WithField("host", cfg.SentryHost).Info("Sentry error reporting enabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewBuildInfoCollector(),
	)
	m := metrics.New(registry)

	db, err := storage.New(ctx, cfg.SQLitePath())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	log.WithField("path", cfg.SQLitePath()).Info("Database connected")

	vocab, err := LoadVocabulary(cfg.TaxonomyPath)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	rubric, err := profile.NewRubric(cfg.RubricWeights, cfg.RubricThreshold)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rubric: %w", err)
	}

	embedder, err := genai.CreateEmbedder(genai.Provider(cfg.EmbeddingProvider), cfg.EmbeddingAPIKey(), m)
	if err != nil {
		log.WithError(err).Warn("Embedder unavailable, matching runs keyword-only")
		embedder = nil
	}

	var generator *genai.FallbackGenerator
	if cfg.HasLLMProvider() {
		generator, err = genai.CreateGenerator(ctx, buildGenAIConfig(cfg), m)
		if err != nil {
			log.WithError(err).Warn("Generator initialization failed, turns will get a fixed apology")
			generator = nil
		}
	} else {
		log.Warn("No generation provider configured, turns will get a fixed apology")
	}

	r2, err := NewR2Client(ctx, cfg)
	if err != nil {
		log.WithError(err).Warn("R2 client initialization failed, snapshots disabled")
	} else if r2 != nil {
		log.WithField("bucket", cfg.R2BucketName).Info("R2 vector snapshots enabled")
	}
	snapshots := NewSnapshotManager(cfg, r2)
	var deltas *delta.R2Log
	if r2 != nil {
		if deltas, err = delta.NewR2Log(r2, cfg.R2DeltaPrefix, instanceID); err != nil {
			log.WithError(err).Warn("Enrichment delta log disabled")
		}
	}

	loader := NewIndexLoader(cfg, db, embedder, snapshots, m)

	cat, err := catalog.Load(cfg.CatalogPath, vocab)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: %w", err)
	}
	log.WithField("courses", cat.Len()).WithField("version", cat.Version()).Info("Catalog loaded")

	buildCtx, cancel := context.WithTimeout(ctx, config.IndexBuild)
	engine, err := loader.Load(buildCtx, cat, false)
	cancel()
	if err != nil {
		log.WithError(err).Warn("Vector index unavailable, matching runs keyword-only")
		sentry.CaptureWithTags(ctx, err, map[string]string{"component": "index"})
	}
	log.WithField("source", engine.Source).
		WithField("semantic", engine.Matcher.SemanticReady()).
		Info("Matcher ready")

	var genLimiter *ratelimit.Limiter
	if cfg.GenerationRPM > 0 {
		genLimiter = ratelimit.NewPerMinute(float64(cfg.GenerationRPM))
	}

	scraperClient := scraper.NewClient(cfg.ScraperTimeout, config.ScraperWorkers,
		config.ScraperRateLimit, config.ScraperMaxDelay, cfg.ScraperMaxRetries, m)

	assemblerOpts := prompt.DefaultOptions()
	assemblerOpts.Institution = cfg.ServerName
	assemblerOpts.PresentK = cfg.PresentK

	deps := advisor.Deps{
		Builder:           profile.NewBuilder(vocab, rubric),
		Assembler:         prompt.NewAssembler(vocab, assemblerOpts),
		Sessions:          advisor.NewSessionStore(config.SessionIdleTTL, m),
		Fetcher:           scraper.NewFetcher(scraperClient, vocab),
		Store:             db,
		GenerationLimiter: genLimiter,
		Metrics:           m,
	}
	if generator != nil {
		deps.Generator = generator
	}
	if deltas != nil {
		deps.Deltas = deltas
	}
	adv := advisor.New(engine, deps)

	app := &Application{
		cfg:            cfg,
		logger:         log,
		db:             db,
		metrics:        m,
		registry:       registry,
		vocab:          vocab,
		loader:         loader,
		advisor:        adv,
		generator:      generator,
		snapshots:      snapshots,
		deltas:         deltas,
		genLimiter:     genLimiter,
		turnLimiter:    newTurnLimiter(cfg, m),
		sessionLimiter: newSessionLimiter(cfg, m),
	}

	// A closed session frees its turn budget immediately.
	if app.turnLimiter != nil {
		adv.Sessions().OnEvict(app.turnLimiter.Forget)
	}

	gin.SetMode(gin.ReleaseMode)
	app.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.router(),
		ReadHeaderTimeout: config.HTTPRead,
		ReadTimeout:       config.HTTPRead,
		WriteTimeout:      config.HTTPWrite,
		IdleTimeout:       config.HTTPIdle,
	}

	log.Info("Initialization complete")
	return app, nil
}

// LoadVocabulary reads the taxonomy override at path, or returns the
// embedded default when path is empty.
func LoadVocabulary(path string) (*taxonomy.Vocabulary, error) {
	if path == "" {
		return taxonomy.Default(), nil
	}
	vocab, err := taxonomy.Load(path)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: %w", err)
	}
	return vocab, nil
}

// NewR2Client returns the R2 client, or nil when R2 is disabled.
func NewR2Client(ctx context.Context, cfg *config.Config) (*r2client.Client, error) {
	if !cfg.R2Enabled {
		return nil, nil
	}
	return r2client.New(ctx, r2client.Config{
		Endpoint:    cfg.R2Endpoint(),
		AccessKeyID: cfg.R2AccessKeyID,
		SecretKey:   cfg.R2SecretAccessKey,
		BucketName:  cfg.R2BucketName,
	})
}

// NewSnapshotManager returns the R2 snapshot manager, or nil without a client.
func NewSnapshotManager(cfg *config.Config, client *r2client.Client) *snapshot.Manager {
	if client == nil {
		return nil
	}
	return snapshot.New(client, snapshot.Config{
		Prefix:       cfg.R2SnapshotPrefix,
		LockTTL:      config.SnapshotLockTTL,
		PollInterval: cfg.R2PollInterval,
		TempDir:      cfg.DataDir,
	})
}

// NewIndexLoader wires the vector cache, embedder and optional snapshot
// restore into one loader. The indexer binary shares it with the server.
func NewIndexLoader(cfg *config.Config, db *storage.DB, emb rag.Embedder, snapshots *snapshot.Manager, m *metrics.Metrics) *advisor.IndexLoader {
	opts := rag.DefaultOptions()
	opts.TopK = cfg.TopK
	opts.ContextThreshold = cfg.ContextThreshold
	opts.ContextWindow = cfg.ContextWindow
	opts.BM25Weight = cfg.HybridBM25Weight

	loader := &advisor.IndexLoader{
		Store:    db,
		Embedder: emb,
		Build:    rag.BuildOptions{BatchSize: cfg.EmbedBatchSize, Concurrency: cfg.EmbedConcurrency},
		Matcher:  opts,
		Metrics:  m,
	}
	if snapshots != nil {
		loader.Restore = func(ctx context.Context, version, model string) error {
			restoreCtx, cancel := context.WithTimeout(ctx, config.SnapshotDownload)
			defer cancel()
			_, err := snapshots.Restore(restoreCtx, db, version, model)
			return err
		}
	}
	return loader
}

func newTurnLimiter(cfg *config.Config, m *metrics.Metrics) *ratelimit.KeyedLimiter {
	if cfg.TurnBurst <= 0 {
		return nil
	}
	return ratelimit.NewKeyedLimiter(ratelimit.KeyedConfig{
		Name:       "turn",
		Burst:      float64(cfg.TurnBurst),
		RefillRate: cfg.TurnRatePerMinute / 60.0,
		Metrics:    m,
	})
}

func newSessionLimiter(cfg *config.Config, m *metrics.Metrics) *ratelimit.KeyedLimiter {
	if cfg.SessionBurst <= 0 {
		return nil
	}
	return ratelimit.NewKeyedLimiter(ratelimit.KeyedConfig{
		Name:        "session",
		Burst:       float64(cfg.SessionBurst),
		RefillRate:  cfg.SessionRatePerMinute / 60.0,
		WindowLimit: cfg.SessionHourlyLimit,
		Window:      time.Hour,
		Metrics:     m,
	})
}

// buildGenAIConfig maps provider keys and model lists onto the generation
// chain configuration.
func buildGenAIConfig(cfg *config.Config) genai.Config {
	gc := genai.Config{
		Providers:   genai.DefaultProviders,
		Gemini:      genai.ProviderConfig{APIKey: cfg.GeminiAPIKey, Models: cfg.GeminiModels},
		Mistral:     genai.ProviderConfig{APIKey: cfg.MistralAPIKey, Models: cfg.MistralModels},
		Groq:        genai.ProviderConfig{APIKey: cfg.GroqAPIKey, Models: cfg.GroqModels},
		Cerebras:    genai.ProviderConfig{APIKey: cfg.CerebrasAPIKey, Models: cfg.CerebrasModels},
		Temperature: cfg.GenerationTemp,
		MaxTokens:   cfg.GenerationMaxTokens,
		CallTimeout: config.Generation,
		RetryConfig: genai.GenerationRetryConfig(),
	}

	if len(cfg.LLMProviders) > 0 {
		providers := make([]genai.Provider, 0, len(cfg.LLMProviders))
		for _, p := range cfg.LLMProviders {
			switch genai.Provider(p) {
			case genai.ProviderGemini, genai.ProviderMistral, genai.ProviderGroq, genai.ProviderCerebras:
				providers = append(providers, genai.Provider(p))
			default:
				slog.Warn("ignoring unknown provider", "name", p)
			}
		}
		if len(providers) > 0 {
			gc.Providers = providers
		}
	}
	return gc
}

// reload rebuilds the engine from the catalog file and swaps it in.
// Sessions keep their profiles and histories across the swap.
func (a *Application) reload(ctx context.Context, force bool) (*advisor.Engine, error) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	cat, err := catalog.Load(a.cfg.CatalogPath, a.vocab)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	buildCtx, cancel := context.WithTimeout(ctx, config.IndexBuild)
	defer cancel()
	engine, loadErr := a.loader.Load(buildCtx, cat, force)
	if engine == nil {
		return nil, loadErr
	}
	if loadErr != nil && a.advisor.Engine().Version() == cat.Version() && a.advisor.Engine().Matcher.SemanticReady() {
		// Keep the working semantic index rather than downgrade the same catalog.
		return a.advisor.Engine(), loadErr
	}
	a.advisor.SetEngine(engine)
	return engine, loadErr
}

// Run starts the HTTP server and background jobs.
//
// Shutdown order:
//  1. Receive shutdown signal (SIGINT/SIGTERM)
//  2. Cancel context so background jobs stop
//  3. Wait for background jobs to complete
//  4. Close resources (HTTP server, snapshot polling, generator, database, rate limiters)
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.startBackgroundJobs(ctx)
	a.startHTTPServer()

	sig := a.waitForShutdownSignal()
	a.logger.WithField("signal", sig.String()).Info("Received shutdown signal")

	cancel()

	a.logger.Info("Waiting for background jobs to finish...")
	start := time.Now()
	a.wg.Wait()
	a.logger.WithField("duration_ms", time.Since(start).Milliseconds()).
		Info("All background jobs completed")

	return a.shutdown()
}

// startHTTPServer starts the HTTP server in a goroutine.
func (a *Application) startHTTPServer() {
	go func() {
		a.logger.WithField("port", a.cfg.Port).Info("Starting HTTP server")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("HTTP server error")
		}
	}()
}

// waitForShutdownSignal blocks until SIGINT/SIGTERM is received.
func (a *Application) waitForShutdownSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	return <-quit
}

// shutdown stops the HTTP server and releases resources. Background jobs
// must already have returned.
func (a *Application) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	a.logger.Info("Stopping HTTP server...")
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Error("HTTP server shutdown error")
	}

	a.logger.Info("Closing resources...")

	if a.snapshots != nil {
		a.snapshots.StopPolling()
	}

	if a.generator != nil {
		if err := a.generator.Close(); err != nil {
			a.logger.WithError(err).WithField("component", "generator").Error("Component close error")
		}
	}

	if a.turnLimiter != nil {
		a.turnLimiter.Stop()
	}
	if a.sessionLimiter != nil {
		a.sessionLimiter.Stop()
	}

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).WithField("component", "database").Error("Component close error")
	}

	if !sentry.Flush(config.SentryFlush) {
		a.logger.Warn("Sentry flush timed out")
	}

	if err := a.logger.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("Logger shutdown timed out")
	}
	if dropped := a.logger.RemoteDropped(); dropped > 0 {
		a.logger.WithField("dropped", dropped).Warn("Remote log records dropped")
	}

	a.logger.Info("Shutdown complete")
	return nil
}
