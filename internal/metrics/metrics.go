package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Dialogue metrics
	TurnsTotal          *prometheus.CounterVec
	TurnDurationSeconds *prometheus.HistogramVec
	SessionsActive      prometheus.Gauge

	// Matcher metrics
	MatchTotal         *prometheus.CounterVec
	MatchCandidates    prometheus.Histogram
	IndexCourses       prometheus.Gauge
	IndexReady         prometheus.Gauge
	IndexBuildSeconds  prometheus.Histogram
	EnrichmentTotal    *prometheus.CounterVec
	VectorCacheLookups *prometheus.CounterVec

	// LLM metrics
	LLMTotal           *prometheus.CounterVec
	LLMDuration        *prometheus.HistogramVec
	LLMFallbackTotal   *prometheus.CounterVec
	LLMFallbackLatency *prometheus.HistogramVec

	// Scraper metrics
	ScraperRequestsTotal   *prometheus.CounterVec
	ScraperDurationSeconds prometheus.Histogram

	// HTTP metrics
	HTTPErrorsTotal *prometheus.CounterVec

	// Rate limiter metrics
	RateLimiterWaitDuration *prometheus.HistogramVec
	RateLimiterDropped      *prometheus.CounterVec
	RateLimiterKeys         *prometheus.GaugeVec

	// Singleflight metrics
	SingleflightDedupTotal *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		TurnsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_turns_total",
				Help: "Dialogue turns by context kind and outcome",
			},
			[]string{"kind", "outcome"}, // outcome: generated, retried, fixed, apology
		),

		TurnDurationSeconds: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "advisor_turn_duration_seconds",
				Help:    "End-to-end dialogue turn duration by context kind",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 90},
			},
			[]string{"kind"},
		),

		SessionsActive: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "advisor_sessions_active",
				Help: "Dialogue sessions currently held in memory",
			},
		),

		MatchTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_match_total",
				Help: "Matcher calls by retrieval path",
			},
			[]string{"path"}, // path: hybrid, keyword, none
		),

		MatchCandidates: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "advisor_match_candidates",
				Help:    "Candidates returned per matcher call",
				Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
			},
		),

		IndexCourses: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "advisor_index_courses",
				Help: "Courses held by the vector index",
			},
		),

		IndexReady: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "advisor_index_ready",
				Help: "1 when semantic search is available, 0 when only keyword matching is",
			},
		),

		IndexBuildSeconds: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "advisor_index_build_duration_seconds",
				Help:    "Duration of a full catalog embedding pass",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),

		EnrichmentTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_enrichment_total",
				Help: "Course enrichment attempts by status",
			},
			[]string{"status"}, // status: applied, cached, fetch_error, embed_error, empty
		),

		VectorCacheLookups: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_vector_cache_lookups_total",
				Help: "Vector cache lookups at startup by result",
			},
			[]string{"result"}, // result: hit, miss, snapshot
		),

		LLMTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_llm_requests_total",
				Help: "LLM API calls by provider, operation and status",
			},
			[]string{"provider", "operation", "status"}, // operation: generate, embed
		),

		LLMDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "advisor_llm_duration_seconds",
				Help:    "Successful LLM call duration by provider and operation",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "operation"},
		),

		LLMFallbackTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_llm_fallback_total",
				Help: "Provider fallbacks by source, target and operation",
			},
			[]string{"from", "to", "operation"},
		),

		LLMFallbackLatency: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "advisor_llm_fallback_latency_seconds",
				Help:    "Total latency of calls that needed a fallback provider",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"from", "to", "operation"},
		),

		ScraperRequestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_scraper_requests_total",
				Help: "Course detail page fetches by status",
			},
			[]string{"status"}, // status: success, error, timeout, not_found
		),

		ScraperDurationSeconds: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "advisor_scraper_duration_seconds",
				Help:    "Course detail page fetch duration in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 15},
			},
		),

		HTTPErrorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_http_errors_total",
				Help: "Total HTTP errors by type and route",
			},
			[]string{"error_type", "route"},
		),

		RateLimiterWaitDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "advisor_rate_limiter_wait_duration_seconds",
				Help:    "Time spent waiting for rate limiter token by limiter type",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"limiter_type"}, // limiter_type: scraper, embedding, session
		),

		RateLimiterDropped: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_rate_limiter_dropped_total",
				Help: "Total number of requests dropped by rate limiter",
			},
			[]string{"limiter_type"},
		),

		RateLimiterKeys: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "advisor_rate_limiter_keys",
				Help: "Keys (sessions, clients) currently tracked by a keyed rate limiter",
			},
			[]string{"limiter_type"},
		),

		SingleflightDedupTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_singleflight_dedup_total",
				Help: "Requests that waited on an identical in-flight call instead of executing",
			},
			[]string{"module"}, // module: scraper, enrichment
		),
	}

	return m
}

// RecordTurn records a completed dialogue turn
func (m *Metrics) RecordTurn(kind, outcome string, duration float64) {
	m.TurnsTotal.WithLabelValues(kind, outcome).Inc()
	m.TurnDurationSeconds.WithLabelValues(kind).Observe(duration)
}

// SetSessionsActive sets the in-memory session count
func (m *Metrics) SetSessionsActive(n int) {
	m.SessionsActive.Set(float64(n))
}

// RecordMatch records one matcher call
func (m *Metrics) RecordMatch(path string, candidates int) {
	m.MatchTotal.WithLabelValues(path).Inc()
	m.MatchCandidates.Observe(float64(candidates))
}

// SetIndexState publishes the vector index size and readiness
func (m *Metrics) SetIndexState(courses int, ready bool) {
	m.IndexCourses.Set(float64(courses))
	if ready {
		m.IndexReady.Set(1)
	} else {
		m.IndexReady.Set(0)
	}
}

// RecordIndexBuild records a full embedding pass
func (m *Metrics) RecordIndexBuild(duration float64) {
	m.IndexBuildSeconds.Observe(duration)
}

// RecordEnrichment records one enrichment attempt
func (m *Metrics) RecordEnrichment(status string) {
	m.EnrichmentTotal.WithLabelValues(status).Inc()
}

// RecordVectorCacheLookup records how the vector index was obtained at startup
func (m *Metrics) RecordVectorCacheLookup(result string) {
	m.VectorCacheLookups.WithLabelValues(result).Inc()
}

// RecordLLM records an LLM call. Duration is observed for successes only.
func (m *Metrics) RecordLLM(provider, operation, status string, duration float64) {
	m.LLMTotal.WithLabelValues(provider, operation, status).Inc()
	if status == "success" {
		m.LLMDuration.WithLabelValues(provider, operation).Observe(duration)
	}
}

// RecordLLMFallback records a switch to another provider
func (m *Metrics) RecordLLMFallback(from, to, operation string, totalDuration float64) {
	m.LLMFallbackTotal.WithLabelValues(from, to, operation).Inc()
	m.LLMFallbackLatency.WithLabelValues(from, to, operation).Observe(totalDuration)
}

// RecordScraperRequest records a scraper request with status
func (m *Metrics) RecordScraperRequest(status string, duration float64) {
	m.ScraperRequestsTotal.WithLabelValues(status).Inc()
	m.ScraperDurationSeconds.Observe(duration)
}

// RecordHTTPError records HTTP error metrics
func (m *Metrics) RecordHTTPError(errorType, route string) {
	m.HTTPErrorsTotal.WithLabelValues(errorType, route).Inc()
}

// RecordRateLimiterWait records time spent waiting for rate limiter
func (m *Metrics) RecordRateLimiterWait(limiterType string, duration float64) {
	m.RateLimiterWaitDuration.WithLabelValues(limiterType).Observe(duration)
}

// RecordRateLimiterDrop records a request dropped by rate limiter
func (m *Metrics) RecordRateLimiterDrop(limiterType string) {
	m.RateLimiterDropped.WithLabelValues(limiterType).Inc()
}

// SetRateLimiterKeys sets the number of tracked keys of a keyed limiter
func (m *Metrics) SetRateLimiterKeys(limiterType string, n int) {
	m.RateLimiterKeys.WithLabelValues(limiterType).Set(float64(n))
}

// RecordSingleflightDedup records a deduplicated request
func (m *Metrics) RecordSingleflightDedup(module string) {
	m.SingleflightDedupTotal.WithLabelValues(module).Inc()
}
