// Package config provides application configuration management.
// It loads settings from environment variables (optionally via a .env file)
// and provides defaults for the server and indexer binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ValidationMode selects which fields are required.
type ValidationMode int

const (
	// ServerMode requires everything needed to serve dialogue turns.
	ServerMode ValidationMode = iota
	// IndexerMode only needs the catalog and an embedding provider.
	IndexerMode
)

// DefaultRubricWeights are the completeness rubric weights in dimension order:
// marks, interests, aspiration, academic-interest narrative, activity narrative.
var DefaultRubricWeights = []int{25, 20, 25, 20, 10}

// Config holds all application configuration
type Config struct {
	// Server Configuration
	Port            string
	LogLevel        string
	ShutdownTimeout time.Duration
	ServerName      string
	AdminToken      string // Bearer token for catalog admin routes (empty = routes disabled)

	// Data Configuration
	DataDir      string // Directory for the SQLite vector cache
	CatalogPath  string // JSON catalog of course records
	TaxonomyPath string // Optional vocabulary override (empty = embedded default)

	// Profile rubric
	RubricThreshold int
	RubricWeights   []int

	// Matcher
	TopK             int     // General retrieval size
	PresentK         int     // Courses presented to the student
	ContextThreshold float64 // Minimum cosine similarity for a context course
	ContextWindow    int     // Recent messages scanned for the context course
	HybridBM25Weight float64 // BM25 share in rank fusion (0 = pure cosine)
	EmbedBatchSize   int
	EmbedConcurrency int

	// Rate limits (0 disables a limit)
	TurnBurst            int     // Turns a session may send back to back
	TurnRatePerMinute    float64 // Sustained turns per session
	SessionBurst         int     // Sessions a client may open back to back
	SessionRatePerMinute float64 // Sustained session creations per client
	SessionHourlyLimit   int     // Rolling one-hour cap on session creations per client
	GenerationRPM        int     // Process-wide generator calls per minute

	// Scraper Configuration
	ScraperTimeout    time.Duration
	ScraperMaxRetries int

	// LLM Configuration
	LLMProviders        []string // Generation provider order
	EmbeddingProvider   string   // "gemini" or "mistral"
	GeminiAPIKey        string
	MistralAPIKey       string
	GroqAPIKey          string
	CerebrasAPIKey      string
	GeminiModels        []string
	MistralModels       []string
	GroqModels          []string
	CerebrasModels      []string
	GenerationTemp      float64
	GenerationMaxTokens int

	// R2 Snapshot
	R2Enabled         bool
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2SnapshotPrefix  string
	R2DeltaPrefix     string // Enrichment delta log written by servers, merged by the indexer
	R2PollInterval    time.Duration // How often a keyword-only server looks for a snapshot

	// Sentry (Better Stack errors)
	SentryToken       string
	SentryHost        string
	SentryEnvironment string
	SentryRelease     string
	SentrySampleRate  float64

	// Better Stack logs
	BetterStackToken    string
	BetterStackEndpoint string

	// Metrics Authentication
	MetricsUsername string
	MetricsPassword string
}

// Load reads configuration for server mode.
func Load() (*Config, error) {
	return LoadForMode(ServerMode)
}

// LoadForMode reads configuration from environment variables.
// It attempts to load .env file first, then reads from env vars.
func LoadForMode(mode ValidationMode) (*Config, error) {
	// Ignore error if .env doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv(EnvPort, "10000"),
		LogLevel:        getEnv(EnvLogLevel, "info"),
		ShutdownTimeout: getDurationEnv(EnvShutdownTimeout, GracefulShutdown),
		ServerName:      getEnv(EnvServerName, ""),
		AdminToken:      getEnv(EnvAdminToken, ""),

		DataDir:      getEnv(EnvDataDir, getDefaultDataDir()),
		CatalogPath:  getEnv(EnvCatalogPath, "courses.json"),
		TaxonomyPath: getEnv(EnvTaxonomyPath, ""),

		RubricThreshold: getIntEnv(EnvRubricThreshold, 70),
		RubricWeights:   getIntListEnv(EnvRubricWeights, DefaultRubricWeights),

		TopK:             getIntEnv(EnvTopK, 10),
		PresentK:         getIntEnv(EnvPresentK, 3),
		ContextThreshold: getFloatEnv(EnvContextThreshold, 0.4),
		ContextWindow:    getIntEnv(EnvContextWindow, 5),
		HybridBM25Weight: getFloatEnv(EnvHybridBM25Weight, 0.4),
		EmbedBatchSize:   getIntEnv(EnvEmbedBatchSize, 32),
		EmbedConcurrency: getIntEnv(EnvEmbedConcurrency, 4),

		TurnBurst:            getIntEnv(EnvTurnBurst, 6),
		TurnRatePerMinute:    getFloatEnv(EnvTurnRatePerMinute, 12),
		SessionBurst:         getIntEnv(EnvSessionBurst, 3),
		SessionRatePerMinute: getFloatEnv(EnvSessionRatePerMinute, 6),
		SessionHourlyLimit:   getIntEnv(EnvSessionHourlyLimit, 30),
		GenerationRPM:        getIntEnv(EnvGenerationRPM, 60),

		ScraperTimeout:    getDurationEnv(EnvScraperTimeout, ScraperRequest),
		ScraperMaxRetries: getIntEnv(EnvScraperMaxRetries, 3),

		LLMProviders:        getListEnv(EnvLLMProviders, []string{"mistral", "gemini"}),
		EmbeddingProvider:   strings.ToLower(getEnv(EnvEmbeddingProvider, "gemini")),
		GeminiAPIKey:        getEnv(EnvGeminiAPIKey, ""),
		MistralAPIKey:       getEnv(EnvMistralAPIKey, ""),
		GroqAPIKey:          getEnv(EnvGroqAPIKey, ""),
		CerebrasAPIKey:      getEnv(EnvCerebrasAPIKey, ""),
		GeminiModels:        getListEnv(EnvGeminiModels, nil),
		MistralModels:       getListEnv(EnvMistralModels, nil),
		GroqModels:          getListEnv(EnvGroqModels, nil),
		CerebrasModels:      getListEnv(EnvCerebrasModels, nil),
		GenerationTemp:      getFloatEnv(EnvGenerationTemp, 0.7),
		GenerationMaxTokens: getIntEnv(EnvGenerationMaxTokens, 800),

		R2Enabled:         getBoolEnv(EnvR2Enabled, false),
		R2AccountID:       getEnv(EnvR2AccountID, ""),
		R2AccessKeyID:     getEnv(EnvR2AccessKeyID, ""),
		R2SecretAccessKey: getEnv(EnvR2SecretAccessKey, ""),
		R2BucketName:      getEnv(EnvR2BucketName, ""),
		R2SnapshotPrefix:  getEnv(EnvR2SnapshotPrefix, "snapshots/vectors"),
		R2DeltaPrefix:     getEnv(EnvR2DeltaPrefix, "deltas/enrichments"),
		R2PollInterval:    getDurationEnv(EnvR2PollInterval, SnapshotPoll),

		SentryToken:       getEnv(EnvSentryToken, ""),
		SentryHost:        getEnv(EnvSentryHost, ""),
		SentryEnvironment: getEnv(EnvSentryEnvironment, "production"),
		SentryRelease:     getEnv(EnvSentryRelease, ""),
		SentrySampleRate:  getFloatEnv(EnvSentrySampleRate, 1.0),

		BetterStackToken:    getEnv(EnvBetterStackToken, ""),
		BetterStackEndpoint: getEnv(EnvBetterStackEndpoint, ""),

		MetricsUsername: getEnv(EnvMetricsUsername, "prometheus"),
		MetricsPassword: getEnv(EnvMetricsPassword, ""),
	}

	if err := cfg.ValidateForMode(mode); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks server-mode requirements.
func (c *Config) Validate() error {
	return c.ValidateForMode(ServerMode)
}

// ValidateForMode checks that required configuration values are set and sane.
func (c *Config) ValidateForMode(mode ValidationMode) error {
	var errs []error

	if mode == ServerMode && c.Port == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvPort))
	}
	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvDataDir))
	}
	if c.CatalogPath == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvCatalogPath))
	}
	if c.RubricThreshold < 0 || c.RubricThreshold > 100 {
		errs = append(errs, fmt.Errorf("%s must be in [0,100], got %d", EnvRubricThreshold, c.RubricThreshold))
	}
	if len(c.RubricWeights) != len(DefaultRubricWeights) {
		errs = append(errs, fmt.Errorf("%s needs %d weights, got %d", EnvRubricWeights, len(DefaultRubricWeights), len(c.RubricWeights)))
	} else {
		sum := 0
		for _, w := range c.RubricWeights {
			if w < 0 {
				errs = append(errs, fmt.Errorf("%s weights cannot be negative", EnvRubricWeights))
			}
			sum += w
		}
		if sum != 100 {
			errs = append(errs, fmt.Errorf("%s must total 100, got %d", EnvRubricWeights, sum))
		}
	}
	if c.TopK <= 0 || c.PresentK <= 0 || c.PresentK > c.TopK {
		errs = append(errs, fmt.Errorf("need 0 < %s <= %s, got %d and %d", EnvPresentK, EnvTopK, c.PresentK, c.TopK))
	}
	if c.ContextThreshold < -1 || c.ContextThreshold > 1 {
		errs = append(errs, fmt.Errorf("%s must be a cosine similarity, got %v", EnvContextThreshold, c.ContextThreshold))
	}
	if c.ContextWindow <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", EnvContextWindow, c.ContextWindow))
	}
	if c.HybridBM25Weight < 0 || c.HybridBM25Weight > 1 {
		errs = append(errs, fmt.Errorf("%s must be in [0,1], got %v", EnvHybridBM25Weight, c.HybridBM25Weight))
	}
	if c.EmbedBatchSize <= 0 || c.EmbedConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("%s and %s must be positive", EnvEmbedBatchSize, EnvEmbedConcurrency))
	}
	if c.TurnBurst < 0 || c.TurnRatePerMinute < 0 || c.SessionBurst < 0 || c.SessionRatePerMinute < 0 ||
		c.SessionHourlyLimit < 0 || c.GenerationRPM < 0 {
		errs = append(errs, errors.New("rate limits cannot be negative"))
	}
	if c.ScraperTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %v", EnvScraperTimeout, c.ScraperTimeout))
	}
	if c.ScraperMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("%s cannot be negative, got %d", EnvScraperMaxRetries, c.ScraperMaxRetries))
	}
	if c.GenerationMaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", EnvGenerationMaxTokens, c.GenerationMaxTokens))
	}
	switch c.EmbeddingProvider {
	case "gemini", "mistral":
	default:
		errs = append(errs, fmt.Errorf("%s must be gemini or mistral, got %q", EnvEmbeddingProvider, c.EmbeddingProvider))
	}
	if c.R2Enabled {
		if c.R2AccountID == "" || c.R2AccessKeyID == "" || c.R2SecretAccessKey == "" || c.R2BucketName == "" {
			errs = append(errs, errors.New("R2 snapshot requires account id, access key id, secret access key, and bucket name"))
		}
	}
	if c.SentryToken != "" && c.SentryHost == "" {
		errs = append(errs, fmt.Errorf("%s is required when %s is set", EnvSentryHost, EnvSentryToken))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// getEnv retrieves environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves integer environment variable with fallback to default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getDurationEnv retrieves duration environment variable with fallback to default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getFloatEnv retrieves float64 environment variable with fallback to default value
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getListEnv splits a comma-separated value, dropping blanks.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for part := range strings.SplitSeq(value, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getIntListEnv parses "25,20,25,20,10". Any malformed entry yields the default.
func getIntListEnv(key string, defaultValue []int) []int {
	parts := getListEnv(key, nil)
	if parts == nil {
		return append([]int(nil), defaultValue...)
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return append([]int(nil), defaultValue...)
		}
		out = append(out, n)
	}
	return out
}

// getDefaultDataDir returns platform-specific default data directory
func getDefaultDataDir() string {
	if runtime.GOOS == "windows" {
		return "./data"
	}
	return "/data"
}

// SQLitePath returns the full path to the SQLite vector cache
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "vectors.db")
}

// R2Endpoint returns the account-scoped R2 endpoint.
func (c *Config) R2Endpoint() string {
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.R2AccountID)
}

// HasLLMProvider returns true if at least one generation provider has a key.
func (c *Config) HasLLMProvider() bool {
	return c.GeminiAPIKey != "" || c.MistralAPIKey != "" || c.GroqAPIKey != "" || c.CerebrasAPIKey != ""
}

// EmbeddingAPIKey returns the key for the configured embedding provider.
func (c *Config) EmbeddingAPIKey() string {
	if c.EmbeddingProvider == "mistral" {
		return c.MistralAPIKey
	}
	return c.GeminiAPIKey
}
