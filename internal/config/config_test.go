package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "10000", cfg.Port)
	assert.Equal(t, 70, cfg.RubricThreshold)
	assert.Equal(t, []int{25, 20, 25, 20, 10}, cfg.RubricWeights)
	assert.Equal(t, 10, cfg.TopK)
	assert.Equal(t, 3, cfg.PresentK)
	assert.InDelta(t, 0.4, cfg.ContextThreshold, 1e-9)
	assert.Equal(t, 5, cfg.ContextWindow)
	assert.InDelta(t, 0.4, cfg.HybridBM25Weight, 1e-9)
	assert.Equal(t, []string{"mistral", "gemini"}, cfg.LLMProviders)
	assert.Equal(t, 800, cfg.GenerationMaxTokens)
	assert.Equal(t, GracefulShutdown, cfg.ShutdownTimeout)
	assert.Equal(t, 6, cfg.TurnBurst)
	assert.Equal(t, 30, cfg.SessionHourlyLimit)
	assert.Equal(t, 60, cfg.GenerationRPM)
	assert.Equal(t, SnapshotPoll, cfg.R2PollInterval)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvRubricWeights, "30, 20, 20, 20, 10")
	t.Setenv(EnvRubricThreshold, "60")
	t.Setenv(EnvLLMProviders, "Gemini, ,groq")
	t.Setenv(EnvScraperTimeout, "5s")
	t.Setenv(EnvGenerationRPM, "0")
	t.Setenv(EnvR2PollInterval, "1m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []int{30, 20, 20, 20, 10}, cfg.RubricWeights)
	assert.Equal(t, 60, cfg.RubricThreshold)
	assert.Equal(t, []string{"gemini", "groq"}, cfg.LLMProviders)
	assert.Equal(t, 5*time.Second, cfg.ScraperTimeout)
	assert.Equal(t, 0, cfg.GenerationRPM)
	assert.Equal(t, time.Minute, cfg.R2PollInterval)
}

func TestLoad_MalformedWeightsFallBack(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvRubricWeights, "25,twenty,25,20,10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultRubricWeights, cfg.RubricWeights)
}

func validConfig() *Config {
	return &Config{
		Port:                "10000",
		DataDir:             "/tmp",
		CatalogPath:         "courses.json",
		RubricThreshold:     70,
		RubricWeights:       []int{25, 20, 25, 20, 10},
		TopK:                10,
		PresentK:            3,
		ContextThreshold:    0.4,
		ContextWindow:       5,
		HybridBM25Weight:    0.4,
		EmbedBatchSize:      32,
		EmbedConcurrency:    4,
		ScraperTimeout:      time.Second,
		EmbeddingProvider:   "gemini",
		GenerationMaxTokens: 800,
	}
}

func TestValidateForMode(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		mode        ValidationMode
		errContains string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "weights must total 100", mutate: func(c *Config) { c.RubricWeights = []int{25, 20, 25, 20, 20} }, errContains: "must total 100"},
		{name: "weights count", mutate: func(c *Config) { c.RubricWeights = []int{50, 50} }, errContains: "needs 5 weights"},
		{name: "threshold range", mutate: func(c *Config) { c.RubricThreshold = 101 }, errContains: EnvRubricThreshold},
		{name: "present above top", mutate: func(c *Config) { c.PresentK = 11 }, errContains: EnvPresentK},
		{name: "bm25 weight range", mutate: func(c *Config) { c.HybridBM25Weight = 1.5 }, errContains: EnvHybridBM25Weight},
		{name: "embedding provider", mutate: func(c *Config) { c.EmbeddingProvider = "groq" }, errContains: EnvEmbeddingProvider},
		{name: "negative rate limit", mutate: func(c *Config) { c.SessionHourlyLimit = -1 }, errContains: "rate limits"},
		{name: "r2 incomplete", mutate: func(c *Config) { c.R2Enabled = true }, errContains: "R2 snapshot"},
		{name: "sentry host", mutate: func(c *Config) { c.SentryToken = "tok" }, errContains: EnvSentryHost},
		{name: "port required in server mode", mutate: func(c *Config) { c.Port = "" }, errContains: EnvPort},
		{name: "port optional in indexer mode", mutate: func(c *Config) { c.Port = "" }, mode: IndexerMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.ValidateForMode(tt.mode)
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.errContains), "error %q should contain %q", err, tt.errContains)
		})
	}
}

func TestHelpers(t *testing.T) {
	cfg := validConfig()
	cfg.DataDir = "/var/lib/advisor"
	cfg.R2AccountID = "acc"
	assert.Equal(t, "/var/lib/advisor/vectors.db", cfg.SQLitePath())
	assert.Equal(t, "https://acc.r2.cloudflarestorage.com", cfg.R2Endpoint())
	assert.False(t, cfg.HasLLMProvider())

	cfg.MistralAPIKey = "m"
	cfg.EmbeddingProvider = "mistral"
	assert.True(t, cfg.HasLLMProvider())
	assert.Equal(t, "m", cfg.EmbeddingAPIKey())
}
