package config

import (
	"testing"
	"time"
)

func TestTimeoutRelationships(t *testing.T) {
	tests := []struct {
		name  string
		check bool
	}{
		{"write timeout covers turn processing", HTTPWrite > TurnProcessing},
		{"turn covers fetch plus two generations", TurnProcessing >= ContentFetch+2*Generation},
		{"scraper request fits in content fetch", ScraperRequest <= ContentFetch},
		{"readiness is short", ReadinessCheck < 5*time.Second},
		{"retry initial below request timeout", ScraperRetryInitial < ScraperRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check {
				t.Errorf("%s violated", tt.name)
			}
		})
	}
}

func TestTimeoutsPositive(t *testing.T) {
	all := map[string]time.Duration{
		"HTTPRead":                HTTPRead,
		"HTTPIdle":                HTTPIdle,
		"Embedding":               Embedding,
		"IndexBuild":              IndexBuild,
		"ScraperRateLimit":        ScraperRateLimit,
		"ScraperMaxDelay":         ScraperMaxDelay,
		"DatabaseBusyTimeout":     DatabaseBusyTimeout,
		"DatabaseConnMaxLifetime": DatabaseConnMaxLifetime,
		"SnapshotDownload":        SnapshotDownload,
		"SnapshotUpload":          SnapshotUpload,
		"SnapshotPoll":            SnapshotPoll,
		"SnapshotLockTTL":         SnapshotLockTTL,
		"MetricsUpdateInterval":   MetricsUpdateInterval,
		"SessionSweepInterval":    SessionSweepInterval,
		"SessionIdleTTL":          SessionIdleTTL,
		"GracefulShutdown":        GracefulShutdown,
		"SentryFlush":             SentryFlush,
	}
	for name, d := range all {
		if d <= 0 {
			t.Errorf("%s = %v, want > 0", name, d)
		}
	}
}
