// Package snapshot shares the vector cache through R2. The indexer publishes
// a compressed copy of its sqlite cache per catalog version and embedding
// model; servers that start without a local vector set import it instead of
// re-embedding the whole catalog.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/garyellow/degree-advisor/internal/r2client"
	"github.com/garyellow/degree-advisor/internal/storage"
)

var (
	// ErrNotFound indicates no snapshot exists in R2 for the requested key.
	ErrNotFound = errors.New("snapshot: not found")
	// ErrLocked indicates another indexer is publishing the same snapshot.
	ErrLocked = errors.New("snapshot: publish lock held by another indexer")
)

// Metadata keys stored on snapshot objects.
const (
	metaCatalogVersion = "catalog-version"
	metaModel          = "model"
)

// Config holds snapshot manager configuration.
type Config struct {
	Prefix       string        // key prefix, e.g. "vector-cache"
	LockTTL      time.Duration // lease of the publish lock
	PollInterval time.Duration // how often a server without vectors checks for a snapshot
	TempDir      string
}

// Manager publishes and restores vector-cache snapshots.
type Manager struct {
	client *r2client.Client
	config Config

	mu          sync.RWMutex
	currentETag string

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a new snapshot manager.
func New(client *r2client.Client, cfg Config) *Manager {
	if cfg.Prefix == "" {
		cfg.Prefix = "vector-cache"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Manager{client: client, config: cfg}
}

// Key returns the object key of the snapshot for (version, model).
func (m *Manager) Key(version, model string) string {
	return m.config.Prefix + "/" + version + "/" + safeName(model) + ".db.zst"
}

func (m *Manager) lockKey(version, model string) string {
	return m.config.Prefix + "/" + version + "/" + safeName(model) + ".lock"
}

// safeName keeps model names like "mistral:mistral-embed" or
// "gemini-embedding-001@768" usable as a key segment.
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			return r
		}
		return '_'
	}, s)
}

// Publish uploads a snapshot of db for (version, model) and returns its ETag.
// It returns ErrLocked when another indexer is already publishing.
func (m *Manager) Publish(ctx context.Context, db *storage.DB, version, model string) (string, error) {
	lock := r2client.NewLock(m.client, m.lockKey(version, model), m.config.LockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("publish snapshot: %w", err)
	}
	if !acquired {
		return "", ErrLocked
	}

	renewCtx, stopRenew := context.WithCancel(ctx)
	renewDone := make(chan struct{})
	go m.renewLoop(renewCtx, lock, renewDone)
	defer func() {
		stopRenew()
		<-renewDone
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			slog.WarnContext(ctx, "Failed to release snapshot lock", "error", err)
		}
	}()

	start := time.Now()
	snapshotPath := filepath.Join(m.config.TempDir, fmt.Sprintf("snapshot_%d.db", time.Now().UnixNano()))
	if err := db.CreateSnapshot(ctx, snapshotPath); err != nil {
		return "", fmt.Errorf("publish snapshot: %w", err)
	}
	defer func() { _ = os.Remove(snapshotPath) }()

	compressedPath := snapshotPath + ".zst"
	if err := r2client.CompressFile(snapshotPath, compressedPath); err != nil {
		return "", fmt.Errorf("publish snapshot: %w", err)
	}
	defer func() { _ = os.Remove(compressedPath) }()

	f, err := os.Open(compressedPath)
	if err != nil {
		return "", fmt.Errorf("publish snapshot: open compressed file: %w", err)
	}
	defer func() { _ = f.Close() }()

	key := m.Key(version, model)
	etag, err := m.client.Upload(ctx, key, f, "application/zstd", map[string]string{
		metaCatalogVersion: version,
		metaModel:          model,
	})
	if err != nil {
		return "", fmt.Errorf("publish snapshot: %w", err)
	}

	m.setETag(etag)
	slog.InfoContext(ctx, "Snapshot published",
		"key", key,
		"etag", etag,
		"duration_ms", time.Since(start).Milliseconds())
	return etag, nil
}

// Restore downloads the snapshot for (version, model) and imports its
// vectors and missing enrichments into db. It returns ErrNotFound when no
// snapshot was published.
func (m *Manager) Restore(ctx context.Context, db *storage.DB, version, model string) (string, error) {
	key := m.Key(version, model)
	body, info, err := m.client.Download(ctx, key)
	if err != nil {
		if errors.Is(err, r2client.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("restore snapshot: %w", err)
	}
	defer func() { _ = body.Close() }()

	if v := info.Metadata[metaCatalogVersion]; v != "" && v != version {
		return "", fmt.Errorf("restore snapshot: %s holds catalog version %s", key, v)
	}

	dbPath := filepath.Join(m.config.TempDir, fmt.Sprintf("restore_%d.db", time.Now().UnixNano()))
	if err := r2client.DecompressStream(body, dbPath); err != nil {
		return "", fmt.Errorf("restore snapshot: %w", err)
	}
	defer removeDB(dbPath)

	if _, err := db.ImportSnapshot(ctx, dbPath, version, model); err != nil {
		return "", fmt.Errorf("restore snapshot: %w", err)
	}

	m.setETag(info.ETag)
	return info.ETag, nil
}

// StartPolling checks for a newer snapshot of (version, model) every
// PollInterval. When one is found it is restored into db and onRestore runs.
func (m *Manager) StartPolling(ctx context.Context, db *storage.DB, version, model string, onRestore func(context.Context) error) {
	pollCtx, cancel := context.WithCancel(ctx)
	m.pollCancel = cancel
	m.pollDone = make(chan struct{})

	go func() {
		defer close(m.pollDone)

		ticker := time.NewTicker(m.config.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				slog.Info("Snapshot polling stopped")
				return
			case <-ticker.C:
				m.pollOnce(pollCtx, db, version, model, onRestore)
			}
		}
	}()

	slog.Info("Snapshot polling started",
		"interval", m.config.PollInterval,
		"key", m.Key(version, model))
}

func (m *Manager) pollOnce(ctx context.Context, db *storage.DB, version, model string, onRestore func(context.Context) error) {
	info, err := m.client.Head(ctx, m.Key(version, model))
	if err != nil {
		if !errors.Is(err, r2client.ErrNotFound) {
			slog.WarnContext(ctx, "Snapshot poll: head object failed", "error", err)
		}
		return
	}
	if info.ETag == m.CurrentETag() {
		return
	}

	slog.InfoContext(ctx, "New snapshot detected",
		"old_etag", m.CurrentETag(),
		"new_etag", info.ETag)

	if _, err := m.Restore(ctx, db, version, model); err != nil {
		slog.ErrorContext(ctx, "Snapshot poll: restore failed", "error", err)
		return
	}
	if onRestore != nil {
		if err := onRestore(ctx); err != nil {
			slog.ErrorContext(ctx, "Snapshot poll: reload after restore failed", "error", err)
		}
	}
}

// StopPolling stops the background polling goroutine.
func (m *Manager) StopPolling() {
	if m.pollCancel != nil {
		m.pollCancel()
		<-m.pollDone
		m.pollCancel = nil
	}
}

func (m *Manager) renewLoop(ctx context.Context, lock *r2client.Lock, done chan struct{}) {
	defer close(done)

	interval := max(m.config.LockTTL/3, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed, err := lock.Renew(ctx)
			if err != nil {
				slog.WarnContext(ctx, "Snapshot lock renew failed", "error", err)
				return
			}
			if !renewed {
				slog.WarnContext(ctx, "Snapshot lock lost during renew")
				return
			}
		}
	}
}

// CurrentETag returns the ETag of the last published or restored snapshot.
func (m *Manager) CurrentETag() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentETag
}

func (m *Manager) setETag(etag string) {
	m.mu.Lock()
	m.currentETag = etag
	m.mu.Unlock()
}

func removeDB(path string) {
	_ = os.Remove(path)
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")
}
