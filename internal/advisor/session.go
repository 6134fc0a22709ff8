package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garyellow/degree-advisor/internal/dialogue"
	apperrors "github.com/garyellow/degree-advisor/internal/errors"
	"github.com/garyellow/degree-advisor/internal/metrics"
	"github.com/garyellow/degree-advisor/internal/profile"
)

// Session is one student's conversation. The profile is fixed at creation;
// the history only grows.
type Session struct {
	ID        string
	Profile   profile.StudentProfile
	CreatedAt time.Time

	turnMu sync.Mutex // one turn at a time per session

	mu         sync.RWMutex
	history    dialogue.History
	lastActive time.Time
}

// History returns the turns so far. The returned slice is never modified.
func (s *Session) History() dialogue.History {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history
}

// LastActive returns when the session last completed a turn.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

func (s *Session) append(now time.Time, turns ...dialogue.Turn) {
	s.mu.Lock()
	s.history = s.history.Append(turns...)
	s.lastActive = now
	s.mu.Unlock()
}

// SessionStore holds sessions in memory and evicts idle ones.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
	onEvict  func(id string)
}

// NewSessionStore creates a store evicting sessions idle for longer than ttl.
func NewSessionStore(ttl time.Duration, m *metrics.Metrics) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		metrics:  m,
	}
}

// OnEvict registers a callback run after a session is deleted or swept.
func (st *SessionStore) OnEvict(fn func(id string)) {
	st.mu.Lock()
	st.onEvict = fn
	st.mu.Unlock()
}

// Create stores a new session for p.
func (st *SessionStore) Create(p profile.StudentProfile) *Session {
	now := st.now()
	s := &Session{
		ID:         uuid.NewString(),
		Profile:    p,
		CreatedAt:  now,
		lastActive: now,
	}

	st.mu.Lock()
	st.sessions[s.ID] = s
	n := len(st.sessions)
	st.mu.Unlock()

	st.report(n)
	return s
}

// Get returns the session with id.
func (st *SessionStore) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, apperrors.ErrSessionNotFound)
	}
	return s, nil
}

// Delete removes a session. Unknown ids are ignored.
func (st *SessionStore) Delete(id string) {
	st.mu.Lock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	n := len(st.sessions)
	onEvict := st.onEvict
	st.mu.Unlock()

	if ok {
		st.report(n)
		if onEvict != nil {
			onEvict(id)
		}
	}
}

// Len returns the number of live sessions.
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep evicts sessions idle for longer than the TTL and returns how many
// were removed.
func (st *SessionStore) Sweep() int {
	cutoff := st.now().Add(-st.ttl)

	st.mu.Lock()
	var evicted []string
	for id, s := range st.sessions {
		if s.LastActive().Before(cutoff) {
			delete(st.sessions, id)
			evicted = append(evicted, id)
		}
	}
	n := len(st.sessions)
	onEvict := st.onEvict
	st.mu.Unlock()

	st.report(n)
	if onEvict != nil {
		for _, id := range evicted {
			onEvict(id)
		}
	}
	return len(evicted)
}

// RunSweeper sweeps every interval until ctx is done.
func (st *SessionStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := st.Sweep(); n > 0 {
				slog.InfoContext(ctx, "Idle sessions evicted", "count", n, "remaining", st.Len())
			}
		}
	}
}

func (st *SessionStore) report(n int) {
	if st.metrics != nil {
		st.metrics.SetSessionsActive(n)
	}
}
