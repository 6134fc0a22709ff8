package advisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyellow/degree-advisor/internal/dialogue"
	apperrors "github.com/garyellow/degree-advisor/internal/errors"
)

func TestSessionStore_CreateGetDelete(t *testing.T) {
	t.Parallel()
	m := newTestMetrics()
	st := NewSessionStore(time.Hour, m)

	var evicted []string
	st.OnEvict(func(id string) { evicted = append(evicted, id) })

	a := st.Create(techProfile())
	b := st.Create(techProfile())
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, st.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsActive))

	got, err := st.Get(a.ID)
	require.NoError(t, err)
	assert.Same(t, a, got)

	st.Delete(a.ID)
	st.Delete(a.ID)
	_, err = st.Get(a.ID)
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	assert.Equal(t, []string{a.ID}, evicted, "unknown ids must not fire the callback")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
}

func TestSessionStore_Sweep(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := NewSessionStore(30*time.Minute, nil)
	st.now = func() time.Time { return now }

	idle := st.Create(techProfile())
	active := st.Create(techProfile())

	now = now.Add(20 * time.Minute)
	active.append(now, dialogue.Turn{Role: dialogue.RoleAssistant, Content: "hello"})

	now = now.Add(15 * time.Minute)
	var evicted []string
	st.OnEvict(func(id string) { evicted = append(evicted, id) })

	assert.Equal(t, 1, st.Sweep())
	assert.Equal(t, []string{idle.ID}, evicted)
	_, err := st.Get(active.ID)
	assert.NoError(t, err)

	assert.Equal(t, 0, st.Sweep())
}

func TestSessionStore_RunSweeperStops(t *testing.T) {
	t.Parallel()
	st := NewSessionStore(time.Nanosecond, nil)
	st.Create(techProfile())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		st.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return st.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}

func TestSession_HistoryIsStable(t *testing.T) {
	t.Parallel()
	st := NewSessionStore(time.Hour, nil)
	s := st.Create(techProfile())

	s.append(time.Now(), dialogue.Turn{Role: dialogue.RoleAssistant, Content: "one"})
	snapshot := s.History()
	s.append(time.Now(),
		dialogue.Turn{Role: dialogue.RoleUser, Content: "two"},
		dialogue.Turn{Role: dialogue.RoleAssistant, Content: "three"})

	require.Len(t, snapshot, 1)
	assert.Equal(t, "one", snapshot[0].Content)
	assert.Len(t, s.History(), 3)
}

func TestSession_ConcurrentAppend(t *testing.T) {
	t.Parallel()
	st := NewSessionStore(time.Hour, nil)
	s := st.Create(techProfile())

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			s.append(time.Now(), dialogue.Turn{Role: dialogue.RoleUser, Content: "x"})
			_ = s.History()
			_ = s.LastActive()
		})
	}
	wg.Wait()
	assert.Len(t, s.History(), 50)
}
