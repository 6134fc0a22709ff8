package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Remote shipping defaults.
const (
	defaultRemoteQueue = 1024
	defaultRemoteGrace = 5 * time.Second
)

// RemoteOptions tunes the queue in front of the remote log sink.
type RemoteOptions struct {
	QueueSize int
	// Grace bounds how long Shutdown waits for queued records when its
	// context has no deadline.
	Grace time.Duration
}

type shipment struct {
	ctx     context.Context
	handler slog.Handler
	record  slog.Record
}

// remoteSink delivers records to a slow handler from one goroutine. When the
// queue is full the record is counted as dropped instead of blocking a turn.
type remoteSink struct {
	queue   chan shipment
	drained chan struct{}
	grace   time.Duration

	mu      sync.RWMutex // guards stopped against a send on the closed queue
	stopped bool
	dropped atomic.Uint64
}

func newRemoteSink(opts RemoteOptions) *remoteSink {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultRemoteQueue
	}
	grace := opts.Grace
	if grace <= 0 {
		grace = defaultRemoteGrace
	}
	s := &remoteSink{
		queue:   make(chan shipment, size),
		drained: make(chan struct{}),
		grace:   grace,
	}
	go s.deliver()
	return s
}

func (s *remoteSink) deliver() {
	defer close(s.drained)
	for sh := range s.queue {
		_ = sh.handler.Handle(sh.ctx, sh.record)
	}
}

// push queues r for h. The request context is detached so a finished turn
// does not cancel its own log shipment.
func (s *remoteSink) push(ctx context.Context, h slog.Handler, r slog.Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- shipment{ctx: context.WithoutCancel(ctx), handler: h, record: r}:
	default:
		s.dropped.Add(1)
	}
}

// stop closes the queue and waits for it to drain.
func (s *remoteSink) stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.queue)
	s.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.grace)
		defer cancel()
	}
	select {
	case <-s.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teeHandler writes each record to the local handler inline and hands a copy
// to the remote sink. Only the local write can fail the call.
type teeHandler struct {
	local  slog.Handler
	remote slog.Handler
	sink   *remoteSink
}

func newTeeHandler(local, remote slog.Handler, opts RemoteOptions) *teeHandler {
	return &teeHandler{local: local, remote: remote, sink: newRemoteSink(opts)}
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.local.Enabled(ctx, level) || h.remote.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.remote.Enabled(ctx, r.Level) {
		h.sink.push(ctx, h.remote, r.Clone())
	}
	if !h.local.Enabled(ctx, r.Level) {
		return nil
	}
	return h.local.Handle(ctx, r)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{local: h.local.WithAttrs(attrs), remote: h.remote.WithAttrs(attrs), sink: h.sink}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{local: h.local.WithGroup(name), remote: h.remote.WithGroup(name), sink: h.sink}
}
