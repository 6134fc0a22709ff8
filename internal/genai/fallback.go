package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/garyellow/degree-advisor/internal/dialogue"
	"github.com/garyellow/degree-advisor/internal/metrics"
)

// ErrNoGenerator is returned when no generation provider is configured.
var ErrNoGenerator = errors.New("no generation provider configured")

// minCallBudget is the least remaining deadline worth starting another
// model in the chain with.
const minCallBudget = 2 * time.Second

// FallbackGenerator tries each generator in order. Each one is retried with
// backoff on transient errors before the chain moves on.
type FallbackGenerator struct {
	chain       []Generator
	retry       RetryConfig
	callTimeout time.Duration
	metrics     *metrics.Metrics
}

// NewFallbackGenerator creates a chain from generators; nil entries are
// skipped. m may be nil.
func NewFallbackGenerator(retry RetryConfig, callTimeout time.Duration, m *metrics.Metrics, generators ...Generator) *FallbackGenerator {
	chain := make([]Generator, 0, len(generators))
	for _, g := range generators {
		if g != nil {
			chain = append(chain, g)
		}
	}
	return &FallbackGenerator{
		chain:       chain,
		retry:       retry,
		callTimeout: callTimeout,
		metrics:     m,
	}
}

// Len returns the number of generators in the chain.
func (f *FallbackGenerator) Len() int { return len(f.chain) }

// Generate returns the first successful reply in chain order.
func (f *FallbackGenerator) Generate(ctx context.Context, msgs []dialogue.Turn) (string, error) {
	if len(f.chain) == 0 {
		return "", ErrNoGenerator
	}

	start := time.Now()
	var errs []error
	for i, g := range f.chain {
		if i > 0 && !HasSufficientBudget(ctx, minCallBudget) {
			slog.WarnContext(ctx, "generation budget exhausted, skipping remaining fallbacks",
				"remaining", RemainingBudget(ctx),
				"skipped", len(f.chain)-i)
			break
		}

		reply, err := f.generateWithRetry(ctx, g, msgs)
		if err == nil {
			if i > 0 && f.metrics != nil {
				f.metrics.RecordLLMFallback(f.chain[0].Provider().String(), g.Provider().String(), "generate", time.Since(start).Seconds())
			}
			return reply, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		errs = append(errs, fmt.Errorf("%s/%s: %w", g.Provider(), g.Model(), err))
		if i < len(f.chain)-1 {
			next := f.chain[i+1]
			slog.WarnContext(ctx, "generator failed, falling back",
				"from_provider", g.Provider(),
				"from_model", g.Model(),
				"to_provider", next.Provider(),
				"to_model", next.Model(),
				"action", Classify(err).String(),
				"error", err)
		}
	}

	return "", fmt.Errorf("all generators failed: %w", errors.Join(errs...))
}

func (f *FallbackGenerator) generateWithRetry(ctx context.Context, g Generator, msgs []dialogue.Turn) (string, error) {
	var reply string
	onRetry := func(attempt int, err error) {
		slog.DebugContext(ctx, "retrying generation",
			"provider", g.Provider(),
			"model", g.Model(),
			"attempt", attempt,
			"error", err)
	}

	err := WithRetry(ctx, f.retry, onRetry, func() error {
		callCtx := ctx
		if f.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, f.callTimeout)
			defer cancel()
		}

		start := time.Now()
		out, err := g.Generate(callCtx, msgs)
		if f.metrics != nil {
			f.metrics.RecordLLM(g.Provider().String(), "generate", statusLabel(err), time.Since(start).Seconds())
		}
		if err != nil {
			return err
		}
		reply = out
		return nil
	})
	return reply, err
}

// Provider returns the primary provider.
func (f *FallbackGenerator) Provider() Provider {
	if len(f.chain) == 0 {
		return ""
	}
	return f.chain[0].Provider()
}

// Model describes the chain as provider/model pairs.
func (f *FallbackGenerator) Model() string {
	parts := make([]string, len(f.chain))
	for i, g := range f.chain {
		parts[i] = g.Provider().String() + "/" + g.Model()
	}
	return strings.Join(parts, ",")
}

// Close closes every generator in the chain.
func (f *FallbackGenerator) Close() error {
	var errs []error
	for _, g := range f.chain {
		if err := g.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// statusLabel maps a call result to the metrics status label.
func statusLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case Classify(err) == NextModel:
		return "quota"
	case httpStatus(err) == http.StatusTooManyRequests:
		return "rate_limit"
	}
	return "error"
}
