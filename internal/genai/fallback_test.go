package genai

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/garyellow/degree-advisor/internal/dialogue"
	"github.com/garyellow/degree-advisor/internal/metrics"
)

// fakeGenerator returns errs in order, then reply.
type fakeGenerator struct {
	provider Provider
	model    string
	reply    string
	errs     []error
	calls    atomic.Int32
	delay    time.Duration
}

func (f *fakeGenerator) Generate(ctx context.Context, _ []dialogue.Turn) (string, error) {
	n := int(f.calls.Add(1))
	if f.delay > 0 {
		if err := Sleep(ctx, f.delay); err != nil {
			return "", err
		}
	}
	if n <= len(f.errs) {
		return "", f.errs[n-1]
	}
	return f.reply, nil
}

func (f *fakeGenerator) Provider() Provider { return f.provider }
func (f *fakeGenerator) Model() string      { return f.model }
func (f *fakeGenerator) Close() error       { return nil }

var fastRetry = RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

var testTurns = []dialogue.Turn{
	{Role: dialogue.RoleSystem, Content: "You are an advisor."},
	{Role: dialogue.RoleUser, Content: "Recommend courses."},
}

func TestFallbackGenerator_PrimarySucceeds(t *testing.T) {
	primary := &fakeGenerator{provider: ProviderMistral, model: "small", reply: "primary"}
	secondary := &fakeGenerator{provider: ProviderGemini, model: "flash", reply: "secondary"}

	chain := NewFallbackGenerator(fastRetry, time.Second, nil, primary, secondary)
	got, err := chain.Generate(context.Background(), testTurns)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "primary" {
		t.Errorf("Generate() = %q, want primary", got)
	}
	if secondary.calls.Load() != 0 {
		t.Error("secondary should not be called when primary succeeds")
	}
}

func TestFallbackGenerator_RetriesTransientError(t *testing.T) {
	primary := &fakeGenerator{
		provider: ProviderMistral,
		model:    "small",
		reply:    "after retry",
		errs:     []error{errors.New("503 service unavailable")},
	}

	chain := NewFallbackGenerator(fastRetry, time.Second, nil, primary)
	got, err := chain.Generate(context.Background(), testTurns)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "after retry" || primary.calls.Load() != 2 {
		t.Errorf("got %q after %d calls, want retry success after 2", got, primary.calls.Load())
	}
}

func TestFallbackGenerator_FallsBackAndRecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	primary := &fakeGenerator{
		provider: ProviderMistral,
		model:    "small",
		errs:     []error{errors.New("monthly quota exceeded")},
	}
	secondary := &fakeGenerator{provider: ProviderGemini, model: "flash", reply: "from gemini"}

	chain := NewFallbackGenerator(fastRetry, time.Second, m, primary, secondary)
	got, err := chain.Generate(context.Background(), testTurns)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "from gemini" {
		t.Errorf("Generate() = %q, want fallback reply", got)
	}
	if primary.calls.Load() != 1 {
		t.Errorf("quota error should not be retried, got %d calls", primary.calls.Load())
	}
	if v := testutil.ToFloat64(m.LLMFallbackTotal.WithLabelValues("mistral", "gemini", "generate")); v != 1 {
		t.Errorf("fallback metric = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.LLMTotal.WithLabelValues("mistral", "generate", "quota")); v != 1 {
		t.Errorf("quota metric = %v, want 1", v)
	}
}

func TestFallbackGenerator_AllFail(t *testing.T) {
	primary := &fakeGenerator{provider: ProviderMistral, model: "small", errs: []error{withStatus(ProviderMistral, 401, errors.New("invalid api key"))}}
	secondary := &fakeGenerator{provider: ProviderGroq, model: "llama", errs: []error{errors.New("connection reset"), errors.New("connection reset")}}

	chain := NewFallbackGenerator(fastRetry, time.Second, nil, primary, secondary)
	_, err := chain.Generate(context.Background(), testTurns)
	if err == nil {
		t.Fatal("expected error when every generator fails")
	}
	if !strings.Contains(err.Error(), "mistral/small") || !strings.Contains(err.Error(), "groq/llama") {
		t.Errorf("error should name each failed model, got %v", err)
	}
}

func TestFallbackGenerator_GenerationConfigCallsEachModelOnce(t *testing.T) {
	overloaded := func(p Provider) error { return withStatus(p, 503, errors.New("overloaded")) }
	models := []*fakeGenerator{
		{provider: ProviderMistral, model: "small", errs: []error{overloaded(ProviderMistral), overloaded(ProviderMistral)}},
		{provider: ProviderMistral, model: "nemo", errs: []error{overloaded(ProviderMistral), overloaded(ProviderMistral)}},
		{provider: ProviderGemini, model: "flash", errs: []error{overloaded(ProviderGemini), overloaded(ProviderGemini)}},
	}

	chain := NewFallbackGenerator(GenerationRetryConfig(), time.Second, nil, models[0], models[1], models[2])
	_, err := chain.Generate(context.Background(), testTurns)
	if err == nil {
		t.Fatal("expected error when every model is overloaded")
	}
	for _, m := range models {
		if n := m.calls.Load(); n != 1 {
			t.Errorf("%s/%s called %d times, want 1", m.provider, m.model, n)
		}
	}
}

func TestFallbackGenerator_CallTimeout(t *testing.T) {
	slow := &fakeGenerator{provider: ProviderMistral, model: "slow", delay: time.Second, reply: "late"}
	fast := &fakeGenerator{provider: ProviderGemini, model: "fast", reply: "on time"}

	chain := NewFallbackGenerator(RetryConfig{MaxAttempts: 1}, 20*time.Millisecond, nil, slow, fast)
	got, err := chain.Generate(context.Background(), testTurns)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "on time" {
		t.Errorf("Generate() = %q, want the fast model's reply", got)
	}
}

func TestFallbackGenerator_CanceledContext(t *testing.T) {
	primary := &fakeGenerator{provider: ProviderMistral, model: "small", reply: "x"}
	chain := NewFallbackGenerator(fastRetry, time.Second, nil, primary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := chain.Generate(ctx, testTurns); !errors.Is(err, context.Canceled) {
		t.Errorf("Generate() error = %v, want context.Canceled", err)
	}
}

func TestFallbackGenerator_Empty(t *testing.T) {
	chain := NewFallbackGenerator(fastRetry, time.Second, nil, nil)
	if chain.Len() != 0 {
		t.Fatalf("nil generators should be skipped, Len() = %d", chain.Len())
	}
	if _, err := chain.Generate(context.Background(), testTurns); !errors.Is(err, ErrNoGenerator) {
		t.Errorf("Generate() error = %v, want ErrNoGenerator", err)
	}
	if chain.Provider() != "" {
		t.Errorf("Provider() = %q, want empty", chain.Provider())
	}
}

func TestFallbackGenerator_Model(t *testing.T) {
	chain := NewFallbackGenerator(fastRetry, 0, nil,
		&fakeGenerator{provider: ProviderMistral, model: "small"},
		&fakeGenerator{provider: ProviderGemini, model: "flash"},
	)
	if got := chain.Model(); got != "mistral/small,gemini/flash" {
		t.Errorf("Model() = %q", got)
	}
	if chain.Provider() != ProviderMistral {
		t.Errorf("Provider() = %q, want mistral", chain.Provider())
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("quota exceeded"), "quota"},
		{withStatus(ProviderGroq, 429, errors.New("slow down")), "rate_limit"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := statusLabel(tt.err); got != tt.want {
			t.Errorf("statusLabel(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
