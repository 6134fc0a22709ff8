// Package advisor runs dialogue turns. One turn classifies the student's
// message, retrieves candidate courses, fetches course details on demand,
// assembles the grounded generation context and calls the generator, with a
// single reduced-context retry before falling back to a fixed apology.
//
// Every turn ends with a reply. Failures of the matcher backend, the detail
// fetch and the generator degrade the answer; none of them reach the caller.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/config"
	"github.com/garyellow/degree-advisor/internal/ctxutil"
	"github.com/garyellow/degree-advisor/internal/dialogue"
	apperrors "github.com/garyellow/degree-advisor/internal/errors"
	"github.com/garyellow/degree-advisor/internal/intent"
	"github.com/garyellow/degree-advisor/internal/metrics"
	"github.com/garyellow/degree-advisor/internal/profile"
	"github.com/garyellow/degree-advisor/internal/prompt"
	"github.com/garyellow/degree-advisor/internal/rag"
	"github.com/garyellow/degree-advisor/internal/ratelimit"
	"github.com/garyellow/degree-advisor/internal/sentry"
)

// Turn outcomes reported to metrics.
const (
	OutcomeGenerated = "generated"
	OutcomeRetried   = "retried"
	OutcomeFixed     = "fixed"
	OutcomeApology   = "apology"
)

// Generator produces an assistant reply from an ordered message list.
type Generator interface {
	Generate(ctx context.Context, msgs []dialogue.Turn) (string, error)
}

// DetailFetcher fetches the detail page of one course.
type DetailFetcher interface {
	FetchCourseDetail(ctx context.Context, url string) (*catalog.Enrichment, error)
}

// Options tunes the turn pipeline. Zero durations take the config defaults.
type Options struct {
	FetchTimeout      time.Duration
	GenerationTimeout time.Duration
}

// Deps are the collaborators of an Advisor. Generator, Fetcher, Store,
// Deltas and GenerationLimiter may be nil.
type Deps struct {
	Builder           *profile.Builder
	Assembler         *prompt.Assembler
	Sessions          *SessionStore
	Generator         Generator
	Fetcher           DetailFetcher
	Store             Store
	Deltas            EnrichmentRecorder
	GenerationLimiter *ratelimit.Limiter
	Metrics           *metrics.Metrics
	Options           Options
}

// Advisor is safe for concurrent use. Turns of different sessions run in
// parallel; turns of one session are serialized.
type Advisor struct {
	engine atomic.Pointer[Engine]

	builder    *profile.Builder
	assembler  *prompt.Assembler
	sessions   *SessionStore
	generator  Generator
	fetcher    DetailFetcher
	store      Store
	deltas     EnrichmentRecorder
	genLimiter *ratelimit.Limiter
	metrics    *metrics.Metrics
	opts       Options
}

// New creates an Advisor serving engine.
func New(engine *Engine, d Deps) *Advisor {
	if d.Options.FetchTimeout <= 0 {
		d.Options.FetchTimeout = config.ContentFetch
	}
	if d.Options.GenerationTimeout <= 0 {
		d.Options.GenerationTimeout = config.Generation
	}
	if d.Builder == nil {
		d.Builder = profile.NewBuilder(engine.Catalog.Vocabulary(), profile.DefaultRubric())
	}
	if d.Assembler == nil {
		d.Assembler = prompt.NewAssembler(engine.Catalog.Vocabulary(), prompt.DefaultOptions())
	}
	if d.Sessions == nil {
		d.Sessions = NewSessionStore(config.SessionIdleTTL, d.Metrics)
	}
	a := &Advisor{
		builder:    d.Builder,
		assembler:  d.Assembler,
		sessions:   d.Sessions,
		generator:  d.Generator,
		fetcher:    d.Fetcher,
		store:      d.Store,
		deltas:     d.Deltas,
		genLimiter: d.GenerationLimiter,
		metrics:    d.Metrics,
		opts:       d.Options,
	}
	a.engine.Store(engine)
	return a
}

// Engine returns the engine currently serving turns.
func (a *Advisor) Engine() *Engine { return a.engine.Load() }

// SetEngine swaps in a new engine, e.g. after a catalog reload. Turns in
// flight finish on the engine they started with.
func (a *Advisor) SetEngine(e *Engine) {
	old := a.engine.Swap(e)
	slog.Info("Advisor engine swapped",
		"old_version", old.Version(),
		"new_version", e.Version(),
		"source", e.Source)
}

// Sessions returns the session store.
func (a *Advisor) Sessions() *SessionStore { return a.sessions }

// Builder returns the profile builder.
func (a *Advisor) Builder() *profile.Builder { return a.builder }

// StartSession builds the student's profile and opens a session for it.
func (a *Advisor) StartSession(in profile.Input) *Session {
	return a.sessions.Create(a.builder.Build(in))
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	Intent      intent.Intent          `json:"intent"`
	ContextKind prompt.Kind            `json:"context_kind"`
	Reply       string                 `json:"reply"`
	Courses     []catalog.CourseRecord `json:"courses,omitempty"`
	Path        string                 `json:"path,omitempty"`
	Outcome     string                 `json:"outcome"`
}

// Turn answers message in session id. An empty message is only accepted as
// the opening turn of a fresh session. The only errors are an unknown
// session, an invalid message and a canceled context.
func (a *Advisor) Turn(ctx context.Context, id, message string) (TurnResult, error) {
	s, err := a.sessions.Get(id)
	if err != nil {
		return TurnResult{}, err
	}
	ctx = ctxutil.WithSessionID(ctx, s.ID)

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	prior := s.History()
	message = strings.TrimSpace(message)
	if message == "" && len(prior) > 0 {
		return TurnResult{}, apperrors.NewValidationError("message", "required after the opening turn")
	}

	start := time.Now()
	res := a.turn(ctx, a.Engine(), s.Profile, prior, message)
	if err := ctx.Err(); err != nil {
		return TurnResult{}, fmt.Errorf("turn canceled: %w", err)
	}

	var turns []dialogue.Turn
	if message != "" {
		turns = append(turns, dialogue.Turn{Role: dialogue.RoleUser, Content: message})
	}
	turns = append(turns, dialogue.Turn{Role: dialogue.RoleAssistant, Content: res.Reply})
	s.append(time.Now(), turns...)

	if a.metrics != nil {
		a.metrics.RecordTurn(string(res.ContextKind), res.Outcome, time.Since(start).Seconds())
	}
	slog.InfoContext(ctx, "Turn completed",
		"intent", res.Intent.String(),
		"context_kind", res.ContextKind,
		"path", res.Path,
		"outcome", res.Outcome,
		"duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

func (a *Advisor) turn(ctx context.Context, eng *Engine, p profile.StudentProfile, prior dialogue.History, message string) TurnResult {
	history := prior
	if message != "" {
		history = prior.Append(dialogue.Turn{Role: dialogue.RoleUser, Content: message})
	}
	in := eng.Classifier.Classify(message, prior)

	var set rag.CandidateSet
	if in.Kind == intent.KindSpecificCourse && in.Course != nil && len(history) > 0 {
		// A course at another level gets a fixed reply; fetching its
		// details would be wasted.
		if a.assembler.OfferedAt(*in.Course, p.DegreeLevel) {
			rec := a.resolveCourse(ctx, eng, *in.Course)
			in.Course = &rec
		}
		set = rag.CandidateSet{Level: p.DegreeLevel, Eligible: len(eng.Catalog.IndicesForLevel(p.DegreeLevel))}
	} else {
		set = a.match(ctx, eng, p, history, in)
	}

	g := a.assembler.Assemble(p, set, in, history)
	res := TurnResult{Intent: in, ContextKind: g.Kind, Courses: g.Courses, Path: set.Path}
	res.Reply, res.Outcome = a.generate(ctx, g)
	return res
}

// match retrieves candidates for the turn. Follow-up style turns also get
// the records of courses already suggested, so the assembler can ground
// them even when they fell out of the current top K.
func (a *Advisor) match(ctx context.Context, eng *Engine, p profile.StudentProfile, history dialogue.History, in intent.Intent) rag.CandidateSet {
	opts := rag.MatchOptions{}
	if in.Kind == intent.KindAlternatives {
		opts.Domain = in.Domain
		opts.Exclude = in.Suggested
	}

	set, err := eng.Matcher.Match(ctx, p, history, opts)
	if err != nil {
		// Every retriever failed; the keyword retriever only fails on a
		// canceled context, so this is not worth more than a warning.
		slog.WarnContext(ctx, "Match failed", "error", err)
		set = rag.CandidateSet{Level: p.DegreeLevel, Path: rag.PathNone, Eligible: len(eng.Catalog.IndicesForLevel(p.DegreeLevel))}
	}
	if a.metrics != nil {
		a.metrics.RecordMatch(set.Path, len(set.Candidates))
	}

	if in.Kind != intent.KindAlternatives && len(in.Suggested) > 0 {
		set.Candidates = withSuggested(eng, p.DegreeLevel, set.Candidates, in.Suggested)
	}
	return set
}

// withSuggested prepends the records of suggested titles that are missing
// from candidates. Titles at another degree level are left out.
func withSuggested(eng *Engine, level catalog.DegreeLevel, candidates []rag.Candidate, suggested []string) []rag.Candidate {
	have := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		have[c.Record.ID] = true
	}
	var extra []rag.Candidate
	for _, title := range suggested {
		rec := eng.Classifier.Lookup(title)
		if rec == nil || have[rec.ID] {
			continue
		}
		pos := eng.Catalog.Position(rec.ID)
		if pos < 0 || eng.Catalog.LevelAt(pos) != level {
			continue
		}
		have[rec.ID] = true
		current, _ := eng.Matcher.Record(rec.ID)
		extra = append(extra, rag.Candidate{Record: current})
	}
	if len(extra) == 0 {
		return candidates
	}
	return append(extra, candidates...)
}

// generate calls the generator, retries once with the reduced context and
// falls back to the apology. Fixed contexts skip the generator.
func (a *Advisor) generate(ctx context.Context, g prompt.GenerationContext) (string, string) {
	if !g.NeedsGeneration() {
		return g.Fixed, OutcomeFixed
	}
	if a.generator == nil {
		slog.WarnContext(ctx, "No generator configured", "context_kind", g.Kind)
		return prompt.ApologyReply, OutcomeApology
	}

	reply, err := a.attempt(ctx, g)
	if err == nil {
		return reply, OutcomeGenerated
	}
	slog.WarnContext(ctx, "Generation failed, retrying with reduced context", "context_kind", g.Kind, "error", err)

	if ctx.Err() == nil {
		reply, err = a.attempt(ctx, g.Reduced())
		if err == nil {
			return reply, OutcomeRetried
		}
	}

	slog.ErrorContext(ctx, "Generation failed twice", "context_kind", g.Kind, "error", err)
	if ctx.Err() == nil {
		sentry.CaptureWithTags(ctx, fmt.Errorf("%w: %w", apperrors.ErrGenerationFailed, err), map[string]string{
			"context_kind": string(g.Kind),
		})
	}
	return prompt.ApologyReply, OutcomeApology
}

func (a *Advisor) attempt(ctx context.Context, g prompt.GenerationContext) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.GenerationTimeout)
	defer cancel()

	if a.genLimiter != nil {
		waitStart := time.Now()
		if err := a.genLimiter.Wait(ctx); err != nil {
			if a.metrics != nil {
				a.metrics.RecordRateLimiterDrop("generation")
			}
			return "", fmt.Errorf("generation budget: %w", err)
		}
		if a.metrics != nil {
			a.metrics.RecordRateLimiterWait("generation", time.Since(waitStart).Seconds())
		}
	}

	reply, err := a.generator.Generate(ctx, g.Messages())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		}
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", errors.New("empty reply")
	}
	return strings.TrimSpace(reply), nil
}
