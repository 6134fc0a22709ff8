package advisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/dialogue"
	apperrors "github.com/garyellow/degree-advisor/internal/errors"
	"github.com/garyellow/degree-advisor/internal/genai"
	"github.com/garyellow/degree-advisor/internal/intent"
	"github.com/garyellow/degree-advisor/internal/profile"
	"github.com/garyellow/degree-advisor/internal/prompt"
	"github.com/garyellow/degree-advisor/internal/taxonomy"
)

const openingReply = "Here are my suggestions:\n\n1. **" + cseTitle + "**\n2. **" + sportsTitle + "**\n3. **" + mbaTitle + "**"

func TestTurn_OpeningRecommendation(t *testing.T) {
	t.Parallel()
	ta := newTestAdvisor(t, replyWith(openingReply))
	s := ta.session(t)

	res, err := ta.Turn(context.Background(), s.ID, "")
	require.NoError(t, err)

	assert.Equal(t, prompt.KindRecommend, res.ContextKind)
	assert.Equal(t, OutcomeGenerated, res.Outcome)
	assert.Equal(t, openingReply, res.Reply)
	assert.NotEmpty(t, res.Courses)
	for _, c := range res.Courses {
		assert.Equal(t, catalog.LevelBachelor, catalog.LevelOf(c, taxonomy.Default()), c.Name)
	}

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, dialogue.RoleAssistant, history[0].Role)
	assert.Equal(t, 1.0, testutil.ToFloat64(ta.metrics.TurnsTotal.WithLabelValues("recommend", OutcomeGenerated)))
}

func TestTurn_Errors(t *testing.T) {
	t.Parallel()
	ta := newTestAdvisor(t, replyWith(openingReply))

	_, err := ta.Turn(context.Background(), "no-such-session", "hello")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	s := ta.session(t)
	_, err = ta.Turn(context.Background(), s.ID, "")
	require.NoError(t, err)

	_, err = ta.Turn(context.Background(), s.ID, "   ")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Len(t, s.History(), 1, "rejected turn must not touch history")
}

func TestTurn_CanceledContextLeavesHistory(t *testing.T) {
	t.Parallel()
	ta := newTestAdvisor(t, replyWith(openingReply))
	s := ta.session(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ta.Turn(ctx, s.ID, "what about salary")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.History())
}

func TestTurn_RetriesWithReducedContext(t *testing.T) {
	t.Parallel()
	gen := &scriptedGenerator{fn: func(call int) (string, error) {
		if call == 2 {
			return "", errors.New("upstream 500")
		}
		return openingReply, nil
	}}
	ta := newTestAdvisor(t, gen)
	s := ta.session(t)

	_, err := ta.Turn(context.Background(), s.ID, "")
	require.NoError(t, err)
	res, err := ta.Turn(context.Background(), s.ID, "what about salary")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetried, res.Outcome)

	calls := gen.Calls()
	require.Len(t, calls, 3)
	full, reduced := calls[1], calls[2]
	require.Len(t, reduced, 2)
	assert.Equal(t, dialogue.RoleSystem, reduced[0].Role)
	assert.Equal(t, dialogue.RoleUser, reduced[1].Role)
	assert.Less(t, len(reduced[1].Content), len(full[len(full)-1].Content))
}

func TestTurn_RetryOutcome(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		fn          func(call int) (string, error)
		wantReply   string
		wantOutcome string
		wantCalls   int
	}{
		{
			name:        "first attempt succeeds",
			fn:          func(int) (string, error) { return "  fine  ", nil },
			wantReply:   "fine",
			wantOutcome: OutcomeGenerated,
			wantCalls:   1,
		},
		{
			name: "empty reply is retried",
			fn: func(call int) (string, error) {
				if call == 1 {
					return " \n", nil
				}
				return "recovered", nil
			},
			wantReply:   "recovered",
			wantOutcome: OutcomeRetried,
			wantCalls:   2,
		},
		{
			name:        "both attempts fail",
			fn:          func(int) (string, error) { return "", errors.New("quota exceeded") },
			wantReply:   prompt.ApologyReply,
			wantOutcome: OutcomeApology,
			wantCalls:   2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gen := &scriptedGenerator{fn: tt.fn}
			ta := newTestAdvisor(t, gen)
			s := ta.session(t)

			res, err := ta.Turn(context.Background(), s.ID, "")
			require.NoError(t, err)
			assert.Equal(t, tt.wantReply, res.Reply)
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Len(t, gen.Calls(), tt.wantCalls)
			assert.Equal(t, tt.wantReply, s.History()[0].Content)
		})
	}
}

func TestTurn_NoGenerator(t *testing.T) {
	t.Parallel()
	ta := newTestAdvisor(t, nil)
	s := ta.session(t)

	res, err := ta.Turn(context.Background(), s.ID, "")
	require.NoError(t, err)
	assert.Equal(t, prompt.ApologyReply, res.Reply)
	assert.Equal(t, OutcomeApology, res.Outcome)
}

func TestTurn_FixedReplySkipsGenerator(t *testing.T) {
	t.Parallel()
	gen := replyWith("unused")
	ta := newTestAdvisor(t, gen)
	s := ta.Sessions().Create(profile.StudentProfile{DegreeLevel: catalog.LevelUnknown})

	res, err := ta.Turn(context.Background(), s.ID, "")
	require.NoError(t, err)
	assert.Equal(t, prompt.KindNoMatch, res.ContextKind)
	assert.Equal(t, OutcomeFixed, res.Outcome)
	assert.NotEmpty(t, res.Reply)
	assert.Empty(t, gen.Calls())
}

func TestTurn_FollowUpKeepsSuggestedCourses(t *testing.T) {
	t.Parallel()
	ta := newTestAdvisor(t, replyWith(openingReply))
	s := ta.session(t)

	_, err := ta.Turn(context.Background(), s.ID, "")
	require.NoError(t, err)

	res, err := ta.Turn(context.Background(), s.ID, "is the salary good")
	require.NoError(t, err)
	assert.Equal(t, intent.KindFollowUp, res.Intent.Kind)
	assert.Equal(t, prompt.KindFollowUp, res.ContextKind)

	var names []string
	for _, c := range res.Courses {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, cseTitle)
	assert.Contains(t, names, sportsTitle, "suggested course outside the top K must still be grounded")
	assert.NotContains(t, names, mbaTitle, "course at another degree level must be dropped")
	assert.Len(t, s.History(), 3)
}

func TestTurn_SpecificCourseFetchesDetailsOnce(t *testing.T) {
	t.Parallel()
	ta := newTestAdvisor(t, replyWith("It is a great course."))
	s := ta.session(t)
	ctx := context.Background()

	res, err := ta.Turn(ctx, s.ID, "tell me about "+cseTitle)
	require.NoError(t, err)
	assert.Equal(t, intent.KindSpecificCourse, res.Intent.Kind)
	assert.Equal(t, prompt.KindSpecific, res.ContextKind)
	require.Len(t, res.Courses, 1)
	require.NotNil(t, res.Courses[0].Enrichment)
	assert.Equal(t, "A four year programme in computing.", res.Courses[0].Enrichment.Description)
	assert.Equal(t, int64(1), ta.fetcher.calls.Load())

	n, err := ta.db.CountEnrichments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, ok := ta.Engine().Matcher.Record(res.Courses[0].ID)
	require.True(t, ok)
	assert.False(t, rec.Enrichment.IsEmpty(), "index slot must carry the enrichment")

	_, err = ta.Turn(ctx, s.ID, "what about "+cseTitle+" placements")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ta.fetcher.calls.Load(), "enriched course must not be fetched again")
	assert.Equal(t, 1.0, testutil.ToFloat64(ta.metrics.EnrichmentTotal.WithLabelValues(EnrichApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ta.metrics.EnrichmentTotal.WithLabelValues(EnrichCached)))
}

func TestTurn_SpecificCourseAtAnotherLevel(t *testing.T) {
	t.Parallel()
	gen := replyWith(openingReply)
	ta := newTestAdvisor(t, gen)
	s := ta.session(t)
	ctx := context.Background()

	_, err := ta.Turn(ctx, s.ID, "")
	require.NoError(t, err)

	res, err := ta.Turn(ctx, s.ID, "tell me about the M.Sc in Data Science")
	require.NoError(t, err)
	assert.Equal(t, intent.KindSpecificCourse, res.Intent.Kind)
	assert.Equal(t, prompt.KindLevelMismatch, res.ContextKind)
	assert.Equal(t, OutcomeFixed, res.Outcome)
	assert.Contains(t, res.Reply, "not offered at the Bachelor's Degree level")
	assert.Empty(t, res.Courses)
	assert.Len(t, gen.Calls(), 1, "only the opening turn reached the generator")
	assert.Zero(t, ta.fetcher.calls.Load(), "a course the student cannot take is never fetched")
}

func TestTurn_DomainRequestOverlappingTitle(t *testing.T) {
	t.Parallel()
	gen := replyWith(openingReply)
	ta := newTestAdvisor(t, gen)
	s := ta.session(t)
	ctx := context.Background()

	_, err := ta.Turn(ctx, s.ID, "")
	require.NoError(t, err)

	res, err := ta.Turn(ctx, s.ID, "suggest some data science courses")
	require.NoError(t, err)
	assert.Equal(t, intent.KindAlternatives, res.Intent.Kind)
	assert.Equal(t, "Technology", res.Intent.Domain)
	assert.Nil(t, res.Intent.Course)
	assert.Contains(t, []prompt.Kind{prompt.KindAlternatives, prompt.KindNoAlternatives}, res.ContextKind)
	for _, c := range res.Courses {
		assert.Equal(t, catalog.LevelBachelor, catalog.LevelOf(c, taxonomy.Default()), c.Name)
	}
	for _, call := range gen.Calls() {
		for _, msg := range call {
			assert.NotContains(t, msg.Content, "M.Sc in Data Science")
		}
	}
}

// failingModel is one model of a generation chain that is always overloaded.
type failingModel struct {
	provider genai.Provider
	model    string
	calls    atomic.Int64
}

func (m *failingModel) Generate(context.Context, []dialogue.Turn) (string, error) {
	m.calls.Add(1)
	return "", &genai.StatusError{Provider: m.provider, Status: 503, Err: errors.New("overloaded")}
}

func (m *failingModel) Provider() genai.Provider { return m.provider }
func (m *failingModel) Model() string            { return m.model }
func (m *failingModel) Close() error             { return nil }

func TestTurn_GeneratorCallBudget(t *testing.T) {
	t.Parallel()
	models := []*failingModel{
		{provider: genai.ProviderMistral, model: "mistral-small-latest"},
		{provider: genai.ProviderMistral, model: "open-mistral-nemo"},
		{provider: genai.ProviderGemini, model: "gemini-2.5-flash"},
		{provider: genai.ProviderGemini, model: "gemini-2.5-flash-lite"},
	}
	chain := genai.NewFallbackGenerator(genai.GenerationRetryConfig(), time.Second, nil,
		models[0], models[1], models[2], models[3])

	m := newTestMetrics()
	loader, _, db := testLoader(t, m)
	eng, err := loader.Load(context.Background(), fixtureCatalog(), false)
	require.NoError(t, err)
	adv := New(eng, Deps{Generator: chain, Store: db, Metrics: m})
	s := adv.Sessions().Create(techProfile())

	res, err := adv.Turn(context.Background(), s.ID, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApology, res.Outcome)

	perProvider := map[genai.Provider]int64{}
	for _, model := range models {
		assert.Equal(t, int64(2), model.calls.Load(), "%s: one full and one reduced attempt", model.model)
		perProvider[model.provider] += model.calls.Load()
	}
	// Two models per provider, each called once per attempt.
	assert.Equal(t, map[genai.Provider]int64{genai.ProviderMistral: 4, genai.ProviderGemini: 4}, perProvider)
}

func TestTurn_SpecificCourseFetchFailureDegrades(t *testing.T) {
	t.Parallel()
	ta := newTestAdvisor(t, replyWith("Here is what I know."))
	ta.fetcher.err = errors.New("connection reset")
	s := ta.session(t)

	res, err := ta.Turn(context.Background(), s.ID, "tell me about "+cseTitle)
	require.NoError(t, err)
	assert.Equal(t, prompt.KindSpecific, res.ContextKind)
	assert.Equal(t, OutcomeGenerated, res.Outcome)
	require.Len(t, res.Courses, 1)
	assert.Nil(t, res.Courses[0].Enrichment)
	assert.Equal(t, 1.0, testutil.ToFloat64(ta.metrics.EnrichmentTotal.WithLabelValues(EnrichFetchError)))
}

func TestTurn_ConcurrentSessions(t *testing.T) {
	t.Parallel()
	ta := newTestAdvisor(t, replyWith(openingReply))

	sessions := make([]*Session, 8)
	for i := range sessions {
		sessions[i] = ta.session(t)
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		for _, msg := range []string{"", "is the salary good"} {
			wg.Go(func() {
				_, _ = ta.Turn(context.Background(), s.ID, msg)
			})
		}
	}
	wg.Wait()

	for _, s := range sessions {
		h := s.History()
		// The empty opener is rejected when it loses the race.
		assert.Contains(t, []int{2, 3}, len(h))
		assert.Equal(t, dialogue.RoleAssistant, h[len(h)-1].Role)
	}
}

func TestEnrichCourse(t *testing.T) {
	t.Parallel()
	ta := newTestAdvisor(t, nil)
	ctx := context.Background()

	_, err := ta.EnrichCourse(ctx, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = ta.EnrichCourse(ctx, "https://example.edu/unknown")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	rec, err := ta.EnrichCourse(ctx, cseURL)
	require.NoError(t, err)
	assert.Equal(t, cseTitle, rec.Name)
	require.NotNil(t, rec.Enrichment)

	ta.fetcher.err = errors.New("timeout")
	_, err = ta.EnrichCourse(ctx, cseURL)
	assert.ErrorIs(t, err, apperrors.ErrContentFetch)
}

func TestEnrichCourse_EmptyPage(t *testing.T) {
	t.Parallel()
	ta := newTestAdvisor(t, nil)
	ta.fetcher.e = &catalog.Enrichment{Title: "Only a title"}

	rec, err := ta.EnrichCourse(context.Background(), cseURL)
	require.NoError(t, err)
	assert.Nil(t, rec.Enrichment)
	assert.Equal(t, 1.0, testutil.ToFloat64(ta.metrics.EnrichmentTotal.WithLabelValues(EnrichEmpty)))
}

func TestEnrichCourse_RecordsDelta(t *testing.T) {
	t.Parallel()
	ta := newTestAdvisor(t, nil)
	deltas := &recordingDeltas{}
	ta.deltas = deltas
	ctx := context.Background()

	rec, err := ta.EnrichCourse(ctx, cseURL)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, deltas.courses)

	// A failing delta log never fails the enrichment itself.
	deltas.err = errors.New("r2 down")
	_, err = ta.EnrichCourse(ctx, cseURL)
	require.NoError(t, err)
	assert.Len(t, deltas.courses, 2)

	stored, err := ta.db.LoadEnrichments(ctx)
	require.NoError(t, err)
	assert.Contains(t, stored, rec.ID)
}

func TestSetEngine(t *testing.T) {
	t.Parallel()
	ta := newTestAdvisor(t, replyWith(openingReply))
	before := ta.Engine()

	loader := &IndexLoader{}
	next, err := loader.Load(context.Background(), catalog.New([]catalog.CourseRecord{
		{Name: cseTitle, Category: "B.Tech", SourceURL: cseURL},
	}, nil), false)
	require.NoError(t, err)

	ta.SetEngine(next)
	assert.Same(t, next, ta.Engine())
	assert.NotEqual(t, before.Version(), ta.Engine().Version())
	assert.Equal(t, SourceKeyword, ta.Engine().Source)
}

func TestStartSession(t *testing.T) {
	t.Parallel()
	ta := newTestAdvisor(t, nil)

	s := ta.StartSession(profile.Input{
		Marks:       []profile.Mark{{Subject: "Mathematics", Score: 92}},
		DegreeLevel: catalog.LevelBachelor,
	})
	got, err := ta.Sessions().Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, catalog.LevelBachelor, got.Profile.DegreeLevel)
	assert.Equal(t, []string{"Mathematics"}, got.Profile.Strengths)
}
