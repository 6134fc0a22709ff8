package advisor

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/dialogue"
	"github.com/garyellow/degree-advisor/internal/metrics"
	"github.com/garyellow/degree-advisor/internal/profile"
	"github.com/garyellow/degree-advisor/internal/rag"
	"github.com/garyellow/degree-advisor/internal/storage"
	"github.com/garyellow/degree-advisor/internal/taxonomy"
)

const (
	cseTitle    = "Bachelor of Technology in Computer Science and Engineering"
	cseURL      = "https://example.edu/btech-cse"
	sportsTitle = "Bachelor of Physical Education and Sports"
	mbaTitle    = "Master of Business Administration in Finance"
)

// hashEmbedder is a deterministic bag-of-words embedder.
type hashEmbedder struct {
	fail  atomic.Bool
	calls atomic.Int64
}

func (h *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	h.calls.Add(1)
	if h.fail.Load() {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 128)
		for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			f := fnv.New32a()
			_, _ = f.Write([]byte(tok))
			vec[f.Sum32()%128]++
		}
		out[i] = vec
	}
	return out, nil
}

func (h *hashEmbedder) Model() string { return "hash-128" }

// scriptedGenerator answers through fn and keeps every message list it saw.
type scriptedGenerator struct {
	mu    sync.Mutex
	calls [][]dialogue.Turn
	fn    func(call int) (string, error)
}

func replyWith(reply string) *scriptedGenerator {
	return &scriptedGenerator{fn: func(int) (string, error) { return reply, nil }}
}

func (g *scriptedGenerator) Generate(_ context.Context, msgs []dialogue.Turn) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, msgs)
	call := len(g.calls)
	g.mu.Unlock()
	return g.fn(call)
}

func (g *scriptedGenerator) Calls() [][]dialogue.Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeFetcher struct {
	calls atomic.Int64
	err   error
	e     *catalog.Enrichment
}

func (f *fakeFetcher) FetchCourseDetail(_ context.Context, _ string) (*catalog.Enrichment, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.e, nil
}

type recordingDeltas struct {
	mu      sync.Mutex
	courses []string
	err     error
}

func (r *recordingDeltas) RecordEnrichment(_ context.Context, courseID, _ string, _ *catalog.Enrichment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.courses = append(r.courses, courseID)
	return r.err
}

func fixtureCatalog() *catalog.Catalog {
	return catalog.New([]catalog.CourseRecord{
		{Name: cseTitle, Category: "B.Tech", Subjects: []string{"Programming", "Data Structures", "Algorithms"}, SourceURL: cseURL},
		{Name: "B.Des in Animation and Visual Effects", Category: "B.Des", Subjects: []string{"Animation", "Drawing", "Visual Effects"}, SourceURL: "https://example.edu/bdes-animation"},
		{Name: "Bachelor of Commerce in Finance", Category: "B.Com", Subjects: []string{"Accounting", "Finance", "Economics"}, SourceURL: "https://example.edu/bcom-finance"},
		{Name: "Bachelor of Business Administration in Marketing", Category: "BBA", Subjects: []string{"Marketing", "Management"}, SourceURL: "https://example.edu/bba-marketing"},
		{Name: sportsTitle, Category: "B.P.Ed", Subjects: []string{"Exercise Physiology", "Coaching"}, SourceURL: "https://example.edu/bped"},
		{Name: mbaTitle, Category: "MBA", Subjects: []string{"Corporate Finance", "Strategy"}, SourceURL: "https://example.edu/mba-finance"},
		{Name: "M.Sc in Data Science", Category: "M.Sc", Subjects: []string{"Machine Learning", "Statistics"}, SourceURL: "https://example.edu/msc-ds"},
	}, taxonomy.Default())
}

func techProfile() profile.StudentProfile {
	return profile.StudentProfile{
		Strengths:     []string{"Mathematics", "Computer Science"},
		Interests:     []string{"Technology"},
		Activities:    []string{"Technical Projects"},
		DerivedSkills: []string{"Technical Skills", "Problem Solving"},
		DegreeLevel:   catalog.LevelBachelor,
		Aspiration:    "I want to build software products and learn programming deeply",
	}
}

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

// testLoader returns a loader over an in-memory store whose matcher keeps
// the top two candidates.
func testLoader(t *testing.T, m *metrics.Metrics) (*IndexLoader, *hashEmbedder, *storage.DB) {
	t.Helper()
	db := newTestDB(t)
	emb := &hashEmbedder{}
	opts := rag.DefaultOptions()
	opts.TopK = 2
	return &IndexLoader{
		Store:    db,
		Embedder: emb,
		Build:    rag.BuildOptions{BatchSize: 4, Concurrency: 2},
		Matcher:  opts,
		Metrics:  m,
	}, emb, db
}

type testAdvisor struct {
	*Advisor
	gen     *scriptedGenerator
	fetcher *fakeFetcher
	db      *storage.DB
	metrics *metrics.Metrics
}

func newTestAdvisor(t *testing.T, gen *scriptedGenerator) *testAdvisor {
	t.Helper()
	m := newTestMetrics()
	loader, _, db := testLoader(t, m)
	eng, err := loader.Load(context.Background(), fixtureCatalog(), false)
	require.NoError(t, err)

	fetcher := &fakeFetcher{e: &catalog.Enrichment{
		Description: "A four year programme in computing.",
		Curriculum:  []string{"Compilers", "Operating Systems"},
	}}
	deps := Deps{
		Fetcher: fetcher,
		Store:   db,
		Metrics: m,
	}
	if gen != nil {
		deps.Generator = gen
	}
	return &testAdvisor{
		Advisor: New(eng, deps),
		gen:     gen,
		fetcher: fetcher,
		db:      db,
		metrics: m,
	}
}

func (ta *testAdvisor) session(t *testing.T) *Session {
	t.Helper()
	return ta.Sessions().Create(techProfile())
}
