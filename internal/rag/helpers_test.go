package rag

import (
	"context"
	"errors"
	"hash/fnv"
	"sync/atomic"
	"testing"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/profile"
)

// hashEmbedder is a deterministic bag-of-words embedder for tests.
type hashEmbedder struct {
	dim   int
	fail  atomic.Bool
	calls atomic.Int64
}

func newHashEmbedder() *hashEmbedder { return &hashEmbedder{dim: 256} }

func (h *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	h.calls.Add(1)
	if h.fail.Load() {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, h.dim)
		for _, tok := range tokenize(text) {
			f := fnv.New32a()
			_, _ = f.Write([]byte(tok))
			vec[f.Sum32()%uint32(h.dim)]++
		}
		out[i] = vec
	}
	return out, nil
}

func (h *hashEmbedder) Model() string { return "hash-256" }

func fixtureCatalog() *catalog.Catalog {
	return catalog.New([]catalog.CourseRecord{
		{Name: "Bachelor of Technology in Computer Science and Engineering", Category: "B.Tech", Subjects: []string{"Programming", "Data Structures", "Algorithms"}, SourceURL: "https://example.edu/btech-cse"},
		{Name: "B.Des in Animation and Visual Effects", Category: "B.Des", Subjects: []string{"Animation", "Drawing", "Visual Effects"}, SourceURL: "https://example.edu/bdes-animation"},
		{Name: "Bachelor of Commerce in Finance", Category: "B.Com", Subjects: []string{"Accounting", "Finance", "Economics"}, SourceURL: "https://example.edu/bcom-finance"},
		{Name: "Bachelor of Business Administration in Marketing", Category: "BBA", Subjects: []string{"Marketing", "Management"}, SourceURL: "https://example.edu/bba-marketing"},
		{Name: "Bachelor of Physical Education and Sports", Category: "B.P.Ed", Subjects: []string{"Exercise Physiology", "Coaching"}, SourceURL: "https://example.edu/bped"},
		{Name: "Master of Business Administration in Finance", Category: "MBA", Subjects: []string{"Corporate Finance", "Strategy"}, SourceURL: "https://example.edu/mba-finance"},
		{Name: "M.Sc in Data Science", Category: "M.Sc", Subjects: []string{"Machine Learning", "Statistics"}, SourceURL: "https://example.edu/msc-ds"},
		{Name: "M.Des in Interaction Design", Category: "M.Des", Subjects: []string{"User Experience", "Prototyping"}, SourceURL: "https://example.edu/mdes-ixd"},
	}, nil)
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

// semanticMatcher builds a matcher with an embedded index.
func semanticMatcher(t *testing.T, cat *catalog.Catalog, opts Options) (*MatcherContext, *hashEmbedder) {
	t.Helper()
	emb := newHashEmbedder()
	idx := NewVectorIndex(cat, nil)
	if err := idx.Build(context.Background(), emb, BuildOptions{BatchSize: 3, Concurrency: 2}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return NewMatcher(cat, idx, emb, opts), emb
}

func names(set CandidateSet) []string {
	out := make([]string, len(set.Candidates))
	for i, c := range set.Candidates {
		out[i] = c.Record.Name
	}
	return out
}
