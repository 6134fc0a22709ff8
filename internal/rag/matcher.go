// Package rag implements the course matcher: an embedding index over catalog
// text, BM25 keyword ranking, Reciprocal Rank Fusion, a deterministic keyword
// fallback and the point-update path used when a course is enriched.
//
// A MatcherContext is built per catalog version and owned by its caller.
// Reads are safe from any number of goroutines; the only mutation is
// ApplyEnrichment, which swaps a single slot.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/dialogue"
	apperrors "github.com/garyellow/degree-advisor/internal/errors"
	"github.com/garyellow/degree-advisor/internal/profile"
	"github.com/garyellow/degree-advisor/internal/taxonomy"
)

// Matcher defaults.
const (
	DefaultTopK             = 10
	DefaultPresentK         = 3
	DefaultContextThreshold = 0.4
	DefaultContextWindow    = 5
)

// Options tunes matching.
type Options struct {
	TopK             int
	ContextThreshold float64
	ContextWindow    int
	BM25Weight       float64
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		TopK:             DefaultTopK,
		ContextThreshold: DefaultContextThreshold,
		ContextWindow:    DefaultContextWindow,
		BM25Weight:       DefaultBM25Weight,
	}
}

// MatchOptions narrows one Match call.
type MatchOptions struct {
	K       int      // 0 uses Options.TopK
	Domain  string   // optional domain family name, e.g. "Business"
	Exclude []string // titles already shown to the student
}

// MatcherContext holds everything one catalog version needs for matching.
type MatcherContext struct {
	cat        *catalog.Catalog
	vocab      *taxonomy.Vocabulary
	index      *VectorIndex
	bm25       *BM25Index
	embedder   Embedder
	dispatcher *Dispatcher
	opts       Options
}

// MatcherOption customizes a MatcherContext.
type MatcherOption func(*MatcherContext)

// WithRetrievers replaces the default retriever chain.
func WithRetrievers(rs ...Retriever) MatcherOption {
	return func(m *MatcherContext) { m.dispatcher = NewDispatcher(rs...) }
}

// NewMatcher creates a matcher. index may be nil or unembedded and emb may be
// nil; matching then runs on the keyword fallback alone.
func NewMatcher(cat *catalog.Catalog, index *VectorIndex, emb Embedder, opts Options, options ...MatcherOption) *MatcherContext {
	if index == nil {
		index = NewVectorIndex(cat, nil)
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = DefaultContextWindow
	}

	base := make([]string, cat.Len())
	for i := range cat.Len() {
		base[i] = BaseCourseText(cat.At(i))
	}

	m := &MatcherContext{
		cat:      cat,
		vocab:    cat.Vocabulary(),
		index:    index,
		bm25:     NewBM25Index(base),
		embedder: emb,
		opts:     opts,
	}
	m.dispatcher = NewDispatcher(
		NewHybridRetriever(index, m.bm25, emb, opts.BM25Weight),
		NewKeywordRetriever(cat),
	)
	for _, o := range options {
		o(m)
	}
	return m
}

// Catalog returns the catalog this matcher was built for.
func (m *MatcherContext) Catalog() *catalog.Catalog { return m.cat }

// Index returns the vector index.
func (m *MatcherContext) Index() *VectorIndex { return m.index }

// SemanticReady reports whether the semantic path can be used.
func (m *MatcherContext) SemanticReady() bool {
	return m.embedder != nil && m.index.Ready()
}

// Record returns the current record for id, enrichment included.
func (m *MatcherContext) Record(id string) (catalog.CourseRecord, bool) {
	pos := m.cat.Position(id)
	if pos < 0 {
		return catalog.CourseRecord{}, false
	}
	return m.index.Record(pos), true
}

// Match ranks courses for p. Every candidate has p's degree level; when no
// course at that level passes the filters the set is empty. history feeds
// the context-course lookup and may be empty.
func (m *MatcherContext) Match(ctx context.Context, p profile.StudentProfile, history dialogue.History, opts MatchOptions) (CandidateSet, error) {
	set := CandidateSet{Level: p.DegreeLevel, Path: PathNone}
	if p.DegreeLevel == catalog.LevelUnknown {
		return set, nil
	}

	set.Eligible = len(m.cat.IndicesForLevel(p.DegreeLevel))
	if set.Eligible == 0 {
		return set, nil
	}

	k := opts.K
	if k <= 0 {
		k = m.opts.TopK
	}
	admit := m.admitter(p.DegreeLevel, opts.Domain, opts.Exclude)

	q := Query{Profile: p, Text: ProfileText(p), K: k, Admit: admit}
	ranked, path, err := m.dispatcher.Retrieve(ctx, q)
	if err != nil {
		return set, fmt.Errorf("match: %w", err)
	}
	set.Path = path

	for _, r := range ranked {
		// Retrievers are pluggable; the level filter is enforced here too.
		if r.Pos < 0 || r.Pos >= m.cat.Len() || !admit(r.Pos) {
			continue
		}
		set.Candidates = append(set.Candidates, Candidate{
			Record:     m.index.Record(r.Pos),
			Score:      r.Score,
			Similarity: r.Similarity,
		})
	}

	if len(history) > 0 {
		set.ContextCourse = m.ContextCourse(ctx, history, p.DegreeLevel)
	}

	slog.DebugContext(ctx, "Match completed",
		"level", p.DegreeLevel,
		"path", path,
		"candidates", len(set.Candidates),
		"domain", opts.Domain,
		"excluded", len(opts.Exclude))
	return set, nil
}

// ContextCourse returns the course nearest to the recent user turns when its
// similarity exceeds the context threshold. Any failure yields nil.
func (m *MatcherContext) ContextCourse(ctx context.Context, history dialogue.History, level catalog.DegreeLevel) *catalog.CourseRecord {
	if !m.SemanticReady() || level == catalog.LevelUnknown {
		return nil
	}
	text := history.RecentUserText(m.opts.ContextWindow)
	if text == "" {
		return nil
	}

	vecs, err := m.embedder.Embed(ctx, []string{text})
	if err != nil || len(vecs) != 1 {
		slog.DebugContext(ctx, "Context course lookup skipped", "error", err)
		return nil
	}
	hits, err := m.index.Nearest(vecs[0], func(pos int) bool { return m.cat.LevelAt(pos) == level }, 1)
	if err != nil || len(hits) == 0 || hits[0].Similarity <= m.opts.ContextThreshold {
		return nil
	}
	rec := m.index.Record(hits[0].Pos)
	return &rec
}

// ApplyEnrichment attaches e to course id and re-embeds that course only.
// On an embedding failure the slot is left unchanged and the error returned.
func (m *MatcherContext) ApplyEnrichment(ctx context.Context, id string, e *catalog.Enrichment) (catalog.CourseRecord, error) {
	pos := m.cat.Position(id)
	if pos < 0 {
		return catalog.CourseRecord{}, fmt.Errorf("course %s: %w", id, apperrors.ErrNotFound)
	}
	rec := m.index.Record(pos).WithEnrichment(e)
	text := CourseText(rec, m.vocab)

	var vec []float32
	if m.index.Ready() {
		if m.embedder == nil {
			return rec, fmt.Errorf("re-embed %s: %w", id, apperrors.ErrBackendUnavailable)
		}
		vecs, err := m.embedder.Embed(ctx, []string{text})
		if err != nil {
			return rec, fmt.Errorf("re-embed %s: %w", id, err)
		}
		if len(vecs) != 1 {
			return rec, fmt.Errorf("re-embed %s: got %d vectors", id, len(vecs))
		}
		vec = vecs[0]
	}
	if err := m.index.Replace(pos, rec, text, vec); err != nil {
		return rec, fmt.Errorf("replace %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Course enrichment applied", "course_id", id, "course", rec.Name)
	return rec, nil
}

// SearchEnriched runs a semantic search over enriched courses at level.
func (m *MatcherContext) SearchEnriched(ctx context.Context, query string, level catalog.DegreeLevel, k int) ([]Candidate, error) {
	if !m.SemanticReady() {
		return nil, fmt.Errorf("%w: semantic search disabled", apperrors.ErrBackendUnavailable)
	}
	if strings.TrimSpace(query) == "" || level == catalog.LevelUnknown {
		return nil, nil
	}
	vecs, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", apperrors.ErrBackendUnavailable, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embed query: got %d vectors", apperrors.ErrBackendUnavailable, len(vecs))
	}

	admit := func(pos int) bool {
		return m.cat.LevelAt(pos) == level && !m.index.Record(pos).Enrichment.IsEmpty()
	}
	hits, err := m.index.Nearest(vecs[0], admit, k)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{Record: m.index.Record(h.Pos), Score: h.Similarity, Similarity: h.Similarity}
	}
	return out, nil
}

// admitter builds the position filter for one Match call.
func (m *MatcherContext) admitter(level catalog.DegreeLevel, domainName string, exclude []string) func(int) bool {
	var domain *taxonomy.Domain
	if domainName != "" {
		if d, ok := m.vocab.Domain(domainName); ok {
			domain = &d
		}
	}

	suffixes := m.vocab.Intent.TitleSuffixes
	var excluded []string
	for _, t := range exclude {
		if n := catalog.NormalizeTitle(t, suffixes); n != "" {
			excluded = append(excluded, n)
		}
	}

	return func(pos int) bool {
		if m.cat.LevelAt(pos) != level {
			return false
		}
		rec := m.cat.At(pos)
		if domain != nil && !taxonomy.ContainsAny(strings.ToLower(BaseCourseText(rec)), domain.Triggers) {
			return false
		}
		if len(excluded) > 0 {
			name := catalog.NormalizeTitle(rec.Name, suffixes)
			for _, ex := range excluded {
				if name == ex || strings.Contains(name, ex) {
					return false
				}
			}
		}
		return true
	}
}
