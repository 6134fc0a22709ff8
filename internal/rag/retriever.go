package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/garyellow/degree-advisor/internal/catalog"
	apperrors "github.com/garyellow/degree-advisor/internal/errors"
	"github.com/garyellow/degree-advisor/internal/profile"
	"github.com/garyellow/degree-advisor/internal/taxonomy"
)

// Query is what a retriever ranks against.
type Query struct {
	Profile profile.StudentProfile
	Text    string // ProfileText(Profile)
	K       int

	// Admit reports whether a catalog position may appear in the result.
	// It encodes the degree level, domain and exclusion filters.
	Admit func(pos int) bool
}

// Ranked is a retriever result before records are attached.
type Ranked struct {
	Pos        int
	Score      float64
	Similarity float64
}

// Retriever ranks catalog positions for a query. Results must only contain
// admitted positions.
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context, q Query) ([]Ranked, error)
}

// Dispatcher tries retrievers in order and returns the first success.
type Dispatcher struct {
	retrievers []Retriever
}

// NewDispatcher creates a dispatcher over retrievers in priority order.
func NewDispatcher(retrievers ...Retriever) *Dispatcher {
	return &Dispatcher{retrievers: retrievers}
}

// Retrieve returns the ranking and the name of the retriever that produced
// it. Failures fall through to the next retriever; an unavailable backend
// is expected and logged at debug level only.
func (d *Dispatcher) Retrieve(ctx context.Context, q Query) ([]Ranked, string, error) {
	var errs []error
	for _, r := range d.retrievers {
		ranked, err := r.Retrieve(ctx, q)
		if err == nil {
			return ranked, r.Name(), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
		if apperrors.IsBackendUnavailable(err) {
			slog.DebugContext(ctx, "Retriever unavailable, falling back",
				"retriever", r.Name(), "error", err)
		} else {
			slog.WarnContext(ctx, "Retriever failed, falling back",
				"retriever", r.Name(), "error", err)
		}
	}
	if len(errs) == 0 {
		return nil, PathNone, errors.New("no retrievers configured")
	}
	return nil, PathNone, errors.Join(errs...)
}

// HybridRetriever embeds the profile text, ranks every course by cosine
// similarity and fuses that ranking with BM25 over base course text. Level
// and other filters apply after ranking.
type HybridRetriever struct {
	index      *VectorIndex
	bm25       *BM25Index
	embedder   Embedder
	bm25Weight float64
}

// NewHybridRetriever creates a hybrid retriever. bm25 may be nil and a zero
// bm25Weight gives pure cosine ranking.
func NewHybridRetriever(index *VectorIndex, bm25 *BM25Index, emb Embedder, bm25Weight float64) *HybridRetriever {
	return &HybridRetriever{index: index, bm25: bm25, embedder: emb, bm25Weight: bm25Weight}
}

// Name implements Retriever.
func (h *HybridRetriever) Name() string { return PathHybrid }

// Retrieve implements Retriever.
func (h *HybridRetriever) Retrieve(ctx context.Context, q Query) ([]Ranked, error) {
	if h == nil || h.embedder == nil || !h.index.Ready() {
		return nil, fmt.Errorf("%w: semantic search disabled", apperrors.ErrBackendUnavailable)
	}
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("%w: empty profile text", apperrors.ErrBackendUnavailable)
	}

	vecs, err := h.embedder.Embed(ctx, []string{q.Text})
	if err != nil {
		return nil, fmt.Errorf("%w: embed profile: %w", apperrors.ErrBackendUnavailable, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embed profile: got %d vectors", apperrors.ErrBackendUnavailable, len(vecs))
	}

	hits, err := h.index.Nearest(vecs[0], nil, 0)
	if err != nil {
		return nil, err
	}

	var ranked []Ranked
	if h.bm25Weight <= 0 || h.bm25 == nil {
		for _, hit := range hits {
			ranked = append(ranked, Ranked{Pos: hit.Pos, Score: hit.Similarity, Similarity: hit.Similarity})
		}
	} else {
		keyword := h.bm25.Search(q.Text, 0)
		fused := FuseRRF(keyword, hits, h.bm25Weight, 0)
		for _, r := range fused {
			ranked = append(ranked, Ranked{Pos: r.Pos, Score: r.RRFScore, Similarity: r.VectorSim})
		}
		slog.DebugContext(ctx, "Hybrid search completed",
			"bm25_count", len(keyword),
			"vector_count", len(hits),
			"fused_count", len(fused))
	}

	return admitTop(ranked, q), nil
}

func admitTop(ranked []Ranked, q Query) []Ranked {
	out := make([]Ranked, 0, min(len(ranked), max(q.K, 0)))
	for _, r := range ranked {
		if q.Admit != nil && !q.Admit(r.Pos) {
			continue
		}
		out = append(out, r)
		if q.K > 0 && len(out) == q.K {
			break
		}
	}
	return out
}

// Keyword bucket scores.
const (
	scoreBothMatch   = 2
	scoreEitherMatch = 1
)

// KeywordRetriever is the deterministic fallback. It never fails.
//
// With no interests or activities it returns the first K admitted courses in
// catalog order. Otherwise admitted courses are bucketed into interest and
// activity match, either match, and neither; buckets are concatenated in
// that order, each keeping catalog order, and the result is not truncated.
type KeywordRetriever struct {
	cat   *catalog.Catalog
	vocab *taxonomy.Vocabulary
}

// NewKeywordRetriever creates the keyword fallback over cat.
func NewKeywordRetriever(cat *catalog.Catalog) *KeywordRetriever {
	return &KeywordRetriever{cat: cat, vocab: cat.Vocabulary()}
}

// Name implements Retriever.
func (k *KeywordRetriever) Name() string { return PathKeyword }

// Retrieve implements Retriever.
func (k *KeywordRetriever) Retrieve(_ context.Context, q Query) ([]Ranked, error) {
	var eligible []int
	for pos := range k.cat.Len() {
		if q.Admit == nil || q.Admit(pos) {
			eligible = append(eligible, pos)
		}
	}

	if !q.Profile.HasInterestsOrActivities() {
		limit := q.K
		if limit <= 0 || limit > len(eligible) {
			limit = len(eligible)
		}
		out := make([]Ranked, limit)
		for i, pos := range eligible[:limit] {
			out[i] = Ranked{Pos: pos}
		}
		return withRankConfidence(out), nil
	}

	interestWords := interestTerms(q.Profile.Interests)
	activityKeywords := k.activityKeywords(q.Profile.Activities)

	var both, either, neither []Ranked
	for _, pos := range eligible {
		rec := k.cat.At(pos)
		text := strings.ToLower(rec.Name + " " + rec.Category)
		interestHit := taxonomy.ContainsAny(text, interestWords)
		activityHit := taxonomy.ContainsAny(text, activityKeywords)
		switch {
		case interestHit && activityHit:
			both = append(both, Ranked{Pos: pos, Score: scoreBothMatch})
		case interestHit || activityHit:
			either = append(either, Ranked{Pos: pos, Score: scoreEitherMatch})
		default:
			neither = append(neither, Ranked{Pos: pos})
		}
	}

	out := make([]Ranked, 0, len(eligible))
	out = append(out, both...)
	out = append(out, either...)
	out = append(out, neither...)
	return withRankConfidence(out), nil
}

// withRankConfidence fills Similarity with a rank-based confidence, since
// keyword matching has no similarity of its own.
func withRankConfidence(ranked []Ranked) []Ranked {
	for i := range ranked {
		ranked[i].Similarity = computeRankConfidence(i + 1)
	}
	return ranked
}

// interestTerms expands interest names into the name itself plus each of
// its words, lowercased ("Social Work" -> "social work", "social", "work").
func interestTerms(interests []string) []string {
	var out []string
	for _, in := range interests {
		lower := strings.ToLower(strings.TrimSpace(in))
		if lower == "" {
			continue
		}
		out = append(out, lower)
		out = append(out, strings.Fields(lower)...)
	}
	return out
}

func (k *KeywordRetriever) activityKeywords(activities []string) []string {
	var out []string
	for _, name := range activities {
		if a, ok := k.vocab.Activity(name); ok {
			out = append(out, a.CourseKeywords...)
		}
	}
	return out
}
