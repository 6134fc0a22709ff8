package rag

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/iwilltry42/bm25-go/bm25"
)

// Okapi BM25 parameters.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// BM25Result is one keyword hit. Pos is the catalog position.
type BM25Result struct {
	Pos   int
	Score float64
	Rank  int // 1-based
}

// BM25Index is an Okapi BM25 index over base course text, built once per
// catalog.
type BM25Index struct {
	// okapi caches IDF values in a plain map while scoring, so every
	// call into it holds mu.
	mu    sync.Mutex
	okapi *bm25.BM25Okapi

	// positions maps an okapi document to its catalog position. Courses
	// whose text has no tokens are left out of the corpus.
	positions []int
	count     int
}

// NewBM25Index indexes texts; texts[i] is the document for catalog position i.
// Documents are tokenized here and handed to the library pre-joined, so its
// whitespace tokenizer sees exactly the tokens tokenize produced.
func NewBM25Index(texts []string) *BM25Index {
	idx := &BM25Index{count: len(texts)}

	corpus := make([]string, 0, len(texts))
	for pos, text := range texts {
		tokens := tokenize(text)
		if len(tokens) == 0 {
			continue
		}
		corpus = append(corpus, strings.Join(tokens, " "))
		idx.positions = append(idx.positions, pos)
	}
	if len(corpus) == 0 {
		return idx
	}

	okapi, err := bm25.NewBM25Okapi(corpus, strings.Fields, bm25K1, bm25B, nil)
	if err != nil {
		// Only an empty corpus or empty document fails, and both are
		// filtered above.
		slog.Error("BM25 index build failed", "docs", len(corpus), "error", err)
		idx.positions = nil
		return idx
	}
	idx.okapi = okapi
	return idx
}

// Search scores every document against query and returns documents with a
// positive score, best first. Equal scores keep catalog order. topN <= 0
// returns every hit.
func (idx *BM25Index) Search(query string, topN int) []BM25Result {
	if idx == nil || idx.okapi == nil || strings.TrimSpace(query) == "" {
		return nil
	}

	terms := tokenize(query)
	// Repeated query terms count once; priming phrases would otherwise dominate.
	slices.Sort(terms)
	terms = slices.Compact(terms)

	scores, err := idx.scores(terms)
	if err != nil {
		slog.Warn("BM25 scoring failed", "terms", len(terms), "error", err)
		return nil
	}

	var results []BM25Result
	for doc, score := range scores {
		if score > 0 {
			results = append(results, BM25Result{Pos: idx.positions[doc], Score: score})
		}
	}

	slices.SortStableFunc(results, func(a, b BM25Result) int {
		return cmp.Compare(b.Score, a.Score)
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results
}

// scores returns one score per okapi document. Terms found in every course
// get a negative IDF from the library and carry no signal, so they are
// dropped before scoring.
func (idx *BM25Index) scores(terms []string) ([]float64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	useful := terms[:0:0]
	for _, t := range terms {
		idf, err := idx.okapi.IDF(t)
		if err != nil {
			return nil, fmt.Errorf("idf %q: %w", t, err)
		}
		if idf > 0 {
			useful = append(useful, t)
		}
	}
	if len(useful) == 0 {
		return nil, nil
	}
	return idx.okapi.GetScores(useful)
}

// Count returns the number of indexed documents.
func (idx *BM25Index) Count() int {
	if idx == nil {
		return 0
	}
	return idx.count
}

// computeRankConfidence maps a 1-based rank to a confidence in (0,1).
// BM25 scores are unbounded and query-dependent, so rank is the proxy.
//
// Formula: 1 / (1 + 0.05 * rank)
//   - rank 1 → 0.95
//   - rank 5 → 0.80
//   - rank 10 → 0.67
func computeRankConfidence(rank int) float64 {
	if rank <= 0 {
		return 0
	}
	return 1.0 / (1.0 + 0.05*float64(rank))
}
