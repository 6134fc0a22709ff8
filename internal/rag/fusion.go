package rag

import (
	"cmp"
	"slices"
)

const (
	// RRFConstant is the constant used in RRF formula: 1 / (k + rank)
	// Standard value is 60, which provides a good balance between
	// giving weight to top-ranked documents while not ignoring lower-ranked ones
	RRFConstant = 60

	// DefaultBM25Weight is the default weight for BM25 results in RRF fusion
	// 0.4 means BM25 contributes 40% and vector search contributes 60%
	DefaultBM25Weight = 0.4
)

// HybridResult is one course after fusing keyword and vector rankings.
type HybridResult struct {
	Pos        int
	RRFScore   float64
	BM25Score  float64 // 0 if not found in BM25
	BM25Rank   int     // 0 if not found in BM25
	VectorSim  float64 // cosine similarity, 0 if not found in vector
	VectorRank int     // 0 if not found in vector
}

// FuseRRF combines BM25 and vector search results using Reciprocal Rank Fusion
//
// RRF formula: score(d) = Σ (w_i / (k + rank_i))
// where k is RRFConstant (60), rank_i is the 1-based rank in each source,
// and w_i is the weight for each source. bm25Weight is clamped to [0,1] and
// the vector weight is its complement.
//
// Results are sorted by RRF score descending. Equal scores are ordered by
// catalog position, so fusion is deterministic for identical inputs.
// topN <= 0 returns every fused result.
func FuseRRF(bm25Results []BM25Result, vectorResults []VectorHit, bm25Weight float64, topN int) []HybridResult {
	bm25Weight = min(max(bm25Weight, 0), 1)
	vectorWeight := 1.0 - bm25Weight

	byPos := make(map[int]*HybridResult, len(bm25Results)+len(vectorResults))
	get := func(pos int) *HybridResult {
		r, ok := byPos[pos]
		if !ok {
			r = &HybridResult{Pos: pos}
			byPos[pos] = r
		}
		return r
	}

	for i, r := range bm25Results {
		rank := i + 1
		hr := get(r.Pos)
		hr.BM25Score = r.Score
		hr.BM25Rank = rank
		hr.RRFScore += bm25Weight / float64(RRFConstant+rank)
	}
	for i, r := range vectorResults {
		rank := i + 1
		hr := get(r.Pos)
		hr.VectorSim = r.Similarity
		hr.VectorRank = rank
		hr.RRFScore += vectorWeight / float64(RRFConstant+rank)
	}

	results := make([]HybridResult, 0, len(byPos))
	for _, r := range byPos {
		results = append(results, *r)
	}
	slices.SortFunc(results, func(a, b HybridResult) int {
		if c := cmp.Compare(b.RRFScore, a.RRFScore); c != 0 {
			return c
		}
		return cmp.Compare(a.Pos, b.Pos)
	})

	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results
}
