package rag

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/garyellow/degree-advisor/internal/catalog"
	apperrors "github.com/garyellow/degree-advisor/internal/errors"
)

// Embedder turns texts into vectors. Implementations must return exactly
// one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Build defaults.
const (
	DefaultEmbedBatchSize   = 32
	DefaultEmbedConcurrency = 4
)

// BuildOptions controls how a VectorIndex is embedded.
type BuildOptions struct {
	BatchSize   int
	Concurrency int
}

// VectorHit is one nearest-neighbour result. Pos is the catalog position.
type VectorHit struct {
	Pos        int
	Similarity float64
}

// slot is immutable once published. A point-update publishes a new slot.
type slot struct {
	record catalog.CourseRecord
	text   string
	vector []float32 // unit length; nil until the index is embedded
}

// VectorIndex maps each catalog position to a course record and its
// embedding. Every position has its own atomically swapped slot, so a
// point-update of one course never blocks or tears reads of any other.
type VectorIndex struct {
	version string
	slots   []atomic.Pointer[slot]

	// model and dim are written before ready is set and never after.
	model string
	dim   int
	ready atomic.Bool
}

// NewVectorIndex creates an unembedded index over cat. Enrichments keyed by
// course ID are attached to their records before course text is computed.
func NewVectorIndex(cat *catalog.Catalog, enrichments map[string]*catalog.Enrichment) *VectorIndex {
	v := &VectorIndex{
		version: cat.Version(),
		slots:   make([]atomic.Pointer[slot], cat.Len()),
	}
	vocab := cat.Vocabulary()
	for i := range cat.Len() {
		rec := cat.At(i)
		if e, ok := enrichments[rec.ID]; ok && !e.IsEmpty() {
			rec = rec.WithEnrichment(e)
		}
		v.slots[i].Store(&slot{record: rec, text: CourseText(rec, vocab)})
	}
	return v
}

// Build embeds every course text in batches with bounded concurrency and
// marks the index ready. A failed build leaves the index unembedded.
func (v *VectorIndex) Build(ctx context.Context, emb Embedder, opts BuildOptions) error {
	if emb == nil {
		return fmt.Errorf("%w: no embedder configured", apperrors.ErrBackendUnavailable)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultEmbedBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultEmbedConcurrency
	}

	start := time.Now()
	texts := v.Texts()
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for lo := 0; lo < len(texts); lo += opts.BatchSize {
		hi := min(lo+opts.BatchSize, len(texts))
		g.Go(func() error {
			out, err := emb.Embed(gctx, texts[lo:hi])
			if err != nil {
				return fmt.Errorf("embed batch %d-%d: %w", lo, hi, err)
			}
			if len(out) != hi-lo {
				return fmt.Errorf("embed batch %d-%d: got %d vectors", lo, hi, len(out))
			}
			copy(vectors[lo:hi], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := v.Load(emb.Model(), vectors); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Vector index built",
		"courses", len(texts),
		"model", emb.Model(),
		"dim", v.dim,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Load installs precomputed vectors (from the cache) and marks the index
// ready. vectors[i] belongs to catalog position i.
func (v *VectorIndex) Load(model string, vectors [][]float32) error {
	if v.ready.Load() {
		return errors.New("vector index already loaded")
	}
	if len(vectors) != len(v.slots) {
		return fmt.Errorf("vector count %d does not match catalog size %d", len(vectors), len(v.slots))
	}
	dim := 0
	for i, vec := range vectors {
		if len(vec) == 0 {
			return fmt.Errorf("empty vector at position %d", i)
		}
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return fmt.Errorf("vector at position %d has dimension %d, want %d", i, len(vec), dim)
		}
	}

	for i := range v.slots {
		old := v.slots[i].Load()
		v.slots[i].Store(&slot{record: old.record, text: old.text, vector: normalize(vectors[i])})
	}
	v.model = model
	v.dim = dim
	v.ready.Store(len(v.slots) > 0)
	return nil
}

// Ready reports whether vectors are loaded.
func (v *VectorIndex) Ready() bool { return v != nil && v.ready.Load() }

// Model returns the embedding model of the loaded vectors.
func (v *VectorIndex) Model() string {
	if !v.Ready() {
		return ""
	}
	return v.model
}

// Version returns the catalog version the index was built for.
func (v *VectorIndex) Version() string { return v.version }

// Len returns the number of slots.
func (v *VectorIndex) Len() int { return len(v.slots) }

// Record returns the current record at pos, enrichment included.
func (v *VectorIndex) Record(pos int) catalog.CourseRecord {
	return v.slots[pos].Load().record
}

// Texts returns the current course texts in catalog order.
func (v *VectorIndex) Texts() []string {
	out := make([]string, len(v.slots))
	for i := range v.slots {
		out[i] = v.slots[i].Load().text
	}
	return out
}

// Vectors returns a snapshot of all vectors in catalog order, for caching.
func (v *VectorIndex) Vectors() [][]float32 {
	if !v.Ready() {
		return nil
	}
	out := make([][]float32, len(v.slots))
	for i := range v.slots {
		out[i] = v.slots[i].Load().vector
	}
	return out
}

// Vector returns the vector currently stored at pos.
func (v *VectorIndex) Vector(pos int) []float32 {
	return v.slots[pos].Load().vector
}

// Replace publishes a new record, text and vector for one position. Other
// positions are untouched. Once the index is ready a vector is required.
func (v *VectorIndex) Replace(pos int, rec catalog.CourseRecord, text string, vector []float32) error {
	if pos < 0 || pos >= len(v.slots) {
		return fmt.Errorf("%w: position %d", apperrors.ErrNotFound, pos)
	}
	next := &slot{record: rec, text: text}
	if v.Ready() {
		if len(vector) != v.dim {
			return fmt.Errorf("replacement vector has dimension %d, want %d", len(vector), v.dim)
		}
		next.vector = normalize(vector)
	}
	v.slots[pos].Store(next)
	return nil
}

// Nearest returns admitted positions ordered by cosine similarity to query,
// best first. Equal similarities keep catalog order. A nil admit accepts
// every position; k <= 0 returns every admitted position.
func (v *VectorIndex) Nearest(query []float32, admit func(pos int) bool, k int) ([]VectorHit, error) {
	if !v.Ready() {
		return nil, fmt.Errorf("%w: vector index not built", apperrors.ErrBackendUnavailable)
	}
	if len(query) != v.dim {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d",
			apperrors.ErrBackendUnavailable, len(query), v.dim)
	}
	q := normalize(query)

	hits := make([]VectorHit, 0, len(v.slots))
	for i := range v.slots {
		if admit != nil && !admit(i) {
			continue
		}
		hits = append(hits, VectorHit{Pos: i, Similarity: dot(q, v.slots[i].Load().vector)})
	}
	slices.SortStableFunc(hits, func(a, b VectorHit) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// normalize returns a unit-length copy of vec. The zero vector stays zero.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(vec))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range vec {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
