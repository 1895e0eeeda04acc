package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// FlatIndex is an exact brute-force VectorIndex. It scans every stored vector
// per query, which is the right trade-off for corpora of a few thousand
// documents and gives reproducible rankings in tests.
type FlatIndex struct {
	mu      sync.RWMutex
	config  VectorIndexConfig
	ids     []string
	vectors [][]float32
	pos     map[string]int
	closed  bool
}

// NewFlatIndex creates an empty exact index.
func NewFlatIndex(cfg VectorIndexConfig) (*FlatIndex, error) {
	cfg = cfg.withDefaults()
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector index dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric != MetricCosine && cfg.Metric != MetricL2 {
		return nil, fmt.Errorf("unsupported vector metric %q", cfg.Metric)
	}
	return &FlatIndex{
		config: cfg,
		pos:    make(map[string]int),
	}, nil
}

// Add inserts or replaces vectors.
func (f *FlatIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("index is closed")
	}
	for _, v := range vectors {
		if len(v) != f.config.Dimensions {
			return ErrDimensionMismatch{Expected: f.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if f.config.Metric == MetricCosine {
			normalizeVectorInPlace(vec)
		}

		if p, ok := f.pos[id]; ok {
			f.vectors[p] = vec
			continue
		}
		f.pos[id] = len(f.ids)
		f.ids = append(f.ids, id)
		f.vectors = append(f.vectors, vec)
	}
	return nil
}

// Search scores every vector and returns the k most similar.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if len(query) != f.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: f.config.Dimensions, Got: len(query)}
	}
	if k <= 0 || len(f.ids) == 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if f.config.Metric == MetricCosine {
		normalizeVectorInPlace(q)
	}

	results := make([]*VectorResult, len(f.ids))
	for i, vec := range f.vectors {
		var d float32
		if f.config.Metric == MetricL2 {
			d = euclidean(q, vec)
		} else {
			d = 1 - dot(q, vec)
		}
		results[i] = &VectorResult{ID: f.ids[i], Distance: d, Score: distanceToScore(d, f.config.Metric)}
	}

	sortVectorResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Contains checks if ID exists.
func (f *FlatIndex) Contains(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.pos[id]
	return ok && !f.closed
}

// Count returns number of vectors.
func (f *FlatIndex) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return 0
	}
	return len(f.ids)
}

// Dimensions returns the configured dimensionality.
func (f *FlatIndex) Dimensions() int {
	return f.config.Dimensions
}

// Close releases resources.
func (f *FlatIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.ids, f.vectors, f.pos = nil, nil, map[string]int{}
	return nil
}

var _ VectorIndex = (*FlatIndex)(nil)

// NewVectorIndex creates the index named by kind ("hnsw" or "flat").
func NewVectorIndex(kind string, cfg VectorIndexConfig) (VectorIndex, error) {
	switch kind {
	case "", "hnsw":
		return NewHNSWIndex(cfg)
	case "flat":
		return NewFlatIndex(cfg)
	default:
		return nil, fmt.Errorf("unknown vector index %q (valid: hnsw, flat)", kind)
	}
}

// sortVectorResults orders by score descending, then ID ascending.
func sortVectorResults(results []*VectorResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func euclidean(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}
