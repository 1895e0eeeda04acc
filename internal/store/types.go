// Package store provides the lexical BM25 index, nearest-neighbour vector
// indexes and SQLite-backed document persistence.
package store

import (
	"context"
	"fmt"
)

// Document is an immutable unit of retrievable text.
type Document struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// BM25Result represents a lexical search result.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string // Query terms present in the document
}

// IndexStats contains corpus-level term statistics.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2)
	K1 float64 `yaml:"k1" json:"k1"`

	// B is the length normalization parameter (default: 0.75)
	B float64 `yaml:"b" json:"b"`

	// StopWords is a list of words dropped at index and query time
	StopWords []string `yaml:"stop_words,omitempty" json:"stop_words,omitempty"`

	// MinTokenLength drops shorter tokens, counted in runes (default: 1)
	MinTokenLength int `yaml:"min_token_length" json:"min_token_length"`
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		MinTokenLength: 1,
	}
}

// VectorResult represents a nearest-neighbour search result.
// Score is the index's similarity: higher is closer.
type VectorResult struct {
	ID       string
	Distance float32
	Score    float32
}

// VectorIndex maps query vectors to the most similar stored document ids.
type VectorIndex interface {
	// Add inserts vectors with their IDs. Existing IDs are replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search returns up to k nearest neighbours, most similar first.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Contains checks if ID exists.
	Contains(id string) bool

	// Count returns number of vectors.
	Count() int

	// Dimensions returns the vector dimensionality accepted by the index.
	Dimensions() int

	// Close releases resources.
	Close() error
}

// Metric selects the vector distance function.
type Metric string

const (
	// MetricCosine uses cosine distance; scores are cosine similarity.
	MetricCosine Metric = "cos"
	// MetricL2 uses Euclidean distance; scores are 1/(1+distance).
	MetricL2 Metric = "l2"
)

// VectorIndexConfig configures a vector index.
type VectorIndexConfig struct {
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	Metric     Metric `yaml:"metric" json:"metric"`
	M          int    `yaml:"m" json:"m"`                 // HNSW max connections per node
	EfSearch   int    `yaml:"ef_search" json:"ef_search"` // HNSW search candidate list size
}

// DefaultVectorIndexConfig returns defaults for the given dimensionality.
func DefaultVectorIndexConfig(dimensions int) VectorIndexConfig {
	return VectorIndexConfig{
		Dimensions: dimensions,
		Metric:     MetricCosine,
		M:          16,
		EfSearch:   64,
	}
}

func (c VectorIndexConfig) withDefaults() VectorIndexConfig {
	if c.Metric == "" {
		c.Metric = MetricCosine
	}
	if c.M == 0 {
		c.M = 16
	}
	if c.EfSearch == 0 {
		c.EfSearch = 64
	}
	return c
}

// ErrDimensionMismatch indicates vector dimension doesn't match index configuration.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// DocumentStore persists a corpus between process runs.
type DocumentStore interface {
	// Replace atomically swaps the stored corpus for docs.
	Replace(ctx context.Context, docs []Document) error

	// All returns every stored document in the order it was stored.
	All(ctx context.Context) ([]Document, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Close releases resources.
	Close() error
}
