package search

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/amanrank/internal/embed"
	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
	"github.com/Aman-CERP/amanrank/internal/store"
)

// BM25Retriever adapts a BM25Index to the Retriever interface.
type BM25Retriever struct {
	index *store.BM25Index
}

var (
	_ Retriever      = (*BM25Retriever)(nil)
	_ DocumentSource = (*BM25Retriever)(nil)
)

// NewBM25Retriever wraps a built BM25 index.
func NewBM25Retriever(index *store.BM25Index) (*BM25Retriever, error) {
	if index == nil {
		return nil, fmt.Errorf("%w: bm25 index is required", ErrNilDependency)
	}
	return &BM25Retriever{index: index}, nil
}

// Name returns "bm25".
func (r *BM25Retriever) Name() string { return SourceBM25 }

// Retrieve scores the query against the lexical index.
func (r *BM25Retriever) Retrieve(ctx context.Context, query string, topK int) ([]ScoredCandidate, error) {
	hits, err := r.index.Search(ctx, query, topK)
	if err != nil {
		return nil, amerrors.StageError(amerrors.ErrCodeIndexUnavailable, SourceBM25, err)
	}

	out := make([]ScoredCandidate, len(hits))
	for i, h := range hits {
		out[i] = ScoredCandidate{DocumentID: h.DocID, Score: h.Score, Source: SourceBM25}
	}
	return out, nil
}

// Document resolves ids against the indexed corpus.
func (r *BM25Retriever) Document(id string) (store.Document, bool) {
	return r.index.Document(id)
}

// Index returns the wrapped index.
func (r *BM25Retriever) Index() *store.BM25Index {
	return r.index
}

// VectorRetriever embeds the query and searches a nearest-neighbour index.
// Scores are the index's similarities, passed through unmodified.
type VectorRetriever struct {
	embedder embed.Embedder
	index    store.VectorIndex
}

var _ Retriever = (*VectorRetriever)(nil)

// NewVectorRetriever creates a vector retriever over injected collaborators.
func NewVectorRetriever(embedder embed.Embedder, index store.VectorIndex) (*VectorRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if index == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrNilDependency)
	}
	if embedder.Dimensions() != index.Dimensions() {
		return nil, amerrors.New(amerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("embedder produces %d dimensions, index expects %d",
				embedder.Dimensions(), index.Dimensions()), nil).
			WithStage(SourceVector)
	}
	return &VectorRetriever{embedder: embedder, index: index}, nil
}

// Name returns "vector".
func (r *VectorRetriever) Name() string { return SourceVector }

// Retrieve embeds query and returns up to topK nearest documents.
func (r *VectorRetriever) Retrieve(ctx context.Context, query string, topK int) ([]ScoredCandidate, error) {
	if topK <= 0 {
		return []ScoredCandidate{}, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, amerrors.StageError(amerrors.ErrCodeEmbeddingUnavailable, SourceVector, err).
			WithDetail("model", r.embedder.ModelName())
	}

	hits, err := r.index.Search(ctx, vec, topK)
	if err != nil {
		return nil, amerrors.StageError(amerrors.ErrCodeIndexUnavailable, SourceVector, err)
	}

	out := make([]ScoredCandidate, len(hits))
	for i, h := range hits {
		out[i] = ScoredCandidate{DocumentID: h.ID, Score: float64(h.Score), Source: SourceVector}
	}
	return out, nil
}
