package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

// Pair is one (query, document text) input to a cross-encoder.
type Pair struct {
	Query    string
	Document string
}

// CrossEncoder scores query-document pairs jointly.
// Cross-encoders are more accurate than bi-encoders but cost one model
// evaluation per pair, so they only see the head of a ranking.
type CrossEncoder interface {
	// ScoreBatch returns one score per pair, in input order.
	// Score range is model-defined and may be negative.
	ScoreBatch(ctx context.Context, pairs []Pair) ([]float64, error)

	// Available checks if the model is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// Reranker rescores the head of a fused ranking with a cross-encoder.
type Reranker struct {
	model  CrossEncoder
	docs   DocumentSource
	logger *slog.Logger
}

// NewReranker creates a reranker. docs resolves candidate text.
func NewReranker(model CrossEncoder, docs DocumentSource) (*Reranker, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: cross-encoder is required", ErrNilDependency)
	}
	if docs == nil {
		return nil, fmt.Errorf("%w: document source is required", ErrNilDependency)
	}
	return &Reranker{model: model, docs: docs, logger: slog.Default()}, nil
}

// Rerank scores the first fetchK candidates in one batch call and returns
// at most topK of them ordered by the new score.
//
// Candidates beyond fetchK are dropped. The model score replaces the fused
// score. fetchK <= 0, topK <= 0 or empty input return an empty slice without
// calling the model.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []FusedResult, fetchK, topK int) ([]FusedResult, error) {
	if fetchK <= 0 || topK <= 0 || len(candidates) == 0 {
		return []FusedResult{}, nil
	}

	head := candidates
	if len(head) > fetchK {
		head = head[:fetchK]
	}

	pairs := make([]Pair, len(head))
	for i, c := range head {
		doc, ok := r.docs.Document(c.DocumentID)
		if !ok {
			r.logger.Warn("rerank_document_missing", slog.String("document_id", c.DocumentID))
		}
		pairs[i] = Pair{Query: query, Document: doc.Text}
	}

	start := time.Now()
	scores, err := r.model.ScoreBatch(ctx, pairs)
	if err != nil {
		return nil, amerrors.StageError(amerrors.ErrCodeRerankerUnavailable, SourceRerank, err)
	}
	if len(scores) != len(pairs) {
		return nil, amerrors.New(amerrors.ErrCodeRerankerUnavailable,
			fmt.Sprintf("cross-encoder returned %d scores for %d pairs", len(scores), len(pairs)), nil).
			WithStage(SourceRerank)
	}

	out := make([]FusedResult, len(head))
	for i, c := range head {
		if math.IsNaN(scores[i]) {
			return nil, amerrors.New(amerrors.ErrCodeRerankerUnavailable,
				fmt.Sprintf("cross-encoder returned NaN for %q", c.DocumentID), nil).
				WithStage(SourceRerank)
		}
		res := c.Clone()
		if res.SourceScores == nil {
			res.SourceScores = make(map[string]float64, 1)
		}
		res.SourceScores[SourceRerank] = scores[i]
		res.Score = scores[i]
		out[i] = res
	}

	sortFused(out)
	out = truncateFused(out, topK)

	r.logger.Debug("rerank_timing",
		slog.Int("pairs", len(pairs)),
		slog.Int("returned", len(out)),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

// Available reports whether the model is ready.
func (r *Reranker) Available(ctx context.Context) bool {
	return r.model.Available(ctx)
}

// Close releases the model.
func (r *Reranker) Close() error {
	return r.model.Close()
}
