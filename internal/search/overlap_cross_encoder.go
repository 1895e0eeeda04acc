package search

import (
	"context"
	"sync"

	"github.com/Aman-CERP/amanrank/internal/store"
)

// OverlapCrossEncoder is a deterministic lexical stand-in for a neural
// cross-encoder. It needs no model, which makes reranking usable offline.
//
//	score = matched distinct query terms / distinct query terms
//	      + matched term occurrences / document length
type OverlapCrossEncoder struct {
	tokenizer *store.Tokenizer

	mu     sync.RWMutex
	closed bool
}

var _ CrossEncoder = (*OverlapCrossEncoder)(nil)

// NewOverlapCrossEncoder creates the scorer. A nil tokenizer uses the default chain.
func NewOverlapCrossEncoder(tokenizer *store.Tokenizer) *OverlapCrossEncoder {
	if tokenizer == nil {
		tokenizer = store.NewTokenizer(nil, 1)
	}
	return &OverlapCrossEncoder{tokenizer: tokenizer}
}

// ScoreBatch scores each pair independently.
func (o *OverlapCrossEncoder) ScoreBatch(ctx context.Context, pairs []Pair) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores := make([]float64, len(pairs))
	for i, p := range pairs {
		scores[i] = o.score(p.Query, p.Document)
	}
	return scores, nil
}

func (o *OverlapCrossEncoder) score(query, document string) float64 {
	qTerms := o.tokenizer.Tokenize(query)
	dTerms := o.tokenizer.Tokenize(document)
	if len(qTerms) == 0 || len(dTerms) == 0 {
		return 0
	}

	want := make(map[string]bool, len(qTerms))
	for _, t := range qTerms {
		want[t] = true
	}

	matched := make(map[string]bool, len(want))
	occurrences := 0
	for _, t := range dTerms {
		if want[t] {
			matched[t] = true
			occurrences++
		}
	}

	coverage := float64(len(matched)) / float64(len(want))
	density := float64(occurrences) / float64(len(dTerms))
	return coverage + density
}

// Available reports true until Close is called.
func (o *OverlapCrossEncoder) Available(_ context.Context) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return !o.closed
}

// Close marks the scorer unavailable.
func (o *OverlapCrossEncoder) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}
