// Package search provides the retrieval stages and the pipeline that
// orchestrates them: lexical and vector retrievers, score fusion,
// cross-encoder reranking and result caching.
package search

import (
	"context"
	"errors"
	"sort"

	"github.com/Aman-CERP/amanrank/internal/store"
)

// Source names for candidate lists.
const (
	SourceBM25   = "bm25"
	SourceVector = "vector"
	SourceRerank = "rerank"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// ScoredCandidate is one retriever's opinion of one document.
type ScoredCandidate struct {
	DocumentID string
	Score      float64
	Source     string
}

// FusedResult is a document with its combined score.
// SourceScores holds each source's weighted contribution.
type FusedResult struct {
	DocumentID   string             `json:"document_id"`
	Score        float64            `json:"score"`
	SourceScores map[string]float64 `json:"source_scores,omitempty"`
}

// Clone returns a deep copy.
func (r FusedResult) Clone() FusedResult {
	out := FusedResult{DocumentID: r.DocumentID, Score: r.Score}
	if r.SourceScores != nil {
		out.SourceScores = make(map[string]float64, len(r.SourceScores))
		for k, v := range r.SourceScores {
			out.SourceScores[k] = v
		}
	}
	return out
}

// CloneResults deep-copies a ranked list. Return empty slice, not nil.
func CloneResults(results []FusedResult) []FusedResult {
	out := make([]FusedResult, len(results))
	for i, r := range results {
		out[i] = r.Clone()
	}
	return out
}

// Result is what the pipeline hands back to callers.
type Result struct {
	DocumentID string         `json:"document_id"`
	Score      float64        `json:"score"`
	Text       string         `json:"text"`
	Metadata   store.Metadata `json:"metadata,omitempty"`

	// Sources holds fusion contributions and, when reranked, the rerank score.
	Sources map[string]float64 `json:"sources,omitempty"`
}

// Retriever produces a ranked candidate list for a query.
type Retriever interface {
	// Name identifies the source, e.g. "bm25" or "vector".
	Name() string

	// Retrieve returns at most topK candidates, best first.
	Retrieve(ctx context.Context, query string, topK int) ([]ScoredCandidate, error)
}

// DocumentSource resolves document ids to their text and metadata.
type DocumentSource interface {
	Document(id string) (store.Document, bool)
}

// ResultCache stores ranked lists by canonical key.
// Implementations own their entries and must copy on Put and Get.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]FusedResult, bool)
	Put(ctx context.Context, key string, results []FusedResult)
}

// sortFused orders by score descending, then document ID ascending.
func sortFused(results []FusedResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocumentID < results[j].DocumentID
	})
}

// truncateFused returns at most n results.
func truncateFused(results []FusedResult, n int) []FusedResult {
	if n < 0 {
		n = 0
	}
	if len(results) > n {
		return results[:n]
	}
	return results
}
