package search

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
	"github.com/Aman-CERP/amanrank/internal/store"
)

func rerankDocs() docMap {
	return newDocMap([]store.Document{
		{ID: "a", Text: "alpha"},
		{ID: "b", Text: "bravo bravo"},
		{ID: "c", Text: "charlie charlie charlie"},
		{ID: "d", Text: "delta delta delta delta"},
	})
}

func fusedList(idsInOrder ...string) []FusedResult {
	out := make([]FusedResult, len(idsInOrder))
	for i, id := range idsInOrder {
		out[i] = FusedResult{DocumentID: id, Score: float64(len(idsInOrder) - i)}
	}
	return out
}

// lengthScore ranks longer documents higher.
func lengthScore(p Pair) float64 { return float64(len(p.Document)) }

func TestReranker_ReplacesScoreAndResorts(t *testing.T) {
	// Given: candidates ranked a,b,c and a model preferring longer texts
	model := &fakeCrossEncoder{fn: lengthScore}
	r, err := NewReranker(model, rerankDocs())
	require.NoError(t, err)

	// When: reranking all of them
	got, err := r.Rerank(context.Background(), "q", fusedList("a", "b", "c"), 3, 3)

	// Then: the model order wins and scores are replaced
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(got))
	assert.Equal(t, float64(len("charlie charlie charlie")), got[0].Score)
	assert.Equal(t, got[0].Score, got[0].SourceScores[SourceRerank])
}

func TestReranker_DropsBeyondFetchK(t *testing.T) {
	// Given: four candidates where the best by model is last
	model := &fakeCrossEncoder{fn: lengthScore}
	r, err := NewReranker(model, rerankDocs())
	require.NoError(t, err)

	// When: only the first two are fetched
	got, err := r.Rerank(context.Background(), "q", fusedList("a", "b", "c", "d"), 2, 5)

	// Then: c and d can never re-enter
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(got))
	assert.Equal(t, int32(2), model.pairs.Load())
}

func TestReranker_BoundedSubsetOfInput(t *testing.T) {
	input := fusedList("a", "b", "c", "d")
	inputIDs := ids(input)

	for fetchK := 0; fetchK <= 5; fetchK++ {
		for topK := 0; topK <= 5; topK++ {
			r, err := NewReranker(&fakeCrossEncoder{fn: lengthScore}, rerankDocs())
			require.NoError(t, err)

			got, err := r.Rerank(context.Background(), "q", input, fetchK, topK)
			require.NoError(t, err)

			limit := min(fetchK, topK, len(input))
			assert.LessOrEqual(t, len(got), limit)
			assert.Subset(t, inputIDs, ids(got))
		}
	}
}

func TestReranker_EmptyOrZeroSkipsModel(t *testing.T) {
	// Given: a model that records calls
	model := &fakeCrossEncoder{fn: lengthScore}
	r, err := NewReranker(model, rerankDocs())
	require.NoError(t, err)
	ctx := context.Background()

	// When: called with no candidates, fetchK 0 and negative fetchK
	a, err1 := r.Rerank(ctx, "q", nil, 5, 5)
	b, err2 := r.Rerank(ctx, "q", fusedList("a"), 0, 5)
	c, err3 := r.Rerank(ctx, "q", fusedList("a"), -1, 5)

	// Then: empty non-nil results and no model calls
	for _, err := range []error{err1, err2, err3} {
		require.NoError(t, err)
	}
	for _, res := range [][]FusedResult{a, b, c} {
		assert.NotNil(t, res)
		assert.Empty(t, res)
	}
	assert.Zero(t, model.batches.Load())
}

func TestReranker_OneBatchCall(t *testing.T) {
	model := &fakeCrossEncoder{fn: lengthScore}
	r, err := NewReranker(model, rerankDocs())
	require.NoError(t, err)

	_, err = r.Rerank(context.Background(), "q", fusedList("a", "b", "c", "d"), 4, 2)

	require.NoError(t, err)
	assert.Equal(t, int32(1), model.batches.Load())
	assert.Equal(t, int32(4), model.pairs.Load())
}

func TestReranker_NegativeScoresAndTieBreak(t *testing.T) {
	// Given: a model returning equal negative scores
	model := &fakeCrossEncoder{fn: func(Pair) float64 { return -2.5 }}
	r, err := NewReranker(model, rerankDocs())
	require.NoError(t, err)

	// When: reranking
	got, err := r.Rerank(context.Background(), "q", fusedList("d", "b", "a"), 3, 3)

	// Then: ids ascend among ties and scores stay negative
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "d"}, ids(got))
	assert.Equal(t, -2.5, got[0].Score)
}

func TestReranker_BatchMatchesIndividual(t *testing.T) {
	// Given: the overlap model and a candidate list
	docs := newDocMap(catCorpus())
	model := NewOverlapCrossEncoder(nil)
	r, err := NewReranker(model, docs)
	require.NoError(t, err)
	input := fusedList("1", "2", "3")

	// When: scored as a batch and one pair at a time
	batch, err := r.Rerank(context.Background(), "cat play", input, 3, 3)
	require.NoError(t, err)

	individual := map[string]float64{}
	for _, c := range input {
		s, err := model.ScoreBatch(context.Background(), []Pair{{Query: "cat play", Document: docs[c.DocumentID].Text}})
		require.NoError(t, err)
		individual[c.DocumentID] = s[0]
	}

	// Then: scores agree
	for _, res := range batch {
		assert.Equal(t, individual[res.DocumentID], res.Score)
	}
	assert.Equal(t, "3", batch[0].DocumentID)
}

func TestReranker_Failures(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeCrossEncoder
	}{
		{"model error", &fakeCrossEncoder{fn: lengthScore, err: errDown}},
		{"length mismatch", &fakeCrossEncoder{fn: lengthScore, short: true}},
		{"nan score", &fakeCrossEncoder{fn: func(Pair) float64 { return math.NaN() }}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReranker(tt.model, rerankDocs())
			require.NoError(t, err)

			_, err = r.Rerank(context.Background(), "q", fusedList("a", "b"), 2, 2)

			require.Error(t, err)
			assert.ErrorIs(t, err, amerrors.ErrRerankerUnavailable)
			assert.Equal(t, SourceRerank, amerrors.GetStage(err))
		})
	}
}

func TestReranker_InputNotMutated(t *testing.T) {
	input := []FusedResult{{DocumentID: "a", Score: 1, SourceScores: map[string]float64{SourceBM25: 1}}}
	r, err := NewReranker(&fakeCrossEncoder{fn: lengthScore}, rerankDocs())
	require.NoError(t, err)

	_, err = r.Rerank(context.Background(), "q", input, 1, 1)

	require.NoError(t, err)
	assert.Equal(t, 1.0, input[0].Score)
	assert.NotContains(t, input[0].SourceScores, SourceRerank)
}

func TestNewReranker_NilDependencies(t *testing.T) {
	_, err := NewReranker(nil, rerankDocs())
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = NewReranker(&fakeCrossEncoder{fn: lengthScore}, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestOverlapCrossEncoder_Score(t *testing.T) {
	// Given: the overlap scorer
	o := NewOverlapCrossEncoder(nil)

	// When: pairs with full, partial and no overlap are scored
	scores, err := o.ScoreBatch(context.Background(), []Pair{
		{Query: "cat dog", Document: "cat and dog play"},
		{Query: "cat dog", Document: "cat sat on mat"},
		{Query: "cat dog", Document: strings.Repeat("bird ", 3)},
		{Query: "", Document: "cat"},
	})

	// Then: more coverage scores higher and no overlap is 0
	require.NoError(t, err)
	assert.InDelta(t, 1.0+2.0/4.0, scores[0], 1e-12)
	assert.InDelta(t, 0.5+1.0/4.0, scores[1], 1e-12)
	assert.Zero(t, scores[2])
	assert.Zero(t, scores[3])

	require.NoError(t, o.Close())
	assert.False(t, o.Available(context.Background()))
}
