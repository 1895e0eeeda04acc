package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrank/internal/store"
)

// catCorpus is the three-document corpus used across pipeline tests.
func catCorpus() []store.Document {
	return []store.Document{
		{ID: "1", Text: "cat sat on mat"},
		{ID: "2", Text: "dog ran in park"},
		{ID: "3", Text: "cat and dog play"},
	}
}

func buildBM25(t testing.TB, docs []store.Document) *BM25Retriever {
	t.Helper()
	idx, err := store.NewBM25Index(docs, store.DefaultBM25Config())
	require.NoError(t, err)
	r, err := NewBM25Retriever(idx)
	require.NoError(t, err)
	return r
}

// fakeRetriever returns fixed candidates or a fixed error.
type fakeRetriever struct {
	name       string
	candidates []ScoredCandidate
	err        error
	calls      atomic.Int32
	gotTopK    atomic.Int32
	block      chan struct{}
	entered    chan struct{}
	enterOnce  sync.Once
}

func (f *fakeRetriever) Name() string { return f.name }

func (f *fakeRetriever) Retrieve(ctx context.Context, _ string, topK int) ([]ScoredCandidate, error) {
	f.calls.Add(1)
	f.gotTopK.Store(int32(topK))
	if f.entered != nil {
		f.enterOnce.Do(func() { close(f.entered) })
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]ScoredCandidate, 0, len(f.candidates))
	for _, c := range f.candidates {
		if len(out) == topK {
			break
		}
		c.Source = f.name
		out = append(out, c)
	}
	return out, nil
}

func candidates(pairs ...any) []ScoredCandidate {
	out := make([]ScoredCandidate, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, ScoredCandidate{DocumentID: pairs[i].(string), Score: pairs[i+1].(float64)})
	}
	return out
}

// fakeCrossEncoder scores pairs with fn and records batch calls.
type fakeCrossEncoder struct {
	fn      func(Pair) float64
	err     error
	short   bool
	batches atomic.Int32
	pairs   atomic.Int32
}

func (f *fakeCrossEncoder) ScoreBatch(_ context.Context, pairs []Pair) ([]float64, error) {
	f.batches.Add(1)
	f.pairs.Add(int32(len(pairs)))
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(pairs))
	for i, p := range pairs {
		out[i] = f.fn(p)
	}
	if f.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *fakeCrossEncoder) Available(context.Context) bool { return f.err == nil }
func (f *fakeCrossEncoder) Close() error                   { return nil }

// docMap is a DocumentSource over a slice.
type docMap map[string]store.Document

func newDocMap(docs []store.Document) docMap {
	m := make(docMap, len(docs))
	for _, d := range docs {
		m[d.ID] = d
	}
	return m
}

func (m docMap) Document(id string) (store.Document, bool) {
	d, ok := m[id]
	return d, ok
}

// mapCache is an unbounded ResultCache for pipeline tests.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]FusedResult
	puts int
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]FusedResult)} }

func (c *mapCache) Get(_ context.Context, key string) ([]FusedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, false
	}
	return CloneResults(v), true
}

func (c *mapCache) Put(_ context.Context, key string, results []FusedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	c.data[key] = CloneResults(results)
}

var errDown = errors.New("collaborator down")

func ids(results any) []string {
	var out []string
	switch rs := results.(type) {
	case []FusedResult:
		for _, r := range rs {
			out = append(out, r.DocumentID)
		}
	case []Result:
		for _, r := range rs {
			out = append(out, r.DocumentID)
		}
	case []ScoredCandidate:
		for _, r := range rs {
			out = append(out, r.DocumentID)
		}
	}
	return out
}
