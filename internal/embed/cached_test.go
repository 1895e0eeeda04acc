package embed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder records how many texts reach the provider.
type countingEmbedder struct {
	*StaticEmbedder
	calls atomic.Int64
	fail  error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	if c.fail != nil {
		return nil, c.fail
	}
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_HitSkipsProvider(t *testing.T) {
	// Given: a cached embedder over a counting provider
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(32)}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	// When: the same text is embedded twice
	first, err := c.Embed(ctx, "repeat me")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "repeat me")
	require.NoError(t, err)

	// Then: the provider is called once and vectors match
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.calls.Load())
	assert.Equal(t, CacheStats{Hits: 1, Misses: 1, Size: 1}, c.Stats())
}

func TestCachedEmbedder_BatchForwardsOnlyMisses(t *testing.T) {
	// Given: a cache already holding one text
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(32)}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()
	_, err := c.Embed(ctx, "known")
	require.NoError(t, err)

	// When: a batch containing it and two new texts is embedded
	vecs, err := c.EmbedBatch(ctx, []string{"new one", "known", "new two"})
	require.NoError(t, err)

	// Then: only the two new texts reach the provider, order is kept
	assert.Equal(t, int64(3), inner.calls.Load())
	require.Len(t, vecs, 3)
	want, _ := inner.StaticEmbedder.Embed(ctx, "new two")
	assert.Equal(t, want, vecs[2])
}

func TestCachedEmbedder_ErrorsNotCached(t *testing.T) {
	// Given: a failing provider
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(8), fail: errors.New("down")}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	// When: a text fails, then the provider recovers
	_, err := c.Embed(ctx, "x")
	require.Error(t, err)
	inner.fail = nil
	_, err = c.Embed(ctx, "x")

	// Then: the second call reaches the provider
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCachedEmbedder_Eviction(t *testing.T) {
	// Given: a cache of size 2
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(8)}
	c := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	// When: three distinct texts are embedded
	for _, text := range []string{"a", "b", "c"} {
		_, err := c.Embed(ctx, text)
		require.NoError(t, err)
	}

	// Then: the oldest was evicted
	assert.Equal(t, 2, c.Stats().Size)
	_, err := c.Embed(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(4), inner.calls.Load())
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	// Given: a cached embedder
	inner := NewStaticEmbedder(48)
	c := NewCachedEmbedder(inner, 0)

	// Then: metadata is delegated
	assert.Equal(t, 48, c.Dimensions())
	assert.Equal(t, inner.ModelName(), c.ModelName())
	assert.Same(t, inner, c.Inner())
	require.NoError(t, c.Close())
	assert.False(t, inner.Available(context.Background()))
}
