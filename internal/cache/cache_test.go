package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrank/internal/search"
)

// memoryRemote is an in-process RemoteStore.
type memoryRemote struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet error
	failSet error
	sets    int
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{data: make(map[string][]byte)}
}

func (m *memoryRemote) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrRemoteMiss
	}
	return v, nil
}

func (m *memoryRemote) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.failSet != nil {
		return m.failSet
	}
	m.data[key] = value
	return nil
}

func (m *memoryRemote) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}

func (m *memoryRemote) Close() error { return nil }

func ranked(ids ...string) []search.FusedResult {
	out := make([]search.FusedResult, len(ids))
	for i, id := range ids {
		out[i] = search.FusedResult{
			DocumentID:   id,
			Score:        float64(len(ids) - i),
			SourceScores: map[string]float64{search.SourceBM25: float64(len(ids) - i)},
		}
	}
	return out
}

func TestResultCache_GetPut(t *testing.T) {
	// Given: an empty cache
	c, err := New(2)
	require.NoError(t, err)
	ctx := context.Background()

	// When: a list is stored and read back
	_, ok := c.Get(ctx, "q1")
	require.False(t, ok)
	c.Put(ctx, "q1", ranked("a", "b"))
	got, ok := c.Get(ctx, "q1")

	// Then: the same list is returned
	require.True(t, ok)
	assert.Equal(t, ranked("a", "b"), got)
	assert.Equal(t, 1, c.Size())
}

func TestResultCache_EvictsLeastRecentlyUsed(t *testing.T) {
	// Given: a full cache of capacity 3
	c, err := New(3)
	require.NoError(t, err)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		c.Put(ctx, fmt.Sprintf("k%d", i), ranked("x"))
	}

	// When: a fourth key is inserted
	c.Put(ctx, "k4", ranked("y"))

	// Then: exactly the oldest key is evicted
	assert.Equal(t, 3, c.Size())
	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)
	for _, k := range []string{"k2", "k3", "k4"} {
		_, ok := c.Get(ctx, k)
		assert.True(t, ok, k)
	}
}

func TestResultCache_GetPromotes(t *testing.T) {
	// Given: a full cache where k1 is oldest
	c, err := New(3)
	require.NoError(t, err)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		c.Put(ctx, fmt.Sprintf("k%d", i), ranked("x"))
	}

	// When: k1 is read before a new insertion
	_, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	c.Put(ctx, "k4", ranked("y"))

	// Then: k2 is the victim instead
	_, ok = c.Get(ctx, "k1")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "k2")
	assert.False(t, ok)
}

func TestResultCache_PutExistingReplacesAndPromotes(t *testing.T) {
	// Given: a full cache of capacity 2
	c, err := New(2)
	require.NoError(t, err)
	ctx := context.Background()
	c.Put(ctx, "a", ranked("1"))
	c.Put(ctx, "b", ranked("2"))

	// When: "a" is overwritten then a new key arrives
	c.Put(ctx, "a", ranked("3"))
	c.Put(ctx, "c", ranked("4"))

	// Then: the new value is kept, "b" was evicted, capacity holds
	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "3", got[0].DocumentID)
	_, ok = c.Get(ctx, "b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Size())
}

func TestResultCache_EntriesAreCopies(t *testing.T) {
	// Given: a stored list
	c, err := New(2)
	require.NoError(t, err)
	ctx := context.Background()
	in := ranked("a")
	c.Put(ctx, "k", in)

	// When: the caller mutates both the input and a returned copy
	in[0].Score = -1
	out, _ := c.Get(ctx, "k")
	out[0].SourceScores[search.SourceBM25] = -1

	// Then: the cached entry is untouched
	again, _ := c.Get(ctx, "k")
	assert.Equal(t, ranked("a"), again)
}

func TestResultCache_Clear(t *testing.T) {
	remote := newMemoryRemote()
	c, err := New(2, WithRemote(remote, time.Minute))
	require.NoError(t, err)
	ctx := context.Background()
	c.Put(ctx, "k", ranked("a"))

	c.Clear(ctx)

	assert.Zero(t, c.Size())
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestResultCache_RemoteTier(t *testing.T) {
	// Given: two caches sharing one remote tier
	remote := newMemoryRemote()
	ctx := context.Background()
	writer, err := New(2, WithRemote(remote, 0))
	require.NoError(t, err)
	reader, err := New(2, WithRemote(remote, 0))
	require.NoError(t, err)

	// When: one process writes and the other reads
	writer.Put(ctx, "shared", ranked("a", "b"))
	got, ok := reader.Get(ctx, "shared")

	// Then: the reader gets the list and caches it locally
	require.True(t, ok)
	assert.Equal(t, ranked("a", "b"), got)
	assert.Equal(t, 1, reader.Size())
}

func TestResultCache_RemoteErrorsAreMisses(t *testing.T) {
	// Given: a remote tier that fails every operation
	remote := newMemoryRemote()
	remote.failGet = errors.New("connection refused")
	remote.failSet = errors.New("connection refused")
	c, err := New(2, WithRemote(remote, 0))
	require.NoError(t, err)
	ctx := context.Background()

	// When: an unknown key is read and a value is stored
	_, ok := c.Get(ctx, "missing")
	c.Put(ctx, "k", ranked("a"))

	// Then: the miss is silent and the local tier still works
	assert.False(t, ok)
	got, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, ranked("a"), got)
	assert.Equal(t, 1, remote.sets)
}

func TestResultCache_CorruptRemoteEntryIsMiss(t *testing.T) {
	remote := newMemoryRemote()
	remote.data[remoteKey("k")] = []byte("{not json")
	c, err := New(2, WithRemote(remote, 0))
	require.NoError(t, err)

	_, ok := c.Get(context.Background(), "k")

	assert.False(t, ok)
}

func TestResultCache_ConcurrentAccess(t *testing.T) {
	// Given: a small cache shared by many goroutines
	c, err := New(8)
	require.NoError(t, err)
	ctx := context.Background()

	// When: they put and get overlapping keys
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("k%d", (g+i)%12)
				c.Put(ctx, key, ranked(key))
				if got, ok := c.Get(ctx, key); ok {
					assert.Len(t, got, 1)
				}
			}
		}(g)
	}
	wg.Wait()

	// Then: capacity is never exceeded
	assert.LessOrEqual(t, c.Size(), 8)
}

func TestNew_Capacity(t *testing.T) {
	_, err := New(-1)
	assert.Error(t, err)

	c, err := New(0)
	require.NoError(t, err)
	for i := 0; i < DefaultCapacity+5; i++ {
		c.Put(context.Background(), fmt.Sprintf("k%d", i), ranked("x"))
	}
	assert.Equal(t, DefaultCapacity, c.Size())
}
