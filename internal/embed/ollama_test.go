package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

// fakeOllama serves /api/tags and /api/embed with fixed-size vectors.
type fakeOllama struct {
	dims       int
	failFirst  int32
	status     int
	embedCalls atomic.Int32
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(OllamaModelListResponse{
			Models: []OllamaModelInfo{{Name: "nomic-embed-text:latest"}},
		})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		n := f.embedCalls.Add(1)
		if n <= f.failFirst {
			w.WriteHeader(f.status)
			return
		}
		var req OllamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := OllamaEmbedResponse{Model: req.Model}
		for i := range req.Input {
			vec := make([]float64, f.dims)
			vec[i%f.dims] = 3
			resp.Embeddings = append(resp.Embeddings, vec)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func fastRetry() amerrors.RetryConfig {
	return amerrors.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}
}

func TestOllamaEmbedder_DetectsDimensions(t *testing.T) {
	// Given: a server exposing an 8-dimensional model
	fake := &fakeOllama{dims: 8}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	// When: the embedder starts with health check enabled
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// Then: dimensions are probed and the model is available
	assert.Equal(t, 8, e.Dimensions())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_BatchNormalizesAndKeepsOrder(t *testing.T) {
	// Given: an embedder with a small batch size
	fake := &fakeOllama{dims: 4}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 4, BatchSize: 2, SkipHealthCheck: true, Retry: fastRetry(),
	})
	require.NoError(t, err)

	// When: three texts and a blank one are embedded
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "", "b", "c"})
	require.NoError(t, err)

	// Then: blanks are zero vectors, others are unit length, two requests are made
	require.Len(t, vecs, 4)
	assert.Zero(t, vectorMagnitude(vecs[1]))
	for _, i := range []int{0, 2, 3} {
		assert.InDelta(t, 1.0, vectorMagnitude(vecs[i]), 1e-6)
	}
	assert.Equal(t, int32(2), fake.embedCalls.Load())
}

func TestOllamaEmbedder_RetriesTransientFailure(t *testing.T) {
	// Given: a server that fails the first request with 503
	fake := &fakeOllama{dims: 4, failFirst: 1, status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 4, SkipHealthCheck: true, Retry: fastRetry(),
	})
	require.NoError(t, err)

	// When: a text is embedded
	vec, err := e.Embed(context.Background(), "hello")

	// Then: the retry succeeds
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int32(2), fake.embedCalls.Load())
}

func TestOllamaEmbedder_ClientErrorNotRetried(t *testing.T) {
	// Given: a server rejecting requests with 400
	fake := &fakeOllama{dims: 4, failFirst: 100, status: http.StatusBadRequest}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 4, SkipHealthCheck: true, Retry: fastRetry(),
	})
	require.NoError(t, err)

	// When: a text is embedded
	_, err = e.Embed(context.Background(), "hello")

	// Then: one request is made and the error is coded unavailable
	require.Error(t, err)
	assert.ErrorIs(t, err, amerrors.ErrEmbeddingUnavailable)
	assert.Equal(t, int32(1), fake.embedCalls.Load())
}

func TestOllamaEmbedder_CircuitOpensAfterFailures(t *testing.T) {
	// Given: a permanently failing server and a breaker tripping after 2 failures
	fake := &fakeOllama{dims: 4, failFirst: 1000, status: http.StatusInternalServerError}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	retry := fastRetry()
	retry.MaxRetries = 0
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 4, SkipHealthCheck: true, Retry: retry,
		BreakerFailures: 2, BreakerReset: time.Hour,
	})
	require.NoError(t, err)

	// When: three calls are made
	for i := 0; i < 3; i++ {
		_, err = e.Embed(context.Background(), "x")
		require.Error(t, err)
	}

	// Then: the third never reaches the server
	assert.Equal(t, int32(2), fake.embedCalls.Load())
	assert.ErrorIs(t, err, amerrors.ErrCircuitOpen)
	assert.False(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_MissingModel(t *testing.T) {
	// Given: a server without the requested model
	fake := &fakeOllama{dims: 4}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	// When: the embedder starts
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Model: "other-model"})

	// Then: startup fails as unavailable
	require.Error(t, err)
	assert.ErrorIs(t, err, amerrors.ErrEmbeddingUnavailable)
}

func TestOllamaEmbedder_SkipHealthCheckNeedsDimensions(t *testing.T) {
	// Given/When: a skipped health check without dimensions
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{SkipHealthCheck: true})

	// Then: configuration is rejected
	require.Error(t, err)
}

func TestOllamaEmbedder_Closed(t *testing.T) {
	// Given: a closed embedder
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Dimensions: 4, SkipHealthCheck: true})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// When: it is used
	_, err = e.Embed(context.Background(), "x")

	// Then: it errors without network access
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}
