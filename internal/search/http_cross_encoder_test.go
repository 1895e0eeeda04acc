package search

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

// rerankServer scores documents by length and returns them shuffled by score.
func rerankServer(t *testing.T, failFirst int32, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/rerank", func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= failFirst {
			w.WriteHeader(status)
			return
		}
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Index int     `json:"index"`
			Score float64 `json:"score"`
		}
		// Reverse order so the client must map by index
		results := make([]item, 0, len(req.Documents))
		for i := len(req.Documents) - 1; i >= 0; i-- {
			results = append(results, item{Index: i, Score: float64(len(req.Documents[i]))})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results, "processing_time_ms": 1.5})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testRetry() amerrors.RetryConfig {
	return amerrors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestHTTPCrossEncoder_ScoreBatch(t *testing.T) {
	// Given: a healthy server
	srv, calls := rerankServer(t, 0, 0)
	c, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{Endpoint: srv.URL, Retry: testRetry()})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	// When: three pairs for one query are scored
	scores, err := c.ScoreBatch(context.Background(), []Pair{
		{Query: "q", Document: "a"},
		{Query: "q", Document: "bbb"},
		{Query: "q", Document: "cc"},
	})

	// Then: scores come back in input order from a single request
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 2}, scores)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, c.Available(context.Background()))
}

func TestHTTPCrossEncoder_GroupsByQuery(t *testing.T) {
	srv, calls := rerankServer(t, 0, 0)
	c, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{Endpoint: srv.URL, Retry: testRetry()})
	require.NoError(t, err)

	scores, err := c.ScoreBatch(context.Background(), []Pair{
		{Query: "q1", Document: "aaaa"},
		{Query: "q2", Document: "b"},
		{Query: "q1", Document: "cc"},
	})

	require.NoError(t, err)
	assert.Equal(t, []float64{4, 1, 2}, scores)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPCrossEncoder_RetriesServerErrors(t *testing.T) {
	// Given: a server failing once with 503
	srv, calls := rerankServer(t, 1, http.StatusServiceUnavailable)
	c, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{
		Endpoint: srv.URL, Retry: testRetry(), SkipHealthCheck: true,
	})
	require.NoError(t, err)

	// When: scoring
	scores, err := c.ScoreBatch(context.Background(), []Pair{{Query: "q", Document: "xy"}})

	// Then: the retry succeeds
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, scores)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPCrossEncoder_ClientErrorNotRetried(t *testing.T) {
	srv, calls := rerankServer(t, 100, http.StatusBadRequest)
	c, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{
		Endpoint: srv.URL, Retry: testRetry(), SkipHealthCheck: true,
	})
	require.NoError(t, err)

	_, err = c.ScoreBatch(context.Background(), []Pair{{Query: "q", Document: "x"}})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPCrossEncoder_CircuitOpens(t *testing.T) {
	// Given: a failing server and a breaker tripping after 2 failures
	srv, calls := rerankServer(t, 1000, http.StatusInternalServerError)
	retry := testRetry()
	retry.MaxRetries = 0
	c, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{
		Endpoint: srv.URL, Retry: retry, SkipHealthCheck: true,
		BreakerFailures: 2, BreakerReset: time.Hour,
	})
	require.NoError(t, err)

	// When: three batches are attempted
	for i := 0; i < 3; i++ {
		_, err = c.ScoreBatch(context.Background(), []Pair{{Query: "q", Document: "x"}})
		require.Error(t, err)
	}

	// Then: the third is rejected without a request
	assert.ErrorIs(t, err, amerrors.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
	assert.False(t, c.Available(context.Background()))
}

func TestHTTPCrossEncoder_UnhealthyServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{Endpoint: srv.URL})

	require.Error(t, err)
	assert.ErrorIs(t, err, amerrors.ErrRerankerUnavailable)
}

func TestHTTPCrossEncoder_OmittedIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":0,"score":1}]}`))
	}))
	defer srv.Close()
	retry := testRetry()
	retry.MaxRetries = 0
	c, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{
		Endpoint: srv.URL, SkipHealthCheck: true, Retry: retry,
	})
	require.NoError(t, err)

	_, err = c.ScoreBatch(context.Background(), []Pair{{Query: "q", Document: "a"}, {Query: "q", Document: "b"}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "omitted")
}

func TestHTTPCrossEncoder_Closed(t *testing.T) {
	c, err := NewHTTPCrossEncoder(context.Background(), HTTPCrossEncoderConfig{SkipHealthCheck: true})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.ScoreBatch(context.Background(), []Pair{{Query: "q", Document: "a"}})

	assert.Error(t, err)
	assert.False(t, c.Available(context.Background()))
}
