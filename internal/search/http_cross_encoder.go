package search

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

// HTTP cross-encoder configuration defaults
const (
	DefaultRerankerEndpoint = "http://localhost:9659"
	DefaultRerankerModel    = "reranker-small"
	DefaultRerankerTimeout  = 30 * time.Second
)

// HTTPCrossEncoderConfig holds configuration for the HTTP cross-encoder
type HTTPCrossEncoderConfig struct {
	// Endpoint is the rerank server URL (default: http://localhost:9659)
	Endpoint string

	// Model is the reranker model alias (default: reranker-small)
	Model string

	// Timeout is the per-request timeout (default: 30s)
	Timeout time.Duration

	// Instruction is an optional task instruction forwarded to the model
	Instruction string

	// Retry controls retries for transient failures
	Retry amerrors.RetryConfig

	// BreakerFailures consecutive failures open the circuit (default: 3)
	BreakerFailures int

	// BreakerReset is how long the circuit stays open (default: 30s)
	BreakerReset time.Duration

	// SkipHealthCheck skips health check during creation (for testing)
	SkipHealthCheck bool
}

// DefaultHTTPCrossEncoderConfig returns default configuration
func DefaultHTTPCrossEncoderConfig() HTTPCrossEncoderConfig {
	return HTTPCrossEncoderConfig{
		Endpoint:        DefaultRerankerEndpoint,
		Model:           DefaultRerankerModel,
		Timeout:         DefaultRerankerTimeout,
		Retry:           amerrors.DefaultRetryConfig(),
		BreakerFailures: 3,
		BreakerReset:    30 * time.Second,
	}
}

// HTTPCrossEncoder scores pairs through a JSON rerank server.
//
//	POST /rerank  {"query", "documents", "model", "instruction"}
//	           -> {"results": [{"index", "score"}], "processing_time_ms"}
//	GET  /health
type HTTPCrossEncoder struct {
	client   *http.Client
	config   HTTPCrossEncoderConfig
	endpoint string
	breaker  *amerrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ CrossEncoder = (*HTTPCrossEncoder)(nil)

// serverStatusError is a non-200 response from the rerank server.
type serverStatusError struct {
	code int
	body string
}

func (e *serverStatusError) Error() string {
	return fmt.Sprintf("rerank server returned status %d: %s", e.code, e.body)
}

// NewHTTPCrossEncoder creates a client and checks server health
func NewHTTPCrossEncoder(ctx context.Context, cfg HTTPCrossEncoderConfig) (*HTTPCrossEncoder, error) {
	defaults := DefaultHTTPCrossEncoderConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = defaults.Retry
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = defaults.BreakerFailures
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = defaults.BreakerReset
	}

	c := &HTTPCrossEncoder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config:   cfg,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
	}
	c.breaker = amerrors.NewCircuitBreaker("http_cross_encoder",
		amerrors.WithMaxFailures(cfg.BreakerFailures),
		amerrors.WithResetTimeout(cfg.BreakerReset),
		amerrors.WithStateChange(func(name string, from, to amerrors.State) {
			slog.Warn("circuit_state_change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		}),
	)

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := c.healthCheck(checkCtx); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeRerankerUnavailable,
				fmt.Sprintf("rerank server health check failed: %v", err), err).
				WithSuggestion("start the rerank server or set reranker.provider: overlap")
		}
	}

	slog.Debug("http_cross_encoder_created",
		slog.String("endpoint", c.endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout))

	return c, nil
}

// healthCheck verifies the server is up
func (c *HTTPCrossEncoder) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to rerank server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &serverStatusError{code: resp.StatusCode, body: string(body)}
	}
	return nil
}

// rerankRequest is the JSON request to /rerank endpoint
type rerankRequest struct {
	Query       string   `json:"query"`
	Documents   []string `json:"documents"`
	Model       string   `json:"model,omitempty"`
	Instruction string   `json:"instruction,omitempty"`
}

// rerankResponse is the JSON response from /rerank endpoint
type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// ScoreBatch sends one request per distinct query, normally exactly one.
func (c *HTTPCrossEncoder) ScoreBatch(ctx context.Context, pairs []Pair) ([]float64, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("cross-encoder is closed")
	}
	if len(pairs) == 0 {
		return []float64{}, nil
	}

	// Group pair positions by query, keeping first-seen query order
	groups := make(map[string][]int)
	var queries []string
	for i, p := range pairs {
		if _, ok := groups[p.Query]; !ok {
			queries = append(queries, p.Query)
		}
		groups[p.Query] = append(groups[p.Query], i)
	}

	scores := make([]float64, len(pairs))
	for _, q := range queries {
		positions := groups[q]
		docs := make([]string, len(positions))
		for j, pos := range positions {
			docs[j] = pairs[pos].Document
		}

		got, err := c.scoreGuarded(ctx, q, docs)
		if err != nil {
			return nil, err
		}
		for j, pos := range positions {
			scores[pos] = got[j]
		}
	}
	return scores, nil
}

// scoreGuarded wraps one request in the circuit breaker and retries.
func (c *HTTPCrossEncoder) scoreGuarded(ctx context.Context, query string, docs []string) ([]float64, error) {
	retry := c.config.Retry
	retry.ShouldRetry = func(err error) bool {
		if stderrors.Is(err, context.Canceled) {
			return false
		}
		var se *serverStatusError
		if stderrors.As(err, &se) {
			return se.code == http.StatusTooManyRequests || se.code >= 500
		}
		return true
	}

	return amerrors.CircuitExecute(c.breaker, func() ([]float64, error) {
		return amerrors.RetryWithResult(ctx, retry, func() ([]float64, error) {
			return c.score(ctx, query, docs)
		})
	})
}

// score performs one /rerank request and maps results back by index.
func (c *HTTPCrossEncoder) score(ctx context.Context, query string, docs []string) ([]float64, error) {
	start := time.Now()

	jsonData, err := json.Marshal(rerankRequest{
		Query:       query,
		Documents:   docs,
		Model:       c.config.Model,
		Instruction: c.config.Instruction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.endpoint+"/rerank", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &serverStatusError{code: resp.StatusCode, body: string(body)}
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	scores := make([]float64, len(docs))
	seen := make([]bool, len(docs))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(docs) {
			return nil, fmt.Errorf("rerank server returned out-of-range index %d", r.Index)
		}
		scores[r.Index] = r.Score
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank server omitted document %d of %d", i, len(docs))
		}
	}

	slog.Debug("reranker_http_timing",
		slog.Int("doc_count", len(docs)),
		slog.Int("payload_bytes", len(jsonData)),
		slog.Duration("total", time.Since(start)),
		slog.Float64("server_time_ms", result.ProcessingTimeMs))

	return scores, nil
}

// Available checks circuit state and server health
func (c *HTTPCrossEncoder) Available(ctx context.Context) bool {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed || !c.breaker.Allow() {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.healthCheck(checkCtx) == nil
}

// Close releases resources
func (c *HTTPCrossEncoder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if transport, ok := c.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
