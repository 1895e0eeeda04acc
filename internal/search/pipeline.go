package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
	"github.com/Aman-CERP/amanrank/internal/telemetry"
)

// PipelineConfig selects stages and parameters for one Retrieve call.
type PipelineConfig struct {
	UseBM25   bool
	UseVector bool

	// UseFusion is informational: fusion runs exactly when more than one
	// retriever is enabled.
	UseFusion    bool
	UseReranking bool

	BM25Weight   float64
	VectorWeight float64

	TopK         int
	RerankFetchK int

	// StageTimeout bounds each retrieval and rerank stage (0 = none).
	StageTimeout time.Duration
}

// DefaultPipelineConfig returns the default stage selection.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		UseBM25:      true,
		UseVector:    true,
		UseFusion:    true,
		UseReranking: true,
		BM25Weight:   0.3,
		VectorWeight: 0.7,
		TopK:         5,
		RerankFetchK: 10,
	}
}

// Validate checks numeric parameters.
func (c PipelineConfig) Validate() error {
	if c.TopK <= 0 {
		return amerrors.ValidationError(fmt.Sprintf("top_k must be positive, got %d", c.TopK), nil)
	}
	if c.RerankFetchK < 0 {
		return amerrors.ValidationError(fmt.Sprintf("rerank_fetch_k must not be negative, got %d", c.RerankFetchK), nil)
	}
	if c.StageTimeout < 0 {
		return amerrors.ValidationError("stage_timeout must not be negative", nil)
	}
	for name, w := range map[string]float64{"bm25_weight": c.BM25Weight, "vector_weight": c.VectorWeight} {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return amerrors.ValidationError(fmt.Sprintf("%s must be finite, got %g", name, w), nil)
		}
	}
	return nil
}

// State is a pipeline state machine position.
type State int

const (
	StateIdle State = iota
	StateCacheCheck
	StateRetrieving
	StateFusing
	StateReranking
	StateCaching
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCacheCheck:
		return "cache_check"
	case StateRetrieving:
		return "retrieving"
	case StateFusing:
		return "fusing"
	case StateReranking:
		return "reranking"
	case StateCaching:
		return "caching"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// CacheKey holds every parameter that affects a ranked list.
type CacheKey struct {
	Query        string             `json:"q"`
	TopK         int                `json:"k"`
	Stages       []string           `json:"stages"`
	Weights      map[string]float64 `json:"w,omitempty"`
	FetchK       int                `json:"fetch_k"`
	FusionMethod string             `json:"fusion,omitempty"` // includes normalization
}

// String renders the canonical key. Map keys are emitted sorted.
func (k CacheKey) String() string {
	data, err := json.Marshal(k)
	if err != nil {
		// Only reachable with NaN or Inf weights
		return fmt.Sprintf("%#v", k)
	}
	return "v1:" + string(data)
}

// Pipeline orchestrates retrieval, fusion, reranking and caching.
// It is safe for concurrent use.
type Pipeline struct {
	lexical  Retriever
	vector   Retriever
	reranker *Reranker
	docs     DocumentSource
	cache    ResultCache
	fuser    Fuser
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	inflight singleflight.Group

	flightsMu sync.Mutex
	flights   map[string]*flight
}

// flight is the context shared by callers collapsed onto one miss. It is
// detached from every caller and cancelled when the last one leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLexical sets the lexical retriever.
func WithLexical(r Retriever) PipelineOption {
	return func(p *Pipeline) { p.lexical = r }
}

// WithVector sets the semantic retriever.
func WithVector(r Retriever) PipelineOption {
	return func(p *Pipeline) { p.vector = r }
}

// WithReranker sets the cross-encoder reranking stage.
func WithReranker(r *Reranker) PipelineOption {
	return func(p *Pipeline) { p.reranker = r }
}

// WithDocuments sets the source of document text and metadata.
// Defaults to the lexical retriever when it can resolve documents.
func WithDocuments(d DocumentSource) PipelineOption {
	return func(p *Pipeline) { p.docs = d }
}

// WithCache enables result caching.
func WithCache(c ResultCache) PipelineOption {
	return func(p *Pipeline) { p.cache = c }
}

// WithFuser overrides the default raw weighted fusion.
func WithFuser(f Fuser) PipelineOption {
	return func(p *Pipeline) { p.fuser = f }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *telemetry.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline from injected collaborators.
func NewPipeline(opts ...PipelineOption) (*Pipeline, error) {
	p := &Pipeline{}
	for _, opt := range opts {
		opt(p)
	}

	if p.docs == nil {
		if ds, ok := p.lexical.(DocumentSource); ok {
			p.docs = ds
		}
	}
	if p.docs == nil {
		return nil, fmt.Errorf("%w: document source is required", ErrNilDependency)
	}
	if p.fuser == nil {
		p.fuser = NewWeightedFusion(NormalizeNone)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

// stageOutcome is one retriever's result.
type stageOutcome struct {
	name       string
	candidates []ScoredCandidate
	err        error
}

// runResult is what a cache miss produces.
type runResult struct {
	ranked   []FusedResult
	degraded bool
}

// Retrieve returns the top documents for query.
//
// Per-stage retriever failures are logged and dropped; when every enabled
// retriever fails the call fails with ErrNoRetrieverAvailable. A reranker
// failure falls back to the fused ranking. Degraded results are not cached.
func (p *Pipeline) Retrieve(ctx context.Context, query string, cfg PipelineConfig) ([]Result, error) {
	start := time.Now()

	if strings.TrimSpace(query) == "" {
		return nil, amerrors.New(amerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := p.logger.With(slog.String("query_id", uuid.NewString()))
	state := StateIdle
	transition := func(to State) {
		logger.Debug("pipeline_state", slog.String("from", state.String()), slog.String("to", to.String()))
		state = to
	}

	key := p.cacheKey(query, cfg).String()

	if p.cache != nil {
		transition(StateCacheCheck)
		hit, ok := p.cache.Get(ctx, key)
		p.metrics.CacheLookup(ok)
		if ok {
			transition(StateDone)
			results := p.toResults(hit)
			p.metrics.ObserveQuery(telemetry.OutcomeHit, len(results), time.Since(start))
			return results, nil
		}
	}

	if err := ctx.Err(); err != nil {
		p.metrics.ObserveQuery(telemetry.OutcomeError, 0, time.Since(start))
		return nil, err
	}

	f := p.joinFlight(ctx, key)
	ch := p.inflight.DoChan(key, func() (any, error) {
		return p.run(f.ctx, query, cfg, logger, transition)
	})

	var r singleflight.Result
	select {
	case r = <-ch:
		p.leaveFlight(key, f)
	case <-ctx.Done():
		p.leaveFlight(key, f)
		p.metrics.ObserveQuery(telemetry.OutcomeError, 0, time.Since(start))
		return nil, ctx.Err()
	}

	v, err, shared := r.Val, r.Err, r.Shared
	if err != nil {
		p.metrics.ObserveQuery(telemetry.OutcomeError, 0, time.Since(start))
		return nil, err
	}
	res := v.(runResult)
	if shared {
		logger.Debug("pipeline_shared_result")
	}

	results := p.toResults(res.ranked)
	outcome := telemetry.OutcomeMiss
	if res.degraded {
		outcome = telemetry.OutcomeDegraded
	}
	p.metrics.ObserveQuery(outcome, len(results), time.Since(start))
	return results, nil
}

// joinFlight registers a caller for key and returns the shared flight.
func (p *Pipeline) joinFlight(ctx context.Context, key string) *flight {
	p.flightsMu.Lock()
	defer p.flightsMu.Unlock()

	if p.flights == nil {
		p.flights = make(map[string]*flight)
	}
	f, ok := p.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		p.flights[key] = f
	}
	f.waiters++
	return f
}

// leaveFlight drops a caller. The last caller out cancels the shared run and
// forgets the key so later callers start a fresh one.
func (p *Pipeline) leaveFlight(key string, f *flight) {
	p.flightsMu.Lock()
	defer p.flightsMu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if p.flights[key] == f {
		delete(p.flights, key)
	}
	p.inflight.Forget(key)
}

// run executes the miss path: retrieve, fuse, rerank, cache.
// transition is only called by the goroutine running the flight. ctx is the
// flight context, not any single caller's.
func (p *Pipeline) run(ctx context.Context, query string, cfg PipelineConfig, logger *slog.Logger, transition func(State)) (runResult, error) {
	retrievers := p.enabledRetrievers(cfg, logger)
	if len(retrievers) == 0 {
		return runResult{}, amerrors.New(amerrors.ErrCodeNoRetrieverAvailable, "no retriever enabled", nil).
			WithSuggestion("enable bm25 or vector retrieval")
	}

	rerank := cfg.UseReranking && p.reranker != nil
	fetchK := cfg.TopK
	if rerank && cfg.RerankFetchK > fetchK {
		fetchK = cfg.RerankFetchK
	}

	// Retrieving
	transition(StateRetrieving)
	outcomes := p.retrieve(ctx, query, retrievers, fetchK, cfg.StageTimeout)
	if err := ctx.Err(); err != nil {
		return runResult{}, err
	}

	named := make(map[string][]ScoredCandidate, len(outcomes))
	var failures []error
	for _, o := range outcomes {
		if o.err != nil {
			logger.Warn("retrieve_stage_failed",
				append([]any{slog.String("retriever", o.name)}, amerrors.LogAttrs(o.err)...)...)
			failures = append(failures, o.err)
			continue
		}
		named[o.name] = o.candidates
	}
	if len(named) == 0 {
		return runResult{}, amerrors.New(amerrors.ErrCodeNoRetrieverAvailable,
			"all enabled retrievers failed", errors.Join(failures...))
	}
	degraded := len(failures) > 0

	// Fusing
	var ranked []FusedResult
	if len(retrievers) > 1 {
		transition(StateFusing)
		fuseStart := time.Now()
		ranked = p.fuser.Fuse(named, map[string]float64{
			SourceBM25:   cfg.BM25Weight,
			SourceVector: cfg.VectorWeight,
		}, fetchK)
		p.metrics.ObserveStage("fusion", time.Since(fuseStart), nil)
	} else {
		ranked = candidatesToFused(named[retrievers[0].Name()], fetchK)
	}

	// Reranking
	if rerank && len(ranked) > 0 {
		transition(StateReranking)
		reranked, err := p.rerank(ctx, query, ranked, cfg)
		if err != nil {
			logger.Warn("rerank_stage_failed", amerrors.LogAttrs(err)...)
			degraded = true
			ranked = truncateFused(ranked, cfg.TopK)
		} else {
			ranked = reranked
		}
	} else {
		ranked = truncateFused(ranked, cfg.TopK)
	}

	// Caching
	if p.cache != nil && !degraded {
		transition(StateCaching)
		p.cache.Put(ctx, p.cacheKey(query, cfg).String(), ranked)
	}
	transition(StateDone)

	return runResult{ranked: ranked, degraded: degraded}, nil
}

// enabledRetrievers resolves the configured retrievers in fixed order.
// A stage that is enabled but not configured is skipped.
func (p *Pipeline) enabledRetrievers(cfg PipelineConfig, logger *slog.Logger) []Retriever {
	var out []Retriever
	if cfg.UseBM25 {
		if p.lexical != nil {
			out = append(out, p.lexical)
		} else {
			logger.Debug("retriever_not_configured", slog.String("retriever", SourceBM25))
		}
	}
	if cfg.UseVector {
		if p.vector != nil {
			out = append(out, p.vector)
		} else {
			logger.Debug("retriever_not_configured", slog.String("retriever", SourceVector))
		}
	}
	return out
}

// retrieve runs retrievers concurrently. Failures are captured per stage,
// never returned to the group, so one stage cannot cancel another.
func (p *Pipeline) retrieve(ctx context.Context, query string, retrievers []Retriever, topK int, timeout time.Duration) []stageOutcome {
	outcomes := make([]stageOutcome, len(retrievers))

	var g errgroup.Group
	for i, r := range retrievers {
		g.Go(func() error {
			stageCtx, cancel := withStageTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			cands, err := r.Retrieve(stageCtx, query, topK)
			p.metrics.ObserveStage(r.Name(), time.Since(start), err)
			outcomes[i] = stageOutcome{name: r.Name(), candidates: cands, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// rerank applies the reranker under the stage timeout.
func (p *Pipeline) rerank(ctx context.Context, query string, ranked []FusedResult, cfg PipelineConfig) ([]FusedResult, error) {
	stageCtx, cancel := withStageTimeout(ctx, cfg.StageTimeout)
	defer cancel()

	start := time.Now()
	out, err := p.reranker.Rerank(stageCtx, query, ranked, cfg.RerankFetchK, cfg.TopK)
	p.metrics.ObserveStage(SourceRerank, time.Since(start), err)
	return out, err
}

// cacheKey builds the key from every parameter that changes the output.
func (p *Pipeline) cacheKey(query string, cfg PipelineConfig) CacheKey {
	k := CacheKey{Query: query, TopK: cfg.TopK}

	enabled := 0
	if cfg.UseBM25 && p.lexical != nil {
		k.Stages = append(k.Stages, SourceBM25)
		enabled++
	}
	if cfg.UseVector && p.vector != nil {
		k.Stages = append(k.Stages, SourceVector)
		enabled++
	}
	if enabled > 1 {
		k.Stages = append(k.Stages, "fusion")
		k.Weights = map[string]float64{SourceBM25: cfg.BM25Weight, SourceVector: cfg.VectorWeight}
		k.FusionMethod = p.fuser.Method()
	}
	if cfg.UseReranking && p.reranker != nil {
		k.Stages = append(k.Stages, SourceRerank)
		k.FetchK = cfg.RerankFetchK
	}
	return k
}

// toResults attaches document text and metadata.
// Return empty slice, not nil.
func (p *Pipeline) toResults(ranked []FusedResult) []Result {
	out := make([]Result, len(ranked))
	for i, r := range ranked {
		res := Result{DocumentID: r.DocumentID, Score: r.Score, Sources: r.Clone().SourceScores}
		if doc, ok := p.docs.Document(r.DocumentID); ok {
			res.Text = doc.Text
			res.Metadata = doc.Metadata.Clone()
		}
		out[i] = res
	}
	return out
}

// withStageTimeout derives a stage context; timeout 0 keeps the parent deadline.
func withStageTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
