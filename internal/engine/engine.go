// Package engine assembles a retrieval pipeline from configuration.
//
// It owns every collaborator it creates (embedder, vector index, cross-encoder,
// result cache) and releases them on Close. Optional stages that cannot be
// built are logged and left out, so the pipeline degrades to the stages that
// remain instead of failing to start.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrank/internal/cache"
	"github.com/Aman-CERP/amanrank/internal/config"
	"github.com/Aman-CERP/amanrank/internal/embed"
	"github.com/Aman-CERP/amanrank/internal/search"
	"github.com/Aman-CERP/amanrank/internal/store"
	"github.com/Aman-CERP/amanrank/internal/telemetry"
)

// Stages reports which optional stages were built.
type Stages struct {
	Vector      bool   `json:"vector"`
	Embedder    string `json:"embedder,omitempty"`
	VectorIndex string `json:"vector_index,omitempty"`
	Reranker    string `json:"reranker,omitempty"`
	RemoteCache bool   `json:"remote_cache"`
	Fusion      string `json:"fusion"`
	Documents   int    `json:"documents"`
	BuildTime   string `json:"build_time"`
}

// Engine is a ready-to-query pipeline plus the resources behind it.
type Engine struct {
	cfg      *config.Config
	pipeline *search.Pipeline
	cache    *cache.ResultCache
	stages   Stages
	closers  []io.Closer
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records pipeline metrics in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New builds the indexes over docs and wires the pipeline described by cfg.
// The lexical index is mandatory: an empty or invalid corpus is an error.
func New(ctx context.Context, cfg *config.Config, docs []store.Document, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", search.ErrNilDependency)
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	start := time.Now()
	e := &Engine{cfg: cfg, logger: o.logger}

	bm25, err := store.NewBM25Index(docs, cfg.BM25)
	if err != nil {
		return nil, err
	}
	lexical, err := search.NewBM25Retriever(bm25)
	if err != nil {
		return nil, err
	}

	pipelineOpts := []search.PipelineOption{
		search.WithLexical(lexical),
		search.WithDocuments(lexical),
		search.WithLogger(o.logger),
		search.WithMetrics(o.metrics),
	}

	if cfg.Pipeline.UseVector {
		if vector := e.buildVector(ctx, docs); vector != nil {
			pipelineOpts = append(pipelineOpts, search.WithVector(vector))
		}
	}

	if cfg.Pipeline.UseReranking {
		if reranker := e.buildReranker(ctx, bm25, lexical); reranker != nil {
			pipelineOpts = append(pipelineOpts, search.WithReranker(reranker))
		}
	}

	resultCache, err := e.buildCache(ctx)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.cache = resultCache
	pipelineOpts = append(pipelineOpts, search.WithCache(resultCache))

	fuser, err := cfg.Fuser()
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.stages.Fusion = fuser.Method()
	pipelineOpts = append(pipelineOpts, search.WithFuser(fuser))

	p, err := search.NewPipeline(pipelineOpts...)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.pipeline = p
	e.stages.Documents = len(docs)
	e.stages.BuildTime = time.Since(start).Round(time.Millisecond).String()

	o.logger.Info("engine_ready",
		slog.Int("documents", len(docs)),
		slog.Bool("vector", e.stages.Vector),
		slog.String("reranker", e.stages.Reranker),
		slog.Bool("remote_cache", e.stages.RemoteCache),
		slog.String("fusion", e.stages.Fusion),
		slog.Duration("elapsed", time.Since(start)))

	return e, nil
}

// buildVector returns nil when the embedder or vector index is unusable.
func (e *Engine) buildVector(ctx context.Context, docs []store.Document) search.Retriever {
	cfg := e.cfg

	embedder, err := embed.NewEmbedder(ctx, cfg.EmbedderConfig())
	if err != nil {
		e.logger.Warn("vector_stage_disabled", slog.String("reason", "embedder"), slog.String("error", err.Error()))
		return nil
	}

	index, err := store.NewVectorIndex(cfg.Vector.Index, cfg.VectorIndexConfig(embedder.Dimensions()))
	if err != nil {
		_ = embedder.Close()
		e.logger.Warn("vector_stage_disabled", slog.String("reason", "index"), slog.String("error", err.Error()))
		return nil
	}

	if err := search.IndexCorpus(ctx, embedder, index, docs, cfg.Vector.IndexConcurrency); err != nil {
		_ = index.Close()
		_ = embedder.Close()
		e.logger.Warn("vector_stage_disabled", slog.String("reason", "indexing"), slog.String("error", err.Error()))
		return nil
	}

	retriever, err := search.NewVectorRetriever(embedder, index)
	if err != nil {
		_ = index.Close()
		_ = embedder.Close()
		e.logger.Warn("vector_stage_disabled", slog.String("reason", "retriever"), slog.String("error", err.Error()))
		return nil
	}

	e.closers = append(e.closers, index, embedder)
	e.stages.Vector = true
	e.stages.Embedder = embedder.ModelName()
	e.stages.VectorIndex = cfg.Vector.Index
	return retriever
}

// buildReranker returns nil for provider "none" or an unreachable server.
func (e *Engine) buildReranker(ctx context.Context, bm25 *store.BM25Index, docs search.DocumentSource) *search.Reranker {
	rc := e.cfg.Reranker

	var model search.CrossEncoder
	switch strings.ToLower(rc.Provider) {
	case config.RerankerNone:
		return nil
	case config.RerankerHTTP:
		ce, err := search.NewHTTPCrossEncoder(ctx, search.HTTPCrossEncoderConfig{
			Endpoint:    rc.Endpoint,
			Model:       rc.Model,
			Timeout:     rc.Timeout,
			Instruction: rc.Instruction,
		})
		if err != nil {
			e.logger.Warn("rerank_stage_disabled", slog.String("error", err.Error()))
			return nil
		}
		model = ce
	default:
		model = search.NewOverlapCrossEncoder(bm25.Tokenizer())
	}

	reranker, err := search.NewReranker(model, docs)
	if err != nil {
		e.logger.Warn("rerank_stage_disabled", slog.String("error", err.Error()))
		return nil
	}
	e.closers = append(e.closers, reranker)
	e.stages.Reranker = strings.ToLower(rc.Provider)
	if e.stages.Reranker == "" {
		e.stages.Reranker = config.RerankerOverlap
	}
	return reranker
}

// buildCache creates the LRU and, when configured, its Redis tier.
// An unreachable Redis leaves the cache local-only.
func (e *Engine) buildCache(ctx context.Context) (*cache.ResultCache, error) {
	cc := e.cfg.Cache
	opts := []cache.Option{cache.WithLogger(e.logger)}

	if cc.RedisAddr != "" {
		remote, err := cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:     cc.RedisAddr,
			Password: cc.RedisPassword,
			DB:       cc.RedisDB,
			Prefix:   cc.RedisPrefix,
		})
		if err != nil {
			e.logger.Warn("cache_remote_disabled",
				slog.String("addr", cc.RedisAddr),
				slog.String("error", err.Error()))
		} else {
			opts = append(opts, cache.WithRemote(remote, cc.RedisTTL))
			e.stages.RemoteCache = true
		}
	}

	c, err := cache.New(cc.Capacity, opts...)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, c)
	return c, nil
}

// Search runs the configured pipeline for query.
func (e *Engine) Search(ctx context.Context, query string) ([]search.Result, error) {
	return e.pipeline.Retrieve(ctx, query, e.cfg.PipelineConfig())
}

// Retrieve runs the pipeline with per-call stage selection.
func (e *Engine) Retrieve(ctx context.Context, query string, cfg search.PipelineConfig) ([]search.Result, error) {
	return e.pipeline.Retrieve(ctx, query, cfg)
}

// Pipeline returns the underlying pipeline.
func (e *Engine) Pipeline() *search.Pipeline {
	return e.pipeline
}

// Cache returns the result cache.
func (e *Engine) Cache() *cache.ResultCache {
	return e.cache
}

// CachedQueries returns the number of results held in the local cache.
func (e *Engine) CachedQueries() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.Size()
}

// Stages reports what was built.
func (e *Engine) Stages() Stages {
	return e.stages
}

// Close releases resources in reverse creation order.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
