package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrank/internal/config"
	"github.com/Aman-CERP/amanrank/internal/engine"
	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
	"github.com/Aman-CERP/amanrank/internal/output"
	"github.com/Aman-CERP/amanrank/internal/search"
	"github.com/Aman-CERP/amanrank/internal/store"
	"github.com/Aman-CERP/amanrank/internal/telemetry"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	topK     int
	fetchK   int
	format   string // "text", "json"
	fusion   string
	store    string
	bm25Only bool
	noRerank bool
	explain  bool
}

func newSearchCmd(a *app) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the stored corpus",
		Long: `Search the stored corpus with the configured pipeline.

BM25 and vector retrieval run in parallel and are fused; the top
candidates are reranked by the cross-encoder. Flags override the
pipeline section of the configuration for this call only.

Examples:
  amanrank search "cat on a mat"
  amanrank search "dog park" --top-k 3 --bm25-only
  amanrank search "cat" --fusion rrf --explain
  amanrank search "cat" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd, a, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", 0, "Maximum number of results (default: pipeline.top_k)")
	cmd.Flags().IntVar(&opts.fetchK, "fetch-k", -1, "Candidates passed to the reranker (default: pipeline.rerank_fetch_k)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringVar(&opts.fusion, "fusion", "", "Fusion method: weighted, rrf")
	cmd.Flags().StringVar(&opts.store, "store", "", "Document store path (default: store.path from config)")
	cmd.Flags().BoolVar(&opts.bm25Only, "bm25-only", false, "Use keyword retrieval only (skip embeddings)")
	cmd.Flags().BoolVar(&opts.noRerank, "no-rerank", false, "Skip cross-encoder reranking")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show built stages and per-source scores")

	return cmd
}

// apply copies flag overrides onto cfg.
func (o searchOptions) apply(cfg *config.Config) error {
	if o.topK != 0 {
		cfg.Pipeline.TopK = o.topK
	}
	if o.fetchK >= 0 {
		cfg.Pipeline.RerankFetchK = o.fetchK
	}
	if o.fusion != "" {
		cfg.Fusion.Method = o.fusion
	}
	if o.bm25Only {
		cfg.Pipeline.UseVector = false
	}
	if o.noRerank {
		cfg.Pipeline.UseReranking = false
	}
	switch o.format {
	case "text", "json":
	default:
		return amerrors.ValidationError(fmt.Sprintf("unknown format %q (valid: text, json)", o.format), nil)
	}
	return cfg.Validate()
}

// searchOutput is the JSON document written by --format json.
type searchOutput struct {
	Query   string          `json:"query"`
	Stages  engine.Stages   `json:"stages"`
	Elapsed string          `json:"elapsed"`
	Results []search.Result `json:"results"`
}

func runSearch(cmd *cobra.Command, a *app, query string, opts searchOptions) error {
	ctx := cmd.Context()
	cfg := a.config()
	if err := opts.apply(cfg); err != nil {
		return err
	}

	e, err := a.openEngine(ctx, cfg, opts.store)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	start := time.Now()
	results, err := e.Search(ctx, query)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	slog.Info("search_complete",
		slog.String("query", query),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", elapsed))

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(searchOutput{
			Query:   query,
			Stages:  e.Stages(),
			Elapsed: elapsed.Round(time.Microsecond).String(),
			Results: results,
		})
	}

	out := output.New(cmd.OutOrStdout())
	if opts.explain {
		formatStages(out, e.Stages(), cfg)
	}
	if len(results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	out.Statusf("🔍", "Found %d results for %q:", len(results), query)
	out.Newline()
	for i, r := range results {
		var sources map[string]float64
		if opts.explain {
			sources = r.Sources
		}
		out.Ranked(i+1, r.DocumentID, r.Score, sources, output.Snippet(r.Text, 3, 100))
		out.Newline()
	}
	return nil
}

// openEngine loads the stored corpus and builds the pipeline over it.
func (a *app) openEngine(ctx context.Context, cfg *config.Config, storeOverride string) (*engine.Engine, error) {
	path := a.storePath(storeOverride)
	ds, err := store.NewSQLiteDocumentStore(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ds.Close() }()

	docs, err := ds.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, amerrors.New(amerrors.ErrCodeEmptyCorpus, fmt.Sprintf("no documents in %s", path), nil).
			WithSuggestion("run 'amanrank index <corpus.jsonl>' first")
	}

	return engine.New(ctx, cfg, docs,
		engine.WithLogger(slog.Default()),
		engine.WithMetrics(telemetry.NewMetrics()))
}

// formatStages prints what the engine built for this call.
func formatStages(out *output.Writer, s engine.Stages, cfg *config.Config) {
	out.Status("", "════════════════════════════════════════")
	out.Status("", "PIPELINE")
	out.Status("", "════════════════════════════════════════")
	out.Statusf("", "Documents: %d (built in %s)", s.Documents, s.BuildTime)
	out.Statusf("", "BM25: weight %.2f", cfg.Pipeline.BM25Weight)
	if s.Vector {
		out.Statusf("", "Vector: %s via %s index, weight %.2f", s.Embedder, s.VectorIndex, cfg.Pipeline.VectorWeight)
	} else {
		out.Status("", "Vector: off")
	}
	out.Statusf("", "Fusion: %s", s.Fusion)
	if s.Reranker != "" {
		out.Statusf("", "Rerank: %s, fetch %d", s.Reranker, cfg.Pipeline.RerankFetchK)
	} else {
		out.Status("", "Rerank: off")
	}
	out.Status("", "════════════════════════════════════════")
	out.Newline()
}
