package cmd

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrank/internal/output"
	"github.com/Aman-CERP/amanrank/internal/profiling"
	"github.com/Aman-CERP/amanrank/internal/store"
)

func newIndexCmd(a *app) *cobra.Command {
	var storeOverride string

	cmd := &cobra.Command{
		Use:   "index <corpus.jsonl>",
		Short: "Load a corpus into the document store",
		Long: `Read a JSON Lines corpus and replace the stored corpus with it.

Each line is one document:

  {"id": "1", "text": "cat sat on mat", "metadata": {"source": "a.txt"}}

Documents without an id get their line number. The corpus is checked
by building the BM25 index before anything is written, so an empty
corpus or duplicate ids leave the existing store untouched.

Examples:
  amanrank index corpus.jsonl
  amanrank index corpus.jsonl --store /tmp/corpus.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, a, args[0], storeOverride)
		},
	}

	cmd.Flags().StringVar(&storeOverride, "store", "", "Document store path (default: store.path from config)")

	return cmd
}

func runIndex(cmd *cobra.Command, a *app, corpusPath, storeOverride string) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())
	cfg := a.config()
	start := time.Now()

	docs, err := store.ReadCorpusFile(corpusPath)
	if err != nil {
		return err
	}

	idx, err := store.NewBM25Index(docs, cfg.BM25)
	if err != nil {
		return err
	}
	stats := idx.Stats()

	path := a.storePath(storeOverride)
	ds, err := store.NewSQLiteDocumentStore(path)
	if err != nil {
		return err
	}
	defer func() { _ = ds.Close() }()

	if err := ds.Replace(ctx, docs); err != nil {
		return err
	}

	slog.Info("index_complete",
		slog.String("corpus", corpusPath),
		slog.String("store", path),
		slog.Int("documents", stats.DocumentCount),
		slog.Int("terms", stats.TermCount),
		slog.String("heap", profiling.FormatBytes(profiling.HeapInUse())),
		slog.Duration("elapsed", time.Since(start)))

	out.Successf("Indexed %d documents", stats.DocumentCount)
	out.Statusf("", "%d distinct terms, average length %.1f tokens", stats.TermCount, stats.AvgDocLength)
	out.Statusf("💾", "Store: %s", path)
	out.Statusf("⏱️ ", "Took %s", time.Since(start).Round(time.Millisecond))
	out.Newline()
	out.Status("💡", `Next: amanrank search "your query"`)
	return nil
}
