package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrank/internal/embed"
	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
	"github.com/Aman-CERP/amanrank/internal/store"
)

// DefaultIndexConcurrency bounds parallel embedding batches.
const DefaultIndexConcurrency = 4

// IndexCorpus embeds docs in batches and adds them to index.
// Batches run concurrently up to concurrency; the first failure cancels the rest.
func IndexCorpus(ctx context.Context, embedder embed.Embedder, index store.VectorIndex, docs []store.Document, concurrency int) error {
	if embedder == nil || index == nil {
		return fmt.Errorf("%w: embedder and vector index are required", ErrNilDependency)
	}
	if len(docs) == 0 {
		return amerrors.New(amerrors.ErrCodeEmptyCorpus, "no documents to embed", nil).WithStage(SourceVector)
	}
	if embedder.Dimensions() != index.Dimensions() {
		return amerrors.New(amerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("embedder produces %d dimensions, index expects %d",
				embedder.Dimensions(), index.Dimensions()), nil)
	}
	if concurrency <= 0 {
		concurrency = DefaultIndexConcurrency
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for lo := 0; lo < len(docs); lo += embed.DefaultBatchSize {
		hi := lo + embed.DefaultBatchSize
		if hi > len(docs) {
			hi = len(docs)
		}
		batch := docs[lo:hi]

		g.Go(func() error {
			ids := make([]string, len(batch))
			texts := make([]string, len(batch))
			for i, d := range batch {
				ids[i] = d.ID
				texts[i] = d.Text
			}

			vecs, err := embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return amerrors.StageError(amerrors.ErrCodeEmbeddingUnavailable, SourceVector, err)
			}
			if err := index.Add(gctx, ids, vecs); err != nil {
				return amerrors.StageError(amerrors.ErrCodeIndexUnavailable, SourceVector, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Debug("index_corpus_complete",
		slog.Int("documents", len(docs)),
		slog.Int("concurrency", concurrency),
		slog.Duration("duration", time.Since(start)))
	return nil
}
