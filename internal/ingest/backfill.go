package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/rbayer/redzone/internal/store"
	"github.com/rbayer/redzone/pkg/models"
)

// Backfill computes embeddings for records written without one. It scans the
// whole partition, not just the driving job's records, so an earlier failed
// vectorization self-heals on the next run. The scan pages by id cursor
// rather than offset so concurrent writes elsewhere never skip or duplicate
// records, and a re-run after interruption only touches records still
// missing a vector.
type Backfill struct {
	store    store.Store
	provider models.EmbeddingProvider
	pageSize int
}

func NewBackfill(st store.Store, provider models.EmbeddingProvider, pageSize int) *Backfill {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Backfill{store: st, provider: provider, pageSize: pageSize}
}

// Run backfills the partition until no unembedded records remain. It checks
// the driving job for cancellation between pages; cancelled=true means it
// stopped early with prior pages' embeddings retained. A provider error
// aborts the run and propagates — the phase is idempotent, so re-running
// simply finds fewer records still missing embeddings.
func (b *Backfill) Run(ctx context.Context, partitionID, jobID uuid.UUID) (cancelled bool, err error) {
	var cursor uuid.UUID // zero value sorts before every v4 id

	for {
		job, err := b.store.GetJob(ctx, jobID)
		if err != nil {
			return false, fmt.Errorf("re-read job before page: %w", err)
		}
		if job.State == models.JobStateCancelled {
			return true, nil
		}

		page, err := b.store.ListMissingEmbedding(ctx, partitionID, cursor, b.pageSize)
		if err != nil {
			return false, fmt.Errorf("fetch unembedded page: %w", err)
		}
		if len(page) == 0 {
			return false, nil
		}

		texts := make([]string, len(page))
		for i, rec := range page {
			texts[i] = rec.Content
		}

		vectors, err := b.provider.Embed(ctx, texts)
		if err != nil {
			return false, fmt.Errorf("embedding provider: %w", err)
		}
		if len(vectors) != len(page) {
			return false, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(page))
		}

		for i, rec := range page {
			if len(vectors[i]) == 0 {
				slog.Warn("provider returned no vector, skipping record",
					"record_id", rec.ID, "partition_id", partitionID)
				continue
			}
			if err := b.store.SetEmbedding(ctx, rec.ID, vectors[i]); err != nil {
				return false, fmt.Errorf("write embedding: %w", err)
			}
		}

		cursor = page[len(page)-1].ID
	}
}
