package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rbayer/redzone/internal/store"
	"github.com/rbayer/redzone/pkg/models"
)

// WriteParams scopes one batch-write run to its owning job.
type WriteParams struct {
	JobID       uuid.UUID
	PartitionID uuid.UUID
	ContentType string
	Source      string
	CreatedBy   string
	// FilterKeywords, when non-empty, skips candidates whose content
	// contains none of the keywords (case-insensitive).
	FilterKeywords []string
}

// WriteResult reports what one run persisted. Cancelled means the job was
// externally cancelled between chunks; counts cover the chunks that did
// commit — already-written chunks are never rolled back.
type WriteResult struct {
	Saved     int
	Skipped   int
	Cancelled bool
}

// BatchWriter persists accepted candidates in fixed-size chunks, updating
// the owning job's counters and skip-reason tally after every chunk.
type BatchWriter struct {
	store     store.Store
	dedup     *DuplicateDetector
	chunkSize int
}

func NewBatchWriter(st store.Store, chunkSize int) *BatchWriter {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	return &BatchWriter{
		store:     st,
		dedup:     NewDuplicateDetector(st),
		chunkSize: chunkSize,
	}
}

// Write processes all candidates chunk by chunk, in input order. Before each
// chunk it re-reads the job state and stops immediately if the job has been
// cancelled, reporting partial counts.
func (w *BatchWriter) Write(ctx context.Context, params WriteParams, candidates []Candidate) (WriteResult, error) {
	var result WriteResult

	// Natural ids accepted during this run. The store probe only sees
	// committed rows, so a payload repeating an id inside one chunk would
	// otherwise store it twice.
	accepted := make(map[string]bool)

	for start := 0; start < len(candidates); start += w.chunkSize {
		job, err := w.store.GetJob(ctx, params.JobID)
		if err != nil {
			return result, fmt.Errorf("re-read job before chunk: %w", err)
		}
		if job.State == models.JobStateCancelled {
			result.Cancelled = true
			return result, nil
		}

		end := start + w.chunkSize
		if end > len(candidates) {
			end = len(candidates)
		}

		saved, skipped, reasons, err := w.writeChunk(ctx, params, candidates[start:end], accepted)
		if err != nil {
			return result, err
		}

		if err := w.store.AddJobCounts(ctx, params.JobID, saved, skipped, reasons); err != nil {
			return result, fmt.Errorf("update job counts: %w", err)
		}
		result.Saved += saved
		result.Skipped += skipped
	}

	return result, nil
}

func (w *BatchWriter) writeChunk(ctx context.Context, params WriteParams, chunk []Candidate, accepted map[string]bool) (saved, skipped int, reasons map[string]int, err error) {
	reasons = make(map[string]int)
	records := make([]*models.Record, 0, len(chunk))
	now := time.Now().UTC()

	for _, candidate := range chunk {
		if !matchesKeywords(candidate.Content, params.FilterKeywords) {
			skipped++
			reasons[SkipReasonFiltered]++
			continue
		}

		var naturalID string
		if candidate.Raw != nil {
			naturalID = NaturalID(candidate.Raw)
		}
		if naturalID != "" && accepted[naturalID] {
			skipped++
			reasons[SkipReasonDuplicate]++
			continue
		}

		dup, err := w.dedup.IsDuplicate(ctx, params.PartitionID, params.ContentType, candidate)
		if err != nil {
			return 0, 0, nil, err
		}
		if dup {
			skipped++
			reasons[SkipReasonDuplicate]++
			continue
		}
		if naturalID != "" {
			accepted[naturalID] = true
		}

		metadata := candidate.Raw
		if metadata == nil {
			metadata = map[string]any{}
		}
		records = append(records, &models.Record{
			ID:          uuid.New(),
			PartitionID: params.PartitionID,
			ContentType: params.ContentType,
			Category:    candidate.Category,
			Source:      params.Source,
			Content:     candidate.Content,
			Metadata:    metadata,
			CreatedBy:   params.CreatedBy,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	if err := w.store.CreateRecords(ctx, records); err != nil {
		return 0, 0, nil, fmt.Errorf("persist chunk: %w", err)
	}
	return len(records), skipped, reasons, nil
}

// matchesKeywords reports whether content passes the keyword filter. An
// empty filter accepts everything.
func matchesKeywords(content string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
