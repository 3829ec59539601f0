package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rbayer/redzone/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrInvalidTransition = errors.New("invalid job state transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.IngestJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.IngestJob, error)
	// UpdateJobState moves the job to the given state, enforcing the state
	// machine. Returns ErrInvalidTransition if the current state does not
	// permit the move (terminal states permit nothing).
	UpdateJobState(ctx context.Context, id uuid.UUID, state string, opts ...JobUpdateOption) error
	// AddJobCounts increments the saved/skipped counters and merges the
	// skip-reason tally (per-key sum, not overwrite) in a single statement.
	AddJobCounts(ctx context.Context, id uuid.UUID, saved, skipped int, reasons map[string]int) error
	// ActiveJob returns the partition's processing or vectorizing job,
	// or ErrNotFound when the active slot is free.
	ActiveJob(ctx context.Context, partitionID uuid.UUID) (*models.IngestJob, error)
	// OldestPendingJob returns the next job to dispatch for the partition,
	// or ErrNotFound when nothing is queued.
	OldestPendingJob(ctx context.Context, partitionID uuid.UUID) (*models.IngestJob, error)
	// ListUnfinishedJobs returns every job not yet in a terminal state,
	// oldest first, across all partitions. Used by the startup recovery
	// sweep.
	ListUnfinishedJobs(ctx context.Context) ([]*models.IngestJob, error)

	CreateRecords(ctx context.Context, records []*models.Record) error
	GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, error)
	// RecordExistsByNaturalID reports whether any record in the
	// partition+type carries the given natural id under any of the
	// recognized metadata keys (task_id, id, uuid, record_id).
	RecordExistsByNaturalID(ctx context.Context, partitionID uuid.UUID, contentType, naturalID string) (bool, error)
	// ListMissingEmbedding pages through the partition's unembedded records
	// by id cursor: strictly greater than afterID, ascending, up to limit.
	ListMissingEmbedding(ctx context.Context, partitionID uuid.UUID, afterID uuid.UUID, limit int) ([]*models.Record, error)
	SetEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
	// ListEmbedded returns up to limit most recent embedded records of the
	// given type in the partition. limit <= 0 means no cap.
	ListEmbedded(ctx context.Context, partitionID uuid.UUID, contentType string, limit int) ([]*models.Record, error)
	// ListEmbeddedByCreator returns the embedded records in the partition
	// attributed to createdBy, excluding excludeID.
	ListEmbeddedByCreator(ctx context.Context, partitionID uuid.UUID, createdBy string, excludeID uuid.UUID) ([]*models.Record, error)
}

// JobUpdate carries the optional fields an UpdateJobState call may set.
type JobUpdate struct {
	ErrorMessage *string
}

type JobUpdateOption func(*JobUpdate)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorMessage = &msg
	}
}
