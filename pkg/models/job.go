package models

import (
	"time"

	"github.com/google/uuid"
)

// Job lifecycle states. Transitions are driven exclusively by the ingest
// orchestrator; completed, failed and cancelled are terminal.
const (
	JobStatePending     = "pending"
	JobStateProcessing  = "processing"
	JobStateVectorizing = "vectorizing"
	JobStateCompleted   = "completed"
	JobStateFailed      = "failed"
	JobStateCancelled   = "cancelled"
)

// Input kinds for an ingest job.
const (
	InputKindFile   = "file"
	InputKindRemote = "remote"
)

// IngestJob tracks one bulk ingestion attempt. The API returns a job id on
// POST /api/v1/ingest; the client polls GET /api/v1/ingest/{job_id} until the
// state is terminal. Only one job per partition may be processing or
// vectorizing at any instant.
type IngestJob struct {
	ID           uuid.UUID      `db:"id"            json:"id"`
	PartitionID  uuid.UUID      `db:"partition_id"  json:"partition_id"`
	InputKind    string         `db:"input_kind"    json:"input_kind"`
	State        string         `db:"state"         json:"state"`
	SavedCount   int            `db:"saved_count"   json:"saved_count"`
	SkippedCount int            `db:"skipped_count" json:"skipped_count"`
	SkipReasons  map[string]int `db:"skip_reasons"  json:"skip_reasons"`
	ErrorMessage *string        `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time      `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"    json:"updated_at"`
}

// Terminal reports whether the job has reached a state that cannot
// transition further.
func (j *IngestJob) Terminal() bool {
	return TerminalState(j.State)
}

// TerminalState reports whether the given state is terminal.
func TerminalState(state string) bool {
	return state == JobStateCompleted || state == JobStateFailed || state == JobStateCancelled
}
