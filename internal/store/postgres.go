package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rbayer/redzone/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

const jobColumns = `id, partition_id, input_kind, state, saved_count, skipped_count, skip_reasons, error_message, created_at, updated_at`

func scanJob(row pgx.Row) (*models.IngestJob, error) {
	var j models.IngestJob
	err := row.Scan(&j.ID, &j.PartitionID, &j.InputKind, &j.State, &j.SavedCount,
		&j.SkippedCount, &j.SkipReasons, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ingest job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.IngestJob) error {
	if job.SkipReasons == nil {
		job.SkipReasons = map[string]int{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_jobs (id, partition_id, input_kind, state, saved_count, skipped_count, skip_reasons, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.PartitionID, job.InputKind, job.State, job.SavedCount,
		job.SkippedCount, job.SkipReasons, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create ingest job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.IngestJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// validFrom maps a target state to the states it may be entered from.
// Terminal states never appear as a source.
var validFrom = map[string][]string{
	models.JobStateProcessing:  {models.JobStatePending},
	models.JobStateVectorizing: {models.JobStateProcessing},
	models.JobStateCompleted:   {models.JobStateProcessing, models.JobStateVectorizing},
	models.JobStateFailed:      {models.JobStatePending, models.JobStateProcessing, models.JobStateVectorizing},
	models.JobStateCancelled:   {models.JobStatePending, models.JobStateProcessing, models.JobStateVectorizing},
}

func (s *PostgresStore) UpdateJobState(ctx context.Context, id uuid.UUID, state string, opts ...JobUpdateOption) error {
	params := &JobUpdate{}
	for _, opt := range opts {
		opt(params)
	}

	allowed, ok := validFrom[state]
	if !ok {
		return fmt.Errorf("%w: unknown target state %q", ErrInvalidTransition, state)
	}

	// A single guarded UPDATE keeps the transition race-proof under
	// concurrent cancellation.
	query := `UPDATE ingest_jobs SET state = $2, updated_at = $3`
	args := []any{id, state, time.Now().UTC()}
	if params.ErrorMessage != nil {
		query += `, error_message = $4 WHERE id = $1 AND state = ANY($5)`
		args = append(args, *params.ErrorMessage, allowed)
	} else {
		query += ` WHERE id = $1 AND state = ANY($4)`
		args = append(args, allowed)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.pool.QueryRow(ctx, `SELECT state FROM ingest_jobs WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get job state: %w", err)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, state)
	}
	return nil
}

func (s *PostgresStore) AddJobCounts(ctx context.Context, id uuid.UUID, saved, skipped int, reasons map[string]int) error {
	if reasons == nil {
		reasons = map[string]int{}
	}
	// skip_reasons is merged per key: counts from earlier chunks are summed
	// with this chunk's tally, never overwritten.
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_jobs SET
		   saved_count = saved_count + $2,
		   skipped_count = skipped_count + $3,
		   skip_reasons = (
		     SELECT COALESCE(jsonb_object_agg(key, total), '{}'::jsonb) FROM (
		       SELECT key, SUM(value::int) AS total FROM (
		         SELECT key, value FROM jsonb_each_text(skip_reasons)
		         UNION ALL
		         SELECT key, value FROM jsonb_each_text($4::jsonb)
		       ) kv GROUP BY key
		     ) merged
		   ),
		   updated_at = NOW()
		 WHERE id = $1`,
		id, saved, skipped, reasons)
	if err != nil {
		return fmt.Errorf("add job counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ActiveJob(ctx context.Context, partitionID uuid.UUID) (*models.IngestJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs
		 WHERE partition_id = $1 AND state IN ($2, $3)
		 ORDER BY created_at ASC LIMIT 1`,
		partitionID, models.JobStateProcessing, models.JobStateVectorizing)
	return scanJob(row)
}

func (s *PostgresStore) OldestPendingJob(ctx context.Context, partitionID uuid.UUID) (*models.IngestJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs
		 WHERE partition_id = $1 AND state = $2
		 ORDER BY created_at ASC LIMIT 1`,
		partitionID, models.JobStatePending)
	return scanJob(row)
}

func (s *PostgresStore) ListUnfinishedJobs(ctx context.Context) ([]*models.IngestJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs
		 WHERE state IN ($1, $2, $3)
		 ORDER BY created_at ASC`,
		models.JobStatePending, models.JobStateProcessing, models.JobStateVectorizing)
	if err != nil {
		return nil, fmt.Errorf("list unfinished jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.IngestJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// --- Records ---

const recordColumns = `id, partition_id, content_type, category, source, content, metadata, embedding, created_by, created_at, updated_at`

func scanRecord(row pgx.Row) (*models.Record, error) {
	var r models.Record
	err := row.Scan(&r.ID, &r.PartitionID, &r.ContentType, &r.Category, &r.Source,
		&r.Content, &r.Metadata, &r.Embedding, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) collectRecords(rows pgx.Rows) ([]*models.Record, error) {
	defer rows.Close()
	var records []*models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) CreateRecords(ctx context.Context, records []*models.Record) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		if r.Metadata == nil {
			r.Metadata = map[string]any{}
		}
		batch.Queue(
			`INSERT INTO records (id, partition_id, content_type, category, source, content, metadata, embedding, created_by, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			r.ID, r.PartitionID, r.ContentType, r.Category, r.Source,
			r.Content, r.Metadata, r.Embedding, r.CreatedBy, r.CreatedAt, r.UpdatedAt)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("create records: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = $1`, id)
	return scanRecord(row)
}

func (s *PostgresStore) RecordExistsByNaturalID(ctx context.Context, partitionID uuid.UUID, contentType, naturalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM records
		   WHERE partition_id = $1 AND content_type = $2
		     AND (metadata->>'task_id' = $3
		       OR metadata->>'id' = $3
		       OR metadata->>'uuid' = $3
		       OR metadata->>'record_id' = $3)
		 )`,
		partitionID, contentType, naturalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("record exists by natural id: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListMissingEmbedding(ctx context.Context, partitionID uuid.UUID, afterID uuid.UUID, limit int) ([]*models.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM records
		 WHERE partition_id = $1
		   AND (embedding IS NULL OR cardinality(embedding) = 0)
		   AND id > $2
		 ORDER BY id ASC LIMIT $3`,
		partitionID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list missing embedding: %w", err)
	}
	return s.collectRecords(rows)
}

func (s *PostgresStore) SetEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET embedding = $2, updated_at = NOW() WHERE id = $1`,
		id, embedding)
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListEmbedded(ctx context.Context, partitionID uuid.UUID, contentType string, limit int) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		 WHERE partition_id = $1 AND content_type = $2
		   AND embedding IS NOT NULL AND cardinality(embedding) > 0
		 ORDER BY created_at DESC`
	args := []any{partitionID, contentType}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list embedded: %w", err)
	}
	return s.collectRecords(rows)
}

func (s *PostgresStore) ListEmbeddedByCreator(ctx context.Context, partitionID uuid.UUID, createdBy string, excludeID uuid.UUID) ([]*models.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM records
		 WHERE partition_id = $1 AND created_by = $2 AND id <> $3
		   AND embedding IS NOT NULL AND cardinality(embedding) > 0
		 ORDER BY created_at DESC`,
		partitionID, createdBy, excludeID)
	if err != nil {
		return nil, fmt.Errorf("list embedded by creator: %w", err)
	}
	return s.collectRecords(rows)
}
