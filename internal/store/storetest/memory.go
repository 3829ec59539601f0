// Package storetest provides an in-memory Store implementation for tests
// that exercise the ingestion pipeline and similarity engine without a
// database.
package storetest

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rbayer/redzone/internal/store"
	"github.com/rbayer/redzone/pkg/models"
)

// MemoryStore implements store.Store over process memory. It applies the
// same state-machine rules as the Postgres implementation and counts
// AddJobCounts calls so tests can observe per-chunk updates.
type MemoryStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*models.IngestJob
	records map[uuid.UUID]*models.Record

	// CountUpdates is incremented on every AddJobCounts call.
	CountUpdates int

	// Err, when set, is returned by every method.
	Err error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[uuid.UUID]*models.IngestJob),
		records: make(map[uuid.UUID]*models.Record),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return s.Err }

func cloneJob(j *models.IngestJob) *models.IngestJob {
	c := *j
	c.SkipReasons = make(map[string]int, len(j.SkipReasons))
	for k, v := range j.SkipReasons {
		c.SkipReasons[k] = v
	}
	return &c
}

func cloneRecord(r *models.Record) *models.Record {
	c := *r
	c.Embedding = append([]float32(nil), r.Embedding...)
	return &c
}

func (s *MemoryStore) CreateJob(_ context.Context, job *models.IngestJob) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.SkipReasons == nil {
		job.SkipReasons = map[string]int{}
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.IngestJob, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneJob(job), nil
}

var validFrom = map[string][]string{
	models.JobStateProcessing:  {models.JobStatePending},
	models.JobStateVectorizing: {models.JobStateProcessing},
	models.JobStateCompleted:   {models.JobStateProcessing, models.JobStateVectorizing},
	models.JobStateFailed:      {models.JobStatePending, models.JobStateProcessing, models.JobStateVectorizing},
	models.JobStateCancelled:   {models.JobStatePending, models.JobStateProcessing, models.JobStateVectorizing},
}

func (s *MemoryStore) UpdateJobState(_ context.Context, id uuid.UUID, state string, opts ...store.JobUpdateOption) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	allowed := false
	for _, from := range validFrom[state] {
		if job.State == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, job.State, state)
	}
	job.State = state
	job.UpdatedAt = time.Now().UTC()
	params := &store.JobUpdate{}
	for _, opt := range opts {
		opt(params)
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	return nil
}

func (s *MemoryStore) AddJobCounts(_ context.Context, id uuid.UUID, saved, skipped int, reasons map[string]int) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.SavedCount += saved
	job.SkippedCount += skipped
	for reason, count := range reasons {
		job.SkipReasons[reason] += count
	}
	job.UpdatedAt = time.Now().UTC()
	s.CountUpdates++
	return nil
}

func (s *MemoryStore) ActiveJob(_ context.Context, partitionID uuid.UUID) (*models.IngestJob, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var active *models.IngestJob
	for _, job := range s.jobs {
		if job.PartitionID != partitionID {
			continue
		}
		if job.State != models.JobStateProcessing && job.State != models.JobStateVectorizing {
			continue
		}
		if active == nil || job.CreatedAt.Before(active.CreatedAt) {
			active = job
		}
	}
	if active == nil {
		return nil, store.ErrNotFound
	}
	return cloneJob(active), nil
}

func (s *MemoryStore) OldestPendingJob(_ context.Context, partitionID uuid.UUID) (*models.IngestJob, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.IngestJob
	for _, job := range s.jobs {
		if job.PartitionID != partitionID || job.State != models.JobStatePending {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, store.ErrNotFound
	}
	return cloneJob(oldest), nil
}

func (s *MemoryStore) ListUnfinishedJobs(_ context.Context) ([]*models.IngestJob, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.IngestJob
	for _, job := range s.jobs {
		switch job.State {
		case models.JobStatePending, models.JobStateProcessing, models.JobStateVectorizing:
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CreateRecords(_ context.Context, records []*models.Record) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.ID] = cloneRecord(r)
	}
	return nil
}

func (s *MemoryStore) GetRecord(_ context.Context, id uuid.UUID) (*models.Record, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRecord(r), nil
}

var naturalIDKeys = []string{"task_id", "id", "uuid", "record_id"}

func (s *MemoryStore) RecordExistsByNaturalID(_ context.Context, partitionID uuid.UUID, contentType, naturalID string) (bool, error) {
	if s.Err != nil {
		return false, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.PartitionID != partitionID || r.ContentType != contentType {
			continue
		}
		for _, key := range naturalIDKeys {
			if v, ok := r.Metadata[key]; ok && fmt.Sprintf("%v", v) == naturalID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *MemoryStore) ListMissingEmbedding(_ context.Context, partitionID uuid.UUID, afterID uuid.UUID, limit int) ([]*models.Record, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var page []*models.Record
	for _, r := range s.records {
		if r.PartitionID != partitionID || len(r.Embedding) > 0 {
			continue
		}
		if bytes.Compare(r.ID[:], afterID[:]) <= 0 {
			continue
		}
		page = append(page, cloneRecord(r))
	}
	sort.Slice(page, func(i, j int) bool {
		return bytes.Compare(page[i].ID[:], page[j].ID[:]) < 0
	})
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

func (s *MemoryStore) SetEmbedding(_ context.Context, id uuid.UUID, embedding []float32) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Embedding = append([]float32(nil), embedding...)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListEmbedded(_ context.Context, partitionID uuid.UUID, contentType string, limit int) ([]*models.Record, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Record
	for _, r := range s.records {
		if r.PartitionID != partitionID || r.ContentType != contentType || len(r.Embedding) == 0 {
			continue
		}
		out = append(out, cloneRecord(r))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListEmbeddedByCreator(_ context.Context, partitionID uuid.UUID, createdBy string, excludeID uuid.UUID) ([]*models.Record, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Record
	for _, r := range s.records {
		if r.PartitionID != partitionID || r.CreatedBy != createdBy || r.ID == excludeID || len(r.Embedding) == 0 {
			continue
		}
		out = append(out, cloneRecord(r))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Records returns a snapshot of every stored record.
func (s *MemoryStore) Records() []*models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, cloneRecord(r))
	}
	return out
}

// AddRecord stores a single record directly, bypassing the batch writer.
func (s *MemoryStore) AddRecord(r *models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	s.records[r.ID] = cloneRecord(r)
}

var _ store.Store = (*MemoryStore)(nil)
