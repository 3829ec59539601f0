package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rbayer/redzone/internal/cache"
	"github.com/rbayer/redzone/internal/config"
	"github.com/rbayer/redzone/internal/source"
	"github.com/rbayer/redzone/internal/store"
	"github.com/rbayer/redzone/pkg/models"
)

// Submission validation errors, reported synchronously to the submitter.
var (
	ErrEmptyPayload   = errors.New("ingest payload is empty")
	ErrNoValidRecords = errors.New("no valid records in payload")
	ErrJobTerminal    = errors.New("job already in a terminal state")
)

const jobStateTTL = 30 * time.Minute

// SubmitParams is the input to a job submission.
type SubmitParams struct {
	PartitionID        uuid.UUID
	ContentType        string
	Source             string
	CreatedBy          string
	FilterKeywords     []string
	GenerateEmbeddings bool

	// Exactly one of FileData (file mode, CSV bytes) or SourceURL (remote
	// mode) must be set.
	FileData  []byte
	HasHeader bool
	SourceURL string
}

// payloadEnvelope is the cached form of a submitted payload. It carries the
// processing parameters alongside the raw data so a job can be dispatched by
// any process sharing the cache.
type payloadEnvelope struct {
	ContentType        string   `json:"content_type"`
	Source             string   `json:"source"`
	CreatedBy          string   `json:"created_by"`
	FilterKeywords     []string `json:"filter_keywords,omitempty"`
	GenerateEmbeddings bool     `json:"generate_embeddings"`
	FileData           []byte   `json:"file_data,omitempty"`
	HasHeader          bool     `json:"has_header"`
	SourceURL          string   `json:"source_url,omitempty"`
}

// Orchestrator owns the ingest-job state machine. It enforces at most one
// active (processing or vectorizing) job per partition and runs jobs on a
// per-partition dispatcher goroutine, so one partition's pipeline never
// blocks another's. Dispatch after a terminal transition is driven by an
// explicit trigger channel rather than recursion.
type Orchestrator struct {
	store    store.Store
	cache    cache.Cache
	writer   *BatchWriter
	backfill *Backfill
	remote   source.Client
	cfg      config.IngestConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	lanes map[uuid.UUID]chan struct{}
}

// NewOrchestrator wires the ingestion pipeline. Call Close to drain the
// dispatcher goroutines on shutdown.
func NewOrchestrator(st store.Store, ca cache.Cache, provider models.EmbeddingProvider, remote source.Client, cfg config.IngestConfig) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:    st,
		cache:    ca,
		writer:   NewBatchWriter(st, cfg.ChunkSize),
		backfill: NewBackfill(st, provider, cfg.BackfillPageSize),
		remote:   remote,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		lanes:    make(map[uuid.UUID]chan struct{}),
	}
}

// Close stops dispatching and waits for in-flight jobs to reach a terminal
// state.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// Recover resolves jobs left behind by a previous process. Call once at
// startup, before serving traffic. A job found processing or vectorizing has
// no goroutine driving it anymore, so it is failed with a resubmit hint;
// every partition holding unfinished jobs then gets its dispatcher nudged so
// pending jobs queued before the restart start flowing again.
func (o *Orchestrator) Recover(ctx context.Context) error {
	jobs, err := o.store.ListUnfinishedJobs(ctx)
	if err != nil {
		return fmt.Errorf("listing unfinished jobs: %w", err)
	}
	partitions := make(map[uuid.UUID]bool)
	for _, job := range jobs {
		switch job.State {
		case models.JobStateProcessing, models.JobStateVectorizing:
			slog.Warn("abandoning interrupted job", "job_id", job.ID, "state", job.State)
			o.failJob(ctx, job.ID, "interrupted by restart; resubmit the ingest request")
		}
		partitions[job.PartitionID] = true
	}
	for partitionID := range partitions {
		o.trigger(partitionID)
	}
	return nil
}

// Submit validates the payload, creates a pending job, caches the raw
// payload keyed by job id and triggers a dispatch check for the partition.
// Validation errors are the only errors a submitter sees synchronously.
func (o *Orchestrator) Submit(ctx context.Context, params SubmitParams) (*models.IngestJob, error) {
	inputKind, err := validateSubmit(params)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &models.IngestJob{
		ID:          uuid.New(),
		PartitionID: params.PartitionID,
		InputKind:   inputKind,
		State:       models.JobStatePending,
		SkipReasons: map[string]int{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	envelope, err := json.Marshal(payloadEnvelope{
		ContentType:        params.ContentType,
		Source:             params.Source,
		CreatedBy:          params.CreatedBy,
		FilterKeywords:     params.FilterKeywords,
		GenerateEmbeddings: params.GenerateEmbeddings,
		FileData:           params.FileData,
		HasHeader:          params.HasHeader,
		SourceURL:          params.SourceURL,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	if err := o.cache.SetPayload(ctx, job.ID, envelope, o.cfg.PayloadTTL); err != nil {
		// The job exists but its payload never made it into the cache; the
		// dispatcher will fail it with a descriptive message.
		slog.Error("caching payload failed", "job_id", job.ID, "error", err)
	}
	_ = o.cache.SetJobState(ctx, job.ID, models.JobStatePending, jobStateTTL)

	o.trigger(params.PartitionID)
	return job, nil
}

func validateSubmit(params SubmitParams) (string, error) {
	switch {
	case len(params.FileData) > 0 && params.SourceURL != "":
		return "", fmt.Errorf("file data and source URL are mutually exclusive")
	case len(params.FileData) > 0:
		records, err := ParseTable(params.FileData, params.HasHeader)
		if err != nil {
			return "", err
		}
		if len(records) == 0 {
			return "", ErrNoValidRecords
		}
		return models.InputKindFile, nil
	case params.SourceURL != "":
		return models.InputKindRemote, nil
	default:
		return "", ErrEmptyPayload
	}
}

// Cancel marks the job cancelled. Cancellation is cooperative: the writer
// and backfill worker observe the state between chunks/pages, and
// already-written side effects are not undone.
func (o *Orchestrator) Cancel(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return ErrJobTerminal
	}
	if err := o.store.UpdateJobState(ctx, jobID, models.JobStateCancelled); err != nil {
		// The job may have finished between the read and the update.
		if errors.Is(err, store.ErrInvalidTransition) {
			return ErrJobTerminal
		}
		return err
	}
	_ = o.cache.SetJobState(ctx, jobID, models.JobStateCancelled, jobStateTTL)
	// Pending jobs never start; release their payload now. Running jobs
	// keep theirs until the dispatcher observes the cancellation.
	if job.State == models.JobStatePending {
		_ = o.cache.DeletePayload(ctx, jobID)
	}
	o.trigger(job.PartitionID)
	return nil
}

// trigger nudges the partition's dispatcher lane, creating it on first use.
// The channel has capacity one: a nudge while a drain is pending coalesces.
func (o *Orchestrator) trigger(partitionID uuid.UUID) {
	o.mu.Lock()
	lane, ok := o.lanes[partitionID]
	if !ok {
		lane = make(chan struct{}, 1)
		o.lanes[partitionID] = lane
		o.wg.Add(1)
		go o.dispatchLoop(partitionID, lane)
	}
	o.mu.Unlock()

	select {
	case lane <- struct{}{}:
	default:
	}
}

// dispatchLoop drains the partition's pending queue whenever nudged. Jobs in
// one partition run strictly in creation order; the loop is the partition's
// single active slot, so the one-active-job invariant holds by construction.
func (o *Orchestrator) dispatchLoop(partitionID uuid.UUID, lane chan struct{}) {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-lane:
		}

		for {
			if o.ctx.Err() != nil {
				return
			}
			job, err := o.nextJob(partitionID)
			if err != nil {
				slog.Error("dispatch check failed", "partition_id", partitionID, "error", err)
				break
			}
			if job == nil {
				break
			}
			o.runJob(job)
		}
	}
}

// nextJob returns the oldest pending job if the partition's active slot is
// free, or nil when there is nothing to do.
func (o *Orchestrator) nextJob(partitionID uuid.UUID) (*models.IngestJob, error) {
	if _, err := o.store.ActiveJob(o.ctx, partitionID); err == nil {
		// Another job is already processing or vectorizing; it will
		// self-chain on completion.
		return nil, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	job, err := o.store.OldestPendingJob(o.ctx, partitionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// runJob drives one job through the state machine. Every failure path
// resolves the job to a terminal state; nothing here may crash the process.
func (o *Orchestrator) runJob(job *models.IngestJob) {
	ctx := o.ctx
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in ingest job", "job_id", job.ID, "error", r)
			o.failJob(ctx, job.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	envelope, ok := o.loadPayload(ctx, job.ID)
	if !ok {
		o.failJob(ctx, job.ID, "cached payload missing; resubmit the ingest request")
		return
	}

	if err := o.store.UpdateJobState(ctx, job.ID, models.JobStateProcessing); err != nil {
		// Lost to a concurrent cancellation; release the payload and move on.
		slog.Warn("job not dispatchable", "job_id", job.ID, "error", err)
		_ = o.cache.DeletePayload(ctx, job.ID)
		return
	}
	_ = o.cache.SetJobState(ctx, job.ID, models.JobStateProcessing, jobStateTTL)
	slog.Info("ingest job started", "job_id", job.ID, "partition_id", job.PartitionID, "input_kind", job.InputKind)

	candidates, err := o.parsePayload(ctx, envelope)
	if err != nil {
		o.failJob(ctx, job.ID, err.Error())
		return
	}

	result, err := o.writer.Write(ctx, WriteParams{
		JobID:          job.ID,
		PartitionID:    job.PartitionID,
		ContentType:    envelope.ContentType,
		Source:         envelope.Source,
		CreatedBy:      envelope.CreatedBy,
		FilterKeywords: envelope.FilterKeywords,
	}, candidates)
	if err != nil {
		o.failJob(ctx, job.ID, err.Error())
		return
	}
	if result.Cancelled {
		o.finishCancelled(ctx, job)
		return
	}

	if envelope.GenerateEmbeddings {
		if err := o.store.UpdateJobState(ctx, job.ID, models.JobStateVectorizing); err != nil {
			o.finishCancelled(ctx, job)
			return
		}
		_ = o.cache.SetJobState(ctx, job.ID, models.JobStateVectorizing, jobStateTTL)

		cancelled, err := o.backfill.Run(ctx, job.PartitionID, job.ID)
		if err != nil {
			o.failJob(ctx, job.ID, err.Error())
			return
		}
		if cancelled {
			o.finishCancelled(ctx, job)
			return
		}
	}

	if err := o.store.UpdateJobState(ctx, job.ID, models.JobStateCompleted); err != nil {
		o.finishCancelled(ctx, job)
		return
	}
	_ = o.cache.SetJobState(ctx, job.ID, models.JobStateCompleted, jobStateTTL)
	_ = o.cache.DeletePayload(ctx, job.ID)
	slog.Info("ingest job completed",
		"job_id", job.ID, "saved", result.Saved, "skipped", result.Skipped)
}

func (o *Orchestrator) loadPayload(ctx context.Context, jobID uuid.UUID) (payloadEnvelope, bool) {
	var envelope payloadEnvelope
	data, found, err := o.cache.GetPayload(ctx, jobID)
	if err != nil {
		slog.Error("payload cache read failed", "job_id", jobID, "error", err)
		return envelope, false
	}
	if !found {
		return envelope, false
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		slog.Error("payload envelope corrupt", "job_id", jobID, "error", err)
		return envelope, false
	}
	return envelope, true
}

func (o *Orchestrator) parsePayload(ctx context.Context, envelope payloadEnvelope) ([]Candidate, error) {
	var raws []any
	if envelope.SourceURL != "" {
		fetched, err := o.remote.Fetch(ctx, envelope.SourceURL)
		if err != nil {
			return nil, err
		}
		raws = fetched
	} else {
		parsed, err := ParseTable(envelope.FileData, envelope.HasHeader)
		if err != nil {
			return nil, err
		}
		raws = parsed
	}

	if len(raws) == 0 {
		return nil, ErrNoValidRecords
	}

	candidates := make([]Candidate, len(raws))
	for i, raw := range raws {
		candidates[i] = Normalize(raw)
	}
	return candidates, nil
}

// failJob resolves the job to failed with the error message preserved
// verbatim, releases its payload and keeps the partition moving.
func (o *Orchestrator) failJob(ctx context.Context, jobID uuid.UUID, msg string) {
	if err := o.store.UpdateJobState(ctx, jobID, models.JobStateFailed, store.WithErrorMessage(msg)); err != nil {
		slog.Error("marking job failed", "job_id", jobID, "error", err)
	} else {
		_ = o.cache.SetJobState(ctx, jobID, models.JobStateFailed, jobStateTTL)
	}
	_ = o.cache.DeletePayload(ctx, jobID)
	slog.Warn("ingest job failed", "job_id", jobID, "reason", msg)
}

// finishCancelled releases the payload of a job that was cancelled while
// running. The cancelled state itself was already written by Cancel.
func (o *Orchestrator) finishCancelled(ctx context.Context, job *models.IngestJob) {
	_ = o.cache.DeletePayload(ctx, job.ID)
	slog.Info("ingest job cancelled", "job_id", job.ID)
}
