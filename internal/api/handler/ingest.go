package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rbayer/redzone/internal/api/response"
	"github.com/rbayer/redzone/internal/cache"
	"github.com/rbayer/redzone/internal/ingest"
	"github.com/rbayer/redzone/internal/store"
	"github.com/rbayer/redzone/pkg/models"
)

// IngestService is the interface the handlers depend on; the orchestrator
// implements it.
type IngestService interface {
	Submit(ctx context.Context, params ingest.SubmitParams) (*models.IngestJob, error)
	Cancel(ctx context.Context, jobID uuid.UUID) error
}

var validContentTypes = map[string]bool{
	models.ContentTypeTask:     true,
	models.ContentTypeFeedback: true,
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/ingest.
// File-mode payloads carry raw CSV text in payload_csv; remote-mode payloads
// carry a source_url fetched by the pipeline.
func NewSubmitHandler(svc IngestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PartitionID        string   `json:"partition_id"`
			ContentType        string   `json:"content_type"`
			Source             string   `json:"source"`
			CreatedBy          string   `json:"created_by"`
			PayloadCSV         string   `json:"payload_csv"`
			NoHeader           bool     `json:"no_header"`
			SourceURL          string   `json:"source_url"`
			FilterKeywords     []string `json:"filter_keywords"`
			GenerateEmbeddings bool     `json:"generate_embeddings"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		partitionID, err := uuid.Parse(req.PartitionID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "partition_id must be a valid UUID", nil)
			return
		}
		if !validContentTypes[req.ContentType] {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "content_type must be task or feedback", nil)
			return
		}

		var fileData []byte
		if req.PayloadCSV != "" {
			fileData = []byte(req.PayloadCSV)
		}

		job, err := svc.Submit(r.Context(), ingest.SubmitParams{
			PartitionID:        partitionID,
			ContentType:        req.ContentType,
			Source:             req.Source,
			CreatedBy:          req.CreatedBy,
			FilterKeywords:     req.FilterKeywords,
			GenerateEmbeddings: req.GenerateEmbeddings,
			FileData:           fileData,
			HasHeader:          !req.NoHeader,
			SourceURL:          req.SourceURL,
		})
		if err != nil {
			switch {
			case errors.Is(err, ingest.ErrEmptyPayload):
				response.Error(w, http.StatusBadRequest, "EMPTY_PAYLOAD",
					"Provide payload_csv or source_url", nil)
			case errors.Is(err, ingest.ErrNoValidRecords):
				response.Error(w, http.StatusBadRequest, "NO_VALID_RECORDS",
					"The payload contains no ingestable records", nil)
			default:
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			}
			return
		}

		response.Accepted(w, jobResponse(job))
	}
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/ingest/{jobID}.
// The state field prefers the Redis mirror, which is written at every
// transition, so pollers see terminal states promptly.
func NewJobStatusHandler(st store.Store, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := parseJobID(w, r)
		if !ok {
			return
		}

		job, err := st.GetJob(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No such ingest job", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		if state, found, err := ca.GetJobState(r.Context(), jobID); err == nil && found {
			job.State = state
		}

		response.JSON(w, jobResponse(job))
	}
}

// NewCancelHandler returns an http.HandlerFunc for DELETE /api/v1/ingest/{jobID}.
// Cancellation is best-effort and cooperative.
func NewCancelHandler(svc IngestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := parseJobID(w, r)
		if !ok {
			return
		}

		err := svc.Cancel(r.Context(), jobID)
		switch {
		case err == nil:
			response.Accepted(w, map[string]any{"id": jobID, "state": models.JobStateCancelled})
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No such ingest job", nil)
		case errors.Is(err, ingest.ErrJobTerminal):
			response.Error(w, http.StatusConflict, "JOB_TERMINAL", "Job already reached a terminal state", nil)
		default:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
	}
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return jobID, true
}

type jobStatusResponse struct {
	ID           uuid.UUID      `json:"id"`
	PartitionID  uuid.UUID      `json:"partition_id"`
	InputKind    string         `json:"input_kind"`
	State        string         `json:"state"`
	SavedCount   int            `json:"saved_count"`
	SkippedCount int            `json:"skipped_count"`
	SkipReasons  map[string]int `json:"skip_reasons"`
	Error        *string        `json:"error,omitempty"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

func jobResponse(job *models.IngestJob) jobStatusResponse {
	reasons := job.SkipReasons
	if reasons == nil {
		reasons = map[string]int{}
	}
	return jobStatusResponse{
		ID:           job.ID,
		PartitionID:  job.PartitionID,
		InputKind:    job.InputKind,
		State:        job.State,
		SavedCount:   job.SavedCount,
		SkippedCount: job.SkippedCount,
		SkipReasons:  reasons,
		Error:        job.ErrorMessage,
		CreatedAt:    job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
