package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rbayer/redzone/internal/api/response"
	"github.com/rbayer/redzone/internal/similarity"
	"github.com/rbayer/redzone/internal/store"
	"github.com/rbayer/redzone/pkg/models"
)

// SimilarityService is the interface the handlers depend on; the similarity
// engine implements it.
type SimilarityService interface {
	RedZone(ctx context.Context, partitionID uuid.UUID, contentType string, threshold, limit int) ([]models.SimilarityPair, error)
	RankSimilar(ctx context.Context, partitionID, recordID uuid.UUID) (*models.SimilarityRanking, error)
}

// NewRedZoneHandler returns an http.HandlerFunc for
// GET /api/v1/partitions/{partitionID}/redzone?threshold=&type=&limit=.
func NewRedZoneHandler(svc SimilarityService, defaultThreshold int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partitionID, err := uuid.Parse(chi.URLParam(r, "partitionID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "partitionID must be a valid UUID", nil)
			return
		}

		contentType := r.URL.Query().Get("type")
		if contentType == "" {
			contentType = models.ContentTypeTask
		}
		if !validContentTypes[contentType] {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "type must be task or feedback", nil)
			return
		}

		threshold := defaultThreshold
		if raw := r.URL.Query().Get("threshold"); raw != "" {
			t, err := strconv.Atoi(raw)
			if err != nil || t < 0 || t > 100 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "threshold must be an integer in [0,100]", nil)
				return
			}
			threshold = t
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			l, err := strconv.Atoi(raw)
			if err != nil || l < 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer", nil)
				return
			}
			limit = l
		}

		pairs, err := svc.RedZone(r.Context(), partitionID, contentType, threshold, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.JSON(w, map[string]any{
			"partition_id": partitionID,
			"threshold":    threshold,
			"pairs":        pairs,
		})
	}
}

// NewRankSimilarHandler returns an http.HandlerFunc for
// GET /api/v1/partitions/{partitionID}/records/{recordID}/similar.
func NewRankSimilarHandler(svc SimilarityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partitionID, err := uuid.Parse(chi.URLParam(r, "partitionID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "partitionID must be a valid UUID", nil)
			return
		}
		recordID, err := uuid.Parse(chi.URLParam(r, "recordID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "recordID must be a valid UUID", nil)
			return
		}

		ranking, err := svc.RankSimilar(r.Context(), partitionID, recordID)
		switch {
		case err == nil:
			response.JSON(w, ranking)
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "RECORD_NOT_FOUND", "No such record in the partition", nil)
		case errors.Is(err, similarity.ErrNotEmbeddable):
			response.Error(w, http.StatusBadGateway, "EMBEDDING_UNAVAILABLE",
				"The target record could not be embedded", nil)
		default:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
	}
}
