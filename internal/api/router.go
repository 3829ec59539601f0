package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/rbayer/redzone/internal/api/middleware"
	"github.com/rbayer/redzone/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler      http.HandlerFunc
	SubmitHandler      http.HandlerFunc
	JobStatusHandler   http.HandlerFunc
	CancelJobHandler   http.HandlerFunc
	RedZoneHandler     http.HandlerFunc
	RankSimilarHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/ingest", orNotImplemented(deps.SubmitHandler))
		r.Get("/api/v1/ingest/{jobID}", orNotImplemented(deps.JobStatusHandler))
		r.Delete("/api/v1/ingest/{jobID}", orNotImplemented(deps.CancelJobHandler))

		r.Get("/api/v1/partitions/{partitionID}/redzone", orNotImplemented(deps.RedZoneHandler))
		r.Get("/api/v1/partitions/{partitionID}/records/{recordID}/similar", orNotImplemented(deps.RankSimilarHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
