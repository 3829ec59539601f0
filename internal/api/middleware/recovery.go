package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/rbayer/redzone/internal/api/response"
)

// Recovery converts a handler panic into a 500 response. Background ingest
// goroutines carry their own panic boundary; this one only covers the
// request path.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic in request handler",
					"error", err,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
				)
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
