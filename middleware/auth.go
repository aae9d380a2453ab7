// Package middleware implements the ambient HTTP middleware chain:
// CORS, security headers, request ID, worker-identity extraction,
// rate limiting, and response timeouts.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sescanella/spoolflow/model"
)

type contextKey string

// WorkerContextKey stores the extracted model.Worker in request context.
const WorkerContextKey contextKey = "worker"

// WorkerIdentity extracts worker identity from trusted upstream
// headers. Identity validation is out of scope for this service (the
// tablet session / SSO layer is the external collaborator that
// authenticates the worker); this middleware only requires the
// headers to be present.
type WorkerIdentity struct {
	logger         zerolog.Logger
	idHeader       string
	initialsHeader string
}

// NewWorkerIdentity creates the worker-identity middleware.
func NewWorkerIdentity(logger zerolog.Logger, idHeader, initialsHeader string) *WorkerIdentity {
	if idHeader == "" {
		idHeader = "X-Worker-Id"
	}
	if initialsHeader == "" {
		initialsHeader = "X-Worker-Initials"
	}
	return &WorkerIdentity{
		logger:         logger,
		idHeader:       idHeader,
		initialsHeader: initialsHeader,
	}
}

// Handler returns the middleware handler function.
func (wi *WorkerIdentity) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(wi.idHeader)
		initials := r.Header.Get(wi.initialsHeader)
		if id == "" || initials == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"kind":    "NotAuthorized",
					"message": "missing worker identity headers",
				},
			})
			return
		}

		worker := model.Worker{ID: id, Initials: initials, Active: true}
		ctx := context.WithValue(r.Context(), WorkerContextKey, worker)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetWorker extracts the identified worker from the request context.
// Only valid downstream of WorkerIdentity.Handler.
func GetWorker(ctx context.Context) (model.Worker, bool) {
	w, ok := ctx.Value(WorkerContextKey).(model.Worker)
	return w, ok
}
