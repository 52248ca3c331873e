// Package objectapi exposes objects, their analysis tasks and the sample
// toolkit over HTTP.
package objectapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/analysis"
	"github.com/linnemanlabs/warden/internal/authmw"
	"github.com/linnemanlabs/warden/internal/object"
)

// ObjectService defines the business operations objectapi needs.
type ObjectService interface {
	analysis.TaskRecorder
	Submit(ctx context.Context, sub *analysis.Submission, analyst string) (*analysis.SubmitResult, error)
	Get(ctx context.Context, objectType, id, analyst string) (*object.Object, bool, error)
	List(ctx context.Context, objectType, search string, limit, offset int, analyst string) ([]*object.Object, error)
	UpdateFields(ctx context.Context, objectType, objectID string, f analysis.Fields, analyst string) analysis.Outcome
	Remove(ctx context.Context, objectType, objectID, analyst string) analysis.Outcome
	SampleContent(ctx context.Context, md5, analyst string) ([]byte, bool, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    ObjectService
}

// New creates a new API handler.
func New(logger log.Logger, svc ObjectService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("object service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. mw runs in front of
// every endpoint and must put the analyst in the request context.
func (a *API) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw...)

		r.Route("/objects/{type}", func(r chi.Router) {
			r.Post("/", a.handleSubmit)
			r.Get("/", a.handleListObjects)
			r.Get("/{id}", a.handleGetObject)
			r.Patch("/{id}", a.handleUpdateObject)
			r.Delete("/{id}", a.handleRemoveObject)
			r.Post("/{id}/samples", a.handleAttachSample)
			r.Post("/{id}/analysis", a.handleStartTask)
			r.Post("/{id}/analysis/{aid}/results", a.handleAddResult)
			r.Post("/{id}/analysis/{aid}/log", a.handleAddLog)
			r.Post("/{id}/analysis/{aid}/finish", a.handleFinishTask)
		})

		r.Route("/samples/{md5}", func(r chi.Router) {
			r.Get("/strings", a.handleStrings)
			r.Get("/hex", a.handleHex)
			r.Get("/xor", a.handleXOR)
			r.Post("/xor-search", a.handleXORSearch)
		})
	})
}

func analyst(r *http.Request) string {
	return authmw.AnalystFromContext(r.Context())
}

func annotate(r *http.Request, kv ...attribute.KeyValue) {
	trace.SpanFromContext(r.Context()).SetAttributes(kv...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps analysis error kinds to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, analysis.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, analysis.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, analysis.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeOutcome(w http.ResponseWriter, r *http.Request, out analysis.Outcome) {
	status := http.StatusOK
	if !out.Success {
		status = errorStatus(out.Err)
		if status == http.StatusInternalServerError {
			a.logger.Error(r.Context(), out.Err, "mutation failed", "path", r.URL.Path)
		}
	}
	writeJSON(w, status, out)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be left out. An
// absent or empty body leaves v untouched.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid payload")
	return false
}
