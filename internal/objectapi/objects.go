package objectapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linnemanlabs/warden/internal/analysis"
	"github.com/linnemanlabs/warden/internal/object"
)

// submitRequest is the ingest payload. Data is base64 encoded in JSON.
type submitRequest struct {
	Sources     []string `json:"sources"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Value       string   `json:"value"`
	Filename    string   `json:"filename"`
	Data        []byte   `json:"data"`
	RelatedType string   `json:"related_type,omitempty"`
	RelatedID   string   `json:"related_id,omitempty"`
}

func (req *submitRequest) submission(typ string) *analysis.Submission {
	sub := &analysis.Submission{
		Object: &object.Object{
			Type:        object.Type(typ),
			Sources:     req.Sources,
			Title:       req.Title,
			Description: req.Description,
			Value:       req.Value,
			Filename:    req.Filename,
		},
		Data: req.Data,
	}
	if req.RelatedType != "" || req.RelatedID != "" {
		sub.Related = &object.Relationship{Type: object.Type(req.RelatedType), ID: req.RelatedID}
	}
	return sub
}

type listResponse struct {
	Objects []*object.Object `json:"objects"`
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	annotate(r, attribute.String("warden.object.type", typ))

	var req submitRequest
	if !decode(w, r, &req) {
		return
	}

	a.submit(w, r, typ, req.submission(typ))
}

// handleAttachSample uploads a Sample related to the object in the path,
// normally an Event.
func (a *API) handleAttachSample(w http.ResponseWriter, r *http.Request) {
	typ, id := chi.URLParam(r, "type"), chi.URLParam(r, "id")
	annotate(r,
		attribute.String("warden.object.type", typ),
		attribute.String("warden.object.id", id),
	)

	var req submitRequest
	if !decode(w, r, &req) {
		return
	}
	req.RelatedType, req.RelatedID = typ, id
	a.submit(w, r, string(object.TypeSample), req.submission(string(object.TypeSample)))
}

func (a *API) submit(w http.ResponseWriter, r *http.Request, typ string, sub *analysis.Submission) {
	res, err := a.svc.Submit(r.Context(), sub, analyst(r))
	if err != nil {
		a.writeServiceError(w, r, err, "failed to submit object", "type", typ)
		return
	}

	annotate(r, attribute.String("warden.submitted.id", res.ID))
	writeJSON(w, http.StatusAccepted, res)
}

// writeServiceError reports classified errors with their own message and
// hides everything else behind a 500.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	var ae *analysis.Error
	if errors.As(err, &ae) && errorStatus(err) != http.StatusInternalServerError {
		writeError(w, errorStatus(err), ae.Message)
		return
	}
	a.logger.Error(r.Context(), err, msg, kv...)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (a *API) handleListObjects(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	annotate(r, attribute.String("warden.object.type", typ))

	q := r.URL.Query()
	limit, ok := intParam(w, q.Get("limit"), "limit")
	if !ok {
		return
	}
	offset, ok := intParam(w, q.Get("offset"), "offset")
	if !ok {
		return
	}

	objs, err := a.svc.List(r.Context(), typ, q.Get("q"), limit, offset, analyst(r))
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list objects", "type", typ)
		return
	}
	if objs == nil {
		objs = []*object.Object{}
	}
	writeJSON(w, http.StatusOK, listResponse{Objects: objs})
}

func intParam(w http.ResponseWriter, v, name string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}

func (a *API) handleUpdateObject(w http.ResponseWriter, r *http.Request) {
	typ, id, _ := taskParams(r)
	var f analysis.Fields
	if !decode(w, r, &f) {
		return
	}
	a.writeOutcome(w, r, a.svc.UpdateFields(r.Context(), typ, id, f, analyst(r)))
}

func (a *API) handleRemoveObject(w http.ResponseWriter, r *http.Request) {
	typ, id, _ := taskParams(r)
	a.writeOutcome(w, r, a.svc.Remove(r.Context(), typ, id, analyst(r)))
}

func (a *API) handleGetObject(w http.ResponseWriter, r *http.Request) {
	typ, id := chi.URLParam(r, "type"), chi.URLParam(r, "id")
	annotate(r,
		attribute.String("warden.object.type", typ),
		attribute.String("warden.object.id", id),
	)

	obj, ok, err := a.svc.Get(r.Context(), typ, id, analyst(r))
	if err != nil {
		if errorStatus(err) == http.StatusBadRequest {
			writeError(w, http.StatusBadRequest, "unsupported object type")
			return
		}
		a.logger.Error(r.Context(), err, "failed to get object", "type", typ, "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, obj)
}
