package objectapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
)

type startTaskRequest struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

type resultRequest struct {
	Result  string `json:"result"`
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

type logRequest struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

type finishRequest struct {
	Status string `json:"status"`
}

// taskParams reads the path parameters shared by the task endpoints.
func taskParams(r *http.Request) (typ, id, aid string) {
	typ, id, aid = chi.URLParam(r, "type"), chi.URLParam(r, "id"), chi.URLParam(r, "aid")
	kv := []attribute.KeyValue{
		attribute.String("warden.object.type", typ),
		attribute.String("warden.object.id", id),
	}
	if aid != "" {
		kv = append(kv, attribute.String("warden.analysis.id", aid))
	}
	annotate(r, kv...)
	return typ, id, aid
}

func (a *API) handleStartTask(w http.ResponseWriter, r *http.Request) {
	typ, id, _ := taskParams(r)
	var req startTaskRequest
	if !decode(w, r, &req) {
		return
	}
	a.writeOutcome(w, r, a.svc.StartTask(r.Context(), typ, id, req.Service, req.Version, analyst(r)))
}

func (a *API) handleAddResult(w http.ResponseWriter, r *http.Request) {
	typ, id, aid := taskParams(r)
	var req resultRequest
	if !decode(w, r, &req) {
		return
	}
	a.writeOutcome(w, r, a.svc.AddResult(r.Context(), typ, id, aid, req.Result, req.Type, req.Subtype, analyst(r)))
}

func (a *API) handleAddLog(w http.ResponseWriter, r *http.Request) {
	typ, id, aid := taskParams(r)
	var req logRequest
	if !decode(w, r, &req) {
		return
	}
	a.writeOutcome(w, r, a.svc.AddLog(r.Context(), typ, id, aid, req.Message, req.Level, analyst(r)))
}

func (a *API) handleFinishTask(w http.ResponseWriter, r *http.Request) {
	typ, id, aid := taskParams(r)
	var req finishRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	a.writeOutcome(w, r, a.svc.FinishTask(r.Context(), typ, id, aid, req.Status, analyst(r)))
}
