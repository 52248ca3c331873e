package objectapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linnemanlabs/warden/internal/extract"
)

type stringsResponse struct {
	Strings []string `json:"strings"`
}

type xorSearchRequest struct {
	String    string `json:"string"`
	SkipNulls bool   `json:"skip_nulls"`
	IsKey     bool   `json:"is_key"`
}

type xorSearchResponse struct {
	Keys []int `json:"keys"`
}

// sample loads the sample content, writing the error response itself when it
// cannot.
func (a *API) sample(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	md5 := chi.URLParam(r, "md5")
	annotate(r, attribute.String("warden.sample.md5", md5))

	data, ok, err := a.svc.SampleContent(r.Context(), md5, analyst(r))
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to load sample", "md5", md5)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	return data, true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (a *API) handleStrings(w http.ResponseWriter, r *http.Request) {
	data, ok := a.sample(w, r)
	if !ok {
		return
	}
	out := append(extract.ASCII(data), extract.Unicode(data)...)
	writeJSON(w, http.StatusOK, stringsResponse{Strings: nonNil(out)})
}

func (a *API) handleHex(w http.ResponseWriter, r *http.Request) {
	data, ok := a.sample(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, stringsResponse{Strings: extract.HexDump(data)})
}

func (a *API) handleXOR(w http.ResponseWriter, r *http.Request) {
	key, err := strconv.ParseUint(r.URL.Query().Get("key"), 10, 8)
	if err != nil {
		writeError(w, http.StatusBadRequest, "key must be an integer between 0 and 255")
		return
	}
	data, ok := a.sample(w, r)
	if !ok {
		return
	}
	decoded := extract.XOR(data, byte(key), false)
	writeJSON(w, http.StatusOK, stringsResponse{Strings: nonNil(extract.ASCII(decoded))})
}

func (a *API) handleXORSearch(w http.ResponseWriter, r *http.Request) {
	var req xorSearchRequest
	if !decode(w, r, &req) {
		return
	}
	data, ok := a.sample(w, r)
	if !ok {
		return
	}

	if req.IsKey {
		keys := []int{}
		if k, err := strconv.Atoi(req.String); err == nil {
			keys = append(keys, k)
		}
		writeJSON(w, http.StatusOK, xorSearchResponse{Keys: keys})
		return
	}
	writeJSON(w, http.StatusOK, xorSearchResponse{Keys: extract.XORSearch(data, []byte(req.String), req.SkipNulls)})
}
