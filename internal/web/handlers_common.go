package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/go-chi/chi/v5"
)

// maxJSONBody bounds request bodies of the JSON endpoints.
const maxJSONBody = 1 << 20

// parseID reads the {id} route parameter.
func parseID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, core.NewValidationError(fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}

// parseListParams reads limit/offset, or page/per_page as an alternative.
func parseListParams(r *http.Request) (core.ListParams, error) {
	q := r.URL.Query()
	var p core.ListParams
	var err error

	if p.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		return p, core.NewValidationError("invalid limit")
	}
	if p.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		return p, core.NewValidationError("invalid offset")
	}

	if q.Has("page") || q.Has("per_page") {
		page, err := intParam(q.Get("page"), 1)
		if err != nil || page < 1 {
			return p, core.NewValidationError("invalid page")
		}
		perPage, err := intParam(q.Get("per_page"), 50)
		if err != nil || perPage < 1 {
			return p, core.NewValidationError("invalid per_page")
		}
		p.Limit = perPage
		p.Offset = (page - 1) * perPage
	}
	return p.Normalize(), nil
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(strings.TrimSpace(raw))
}

// boolParam reads a boolean form or query value; absent means false.
func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.FormValue(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, core.NewValidationError(fmt.Sprintf("invalid %s %q: want true or false", name, raw))
	}
	return v, nil
}

// decodeJSON decodes a bounded JSON body into v. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return core.NewValidationError("request body cannot be empty")
		}
		return core.NewValidationError(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// listResponse is the envelope of list endpoints.
func listResponse(key string, items any, p core.ListParams) map[string]any {
	return map[string]any{
		key:      items,
		"limit":  p.Limit,
		"offset": p.Offset,
	}
}
