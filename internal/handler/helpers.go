package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/weavehub/weave/internal/model"
	"github.com/weavehub/weave/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// writeDomainError maps the store and engine error types onto HTTP statuses.
// Unknown errors stay opaque to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	var notFound *model.NotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, "not_found", notFound.Error())
		return
	}
	var invalidState *model.InvalidStateError
	if errors.As(err, &invalidState) {
		writeError(w, http.StatusConflict, "invalid_state", invalidState.Error())
		return
	}
	var validation *model.ValidationError
	if errors.As(err, &validation) {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", validation.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// listOptionsFromQuery parses the shared pagination query parameters.
func listOptionsFromQuery(r *http.Request) store.ListOptions {
	query := r.URL.Query()
	opts := store.ListOptions{
		Order:  query.Get("order"),
		After:  query.Get("after"),
		Before: query.Get("before"),
	}
	if raw := query.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			opts.Limit = limit
		}
	}
	return opts
}

// listEnvelope is the shared list response shape.
type listEnvelope struct {
	Object  string `json:"object"`
	Data    any    `json:"data"`
	FirstID string `json:"first_id,omitempty"`
	LastID  string `json:"last_id,omitempty"`
	HasMore bool   `json:"has_more"`
}
