// Package http provides the chi-based HTTP surface: command endpoints for the
// reference aggregate, read-model queries, the global event feed, and the SSE
// stream.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidewater-labs/driftline/internal/domain"
	"github.com/tidewater-labs/driftline/internal/upcast"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request, bodyLimit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps the error taxonomy onto HTTP statuses: validation and
// domain-rule rejections are the client's fault, a conflict after retry
// exhaustion is 409, schema errors and unknown failures are 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var schemaErr *upcast.SchemaError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, trimSentinel(err, domain.ErrValidation))
	case errors.Is(err, domain.ErrDomainRule):
		writeError(w, http.StatusUnprocessableEntity, trimSentinel(err, domain.ErrDomainRule))
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "aggregate was modified concurrently, retry the command")
	case errors.As(err, &schemaErr):
		slog.Error("schema error", "error", err)
		writeError(w, http.StatusInternalServerError, "stored event schema cannot be loaded")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// trimSentinel strips the sentinel prefix so clients see only the detail.
func trimSentinel(err error, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}
