package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/hackgods/medibook/internal/apperr"
)

const slotHint = "the requested time is no longer free; list availability again and pick another slot"

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Hint    string            `json:"hint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps an error kind to its status code. Unknown errors
// are 500s, reported to Sentry and never echoed to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Details: err.Error()}
	status := http.StatusInternalServerError

	var ve *apperr.ValidationError
	switch {
	case errors.As(err, &ve):
		status, resp.Error, resp.Fields = http.StatusBadRequest, "validation_failed", ve.Fields
	case errors.Is(err, apperr.ErrValidation):
		status, resp.Error = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, apperr.ErrSlotUnavailable):
		status, resp.Error, resp.Hint = http.StatusConflict, "slot_unavailable", slotHint
	case errors.Is(err, apperr.ErrNotFound):
		status, resp.Error = http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrUnauthorized):
		status, resp.Error = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperr.ErrForbidden):
		status, resp.Error = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperr.ErrConflict):
		status, resp.Error = http.StatusConflict, "conflict"
	case errors.Is(err, apperr.ErrUpstream):
		status, resp.Error = http.StatusBadGateway, "upstream_failure"
	default:
		resp.Error, resp.Details = "internal_error", "internal server error"
	}

	if status >= http.StatusInternalServerError {
		captureException(r, err)
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
	}

	writeJSON(w, status, resp)
}

func captureException(r *http.Request, err error) {
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

// decodeJSON rejects unknown fields so typos in patches surface as 400s.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON: "+err.Error())
		return false
	}
	return true
}
