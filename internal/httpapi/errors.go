package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentrt/core/internal/providers"
)

// errorEnvelope is the OpenAI-compatible error body every failing
// handler writes: {"error": {"message", "type", "code"}}.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// statusForError maps a provider error kind to the HTTP status spec.md
// fixes for config/model endpoints: 400 for auth/usage, 429 for rate
// limiting, 500 for anything else.
func statusForError(err error) (int, string) {
	var pe *providers.Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case providers.KindAuthentication, providers.KindUsageError, providers.KindContextLengthExceeded:
			return http.StatusBadRequest, string(pe.Kind)
		case providers.KindRateLimitExceeded:
			return http.StatusTooManyRequests, string(pe.Kind)
		default:
			return http.StatusInternalServerError, string(pe.Kind)
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError writes the OpenAI-style error envelope with the status code
// statusForError derives from err.
func writeError(w http.ResponseWriter, err error) {
	status, kind := statusForError(err)
	writeErrorStatus(w, status, kind, err.Error())
}

// writeErrorStatus writes the envelope with an explicit status/type,
// for handler-level errors (bad JSON, missing fields) that never pass
// through a providers.Error.
func writeErrorStatus(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{
		Message: message,
		Type:    kind,
		Code:    kind,
	}})
}
