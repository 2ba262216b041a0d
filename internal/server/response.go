package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/kvx/internal/shared"
)

const (
	internalErrorMessage = "Internal server error"
	jobNotFoundMessage   = "Job not found"
)

// envelope wraps every JSON success response.
type envelope struct {
	Success bool `json:"success"`
	Result  any  `json:"result,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeResult writes {success:true, result}. A nil result is omitted.
func writeResult(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Result: result})
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeError maps err to a status and writes {error}. Internal errors are logged in full and
// answered with a generic message.
func writeError(w http.ResponseWriter, logger *log.Logger, r *http.Request, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeErrorMessage(w, status, msg)
}

func classify(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, shared.ErrJobNotFound):
		return http.StatusNotFound, jobNotFoundMessage
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidPayload),
		errors.Is(err, shared.ErrInvalidFormat),
		errors.Is(err, shared.ErrInvalidOperation),
		errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrMissingArgument):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, internalErrorMessage
	}
}
