// Package handlers provides HTTP handlers for the web API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/man-iishkr/RupX/internal/attendance"
	"github.com/man-iishkr/RupX/internal/identity"
	"github.com/man-iishkr/RupX/internal/recognition"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%s: %w", errInvalidRequestBody, err)
	}
	return nil
}

// statusForError maps engine errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, identity.ErrValidation),
		errors.Is(err, attendance.ErrInvalidRequest),
		errors.Is(err, recognition.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrNotTrained),
		errors.Is(err, identity.ErrEmptyStore),
		errors.Is(err, identity.ErrSuperseded),
		errors.Is(err, recognition.ErrProjectInactive):
		return http.StatusConflict
	case errors.Is(err, recognition.ErrNoActiveSession),
		errors.Is(err, recognition.ErrSessionStopped):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondEngineError classifies err and logs the ones that are not the
// caller's fault.
func respondEngineError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logger.Error(msg, "error", err)
		respondError(w, status, msg)
		return
	}
	respondError(w, status, err.Error())
}

// HealthResponse reports liveness and what the engine currently serves.
type HealthResponse struct {
	Status          string `json:"status"`
	TrainedProjects int    `json:"trained_projects"`
	ActiveSessions  int    `json:"active_sessions"`
}

// HealthCheck returns the health check handler.
func HealthCheck(registry *recognition.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, HealthResponse{
			Status:          "ok",
			TrainedProjects: len(registry.Catalog().Projects()),
			ActiveSessions:  len(registry.ActiveSessions()),
		})
	}
}
