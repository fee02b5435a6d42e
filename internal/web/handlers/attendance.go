package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/man-iishkr/RupX/internal/attendance"
	"github.com/man-iishkr/RupX/internal/recognition"
)

// AttendanceHandler serves attendance read models.
type AttendanceHandler struct {
	registry *recognition.Registry
	logger   *slog.Logger
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(registry *recognition.Registry, logger *slog.Logger) *AttendanceHandler {
	return &AttendanceHandler{registry: registry, logger: logger}
}

// TodayResponse lists the identities present today.
type TodayResponse struct {
	ProjectID string                  `json:"project_id"`
	Count     int                     `json:"count"`
	Present   []attendance.TodayEntry `json:"present"`
}

// Today returns the identities marked today in first-seen order.
func (h *AttendanceHandler) Today(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	entries, err := h.registry.Today(r.Context(), projectID)
	if err != nil {
		respondEngineError(w, h.logger, "failed to load attendance", err)
		return
	}
	if entries == nil {
		entries = []attendance.TodayEntry{}
	}
	respondJSON(w, http.StatusOK, TodayResponse{ProjectID: projectID, Count: len(entries), Present: entries})
}

// Summary returns per-identity attendance statistics.
func (h *AttendanceHandler) Summary(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	summary, err := h.registry.Summary(r.Context(), projectID)
	if err != nil {
		respondEngineError(w, h.logger, "failed to load attendance summary", err)
		return
	}
	if summary.Identities == nil {
		summary.Identities = []attendance.IdentityStats{}
	}
	respondJSON(w, http.StatusOK, summary)
}
