package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/man-iishkr/RupX/internal/attendance"
	"github.com/man-iishkr/RupX/internal/recognition"
)

// ProjectsHandler handles project activation.
type ProjectsHandler struct {
	registry *recognition.Registry
	logger   *slog.Logger
}

// NewProjectsHandler creates a new projects handler
func NewProjectsHandler(registry *recognition.Registry, logger *slog.Logger) *ProjectsHandler {
	return &ProjectsHandler{registry: registry, logger: logger}
}

// ActivateRequest selects the user's active project.
type ActivateRequest struct {
	UserID string `json:"user_id"`
	Mode   string `json:"mode,omitempty"`
}

// Activate marks the project active for a user.
func (h *ProjectsHandler) Activate(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req ActivateRequest
	if err := decodeJSON(w, r, 1<<16, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	settings := recognition.Settings{Mode: attendance.Mode(req.Mode)}
	if err := h.registry.ActivateProject(req.UserID, projectID, settings); err != nil {
		respondEngineError(w, h.logger, "failed to activate project", err)
		return
	}
	respondJSON(w, http.StatusOK, h.registry.Status(projectID))
}

// Deactivate marks the project inactive and stops its session.
func (h *ProjectsHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	if err := h.registry.DeactivateProject(projectID); err != nil {
		respondEngineError(w, h.logger, "failed to deactivate project", err)
		return
	}
	respondJSON(w, http.StatusOK, h.registry.Status(projectID))
}
