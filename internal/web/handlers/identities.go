package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/man-iishkr/RupX/internal/constants"
	"github.com/man-iishkr/RupX/internal/identity"
	"github.com/man-iishkr/RupX/internal/training"
)

// IdentitiesHandler receives trained identity vectors and reports training status.
type IdentitiesHandler struct {
	catalog *identity.Catalog
	trainer *training.Trainer
	logger  *slog.Logger
}

// NewIdentitiesHandler creates a new identities handler
func NewIdentitiesHandler(catalog *identity.Catalog, trainer *training.Trainer, logger *slog.Logger) *IdentitiesHandler {
	return &IdentitiesHandler{catalog: catalog, trainer: trainer, logger: logger}
}

// PublishRequest is the output of the external training pipeline.
type PublishRequest struct {
	Identities      []identity.Vector `json:"identities"`
	ImagesProcessed int               `json:"images_processed"`
}

// Publish installs a new identity version for the project.
func (h *IdentitiesHandler) Publish(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req PublishRequest
	if err := decodeJSON(w, r, constants.MaxTrainingBodySize, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	res, err := h.trainer.Train(r.Context(), training.Request{
		ProjectID:       projectID,
		Vectors:         req.Identities,
		ImagesProcessed: req.ImagesProcessed,
	})
	if err != nil {
		respondEngineError(w, h.logger, "failed to publish identities", err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// Reload picks up a version persisted by another process.
func (h *IdentitiesHandler) Reload(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	store, changed, err := h.catalog.Reload(r.Context(), projectID)
	if err != nil {
		respondEngineError(w, h.logger, "failed to reload identities", err)
		return
	}
	h.logger.Info("identities reloaded", "project", sanitizeForLog(projectID), "version", store.Version(), "changed", changed)
	respondJSON(w, http.StatusOK, map[string]any{
		"project_id":     projectID,
		"version":        store.Version(),
		"num_identities": store.Len(),
		"changed":        changed,
	})
}

// Status reports the current identity version and the latest training run.
func (h *IdentitiesHandler) Status(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	st, err := h.trainer.Status(r.Context(), projectID)
	if err != nil {
		respondEngineError(w, h.logger, "failed to load training status", err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}
