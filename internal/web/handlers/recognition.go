package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/man-iishkr/RupX/internal/attendance"
	"github.com/man-iishkr/RupX/internal/constants"
	"github.com/man-iishkr/RupX/internal/recognition"
)

// RecognitionHandler handles recognition sessions and frame ingestion.
type RecognitionHandler struct {
	registry *recognition.Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewRecognitionHandler creates a new recognition handler. checkOrigin
// decides which browser origins may open the WebSocket.
func NewRecognitionHandler(registry *recognition.Registry, logger *slog.Logger, checkOrigin func(*http.Request) bool) *RecognitionHandler {
	return &RecognitionHandler{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin:     checkOrigin,
		},
	}
}

// StartSessionRequest starts a session; empty fields use the activation settings.
type StartSessionRequest struct {
	UserID string `json:"user_id,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

// FaceInput is one detected face of a frame.
type FaceInput struct {
	Embedding []float32 `json:"embedding"`
	TrackKey  string    `json:"track_key,omitempty"`
}

// FrameRequest carries the faces detected in one video frame.
type FrameRequest struct {
	SessionID string      `json:"session_id"`
	Timestamp *time.Time  `json:"timestamp,omitempty"`
	Faces     []FaceInput `json:"faces"`
}

// FrameResponse holds one result per face, in request order. Dropped is set
// for frames that arrived after their session stopped.
type FrameResponse struct {
	SessionID string                   `json:"session_id"`
	Dropped   bool                     `json:"dropped"`
	Results   []recognition.FaceResult `json:"results"`
}

// Start starts a recognition session, stopping the project's previous one.
func (h *RecognitionHandler) Start(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req StartSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, 1<<16, &req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}

	sess, err := h.registry.Start(r.Context(), recognition.StartRequest{
		ProjectID: projectID,
		UserID:    req.UserID,
		Mode:      attendance.Mode(req.Mode),
	})
	if err != nil {
		respondEngineError(w, h.logger, "failed to start recognition", err)
		return
	}
	respondJSON(w, http.StatusCreated, sess.Status())
}

// Stop stops the project's active session.
func (h *RecognitionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	st, err := h.registry.Stop(projectID)
	if err != nil {
		respondEngineError(w, h.logger, "failed to stop recognition", err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// Status reports project activation and the latest session.
func (h *RecognitionHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.registry.Status(chi.URLParam(r, "projectID")))
}

// Frames processes the faces of one frame.
func (h *RecognitionHandler) Frames(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req FrameRequest
	if err := decodeJSON(w, r, constants.MaxFrameBodySize, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	resp, err := h.processFrame(r.Context(), projectID, req)
	if err != nil {
		respondEngineError(w, h.logger, "failed to process frame", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// processFrame routes a frame to the project's session. A frame for a
// stopped or replaced session is dropped, not failed.
func (h *RecognitionHandler) processFrame(ctx context.Context, projectID string, req FrameRequest) (FrameResponse, error) {
	var at time.Time
	if req.Timestamp != nil {
		at = *req.Timestamp
	}
	faces := make([]recognition.Observation, len(req.Faces))
	for i, f := range req.Faces {
		faces[i] = recognition.Observation{TrackKey: f.TrackKey, Embedding: f.Embedding, At: at}
	}

	results, err := h.registry.RouteFrame(ctx, projectID, req.SessionID, faces)
	if errors.Is(err, recognition.ErrSessionStopped) {
		return FrameResponse{SessionID: req.SessionID, Dropped: true, Results: []recognition.FaceResult{}}, nil
	}
	if err != nil {
		return FrameResponse{}, err
	}
	return FrameResponse{SessionID: req.SessionID, Results: results}, nil
}

// WebSocket ingests frames over a WebSocket, answering each frame message
// with one FrameResponse message.
func (h *RecognitionHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(constants.MaxFrameBodySize)

	for {
		var req FrameRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", "project", sanitizeForLog(projectID), "error", err)
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				_ = conn.WriteJSON(map[string]string{"error": errInvalidRequestBody})
				continue
			}
			return
		}

		resp, err := h.processFrame(r.Context(), projectID, req)
		if err != nil {
			h.logger.Error("failed to process frame", "project", sanitizeForLog(projectID), "error", err)
			if err := conn.WriteJSON(map[string]string{"error": "failed to process frame"}); err != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

// Events streams a session's events over SSE.
func (h *RecognitionHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r, func(id string) SSESource {
		sess, ok := h.registry.Session(id)
		if !ok {
			return nil
		}
		return sess
	})
}
