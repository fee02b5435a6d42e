package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/man-iishkr/RupX/internal/recognition"
)

// SSESource is a session event stream.
type SSESource interface {
	AddListener() chan recognition.Event
	RemoveListener(ch chan recognition.Event)
	Status() recognition.Status
}

// setupSSEConnection validates the request, finds the session, and sets up SSE headers.
// Returns the source, flusher, and true on success. On failure, writes an error response and returns zero values with false.
func setupSSEConnection(w http.ResponseWriter, r *http.Request, lookup func(string) SSESource) (SSESource, http.Flusher, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing session ID")
		return nil, nil, false
	}

	src := lookup(sessionID)
	if src == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return nil, nil, false
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return src, flusher, true
}

// streamSSEEvents streams events of a session until it stops, the client
// disconnects, or the event channel closes. The first event is the
// session status.
func streamSSEEvents(w http.ResponseWriter, r *http.Request, lookup func(string) SSESource) {
	src, flusher, ok := setupSSEConnection(w, r, lookup)
	if !ok {
		return
	}

	eventCh := src.AddListener()
	defer src.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "status", src.Status())

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if event.Type == recognition.EventStopped {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
