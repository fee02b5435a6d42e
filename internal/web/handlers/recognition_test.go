package handlers

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/man-iishkr/RupX/internal/attendance"
	"github.com/man-iishkr/RupX/internal/logging"
	"github.com/man-iishkr/RupX/internal/matcher"
	"github.com/man-iishkr/RupX/internal/recognition"
)

var aliceish = []float32{0.8, 0.3, float32(math.Sqrt(0.27))}

func newRecognitionHandler(env *testEnv) *RecognitionHandler {
	return NewRecognitionHandler(env.registry, logging.Discard(), func(*http.Request) bool { return true })
}

func postFrame(t *testing.T, h *RecognitionHandler, body FrameRequest) FrameResponse {
	t.Helper()
	req := requestWithChiParams(jsonRequest(t, http.MethodPost, "/api/v1/projects/p1/recognition/frames", body), map[string]string{"projectID": "p1"})
	recorder := httptest.NewRecorder()
	h.Frames(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)

	var resp FrameResponse
	parseJSONResponse(t, recorder, &resp)
	return resp
}

func TestRecognitionHandler_Start(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, env *testEnv)
		body       any
		wantStatus int
	}{
		{
			name:       "inactive project",
			setup:      func(t *testing.T, env *testEnv) {},
			wantStatus: http.StatusConflict,
		},
		{
			name: "untrained project",
			setup: func(t *testing.T, env *testEnv) {
				env.registry.ActivateProject("u1", "p1", recognition.Settings{})
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "bad mode",
			setup: func(t *testing.T, env *testEnv) {
				env.trainAndStart(t)
			},
			body:       StartSessionRequest{Mode: "weekly"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "started",
			setup: func(t *testing.T, env *testEnv) {
				env.trainAndStart(t)
			},
			body:       StartSessionRequest{Mode: "session"},
			wantStatus: http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.setup(t, env)
			h := newRecognitionHandler(env)

			var req *http.Request
			if tt.body == nil {
				req = httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/recognition/start", nil)
			} else {
				req = jsonRequest(t, http.MethodPost, "/api/v1/projects/p1/recognition/start", tt.body)
			}
			req = requestWithChiParams(req, map[string]string{"projectID": "p1"})
			recorder := httptest.NewRecorder()
			h.Start(recorder, req)

			assertStatusCode(t, recorder, tt.wantStatus)
			if tt.wantStatus == http.StatusCreated {
				var st recognition.Status
				parseJSONResponse(t, recorder, &st)
				if st.State != recognition.StateActive || st.Mode != attendance.ModeSession || st.IdentityCount != 2 {
					t.Errorf("unexpected status %+v", st)
				}
			}
		})
	}
}

func TestRecognitionHandler_Frames(t *testing.T) {
	env := newTestEnv(t)
	sess := env.trainAndStart(t)
	h := newRecognitionHandler(env)

	ts := env.now
	resp := postFrame(t, h, FrameRequest{
		SessionID: sess.ID(),
		Timestamp: &ts,
		Faces: []FaceInput{
			{Embedding: aliceish, TrackKey: "a"},
			{Embedding: []float32{0, 0, 1}, TrackKey: "x"},
			{Embedding: []float32{1, 0}, TrackKey: "bad"},
		},
	})

	if resp.Dropped || len(resp.Results) != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if r := resp.Results[0]; r.Outcome != matcher.OutcomeKnown || r.Name != "alice" || r.Mark != attendance.Marked {
		t.Errorf("unexpected alice result %+v", r)
	}
	if r := resp.Results[1]; r.Outcome != matcher.OutcomeUnknown || r.Notify {
		t.Errorf("unexpected unknown result %+v", r)
	}
	if r := resp.Results[2]; r.Error == "" {
		t.Errorf("expected dimension error, got %+v", r)
	}

	// Second frame: alice already marked, the unknown face reaches the streak.
	resp = postFrame(t, h, FrameRequest{
		SessionID: sess.ID(),
		Faces: []FaceInput{
			{Embedding: aliceish, TrackKey: "a"},
			{Embedding: []float32{0, 0, 1}, TrackKey: "x"},
		},
	})
	if resp.Results[0].Mark != attendance.AlreadyMarked {
		t.Errorf("expected already marked, got %+v", resp.Results[0])
	}
	if !resp.Results[1].Notify {
		t.Errorf("expected notify on second unknown frame, got %+v", resp.Results[1])
	}
}

func TestRecognitionHandler_LateFramesAreDropped(t *testing.T) {
	env := newTestEnv(t)
	old := env.trainAndStart(t)
	h := newRecognitionHandler(env)

	stopReq := requestWithChiParams(httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/recognition/stop", nil), map[string]string{"projectID": "p1"})
	recorder := httptest.NewRecorder()
	h.Stop(recorder, stopReq)
	assertStatusCode(t, recorder, http.StatusOK)

	resp := postFrame(t, h, FrameRequest{SessionID: old.ID(), Faces: []FaceInput{{Embedding: aliceish}}})
	if !resp.Dropped || len(resp.Results) != 0 {
		t.Errorf("expected dropped frame, got %+v", resp)
	}
	if got := len(env.backend.Records("p1")); got != 0 {
		t.Errorf("expected no marks from a stopped session, got %d", got)
	}

	recorder = httptest.NewRecorder()
	h.Stop(recorder, stopReq)
	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestRecognitionHandler_Status(t *testing.T) {
	env := newTestEnv(t)
	sess := env.trainAndStart(t)
	h := newRecognitionHandler(env)

	postFrame(t, h, FrameRequest{SessionID: sess.ID(), Faces: []FaceInput{{Embedding: aliceish, TrackKey: "a"}}})

	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/recognition/status", nil), map[string]string{"projectID": "p1"})
	recorder := httptest.NewRecorder()
	h.Status(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)

	var st recognition.ProjectStatus
	parseJSONResponse(t, recorder, &st)
	if !st.Active || st.Session == nil || st.Session.SessionID != sess.ID() || st.Session.Marked != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestRecognitionHandler_WebSocket(t *testing.T) {
	env := newTestEnv(t)
	sess := env.trainAndStart(t)
	h := newRecognitionHandler(env)

	r := chi.NewRouter()
	r.Get("/projects/{projectID}/recognition/ws", h.WebSocket)
	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/projects/p1/recognition/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(FrameRequest{SessionID: sess.ID(), Faces: []FaceInput{{Embedding: aliceish, TrackKey: "a"}}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp FrameResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Dropped || len(resp.Results) != 1 || resp.Results[0].Name != "alice" {
		t.Errorf("unexpected response %+v", resp)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errMsg map[string]string
	if err := conn.ReadJSON(&errMsg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if errMsg["error"] != errInvalidRequestBody {
		t.Errorf("expected invalid body error, got %v", errMsg)
	}

	sess.Stop(recognition.ReasonExplicit)
	if err := conn.WriteJSON(FrameRequest{SessionID: sess.ID(), Faces: []FaceInput{{Embedding: aliceish}}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp = FrameResponse{}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !resp.Dropped {
		t.Errorf("expected dropped after stop, got %+v", resp)
	}
}

func TestRecognitionHandler_Events(t *testing.T) {
	env := newTestEnv(t)
	sess := env.trainAndStart(t)
	h := newRecognitionHandler(env)

	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+sess.ID()+"/events", nil), map[string]string{"sessionID": sess.ID()})
	recorder := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Events(recorder, req)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for sess.Listeners() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}
	sess.Stop(recognition.ReasonExplicit)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("event stream did not end after stop")
	}

	body := recorder.Body.String()
	if !strings.HasPrefix(body, "event: status\n") {
		t.Errorf("expected initial status event, got %q", body)
	}
	if !strings.Contains(body, "event: stopped\n") {
		t.Errorf("expected stopped event, got %q", body)
	}
	assertContentType(t, recorder, "text/event-stream")
}

func TestRecognitionHandler_EventsUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	h := newRecognitionHandler(env)

	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/nope/events", nil), map[string]string{"sessionID": "nope"})
	recorder := httptest.NewRecorder()
	h.Events(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "session not found")
}
