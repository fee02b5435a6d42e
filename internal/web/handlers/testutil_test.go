package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/man-iishkr/RupX/internal/attendance"
	"github.com/man-iishkr/RupX/internal/database/mock"
	"github.com/man-iishkr/RupX/internal/identity"
	"github.com/man-iishkr/RupX/internal/logging"
	"github.com/man-iishkr/RupX/internal/recognition"
	"github.com/man-iishkr/RupX/internal/training"
)

// testEnv wires handlers to an in-memory backend.
type testEnv struct {
	backend  *mock.MockBackend
	catalog  *identity.Catalog
	registry *recognition.Registry
	trainer  *training.Trainer
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		backend: mock.NewMockBackend(),
		now:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	env.catalog = identity.NewCatalog(env.backend, identity.Options{})
	env.registry = recognition.NewRegistry(env.catalog, env.backend, recognition.Options{
		UnknownStreak: 2,
		Logger:        logging.Discard(),
		Now:           func() time.Time { return env.now },
	})
	env.trainer = training.New(env.catalog, env.backend, nil, training.Options{Dim: 3}, logging.Discard())
	t.Cleanup(env.registry.Close)
	return env
}

// trainAndStart publishes alice and bob for p1, activates it and starts a session.
func (e *testEnv) trainAndStart(t *testing.T) *recognition.Session {
	t.Helper()
	if _, err := e.trainer.Train(context.Background(), training.Request{
		ProjectID: "p1",
		Vectors: []identity.Vector{
			{Name: "alice", Values: []float32{1, 0, 0}},
			{Name: "bob", Values: []float32{0, 1, 0}},
		},
	}); err != nil {
		t.Fatalf("train: %v", err)
	}
	if err := e.registry.ActivateProject("u1", "p1", recognition.Settings{Mode: attendance.ModeDaily}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	sess, err := e.registry.Start(context.Background(), recognition.StartRequest{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return sess
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
