package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveMatch("known")
	m.ObserveMatch("known")
	m.ObserveMatch("unknown")
	m.ObserveMark("marked")
	m.ObserveMark("already_marked")
	m.UnknownNotified()
	m.FaceFailed()
	m.FrameDropped()

	if got := testutil.ToFloat64(m.Matches.WithLabelValues("known")); got != 2 {
		t.Errorf("known matches = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Marks.WithLabelValues("already_marked")); got != 1 {
		t.Errorf("already_marked = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.UnknownNotifications); got != 1 {
		t.Errorf("unknown notifications = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FaceErrors); got != 1 {
		t.Errorf("face errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DroppedFrames); got != 1 {
		t.Errorf("dropped frames = %v, want 1", got)
	}
}

func TestMetrics_SessionGauge(t *testing.T) {
	m := New()
	m.SessionStarted()
	m.SessionStarted()
	m.SessionStopped()

	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveFace(3 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rupx_face_processing_seconds_count 1") {
		t.Errorf("expected histogram in exposition, got:\n%s", rec.Body.String())
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveMatch("known")
	m.ObserveMark("marked")
	m.SessionStarted()
	m.SessionStopped()
	m.ObserveFace(time.Millisecond)
	m.UnknownNotified()
	m.FaceFailed()
	m.FrameDropped()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil metrics handler status = %d, want 404", rec.Code)
	}
}
