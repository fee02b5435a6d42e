// Package metrics exposes recognition counters for Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rupx"

type Metrics struct {
	registry *prometheus.Registry

	Matches              *prometheus.CounterVec
	Marks                *prometheus.CounterVec
	FaceErrors           prometheus.Counter
	UnknownNotifications prometheus.Counter
	DroppedFrames        prometheus.Counter
	ActiveSessions       prometheus.Gauge
	FaceLatency          prometheus.Histogram
}

// New creates the collectors on a dedicated registry, alongside the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Faces classified, by outcome.",
		}, []string{"outcome"}),
		Marks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_marks_total",
			Help:      "Attendance mark attempts for known faces, by result.",
		}, []string{"result"}),
		FaceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "face_errors_total",
			Help:      "Faces that failed validation, matching or marking.",
		}),
		UnknownNotifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_notifications_total",
			Help:      "Persistent unknown faces reported.",
		}),
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Frames received for a session that was no longer active.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Recognition sessions currently active.",
		}),
		FaceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "face_processing_seconds",
			Help:      "Time to match and mark one face.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Matches, m.Marks, m.FaceErrors, m.UnknownNotifications, m.DroppedFrames, m.ActiveSessions, m.FaceLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveMatch(outcome string) {
	if m != nil {
		m.Matches.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveMark(result string) {
	if m != nil {
		m.Marks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) FaceFailed() {
	if m != nil {
		m.FaceErrors.Inc()
	}
}

func (m *Metrics) UnknownNotified() {
	if m != nil {
		m.UnknownNotifications.Inc()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.DroppedFrames.Inc()
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) SessionStopped() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}

func (m *Metrics) ObserveFace(d time.Duration) {
	if m != nil {
		m.FaceLatency.Observe(d.Seconds())
	}
}
