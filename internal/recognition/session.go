// Package recognition runs recognition sessions: it matches incoming face
// embeddings against a project's identity store, marks attendance and
// tracks persistent unknown faces, with at most one active session per
// project.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/man-iishkr/RupX/internal/attendance"
	"github.com/man-iishkr/RupX/internal/identity"
	"github.com/man-iishkr/RupX/internal/matcher"
	"github.com/man-iishkr/RupX/internal/metrics"
	"github.com/man-iishkr/RupX/internal/notify"
	"github.com/man-iishkr/RupX/internal/unknown"
)

type State string

const (
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopped  State = "stopped"
)

// StopReason records why a session ended.
type StopReason string

const (
	ReasonExplicit           StopReason = "explicit"
	ReasonSuperseded         StopReason = "superseded"
	ReasonProjectDeactivated StopReason = "project_deactivated"
	ReasonRetrained          StopReason = "retrained"
	ReasonShutdown           StopReason = "shutdown"
)

// Observation is one detected face. TrackKey identifies the same physical
// face across frames; At defaults to the current time.
type Observation struct {
	ProjectID string
	SessionID string
	TrackKey  string
	Embedding []float32
	At        time.Time
}

// FaceResult is the outcome of processing one observation.
type FaceResult struct {
	TrackKey string                `json:"track_key,omitempty"`
	Outcome  matcher.Outcome       `json:"outcome,omitempty"`
	Name     string                `json:"name,omitempty"`
	Score    float64               `json:"score"`
	Mark     attendance.MarkResult `json:"mark,omitempty"`
	Notify   bool                  `json:"notify,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// Status is a snapshot of a session.
type Status struct {
	SessionID     string          `json:"session_id"`
	ProjectID     string          `json:"project_id"`
	UserID        string          `json:"user_id"`
	Mode          attendance.Mode `json:"mode"`
	State         State           `json:"state"`
	StopReason    StopReason      `json:"stop_reason,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	StoppedAt     *time.Time      `json:"stopped_at,omitempty"`
	StoreVersion  uint64          `json:"store_version"`
	IdentityCount int             `json:"identity_count"`
	Processed     int64           `json:"processed"`
	Marked        int64           `json:"marked"`
	Notified      int64           `json:"notified"`
	// UnknownTracks counts unknown faces currently followed for notification.
	UnknownTracks int `json:"unknown_tracks"`
}

// engine holds the collaborators shared by all sessions of a registry.
type engine struct {
	matcher       *matcher.Matcher
	ledger        attendance.Ledger
	defaultMode   attendance.Mode
	tracker       *unknown.Tracker
	notifier      notify.Notifier
	notifyTimeout time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger
	workers       int
	trackTTL      time.Duration
	now           func() time.Time

	background sync.WaitGroup
}

// goNotify delivers a notification without blocking recognition.
func (e *engine) goNotify(what string, fn func(ctx context.Context) error) {
	e.background.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.notifyTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			e.logger.Warn("notification failed", "kind", what, "error", err)
		}
	})
}

// Session matches faces of one project against a single identity store
// version. It never switches stores; a retrain stops it.
type Session struct {
	EventBroadcaster

	id        string
	projectID string
	userID    string
	mode      attendance.Mode
	startedAt time.Time
	eng       *engine

	// stateMu is held for reading by in-flight Process calls, so Stop
	// (write lock) waits for them.
	stateMu      sync.RWMutex
	state        State
	reason       StopReason
	stoppedAt    time.Time
	store        *identity.Store
	storeVersion uint64
	identities   int

	processed atomic.Int64
	marked    atomic.Int64
	notified  atomic.Int64
}

func newSession(id, projectID, userID string, mode attendance.Mode, eng *engine) *Session {
	return &Session{
		id:        id,
		projectID: projectID,
		userID:    userID,
		mode:      mode,
		startedAt: eng.now(),
		eng:       eng,
		state:     StateStarting,
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) ProjectID() string     { return s.projectID }
func (s *Session) UserID() string        { return s.userID }
func (s *Session) Mode() attendance.Mode { return s.mode }
func (s *Session) StartedAt() time.Time  { return s.startedAt }
func (s *Session) MarkedCount() int64    { return s.marked.Load() }
func (s *Session) ProcessedCount() int64 { return s.processed.Load() }

func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Session) Active() bool { return s.State() == StateActive }

// StoreVersion returns the identity store version the session matches against.
func (s *Session) StoreVersion() uint64 {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.storeVersion
}

// activate binds the store and makes the session accept observations.
func (s *Session) activate(store *identity.Store) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != StateStarting {
		return fmt.Errorf("session %s: %w", s.id, ErrSessionStopped)
	}
	store.Acquire()
	s.store = store
	s.storeVersion = store.Version()
	s.identities = store.Len()
	s.state = StateActive
	s.eng.metrics.SessionStarted()
	return nil
}

// rebind returns an activated session that was never registered to the
// starting state so it can bind a newer store.
func (s *Session) rebind() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != StateActive {
		return
	}
	s.store.Release()
	s.store = nil
	s.state = StateStarting
	s.eng.metrics.SessionStopped()
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	st := Status{
		SessionID:     s.id,
		ProjectID:     s.projectID,
		UserID:        s.userID,
		Mode:          s.mode,
		State:         s.state,
		StopReason:    s.reason,
		StartedAt:     s.startedAt,
		StoreVersion:  s.storeVersion,
		IdentityCount: s.identities,
		Processed:     s.processed.Load(),
		Marked:        s.marked.Load(),
		Notified:      s.notified.Load(),
		UnknownTracks: s.eng.tracker.Tracked(s.id),
	}
	if !s.stoppedAt.IsZero() {
		stopped := s.stoppedAt
		st.StoppedAt = &stopped
	}
	return st
}

// Process matches one face. Known faces reset their unknown streak and are
// marked; unknown faces extend it and may set Notify.
func (s *Session) Process(ctx context.Context, obs Observation) (FaceResult, error) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.state != StateActive {
		return FaceResult{TrackKey: obs.TrackKey}, ErrSessionStopped
	}

	start := time.Now()
	out := FaceResult{TrackKey: obs.TrackKey}

	res, err := s.eng.matcher.Match(s.store, obs.Embedding)
	if err != nil {
		s.eng.metrics.FaceFailed()
		return out, fmt.Errorf("matching face: %w", err)
	}
	s.processed.Add(1)
	s.eng.metrics.ObserveMatch(string(res.Outcome))
	out.Outcome, out.Name, out.Score = res.Outcome, res.Name, res.Score

	if res.Known() {
		s.eng.tracker.ObserveKnown(s.id, obs.TrackKey)

		at := obs.At
		if at.IsZero() {
			at = s.eng.now()
		}
		mark, err := s.eng.ledger.MarkIfEligible(ctx, attendance.MarkRequest{
			ProjectID:    s.projectID,
			IdentityName: res.Name,
			SessionID:    s.id,
			Mode:         s.mode,
			At:           at,
		})
		if err != nil {
			s.eng.metrics.FaceFailed()
			return out, fmt.Errorf("marking %s: %w", res.Name, err)
		}
		out.Mark = mark
		s.eng.metrics.ObserveMark(string(mark))
		if mark == attendance.Marked {
			s.marked.Add(1)
			s.eng.logger.Info("attendance marked", "project", s.projectID, "session", s.id, "identity", res.Name, "score", res.Score)
		}
	} else if s.eng.tracker.ObserveUnknown(s.id, obs.TrackKey) == unknown.Notify {
		out.Notify = true
		s.notified.Add(1)
		s.eng.metrics.UnknownNotified()
		s.SendEvent(Event{Type: EventUnknown, Message: "Unknown face persisted in view", Data: out})
		projectID, sessionID, trackKey := s.projectID, s.id, obs.TrackKey
		s.eng.goNotify("unknown_face", func(ctx context.Context) error {
			return s.eng.notifier.UnknownFace(ctx, projectID, sessionID, trackKey)
		})
	}

	s.SendEvent(Event{Type: EventResult, Data: out})
	s.eng.metrics.ObserveFace(time.Since(start))
	return out, nil
}

// ProcessFrame processes the faces of one frame in parallel and then
// forgets faces that have left view. A failing face is reported in its
// result and does not affect the others. ErrSessionStopped is returned
// when the session was not active when the frame arrived.
func (s *Session) ProcessFrame(ctx context.Context, faces []Observation) ([]FaceResult, error) {
	if !s.Active() {
		s.eng.metrics.FrameDropped()
		return nil, ErrSessionStopped
	}

	results := make([]FaceResult, len(faces))
	sem := make(chan struct{}, max(s.eng.workers, 1))
	var wg sync.WaitGroup

	for i, face := range faces {
		wg.Go(func() {
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := s.Process(ctx, face)
			if err != nil {
				if !errors.Is(err, ErrSessionStopped) {
					s.eng.logger.Warn("face processing failed", "project", s.projectID, "session", s.id, "track", face.TrackKey, "error", err)
				}
				res.Error = err.Error()
			}
			results[i] = res
		})
	}
	wg.Wait()

	if ttl := s.eng.trackTTL; ttl > 0 {
		s.eng.tracker.Sweep(s.id, ttl)
	}
	return results, nil
}

// Stop ends the session. It waits for in-flight Process calls, so no mark
// can originate from the session once Stop returns. Returns false when the
// session was already stopped.
func (s *Session) Stop(reason StopReason) bool {
	s.stateMu.Lock()
	if s.state == StateStopped {
		s.stateMu.Unlock()
		return false
	}
	wasActive := s.state == StateActive
	s.state = StateStopped
	s.reason = reason
	s.stoppedAt = s.eng.now()
	if s.store != nil {
		s.store.Release()
		s.store = nil
	}
	s.stateMu.Unlock()

	s.eng.tracker.Discard(s.id)
	if wasActive {
		s.eng.metrics.SessionStopped()
	}
	s.eng.logger.Info("recognition session stopped", "project", s.projectID, "session", s.id, "reason", reason, "marked", s.marked.Load())

	s.SendEvent(Event{Type: EventStopped, Message: string(reason), Data: s.Status()})
	s.CloseListeners()
	return true
}
