package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/man-iishkr/RupX/internal/attendance"
	"github.com/man-iishkr/RupX/internal/constants"
	"github.com/man-iishkr/RupX/internal/identity"
	"github.com/man-iishkr/RupX/internal/matcher"
	"github.com/man-iishkr/RupX/internal/metrics"
	"github.com/man-iishkr/RupX/internal/notify"
	"github.com/man-iishkr/RupX/internal/unknown"
)

// Settings are the per-project recognition settings chosen on activation.
type Settings struct {
	Mode attendance.Mode `json:"mode"`
}

// Options configures a Registry. Zero values fall back to defaults.
type Options struct {
	Matcher       *matcher.Matcher
	DefaultMode   attendance.Mode
	Workers       int
	UnknownStreak int
	TrackTTL      time.Duration
	Notifier      notify.Notifier
	NotifyTimeout time.Duration
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	Now           func() time.Time
}

// StartRequest asks for a new session of a project. An empty Mode uses the
// project's activation settings.
type StartRequest struct {
	ProjectID string
	UserID    string
	Mode      attendance.Mode
}

type project struct {
	id       string
	userID   string
	settings Settings
	active   bool

	// session is the project's most recent session, active or not.
	session *Session

	startMu sync.Mutex
}

// ProjectStatus describes a project's activation and current session.
type ProjectStatus struct {
	ProjectID string   `json:"project_id"`
	UserID    string   `json:"user_id,omitempty"`
	Active    bool     `json:"active"`
	Settings  Settings `json:"settings"`
	Session   *Status  `json:"session,omitempty"`
}

// Registry owns the recognition sessions of all projects and guarantees at
// most one active session per project.
type Registry struct {
	catalog *identity.Catalog
	eng     *engine

	mu       sync.Mutex
	projects map[string]*project
	byUser   map[string]string // user id -> active project id
	sessions map[string]*Session
	closed   bool
}

// NewRegistry creates a registry and subscribes it to the catalog so that a
// retrain stops the project's active session.
func NewRegistry(catalog *identity.Catalog, ledger attendance.Ledger, opts Options) *Registry {
	if opts.Matcher == nil {
		opts.Matcher = matcher.Default()
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = attendance.ModeDaily
	}
	if opts.Workers <= 0 {
		opts.Workers = constants.DefaultWorkers
	}
	if opts.TrackTTL == 0 {
		opts.TrackTTL = constants.DefaultTrackTTL
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Registry{
		catalog: catalog,
		eng: &engine{
			matcher:       opts.Matcher,
			ledger:        ledger,
			defaultMode:   opts.DefaultMode,
			tracker:       unknown.New(opts.UnknownStreak).WithClock(opts.Now),
			notifier:      opts.Notifier,
			notifyTimeout: opts.NotifyTimeout,
			metrics:       opts.Metrics,
			logger:        opts.Logger,
			workers:       opts.Workers,
			trackTTL:      opts.TrackTTL,
			now:           opts.Now,
		},
		projects: make(map[string]*project),
		byUser:   make(map[string]string),
		sessions: make(map[string]*Session),
	}
	catalog.OnPublish(r.onPublish)
	return r
}

// Catalog returns the identity catalog the registry starts sessions from.
func (r *Registry) Catalog() *identity.Catalog { return r.catalog }

// Ledger returns the attendance ledger sessions mark into.
func (r *Registry) Ledger() attendance.Ledger { return r.eng.ledger }

// ActivateProject makes projectID the user's active project. A previously
// active project of the same user is deactivated and its session stopped.
func (r *Registry) ActivateProject(userID, projectID string, settings Settings) error {
	userID, projectID = strings.TrimSpace(userID), strings.TrimSpace(projectID)
	if userID == "" || projectID == "" {
		return fmt.Errorf("%w: user id and project id are required", ErrInvalidRequest)
	}
	if settings.Mode != "" {
		mode, err := attendance.ParseMode(string(settings.Mode), "")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		settings.Mode = mode
	}

	var stop []*Session

	r.mu.Lock()
	if prevID, ok := r.byUser[userID]; ok && prevID != projectID {
		if prev := r.projects[prevID]; prev != nil {
			prev.active = false
			if s := prev.session; s != nil {
				stop = append(stop, s)
				delete(r.sessions, s.ID())
			}
		}
	}
	p := r.projectLocked(projectID)
	if p.active && p.userID != userID {
		delete(r.byUser, p.userID)
	}
	p.userID = userID
	p.settings = settings
	p.active = true
	r.byUser[userID] = projectID
	r.mu.Unlock()

	for _, s := range stop {
		s.Stop(ReasonProjectDeactivated)
	}
	r.eng.logger.Info("project activated", "project", projectID, "user", userID)
	return nil
}

// DeactivateProject marks a project inactive and stops its session.
func (r *Registry) DeactivateProject(projectID string) error {
	r.mu.Lock()
	p, ok := r.projects[projectID]
	if !ok || !p.active {
		r.mu.Unlock()
		return fmt.Errorf("project %s: %w", projectID, ErrProjectInactive)
	}
	p.active = false
	if r.byUser[p.userID] == projectID {
		delete(r.byUser, p.userID)
	}
	s := p.session
	if s != nil {
		delete(r.sessions, s.ID())
	}
	r.mu.Unlock()

	if s != nil {
		s.Stop(ReasonProjectDeactivated)
	}
	r.eng.logger.Info("project deactivated", "project", projectID)
	return nil
}

// Start creates a session for an active, trained project. Any active
// session of the project is stopped before the new one becomes active.
// Starts of one project are serialized.
func (r *Registry) Start(ctx context.Context, req StartRequest) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrSessionStopped
	}
	p, ok := r.projects[req.ProjectID]
	if !ok || !p.active {
		r.mu.Unlock()
		return nil, fmt.Errorf("project %s: %w", req.ProjectID, ErrProjectInactive)
	}
	r.mu.Unlock()

	p.startMu.Lock()
	defer p.startMu.Unlock()

	r.mu.Lock()
	userID, settings := p.userID, p.settings
	r.mu.Unlock()
	if req.UserID != "" {
		userID = req.UserID
	}

	mode := req.Mode
	if mode == "" {
		mode = settings.Mode
	}
	if mode == "" {
		mode = r.eng.defaultMode
	}
	if mode != attendance.ModeDaily && mode != attendance.ModeSession {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, mode)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}
	sess := newSession(id.String(), req.ProjectID, userID, mode, r.eng)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		store, err := r.catalog.Current(req.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("starting session for project %s: %w", req.ProjectID, err)
		}

		r.mu.Lock()
		prev := p.session
		r.mu.Unlock()
		if prev != nil && prev.Stop(ReasonSuperseded) {
			oldID, newID := prev.ID(), sess.ID()
			r.eng.goNotify("session_superseded", func(ctx context.Context) error {
				return r.eng.notifier.SessionSuperseded(ctx, req.ProjectID, oldID, newID)
			})
		}

		if err := sess.activate(store); err != nil {
			return nil, err
		}

		r.mu.Lock()
		if !p.active || r.closed {
			r.mu.Unlock()
			sess.Stop(ReasonProjectDeactivated)
			return nil, fmt.Errorf("project %s: %w", req.ProjectID, ErrProjectInactive)
		}
		// A publish that landed between Current and here must not leave
		// the session on a superseded store; its hook has already run.
		if cur, err := r.catalog.Current(req.ProjectID); err == nil && cur.Version() != store.Version() {
			r.mu.Unlock()
			sess.rebind()
			continue
		}
		if prev != nil {
			delete(r.sessions, prev.ID())
		}
		p.session = sess
		r.sessions[sess.ID()] = sess
		r.mu.Unlock()

		r.eng.logger.Info("recognition session started",
			"project", req.ProjectID, "session", sess.ID(), "user", userID,
			"mode", mode, "identities", store.Len(), "version", store.Version())
		sess.SendEvent(Event{Type: EventStarted, Data: sess.Status()})
		return sess, nil
	}
}

// Stop stops the active session of a project.
func (r *Registry) Stop(projectID string) (Status, error) {
	r.mu.Lock()
	p, ok := r.projects[projectID]
	var s *Session
	if ok && p.session != nil && p.session.Active() {
		s = p.session
		delete(r.sessions, s.ID())
	}
	r.mu.Unlock()

	if s == nil {
		return Status{}, fmt.Errorf("project %s: %w", projectID, ErrNoActiveSession)
	}
	s.Stop(ReasonExplicit)
	return s.Status(), nil
}

// active returns the project's active session when it matches sessionID
// (an empty sessionID matches any).
func (r *Registry) active(projectID, sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectID]
	if !ok || p.session == nil {
		return nil, ErrSessionStopped
	}
	if sessionID != "" && p.session.ID() != sessionID {
		return nil, ErrSessionStopped
	}
	return p.session, nil
}

// Route forwards an observation to the active session of its project.
func (r *Registry) Route(ctx context.Context, obs Observation) (FaceResult, error) {
	s, err := r.active(obs.ProjectID, obs.SessionID)
	if err != nil {
		r.eng.metrics.FrameDropped()
		return FaceResult{TrackKey: obs.TrackKey}, err
	}
	return s.Process(ctx, obs)
}

// RouteFrame forwards all faces of one frame to the project's active
// session. The faces' own ProjectID and SessionID are ignored.
func (r *Registry) RouteFrame(ctx context.Context, projectID, sessionID string, faces []Observation) ([]FaceResult, error) {
	s, err := r.active(projectID, sessionID)
	if err != nil {
		r.eng.metrics.FrameDropped()
		return nil, err
	}
	return s.ProcessFrame(ctx, faces)
}

// Status reports a project's activation and its most recent session.
func (r *Registry) Status(projectID string) ProjectStatus {
	r.mu.Lock()
	p, ok := r.projects[projectID]
	if !ok {
		r.mu.Unlock()
		return ProjectStatus{ProjectID: projectID}
	}
	st := ProjectStatus{
		ProjectID: projectID,
		UserID:    p.userID,
		Active:    p.active,
		Settings:  p.settings,
	}
	s := p.session
	r.mu.Unlock()

	if s != nil {
		ss := s.Status()
		st.Session = &ss
	}
	return st
}

// Session looks a session up by id. Stopped sessions remain visible while
// they are their project's most recent session.
func (r *Registry) Session(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		return s, true
	}
	for _, p := range r.projects {
		if p.session != nil && p.session.ID() == sessionID {
			return p.session, true
		}
	}
	return nil, false
}

// ActiveSessions returns the ids of all active sessions, sorted.
func (r *Registry) ActiveSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id, s := range r.sessions {
		if s.Active() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Today returns the identities marked present today.
func (r *Registry) Today(ctx context.Context, projectID string) ([]attendance.TodayEntry, error) {
	return r.eng.ledger.Today(ctx, projectID, r.eng.now())
}

// Summary returns the attendance summary of a project, including trained
// identities that were never marked.
func (r *Registry) Summary(ctx context.Context, projectID string) (attendance.Summary, error) {
	summary, err := r.eng.ledger.Summary(ctx, projectID)
	if err != nil {
		return attendance.Summary{}, err
	}
	store, err := r.catalog.Current(projectID)
	switch {
	case errors.Is(err, identity.ErrNotTrained):
		return summary, nil
	case err != nil:
		return attendance.Summary{}, err
	}
	return summary.WithRoster(store.Names()), nil
}

// Close stops every session and waits for pending notifications.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	var stop []*Session
	for _, p := range r.projects {
		if p.session != nil {
			stop = append(stop, p.session)
		}
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range stop {
		s.Stop(ReasonShutdown)
	}
	r.eng.background.Wait()
}

func (r *Registry) onPublish(_, next *identity.Store) {
	r.mu.Lock()
	p, ok := r.projects[next.ProjectID()]
	var s *Session
	if ok && p.session != nil && p.session.Active() && p.session.StoreVersion() < next.Version() {
		s = p.session
		delete(r.sessions, s.ID())
	}
	r.mu.Unlock()

	if s != nil {
		s.Stop(ReasonRetrained)
		r.eng.logger.Info("session stopped after retrain", "project", next.ProjectID(), "session", s.ID(), "version", next.Version())
	}
}

func (r *Registry) projectLocked(projectID string) *project {
	p, ok := r.projects[projectID]
	if !ok {
		p = &project{id: projectID}
		r.projects[projectID] = p
	}
	return p
}
