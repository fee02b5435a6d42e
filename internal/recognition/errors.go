package recognition

import "errors"

var (
	// ErrSessionStopped is returned for observations routed to a session
	// that is not active, or to a session id that is no longer current.
	ErrSessionStopped = errors.New("recognition session is not active")

	// ErrProjectInactive is returned when starting a session for a project
	// that has not been activated.
	ErrProjectInactive = errors.New("project is not active")

	// ErrNoActiveSession is returned when stopping or inspecting a project
	// without a session.
	ErrNoActiveSession = errors.New("no recognition session for project")

	// ErrInvalidRequest is returned for malformed activation requests.
	ErrInvalidRequest = errors.New("invalid recognition request")
)
