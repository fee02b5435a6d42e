// Package attendance decides whether a recognized identity may be marked
// present and keeps the resulting records.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Mode is the temporal window within which an identity is marked at most once.
type Mode string

const (
	ModeDaily   Mode = "daily"
	ModeSession Mode = "session"
)

// ParseMode parses a mode name; an empty string yields def.
func ParseMode(s string, def Mode) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return def, nil
	case ModeDaily:
		return ModeDaily, nil
	case ModeSession:
		return ModeSession, nil
	}
	return "", fmt.Errorf("unknown attendance mode %q (expected daily or session)", s)
}

// MarkResult is the outcome of MarkIfEligible. AlreadyMarked is a normal
// result, not an error.
type MarkResult string

const (
	Marked        MarkResult = "marked"
	AlreadyMarked MarkResult = "already_marked"
)

// ErrInvalidRequest is returned for mark requests missing required fields.
var ErrInvalidRequest = errors.New("invalid mark request")

type MarkRequest struct {
	ProjectID    string
	IdentityName string
	SessionID    string
	Mode         Mode
	At           time.Time
}

func (r MarkRequest) Validate() error {
	switch {
	case r.ProjectID == "":
		return fmt.Errorf("%w: project id is required", ErrInvalidRequest)
	case r.IdentityName == "":
		return fmt.Errorf("%w: identity name is required", ErrInvalidRequest)
	case r.At.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidRequest)
	case r.Mode == ModeSession && r.SessionID == "":
		return fmt.Errorf("%w: session mode requires a session id", ErrInvalidRequest)
	case r.Mode != ModeDaily && r.Mode != ModeSession:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, r.Mode)
	}
	return nil
}

// Record is one persisted attendance mark.
type Record struct {
	ProjectID    string    `json:"project_id"`
	IdentityName string    `json:"identity_name"`
	SessionID    string    `json:"session_id"`
	Mode         Mode      `json:"mode"`
	WindowKey    string    `json:"window_key"`
	Day          string    `json:"day"`
	MarkedAt     time.Time `json:"marked_at"`
}

// NewRecord derives the record a successful mark would store.
func NewRecord(req MarkRequest, loc *time.Location) Record {
	return Record{
		ProjectID:    req.ProjectID,
		IdentityName: req.IdentityName,
		SessionID:    req.SessionID,
		Mode:         req.Mode,
		WindowKey:    WindowKey(req, loc),
		Day:          DayKey(req.At, loc),
		MarkedAt:     req.At,
	}
}

// DayKey returns the calendar day of t in loc as YYYY-MM-DD.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(time.DateOnly)
}

// WindowKey identifies the marking window of a request: "day:YYYY-MM-DD" in
// daily mode, "session:<id>" in session mode. At most one record exists per
// (project, identity, window key), and a daily window is only opened on a day
// without any record of the identity.
func WindowKey(req MarkRequest, loc *time.Location) string {
	if req.Mode == ModeSession {
		return "session:" + req.SessionID
	}
	return "day:" + DayKey(req.At, loc)
}

// TodayEntry is an identity's first mark of the day.
type TodayEntry struct {
	Name      string    `json:"name"`
	FirstSeen time.Time `json:"first_seen"`
}

// IdentityStats is one row of the attendance summary.
type IdentityStats struct {
	Name        string  `json:"name"`
	PresentDays int     `json:"present_days"`
	TotalDays   int     `json:"total_days"`
	Percentage  float64 `json:"percentage"`
}

// Summary reports per-identity attendance over all tracked days of a project.
type Summary struct {
	ProjectID  string          `json:"project_id"`
	TotalDays  int             `json:"total_days"`
	Identities []IdentityStats `json:"identities"`
}

// Ledger records attendance marks. Implementations must make
// MarkIfEligible atomic per (project, identity, window).
type Ledger interface {
	MarkIfEligible(ctx context.Context, req MarkRequest) (MarkResult, error)
	Today(ctx context.Context, projectID string, now time.Time) ([]TodayEntry, error)
	Summary(ctx context.Context, projectID string) (Summary, error)
}

// BuildSummary turns present-day counts into a summary sorted by name.
func BuildSummary(projectID string, presentDays map[string]int, totalDays int) Summary {
	s := Summary{ProjectID: projectID, TotalDays: totalDays, Identities: make([]IdentityStats, 0, len(presentDays))}
	for name, days := range presentDays {
		s.Identities = append(s.Identities, IdentityStats{
			Name:        name,
			PresentDays: days,
			TotalDays:   totalDays,
			Percentage:  percentage(days, totalDays),
		})
	}
	sort.Slice(s.Identities, func(i, j int) bool { return s.Identities[i].Name < s.Identities[j].Name })
	return s
}

// WithRoster adds zero rows for roster identities that were never marked.
func (s Summary) WithRoster(names []string) Summary {
	seen := make(map[string]bool, len(s.Identities))
	for _, st := range s.Identities {
		seen[st.Name] = true
	}
	out := s
	out.Identities = append([]IdentityStats(nil), s.Identities...)
	for _, name := range names {
		if !seen[name] {
			out.Identities = append(out.Identities, IdentityStats{Name: name, TotalDays: s.TotalDays})
			seen[name] = true
		}
	}
	sort.Slice(out.Identities, func(i, j int) bool { return out.Identities[i].Name < out.Identities[j].Name })
	return out
}

// SortToday orders entries by first mark time, then name.
func SortToday(entries []TodayEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].FirstSeen.Equal(entries[j].FirstSeen) {
			return entries[i].FirstSeen.Before(entries[j].FirstSeen)
		}
		return entries[i].Name < entries[j].Name
	})
}

func percentage(present, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(present)/float64(total)*1000) / 10
}
