// Package unknown tracks faces that keep failing to match so a caller can be
// notified once per continuous appearance. Nothing here is persisted.
package unknown

import (
	"sync"
	"time"

	"github.com/man-iishkr/RupX/internal/constants"
)

type Verdict int

const (
	Silent Verdict = iota
	Notify
)

func (v Verdict) String() string {
	if v == Notify {
		return "notify"
	}
	return "silent"
}

type streak struct {
	count    int
	notified bool
	lastSeen time.Time
}

// shard holds the streaks of one session.
type shard struct {
	mu      sync.Mutex
	streaks map[string]*streak
}

// Tracker counts consecutive unknown observations per (session, track key).
type Tracker struct {
	threshold int
	now       func() time.Time

	mu     sync.RWMutex
	shards map[string]*shard
}

// New creates a tracker that notifies once a streak reaches threshold.
// A non-positive threshold uses the default.
func New(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = constants.DefaultUnknownStreak
	}
	return &Tracker{threshold: threshold, now: time.Now, shards: make(map[string]*shard)}
}

// WithClock replaces the time source. Intended for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) Threshold() int { return t.threshold }

func (t *Tracker) shard(sessionID string, create bool) *shard {
	t.mu.RLock()
	s, ok := t.shards[sessionID]
	t.mu.RUnlock()
	if ok || !create {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.shards[sessionID]; !ok {
		s = &shard{streaks: make(map[string]*streak)}
		t.shards[sessionID] = s
	}
	return s
}

// ObserveUnknown records one unknown observation and returns Notify exactly
// once, when the streak reaches the threshold. Empty track keys are ignored.
func (t *Tracker) ObserveUnknown(sessionID, trackKey string) Verdict {
	if trackKey == "" {
		return Silent
	}
	s := t.shard(sessionID, true)

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streaks[trackKey]
	if !ok {
		st = &streak{}
		s.streaks[trackKey] = st
	}
	st.count++
	st.lastSeen = t.now()
	if !st.notified && st.count >= t.threshold {
		st.notified = true
		return Notify
	}
	return Silent
}

// ObserveKnown resets the streak of a track that matched an identity.
func (t *Tracker) ObserveKnown(sessionID, trackKey string) {
	if trackKey == "" {
		return
	}
	s := t.shard(sessionID, false)
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.streaks, trackKey)
	s.mu.Unlock()
}

// Sweep forgets tracks of a session not seen for maxIdle and returns how
// many were dropped.
func (t *Tracker) Sweep(sessionID string, maxIdle time.Duration) int {
	s := t.shard(sessionID, false)
	if s == nil {
		return 0
	}
	cutoff := t.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for key, st := range s.streaks {
		if st.lastSeen.Before(cutoff) {
			delete(s.streaks, key)
			dropped++
		}
	}
	return dropped
}

// Discard drops all state of a session.
func (t *Tracker) Discard(sessionID string) {
	t.mu.Lock()
	delete(t.shards, sessionID)
	t.mu.Unlock()
}

// Streak returns the current count of a track, 0 when untracked.
func (t *Tracker) Streak(sessionID, trackKey string) int {
	s := t.shard(sessionID, false)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streaks[trackKey]; ok {
		return st.count
	}
	return 0
}

// Tracked returns the number of live tracks of a session.
func (t *Tracker) Tracked(sessionID string) int {
	s := t.shard(sessionID, false)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streaks)
}
