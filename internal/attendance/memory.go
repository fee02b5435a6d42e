package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// bucket holds the records of one (project, identity).
type bucket struct {
	mu      sync.Mutex
	windows map[string]struct{}
	days    map[string]struct{}
	records []Record
}

// MemoryLedger keeps records in memory. Marks for the same (project,
// identity) are serialized on that identity's bucket; different identities
// never contend.
type MemoryLedger struct {
	loc     *time.Location
	buckets sync.Map // identityKey -> *bucket
}

func NewMemoryLedger(loc *time.Location) *MemoryLedger {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryLedger{loc: loc}
}

func identityKey(projectID, name string) string {
	return projectID + "\x00" + name
}

func (l *MemoryLedger) bucketFor(projectID, name string) *bucket {
	b, _ := l.buckets.LoadOrStore(identityKey(projectID, name), &bucket{windows: make(map[string]struct{}), days: make(map[string]struct{})})
	return b.(*bucket)
}

func (l *MemoryLedger) MarkIfEligible(ctx context.Context, req MarkRequest) (MarkResult, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rec := NewRecord(req, l.loc)
	b := l.bucketFor(req.ProjectID, req.IdentityName)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.windows[rec.WindowKey]; ok {
		return AlreadyMarked, nil
	}
	// Any record of the day, session-mode ones included, satisfies daily mode.
	if _, ok := b.days[rec.Day]; ok && rec.Mode == ModeDaily {
		return AlreadyMarked, nil
	}
	b.windows[rec.WindowKey] = struct{}{}
	b.days[rec.Day] = struct{}{}
	b.records = append(b.records, rec)
	return Marked, nil
}

func (l *MemoryLedger) project(projectID string) []Record {
	var out []Record
	l.buckets.Range(func(_, v any) bool {
		b := v.(*bucket)
		b.mu.Lock()
		for _, r := range b.records {
			if r.ProjectID == projectID {
				out = append(out, r)
			}
		}
		b.mu.Unlock()
		return true
	})
	return out
}

func (l *MemoryLedger) Today(_ context.Context, projectID string, now time.Time) ([]TodayEntry, error) {
	day := DayKey(now, l.loc)

	first := make(map[string]time.Time)
	for _, r := range l.project(projectID) {
		if r.Day != day {
			continue
		}
		if t, ok := first[r.IdentityName]; !ok || r.MarkedAt.Before(t) {
			first[r.IdentityName] = r.MarkedAt
		}
	}

	entries := make([]TodayEntry, 0, len(first))
	for name, t := range first {
		entries = append(entries, TodayEntry{Name: name, FirstSeen: t})
	}
	SortToday(entries)
	return entries, nil
}

func (l *MemoryLedger) Summary(_ context.Context, projectID string) (Summary, error) {
	days := make(map[string]struct{})
	present := make(map[string]map[string]struct{})
	for _, r := range l.project(projectID) {
		days[r.Day] = struct{}{}
		if present[r.IdentityName] == nil {
			present[r.IdentityName] = make(map[string]struct{})
		}
		present[r.IdentityName][r.Day] = struct{}{}
	}

	counts := make(map[string]int, len(present))
	for name, d := range present {
		counts[name] = len(d)
	}
	return BuildSummary(projectID, counts, len(days)), nil
}

// Records returns a copy of all records of a project ordered by mark time.
func (l *MemoryLedger) Records(projectID string) []Record {
	out := l.project(projectID)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MarkedAt.Before(out[j].MarkedAt) })
	return out
}
