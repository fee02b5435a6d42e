// Package dbtest holds the behaviour every SQL backend must share, run by
// each backend's own tests against a fresh, migrated store.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/man-iishkr/RupX/internal/attendance"
	"github.com/man-iishkr/RupX/internal/database"
	"github.com/man-iishkr/RupX/internal/identity"
)

// Run executes the backend suite. open must return an empty migrated store
// whose ledger time zone is UTC.
func Run(t *testing.T, open func(t *testing.T) *database.Store) {
	t.Helper()

	t.Run("Identities", func(t *testing.T) { testIdentities(t, open(t)) })
	t.Run("DailyIdempotence", func(t *testing.T) { testDailyIdempotence(t, open(t)) })
	t.Run("DayBoundary", func(t *testing.T) { testDayBoundary(t, open(t)) })
	t.Run("ConcurrentMarks", func(t *testing.T) { testConcurrentMarks(t, open(t)) })
	t.Run("TodayAndSummary", func(t *testing.T) { testTodayAndSummary(t, open(t)) })
	t.Run("TrainingRuns", func(t *testing.T) { testTrainingRuns(t, open(t)) })
	t.Run("VersionsAcrossCatalogs", func(t *testing.T) { testVersionsAcrossCatalogs(t, open(t)) })
	t.Run("DailyAfterSessionMark", func(t *testing.T) { testDailyAfterSessionMark(t, open(t)) })
}

func testIdentities(t *testing.T, s *database.Store) {
	ctx := context.Background()

	if _, _, err := s.LoadLatestIdentities(ctx, "p1"); !errors.Is(err, identity.ErrNotTrained) {
		t.Fatalf("expected ErrNotTrained before training, got %v", err)
	}

	v1 := []identity.Vector{{Name: "alice", Values: []float32{1, 0, 0}}}
	v2 := []identity.Vector{
		{Name: "bob", Values: []float32{0, 1, 0}},
		{Name: "alice", Values: []float32{0.6, 0.8, 0}},
	}
	if err := s.SaveIdentities(ctx, "p1", 1, v1); err != nil {
		t.Fatalf("saving version 1: %v", err)
	}
	if err := s.SaveIdentities(ctx, "p1", 2, v2); err != nil {
		t.Fatalf("saving version 2: %v", err)
	}
	if err := s.SaveIdentities(ctx, "p1", 2, v2); err == nil {
		t.Error("expected duplicate version to fail")
	}
	if err := s.SaveIdentities(ctx, "p2", 1, v1); err != nil {
		t.Fatalf("saving p2: %v", err)
	}

	version, vectors, err := s.LoadLatestIdentities(ctx, "p1")
	if err != nil {
		t.Fatalf("loading identities: %v", err)
	}
	if version != 2 || len(vectors) != 2 {
		t.Fatalf("expected version 2 with 2 vectors, got %d with %d", version, len(vectors))
	}
	if vectors[0].Name != "alice" || len(vectors[0].Values) != 3 {
		t.Errorf("unexpected first vector: %+v", vectors[0])
	}
	if got := vectors[0].Values[1]; got < 0.79 || got > 0.81 {
		t.Errorf("vector values not round-tripped: %v", vectors[0].Values)
	}

	projects, err := s.ListTrainedProjects(ctx)
	if err != nil {
		t.Fatalf("listing projects: %v", err)
	}
	if len(projects) != 2 || projects[0] != "p1" || projects[1] != "p2" {
		t.Errorf("unexpected projects: %v", projects)
	}
}

func markOK(t *testing.T, s *database.Store, req attendance.MarkRequest) attendance.MarkResult {
	t.Helper()
	res, err := s.MarkIfEligible(context.Background(), req)
	if err != nil {
		t.Fatalf("MarkIfEligible: %v", err)
	}
	return res
}

func testDailyIdempotence(t *testing.T, s *database.Store) {
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	req := attendance.MarkRequest{ProjectID: "p1", IdentityName: "alice", SessionID: "s1", Mode: attendance.ModeDaily, At: at}

	if got := markOK(t, s, req); got != attendance.Marked {
		t.Errorf("first mark = %s", got)
	}
	req.At = at.Add(5 * time.Minute)
	if got := markOK(t, s, req); got != attendance.AlreadyMarked {
		t.Errorf("second mark = %s", got)
	}
}

func testDayBoundary(t *testing.T, s *database.Store) {
	late := time.Date(2026, 5, 4, 23, 59, 59, 0, time.UTC)
	early := time.Date(2026, 5, 5, 0, 0, 1, 0, time.UTC)

	daily := attendance.MarkRequest{ProjectID: "p1", IdentityName: "alice", Mode: attendance.ModeDaily, At: late}
	markOK(t, s, daily)
	daily.At = early
	if got := markOK(t, s, daily); got != attendance.Marked {
		t.Errorf("next day = %s, want marked", got)
	}

	session := attendance.MarkRequest{ProjectID: "p1", IdentityName: "bob", SessionID: "s1", Mode: attendance.ModeSession, At: late}
	markOK(t, s, session)
	session.At = early
	if got := markOK(t, s, session); got != attendance.AlreadyMarked {
		t.Errorf("same session = %s, want already_marked", got)
	}
}

func testConcurrentMarks(t *testing.T, s *database.Store) {
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	var marked atomic.Int32
	var wg sync.WaitGroup
	for i := range 24 {
		wg.Go(func() {
			res, err := s.MarkIfEligible(context.Background(), attendance.MarkRequest{
				ProjectID: "p1", IdentityName: fmt.Sprintf("id-%d", i%3), Mode: attendance.ModeDaily, At: at,
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if res == attendance.Marked {
				marked.Add(1)
			}
		})
	}
	wg.Wait()

	if marked.Load() != 3 {
		t.Errorf("expected exactly 3 marks, got %d", marked.Load())
	}
}

func testTodayAndSummary(t *testing.T, s *database.Store) {
	ctx := context.Background()
	d1 := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)

	markOK(t, s, attendance.MarkRequest{ProjectID: "p1", IdentityName: "bob", Mode: attendance.ModeDaily, At: d1})
	markOK(t, s, attendance.MarkRequest{ProjectID: "p1", IdentityName: "bob", Mode: attendance.ModeDaily, At: d2.Add(2 * time.Hour)})
	markOK(t, s, attendance.MarkRequest{ProjectID: "p1", IdentityName: "alice", Mode: attendance.ModeDaily, At: d2.Add(time.Hour)})
	markOK(t, s, attendance.MarkRequest{ProjectID: "p2", IdentityName: "carol", Mode: attendance.ModeDaily, At: d2})

	today, err := s.Today(ctx, "p1", d2.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("Today: %v", err)
	}
	if len(today) != 2 || today[0].Name != "alice" || today[1].Name != "bob" {
		t.Fatalf("unexpected today: %+v", today)
	}
	if !today[0].FirstSeen.Equal(d2.Add(time.Hour)) {
		t.Errorf("unexpected first seen: %v", today[0].FirstSeen)
	}

	summary, err := s.Summary(ctx, "p1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.TotalDays != 2 || len(summary.Identities) != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if a := summary.Identities[0]; a.Name != "alice" || a.PresentDays != 1 || a.Percentage != 50 {
		t.Errorf("unexpected alice row: %+v", a)
	}
	if b := summary.Identities[1]; b.Name != "bob" || b.PresentDays != 2 || b.Percentage != 100 {
		t.Errorf("unexpected bob row: %+v", b)
	}
}

func testTrainingRuns(t *testing.T, s *database.Store) {
	ctx := context.Background()

	run, err := s.LatestTrainingRun(ctx, "p1")
	if err != nil || run != nil {
		t.Fatalf("expected no run, got %+v (%v)", run, err)
	}

	started := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	id, err := s.StartTrainingRun(ctx, "p1", started)
	if err != nil {
		t.Fatalf("StartTrainingRun: %v", err)
	}

	run, err = s.LatestTrainingRun(ctx, "p1")
	if err != nil || run == nil {
		t.Fatalf("expected running run, got %+v (%v)", run, err)
	}
	if run.Status != database.TrainingRunning || run.CompletedAt != nil {
		t.Errorf("unexpected running run: %+v", run)
	}

	err = s.FinishTrainingRun(ctx, id, database.TrainingResult{
		Status:          database.TrainingCompleted,
		NumIdentities:   12,
		ImagesProcessed: 240,
		Version:         3,
		CompletedAt:     started.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("FinishTrainingRun: %v", err)
	}

	run, err = s.LatestTrainingRun(ctx, "p1")
	if err != nil {
		t.Fatalf("LatestTrainingRun: %v", err)
	}
	if run.Status != database.TrainingCompleted || run.NumIdentities != 12 || run.ImagesProcessed != 240 || run.Version != 3 {
		t.Errorf("unexpected finished run: %+v", run)
	}
	if run.CompletedAt == nil || !run.CompletedAt.Equal(started.Add(time.Minute)) {
		t.Errorf("unexpected completion time: %v", run.CompletedAt)
	}

	if err := s.FinishTrainingRun(ctx, "missing", database.TrainingResult{Status: database.TrainingFailed}); err == nil {
		t.Error("expected error for unknown run")
	}
}

// testVersionsAcrossCatalogs publishes from two catalogs sharing one store,
// as the server and the train command do.
func testVersionsAcrossCatalogs(t *testing.T, s *database.Store) {
	ctx := context.Background()

	if v, err := s.LatestIdentityVersion(ctx, "p1"); err != nil || v != 0 {
		t.Fatalf("LatestIdentityVersion before training = %d, %v", v, err)
	}

	server := identity.NewCatalog(s, identity.Options{})
	cli := identity.NewCatalog(s, identity.Options{})
	vectors := []identity.Vector{{Name: "alice", Values: []float32{1, 0}}}

	if st, err := server.Publish(ctx, "p1", vectors); err != nil || st.Version() != 1 {
		t.Fatalf("server publish = %v", err)
	}
	if st, err := cli.Publish(ctx, "p1", vectors); err != nil || st.Version() != 2 {
		t.Fatalf("cli publish = %v", err)
	}
	st, err := server.Publish(ctx, "p1", vectors)
	if err != nil {
		t.Fatalf("server publish after cli: %v", err)
	}
	if st.Version() != 3 {
		t.Errorf("expected version 3, got %d", st.Version())
	}
	if v, err := s.LatestIdentityVersion(ctx, "p1"); err != nil || v != 3 {
		t.Errorf("LatestIdentityVersion = %d, %v", v, err)
	}
}

func testDailyAfterSessionMark(t *testing.T, s *database.Store) {
	morning := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	steps := []struct {
		name string
		req  attendance.MarkRequest
		want attendance.MarkResult
	}{
		{"session mark", attendance.MarkRequest{ProjectID: "p1", IdentityName: "alice", SessionID: "s1", Mode: attendance.ModeSession, At: morning}, attendance.Marked},
		{"daily same day", attendance.MarkRequest{ProjectID: "p1", IdentityName: "alice", SessionID: "s2", Mode: attendance.ModeDaily, At: morning.Add(2 * time.Hour)}, attendance.AlreadyMarked},
		{"daily other identity", attendance.MarkRequest{ProjectID: "p1", IdentityName: "bob", SessionID: "s2", Mode: attendance.ModeDaily, At: morning.Add(2 * time.Hour)}, attendance.Marked},
		{"daily repeated", attendance.MarkRequest{ProjectID: "p1", IdentityName: "bob", SessionID: "s2", Mode: attendance.ModeDaily, At: morning.Add(3 * time.Hour)}, attendance.AlreadyMarked},
		{"daily next day", attendance.MarkRequest{ProjectID: "p1", IdentityName: "alice", SessionID: "s3", Mode: attendance.ModeDaily, At: morning.Add(24 * time.Hour)}, attendance.Marked},
	}
	for _, st := range steps {
		if got := markOK(t, s, st.req); got != st.want {
			t.Errorf("%s: mark = %s, want %s", st.name, got, st.want)
		}
	}

	summary, err := s.Summary(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	for _, id := range summary.Identities {
		if id.Name == "alice" && id.PresentDays != 2 {
			t.Errorf("alice present days = %d, want 2", id.PresentDays)
		}
	}
}
