package recognition

import (
	"context"
	"errors"
	"testing"

	"github.com/man-iishkr/RupX/internal/attendance"
	"github.com/man-iishkr/RupX/internal/matcher"
)

func TestSession_UnknownNotifiesOnce(t *testing.T) {
	f := newFixture(t, 3)
	f.train(t, "p1", alice, bob)
	f.registry.ActivateProject("u1", "p1", Settings{})
	s := f.start(t, "p1", "")

	var notified []bool
	for range 5 {
		res, err := s.Process(context.Background(), Observation{TrackKey: "face-7", Embedding: stranger})
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if res.Outcome != matcher.OutcomeUnknown || res.Mark != "" {
			t.Fatalf("expected unmarked unknown, got %+v", res)
		}
		notified = append(notified, res.Notify)
	}

	want := []bool{false, false, true, false, false}
	for i := range want {
		if notified[i] != want[i] {
			t.Errorf("call %d: expected notify=%v, got %v", i+1, want[i], notified[i])
		}
	}

	// A known match on the same track resets the streak.
	if _, err := s.Process(context.Background(), Observation{TrackKey: "face-7", Embedding: aliceish}); err != nil {
		t.Fatalf("process: %v", err)
	}
	for i := range 3 {
		res, _ := s.Process(context.Background(), Observation{TrackKey: "face-7", Embedding: stranger})
		if got := res.Notify; got != (i == 2) {
			t.Errorf("after reset, call %d: notify=%v", i+1, got)
		}
	}

	f.registry.Close()
	if len(f.notifier.unknown) != 2 {
		t.Errorf("expected 2 unknown notifications, got %v", f.notifier.unknown)
	}
	if got := f.registry.eng.tracker.Tracked(s.ID()); got != 0 {
		t.Errorf("expected tracker state discarded on stop, got %d tracks", got)
	}
}

func TestSession_SimultaneousUnknownFacesAreIndependent(t *testing.T) {
	f := newFixture(t, 2)
	f.train(t, "p1", alice)
	f.registry.ActivateProject("u1", "p1", Settings{})
	s := f.start(t, "p1", "")

	frame := []Observation{
		{TrackKey: "a", Embedding: stranger},
		{TrackKey: "b", Embedding: stranger},
	}
	for range 2 {
		if _, err := s.ProcessFrame(context.Background(), frame); err != nil {
			t.Fatalf("frame: %v", err)
		}
	}

	st := s.Status()
	if st.Notified != 2 {
		t.Errorf("expected both tracks to notify, got %d", st.Notified)
	}
	if st.UnknownTracks != 2 {
		t.Errorf("expected 2 unknown tracks, got %d", st.UnknownTracks)
	}
}

func TestSession_ProcessFrameIsolatesFailures(t *testing.T) {
	f := newFixture(t, 10)
	f.train(t, "p1", alice, bob)
	f.registry.ActivateProject("u1", "p1", Settings{})
	s := f.start(t, "p1", "")

	results, err := f.registry.RouteFrame(context.Background(), "p1", s.ID(), []Observation{
		{TrackKey: "good", Embedding: aliceish},
		{TrackKey: "short", Embedding: []float32{1, 0}},
		{TrackKey: "zero", Embedding: []float32{0, 0, 0}},
		{TrackKey: "bob", Embedding: []float32{0, 1, 0}},
	})
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	tests := []struct {
		idx     int
		name    string
		wantErr bool
	}{
		{0, "alice", false},
		{1, "", true},
		{2, "", true},
		{3, "bob", false},
	}
	for _, tt := range tests {
		res := results[tt.idx]
		if (res.Error != "") != tt.wantErr {
			t.Errorf("face %s: unexpected error state %q", res.TrackKey, res.Error)
		}
		if res.Name != tt.name {
			t.Errorf("face %s: expected %q, got %q", res.TrackKey, tt.name, res.Name)
		}
	}
	if got := len(f.ledger.Records("p1")); got != 2 {
		t.Errorf("expected 2 marks, got %d", got)
	}
}

func TestSession_LedgerFailureIsReported(t *testing.T) {
	f := newFixture(t, 10)
	f.train(t, "p1", alice)
	f.registry.eng.ledger = failingLedger{f.ledger}
	f.registry.ActivateProject("u1", "p1", Settings{})
	s := f.start(t, "p1", "")

	res, err := s.Process(context.Background(), Observation{TrackKey: "t", Embedding: aliceish})
	if err == nil {
		t.Fatal("expected ledger error")
	}
	if res.Name != "alice" || res.Mark != "" {
		t.Errorf("expected match without mark, got %+v", res)
	}
	if s.MarkedCount() != 0 {
		t.Errorf("expected no marks counted")
	}
}

type failingLedger struct {
	attendance.Ledger
}

func (failingLedger) MarkIfEligible(context.Context, attendance.MarkRequest) (attendance.MarkResult, error) {
	return "", errors.New("database is locked")
}

func TestSession_StopEmitsStoppedAndClosesListeners(t *testing.T) {
	f := newFixture(t, 10)
	f.train(t, "p1", alice)
	f.registry.ActivateProject("u1", "p1", Settings{})
	s := f.start(t, "p1", "")

	ch := s.AddListener()
	if _, err := s.Process(context.Background(), Observation{TrackKey: "t", Embedding: aliceish}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !s.Stop(ReasonExplicit) {
		t.Fatal("expected first stop to succeed")
	}
	if s.Stop(ReasonExplicit) {
		t.Error("expected second stop to be a no-op")
	}

	var types []string
	for ev := range ch {
		types = append(types, ev.Type)
	}
	if len(types) != 2 || types[0] != EventResult || types[1] != EventStopped {
		t.Errorf("unexpected events %v", types)
	}

	if _, open := <-s.AddListener(); open {
		t.Error("expected listeners added after stop to be closed")
	}
	if s.Listeners() != 0 {
		t.Errorf("expected no listeners, got %d", s.Listeners())
	}
	if _, err := s.ProcessFrame(context.Background(), []Observation{{Embedding: aliceish}}); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("expected ErrSessionStopped, got %v", err)
	}
}

func TestEventBroadcaster(t *testing.T) {
	var b EventBroadcaster
	a := b.AddListener()
	c := b.AddListener()

	b.SendEvent(Event{Type: "x"})
	b.RemoveListener(a)

	if ev := <-a; ev.Type != "x" {
		t.Errorf("expected buffered event before close, got %+v", ev)
	}
	if _, open := <-a; open {
		t.Error("expected removed listener to be closed")
	}

	b.RemoveListener(a)
	b.SendEvent(Event{Type: "y"})
	if got := len(c); got != 2 {
		t.Errorf("expected 2 buffered events, got %d", got)
	}
	if b.Listeners() != 1 {
		t.Errorf("expected 1 listener, got %d", b.Listeners())
	}
}
