package matcher

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/man-iishkr/RupX/internal/identity"
)

func buildStore(t *testing.T, vectors ...identity.Vector) *identity.Store {
	t.Helper()
	s, err := identity.Build("p1", 1, vectors, identity.Options{})
	if err != nil {
		t.Fatalf("building store: %v", err)
	}
	return s
}

func aliceAndBob(t *testing.T) *identity.Store {
	return buildStore(t,
		identity.Vector{Name: "alice", Values: []float32{1, 0, 0}},
		identity.Vector{Name: "bob", Values: []float32{0, 1, 0}},
	)
}

func TestMatch(t *testing.T) {
	store := aliceAndBob(t)
	m := New(0.6, 1e-6)

	tests := []struct {
		name      string
		embedding []float32
		outcome   Outcome
		who       string
		score     float64
	}{
		{"alice above threshold", []float32{0.8, 0.3, float32(math.Sqrt(0.27))}, OutcomeKnown, "alice", 0.8},
		{"unnormalized query", []float32{8, 3, float32(10 * math.Sqrt(0.27))}, OutcomeKnown, "alice", 0.8},
		{"bob exact", []float32{0, 1, 0}, OutcomeKnown, "bob", 1},
		{"below threshold", []float32{0.5, 0.1, float32(math.Sqrt(0.74))}, OutcomeUnknown, "", 0.5},
		{"tie", []float32{1, 1, 0}, OutcomeUnknown, "", math.Sqrt(0.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Match(store, tt.embedding)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Outcome != tt.outcome || got.Name != tt.who {
				t.Errorf("Match = %+v, want %s %q", got, tt.outcome, tt.who)
			}
			if math.Abs(got.Score-tt.score) > 1e-4 {
				t.Errorf("score = %v, want %v", got.Score, tt.score)
			}
		})
	}
}

func TestMatch_ThresholdIsInclusive(t *testing.T) {
	store := aliceAndBob(t)
	query := []float32{0.8, 0.3, float32(math.Sqrt(0.27))}

	first, err := New(0, 1e-6).Match(store, query)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := New(first.Score, 1e-6).Match(store, query)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Known() {
		t.Errorf("expected score equal to threshold to be known, got %+v", got)
	}
}

func TestMatch_Errors(t *testing.T) {
	m := Default()
	store := aliceAndBob(t)

	if _, err := m.Match(nil, []float32{1, 0, 0}); !errors.Is(err, identity.ErrNotTrained) {
		t.Errorf("nil store: expected ErrNotTrained, got %v", err)
	}
	if _, err := m.Match(&identity.Store{}, []float32{1, 0, 0}); !errors.Is(err, identity.ErrEmptyStore) {
		t.Errorf("empty store: expected ErrEmptyStore, got %v", err)
	}

	for _, q := range [][]float32{{1, 0}, {0, 0, 0}, {float32(math.NaN()), 0, 0}, nil} {
		t.Run(fmt.Sprint(q), func(t *testing.T) {
			_, err := m.Match(store, q)
			var ve *identity.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected *identity.ValidationError, got %v", err)
			}
		})
	}
}

func TestMatch_SingleIdentityNeverTies(t *testing.T) {
	store := buildStore(t, identity.Vector{Name: "alice", Values: []float32{1, 0}})

	got, err := Default().Match(store, []float32{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Known() || got.Name != "alice" {
		t.Errorf("expected alice, got %+v", got)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	store := aliceAndBob(t)
	m := Default()
	query := []float32{0.7, 0.2, 0.1}

	want, err := m.Match(store, query)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			got, err := m.Match(store, query)
			if err != nil || got != want {
				t.Errorf("Match = %+v, %v; want %+v", got, err, want)
			}
		})
	}
	wg.Wait()
}

func TestMatch_IndexedStoreScoresEveryIdentity(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	const n, dim = 400, 512

	vectors := make([]identity.Vector, n)
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		vectors[i] = identity.Vector{Name: fmt.Sprintf("person-%03d", i), Values: v}
	}

	indexed, err := identity.Build("p1", 1, vectors, identity.Options{IndexThreshold: 256})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !indexed.Indexed() {
		t.Fatal("expected indexed store")
	}
	flat, err := identity.Build("p1", 1, vectors, identity.Options{IndexThreshold: -1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := Default()
	known := 0
	for q := range 200 {
		// An enrolled face seen again with noise, similarity around 0.78.
		src := vectors[r.IntN(n)]
		query := make([]float32, dim)
		for j := range query {
			query[j] = src.Values[j] + 0.8*float32(r.NormFloat64())
		}

		got, err := m.Match(indexed, query)
		if err != nil {
			t.Fatalf("query %d: unexpected error: %v", q, err)
		}
		want, err := m.Match(flat, query)
		if err != nil {
			t.Fatalf("query %d: unexpected error: %v", q, err)
		}
		if got != want {
			t.Fatalf("query %d: indexed=%+v exhaustive=%+v", q, got, want)
		}
		if got.Known() && got.Name == src.Name {
			known++
		}
	}
	if known != 200 {
		t.Errorf("expected every noisy query to match its identity, got %d/200", known)
	}
}
