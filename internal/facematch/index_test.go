package facematch

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"
)

func randomUnitVectors(r *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		out[i], _ = Normalize(v)
	}
	return out
}

func TestIndex_FindsExactVector(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	vectors := randomUnitVectors(r, 300, 32)
	keys := make([]string, len(vectors))
	for i := range keys {
		keys[i] = fmt.Sprintf("person-%03d", i)
	}

	idx := NewIndex(keys, vectors)
	if idx.Len() != 300 {
		t.Fatalf("expected 300 indexed vectors, got %d", idx.Len())
	}

	for _, i := range []int{0, 42, 299} {
		got := idx.Candidates(vectors[i], 16)
		if !slices.Contains(got, keys[i]) {
			t.Errorf("expected %s among candidates, got %v", keys[i], got)
		}
	}
}

func TestIndex_KLargerThanSize(t *testing.T) {
	idx := NewIndex([]string{"a", "b"}, [][]float32{{1, 0}, {0, 1}})

	got := idx.Candidates([]float32{1, 0}, 10)
	if len(got) != 2 {
		t.Errorf("expected 2 candidates, got %v", got)
	}
}

func TestIndex_Empty(t *testing.T) {
	idx := NewIndex(nil, nil)
	if got := idx.Candidates([]float32{1, 0}, 3); got != nil {
		t.Errorf("expected no candidates, got %v", got)
	}
}
