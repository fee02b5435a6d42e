package identity

import (
	"math"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/man-iishkr/RupX/internal/constants"
	"github.com/man-iishkr/RupX/internal/facematch"
)

// Vector is one identity's reference embedding.
type Vector struct {
	Name   string    `json:"name" yaml:"name"`
	Values []float32 `json:"embedding" yaml:"embedding"`
}

// Options tune store construction.
type Options struct {
	// IndexThreshold is the identity count from which an HNSW index is built
	// for near-duplicate checks. Zero uses the default, a negative value
	// disables the index.
	IndexThreshold int
}

func (o Options) indexThreshold() int {
	if o.IndexThreshold == 0 {
		return constants.HNSWMinIdentities
	}
	return o.IndexThreshold
}

// Store is an immutable, versioned set of normalized identity vectors for
// one project. It is shared read-only by every session bound to it.
type Store struct {
	projectID string
	version   uint64
	dim       int
	builtAt   time.Time

	names   []string
	vectors [][]float32
	byName  map[string]int
	index   *facematch.Index

	refs atomic.Int64
}

// Build validates and normalizes vectors into a new Store. Names are trimmed;
// names folding to the same key via NormalizePersonName are duplicates.
func Build(projectID string, version uint64, vectors []Vector, opts Options) (*Store, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, invalid("project_id", "must not be empty")
	}
	if len(vectors) == 0 {
		return nil, &ValidationError{Field: "identities", Reason: "at least one identity is required", Err: ErrEmptyStore}
	}

	sorted := make([]Vector, len(vectors))
	copy(sorted, vectors)
	for i := range sorted {
		sorted[i].Name = strings.TrimSpace(sorted[i].Name)
	}
	slices.SortFunc(sorted, func(a, b Vector) int { return strings.Compare(a.Name, b.Name) })

	dim := len(sorted[0].Values)
	s := &Store{
		projectID: projectID,
		version:   version,
		dim:       dim,
		builtAt:   time.Now(),
		names:     make([]string, 0, len(sorted)),
		vectors:   make([][]float32, 0, len(sorted)),
		byName:    make(map[string]int, len(sorted)),
	}

	folded := make(map[string]string, len(sorted))
	for _, v := range sorted {
		if v.Name == "" {
			return nil, invalid("name", "identity name must not be empty")
		}
		key := facematch.NormalizePersonName(v.Name)
		if prev, ok := folded[key]; ok {
			return nil, invalid("name", "duplicate identity %q (collides with %q)", v.Name, prev)
		}
		folded[key] = v.Name

		if len(v.Values) == 0 {
			return nil, invalid("embedding", "identity %q has an empty embedding", v.Name)
		}
		if len(v.Values) != dim {
			return nil, invalid("embedding", "identity %q has dimension %d, expected %d", v.Name, len(v.Values), dim)
		}
		unit, ok := facematch.Normalize(v.Values)
		if !ok {
			return nil, invalid("embedding", "identity %q has a zero or non-finite embedding", v.Name)
		}

		s.byName[v.Name] = len(s.names)
		s.names = append(s.names, v.Name)
		s.vectors = append(s.vectors, unit)
	}

	if threshold := opts.indexThreshold(); threshold > 0 && len(s.names) >= threshold {
		s.index = facematch.NewIndex(s.names, s.vectors)
	}

	return s, nil
}

func (s *Store) ProjectID() string { return s.projectID }

func (s *Store) Version() uint64 { return s.version }

// Dim returns the dimensionality shared by all vectors.
func (s *Store) Dim() int { return s.dim }

func (s *Store) Len() int { return len(s.names) }

func (s *Store) BuiltAt() time.Time { return s.builtAt }

// Indexed reports whether the store carries an HNSW neighbour index.
func (s *Store) Indexed() bool { return s.index != nil }

// Names returns identity names in sorted order.
func (s *Store) Names() []string {
	return slices.Clone(s.names)
}

// At returns the name and unit vector at position i. The slice must not be modified.
func (s *Store) At(i int) (string, []float32) {
	return s.names[i], s.vectors[i]
}

// DuplicatePair is two identities whose reference vectors are close enough
// to make matches between them ambiguous.
type DuplicatePair struct {
	A          string  `json:"a"`
	B          string  `json:"b"`
	Similarity float64 `json:"similarity"`
}

// NearDuplicates reports identity pairs with a cosine similarity of at least
// minSimilarity, most similar first. Indexed stores only compare each
// identity with its HNSW neighbours, so the report is approximate there. It
// is a training diagnostic and never takes part in matching.
func (s *Store) NearDuplicates(minSimilarity float64) []DuplicatePair {
	var out []DuplicatePair
	seen := make(map[[2]int]bool)
	check := func(i, j int) {
		if i == j {
			return
		}
		if i > j {
			i, j = j, i
		}
		if seen[[2]int{i, j}] {
			return
		}
		seen[[2]int{i, j}] = true
		if sim := facematch.CosineSimilarity(s.vectors[i], s.vectors[j]); sim >= minSimilarity {
			out = append(out, DuplicatePair{A: s.names[i], B: s.names[j], Similarity: sim})
		}
	}

	for i := range s.names {
		if s.index == nil {
			for j := i + 1; j < len(s.names); j++ {
				check(i, j)
			}
			continue
		}
		for _, key := range s.index.Candidates(s.vectors[i], constants.HNSWDuplicateNeighbors+1) {
			if j, ok := s.byName[key]; ok {
				check(i, j)
			}
		}
	}

	slices.SortFunc(out, func(a, b DuplicatePair) int {
		if a.Similarity != b.Similarity {
			if a.Similarity > b.Similarity {
				return -1
			}
			return 1
		}
		return strings.Compare(a.A+"\x00"+a.B, b.A+"\x00"+b.B)
	})
	return out
}

// Vectors returns a copy of the normalized vectors, ordered by name.
func (s *Store) Vectors() []Vector {
	out := make([]Vector, len(s.names))
	for i, name := range s.names {
		out[i] = Vector{Name: name, Values: slices.Clone(s.vectors[i])}
	}
	return out
}

// Acquire records a session bound to the store.
func (s *Store) Acquire() { s.refs.Add(1) }

// Release drops a session reference and returns the remaining count.
func (s *Store) Release() int64 { return s.refs.Add(-1) }

// Refs returns the number of sessions currently bound to the store.
func (s *Store) Refs() int64 { return s.refs.Load() }

// ValidateQuery checks an incoming embedding against the store dimension.
func (s *Store) ValidateQuery(query []float32) error {
	if len(query) != s.dim {
		return invalid("embedding", "dimension %d, expected %d", len(query), s.dim)
	}
	if n := facematch.Norm(query); math.IsNaN(n) || n == 0 {
		return invalid("embedding", "zero or non-finite embedding")
	}
	return nil
}
