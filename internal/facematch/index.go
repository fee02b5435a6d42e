package facematch

import (
	"sync"

	"github.com/coder/hnsw"

	"github.com/man-iishkr/RupX/internal/constants"
)

// Index is an approximate nearest-neighbour graph over identity vectors,
// keyed by identity name. Results are approximate; callers rescore them
// exactly.
type Index struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[string]
	size  int
}

// NewIndex builds an HNSW graph from unit vectors keyed by name.
func NewIndex(keys []string, vectors [][]float32) *Index {
	g := hnsw.NewGraph[string]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors)
	g.Distance = hnsw.CosineDistance

	nodes := make([]hnsw.Node[string], 0, len(keys))
	for i, key := range keys {
		if len(vectors[i]) == 0 {
			continue
		}
		nodes = append(nodes, hnsw.MakeNode(key, vectors[i]))
	}
	g.Add(nodes...)

	return &Index{graph: g, size: len(nodes)}
}

// Candidates returns up to k names closest to the query.
func (x *Index) Candidates(query []float32, k int) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil || x.size == 0 {
		return nil
	}
	if k > x.size {
		k = x.size
	}

	neighbors := x.graph.Search(query, k)
	keys := make([]string, len(neighbors))
	for i, n := range neighbors {
		keys[i] = n.Key
	}
	return keys
}

// Len returns the number of indexed vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.size
}
