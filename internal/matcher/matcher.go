// Package matcher resolves a face embedding to a known identity or unknown.
package matcher

import (
	"fmt"
	"math"

	"github.com/man-iishkr/RupX/internal/constants"
	"github.com/man-iishkr/RupX/internal/facematch"
	"github.com/man-iishkr/RupX/internal/identity"
)

type Outcome string

const (
	OutcomeKnown   Outcome = "known"
	OutcomeUnknown Outcome = "unknown"
)

// Result is the classification of one embedding. Name is empty for unknown
// results; Score is the best similarity found either way.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Name    string  `json:"name,omitempty"`
	Score   float64 `json:"score"`
}

func (r Result) Known() bool { return r.Outcome == OutcomeKnown }

func Known(name string, score float64) Result {
	return Result{Outcome: OutcomeKnown, Name: name, Score: score}
}

func Unknown(score float64) Result {
	return Result{Outcome: OutcomeUnknown, Score: score}
}

// Matcher is stateless apart from its thresholds and safe for concurrent use.
type Matcher struct {
	Threshold  float64
	TieEpsilon float64
}

func New(threshold, tieEpsilon float64) *Matcher {
	return &Matcher{Threshold: threshold, TieEpsilon: tieEpsilon}
}

// Default returns a matcher with the default threshold and tie epsilon.
func Default() *Matcher {
	return New(constants.DefaultMatchThreshold, constants.DefaultTieEpsilon)
}

// Match scores embedding against every identity of the store and applies the
// threshold and tie-break.
func (m *Matcher) Match(store *identity.Store, embedding []float32) (Result, error) {
	if store == nil {
		return Result{}, identity.ErrNotTrained
	}
	if store.Len() == 0 {
		return Result{}, identity.ErrEmptyStore
	}
	if err := store.ValidateQuery(embedding); err != nil {
		return Result{}, err
	}
	query, _ := facematch.Normalize(embedding)

	best, second := math.Inf(-1), math.Inf(-1)
	bestName := ""
	for i := range store.Len() {
		name, v := store.At(i)
		score := facematch.Dot(query, v)
		switch {
		case score > best:
			second = best
			best, bestName = score, name
		case score > second:
			second = score
		}
	}

	if bestName == "" {
		return Result{}, fmt.Errorf("matching against store %s/v%d: no identities", store.ProjectID(), store.Version())
	}
	if !math.IsInf(second, -1) && best-second <= m.TieEpsilon {
		return Unknown(best), nil
	}
	if best >= m.Threshold {
		return Known(bestName, best), nil
	}
	return Unknown(best), nil
}
