// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/man-iishkr/RupX/internal/attendance"
	"github.com/man-iishkr/RupX/internal/database"
	"github.com/man-iishkr/RupX/internal/identity"
)

// MockBackend is an in-memory database.Backend with error injection.
type MockBackend struct {
	*attendance.MemoryLedger

	mu         sync.RWMutex
	identities map[string]map[uint64][]identity.Vector
	runs       map[string]*database.TrainingRun
	runOrder   []string
	closed     bool

	// Error injection
	SaveError    error
	LoadError    error
	ListError    error
	MarkError    error
	TodayError   error
	SummaryError error
	TrainingErr  error
}

// NewMockBackend creates a new mock backend with a UTC ledger
func NewMockBackend() *MockBackend {
	return &MockBackend{
		MemoryLedger: attendance.NewMemoryLedger(time.UTC),
		identities:   make(map[string]map[uint64][]identity.Vector),
		runs:         make(map[string]*database.TrainingRun),
	}
}

var _ database.Backend = (*MockBackend)(nil)

// SaveIdentities stores a version in memory
func (m *MockBackend) SaveIdentities(ctx context.Context, projectID string, version uint64, vectors []identity.Vector) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identities[projectID] == nil {
		m.identities[projectID] = make(map[uint64][]identity.Vector)
	}
	if _, ok := m.identities[projectID][version]; ok {
		return fmt.Errorf("identity version %d of project %s already exists", version, projectID)
	}
	m.identities[projectID][version] = append([]identity.Vector(nil), vectors...)
	return nil
}

// LoadLatestIdentities returns the highest stored version
func (m *MockBackend) LoadLatestIdentities(ctx context.Context, projectID string) (uint64, []identity.Vector, error) {
	if m.LoadError != nil {
		return 0, nil, m.LoadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest uint64
	for v := range m.identities[projectID] {
		latest = max(latest, v)
	}
	if latest == 0 {
		return 0, nil, identity.ErrNotTrained
	}
	return latest, m.identities[projectID][latest], nil
}

// LatestIdentityVersion returns the highest stored version number, 0 if none
func (m *MockBackend) LatestIdentityVersion(ctx context.Context, projectID string) (uint64, error) {
	if m.LoadError != nil {
		return 0, m.LoadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest uint64
	for v := range m.identities[projectID] {
		latest = max(latest, v)
	}
	return latest, nil
}

// ListTrainedProjects returns all projects with a stored version
func (m *MockBackend) ListTrainedProjects(ctx context.Context) ([]string, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.identities))
	for id := range m.identities {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// MarkIfEligible delegates to the in-memory ledger
func (m *MockBackend) MarkIfEligible(ctx context.Context, req attendance.MarkRequest) (attendance.MarkResult, error) {
	if m.MarkError != nil {
		return "", m.MarkError
	}
	return m.MemoryLedger.MarkIfEligible(ctx, req)
}

// Today delegates to the in-memory ledger
func (m *MockBackend) Today(ctx context.Context, projectID string, now time.Time) ([]attendance.TodayEntry, error) {
	if m.TodayError != nil {
		return nil, m.TodayError
	}
	return m.MemoryLedger.Today(ctx, projectID, now)
}

// Summary delegates to the in-memory ledger
func (m *MockBackend) Summary(ctx context.Context, projectID string) (attendance.Summary, error) {
	if m.SummaryError != nil {
		return attendance.Summary{}, m.SummaryError
	}
	return m.MemoryLedger.Summary(ctx, projectID)
}

// StartTrainingRun records a running run
func (m *MockBackend) StartTrainingRun(ctx context.Context, projectID string, startedAt time.Time) (string, error) {
	if m.TrainingErr != nil {
		return "", m.TrainingErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("run-%d", len(m.runOrder)+1)
	m.runs[id] = &database.TrainingRun{ID: id, ProjectID: projectID, StartedAt: startedAt, Status: database.TrainingRunning}
	m.runOrder = append(m.runOrder, id)
	return id, nil
}

// FinishTrainingRun records the outcome of a run
func (m *MockBackend) FinishTrainingRun(ctx context.Context, runID string, result database.TrainingResult) error {
	if m.TrainingErr != nil {
		return m.TrainingErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("training run %s not found", runID)
	}
	completed := result.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	run.CompletedAt = &completed
	run.Status = result.Status
	run.NumIdentities = result.NumIdentities
	run.ImagesProcessed = result.ImagesProcessed
	run.Version = result.Version
	run.Error = result.Error
	return nil
}

// LatestTrainingRun returns the most recently started run of a project
func (m *MockBackend) LatestTrainingRun(ctx context.Context, projectID string) (*database.TrainingRun, error) {
	if m.TrainingErr != nil {
		return nil, m.TrainingErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.runOrder) - 1; i >= 0; i-- {
		if run := m.runs[m.runOrder[i]]; run.ProjectID == projectID {
			cp := *run
			return &cp, nil
		}
	}
	return nil, nil
}

// Close marks the backend closed
func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called
func (m *MockBackend) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
