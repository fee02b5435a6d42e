// Package database persists identity versions, attendance records and
// training runs on a SQL backend.
package database

import (
	"context"
	"time"

	"github.com/man-iishkr/RupX/internal/attendance"
	"github.com/man-iishkr/RupX/internal/identity"
)

type TrainingStatus string

const (
	TrainingRunning   TrainingStatus = "running"
	TrainingCompleted TrainingStatus = "completed"
	TrainingFailed    TrainingStatus = "failed"
)

// TrainingRun is one execution of the training pipeline for a project.
type TrainingRun struct {
	ID              string         `json:"id"`
	ProjectID       string         `json:"project_id"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Status          TrainingStatus `json:"status"`
	NumIdentities   int            `json:"num_identities"`
	ImagesProcessed int            `json:"images_processed"`
	Version         uint64         `json:"version,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// TrainingResult is recorded when a training run ends.
type TrainingResult struct {
	Status          TrainingStatus
	NumIdentities   int
	ImagesProcessed int
	Version         uint64
	Error           string
	CompletedAt     time.Time
}

// TrainingLog records training runs.
type TrainingLog interface {
	StartTrainingRun(ctx context.Context, projectID string, startedAt time.Time) (string, error)
	FinishTrainingRun(ctx context.Context, runID string, result TrainingResult) error
	// LatestTrainingRun returns nil when the project was never trained.
	LatestTrainingRun(ctx context.Context, projectID string) (*TrainingRun, error)
}

// Backend is everything the engine needs from durable storage.
type Backend interface {
	identity.Persister
	attendance.Ledger
	TrainingLog
	Close() error
}
