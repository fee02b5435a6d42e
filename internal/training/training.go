// Package training publishes a project's identity vectors and records the
// run in the training log.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/man-iishkr/RupX/internal/constants"
	"github.com/man-iishkr/RupX/internal/database"
	"github.com/man-iishkr/RupX/internal/identity"
	"github.com/man-iishkr/RupX/internal/notify"
)

// Request is one batch of identity vectors produced by the training
// pipeline.
type Request struct {
	ProjectID       string
	Vectors         []identity.Vector
	ImagesProcessed int
}

// Result describes a finished training run.
type Result struct {
	RunID         string `json:"run_id,omitempty"`
	ProjectID     string `json:"project_id"`
	Version       uint64 `json:"version"`
	NumIdentities int    `json:"num_identities"`
	// NearDuplicates lists identities similar enough to produce tied,
	// unknown matches.
	NearDuplicates []identity.DuplicatePair `json:"near_duplicates,omitempty"`
}

// Options tune a Trainer.
type Options struct {
	// Dim, when positive, is the embedding length every vector must have.
	Dim int
	// DuplicateSimilarity is the similarity from which identity pairs are
	// reported as near-duplicates. Zero uses the default.
	DuplicateSimilarity float64
	NotifyTimeout       time.Duration
}

type Trainer struct {
	catalog  *identity.Catalog
	log      database.TrainingLog
	notifier notify.Notifier
	logger   *slog.Logger
	opts     Options
	now      func() time.Time

	background sync.WaitGroup
}

// New creates a trainer. log may be nil when runs are not recorded.
func New(catalog *identity.Catalog, log database.TrainingLog, notifier notify.Notifier, opts Options, logger *slog.Logger) *Trainer {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DuplicateSimilarity <= 0 {
		opts.DuplicateSimilarity = constants.DefaultDuplicateSimilarity
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	return &Trainer{
		catalog:  catalog,
		log:      log,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// Wait blocks until pending training notifications are delivered or timed out.
func (t *Trainer) Wait() {
	t.background.Wait()
}

// Train validates and publishes the vectors as the project's next identity
// version. Publishing stops the project's active recognition session. A
// failed run is recorded as failed and leaves the current version in place.
func (t *Trainer) Train(ctx context.Context, req Request) (Result, error) {
	if req.ProjectID == "" {
		return Result{}, &identity.ValidationError{Field: "project_id", Reason: "is required"}
	}

	res := Result{ProjectID: req.ProjectID}
	if t.log != nil {
		runID, err := t.log.StartTrainingRun(ctx, req.ProjectID, t.now())
		if err != nil {
			return Result{}, fmt.Errorf("recording training run: %w", err)
		}
		res.RunID = runID
	}

	store, err := t.publish(ctx, req)
	if err != nil {
		t.finish(ctx, res.RunID, database.TrainingResult{
			Status:          database.TrainingFailed,
			NumIdentities:   len(req.Vectors),
			ImagesProcessed: req.ImagesProcessed,
			Error:           err.Error(),
		})
		return res, err
	}

	res.Version = store.Version()
	res.NumIdentities = store.Len()
	t.finish(ctx, res.RunID, database.TrainingResult{
		Status:          database.TrainingCompleted,
		NumIdentities:   store.Len(),
		ImagesProcessed: req.ImagesProcessed,
		Version:         store.Version(),
	})

	t.logger.Info("identities published", "project", req.ProjectID, "version", store.Version(), "identities", store.Len(), "indexed", store.Indexed())

	res.NearDuplicates = store.NearDuplicates(t.opts.DuplicateSimilarity)
	for _, d := range res.NearDuplicates {
		t.logger.Warn("near-duplicate identities", "project", req.ProjectID, "a", d.A, "b", d.B, "similarity", d.Similarity)
	}

	projectID, n, version := req.ProjectID, store.Len(), store.Version()
	t.background.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.opts.NotifyTimeout)
		defer cancel()
		if err := t.notifier.TrainingCompleted(ctx, projectID, n, version); err != nil {
			t.logger.Warn("training notification failed", "project", projectID, "error", err)
		}
	})
	return res, nil
}

func (t *Trainer) publish(ctx context.Context, req Request) (*identity.Store, error) {
	if t.opts.Dim > 0 {
		for _, v := range req.Vectors {
			if len(v.Values) != t.opts.Dim {
				return nil, &identity.ValidationError{
					Field:  "embedding",
					Reason: fmt.Sprintf("identity %q has dimension %d, expected %d", v.Name, len(v.Values), t.opts.Dim),
				}
			}
		}
	}
	return t.catalog.Publish(ctx, req.ProjectID, req.Vectors)
}

func (t *Trainer) finish(ctx context.Context, runID string, result database.TrainingResult) {
	if t.log == nil || runID == "" {
		return
	}
	result.CompletedAt = t.now()
	// The run outcome is recorded even when the request context is gone.
	ctx = context.WithoutCancel(ctx)
	if err := t.log.FinishTrainingRun(ctx, runID, result); err != nil {
		t.logger.Error("failed to record training run", "run", runID, "error", err)
	}
}

// Status describes what is currently trained for a project.
type Status struct {
	ProjectID     string                `json:"project_id"`
	Trained       bool                  `json:"trained"`
	Version       uint64                `json:"version,omitempty"`
	NumIdentities int                   `json:"num_identities"`
	Indexed       bool                  `json:"indexed"`
	BuiltAt       *time.Time            `json:"built_at,omitempty"`
	LatestRun     *database.TrainingRun `json:"latest_run,omitempty"`
}

// Status reports the current identity version and the latest training run.
func (t *Trainer) Status(ctx context.Context, projectID string) (Status, error) {
	st := Status{ProjectID: projectID}
	store, err := t.catalog.Current(projectID)
	switch {
	case errors.Is(err, identity.ErrNotTrained):
	case err != nil:
		return Status{}, err
	default:
		built := store.BuiltAt()
		st.Trained = true
		st.Version = store.Version()
		st.NumIdentities = store.Len()
		st.Indexed = store.Indexed()
		st.BuiltAt = &built
	}

	if t.log != nil {
		run, err := t.log.LatestTrainingRun(ctx, projectID)
		if err != nil {
			return Status{}, fmt.Errorf("loading latest training run: %w", err)
		}
		st.LatestRun = run
	}
	return st, nil
}
