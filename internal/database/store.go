package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/man-iishkr/RupX/internal/attendance"
	"github.com/man-iishkr/RupX/internal/identity"
)

// Store implements Backend on top of database/sql for any Dialect.
type Store struct {
	db      *sql.DB
	dialect Dialect
	loc     *time.Location
	logger  *slog.Logger
}

var _ Backend = (*Store)(nil)

// NewStore wraps an open, migrated database. loc is the time zone of the
// daily attendance boundary.
func NewStore(db *sql.DB, dialect Dialect, loc *time.Location, logger *slog.Logger) *Store {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, dialect: dialect, loc: loc, logger: logger}
}

// DB returns the underlying sql.DB for direct access.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

func (s *Store) q(query string) string { return s.dialect.Rebind(query) }

// SaveIdentities stores a complete identity version in one transaction.
func (s *Store) SaveIdentities(ctx context.Context, projectID string, version uint64, vectors []identity.Vector) error {
	if len(vectors) == 0 {
		return identity.ErrEmptyStore
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		s.q("INSERT INTO identity_versions (project_id, version, dim, identity_count, created_at) VALUES (?, ?, ?, ?, ?)"),
		projectID, int64(version), len(vectors[0].Values), len(vectors), time.Now().UnixMicro())
	if err != nil {
		return fmt.Errorf("inserting identity version %d: %w", version, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		s.q("INSERT INTO identity_vectors (project_id, version, identity_name, embedding) VALUES (?, ?, ?, ?)"))
	if err != nil {
		return fmt.Errorf("preparing vector insert: %w", err)
	}
	defer stmt.Close()

	codec := s.dialect.vectors()
	for _, v := range vectors {
		if _, err := stmt.ExecContext(ctx, projectID, int64(version), v.Name, codec.Value(v.Values)); err != nil {
			return fmt.Errorf("inserting vector %q: %w", v.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing identity version %d: %w", version, err)
	}
	return nil
}

// LatestIdentityVersion returns the newest persisted version number of a
// project, or 0 when it was never trained.
func (s *Store) LatestIdentityVersion(ctx context.Context, projectID string) (uint64, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		s.q("SELECT MAX(version) FROM identity_versions WHERE project_id = ?"),
		projectID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("querying latest identity version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return uint64(version.Int64), nil
}

// LoadLatestIdentities returns the newest persisted version of a project.
func (s *Store) LoadLatestIdentities(ctx context.Context, projectID string) (uint64, []identity.Vector, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		s.q("SELECT version FROM identity_versions WHERE project_id = ? ORDER BY version DESC LIMIT 1"),
		projectID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, identity.ErrNotTrained
	}
	if err != nil {
		return 0, nil, fmt.Errorf("querying latest identity version: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT identity_name, embedding FROM identity_vectors WHERE project_id = ? AND version = ? ORDER BY identity_name"),
		projectID, version)
	if err != nil {
		return 0, nil, fmt.Errorf("querying identity vectors: %w", err)
	}
	defer rows.Close()

	codec := s.dialect.vectors()
	var vectors []identity.Vector
	for rows.Next() {
		var name string
		vec := codec.Scanner()
		if err := rows.Scan(&name, vec); err != nil {
			return 0, nil, fmt.Errorf("scanning identity vector: %w", err)
		}
		vectors = append(vectors, identity.Vector{Name: name, Values: vec.Slice()})
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterating identity vectors: %w", err)
	}
	if len(vectors) == 0 {
		return 0, nil, fmt.Errorf("identity version %d of project %s has no vectors: %w", version, projectID, identity.ErrEmptyStore)
	}
	return uint64(version), vectors, nil
}

// ListTrainedProjects returns every project with at least one persisted version.
func (s *Store) ListTrainedProjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT project_id FROM identity_versions ORDER BY project_id")
	if err != nil {
		return nil, fmt.Errorf("querying trained projects: %w", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning project id: %w", err)
		}
		projects = append(projects, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trained projects: %w", err)
	}
	return projects, nil
}

// MarkIfEligible inserts an attendance record unless one already exists for
// the same window. The unique index decides; a conflict is AlreadyMarked.
// A daily mark is also refused when any record of that day exists, whatever
// mode produced it.
func (s *Store) MarkIfEligible(ctx context.Context, req attendance.MarkRequest) (attendance.MarkResult, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	rec := attendance.NewRecord(req, s.loc)

	insert := s.dialect.InsertIgnore + " attendance_records (project_id, identity_name, session_id, mode, window_key, day, marked_at)"
	args := []any{rec.ProjectID, rec.IdentityName, rec.SessionID, string(rec.Mode), rec.WindowKey, rec.Day, rec.MarkedAt.UnixMicro()}
	var query string
	if rec.Mode == attendance.ModeDaily {
		query = insert + " SELECT ?, ?, ?, ?, ?, ?, ?" + s.dialect.FromDual +
			" WHERE NOT EXISTS (SELECT 1 FROM attendance_records WHERE project_id = ? AND identity_name = ? AND day = ?)" +
			s.dialect.IgnoreSuffix
		args = append(args, rec.ProjectID, rec.IdentityName, rec.Day)
	} else {
		query = insert + " VALUES (?, ?, ?, ?, ?, ?, ?)" + s.dialect.IgnoreSuffix
	}
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return "", fmt.Errorf("inserting attendance record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return attendance.AlreadyMarked, nil
	}
	s.logger.Debug("attendance marked", "project", rec.ProjectID, "identity", rec.IdentityName, "window", rec.WindowKey)
	return attendance.Marked, nil
}

// Today lists identities marked on the day of now, with their first mark.
func (s *Store) Today(ctx context.Context, projectID string, now time.Time) ([]attendance.TodayEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT identity_name, MIN(marked_at) FROM attendance_records WHERE project_id = ? AND day = ? GROUP BY identity_name"),
		projectID, attendance.DayKey(now, s.loc))
	if err != nil {
		return nil, fmt.Errorf("querying today's attendance: %w", err)
	}
	defer rows.Close()

	entries := []attendance.TodayEntry{}
	for rows.Next() {
		var name string
		var micros int64
		if err := rows.Scan(&name, &micros); err != nil {
			return nil, fmt.Errorf("scanning attendance row: %w", err)
		}
		entries = append(entries, attendance.TodayEntry{Name: name, FirstSeen: time.UnixMicro(micros).In(s.loc)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attendance rows: %w", err)
	}
	attendance.SortToday(entries)
	return entries, nil
}

// Summary reports present days per identity over all tracked days.
func (s *Store) Summary(ctx context.Context, projectID string) (attendance.Summary, error) {
	var totalDays int
	err := s.db.QueryRowContext(ctx,
		s.q("SELECT COUNT(DISTINCT day) FROM attendance_records WHERE project_id = ?"), projectID).Scan(&totalDays)
	if err != nil {
		return attendance.Summary{}, fmt.Errorf("counting tracked days: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT identity_name, COUNT(DISTINCT day) FROM attendance_records WHERE project_id = ? GROUP BY identity_name"),
		projectID)
	if err != nil {
		return attendance.Summary{}, fmt.Errorf("querying present days: %w", err)
	}
	defer rows.Close()

	present := make(map[string]int)
	for rows.Next() {
		var name string
		var days int
		if err := rows.Scan(&name, &days); err != nil {
			return attendance.Summary{}, fmt.Errorf("scanning present days: %w", err)
		}
		present[name] = days
	}
	if err := rows.Err(); err != nil {
		return attendance.Summary{}, fmt.Errorf("iterating present days: %w", err)
	}
	return attendance.BuildSummary(projectID, present, totalDays), nil
}

// StartTrainingRun records a running training run and returns its ID.
func (s *Store) StartTrainingRun(ctx context.Context, projectID string, startedAt time.Time) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := s.db.ExecContext(ctx,
		s.q("INSERT INTO training_runs (id, project_id, started_at, status, num_identities, images_processed, version, error) VALUES (?, ?, ?, ?, 0, 0, 0, '')"),
		id, projectID, startedAt.UnixMicro(), string(TrainingRunning))
	if err != nil {
		return "", fmt.Errorf("inserting training run: %w", err)
	}
	return id, nil
}

// FinishTrainingRun stores the outcome of a training run.
func (s *Store) FinishTrainingRun(ctx context.Context, runID string, result TrainingResult) error {
	completed := result.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		s.q("UPDATE training_runs SET completed_at = ?, status = ?, num_identities = ?, images_processed = ?, version = ?, error = ? WHERE id = ?"),
		completed.UnixMicro(), string(result.Status), result.NumIdentities, result.ImagesProcessed, int64(result.Version), result.Error, runID)
	if err != nil {
		return fmt.Errorf("updating training run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("training run %s not found", runID)
	}
	return nil
}

// LatestTrainingRun returns the most recently started run of a project.
func (s *Store) LatestTrainingRun(ctx context.Context, projectID string) (*TrainingRun, error) {
	var (
		run       TrainingRun
		started   int64
		completed sql.NullInt64
		status    string
		version   int64
	)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, project_id, started_at, completed_at, status, num_identities, images_processed, version, error
			FROM training_runs WHERE project_id = ? ORDER BY started_at DESC, id DESC LIMIT 1`),
		projectID).Scan(&run.ID, &run.ProjectID, &started, &completed, &status, &run.NumIdentities, &run.ImagesProcessed, &version, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest training run: %w", err)
	}

	run.StartedAt = time.UnixMicro(started).In(s.loc)
	if completed.Valid {
		t := time.UnixMicro(completed.Int64).In(s.loc)
		run.CompletedAt = &t
	}
	run.Status = TrainingStatus(status)
	run.Version = uint64(version)
	return &run, nil
}
