package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagesplit/pagesplit/internal/experiment"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrSubjectBusy = errors.New("subject already has an active experiment")
	// ErrNoChange is returned by an UpdateFunc to skip the write.
	ErrNoChange = errors.New("no change")
)

type SQLiteStore struct {
	db     *sql.DB
	mode   UpsertMode
	logger zerolog.Logger
}

type Option func(*SQLiteStore)

// WithUpsertMode selects the bucket increment strategy. Defaults to UpsertAtomic.
func WithUpsertMode(mode UpsertMode) Option {
	return func(s *SQLiteStore) {
		s.mode = mode
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *SQLiteStore) {
		s.logger = logger
	}
}

const experimentColumns = `id, name, subject_ref, variant_ref, goal_type, goal_target_ref, sample_size,
	status, winning_arm, first_started_at, current_run_started_at, previous_run_duration_ms,
	completion_action, pending_action, pending_since, created_at, updated_at`

// Open opens (or creates) the database at dbPath and applies migrations.
// Every connection gets a busy timeout, WAL journaling, foreign keys, and
// BEGIN IMMEDIATE transactions so that concurrent writers queue.
func Open(dbPath string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{mode: UpsertAtomic, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	switch s.mode {
	case UpsertAtomic, UpsertFallback:
	default:
		return nil, fmt.Errorf("%w: unknown upsert mode %q", experiment.ErrInvalidInput, s.mode)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: would otherwise see its own empty database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := migrate(context.Background(), db, s.logger); err != nil {
		db.Close()
		return nil, err
	}

	s.db = db
	return s, nil
}

func dsn(dbPath string) string {
	params := []string{
		"_pragma=busy_timeout(5000)",
		"_pragma=journal_mode(WAL)",
		"_pragma=foreign_keys(1)",
		"_txlock=immediate",
	}
	return dbPath + "?" + strings.Join(params, "&")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Mode reports the configured upsert strategy.
func (s *SQLiteStore) Mode() UpsertMode {
	return s.mode
}

func (s *SQLiteStore) CreateExperiment(ctx context.Context, e *experiment.Experiment) error {
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = experiment.StatusDraft
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO experiments (`+experimentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, string(e.SubjectRef), string(e.VariantRef), e.Goal.Type, e.Goal.TargetRef, e.SampleSize,
		string(e.Status), nullableArm(e.WinningArm), nullableTime(e.FirstStartedAt), nullableTime(e.CurrentRunStartedAt),
		e.PreviousRunDuration.Milliseconds(), string(e.CompletionAction), string(e.PendingAction), nullableTime(e.PendingSince),
		e.CreatedAt.UnixMilli(), e.UpdatedAt.UnixMilli(),
	)
	if isUniqueViolation(err) {
		return ErrSubjectBusy
	}
	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error) {
	e, err := scanExperiment(s.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return e, nil
}

// GetActiveForSubject returns the experiment on subject that is not yet
// cancelled or completed.
func (s *SQLiteStore) GetActiveForSubject(ctx context.Context, subject experiment.SubjectRef) (*experiment.Experiment, error) {
	e, err := scanExperiment(s.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments
		 WHERE subject_ref = ? AND status NOT IN (?, ?)
		 ORDER BY created_at DESC LIMIT 1`,
		string(subject), string(experiment.StatusCancelled), string(experiment.StatusCompleted),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active experiment: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*experiment.Experiment, error) {
	return s.listExperiments(ctx, `SELECT `+experimentColumns+` FROM experiments ORDER BY created_at DESC, id`)
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status experiment.Status) ([]*experiment.Experiment, error) {
	return s.listExperiments(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE status = ? ORDER BY created_at DESC, id`,
		string(status),
	)
}

func (s *SQLiteStore) listExperiments(ctx context.Context, query string, args ...any) ([]*experiment.Experiment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*experiment.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, e)
	}
	return experiments, rows.Err()
}

// UpdateExperiment loads the experiment, hands it to fn and writes it back,
// all inside one write transaction. Concurrent updates of any experiment
// are serialized, so fn always sees the latest committed state.
func (s *SQLiteStore) UpdateExperiment(ctx context.Context, id string, fn UpdateFunc) (*experiment.Experiment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := scanExperiment(tx.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}

	if err := fn(ctx, txReader{tx: tx}, e); err != nil {
		if errors.Is(err, ErrNoChange) {
			return e, nil
		}
		return nil, err
	}

	e.UpdatedAt = time.Now()
	_, err = tx.ExecContext(ctx,
		`UPDATE experiments SET
			name = ?, status = ?, winning_arm = ?, first_started_at = ?, current_run_started_at = ?,
			previous_run_duration_ms = ?, completion_action = ?, pending_action = ?, pending_since = ?,
			updated_at = ?
		 WHERE id = ?`,
		e.Name, string(e.Status), nullableArm(e.WinningArm), nullableTime(e.FirstStartedAt),
		nullableTime(e.CurrentRunStartedAt), e.PreviousRunDuration.Milliseconds(),
		string(e.CompletionAction), string(e.PendingAction), nullableTime(e.PendingSince),
		e.UpdatedAt.UnixMilli(), e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update experiment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit experiment update: %w", err)
	}
	return e, nil
}

// DeleteExperiment removes the experiment. Its hourly stats go with it
// through ON DELETE CASCADE.
func (s *SQLiteStore) DeleteExperiment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*experiment.Experiment, error) {
	var e experiment.Experiment
	var subject, variant, status, action, pending string
	var winningArm sql.NullString
	var firstStartedAt, currentRunStartedAt, pendingSince sql.NullInt64
	var previousRunMs, createdAt, updatedAt int64

	err := row.Scan(&e.ID, &e.Name, &subject, &variant, &e.Goal.Type, &e.Goal.TargetRef, &e.SampleSize,
		&status, &winningArm, &firstStartedAt, &currentRunStartedAt, &previousRunMs,
		&action, &pending, &pendingSince, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.SubjectRef = experiment.SubjectRef(subject)
	e.VariantRef = experiment.RevisionRef(variant)
	e.Status = experiment.Status(status)
	e.CompletionAction = experiment.CompletionAction(action)
	e.PendingAction = experiment.CompletionAction(pending)
	e.PreviousRunDuration = time.Duration(previousRunMs) * time.Millisecond
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	e.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	if winningArm.Valid {
		arm := experiment.Arm(winningArm.String)
		e.WinningArm = &arm
	}
	e.FirstStartedAt = timeFromNull(firstStartedAt)
	e.CurrentRunStartedAt = timeFromNull(currentRunStartedAt)
	e.PendingSince = timeFromNull(pendingSince)

	return &e, nil
}

func nullableArm(a *experiment.Arm) sql.NullString {
	if a == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*a), Valid: true}
}

func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
