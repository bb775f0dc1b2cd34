package store

import (
	"context"
	"time"

	"github.com/pagesplit/pagesplit/internal/experiment"
)

// Store defines the interface for experiment storage operations
type Store interface {
	// Experiment operations
	CreateExperiment(ctx context.Context, e *experiment.Experiment) error
	GetExperiment(ctx context.Context, id string) (*experiment.Experiment, error)
	GetActiveForSubject(ctx context.Context, subject experiment.SubjectRef) (*experiment.Experiment, error)
	ListExperiments(ctx context.Context) ([]*experiment.Experiment, error)
	ListByStatus(ctx context.Context, status experiment.Status) ([]*experiment.Experiment, error)
	UpdateExperiment(ctx context.Context, id string, fn UpdateFunc) (*experiment.Experiment, error)
	DeleteExperiment(ctx context.Context, id string) error

	// Hourly stat operations
	RecordEvent(ctx context.Context, experimentID string, arm experiment.Arm, participants, conversions int64, at time.Time) error
	Totals(ctx context.Context, experimentID string, filter StatsFilter) (Totals, error)
	TotalsByArm(ctx context.Context, experimentID string) (map[experiment.Arm]Totals, error)
	HourlyStats(ctx context.Context, experimentID string) ([]HourlyStat, error)

	// Lifecycle
	Close() error
}

// Reader is the read access available inside UpdateExperiment. It sees
// the same transaction as the update.
type Reader interface {
	TotalsByArm(ctx context.Context, experimentID string) (map[experiment.Arm]Totals, error)
}

// UpdateFunc mutates e in place. Returning ErrNoChange leaves the stored
// row untouched; any other error aborts the transaction.
type UpdateFunc func(ctx context.Context, r Reader, e *experiment.Experiment) error
