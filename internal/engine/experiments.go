package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/pagesplit/pagesplit/internal/experiment"
	"github.com/pagesplit/pagesplit/internal/goals"
)

// CreateExperiment validates in and stores a new draft experiment.
// It fails with store.ErrSubjectBusy when the subject already has an
// experiment that is not cancelled or completed.
func (e *Engine) CreateExperiment(ctx context.Context, in experiment.NewExperiment) (*experiment.Experiment, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := goals.Check(e.goals, in.Goal); err != nil {
		return nil, err
	}

	x := &experiment.Experiment{
		ID:         uuid.NewString(),
		Name:       in.Name,
		SubjectRef: experiment.SubjectRef(in.SubjectRef),
		VariantRef: experiment.RevisionRef(in.VariantRef),
		Goal:       in.Goal,
		SampleSize: in.SampleSize,
		Status:     experiment.StatusDraft,
		CreatedAt:  e.now(),
	}
	if err := e.store.CreateExperiment(ctx, x); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("experiment_id", x.ID).
		Str("subject", string(x.SubjectRef)).
		Int64("sample_size", x.SampleSize).
		Msg("experiment created")
	return x, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*experiment.Experiment, error) {
	return e.store.GetExperiment(ctx, id)
}

// List returns experiments newest first. An empty status lists all.
func (e *Engine) List(ctx context.Context, status experiment.Status) ([]*experiment.Experiment, error) {
	if status == "" {
		return e.store.ListExperiments(ctx)
	}
	return e.store.ListByStatus(ctx, status)
}

// ActiveForSubject returns the subject's experiment that is not yet
// cancelled or completed, or store.ErrNotFound.
func (e *Engine) ActiveForSubject(ctx context.Context, subject experiment.SubjectRef) (*experiment.Experiment, error) {
	return e.store.GetActiveForSubject(ctx, subject)
}

// Delete removes the experiment and all of its hourly stats.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.store.DeleteExperiment(ctx, id); err != nil {
		return err
	}
	e.logger.Info().Str("experiment_id", id).Msg("experiment deleted")
	return nil
}
