package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pagesplit/pagesplit/internal/experiment"
	"github.com/pagesplit/pagesplit/internal/stats"
	"github.com/pagesplit/pagesplit/internal/store"
)

// transitionFunc mutates x and reports whether anything changed.
type transitionFunc func(ctx context.Context, r store.Reader, x *experiment.Experiment) (bool, error)

// transition runs fn inside one write transaction. Unchanged experiments
// are returned as they are without a write.
func (e *Engine) transition(ctx context.Context, id string, fn transitionFunc) (*experiment.Experiment, error) {
	var changed bool
	x, err := e.store.UpdateExperiment(ctx, id, func(ctx context.Context, r store.Reader, x *experiment.Experiment) error {
		ok, err := fn(ctx, r, x)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrNoChange
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.metrics.transitions.WithLabelValues(string(x.Status)).Inc()
		ev := e.logger.Info().Str("experiment_id", x.ID).Str("status", string(x.Status))
		if x.WinningArm != nil {
			ev = ev.Str("winner", string(*x.WinningArm))
		}
		if x.CompletionAction != "" {
			ev = ev.Str("action", string(x.CompletionAction))
		}
		ev.Msg("experiment transitioned")
	}
	return x, nil
}

// Start moves a draft or paused experiment into running.
func (e *Engine) Start(ctx context.Context, id string) (*experiment.Experiment, error) {
	return e.transition(ctx, id, func(_ context.Context, _ store.Reader, x *experiment.Experiment) (bool, error) {
		return x.Start(e.now()), nil
	})
}

func (e *Engine) Pause(ctx context.Context, id string) (*experiment.Experiment, error) {
	return e.transition(ctx, id, func(_ context.Context, _ store.Reader, x *experiment.Experiment) (bool, error) {
		return x.Pause(e.now()), nil
	})
}

func (e *Engine) Cancel(ctx context.Context, id string) (*experiment.Experiment, error) {
	return e.transition(ctx, id, func(_ context.Context, _ store.Reader, x *experiment.Experiment) (bool, error) {
		return x.Cancel(e.now()), nil
	})
}

// Finish stops data collection on a running experiment and stores the
// evaluated winner. The counts are read in the same transaction, so two
// concurrent calls evaluate once.
func (e *Engine) Finish(ctx context.Context, id string) (*experiment.Experiment, error) {
	return e.transition(ctx, id, func(ctx context.Context, r store.Reader, x *experiment.Experiment) (bool, error) {
		if x.Status != experiment.StatusRunning {
			return false, nil
		}
		totals, err := r.TotalsByArm(ctx, x.ID)
		if err != nil {
			return false, err
		}
		control, variant := totals[experiment.ArmControl], totals[experiment.ArmVariant]
		winner := stats.Evaluate(control.Participants, control.Conversions, variant.Participants, variant.Conversions)
		return x.Finish(e.now(), winner), nil
	})
}

// Complete applies the human decision to a finished experiment. The
// experiment is first claimed in a short transaction, the publisher runs
// without holding the database write lock, and the claim is then turned
// into completed. A publisher failure releases the claim and leaves the
// experiment finished. While another call holds the claim, Complete
// returns the experiment unchanged.
func (e *Engine) Complete(ctx context.Context, id string, action experiment.CompletionAction) (*experiment.Experiment, error) {
	if _, err := experiment.ParseCompletionAction(string(action)); err != nil {
		return nil, err
	}

	claimedAt := e.now()
	claimed := false
	x, err := e.store.UpdateExperiment(ctx, id, func(_ context.Context, _ store.Reader, x *experiment.Experiment) error {
		if !x.ClaimCompletion(action, claimedAt, 2*e.publishTimeout) {
			return store.ErrNoChange
		}
		claimed = true
		return nil
	})
	if err != nil || !claimed {
		return x, err
	}

	if err := e.apply(ctx, x, action); err != nil {
		e.releaseClaim(ctx, id, action, claimedAt)
		return nil, err
	}

	return e.transition(ctx, id, func(_ context.Context, _ store.Reader, x *experiment.Experiment) (bool, error) {
		if !x.HoldsClaim(action, claimedAt) {
			// Retracted or taken over while publishing.
			return false, nil
		}
		return x.Complete(action), nil
	})
}

// apply sends the content instruction for action.
func (e *Engine) apply(ctx context.Context, x *experiment.Experiment, action experiment.CompletionAction) error {
	ctx, cancel := context.WithTimeout(ctx, e.publishTimeout)
	defer cancel()

	switch action {
	case experiment.ActionPublish:
		if err := e.publisher.Publish(ctx, x.SubjectRef, x.VariantRef); err != nil {
			return fmt.Errorf("failed to publish variant: %w", err)
		}
	case experiment.ActionRevert:
		if err := e.publisher.Revert(ctx, x.SubjectRef); err != nil {
			return fmt.Errorf("failed to revert subject: %w", err)
		}
	}
	return nil
}

func (e *Engine) releaseClaim(ctx context.Context, id string, action experiment.CompletionAction, claimedAt time.Time) {
	_, err := e.store.UpdateExperiment(context.WithoutCancel(ctx), id, func(_ context.Context, _ store.Reader, x *experiment.Experiment) error {
		if !x.ReleaseClaim(action, claimedAt) {
			return store.ErrNoChange
		}
		return nil
	})
	if err != nil {
		e.logger.Error().Err(err).Str("experiment_id", id).Msg("failed to release completion claim")
	}
}

// OnSubjectRetracted resolves the subject's active experiment once the
// subject is no longer published: unfinished experiments are cancelled
// and a finished one is completed without touching content. It returns
// nil when the subject has no active experiment.
func (e *Engine) OnSubjectRetracted(ctx context.Context, subject experiment.SubjectRef) (*experiment.Experiment, error) {
	x, err := e.store.GetActiveForSubject(ctx, subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Decided on the locked row so a concurrent Finish cannot slip between.
	return e.transition(ctx, x.ID, func(_ context.Context, _ store.Reader, x *experiment.Experiment) (bool, error) {
		if x.Status == experiment.StatusFinished {
			return x.Complete(experiment.ActionDoNothing), nil
		}
		return x.Cancel(e.now()), nil
	})
}
