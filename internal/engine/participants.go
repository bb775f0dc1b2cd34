package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/pagesplit/pagesplit/internal/experiment"
	"github.com/pagesplit/pagesplit/internal/store"
)

// AddParticipant enrols one participant in a running experiment. With a
// nil arm the balancer picks one. Once the participant total reaches the
// sample size the experiment is finished; concurrent calls may overshoot
// the sample size slightly. It returns the arm used and whether the
// experiment is finished.
func (e *Engine) AddParticipant(ctx context.Context, id string, arm *experiment.Arm) (experiment.Arm, bool, error) {
	x, err := e.store.GetExperiment(ctx, id)
	if err != nil {
		return "", false, err
	}
	if x.Status != experiment.StatusRunning {
		return "", false, experiment.ErrNotRunning
	}

	var chosen experiment.Arm
	if arm != nil {
		if chosen, err = experiment.ParseArm(string(*arm)); err != nil {
			return "", false, err
		}
	} else {
		totals, err := e.store.TotalsByArm(ctx, id)
		if err != nil {
			return "", false, err
		}
		chosen = e.ChooseArm(totals[experiment.ArmControl].Participants, totals[experiment.ArmVariant].Participants)
	}

	if err := e.store.RecordEvent(ctx, id, chosen, 1, 0, e.now()); err != nil {
		return "", false, err
	}
	e.metrics.participants.WithLabelValues(string(chosen)).Inc()

	total, err := e.store.Totals(ctx, id, store.StatsFilter{})
	if err != nil {
		return chosen, false, err
	}
	if total.Participants < x.SampleSize {
		return chosen, false, nil
	}

	finished, err := e.Finish(ctx, id)
	if err != nil {
		return chosen, false, fmt.Errorf("failed to finish experiment: %w", err)
	}
	return chosen, finished.Status != experiment.StatusRunning, nil
}

// RecordConversion counts one conversion for arm of a running experiment.
// Deduplicating visitors is the caller's job.
func (e *Engine) RecordConversion(ctx context.Context, id string, arm experiment.Arm) error {
	if _, err := experiment.ParseArm(string(arm)); err != nil {
		return err
	}

	x, err := e.store.GetExperiment(ctx, id)
	if err != nil {
		return err
	}
	if x.Status != experiment.StatusRunning {
		return experiment.ErrNotRunning
	}

	if err := e.store.RecordEvent(ctx, id, arm, 0, 1, e.now()); err != nil {
		return err
	}
	e.metrics.conversions.WithLabelValues(string(arm)).Inc()
	return nil
}

// Served tells the caller what to render for a subject.
type Served struct {
	// Experiment is nil when no experiment is running on the subject.
	Experiment *experiment.Experiment
	Arm        experiment.Arm
	// Revision is empty when the live content should be served.
	Revision experiment.RevisionRef
	// Enrolled reports whether the visitor was counted as a participant.
	Enrolled bool
}

// Serve decides which version of subject a visitor sees. prior is the
// arm the visitor was given on an earlier visit, if any: that visitor
// keeps the arm and is not counted again. Other trackable visitors of a
// running experiment are enrolled through AddParticipant; everyone else
// gets the live content.
func (e *Engine) Serve(ctx context.Context, subject experiment.SubjectRef, trackable bool, prior *experiment.Arm) (Served, error) {
	if prior != nil {
		if _, err := experiment.ParseArm(string(*prior)); err != nil {
			return Served{}, err
		}
	}

	x, err := e.store.GetActiveForSubject(ctx, subject)
	if errors.Is(err, store.ErrNotFound) {
		return Served{Arm: experiment.ArmControl}, nil
	}
	if err != nil {
		return Served{}, err
	}
	if x.Status != experiment.StatusRunning || !trackable {
		return Served{Arm: experiment.ArmControl}, nil
	}

	var served Served
	if prior != nil {
		served = Served{Experiment: x, Arm: *prior}
	} else {
		arm, _, err := e.AddParticipant(ctx, x.ID, nil)
		if errors.Is(err, experiment.ErrNotRunning) {
			// Paused or finished since we looked.
			return Served{Arm: experiment.ArmControl}, nil
		}
		if err != nil {
			return Served{}, err
		}
		served = Served{Experiment: x, Arm: arm, Enrolled: true}
	}

	if served.Arm == experiment.ArmVariant {
		served.Revision = x.VariantRef
	}
	return served, nil
}

// GoalReached records a conversion for every experiment the visitor
// takes part in whose goal matches the event. participations maps
// experiment ids to the arm the visitor saw. Experiments that are gone
// or no longer running are skipped. It returns the number of
// conversions recorded.
func (e *Engine) GoalReached(ctx context.Context, event experiment.Goal, participations map[string]experiment.Arm) (int, error) {
	recorded := 0
	for id, arm := range participations {
		x, err := e.store.GetExperiment(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return recorded, err
		}
		if x.Status != experiment.StatusRunning || !x.Goal.Matches(event) {
			continue
		}

		err = e.RecordConversion(ctx, id, arm)
		switch {
		case errors.Is(err, experiment.ErrNotRunning), errors.Is(err, store.ErrNotFound):
			continue
		case err != nil:
			return recorded, err
		}
		recorded++
	}
	return recorded, nil
}
