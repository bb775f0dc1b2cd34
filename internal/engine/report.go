package engine

import (
	"context"
	"math"
	"time"

	"github.com/pagesplit/pagesplit/internal/experiment"
	"github.com/pagesplit/pagesplit/internal/stats"
	"github.com/pagesplit/pagesplit/internal/store"
)

const day = 24 * time.Hour

// Aggregate sums the experiment's buckets matching filter.
func (e *Engine) Aggregate(ctx context.Context, id string, filter store.StatsFilter) (store.Totals, error) {
	if _, err := e.store.GetExperiment(ctx, id); err != nil {
		return store.Totals{}, err
	}
	return e.store.Totals(ctx, id, filter)
}

// TimeSeries returns cumulative conversions per arm, one point per day
// from the first to the last day with data.
func (e *Engine) TimeSeries(ctx context.Context, id string) ([]store.DailyPoint, error) {
	if _, err := e.store.GetExperiment(ctx, id); err != nil {
		return nil, err
	}
	buckets, err := e.store.HourlyStats(ctx, id)
	if err != nil {
		return nil, err
	}
	return store.CumulativeSeries(buckets), nil
}

// Report is everything needed to render an experiment's results.
type Report struct {
	Experiment *experiment.Experiment
	Stats      *stats.Result
	// RunningDuration is summed over every run, including the current one.
	RunningDuration     time.Duration
	ParticipantsPerDay  float64
	EstimatedCompletion *time.Time
	Series              []store.DailyPoint
}

// Report gathers counts, statistics and pacing for an experiment.
func (e *Engine) Report(ctx context.Context, id string) (*Report, error) {
	x, err := e.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}

	totals, err := e.store.TotalsByArm(ctx, id)
	if err != nil {
		return nil, err
	}
	control, variant := totals[experiment.ArmControl], totals[experiment.ArmVariant]

	series, err := e.TimeSeries(ctx, id)
	if err != nil {
		return nil, err
	}

	now := e.now()
	r := &Report{
		Experiment: x,
		Stats: stats.Analyze(
			stats.Counts{Participants: control.Participants, Conversions: control.Conversions},
			stats.Counts{Participants: variant.Participants, Conversions: variant.Conversions},
		),
		RunningDuration: x.TotalRunningDuration(now),
		Series:          series,
	}

	participants := control.Participants + variant.Participants
	if r.RunningDuration > 0 {
		r.ParticipantsPerDay = float64(participants) / (float64(r.RunningDuration) / float64(day))
	}

	remaining := x.SampleSize - participants
	if x.Status == experiment.StatusRunning && remaining > 0 && r.ParticipantsPerDay > 0 {
		days := float64(remaining) / r.ParticipantsPerDay
		if eta := time.Duration(math.Ceil(days * float64(day))); eta > 0 {
			at := now.Add(eta)
			r.EstimatedCompletion = &at
		}
	}

	return r, nil
}
