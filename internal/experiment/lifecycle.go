package experiment

import "time"

// The transitions below mutate e in place and report whether anything
// changed. A transition that is not allowed from the current status is
// a silent no-op so duplicate or out-of-order triggers are harmless.

// Start moves a draft or paused experiment into running.
func (e *Experiment) Start(now time.Time) bool {
	if e.Status != StatusDraft && e.Status != StatusPaused {
		return false
	}
	if e.Status == StatusDraft && e.FirstStartedAt == nil {
		t := now
		e.FirstStartedAt = &t
	}
	t := now
	e.CurrentRunStartedAt = &t
	e.Status = StatusRunning
	return true
}

// Pause moves a running experiment into paused.
func (e *Experiment) Pause(now time.Time) bool {
	if e.Status != StatusRunning {
		return false
	}
	e.closeRun(now)
	e.Status = StatusPaused
	return true
}

// Cancel ends a draft, running or paused experiment without a winner.
func (e *Experiment) Cancel(now time.Time) bool {
	switch e.Status {
	case StatusDraft, StatusRunning, StatusPaused:
	default:
		return false
	}
	e.closeRun(now)
	e.Status = StatusCancelled
	return true
}

// Finish stops data collection on a running experiment and records the
// evaluated winner, which may be nil.
func (e *Experiment) Finish(now time.Time, winner *Arm) bool {
	if e.Status != StatusRunning {
		return false
	}
	e.closeRun(now)
	if winner != nil {
		w := *winner
		e.WinningArm = &w
	}
	e.Status = StatusFinished
	return true
}

// Complete records the human decision on a finished experiment and drops
// any pending claim.
func (e *Experiment) Complete(action CompletionAction) bool {
	if e.Status != StatusFinished {
		return false
	}
	e.CompletionAction = action
	e.PendingAction = ""
	e.PendingSince = nil
	e.Status = StatusCompleted
	return true
}

// ClaimCompletion reserves a finished experiment while action is applied
// to content. A claim older than ttl is considered abandoned and may be
// taken over.
func (e *Experiment) ClaimCompletion(action CompletionAction, now time.Time, ttl time.Duration) bool {
	if e.Status != StatusFinished {
		return false
	}
	if e.PendingSince != nil && now.Sub(*e.PendingSince) < ttl {
		return false
	}
	t := now
	e.PendingAction = action
	e.PendingSince = &t
	return true
}

// HoldsClaim reports whether the pending claim is the one taken at since.
func (e *Experiment) HoldsClaim(action CompletionAction, since time.Time) bool {
	return e.Status == StatusFinished &&
		e.PendingAction == action &&
		e.PendingSince != nil && e.PendingSince.Equal(since)
}

// ReleaseClaim gives up the claim taken at since.
func (e *Experiment) ReleaseClaim(action CompletionAction, since time.Time) bool {
	if !e.HoldsClaim(action, since) {
		return false
	}
	e.PendingAction = ""
	e.PendingSince = nil
	return true
}

// TotalRunningDuration is the time spent running across all pause/resume
// cycles, including the current run if there is one.
func (e *Experiment) TotalRunningDuration(now time.Time) time.Duration {
	d := e.PreviousRunDuration
	if e.Status == StatusRunning && e.CurrentRunStartedAt != nil {
		d += now.Sub(*e.CurrentRunStartedAt)
	}
	return d
}

func (e *Experiment) closeRun(now time.Time) {
	if e.CurrentRunStartedAt != nil {
		e.PreviousRunDuration += now.Sub(*e.CurrentRunStartedAt)
		e.CurrentRunStartedAt = nil
	}
}
