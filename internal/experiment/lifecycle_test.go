package experiment_test

import (
	"testing"
	"time"

	"github.com/pagesplit/pagesplit/internal/experiment"
)

var t0 = time.Date(2020, 11, 4, 22, 37, 0, 0, time.UTC)

func newDraft() *experiment.Experiment {
	return &experiment.Experiment{ID: "e1", SampleSize: 10, Status: experiment.StatusDraft}
}

func TestStart_FromDraft(t *testing.T) {
	e := newDraft()

	if !e.Start(t0) {
		t.Fatal("expected start from draft to change state")
	}
	if e.Status != experiment.StatusRunning {
		t.Errorf("got Status %s, want running", e.Status)
	}
	if e.FirstStartedAt == nil || !e.FirstStartedAt.Equal(t0) {
		t.Errorf("got FirstStartedAt %v, want %v", e.FirstStartedAt, t0)
	}
	if e.CurrentRunStartedAt == nil || !e.CurrentRunStartedAt.Equal(t0) {
		t.Errorf("got CurrentRunStartedAt %v, want %v", e.CurrentRunStartedAt, t0)
	}
}

func TestStart_Twice(t *testing.T) {
	e := newDraft()
	e.Start(t0)
	before := *e

	if e.Start(t0.Add(time.Hour)) {
		t.Error("expected second start to be a no-op")
	}
	if !e.CurrentRunStartedAt.Equal(*before.CurrentRunStartedAt) || e.Status != before.Status {
		t.Error("second start changed the experiment")
	}
}

func TestResume_KeepsFirstStartedAt(t *testing.T) {
	e := newDraft()
	e.Start(t0)
	e.Pause(t0.Add(time.Hour))
	e.Start(t0.Add(2 * time.Hour))

	if !e.FirstStartedAt.Equal(t0) {
		t.Errorf("FirstStartedAt moved to %v", e.FirstStartedAt)
	}
	if !e.CurrentRunStartedAt.Equal(t0.Add(2 * time.Hour)) {
		t.Errorf("got CurrentRunStartedAt %v", e.CurrentRunStartedAt)
	}
}

func TestPause_NotRunningIsNoop(t *testing.T) {
	for _, status := range []experiment.Status{
		experiment.StatusDraft, experiment.StatusPaused, experiment.StatusCancelled,
		experiment.StatusFinished, experiment.StatusCompleted,
	} {
		e := &experiment.Experiment{Status: status}
		if e.Pause(t0) {
			t.Errorf("pause from %s should be a no-op", status)
		}
		if e.Status != status {
			t.Errorf("pause changed status from %s to %s", status, e.Status)
		}
	}
}

func TestTotalRunningDuration(t *testing.T) {
	e := newDraft()

	e.Start(t0)
	e.Pause(t0.Add(90 * time.Minute))
	e.Start(t0.Add(5 * time.Hour))
	e.Pause(t0.Add(5*time.Hour + 45*time.Second))

	want := 90*time.Minute + 45*time.Second
	if got := e.TotalRunningDuration(t0.Add(100 * time.Hour)); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if e.CurrentRunStartedAt != nil {
		t.Error("expected CurrentRunStartedAt to be cleared while paused")
	}
}

func TestTotalRunningDuration_IncludesCurrentRun(t *testing.T) {
	e := newDraft()
	e.Start(t0)
	e.Pause(t0.Add(time.Hour))
	e.Start(t0.Add(2 * time.Hour))

	if got := e.TotalRunningDuration(t0.Add(3 * time.Hour)); got != 2*time.Hour {
		t.Errorf("got %v, want 2h", got)
	}
}

func TestCancel(t *testing.T) {
	for _, status := range []experiment.Status{experiment.StatusDraft, experiment.StatusPaused} {
		e := &experiment.Experiment{Status: status}
		if !e.Cancel(t0) || e.Status != experiment.StatusCancelled {
			t.Errorf("expected cancel from %s to succeed", status)
		}
	}

	e := newDraft()
	e.Start(t0)
	e.Cancel(t0.Add(time.Minute))
	if e.Status != experiment.StatusCancelled || e.WinningArm != nil {
		t.Errorf("got status %s winner %v", e.Status, e.WinningArm)
	}
	if e.PreviousRunDuration != time.Minute || e.CurrentRunStartedAt != nil {
		t.Error("expected the open run to be closed on cancel")
	}
}

func TestFinishAndComplete(t *testing.T) {
	e := newDraft()
	winner := experiment.ArmVariant

	if e.Finish(t0, &winner) {
		t.Fatal("finish from draft should be a no-op")
	}
	if e.Complete(experiment.ActionPublish) {
		t.Fatal("complete from draft should be a no-op")
	}

	e.Start(t0)
	if !e.Finish(t0.Add(time.Hour), &winner) {
		t.Fatal("expected finish from running to succeed")
	}
	if e.Status != experiment.StatusFinished || e.WinningArm == nil || *e.WinningArm != experiment.ArmVariant {
		t.Errorf("got status %s winner %v", e.Status, e.WinningArm)
	}

	other := experiment.ArmControl
	if e.Finish(t0.Add(2*time.Hour), &other) {
		t.Error("second finish should be a no-op")
	}
	if *e.WinningArm != experiment.ArmVariant {
		t.Error("winner changed after being set")
	}

	if !e.Complete(experiment.ActionPublish) || e.Status != experiment.StatusCompleted {
		t.Fatalf("expected complete from finished to succeed, got %s", e.Status)
	}
	if e.CompletionAction != experiment.ActionPublish {
		t.Errorf("got CompletionAction %s", e.CompletionAction)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	for _, status := range []experiment.Status{experiment.StatusCancelled, experiment.StatusCompleted} {
		e := &experiment.Experiment{Status: status}
		winner := experiment.ArmControl

		changed := e.Start(t0) || e.Pause(t0) || e.Cancel(t0) ||
			e.Finish(t0, &winner) || e.Complete(experiment.ActionRevert)
		if changed || e.Status != status {
			t.Errorf("%s: a transition changed a terminal experiment (now %s)", status, e.Status)
		}
		if !status.Terminal() {
			t.Errorf("%s should be terminal", status)
		}
	}
}

func TestClaimCompletion(t *testing.T) {
	e := newDraft()
	e.Start(t0)
	ttl := 2 * time.Minute

	if e.ClaimCompletion(experiment.ActionPublish, t0, ttl) {
		t.Fatal("expected claim on a running experiment to fail")
	}

	e.Finish(t0.Add(time.Hour), nil)
	claimedAt := t0.Add(2 * time.Hour)
	if !e.ClaimCompletion(experiment.ActionPublish, claimedAt, ttl) {
		t.Fatal("expected claim on a finished experiment")
	}
	if e.ClaimCompletion(experiment.ActionRevert, claimedAt.Add(time.Minute), ttl) {
		t.Error("expected a fresh claim to block another")
	}
	if !e.HoldsClaim(experiment.ActionPublish, claimedAt) {
		t.Error("expected the first claim to be held")
	}

	// Abandoned claims can be taken over.
	takeover := claimedAt.Add(ttl)
	if !e.ClaimCompletion(experiment.ActionRevert, takeover, ttl) {
		t.Fatal("expected a stale claim to be taken over")
	}
	if e.ReleaseClaim(experiment.ActionPublish, claimedAt) {
		t.Error("old claim holder released the new claim")
	}

	if !e.Complete(experiment.ActionRevert) {
		t.Fatal("expected complete")
	}
	if e.PendingAction != "" || e.PendingSince != nil {
		t.Errorf("got pending %q %v after complete, want none", e.PendingAction, e.PendingSince)
	}
}

func TestReleaseClaim(t *testing.T) {
	e := newDraft()
	e.Start(t0)
	e.Finish(t0.Add(time.Hour), nil)
	claimedAt := t0.Add(2 * time.Hour)
	e.ClaimCompletion(experiment.ActionPublish, claimedAt, time.Minute)

	if !e.ReleaseClaim(experiment.ActionPublish, claimedAt) {
		t.Fatal("expected release")
	}
	if e.Status != experiment.StatusFinished || e.PendingSince != nil {
		t.Errorf("got status %s pending %v, want finished without claim", e.Status, e.PendingSince)
	}
	if !e.ClaimCompletion(experiment.ActionRevert, claimedAt, time.Minute) {
		t.Error("expected a new claim after release")
	}
}
