package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pagesplit/pagesplit/internal/experiment"
	"github.com/pagesplit/pagesplit/internal/store"
)

func setupTestDB(t *testing.T, opts ...store.Option) *store.SQLiteStore {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func newExperiment(subject string) *experiment.Experiment {
	return &experiment.Experiment{
		ID:         uuid.NewString(),
		Name:       "Homepage title",
		SubjectRef: experiment.SubjectRef(subject),
		VariantRef: "revision:17",
		Goal:       experiment.Goal{Type: "visit-page", TargetRef: "page:5"},
		SampleSize: 100,
		Status:     experiment.StatusDraft,
	}
}

func createExperiment(t *testing.T, s *store.SQLiteStore, subject string) *experiment.Experiment {
	t.Helper()

	e := newExperiment(subject)
	if err := s.CreateExperiment(context.Background(), e); err != nil {
		t.Fatalf("failed to create experiment: %v", err)
	}
	return e
}

func TestOpen_InMemory(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	defer s.Close()

	if _, err := s.ListExperiments(context.Background()); err != nil {
		t.Fatalf("expected migrated schema, got %v", err)
	}
}

func TestOpen_UnknownUpsertMode(t *testing.T) {
	_, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithUpsertMode("sometimes"))
	if !errors.Is(err, experiment.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestCreateAndGetExperiment(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	created := createExperiment(t, s, "page:2")

	got, err := s.GetExperiment(ctx, created.ID)
	if err != nil {
		t.Fatalf("failed to get experiment: %v", err)
	}

	if got.Name != "Homepage title" {
		t.Errorf("got Name %s, want Homepage title", got.Name)
	}
	if got.SubjectRef != "page:2" || got.VariantRef != "revision:17" {
		t.Errorf("got refs %s/%s", got.SubjectRef, got.VariantRef)
	}
	if got.Goal.Type != "visit-page" || got.Goal.TargetRef != "page:5" {
		t.Errorf("got goal %+v", got.Goal)
	}
	if got.Status != experiment.StatusDraft {
		t.Errorf("got Status %s, want draft", got.Status)
	}
	if got.WinningArm != nil || got.FirstStartedAt != nil || got.CurrentRunStartedAt != nil {
		t.Error("expected nullable fields to be nil")
	}
}

func TestGetExperiment_NotFound(t *testing.T) {
	s := setupTestDB(t)

	_, err := s.GetExperiment(context.Background(), "nonexistent")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestCreateExperiment_OneActivePerSubject(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	first := createExperiment(t, s, "page:2")

	if err := s.CreateExperiment(ctx, newExperiment("page:2")); !errors.Is(err, store.ErrSubjectBusy) {
		t.Fatalf("got %v, want ErrSubjectBusy", err)
	}

	// Another subject is unaffected.
	createExperiment(t, s, "page:3")

	// Once the first one is terminal the subject is free again.
	_, err := s.UpdateExperiment(ctx, first.ID, func(ctx context.Context, r store.Reader, e *experiment.Experiment) error {
		e.Cancel(time.Now())
		return nil
	})
	if err != nil {
		t.Fatalf("failed to cancel: %v", err)
	}
	createExperiment(t, s, "page:2")
}

func TestGetActiveForSubject(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if _, err := s.GetActiveForSubject(ctx, "page:2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	created := createExperiment(t, s, "page:2")
	got, err := s.GetActiveForSubject(ctx, "page:2")
	if err != nil {
		t.Fatalf("failed to get active experiment: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("got ID %s, want %s", got.ID, created.ID)
	}
}

func TestListExperiments(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	createExperiment(t, s, "page:2")
	running := createExperiment(t, s, "page:3")

	_, err := s.UpdateExperiment(ctx, running.ID, func(ctx context.Context, r store.Reader, e *experiment.Experiment) error {
		e.Start(time.Now())
		return nil
	})
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	all, err := s.ListExperiments(ctx)
	if err != nil {
		t.Fatalf("failed to list experiments: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d experiments, want 2", len(all))
	}

	runningOnly, err := s.ListByStatus(ctx, experiment.StatusRunning)
	if err != nil {
		t.Fatalf("failed to list by status: %v", err)
	}
	if len(runningOnly) != 1 || runningOnly[0].ID != running.ID {
		t.Errorf("got %d running experiments, want only %s", len(runningOnly), running.ID)
	}
}

func TestUpdateExperiment_PersistsLifecycleFields(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	created := createExperiment(t, s, "page:2")
	started := time.Date(2020, 11, 4, 22, 37, 0, 0, time.UTC)
	winner := experiment.ArmVariant

	_, err := s.UpdateExperiment(ctx, created.ID, func(ctx context.Context, r store.Reader, e *experiment.Experiment) error {
		e.Start(started)
		e.Finish(started.Add(90*time.Minute), &winner)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to update: %v", err)
	}

	got, err := s.GetExperiment(ctx, created.ID)
	if err != nil {
		t.Fatalf("failed to get experiment: %v", err)
	}
	if got.Status != experiment.StatusFinished {
		t.Errorf("got Status %s, want finished", got.Status)
	}
	if got.WinningArm == nil || *got.WinningArm != experiment.ArmVariant {
		t.Errorf("got WinningArm %v, want variant", got.WinningArm)
	}
	if got.FirstStartedAt == nil || !got.FirstStartedAt.Equal(started) {
		t.Errorf("got FirstStartedAt %v, want %v", got.FirstStartedAt, started)
	}
	if got.CurrentRunStartedAt != nil {
		t.Error("expected CurrentRunStartedAt to be cleared")
	}
	if got.PreviousRunDuration != 90*time.Minute {
		t.Errorf("got PreviousRunDuration %v, want 90m", got.PreviousRunDuration)
	}

	claimedAt := started.Add(2 * time.Hour)
	_, err = s.UpdateExperiment(ctx, created.ID, func(ctx context.Context, r store.Reader, e *experiment.Experiment) error {
		e.ClaimCompletion(experiment.ActionPublish, claimedAt, time.Minute)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to claim: %v", err)
	}

	got, err = s.GetExperiment(ctx, created.ID)
	if err != nil {
		t.Fatalf("failed to get experiment: %v", err)
	}
	if !got.HoldsClaim(experiment.ActionPublish, claimedAt) {
		t.Errorf("got pending %q since %v, want publish since %v", got.PendingAction, got.PendingSince, claimedAt)
	}
}

func TestUpdateExperiment_NoChangeAndErrors(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	created := createExperiment(t, s, "page:2")

	got, err := s.UpdateExperiment(ctx, created.ID, func(ctx context.Context, r store.Reader, e *experiment.Experiment) error {
		e.Name = "ignored"
		return store.ErrNoChange
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected the current experiment to be returned")
	}

	boom := errors.New("boom")
	_, err = s.UpdateExperiment(ctx, created.ID, func(ctx context.Context, r store.Reader, e *experiment.Experiment) error {
		e.Name = "also ignored"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	stored, _ := s.GetExperiment(ctx, created.ID)
	if stored.Name != "Homepage title" {
		t.Errorf("rolled back update leaked: Name = %s", stored.Name)
	}

	_, err = s.UpdateExperiment(ctx, "nonexistent", func(ctx context.Context, r store.Reader, e *experiment.Experiment) error {
		return nil
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUpdateExperiment_ReaderSeesStats(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	created := createExperiment(t, s, "page:2")
	now := time.Now()

	if err := s.RecordEvent(ctx, created.ID, experiment.ArmControl, 3, 1, now); err != nil {
		t.Fatalf("failed to record event: %v", err)
	}

	_, err := s.UpdateExperiment(ctx, created.ID, func(ctx context.Context, r store.Reader, e *experiment.Experiment) error {
		totals, err := r.TotalsByArm(ctx, e.ID)
		if err != nil {
			return err
		}
		if totals[experiment.ArmControl].Participants != 3 {
			t.Errorf("got %d control participants inside update, want 3", totals[experiment.ArmControl].Participants)
		}
		return store.ErrNoChange
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteExperiment_CascadesHourlyStats(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	created := createExperiment(t, s, "page:2")

	if err := s.RecordEvent(ctx, created.ID, experiment.ArmVariant, 1, 0, time.Now()); err != nil {
		t.Fatalf("failed to record event: %v", err)
	}

	if err := s.DeleteExperiment(ctx, created.ID); err != nil {
		t.Fatalf("failed to delete experiment: %v", err)
	}

	if _, err := s.GetExperiment(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	buckets, err := s.HourlyStats(ctx, created.ID)
	if err != nil {
		t.Fatalf("failed to get hourly stats: %v", err)
	}
	if len(buckets) != 0 {
		t.Errorf("got %d buckets after delete, want 0", len(buckets))
	}

	var orphans int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM hourly_stats`).Scan(&orphans); err != nil {
		t.Fatalf("failed to count hourly stats: %v", err)
	}
	if orphans != 0 {
		t.Errorf("got %d hourly rows left behind, want 0", orphans)
	}

	if err := s.DeleteExperiment(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound on second delete", err)
	}
}
