package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pagesplit/pagesplit/internal/engine"
	"github.com/pagesplit/pagesplit/internal/experiment"
	"github.com/pagesplit/pagesplit/internal/goals"
	"github.com/pagesplit/pagesplit/internal/publisher"
	"github.com/pagesplit/pagesplit/internal/store"
)

// withEngine opens the database, wires an engine around it, executes the
// function, and handles cleanup.
func withEngine(fn func(*engine.Engine, *store.SQLiteStore) error) error {
	return withEngineMetrics(nil, fn)
}

// withEngineMetrics is withEngine with the engine collectors registered
// on reg. A nil reg keeps them private.
func withEngineMetrics(reg prometheus.Registerer, fn func(*engine.Engine, *store.SQLiteStore) error) error {
	s, err := store.Open(cfg.DB,
		store.WithUpsertMode(store.UpsertMode(cfg.UpsertMode)),
		store.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	registry, err := goals.NewRegistry(cfg.GoalTypes...)
	if err != nil {
		return fmt.Errorf("invalid goal types: %w", err)
	}

	pub, err := publisher.New(cfg.Publisher.Kind, cfg.Publisher.WebhookURL, logger)
	if err != nil {
		return fmt.Errorf("invalid publisher: %w", err)
	}

	opts := []engine.Option{
		engine.WithRegistry(registry),
		engine.WithPublisher(pub),
		engine.WithPublishTimeout(cfg.Publisher.Timeout),
		engine.WithLogger(logger),
	}
	if reg != nil {
		opts = append(opts, engine.WithMetrics(engine.NewMetrics(reg)))
	}

	return fn(engine.New(s, opts...), s)
}

// describeError turns store sentinels into messages for the terminal.
func describeError(id string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("experiment '%s' not found", id)
	case errors.Is(err, store.ErrSubjectBusy):
		return fmt.Errorf("subject already has an active experiment (cancel or complete it first)")
	}
	return err
}

// getTokenFilePath returns the path to the token file
func getTokenFilePath() string {
	// Store token file alongside the database
	dir := filepath.Dir(cfg.DB)
	return filepath.Join(dir, ".pagesplit-token")
}

func printExperiment(w io.Writer, x *experiment.Experiment) {
	fmt.Fprintf(w, "EXPERIMENT: %s (%s)\n", x.Name, x.ID)
	fmt.Fprintf(w, "STATUS: %s\n", strings.ToUpper(string(x.Status)))
	fmt.Fprintf(w, "SUBJECT: %s  VARIANT: %s\n", x.SubjectRef, x.VariantRef)
	fmt.Fprintf(w, "GOAL: %s\n", formatGoal(x.Goal))
	fmt.Fprintf(w, "SAMPLE SIZE: %s\n", formatNumber(x.SampleSize))
	if x.WinningArm != nil {
		fmt.Fprintf(w, "WINNER: %s\n", *x.WinningArm)
	}
	if x.CompletionAction != "" {
		fmt.Fprintf(w, "DECISION: %s\n", x.CompletionAction)
	}
}

func formatGoal(g experiment.Goal) string {
	if g.TargetRef == "" {
		return g.Type
	}
	return g.Type + " " + g.TargetRef
}

func formatNumber(n int64) string {
	return humanize.Comma(n)
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
