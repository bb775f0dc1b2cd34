package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagesplit/pagesplit/internal/engine"
	"github.com/pagesplit/pagesplit/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <id>",
	Short: "Show detailed results for an experiment",
	Long:  `Show conversion rates, confidence intervals, significance and pacing.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	id := args[0]

	return withEngine(func(eng *engine.Engine, _ *store.SQLiteStore) error {
		report, err := eng.Report(context.Background(), id)
		if err != nil {
			return describeError(id, err)
		}

		out := cmd.OutOrStdout()
		result := report.Stats

		printExperiment(out, report.Experiment)
		fmt.Fprintf(out, "RUNNING FOR: %s\n", report.RunningDuration.Round(time.Second))
		fmt.Fprintln(out)

		// Print table header
		fmt.Fprintln(out, "ARM       PARTICIPANTS  CONVERSIONS  RATE     95% CI")
		fmt.Fprintln(out, strings.Repeat("─", 60))

		for _, a := range result.Arms {
			indicator := ""
			if result.Leading != nil && *result.Leading == a.Arm {
				indicator = " ← LEADING"
			}

			ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", a.CILower*100, a.CIUpper*100)
			if a.Participants == 0 {
				ciStr = "N/A"
			}

			fmt.Fprintf(out, "%-8s  %-12d  %-11d  %-7s  %s%s\n",
				a.Arm,
				a.Participants,
				a.Conversions,
				formatPercent(a.Rate),
				ciStr,
				indicator,
			)
		}

		fmt.Fprintln(out)

		confPct := result.ConfidenceLevel * 100
		switch {
		case result.Winner != nil:
			fmt.Fprintf(out, "Statistical significance: %.1f%% confident %s is the winner\n", confPct, *result.Winner)
		case result.Leading != nil && confPct >= 90:
			fmt.Fprintf(out, "Statistical significance: %.1f%% confident %s is ahead (not yet significant)\n", confPct, *result.Leading)
		default:
			fmt.Fprintln(out, "Statistical significance: Not enough data to determine a winner")
		}

		if report.ParticipantsPerDay > 0 {
			fmt.Fprintf(out, "Pace: %.1f participants/day\n", report.ParticipantsPerDay)
		}
		if report.EstimatedCompletion != nil {
			fmt.Fprintf(out, "Estimated completion: %s\n", report.EstimatedCompletion.Format("2006-01-02"))
		}

		return nil
	})
}
