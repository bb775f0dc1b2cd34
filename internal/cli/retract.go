package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pagesplit/pagesplit/internal/engine"
	"github.com/pagesplit/pagesplit/internal/experiment"
	"github.com/pagesplit/pagesplit/internal/store"
)

var retractCmd = &cobra.Command{
	Use:   "retract <subject>",
	Short: "Resolve a subject's experiment after it was unpublished",
	Long: `Tell pagesplit a subject is no longer published.

An unfinished experiment on it is cancelled; a finished one is completed
without changing content.`,
	Args: cobra.ExactArgs(1),
	RunE: runRetract,
}

func init() {
	rootCmd.AddCommand(retractCmd)
}

func runRetract(cmd *cobra.Command, args []string) error {
	subject := experiment.SubjectRef(args[0])

	return withEngine(func(eng *engine.Engine, _ *store.SQLiteStore) error {
		x, err := eng.OnSubjectRetracted(context.Background(), subject)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if x == nil {
			fmt.Fprintf(out, "No active experiment on %s.\n", subject)
			return nil
		}
		fmt.Fprintf(out, "Experiment '%s' is now %s.\n", x.Name, x.Status)
		return nil
	})
}
