package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pagesplit/pagesplit/internal/engine"
	"github.com/pagesplit/pagesplit/internal/experiment"
	"github.com/pagesplit/pagesplit/internal/store"
)

func init() {
	rootCmd.AddCommand(
		newTransitionCmd("start", "Start or resume an experiment", (*engine.Engine).Start),
		newTransitionCmd("pause", "Pause a running experiment", (*engine.Engine).Pause),
		newTransitionCmd("cancel", "Cancel an experiment without a decision", (*engine.Engine).Cancel),
		newTransitionCmd("finish", "Stop collecting data and evaluate the winner", (*engine.Engine).Finish),
		newDeleteCmd(),
	)
}

func newTransitionCmd(name, short string, fn func(*engine.Engine, context.Context, string) (*experiment.Experiment, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			return withEngine(func(eng *engine.Engine, _ *store.SQLiteStore) error {
				before, err := eng.Get(context.Background(), id)
				if err != nil {
					return describeError(id, err)
				}

				x, err := fn(eng, context.Background(), id)
				if err != nil {
					return describeError(id, err)
				}

				out := cmd.OutOrStdout()
				if x.Status == before.Status {
					fmt.Fprintf(out, "Experiment '%s' is %s; nothing to %s.\n", x.Name, x.Status, name)
					return nil
				}
				fmt.Fprintf(out, "Experiment '%s': %s → %s\n", x.Name, strings.ToUpper(string(before.Status)), strings.ToUpper(string(x.Status)))
				if x.Status == experiment.StatusFinished {
					if x.WinningArm != nil {
						fmt.Fprintf(out, "Winner: %s\n", *x.WinningArm)
					} else {
						fmt.Fprintln(out, "No significant winner.")
					}
					fmt.Fprintf(out, "\nDecide with: pagesplit complete %s\n", x.ID)
				}
				return nil
			})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an experiment and its statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			return withEngine(func(eng *engine.Engine, _ *store.SQLiteStore) error {
				if err := eng.Delete(context.Background(), id); err != nil {
					return describeError(id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted experiment %s\n", id)
				return nil
			})
		},
	}
}
