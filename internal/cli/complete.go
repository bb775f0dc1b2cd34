package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/pagesplit/pagesplit/internal/engine"
	"github.com/pagesplit/pagesplit/internal/experiment"
	"github.com/pagesplit/pagesplit/internal/store"
)

func init() {
	rootCmd.AddCommand(newCompleteCmd())
}

func newCompleteCmd() *cobra.Command {
	var action string

	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Apply the decision for a finished experiment",
		Long: `Record what happens to a finished experiment's subject and mark it completed.

Actions:
  do-nothing  leave the live content as it is
  revert      republish the control content
  publish     publish the variant revision

Without --action you are asked interactively.

Example:
  pagesplit complete 0b7d... --action publish`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			return withEngine(func(eng *engine.Engine, _ *store.SQLiteStore) error {
				ctx := context.Background()

				x, err := eng.Get(ctx, id)
				if err != nil {
					return describeError(id, err)
				}
				if x.Status != experiment.StatusFinished {
					return fmt.Errorf("experiment is not finished (current status: %s)", x.Status)
				}

				chosen, err := resolveAction(action, x)
				if err != nil {
					return err
				}

				x, err = eng.Complete(ctx, id, chosen)
				if err != nil {
					return fmt.Errorf("failed to complete experiment: %w", err)
				}

				if x.Status != experiment.StatusCompleted {
					return fmt.Errorf("experiment is already being completed with action %s", x.PendingAction)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Completed experiment '%s' with action %s.\n", x.Name, x.CompletionAction)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&action, "action", "a", "", "do-nothing, revert or publish")

	return cmd
}

func resolveAction(flag string, x *experiment.Experiment) (experiment.CompletionAction, error) {
	if flag != "" {
		return experiment.ParseCompletionAction(flag)
	}
	return promptAction(x)
}

func promptAction(x *experiment.Experiment) (experiment.CompletionAction, error) {
	actions := []experiment.CompletionAction{
		experiment.ActionDoNothing,
		experiment.ActionRevert,
		experiment.ActionPublish,
	}

	label := "No significant winner. Decision"
	if x.WinningArm != nil {
		label = fmt.Sprintf("Winner: %s. Decision", *x.WinningArm)
	}

	prompt := promptui.Select{
		Label: label,
		Items: []string{
			"Do nothing (keep live content)",
			"Revert (republish control)",
			"Publish variant " + string(x.VariantRef),
		},
		Size: len(actions),
	}

	idx, _, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			os.Exit(0)
		}
		return "", err
	}
	return actions[idx], nil
}
