package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pagesplit/pagesplit/internal/engine"
	"github.com/pagesplit/pagesplit/internal/store"
)

var goalsCmd = &cobra.Command{
	Use:   "goals",
	Short: "List available goal types",
	Long: `List the goal types experiments can measure.

Extra types are configured under goal_types in pagesplit.yaml.`,
	RunE: runGoals,
}

func init() {
	rootCmd.AddCommand(goalsCmd)
}

func runGoals(cmd *cobra.Command, args []string) error {
	return withEngine(func(eng *engine.Engine, _ *store.SQLiteStore) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SLUG\tNAME\tNEEDS TARGET")
		for _, t := range eng.Goals().List() {
			needsTarget := "no"
			if t.RequiresTarget {
				needsTarget = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.Slug, t.Name, needsTarget)
		}
		return w.Flush()
	})
}
