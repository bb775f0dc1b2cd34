package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pagesplit/pagesplit/internal/engine"
	"github.com/pagesplit/pagesplit/internal/experiment"
	"github.com/pagesplit/pagesplit/internal/store"
)

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments",
	Long:  `List experiments with their status and participant counts.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "only show experiments with this status")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withEngine(func(eng *engine.Engine, _ *store.SQLiteStore) error {
		ctx := context.Background()
		out := cmd.OutOrStdout()

		experiments, err := eng.List(ctx, experiment.Status(strings.ToLower(listStatus)))
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}

		if len(experiments) == 0 {
			fmt.Fprintln(out, "No experiments yet.")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Create one with:")
			fmt.Fprintln(out, "  pagesplit create <name> --subject <ref> --variant <ref> --goal <type>")
			return nil
		}

		// Print table
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSUBJECT\tSTATUS\tPARTICIPANTS\tCONVERSIONS\tCREATED")

		for _, x := range experiments {
			totals, err := eng.Aggregate(ctx, x.ID, store.StatsFilter{})
			if err != nil {
				return fmt.Errorf("failed to get totals for %s: %w", x.ID, err)
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s / %s\t%s\t%s\n",
				x.ID,
				x.Name,
				x.SubjectRef,
				strings.ToUpper(string(x.Status)),
				formatNumber(totals.Participants),
				formatNumber(x.SampleSize),
				formatNumber(totals.Conversions),
				x.CreatedAt.Format("2006-01-02"),
			)
		}

		return w.Flush()
	})
}
