package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pagesplit/pagesplit/internal/engine"
	"github.com/pagesplit/pagesplit/internal/experiment"
	"github.com/pagesplit/pagesplit/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		subject    string
		variant    string
		goalType   string
		goalTarget string
		sampleSize int64
		start      bool
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new experiment",
		Long: `Create a new A/B test comparing a subject's live content (control)
with a stored revision (variant).

Examples:
  pagesplit create "Hero copy" --subject page:12 --variant revision:340 \
    --goal visit-page --goal-target page:18 --sample-size 1000
  pagesplit create "Pricing" --subject page:7 --variant revision:88 \
    --goal signup --sample-size 500 --start`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := experiment.NewExperiment{
				Name:       args[0],
				SubjectRef: subject,
				VariantRef: variant,
				Goal:       experiment.Goal{Type: goalType, TargetRef: goalTarget},
				SampleSize: sampleSize,
			}

			return withEngine(func(eng *engine.Engine, _ *store.SQLiteStore) error {
				ctx := context.Background()

				x, err := eng.CreateExperiment(ctx, in)
				if err != nil {
					return describeError("", err)
				}
				if start {
					if x, err = eng.Start(ctx, x.ID); err != nil {
						return fmt.Errorf("failed to start experiment: %w", err)
					}
				}

				printExperiment(cmd.OutOrStdout(), x)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "reference of the content under test (required)")
	cmd.Flags().StringVar(&variant, "variant", "", "reference of the variant revision (required)")
	cmd.Flags().StringVar(&goalType, "goal", "", "goal type slug, see 'pagesplit goals' (required)")
	cmd.Flags().StringVar(&goalTarget, "goal-target", "", "goal target, e.g. the page to visit")
	cmd.Flags().Int64Var(&sampleSize, "sample-size", 1000, "participants to collect before finishing")
	cmd.Flags().BoolVar(&start, "start", false, "start the experiment right away")
	cmd.MarkFlagRequired("subject")
	cmd.MarkFlagRequired("variant")
	cmd.MarkFlagRequired("goal")

	return cmd
}
