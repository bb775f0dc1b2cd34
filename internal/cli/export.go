package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pagesplit/pagesplit/internal/engine"
	"github.com/pagesplit/pagesplit/internal/store"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export hourly statistics",
	Long: `Export an experiment's hourly buckets in CSV or JSON format.
Dates and hours are UTC.

Examples:
  pagesplit export 0b7d... --format csv > hero-data.csv
  pagesplit export 0b7d... --format json > hero-data.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	id := args[0]

	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withEngine(func(eng *engine.Engine, s *store.SQLiteStore) error {
		ctx := context.Background()

		// Verify experiment exists
		if _, err := eng.Get(ctx, id); err != nil {
			return describeError(id, err)
		}

		buckets, err := s.HourlyStats(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get hourly stats: %w", err)
		}

		if exportFormat == "csv" {
			return exportCSV(cmd.OutOrStdout(), buckets)
		}
		return exportJSON(cmd.OutOrStdout(), buckets)
	})
}

func exportCSV(out io.Writer, buckets []store.HourlyStat) error {
	w := csv.NewWriter(out)

	// Write header
	if err := w.Write([]string{"date", "hour", "arm", "participants", "conversions"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, b := range buckets {
		row := []string{
			b.Date.Format("2006-01-02"),
			strconv.Itoa(b.Hour),
			string(b.Arm),
			strconv.FormatInt(b.Participants, 10),
			strconv.FormatInt(b.Conversions, 10),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

type jsonExport struct {
	Buckets []jsonBucket `json:"buckets"`
}

type jsonBucket struct {
	Date         string `json:"date"`
	Hour         int    `json:"hour"`
	Arm          string `json:"arm"`
	Participants int64  `json:"participants"`
	Conversions  int64  `json:"conversions"`
}

func exportJSON(out io.Writer, buckets []store.HourlyStat) error {
	export := jsonExport{
		Buckets: make([]jsonBucket, len(buckets)),
	}

	for i, b := range buckets {
		export.Buckets[i] = jsonBucket{
			Date:         b.Date.Format("2006-01-02"),
			Hour:         b.Hour,
			Arm:          string(b.Arm),
			Participants: b.Participants,
			Conversions:  b.Conversions,
		}
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
