package main

import (
	"fmt"
	"time"

	"CalibrationMonitorAPI/internal/models"

	"github.com/spf13/cobra"
)

var batchCutoff string

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Train every series and persist its fixed-horizon forecast",
	RunE:  runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchCutoff, "cutoff", "", "ignore observations after this date (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(batchCmd)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cutoff, err := parseDate(batchCutoff)
	if err != nil {
		return err
	}

	a, log, err := openApp()
	if err != nil {
		return err
	}
	defer log.Close()
	defer a.Close()

	summary, err := a.Batch.Run(cmd.Context(), cutoff)
	if err != nil {
		return fmt.Errorf("batch run: %w", err)
	}

	fmt.Printf("Units:                %d\n", summary.Units)
	fmt.Printf("Trained:              %d\n", summary.Trained)
	fmt.Printf("Insufficient history: %d\n", summary.Insufficient)
	fmt.Printf("Failed:               %d\n", summary.Failed)
	fmt.Printf("Duration:             %s\n", summary.Duration.Round(time.Millisecond))
	return nil
}
