package main

import (
	"fmt"

	"CalibrationMonitorAPI/internal/models"

	"github.com/spf13/cobra"
)

var trainCutoff string

var trainCmd = &cobra.Command{
	Use:   "train <device> <metric> <energy>",
	Short: "Fit and persist the model of one series",
	Args:  cobra.ExactArgs(3),
	RunE:  runTrain,
}

func init() {
	trainCmd.Flags().StringVar(&trainCutoff, "cutoff", "", "ignore observations after this date (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(trainCmd)
}

func seriesKeyFromArgs(args []string) (models.SeriesKey, error) {
	metric, err := models.ParseMetric(args[1])
	if err != nil {
		return models.SeriesKey{}, err
	}
	return models.SeriesKey{Device: models.NormalizeDeviceID(args[0]), Metric: metric, Energy: args[2]}, nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	key, err := seriesKeyFromArgs(args)
	if err != nil {
		return err
	}
	cutoff, err := parseDate(trainCutoff)
	if err != nil {
		return err
	}

	a, log, err := openApp()
	if err != nil {
		return err
	}
	defer log.Close()
	defer a.Close()

	outcome, err := a.Trainer.Train(cmd.Context(), key, cutoff)
	if err != nil {
		return err
	}

	if outcome.Status == models.TrainStatusInsufficientHistory {
		fmt.Printf("%s: insufficient history (%d points, need %d)\n", key, outcome.Points, outcome.MinimumPoints)
		return nil
	}
	fmt.Printf("%s: trained %s on %d points, last observed %s\n",
		key, outcome.Artifact.Family, outcome.Points, outcome.Artifact.LastObservedDate.Format(models.DateLayout))
	return nil
}
