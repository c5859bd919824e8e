package main

import (
	"fmt"

	"CalibrationMonitorAPI/internal/models"

	"github.com/spf13/cobra"
)

var (
	forecastPeriod string
	forecastJSON   bool
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Inspect persisted forecasts",
}

var forecastGetCmd = &cobra.Command{
	Use:   "get <device> <metric> <energy>",
	Short: "Print the batch forecast, or the inline one for --period",
	Args:  cobra.ExactArgs(3),
	RunE:  runForecastGet,
}

func init() {
	forecastGetCmd.Flags().StringVar(&forecastPeriod, "period", "", "target month (YYYY-MM) of an inline forecast")
	forecastGetCmd.Flags().BoolVar(&forecastJSON, "json", false, "print JSON")
	forecastCmd.AddCommand(forecastGetCmd)
	rootCmd.AddCommand(forecastCmd)
}

func runForecastGet(cmd *cobra.Command, args []string) error {
	key, err := seriesKeyFromArgs(args)
	if err != nil {
		return err
	}

	var period *models.Period
	if forecastPeriod != "" {
		p, err := models.ParsePeriod(forecastPeriod)
		if err != nil {
			return err
		}
		period = &p
	}

	a, log, err := openApp()
	if err != nil {
		return err
	}
	defer log.Close()
	defer a.Close()

	result, err := a.Server.Retrieve(cmd.Context(), key, period)
	if err != nil {
		return err
	}
	if forecastJSON {
		return printJSON(result)
	}

	fmt.Printf("%s (%s, generated %s)\n", key, result.Family, result.GeneratedAt.Format("2006-01-02 15:04"))
	fmt.Println("----------------------------------------------")
	fmt.Printf("%-12s %10s %10s %10s\n", "Date", "Predicted", "Lower", "Upper")
	for _, p := range result.Forecast {
		fmt.Printf("%-12s %10.3f %10.3f %10.3f\n", p.Date, p.PredictedValue, p.LowerBound, p.UpperBound)
	}
	return nil
}
