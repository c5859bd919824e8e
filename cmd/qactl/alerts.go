package main

import (
	"fmt"

	"CalibrationMonitorAPI/internal/models"

	"github.com/spf13/cobra"
)

var alertsJSON bool

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect alert records",
}

var alertsShowCmd = &cobra.Command{
	Use:   "show <device> [metric period]",
	Short: "Print the last communicated violation sets of a device",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 && len(args) != 3 {
			return fmt.Errorf("expected <device> or <device> <metric> <period>")
		}
		return nil
	},
	RunE: runAlertsShow,
}

func init() {
	alertsShowCmd.Flags().BoolVar(&alertsJSON, "json", false, "print JSON")
	alertsCmd.AddCommand(alertsShowCmd)
	rootCmd.AddCommand(alertsCmd)
}

func runAlertsShow(cmd *cobra.Command, args []string) error {
	device := models.NormalizeDeviceID(args[0])

	a, log, err := openApp()
	if err != nil {
		return err
	}
	defer log.Close()
	defer a.Close()

	var records []*models.AlertRecord
	if len(args) == 3 {
		metric, err := models.ParseMetric(args[1])
		if err != nil {
			return err
		}
		period, err := models.ParsePeriod(args[2])
		if err != nil {
			return err
		}
		rec, err := a.AlertService.Get(cmd.Context(), models.AlertKey{Device: device, Metric: metric, Period: period})
		if err != nil {
			return err
		}
		records = append(records, rec)
	} else {
		records, err = a.AlertService.ListByDevice(cmd.Context(), device)
		if err != nil {
			return err
		}
	}

	if alertsJSON {
		type view struct {
			Key           models.AlertKey       `json:"key"`
			AlertedValues []models.AlertedValue `json:"alertedValues"`
			Version       int64                 `json:"version"`
		}
		out := make([]view, 0, len(records))
		for _, rec := range records {
			out = append(out, view{Key: rec.Key, AlertedValues: rec.AlertedValues, Version: rec.Version})
		}
		return printJSON(out)
	}
	if len(records) == 0 {
		fmt.Printf("No alert records for %s\n", device)
		return nil
	}

	for _, rec := range records {
		fmt.Printf("\n%s (version %d, updated %s)\n", rec.Key, rec.Version, rec.UpdatedAt.Format("2006-01-02 15:04"))
		if len(rec.AlertedValues) == 0 {
			fmt.Println("  back within tolerance")
			continue
		}
		for _, v := range rec.AlertedValues {
			fmt.Printf("  %-8s %s %8.3f\n", v.Energy, v.Date, v.Value)
		}
	}
	return nil
}
