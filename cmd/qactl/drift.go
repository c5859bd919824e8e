package main

import (
	"encoding/json"
	"fmt"
	"os"

	"CalibrationMonitorAPI/internal/app"
	"CalibrationMonitorAPI/internal/config"
	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/models"
	"CalibrationMonitorAPI/internal/repository"

	"github.com/spf13/cobra"
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Drift detection tools",
}

var driftCheckCmd = &cobra.Command{
	Use:   "check <request.json>",
	Short: "Run the drift detector over a JSON request without saving anything",
	Long: `Reads a drift check request of the form

  {"metric": "output", "period": "2025-03",
   "thresholds": {"warning_level": 1.8, "tolerance_level": 2.0},
   "previous": [{"energy": "6X", "values": ["1.2"]}],
   "rows": [["6X", 1.85]]}

and prints the newly entered warnings and out-of-tolerance values. Thresholds default to the
configured bands of the metric.`,
	Args: cobra.ExactArgs(1),
	RunE: runDriftCheck,
}

func init() {
	driftCmd.AddCommand(driftCheckCmd)
	rootCmd.AddCommand(driftCmd)
}

func runDriftCheck(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading request: %w", err)
	}

	var req models.DriftCheckRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, log, err := openStateless(cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	defer a.Close()

	result, err := a.MeasurementService.CheckDrift(&req)
	if err != nil {
		return err
	}
	return printJSON(result)
}

// openStateless builds the services over an in-memory store; drift checks never read storage.
func openStateless(cfg *config.Config) (*app.App, *logger.Logger, error) {
	log, err := app.NewLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Build(cfg, log, repository.NewMemoryDocumentStore(), app.Wiring{})
	if err != nil {
		log.Close()
		return nil, nil, err
	}
	return a, log, nil
}
