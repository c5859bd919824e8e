package main

import (
	"encoding/json"
	"fmt"
	"os"

	"CalibrationMonitorAPI/internal/app"
	"CalibrationMonitorAPI/internal/config"
	"CalibrationMonitorAPI/internal/logger"

	"github.com/spf13/cobra"
)

var (
	dbDriver   string
	sqlitePath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "qactl",
	Short: "Operate the calibration drift monitor from the command line",
	Long: `qactl runs batch forecasts, trains single series and inspects drift, alert and
forecast state directly against the monitor's database. Connection settings come from the
same environment variables (and .env file) as the API server.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbDriver, "db-driver", "", "override DB_DRIVER (postgres or sqlite)")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite", "", "override DB_SQLITE_PATH")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

func loadConfig() (*config.Config, error) {
	// flags win over the environment; set them before Load checks required variables
	if sqlitePath != "" {
		dbDriver = config.DriverSQLite
		os.Setenv("DB_SQLITE_PATH", sqlitePath)
	}
	if dbDriver != "" {
		os.Setenv("DB_DRIVER", dbDriver)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if verbose {
		cfg.Logging.Level = logger.DEBUG
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp connects to the database. Notifications raised from the CLI go to the log.
func openApp() (*app.App, *logger.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	log, err := app.NewLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}

	a, err := app.Open(cfg, log, app.Wiring{})
	if err != nil {
		log.Close()
		return nil, nil, err
	}
	return a, log, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
