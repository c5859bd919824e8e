// Package app assembles the storage, alerting and forecasting stack shared by the API server and
// the qactl command line.
package app

import (
	"fmt"

	"CalibrationMonitorAPI/internal/config"
	"CalibrationMonitorAPI/internal/database"
	"CalibrationMonitorAPI/internal/forecast"
	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/notify"
	"CalibrationMonitorAPI/internal/repository"
	"CalibrationMonitorAPI/internal/service"
)

// Wiring carries the outward-facing collaborators that differ between binaries.
type Wiring struct {
	Notifier notify.Notifier
	Events   service.EventSink
}

type App struct {
	DB *database.Database

	Measurements *repository.MeasurementRepository
	Alerts       *repository.AlertRepository
	Models       *repository.ModelRepository
	Forecasts    *repository.ForecastRepository

	AlertService       *service.AlertService
	MeasurementService *service.MeasurementService

	Aggregator *forecast.Aggregator
	Trainer    *forecast.Trainer
	Server     *forecast.Server
	Batch      *forecast.BatchRunner
}

func NewLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Mode:        cfg.Logging.Mode,
		LogFilePath: cfg.Logging.FilePath,
		UseColors:   cfg.Logging.UseColors,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Compress:    cfg.Logging.Compress,
	})
}

// Open connects the configured database and builds the rest on top of it.
func Open(cfg *config.Config, log *logger.Logger, w Wiring) (*App, error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a, err := Build(cfg, log, repository.NewSQLDocumentStore(db), w)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.DB = db
	return a, nil
}

// Build wires every component over store.
func Build(cfg *config.Config, log *logger.Logger, store repository.DocumentStore, w Wiring) (*App, error) {
	if w.Notifier == nil {
		w.Notifier = notify.NewLogNotifier(log.With("notify"))
	}

	model, err := forecast.NewModel(cfg.Forecast.Model, forecast.ModelConfig{
		AROrder:      cfg.Forecast.AROrder,
		Differencing: cfg.Forecast.Differencing,
		SeasonLength: cfg.Forecast.SeasonLength,
	})
	if err != nil {
		return nil, err
	}
	batchReducer, err := forecast.ParseReducer(cfg.Forecast.BatchReducer)
	if err != nil {
		return nil, err
	}
	inlineReducer, err := forecast.ParseReducer(cfg.Forecast.InlineReducer)
	if err != nil {
		return nil, err
	}

	a := &App{
		Measurements: repository.NewMeasurementRepository(store),
		Alerts:       repository.NewAlertRepository(store),
		Models:       repository.NewModelRepository(store),
		Forecasts:    repository.NewForecastRepository(store),
	}

	thresholds := &cfg.Thresholds
	a.AlertService = service.NewAlertService(a.Alerts, thresholds, w.Notifier, log.With("alerts"))
	a.MeasurementService = service.NewMeasurementService(a.Measurements, a.AlertService, thresholds, w.Events, log.With("ingest"))

	flog := log.With("forecast")
	a.Aggregator = forecast.NewAggregator(a.Measurements, flog)
	a.Trainer = forecast.NewTrainer(a.Aggregator, a.Models, model, forecast.TrainerConfig{
		MinimumPoints: cfg.Forecast.MinimumPoints,
		FitTimeout:    cfg.Forecast.FitTimeout,
		Reducer:       batchReducer,
	}, flog)
	a.Server = forecast.NewServer(a.Trainer, a.Aggregator, a.Forecasts, forecast.ServerConfig{
		InlineReducer: inlineReducer,
		CacheTTL:      cfg.Forecast.InlineCacheTTL,
		JobRetention:  cfg.Forecast.JobRetention,
	}, flog)
	a.Batch = forecast.NewBatchRunner(a.Measurements, a.Trainer, a.Forecasts, forecast.BatchConfig{
		HorizonDays: cfg.Forecast.HorizonDays,
		Workers:     cfg.Forecast.BatchWorkers,
	}, flog.With("batch"))

	return a, nil
}

// Close stops background forecast jobs and releases the database.
func (a *App) Close() error {
	a.Server.Close()
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
