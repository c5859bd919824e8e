package forecast

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/metrics"
	"CalibrationMonitorAPI/internal/models"
	"CalibrationMonitorAPI/internal/repository"

	"golang.org/x/sync/errgroup"
)

type BatchConfig struct {
	HorizonDays int
	Workers     int
}

// BatchRunner trains every (device, metric, energy) unit and persists a fixed-horizon forecast
// from each unit's last observed date.
type BatchRunner struct {
	measurements repository.IMeasurementRepository
	trainer      *Trainer
	forecasts    repository.IForecastRepository
	cfg          BatchConfig
	log          *logger.Logger
}

func NewBatchRunner(measurements repository.IMeasurementRepository, trainer *Trainer, forecasts repository.IForecastRepository, cfg BatchConfig, log *logger.Logger) *BatchRunner {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 7
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &BatchRunner{
		measurements: measurements,
		trainer:      trainer,
		forecasts:    forecasts,
		cfg:          cfg,
		log:          log,
	}
}

// Units enumerates the series present in storage, in device, metric, first-seen energy order.
func (b *BatchRunner) Units(ctx context.Context) ([]models.SeriesKey, error) {
	devices, err := b.measurements.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	var units []models.SeriesKey
	for _, device := range devices {
		shards, err := b.measurements.ListShards(ctx, device)
		if err != nil {
			return nil, fmt.Errorf("failed to list shards for %s: %w", device, err)
		}
		for _, metric := range models.AllMetrics {
			seen := make(map[string]struct{})
			for _, shard := range shards {
				for _, energy := range shard.Energies(metric) {
					if _, ok := seen[energy]; ok {
						continue
					}
					seen[energy] = struct{}{}
					units = append(units, models.SeriesKey{Device: device, Metric: metric, Energy: energy})
				}
			}
		}
	}
	return units, nil
}

// Run processes every unit through a bounded worker pool. A failing unit is logged and counted;
// it does not stop the others. Only context cancellation aborts the run.
func (b *BatchRunner) Run(ctx context.Context, cutoff time.Time) (*models.BatchSummary, error) {
	start := time.Now()

	units, err := b.Units(ctx)
	if err != nil {
		return nil, err
	}

	b.log.Info("Starting batch forecast: %d units, %d workers, cutoff %s",
		len(units), b.cfg.Workers, cutoff.Format(models.DateLayout))

	var trained, insufficient, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)

	for _, unit := range units {
		unit := unit
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			status, err := b.RunUnit(gctx, unit, cutoff)
			switch {
			case err != nil:
				failed.Add(1)
				metrics.BatchUnits.WithLabelValues("failed").Inc()
				b.log.Error("Batch unit %s failed: %v", unit, err)
			case status == models.TrainStatusInsufficientHistory:
				insufficient.Add(1)
				metrics.BatchUnits.WithLabelValues(string(status)).Inc()
			default:
				trained.Add(1)
				metrics.BatchUnits.WithLabelValues(string(status)).Inc()
			}
			return nil
		})
	}

	waitErr := g.Wait()

	summary := &models.BatchSummary{
		Units:        len(units),
		Trained:      int(trained.Load()),
		Insufficient: int(insufficient.Load()),
		Failed:       int(failed.Load()),
		Duration:     time.Since(start),
	}

	b.log.Info("Batch forecast finished: %d trained, %d insufficient, %d failed in %s",
		summary.Trained, summary.Insufficient, summary.Failed, summary.Duration.Round(time.Millisecond))

	if waitErr != nil {
		return summary, waitErr
	}
	return summary, ctx.Err()
}

// RunUnit trains one series and persists its batch forecast.
func (b *BatchRunner) RunUnit(ctx context.Context, key models.SeriesKey, cutoff time.Time) (models.TrainStatus, error) {
	outcome, err := b.trainer.Train(ctx, key, cutoff)
	if err != nil {
		return "", err
	}
	if outcome.Status != models.TrainStatusTrained {
		return outcome.Status, nil
	}

	artifact := outcome.Artifact
	fitted := FittedModel{Family: artifact.Family, State: artifact.State}

	points, err := project(b.trainer.Model(), fitted, artifact.LastObservedDate, b.cfg.HorizonDays)
	if err != nil {
		return "", err
	}

	result := &models.ForecastResult{
		Key:         key,
		Family:      artifact.Family,
		Forecast:    points,
		GeneratedAt: time.Now().UTC(),
	}
	if err := b.forecasts.Save(ctx, result); err != nil {
		return "", err
	}
	return outcome.Status, nil
}
