package forecast

import (
	"context"
	"fmt"
	"time"

	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/metrics"
	"CalibrationMonitorAPI/internal/models"
	"CalibrationMonitorAPI/internal/repository"
)

type TrainerConfig struct {
	MinimumPoints int
	FitTimeout    time.Duration
	Reducer       Reducer
}

// Trainer fits a model over an aggregated series and persists the artifact.
type Trainer struct {
	aggregator *Aggregator
	artifacts  repository.IModelRepository
	model      TimeSeriesModel
	cfg        TrainerConfig
	log        *logger.Logger
}

func NewTrainer(aggregator *Aggregator, artifacts repository.IModelRepository, model TimeSeriesModel, cfg TrainerConfig, log *logger.Logger) *Trainer {
	if cfg.MinimumPoints < 2 {
		cfg.MinimumPoints = 10
	}
	if cfg.Reducer == nil {
		cfg.Reducer = Mean{}
	}
	return &Trainer{
		aggregator: aggregator,
		artifacts:  artifacts,
		model:      model,
		cfg:        cfg,
		log:        log,
	}
}

func (t *Trainer) Model() TimeSeriesModel {
	return t.model
}

func (t *Trainer) MinimumPoints() int {
	return t.cfg.MinimumPoints
}

// Train aggregates key up to cutoff and fits it. Too little history is reported through
// TrainOutcome.Status, never as an error.
func (t *Trainer) Train(ctx context.Context, key models.SeriesKey, cutoff time.Time) (*models.TrainOutcome, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	series, err := t.aggregator.Series(ctx, key, cutoff, t.cfg.Reducer)
	if err != nil {
		return nil, err
	}

	return t.TrainSeries(ctx, key, series)
}

// TrainSeries fits an already aggregated series and persists the artifact keyed by key.
func (t *Trainer) TrainSeries(ctx context.Context, key models.SeriesKey, series []models.SeriesPoint) (*models.TrainOutcome, error) {
	outcome, fitted, err := t.fitSeries(ctx, key, series)
	if err != nil || outcome.Status != models.TrainStatusTrained {
		return outcome, err
	}

	artifact := &models.ModelArtifact{
		Key:              key,
		Family:           fitted.Family,
		State:            fitted.State,
		LastObservedDate: series[len(series)-1].Date,
		Points:           len(series),
		TrainedAt:        time.Now().UTC(),
	}
	if err := t.artifacts.Save(ctx, artifact); err != nil {
		return nil, err
	}

	outcome.Artifact = artifact
	t.log.Info("Trained %s model for %s on %d points", fitted.Family, key, len(series))
	return outcome, nil
}

// fitSeries refuses short series and otherwise fits under the configured timeout.
func (t *Trainer) fitSeries(ctx context.Context, key models.SeriesKey, series []models.SeriesPoint) (*models.TrainOutcome, FittedModel, error) {
	outcome := &models.TrainOutcome{
		Points:        len(series),
		MinimumPoints: t.cfg.MinimumPoints,
	}

	if len(series) < t.cfg.MinimumPoints {
		outcome.Status = models.TrainStatusInsufficientHistory
		metrics.TrainingOutcomes.WithLabelValues(t.model.Name(), string(outcome.Status)).Inc()
		t.log.Debug("Refusing to train %s: %d points, need %d", key, len(series), t.cfg.MinimumPoints)
		return outcome, FittedModel{}, nil
	}

	fitCtx := ctx
	if t.cfg.FitTimeout > 0 {
		var cancel context.CancelFunc
		fitCtx, cancel = context.WithTimeout(ctx, t.cfg.FitTimeout)
		defer cancel()
	}

	start := time.Now()
	fitted, err := t.model.Fit(fitCtx, seriesValues(series))
	metrics.TrainingDuration.WithLabelValues(t.model.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TrainingOutcomes.WithLabelValues(t.model.Name(), "failed").Inc()
		return nil, FittedModel{}, fmt.Errorf("failed to fit %s for %s: %w", t.model.Name(), key, err)
	}

	outcome.Status = models.TrainStatusTrained
	metrics.TrainingOutcomes.WithLabelValues(t.model.Name(), string(outcome.Status)).Inc()
	return outcome, fitted, nil
}
