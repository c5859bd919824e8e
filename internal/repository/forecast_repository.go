package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"CalibrationMonitorAPI/internal/models"
)

// IForecastRepository persists batch results under (device, metric, energy) and inline results
// under (device, metric, energy, period).
type IForecastRepository interface {
	Save(ctx context.Context, result *models.ForecastResult) error
	Get(ctx context.Context, key models.SeriesKey, period *models.Period) (*models.ForecastResult, error)
}

type ForecastRepository struct {
	store DocumentStore
}

func NewForecastRepository(store DocumentStore) *ForecastRepository {
	return &ForecastRepository{store: store}
}

func forecastKey(key models.SeriesKey, period *models.Period) string {
	if period == nil {
		return seriesKey(key)
	}
	return DocKey(key.Device.ID, key.Metric.Field(), key.Energy, period.String())
}

func (r *ForecastRepository) Save(ctx context.Context, result *models.ForecastResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode forecast: %w", err)
	}

	err = r.store.Put(ctx, &Document{
		Collection: CollectionForecasts,
		Partition:  result.Key.Device.ID,
		Key:        forecastKey(result.Key, result.Period),
		Body:       body,
	})
	if err != nil {
		return fmt.Errorf("failed to save forecast: %w", err)
	}
	return nil
}

// Get returns models.ErrNotFound when no forecast was persisted for the key.
func (r *ForecastRepository) Get(ctx context.Context, key models.SeriesKey, period *models.Period) (*models.ForecastResult, error) {
	doc, err := r.store.Get(ctx, CollectionForecasts, forecastKey(key, period))
	if err != nil {
		return nil, err
	}

	result := &models.ForecastResult{}
	if err := json.Unmarshal(doc.Body, result); err != nil {
		return nil, fmt.Errorf("failed to decode forecast %s: %w", doc.Key, err)
	}
	return result, nil
}
