package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"CalibrationMonitorAPI/internal/models"
)

type IModelRepository interface {
	Save(ctx context.Context, artifact *models.ModelArtifact) error
	Get(ctx context.Context, key models.SeriesKey) (*models.ModelArtifact, error)
}

type ModelRepository struct {
	store DocumentStore
}

func NewModelRepository(store DocumentStore) *ModelRepository {
	return &ModelRepository{store: store}
}

func seriesKey(key models.SeriesKey) string {
	return DocKey(key.Device.ID, key.Metric.Field(), key.Energy)
}

// Save overwrites the artifact of the series.
func (r *ModelRepository) Save(ctx context.Context, artifact *models.ModelArtifact) error {
	body, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to encode model artifact: %w", err)
	}

	err = r.store.Put(ctx, &Document{
		Collection: CollectionModels,
		Partition:  artifact.Key.Device.ID,
		Key:        seriesKey(artifact.Key),
		Body:       body,
	})
	if err != nil {
		return fmt.Errorf("failed to save model artifact: %w", err)
	}
	return nil
}

func (r *ModelRepository) Get(ctx context.Context, key models.SeriesKey) (*models.ModelArtifact, error) {
	doc, err := r.store.Get(ctx, CollectionModels, seriesKey(key))
	if err != nil {
		return nil, err
	}

	artifact := &models.ModelArtifact{}
	if err := json.Unmarshal(doc.Body, artifact); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact %s: %w", doc.Key, err)
	}
	return artifact, nil
}
