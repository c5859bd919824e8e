package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"CalibrationMonitorAPI/internal/models"
)

// IMeasurementRepository stores one shard per (device, month).
type IMeasurementRepository interface {
	GetShard(ctx context.Context, device models.DeviceIdentity, period models.Period) (*models.MeasurementShard, error)
	MergeMetric(ctx context.Context, device models.DeviceIdentity, period models.Period, metric models.Metric, rows []models.GridRow) (*models.MeasurementShard, error)
	ReplaceShard(ctx context.Context, shard *models.MeasurementShard) error
	ListShards(ctx context.Context, device models.DeviceIdentity) ([]*models.MeasurementShard, error)
	ListDevices(ctx context.Context) ([]models.DeviceIdentity, error)
}

type MeasurementRepository struct {
	store DocumentStore
}

func NewMeasurementRepository(store DocumentStore) *MeasurementRepository {
	return &MeasurementRepository{store: store}
}

func measurementKey(device models.DeviceIdentity, period models.Period) string {
	return DocKey(device.ID, period.String())
}

// GetShard returns models.ErrNotFound when nothing was saved for the month.
func (r *MeasurementRepository) GetShard(ctx context.Context, device models.DeviceIdentity, period models.Period) (*models.MeasurementShard, error) {
	doc, err := r.store.Get(ctx, CollectionMeasurements, measurementKey(device, period))
	if err != nil {
		return nil, err
	}
	return decodeShard(doc)
}

// MergeMetric replaces one metric field of the shard and leaves the other metrics intact.
func (r *MeasurementRepository) MergeMetric(ctx context.Context, device models.DeviceIdentity, period models.Period, metric models.Metric, rows []models.GridRow) (*models.MeasurementShard, error) {
	days := period.DaysInMonth()
	shaped := make([]models.GridRow, len(rows))
	for i, row := range rows {
		shaped[i] = models.GridRow{Energy: row.Energy, Values: models.ShapeValues(row.Values, days)}
	}

	body, err := json.Marshal(map[string][]models.GridRow{metric.Field(): shaped})
	if err != nil {
		return nil, fmt.Errorf("failed to encode measurement rows: %w", err)
	}

	doc, err := r.store.Merge(ctx, &Document{
		Collection: CollectionMeasurements,
		Partition:  device.ID,
		Key:        measurementKey(device, period),
		Body:       body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to merge measurements: %w", err)
	}
	return decodeShard(doc)
}

// ReplaceShard overwrites every metric of the shard.
func (r *MeasurementRepository) ReplaceShard(ctx context.Context, shard *models.MeasurementShard) error {
	days := shard.Period.DaysInMonth()
	fields := make(map[string][]models.GridRow, len(shard.Metrics))
	for field, rows := range shard.Metrics {
		shaped := make([]models.GridRow, len(rows))
		for i, row := range rows {
			shaped[i] = models.GridRow{Energy: row.Energy, Values: models.ShapeValues(row.Values, days)}
		}
		fields[field] = shaped
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode measurement shard: %w", err)
	}

	doc := &Document{
		Collection: CollectionMeasurements,
		Partition:  shard.Device.ID,
		Key:        measurementKey(shard.Device, shard.Period),
		Body:       body,
	}
	if err := r.store.Put(ctx, doc); err != nil {
		return fmt.Errorf("failed to replace measurements: %w", err)
	}
	shard.Version = doc.Version
	return nil
}

// ListShards returns every shard of a device ordered by month. Each shard is read as its own
// snapshot.
func (r *MeasurementRepository) ListShards(ctx context.Context, device models.DeviceIdentity) ([]*models.MeasurementShard, error) {
	docs, err := r.store.List(ctx, CollectionMeasurements, device.ID)
	if err != nil {
		return nil, err
	}

	shards := make([]*models.MeasurementShard, 0, len(docs))
	for i := range docs {
		shard, err := decodeShard(&docs[i])
		if err != nil {
			return nil, err
		}
		shards = append(shards, shard)
	}

	sort.Slice(shards, func(i, j int) bool { return shards[i].Period.Before(shards[j].Period) })
	return shards, nil
}

func (r *MeasurementRepository) ListDevices(ctx context.Context) ([]models.DeviceIdentity, error) {
	partitions, err := r.store.Partitions(ctx, CollectionMeasurements)
	if err != nil {
		return nil, err
	}

	devices := make([]models.DeviceIdentity, 0, len(partitions))
	for _, p := range partitions {
		devices = append(devices, models.DeviceIdentity{ID: p})
	}
	return devices, nil
}

func decodeShard(doc *Document) (*models.MeasurementShard, error) {
	parts, err := SplitDocKey(doc.Key)
	if err != nil {
		return nil, err
	}
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed measurement key %q", doc.Key)
	}

	period, err := models.ParsePeriod(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed measurement key %q: %w", doc.Key, err)
	}

	metrics := map[string][]models.GridRow{}
	if err := json.Unmarshal(doc.Body, &metrics); err != nil {
		return nil, fmt.Errorf("failed to decode measurement shard %s: %w", doc.Key, err)
	}

	return &models.MeasurementShard{
		Device:  models.DeviceIdentity{ID: parts[0]},
		Period:  period,
		Metrics: metrics,
		Version: doc.Version,
	}, nil
}

// IsNotFound reports whether err is a missing-document error.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
