package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"CalibrationMonitorAPI/internal/models"
)

// IAlertRepository holds the last communicated violation set per (device, metric, period).
type IAlertRepository interface {
	Load(ctx context.Context, key models.AlertKey) (*models.AlertRecord, error)
	CompareAndSwap(ctx context.Context, record *models.AlertRecord, expectedVersion int64) error
	ListByDevice(ctx context.Context, device models.DeviceIdentity) ([]*models.AlertRecord, error)
}

type AlertRepository struct {
	store DocumentStore
}

func NewAlertRepository(store DocumentStore) *AlertRepository {
	return &AlertRepository{store: store}
}

func alertKey(key models.AlertKey) string {
	return DocKey(key.Device.ID, key.Metric.Field(), key.Period.String())
}

// Load returns the stored record. A key never alerted on yields an empty record at version 0.
func (r *AlertRepository) Load(ctx context.Context, key models.AlertKey) (*models.AlertRecord, error) {
	doc, err := r.store.Get(ctx, CollectionAlerts, alertKey(key))
	if IsNotFound(err) {
		return &models.AlertRecord{Key: key}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert record: %w", err)
	}
	return decodeAlert(key, doc)
}

// CompareAndSwap replaces the stored set if nobody wrote since expectedVersion was read.
func (r *AlertRepository) CompareAndSwap(ctx context.Context, record *models.AlertRecord, expectedVersion int64) error {
	values := record.AlertedValues
	if values == nil {
		values = []models.AlertedValue{}
	}

	body, err := json.Marshal(models.AlertRecord{AlertedValues: values})
	if err != nil {
		return fmt.Errorf("failed to encode alert record: %w", err)
	}

	doc := &Document{
		Collection: CollectionAlerts,
		Partition:  record.Key.Device.ID,
		Key:        alertKey(record.Key),
		Body:       body,
	}
	if err := r.store.CompareAndSwap(ctx, doc, expectedVersion); err != nil {
		return err
	}

	record.Version = doc.Version
	record.UpdatedAt = doc.UpdatedAt
	return nil
}

func (r *AlertRepository) ListByDevice(ctx context.Context, device models.DeviceIdentity) ([]*models.AlertRecord, error) {
	docs, err := r.store.List(ctx, CollectionAlerts, device.ID)
	if err != nil {
		return nil, err
	}

	records := make([]*models.AlertRecord, 0, len(docs))
	for i := range docs {
		parts, err := SplitDocKey(docs[i].Key)
		if err != nil {
			return nil, err
		}
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed alert key %q", docs[i].Key)
		}

		metric, err := models.ParseMetric(parts[1])
		if err != nil {
			return nil, err
		}
		period, err := models.ParsePeriod(parts[2])
		if err != nil {
			return nil, err
		}

		rec, err := decodeAlert(models.AlertKey{Device: device, Metric: metric, Period: period}, &docs[i])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Key.Period != records[j].Key.Period {
			return records[i].Key.Period.Before(records[j].Key.Period)
		}
		return records[i].Key.Metric < records[j].Key.Metric
	})
	return records, nil
}

func decodeAlert(key models.AlertKey, doc *Document) (*models.AlertRecord, error) {
	rec := &models.AlertRecord{}
	if err := json.Unmarshal(doc.Body, rec); err != nil {
		return nil, fmt.Errorf("failed to decode alert record %s: %w", doc.Key, err)
	}
	rec.Key = key
	rec.Version = doc.Version
	rec.UpdatedAt = doc.UpdatedAt
	return rec, nil
}
