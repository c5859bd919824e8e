package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"CalibrationMonitorAPI/internal/drift"
	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/metrics"
	"CalibrationMonitorAPI/internal/models"
	"CalibrationMonitorAPI/internal/notify"
	"CalibrationMonitorAPI/internal/repository"
)

// ThresholdSource resolves the warning and tolerance bands of a metric.
type ThresholdSource interface {
	For(m models.Metric) models.ThresholdConfig
}

type IMeasurementService interface {
	Submit(ctx context.Context, sub *models.MeasurementSubmission, source string) (*models.SubmitResult, error)
	ProcessMessage(ctx context.Context, topic string, payload []byte) error
	CheckDrift(req *models.DriftCheckRequest) (*models.DriftCheckResult, error)
	GetShard(ctx context.Context, device models.DeviceIdentity, period models.Period) (*models.MeasurementShard, error)
	ListShards(ctx context.Context, device models.DeviceIdentity) ([]*models.MeasurementShard, error)
	ListDevices(ctx context.Context) ([]models.DeviceIdentity, error)
}

// EventSink receives drift events; nil fields are skipped.
type EventSink struct {
	Hub       notify.Broadcaster
	Publisher notify.Publisher
	Topic     string
}

type MeasurementService struct {
	repo       repository.IMeasurementRepository
	alerts     IAlertService
	thresholds ThresholdSource
	events     EventSink
	log        *logger.Logger
}

func NewMeasurementService(repo repository.IMeasurementRepository, alerts IAlertService, thresholds ThresholdSource, events EventSink, log *logger.Logger) *MeasurementService {
	return &MeasurementService{
		repo:       repo,
		alerts:     alerts,
		thresholds: thresholds,
		events:     events,
		log:        log,
	}
}

// Submit saves one metric grid for a device-month. New warnings are computed against what was
// stored before this save; the alert decision uses the grid as stored after it.
func (s *MeasurementService) Submit(ctx context.Context, sub *models.MeasurementSubmission, source string) (*models.SubmitResult, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	device := models.NormalizeDeviceID(sub.DeviceID)
	cfg := s.thresholds.For(sub.Metric)

	previous, err := s.repo.GetShard(ctx, device, sub.Period)
	if err != nil && !repository.IsNotFound(err) {
		return nil, fmt.Errorf("failed to read previous measurements: %w", err)
	}

	// detect on the grid as it will be stored: days past the month and superseded duplicate
	// rows never reach storage
	rows := models.NormalizeRows(sub.Rows, sub.Period.DaysInMonth())
	normalized := models.RawRows(rows)

	warnings := drift.Detect(previous.Rows(sub.Metric), normalized, cfg)
	dropped := drift.Unparsable(normalized)
	if dropped > 0 {
		metrics.CellsDropped.WithLabelValues("ingest").Add(float64(dropped))
		s.log.Debug("%s %s %s: %d unparsable cell(s) kept as submitted", device, sub.Metric, sub.Period, dropped)
	}

	shard, err := s.repo.MergeMetric(ctx, device, sub.Period, sub.Metric, rows)
	if err != nil {
		return nil, err
	}
	metrics.MeasurementsIngested.WithLabelValues(sub.Metric.Field(), source).Inc()
	metrics.DriftWarnings.WithLabelValues(sub.Metric.Field()).Add(float64(len(warnings)))

	key := models.AlertKey{Device: device, Metric: sub.Metric, Period: sub.Period}
	stored := models.RawRows(shard.Rows(sub.Metric))
	status, err := s.alerts.Reconcile(ctx, key, drift.OutOfToleranceCells(sub.Period, stored, cfg))
	if err != nil {
		// measurements are already saved; the next submission reconciles again
		s.log.Error("Alert reconcile for %s failed: %v", key, err)
	}

	if warnings == nil {
		warnings = []models.NewWarning{}
	}
	result := &models.SubmitResult{
		DeviceID:     device.ID,
		Period:       sub.Period,
		Metric:       sub.Metric,
		Energies:     shard.Energies(sub.Metric),
		NewWarnings:  warnings,
		AlertStatus:  status,
		DroppedCells: dropped,
	}

	if len(warnings) > 0 || status == models.AlertSent {
		s.emit(models.DriftEvent{
			Device:      device.ID,
			Metric:      sub.Metric,
			Period:      sub.Period,
			NewWarnings: warnings,
			AlertStatus: status,
			Timestamp:   time.Now().UTC(),
		})
	}

	s.log.Info("Stored %s %s for %s from %s: %d row(s), %d new warning(s), alert %s",
		sub.Metric, sub.Period, device, source, len(rows), len(warnings), status)
	return result, nil
}

func (s *MeasurementService) emit(event models.DriftEvent) {
	if s.events.Hub != nil {
		s.events.Hub.Broadcast("drift", event)
	}
	if s.events.Publisher != nil && s.events.Topic != "" {
		if err := s.events.Publisher.PublishJSON(s.events.Topic, event); err != nil {
			s.log.Warn("Failed to publish drift event for %s: %v", event.Device, err)
		}
	}
}

// ProcessMessage ingests a submission received on topic. The device may be omitted from the
// payload when the last topic segment names it.
func (s *MeasurementService) ProcessMessage(ctx context.Context, topic string, payload []byte) error {
	var sub models.MeasurementSubmission
	if err := json.Unmarshal(payload, &sub); err != nil {
		return &models.ValidationError{Field: "payload", Message: fmt.Sprintf("undecodable message on %s: %v", topic, err)}
	}

	if strings.TrimSpace(sub.DeviceID) == "" {
		if i := strings.LastIndex(topic, "/"); i >= 0 && i < len(topic)-1 {
			sub.DeviceID = topic[i+1:]
		}
	}

	_, err := s.Submit(ctx, &sub, "mqtt")
	return err
}

// CheckDrift is the storage-free form of the ingestion analysis.
func (s *MeasurementService) CheckDrift(req *models.DriftCheckRequest) (*models.DriftCheckResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cfg := s.thresholds.For(req.Metric)
	if req.Thresholds != nil {
		cfg = *req.Thresholds
	}

	rows := models.RawRows(models.NormalizeRows(req.Rows, checkDays(req)))
	res := &models.DriftCheckResult{
		NewWarnings:  drift.Detect(req.Previous, rows, cfg),
		DroppedCells: drift.Unparsable(rows),
	}
	if res.NewWarnings == nil {
		res.NewWarnings = []models.NewWarning{}
	}
	if req.Period != nil {
		res.OutOfTolerance = models.CanonicalAlertSet(drift.OutOfToleranceCells(*req.Period, rows, cfg))
	}
	return res, nil
}

// checkDays is the grid width of a drift check: the month length when a period is given,
// otherwise the longest submitted row.
func checkDays(req *models.DriftCheckRequest) int {
	if req.Period != nil {
		return req.Period.DaysInMonth()
	}
	days := 0
	for _, r := range req.Rows {
		if n := len(r.Values()); n > days {
			days = n
		}
	}
	return days
}

func (s *MeasurementService) GetShard(ctx context.Context, device models.DeviceIdentity, period models.Period) (*models.MeasurementShard, error) {
	shard, err := s.repo.GetShard(ctx, device, period)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("measurements for %s %s: %w", device, period, models.ErrNotFound)
	}
	return shard, err
}

func (s *MeasurementService) ListShards(ctx context.Context, device models.DeviceIdentity) ([]*models.MeasurementShard, error) {
	return s.repo.ListShards(ctx, device)
}

func (s *MeasurementService) ListDevices(ctx context.Context) ([]models.DeviceIdentity, error) {
	return s.repo.ListDevices(ctx)
}
