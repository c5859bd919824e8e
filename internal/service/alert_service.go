package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/metrics"
	"CalibrationMonitorAPI/internal/models"
	"CalibrationMonitorAPI/internal/notify"
	"CalibrationMonitorAPI/internal/repository"
)

// IAlertService decides whether a violation set has to be communicated.
type IAlertService interface {
	Reconcile(ctx context.Context, key models.AlertKey, candidates []models.AlertedValue) (models.AlertStatus, error)
	Get(ctx context.Context, key models.AlertKey) (*models.AlertRecord, error)
	ListByDevice(ctx context.Context, device models.DeviceIdentity) ([]*models.AlertRecord, error)
}

type AlertService struct {
	repo      repository.IAlertRepository
	directory notify.UserDirectory
	notifier  notify.Notifier
	roles     []string
	locks     *keyedMutex
	log       *logger.Logger
}

func NewAlertService(repo repository.IAlertRepository, directory notify.UserDirectory, notifier notify.Notifier, log *logger.Logger) *AlertService {
	return &AlertService{
		repo:      repo,
		directory: directory,
		notifier:  notifier,
		roles:     []string{models.RolePhysicist, models.RoleEngineer},
		locks:     newKeyedMutex(),
		log:       log,
	}
}

// Reconcile compares candidates with the last communicated set for key. Equal sets are a
// NO_CHANGE. A different set is sent and, only once the send succeeded, stored in place of the
// old one. Errors are returned only for bad input or an unreadable store.
func (s *AlertService) Reconcile(ctx context.Context, key models.AlertKey, candidates []models.AlertedValue) (models.AlertStatus, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}

	unlock := s.locks.Lock(key.String())
	defer unlock()

	stored, err := s.repo.Load(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to load alert record %s: %w", key, err)
	}

	candidate := models.CanonicalAlertSet(candidates)
	status := s.reconcile(ctx, key, stored, candidate)
	metrics.AlertReconciles.WithLabelValues(key.Metric.Field(), string(status)).Inc()
	return status, nil
}

func (s *AlertService) reconcile(ctx context.Context, key models.AlertKey, stored *models.AlertRecord, candidate []models.AlertedValue) models.AlertStatus {
	if models.SameAlertSet(stored.AlertedValues, candidate) {
		s.log.Debug("Alert set for %s unchanged (%d values)", key, len(candidate))
		return models.AlertNoChange
	}

	recipients := s.recipients(key.Device)
	if len(recipients) == 0 {
		s.log.Warn("No recipients configured for %s, alert for %s not sent", key.Device, key)
		return models.AlertNoRecipients
	}

	subject, body := composeAlert(key, candidate)
	if err := s.notifier.Send(ctx, recipients, subject, body); err != nil {
		s.log.Warn("Alert for %s not delivered, stored state kept: %v", key, err)
		return models.AlertSendFailed
	}

	if err := s.store(ctx, key, candidate, stored.Version); err != nil {
		s.log.Error("Alert for %s sent but record not stored: %v", key, err)
	}
	return models.AlertSent
}

// store swaps the record in at the version read before the send. A conflict means another
// process committed first: if it stored the same set there is nothing left to do, otherwise its
// newer set is kept and the next reconcile compares against it.
func (s *AlertService) store(ctx context.Context, key models.AlertKey, candidate []models.AlertedValue, version int64) error {
	record := &models.AlertRecord{Key: key, AlertedValues: candidate}

	err := s.repo.CompareAndSwap(ctx, record, version)
	if err == nil || !errors.Is(err, models.ErrVersionConflict) {
		return err
	}
	metrics.AlertSwapConflicts.Inc()

	current, err := s.repo.Load(ctx, key)
	if err != nil {
		return err
	}
	if models.SameAlertSet(current.AlertedValues, candidate) {
		return nil
	}
	return fmt.Errorf("record moved to version %d with a different set: %w", current.Version, models.ErrVersionConflict)
}

func (s *AlertService) recipients(device models.DeviceIdentity) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, role := range s.roles {
		for _, addr := range s.directory.RecipientsFor(device, role) {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

func composeAlert(key models.AlertKey, values []models.AlertedValue) (string, string) {
	if len(values) == 0 {
		subject := fmt.Sprintf("[QA] %s %s back within tolerance for %s", key.Device, key.Metric, key.Period)
		body := fmt.Sprintf("All %s values of %s for %s are back within tolerance.\n", key.Metric, key.Device, key.Period)
		return subject, body
	}

	subject := fmt.Sprintf("[QA] %s %s out of tolerance for %s", key.Device, key.Metric, key.Period)

	var b strings.Builder
	fmt.Fprintf(&b, "%d %s value(s) of %s are out of tolerance:\n\n", len(values), key.Metric, key.Device)
	for _, v := range values {
		fmt.Fprintf(&b, "  %-8s %s  %g\n", v.Energy, v.Date, v.Value)
	}
	return subject, b.String()
}

func (s *AlertService) Get(ctx context.Context, key models.AlertKey) (*models.AlertRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	rec, err := s.repo.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.Version == 0 {
		return nil, fmt.Errorf("alert record %s: %w", key, models.ErrNotFound)
	}
	return rec, nil
}

func (s *AlertService) ListByDevice(ctx context.Context, device models.DeviceIdentity) ([]*models.AlertRecord, error) {
	return s.repo.ListByDevice(ctx, device)
}
