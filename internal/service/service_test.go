package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CalibrationMonitorAPI/internal/config"
	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/models"
	"CalibrationMonitorAPI/internal/notify"
	"CalibrationMonitorAPI/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	linac  = models.NormalizeDeviceID("Center A Linac 1")
	mar25  = models.Period{Year: 2025, Month: time.March}
	outKey = models.AlertKey{Device: linac, Metric: models.MetricOutput, Period: mar25}
)

type staticDirectory map[string][]string

func (d staticDirectory) RecipientsFor(device models.DeviceIdentity, role string) []string {
	return d[role]
}

type sentMessage struct {
	recipients []string
	subject    string
	body       string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	fail error
}

func (n *recordingNotifier) Send(ctx context.Context, recipients []string, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, sentMessage{recipients: recipients, subject: subject, body: body})
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingHub struct {
	mu     sync.Mutex
	events []interface{}
}

func (h *recordingHub) Broadcast(msgType string, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, payload)
}

func defaultDirectory() staticDirectory {
	return staticDirectory{
		models.RolePhysicist: {"physicist@example.org", "shared@example.org"},
		models.RoleEngineer:  {"shared@example.org", "engineer@example.org"},
	}
}

func newAlertFixture(dir staticDirectory) (*AlertService, *repository.AlertRepository, *recordingNotifier) {
	repo := repository.NewAlertRepository(repository.NewMemoryDocumentStore())
	notifier := &recordingNotifier{}
	return NewAlertService(repo, dir, notifier, logger.Discard()), repo, notifier
}

func violation(energy, date string, v float64) models.AlertedValue {
	return models.AlertedValue{Energy: energy, Date: date, Value: v}
}

func TestReconcileSendsOnceForSameSet(t *testing.T) {
	ctx := context.Background()
	svc, _, notifier := newAlertFixture(defaultDirectory())

	set := []models.AlertedValue{violation("6X", "2025-03-04", 2.3)}

	status, err := svc.Reconcile(ctx, outKey, set)
	require.NoError(t, err)
	assert.Equal(t, models.AlertSent, status)

	status, err = svc.Reconcile(ctx, outKey, set)
	require.NoError(t, err)
	assert.Equal(t, models.AlertNoChange, status)

	require.Equal(t, 1, notifier.count())
	assert.Equal(t, []string{"physicist@example.org", "shared@example.org", "engineer@example.org"}, notifier.sent[0].recipients)
	assert.Contains(t, notifier.sent[0].body, "2025-03-04")
}

func TestReconcileIgnoresOrderAndDuplicates(t *testing.T) {
	ctx := context.Background()
	svc, _, notifier := newAlertFixture(defaultDirectory())

	a := violation("6X", "2025-03-04", 2.3)
	b := violation("10X", "2025-03-05", -2.1)

	_, err := svc.Reconcile(ctx, outKey, []models.AlertedValue{a, b})
	require.NoError(t, err)

	status, err := svc.Reconcile(ctx, outKey, []models.AlertedValue{b, a, a})
	require.NoError(t, err)
	assert.Equal(t, models.AlertNoChange, status)
	assert.Equal(t, 1, notifier.count())
}

func TestReconcileSendsEachChange(t *testing.T) {
	ctx := context.Background()
	svc, repo, notifier := newAlertFixture(defaultDirectory())

	s1 := []models.AlertedValue{violation("6X", "2025-03-04", 2.3)}
	s2 := []models.AlertedValue{violation("6X", "2025-03-04", 2.3), violation("6X", "2025-03-05", 2.4)}

	status, err := svc.Reconcile(ctx, outKey, s1)
	require.NoError(t, err)
	assert.Equal(t, models.AlertSent, status)

	status, err = svc.Reconcile(ctx, outKey, s2)
	require.NoError(t, err)
	assert.Equal(t, models.AlertSent, status)
	assert.Equal(t, 2, notifier.count())

	rec, err := repo.Load(ctx, outKey)
	require.NoError(t, err)
	assert.True(t, models.SameAlertSet(s2, rec.AlertedValues))
}

func TestReconcileSendFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	svc, repo, notifier := newAlertFixture(defaultDirectory())
	set := []models.AlertedValue{violation("6X", "2025-03-04", 2.3)}

	notifier.fail = errors.New("broker unavailable")
	status, err := svc.Reconcile(ctx, outKey, set)
	require.NoError(t, err)
	assert.Equal(t, models.AlertSendFailed, status)

	rec, err := repo.Load(ctx, outKey)
	require.NoError(t, err)
	assert.Empty(t, rec.AlertedValues)
	assert.Equal(t, int64(0), rec.Version)

	notifier.fail = nil
	status, err = svc.Reconcile(ctx, outKey, set)
	require.NoError(t, err)
	assert.Equal(t, models.AlertSent, status)
	assert.Equal(t, 1, notifier.count())
}

func TestReconcileWithoutRecipients(t *testing.T) {
	ctx := context.Background()
	svc, repo, notifier := newAlertFixture(staticDirectory{})

	status, err := svc.Reconcile(ctx, outKey, []models.AlertedValue{violation("6X", "2025-03-04", 2.3)})
	require.NoError(t, err)
	assert.Equal(t, models.AlertNoRecipients, status)
	assert.Zero(t, notifier.count())

	rec, err := repo.Load(ctx, outKey)
	require.NoError(t, err)
	assert.Empty(t, rec.AlertedValues)
}

func TestReconcileAnnouncesResolution(t *testing.T) {
	ctx := context.Background()
	svc, repo, notifier := newAlertFixture(defaultDirectory())

	_, err := svc.Reconcile(ctx, outKey, []models.AlertedValue{violation("6X", "2025-03-04", 2.3)})
	require.NoError(t, err)

	status, err := svc.Reconcile(ctx, outKey, nil)
	require.NoError(t, err)
	assert.Equal(t, models.AlertSent, status)
	require.Equal(t, 2, notifier.count())
	assert.Contains(t, notifier.sent[1].subject, "back within tolerance")

	rec, err := repo.Load(ctx, outKey)
	require.NoError(t, err)
	assert.Empty(t, rec.AlertedValues)
	assert.Equal(t, int64(2), rec.Version)
}

func TestReconcileEmptySetOnFreshKeyIsNoChange(t *testing.T) {
	svc, _, notifier := newAlertFixture(defaultDirectory())

	status, err := svc.Reconcile(context.Background(), outKey, nil)
	require.NoError(t, err)
	assert.Equal(t, models.AlertNoChange, status)
	assert.Zero(t, notifier.count())
}

func TestReconcileConcurrentCallersSendOnce(t *testing.T) {
	ctx := context.Background()
	svc, _, notifier := newAlertFixture(defaultDirectory())
	set := []models.AlertedValue{violation("6X", "2025-03-04", 2.3)}

	var wg sync.WaitGroup
	statuses := make([]models.AlertStatus, 8)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i], _ = svc.Reconcile(ctx, outKey, set)
		}(i)
	}
	wg.Wait()

	sent := 0
	for _, s := range statuses {
		if s == models.AlertSent {
			sent++
		}
	}
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, notifier.count())
}

func TestReconcileRejectsBadKey(t *testing.T) {
	svc, _, _ := newAlertFixture(defaultDirectory())

	_, err := svc.Reconcile(context.Background(), models.AlertKey{Metric: models.MetricOutput, Period: mar25}, nil)
	assert.True(t, models.IsValidation(err))
}

func TestAlertGetMissing(t *testing.T) {
	svc, _, _ := newAlertFixture(defaultDirectory())

	_, err := svc.Get(context.Background(), outKey)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func newMeasurementFixture() (*MeasurementService, *recordingNotifier, *recordingHub, *repository.AlertRepository) {
	store := repository.NewMemoryDocumentStore()
	alertRepo := repository.NewAlertRepository(store)
	notifier := &recordingNotifier{}
	alerts := NewAlertService(alertRepo, defaultDirectory(), notifier, logger.Discard())

	thresholds := &config.ThresholdsFile{Thresholds: config.DefaultThresholds()}
	hub := &recordingHub{}
	svc := NewMeasurementService(repository.NewMeasurementRepository(store), alerts, thresholds, EventSink{Hub: hub}, logger.Discard())
	return svc, notifier, hub, alertRepo
}

func TestSubmitDetectsDriftAndAlerts(t *testing.T) {
	ctx := context.Background()
	svc, notifier, hub, alertRepo := newMeasurementFixture()

	res, err := svc.Submit(ctx, &models.MeasurementSubmission{
		DeviceID: "Center A  Linac 1",
		Period:   mar25,
		Metric:   models.MetricOutput,
		Rows:     []models.RawRow{{"6X", "1.85", "0.2", "2.5"}},
	}, "http")
	require.NoError(t, err)

	assert.Equal(t, "center-a-linac-1", res.DeviceID)
	assert.Equal(t, []models.NewWarning{{Energy: "6X", Value: 1.85, Day: 1}}, res.NewWarnings)
	assert.Equal(t, models.AlertSent, res.AlertStatus)
	assert.Equal(t, []string{"6X"}, res.Energies)
	assert.Equal(t, 1, notifier.count())
	assert.Len(t, hub.events, 1)

	rec, err := alertRepo.Load(ctx, outKey)
	require.NoError(t, err)
	assert.Equal(t, []models.AlertedValue{violation("6X", "2025-03-03", 2.5)}, rec.AlertedValues)

	shard, err := svc.GetShard(ctx, linac, mar25)
	require.NoError(t, err)
	assert.Len(t, shard.Rows(models.MetricOutput)[0].Values, 31)
}

func TestSubmitOnlyReportsNewWarnings(t *testing.T) {
	ctx := context.Background()
	svc, notifier, _, _ := newMeasurementFixture()

	sub := &models.MeasurementSubmission{
		DeviceID: "center-a-linac-1",
		Period:   mar25,
		Metric:   models.MetricOutput,
		Rows:     []models.RawRow{{"6X", "1.85", "2.5"}},
	}
	_, err := svc.Submit(ctx, sub, "http")
	require.NoError(t, err)

	sub.Rows = []models.RawRow{{"6X", "1.85", "2.5", "-1.9"}}
	res, err := svc.Submit(ctx, sub, "http")
	require.NoError(t, err)

	assert.Equal(t, []models.NewWarning{{Energy: "6X", Value: -1.9, Day: 3}}, res.NewWarnings)
	assert.Equal(t, models.AlertNoChange, res.AlertStatus)
	assert.Equal(t, 1, notifier.count())
}

func TestSubmitKeepsOtherMetrics(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newMeasurementFixture()

	for _, m := range []models.Metric{models.MetricOutput, models.MetricFlatness} {
		_, err := svc.Submit(ctx, &models.MeasurementSubmission{
			DeviceID: "center-a-linac-1",
			Period:   mar25,
			Metric:   m,
			Rows:     []models.RawRow{{"6X", "0.1"}},
		}, "http")
		require.NoError(t, err)
	}

	shard, err := svc.GetShard(ctx, linac, mar25)
	require.NoError(t, err)
	assert.Len(t, shard.Rows(models.MetricOutput), 1)
	assert.Len(t, shard.Rows(models.MetricFlatness), 1)
}

func TestSubmitRejectsInvalid(t *testing.T) {
	svc, _, _, _ := newMeasurementFixture()

	_, err := svc.Submit(context.Background(), &models.MeasurementSubmission{Period: mar25, Metric: models.MetricOutput}, "http")
	assert.True(t, models.IsValidation(err))
}

func TestProcessMessageTakesDeviceFromTopic(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newMeasurementFixture()

	payload := []byte(`{"period":"2025-03","metric":"output","rows":[["6X","0.4"]]}`)
	require.NoError(t, svc.ProcessMessage(ctx, "qa/measurements/center-a-linac-1", payload))

	shard, err := svc.GetShard(ctx, linac, mar25)
	require.NoError(t, err)
	assert.Equal(t, models.Cell("0.4"), shard.Rows(models.MetricOutput)[0].Values[0])

	assert.True(t, models.IsValidation(svc.ProcessMessage(ctx, "qa/measurements/x", []byte("{"))))
}

func TestGetShardMissing(t *testing.T) {
	svc, _, _, _ := newMeasurementFixture()

	_, err := svc.GetShard(context.Background(), linac, mar25)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCheckDriftWorkedScenario(t *testing.T) {
	svc, _, _, _ := newMeasurementFixture()

	res, err := svc.CheckDrift(&models.DriftCheckRequest{
		Metric:     models.MetricOutput,
		Thresholds: &models.ThresholdConfig{WarningLevel: 1.8, ToleranceLevel: 2.0},
		Rows:       []models.RawRow{{"6X", "1.85"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.NewWarning{{Energy: "6X", Value: 1.85, Day: 1}}, res.NewWarnings)
	assert.Empty(t, res.OutOfTolerance)

	_, err = svc.CheckDrift(&models.DriftCheckRequest{
		Metric:     models.MetricOutput,
		Thresholds: &models.ThresholdConfig{WarningLevel: 2.5, ToleranceLevel: 2.0},
	})
	assert.True(t, models.IsValidation(err))
}

func TestSubmitIgnoresDaysPastMonthEnd(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newMeasurementFixture()
	feb := models.Period{Year: 2025, Month: time.February}

	row := models.RawRow{"6X"}
	for day := 1; day <= 29; day++ {
		row = append(row, "0.1")
	}
	row[29] = "1.9"

	sub := &models.MeasurementSubmission{DeviceID: "linac", Period: feb, Metric: models.MetricOutput, Rows: []models.RawRow{row}}
	for i := 0; i < 2; i++ {
		res, err := svc.Submit(ctx, sub, "http")
		require.NoError(t, err)
		assert.Empty(t, res.NewWarnings, "submission %d", i+1)
	}

	shard, err := svc.GetShard(ctx, models.NormalizeDeviceID("linac"), feb)
	require.NoError(t, err)
	assert.Len(t, shard.Rows(models.MetricOutput)[0].Values, 28)
}

func TestSubmitRepeatedEnergyUsesStoredRow(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newMeasurementFixture()

	res, err := svc.Submit(ctx, &models.MeasurementSubmission{
		DeviceID: "linac",
		Period:   mar25,
		Metric:   models.MetricOutput,
		Rows:     []models.RawRow{{"6X", "1.9"}, {"6X", "0.1"}},
	}, "http")
	require.NoError(t, err)
	assert.Empty(t, res.NewWarnings)

	shard, err := svc.GetShard(ctx, models.NormalizeDeviceID("linac"), mar25)
	require.NoError(t, err)
	assert.Equal(t, models.Cell("0.1"), shard.Rows(models.MetricOutput)[0].Values[0])

	res, err = svc.Submit(ctx, &models.MeasurementSubmission{
		DeviceID: "linac",
		Period:   mar25,
		Metric:   models.MetricOutput,
		Rows:     []models.RawRow{{"6X", "0.1"}, {"6X", "1.9"}},
	}, "http")
	require.NoError(t, err)
	assert.Equal(t, []models.NewWarning{{Energy: "6X", Value: 1.9, Day: 1}}, res.NewWarnings)
}

func TestCheckDriftTruncatesToPeriod(t *testing.T) {
	svc, _, _, _ := newMeasurementFixture()
	feb := models.Period{Year: 2025, Month: time.February}

	row := models.RawRow{"6X"}
	for day := 1; day <= 29; day++ {
		row = append(row, "0")
	}
	row[29] = "1.9"

	res, err := svc.CheckDrift(&models.DriftCheckRequest{
		Metric:     models.MetricOutput,
		Period:     &feb,
		Thresholds: &models.ThresholdConfig{WarningLevel: 1.8, ToleranceLevel: 2.0},
		Rows:       []models.RawRow{row},
	})
	require.NoError(t, err)
	assert.Empty(t, res.NewWarnings)
}

// replicaWrite stores set for key as another process would, while this process is sending.
func replicaWrite(t *testing.T, repo *repository.AlertRepository, set []models.AlertedValue) notify.NotifierFunc {
	return func(ctx context.Context, recipients []string, subject, body string) error {
		current, err := repo.Load(ctx, outKey)
		require.NoError(t, err)
		return repo.CompareAndSwap(ctx, &models.AlertRecord{Key: outKey, AlertedValues: set}, current.Version)
	}
}

func TestReconcileKeepsNewerSetFromOtherWriter(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewAlertRepository(repository.NewMemoryDocumentStore())
	theirs := []models.AlertedValue{violation("10X", "2025-03-09", 2.7)}
	svc := NewAlertService(repo, defaultDirectory(), replicaWrite(t, repo, theirs), logger.Discard())

	status, err := svc.Reconcile(ctx, outKey, []models.AlertedValue{violation("6X", "2025-03-02", 2.2)})
	require.NoError(t, err)
	assert.Equal(t, models.AlertSent, status)

	rec, err := repo.Load(ctx, outKey)
	require.NoError(t, err)
	assert.Equal(t, theirs, rec.AlertedValues)
	assert.Equal(t, int64(1), rec.Version)
}

func TestReconcileConflictWithSameSetIsSettled(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewAlertRepository(repository.NewMemoryDocumentStore())
	set := []models.AlertedValue{violation("6X", "2025-03-02", 2.2)}
	svc := NewAlertService(repo, defaultDirectory(), replicaWrite(t, repo, set), logger.Discard())

	status, err := svc.Reconcile(ctx, outKey, set)
	require.NoError(t, err)
	assert.Equal(t, models.AlertSent, status)

	status, err = svc.Reconcile(ctx, outKey, set)
	require.NoError(t, err)
	assert.Equal(t, models.AlertNoChange, status)
}
