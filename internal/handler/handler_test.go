package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"CalibrationMonitorAPI/internal/app"
	"CalibrationMonitorAPI/internal/config"
	"CalibrationMonitorAPI/internal/handler"
	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/models"
	"CalibrationMonitorAPI/internal/notify"
	"CalibrationMonitorAPI/internal/repository"
	"CalibrationMonitorAPI/internal/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type okDB struct{ err error }

func (d okDB) Health(ctx context.Context) error { return d.err }

type fixture struct {
	handler http.Handler
	app     *app.App
	sent    *int
}

func testConfig() *config.Config {
	return &config.Config{
		Forecast: config.ForecastConfig{
			Model:         "arima",
			MinimumPoints: 10,
			HorizonDays:   7,
			BatchWorkers:  2,
			InlineReducer: "last",
			BatchReducer:  "mean",
			AROrder:       2,
			Differencing:  1,
			SeasonLength:  7,
		},
		Security: config.SecurityConfig{CORSAllowedOrigins: []string{"*"}, CORSAllowedMethods: []string{"GET", "POST", "PUT"}},
		Thresholds: config.ThresholdsFile{
			Thresholds: config.DefaultThresholds(),
			Recipients: config.RecipientsConfig{
				Default: map[string][]string{models.RolePhysicist: {"qa@example.org"}},
			},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	cfg := testConfig()

	sent := 0
	notifier := notify.NotifierFunc(func(ctx context.Context, recipients []string, subject, body string) error {
		sent++
		return nil
	})

	a, err := app.Build(cfg, log, repository.NewMemoryDocumentStore(), app.Wiring{Notifier: notifier})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	srv := server.New(cfg, log)
	srv.RegisterHandlers(
		handler.NewHealthHandler(okDB{}, nil, log),
		nil,
		handler.NewMeasurementHandler(a.MeasurementService, log),
		handler.NewAlertHandler(a.AlertService, log),
		handler.NewForecastHandler(a.Trainer, a.Server, a.Batch, log),
	)
	return &fixture{handler: srv.Handler(), app: a, sent: &sent}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitAndReadShard(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/devices/Center%20A%20Linac%201/measurements/2025-03/output",
		map[string]interface{}{"rows": [][]interface{}{{"6X", 1.85, "0.3", 2.4}}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res models.SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "center-a-linac-1", res.DeviceID)
	assert.Equal(t, []models.NewWarning{{Energy: "6X", Value: 1.85, Day: 1}}, res.NewWarnings)
	assert.Equal(t, models.AlertSent, res.AlertStatus)
	assert.Equal(t, 1, *f.sent)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodGet, "/api/v1/devices/center-a-linac-1/measurements/2025-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var shard struct {
		Metrics map[string][]models.GridRow `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shard))
	require.Len(t, shard.Metrics["output"], 1)
	assert.Len(t, shard.Metrics["output"][0].Values, 31)

	rec = f.do(t, http.MethodGet, "/api/v1/alerts/center-a-linac-1/output/2025-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2025-03-03")
}

func TestValidationAndNotFoundMapping(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/devices/linac/measurements/2025-13/output", map[string]interface{}{"rows": [][]string{{"6X"}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/devices/linac/measurements/2025-03/dose", map[string]interface{}{"rows": [][]string{{"6X"}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/devices/linac/measurements/2025-03", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/forecasts/linac/output/6X", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/forecasts/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDriftCheckEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/drift/check", map[string]interface{}{
		"metric":     "output",
		"thresholds": map[string]float64{"warning_level": 1.8, "tolerance_level": 2.0},
		"previous":   []interface{}{},
		"rows":       [][]interface{}{{"6X", 1.85}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res models.DriftCheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, []models.NewWarning{{Energy: "6X", Value: 1.85, Day: 1}}, res.NewWarnings)
}

func TestReconcileEndpointIsIdempotent(t *testing.T) {
	f := newFixture(t)
	body := map[string]interface{}{
		"device_id": "linac",
		"metric":    "flatness",
		"period":    "2025-03",
		"values":    []map[string]interface{}{{"energy": "6X", "date": "2025-03-02", "value": 2.2}},
	}

	var first, second models.ReconcileResponse
	rec := f.do(t, http.MethodPost, "/api/v1/alerts/reconcile", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = f.do(t, http.MethodPost, "/api/v1/alerts/reconcile", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))

	assert.Equal(t, models.AlertSent, first.Status)
	assert.Equal(t, models.AlertNoChange, second.Status)
	assert.Equal(t, 1, *f.sent)
}

func seedDaily(t *testing.T, f *fixture, days int) {
	t.Helper()
	ctx := context.Background()
	device := models.NormalizeDeviceID("linac")
	start := time.Date(2024, time.December, 20, 0, 0, 0, 0, time.UTC)

	byPeriod := map[models.Period][]models.Cell{}
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		p := models.PeriodOf(d)
		if byPeriod[p] == nil {
			byPeriod[p] = make([]models.Cell, p.DaysInMonth())
		}
		byPeriod[p][d.Day()-1] = models.CellFromFloat(1 + 0.01*float64(i) + 0.02*float64(i%3))
	}
	for p, cells := range byPeriod {
		_, err := f.app.Measurements.MergeMetric(ctx, device, p, models.MetricOutput, []models.GridRow{{Energy: "6X", Values: cells}})
		require.NoError(t, err)
	}
}

func TestTrainBatchAndRetrieve(t *testing.T) {
	f := newFixture(t)
	seedDaily(t, f, 36)

	rec := f.do(t, http.MethodPost, "/api/v1/forecasts/train", map[string]string{
		"device_id": "linac", "metric": "output", "energy": "6X", "cutoff": "2025-01-31",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"trained"`)

	rec = f.do(t, http.MethodPost, "/api/v1/forecasts/batch", map[string]string{"cutoff": "2025-01-31"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary models.BatchSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Trained)

	rec = f.do(t, http.MethodGet, "/api/v1/forecasts/linac/output/6X", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.ForecastResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Forecast, 7)
	assert.Equal(t, "2025-01-25", result.Forecast[0].Date)
	assert.Equal(t, "2025-01-31", result.Forecast[6].Date)
}

func TestInlineAsyncJob(t *testing.T) {
	f := newFixture(t)
	seedDaily(t, f, 36)

	rec := f.do(t, http.MethodPost, "/api/v1/forecasts/inline", map[string]interface{}{
		"device_id": "linac", "metric": "output", "energy": "6X", "period": "2025-02", "async": true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var job models.ForecastJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.NotEmpty(t, job.ID)

	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/api/v1/forecasts/jobs/"+job.ID, nil)
		var j models.ForecastJob
		if json.Unmarshal(rec.Body.Bytes(), &j) != nil {
			return false
		}
		return j.State == models.JobDone
	}, 5*time.Second, 20*time.Millisecond)

	rec = f.do(t, http.MethodGet, "/api/v1/forecasts/linac/output/6X/2025-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.ForecastResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.Forecast, 28)
}

func TestHealthEndpoints(t *testing.T) {
	log := logger.Discard()
	h := handler.NewHealthHandler(okDB{err: errors.New("down")}, nil, log)

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f := newFixture(t)
	for _, path := range []string{"/health", "/health/live", "/health/ready", "/metrics"} {
		rec := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, fmt.Sprintf("GET %s", path))
	}
}
