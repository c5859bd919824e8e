package forecast

import (
	"context"
	"math"
	"sort"
	"testing"
	"time"

	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/models"
	"CalibrationMonitorAPI/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var device = models.NormalizeDeviceID("center-a-linac-1")

func day(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

type seeded struct {
	start  time.Time
	values []float64
}

// seed writes daily values for each energy of one metric, one merge per month.
func seed(t *testing.T, repo *repository.MeasurementRepository, metric models.Metric, energies map[string]seeded) {
	t.Helper()

	grids := map[models.Period]map[string][]models.Cell{}
	for energy, s := range energies {
		for i, v := range s.values {
			date := s.start.AddDate(0, 0, i)
			p := models.PeriodOf(date)
			if grids[p] == nil {
				grids[p] = map[string][]models.Cell{}
			}
			cells := grids[p][energy]
			if cells == nil {
				cells = make([]models.Cell, p.DaysInMonth())
			}
			cells[date.Day()-1] = models.CellFromFloat(v)
			grids[p][energy] = cells
		}
	}

	for p, byEnergy := range grids {
		names := make([]string, 0, len(byEnergy))
		for e := range byEnergy {
			names = append(names, e)
		}
		sort.Strings(names)

		rows := make([]models.GridRow, 0, len(names))
		for _, e := range names {
			rows = append(rows, models.GridRow{Energy: e, Values: byEnergy[e]})
		}
		_, err := repo.MergeMetric(context.Background(), device, p, metric, rows)
		require.NoError(t, err)
	}
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func wavy(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		x := float64(i)
		out[i] = 1 + 0.01*x + 0.05*math.Sin(0.9*x) + 0.02*math.Sin(0.37*x*x)
	}
	return out
}

type fixture struct {
	measurements *repository.MeasurementRepository
	artifacts    *repository.ModelRepository
	forecasts    *repository.ForecastRepository
	aggregator   *Aggregator
	trainer      *Trainer
}

func newFixture(t *testing.T, model TimeSeriesModel) *fixture {
	t.Helper()
	store := repository.NewMemoryDocumentStore()
	f := &fixture{
		measurements: repository.NewMeasurementRepository(store),
		artifacts:    repository.NewModelRepository(store),
		forecasts:    repository.NewForecastRepository(store),
	}
	f.aggregator = NewAggregator(f.measurements, logger.Discard())
	f.trainer = NewTrainer(f.aggregator, f.artifacts, model, TrainerConfig{
		MinimumPoints: 10,
		FitTimeout:    5 * time.Second,
		Reducer:       Mean{},
	}, logger.Discard())
	return f
}

func TestTrainRefusalBoundary(t *testing.T) {
	f := newFixture(t, NewARIMA(2, 1))
	seed(t, f.measurements, models.MetricOutput, map[string]seeded{
		"6X":  {start: day("2025-01-01"), values: wavy(5)},
		"10X": {start: day("2025-01-01"), values: wavy(20)},
	})
	ctx := context.Background()
	cutoff := day("2025-01-31")

	short := models.SeriesKey{Device: device, Metric: models.MetricOutput, Energy: "6X"}
	outcome, err := f.trainer.Train(ctx, short, cutoff)
	require.NoError(t, err)
	assert.Equal(t, models.TrainStatusInsufficientHistory, outcome.Status)
	assert.Equal(t, 5, outcome.Points)
	assert.Nil(t, outcome.Artifact)
	_, err = f.artifacts.Get(ctx, short)
	assert.ErrorIs(t, err, models.ErrNotFound)

	long := models.SeriesKey{Device: device, Metric: models.MetricOutput, Energy: "10X"}
	outcome, err = f.trainer.Train(ctx, long, cutoff)
	require.NoError(t, err)
	assert.Equal(t, models.TrainStatusTrained, outcome.Status)
	require.NotNil(t, outcome.Artifact)
	assert.Equal(t, day("2025-01-20"), outcome.Artifact.LastObservedDate)
	assert.Equal(t, 20, outcome.Artifact.Points)

	stored, err := f.artifacts.Get(ctx, long)
	require.NoError(t, err)
	assert.Equal(t, FamilyARIMA, stored.Family)
}

func TestTrainRejectsInvalidKey(t *testing.T) {
	f := newFixture(t, NewARIMA(2, 1))
	_, err := f.trainer.Train(context.Background(), models.SeriesKey{Device: device, Metric: models.MetricOutput}, day("2025-01-31"))
	assert.True(t, models.IsValidation(err))
}

func TestBatchHorizonContract(t *testing.T) {
	f := newFixture(t, NewARIMA(2, 1))
	seed(t, f.measurements, models.MetricOutput, map[string]seeded{
		"6X": {start: day("2024-12-20"), values: wavy(36)},
	})

	runner := NewBatchRunner(f.measurements, f.trainer, f.forecasts, BatchConfig{HorizonDays: 7, Workers: 2}, logger.Discard())
	summary, err := runner.Run(context.Background(), day("2025-01-31"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Trained)

	key := models.SeriesKey{Device: device, Metric: models.MetricOutput, Energy: "6X"}
	result, err := f.forecasts.Get(context.Background(), key, nil)
	require.NoError(t, err)
	require.Len(t, result.Forecast, 7)

	want := []string{"2025-01-25", "2025-01-26", "2025-01-27", "2025-01-28", "2025-01-29", "2025-01-30", "2025-01-31"}
	for i, p := range result.Forecast {
		assert.Equal(t, want[i], p.Date)
		assert.LessOrEqual(t, p.LowerBound, p.PredictedValue)
		assert.GreaterOrEqual(t, p.UpperBound, p.PredictedValue)
	}
	assert.Nil(t, result.Period)
}

func TestBatchIsolatesUnits(t *testing.T) {
	f := newFixture(t, NewARIMA(1, 1))
	seed(t, f.measurements, models.MetricOutput, map[string]seeded{
		"6X":  {start: day("2025-01-01"), values: wavy(15)},
		"10X": {start: day("2025-01-01"), values: wavy(3)},
	})
	seed(t, f.measurements, models.MetricFlatness, map[string]seeded{
		"6X": {start: day("2025-01-01"), values: wavy(12)},
	})

	runner := NewBatchRunner(f.measurements, f.trainer, f.forecasts, BatchConfig{HorizonDays: 7, Workers: 4}, logger.Discard())

	units, err := runner.Units(context.Background())
	require.NoError(t, err)
	assert.Len(t, units, 3)

	summary, err := runner.Run(context.Background(), day("2025-01-31"))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Units)
	assert.Equal(t, 2, summary.Trained)
	assert.Equal(t, 1, summary.Insufficient)
	assert.Zero(t, summary.Failed)
}

func TestAggregatorReducersAndCutoff(t *testing.T) {
	store := repository.NewMemoryDocumentStore()
	measurements := repository.NewMeasurementRepository(store)
	jan := models.Period{Year: 2025, Month: time.January}

	require.NoError(t, measurements.ReplaceShard(context.Background(), &models.MeasurementShard{
		Device: device,
		Period: jan,
		Metrics: map[string][]models.GridRow{
			models.MetricOutput.Field(): {
				{Energy: "6X", Values: []models.Cell{"1", "", "bad", "4", "5"}},
				{Energy: "10X", Values: []models.Cell{"9"}},
				{Energy: "6X", Values: []models.Cell{"3"}},
			},
		},
	}))

	agg := NewAggregator(measurements, logger.Discard())
	key := models.SeriesKey{Device: device, Metric: models.MetricOutput, Energy: "6X"}

	last, err := agg.Series(context.Background(), key, day("2025-01-04"), LastWriteWins{})
	require.NoError(t, err)
	assert.Equal(t, []models.SeriesPoint{
		{Date: day("2025-01-01"), Value: 3},
		{Date: day("2025-01-04"), Value: 4},
	}, last)

	mean, err := agg.Series(context.Background(), key, day("2025-01-31"), Mean{})
	require.NoError(t, err)
	assert.Equal(t, []models.SeriesPoint{
		{Date: day("2025-01-01"), Value: 2},
		{Date: day("2025-01-04"), Value: 4},
		{Date: day("2025-01-05"), Value: 5},
	}, mean)

	before, err := agg.SeriesBefore(context.Background(), key, jan, Mean{})
	require.NoError(t, err)
	assert.Empty(t, before)
}

func TestParseReducer(t *testing.T) {
	r, err := ParseReducer("mean")
	require.NoError(t, err)
	assert.Equal(t, "mean", r.Name())

	r, err = ParseReducer("last")
	require.NoError(t, err)
	assert.Equal(t, "last", r.Name())

	_, err = ParseReducer("median")
	assert.Error(t, err)
}

func newServer(f *fixture, ttl time.Duration) *Server {
	return NewServer(f.trainer, f.aggregator, f.forecasts, ServerConfig{
		InlineReducer: LastWriteWins{},
		CacheTTL:      ttl,
	}, logger.Discard())
}

func TestInlineForecastsOnlyTargetMonth(t *testing.T) {
	f := newFixture(t, NewARIMA(2, 1))
	seed(t, f.measurements, models.MetricOutput, map[string]seeded{
		"6X": {start: day("2025-01-01"), values: wavy(45)},
	})
	srv := newServer(f, 0)
	defer srv.Close()

	key := models.SeriesKey{Device: device, Metric: models.MetricOutput, Energy: "6X"}
	march := models.Period{Year: 2025, Month: time.March}

	outcome, err := srv.Inline(context.Background(), key, march)
	require.NoError(t, err)
	require.Equal(t, models.TrainStatusTrained, outcome.Status)
	assert.Equal(t, 45, outcome.Points)

	forecast := outcome.Result.Forecast
	require.Len(t, forecast, 31)
	assert.Equal(t, "2025-03-01", forecast[0].Date)
	assert.Equal(t, "2025-03-31", forecast[30].Date)

	stored, err := srv.Retrieve(context.Background(), key, &march)
	require.NoError(t, err)
	assert.Equal(t, forecast, stored.Forecast)

	_, err = srv.Retrieve(context.Background(), key, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.artifacts.Get(context.Background(), key)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestInlineExcludesTargetMonthHistory(t *testing.T) {
	f := newFixture(t, NewARIMA(2, 1))
	seed(t, f.measurements, models.MetricOutput, map[string]seeded{
		"6X": {start: day("2025-01-01"), values: wavy(45)},
	})
	srv := newServer(f, 0)
	defer srv.Close()

	key := models.SeriesKey{Device: device, Metric: models.MetricOutput, Energy: "6X"}
	outcome, err := srv.Inline(context.Background(), key, models.Period{Year: 2025, Month: time.February})
	require.NoError(t, err)
	assert.Equal(t, 31, outcome.Points)
	require.Len(t, outcome.Result.Forecast, 28)
	assert.Equal(t, "2025-02-01", outcome.Result.Forecast[0].Date)
}

func TestInlineInsufficientHistory(t *testing.T) {
	f := newFixture(t, NewARIMA(2, 1))
	seed(t, f.measurements, models.MetricOutput, map[string]seeded{
		"6X": {start: day("2025-01-01"), values: wavy(4)},
	})
	srv := newServer(f, 0)
	defer srv.Close()

	key := models.SeriesKey{Device: device, Metric: models.MetricOutput, Energy: "6X"}
	outcome, err := srv.Inline(context.Background(), key, models.Period{Year: 2025, Month: time.February})
	require.NoError(t, err)
	assert.Equal(t, models.TrainStatusInsufficientHistory, outcome.Status)
	assert.Nil(t, outcome.Result)
}

func TestInlineCache(t *testing.T) {
	f := newFixture(t, NewARIMA(2, 1))
	seed(t, f.measurements, models.MetricOutput, map[string]seeded{
		"6X": {start: day("2025-01-01"), values: wavy(20)},
	})
	key := models.SeriesKey{Device: device, Metric: models.MetricOutput, Energy: "6X"}
	feb := models.Period{Year: 2025, Month: time.February}

	fresh := newServer(f, 0)
	defer fresh.Close()
	first, err := fresh.Inline(context.Background(), key, feb)
	require.NoError(t, err)
	second, err := fresh.Inline(context.Background(), key, feb)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.False(t, second.Cached)

	cached := newServer(f, time.Minute)
	defer cached.Close()
	_, err = cached.Inline(context.Background(), key, feb)
	require.NoError(t, err)
	hit, err := cached.Inline(context.Background(), key, feb)
	require.NoError(t, err)
	assert.True(t, hit.Cached)
}

func TestSubmitRunsInBackground(t *testing.T) {
	f := newFixture(t, NewARIMA(2, 1))
	seed(t, f.measurements, models.MetricOutput, map[string]seeded{
		"6X": {start: day("2025-01-01"), values: wavy(20)},
		"4X": {start: day("2025-01-01"), values: wavy(2)},
	})
	srv := newServer(f, 0)
	defer srv.Close()

	feb := models.Period{Year: 2025, Month: time.February}
	job, err := srv.Submit(models.SeriesKey{Device: device, Metric: models.MetricOutput, Energy: "6X"}, feb)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	short, err := srv.Submit(models.SeriesKey{Device: device, Metric: models.MetricOutput, Energy: "4X"}, feb)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := srv.Job(job.ID)
		return err == nil && j.State == models.JobDone
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		j, err := srv.Job(short.ID)
		return err == nil && j.State == models.JobInsufficientHistory
	}, 5*time.Second, 10*time.Millisecond)

	done, err := srv.Job(job.ID)
	require.NoError(t, err)
	require.NotNil(t, done.Result)
	assert.Len(t, done.Result.Forecast, 28)

	_, err = srv.Job("missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReducersCollapseDuplicates(t *testing.T) {
	values := []float64{1, 2, 6}
	assert.InDelta(t, 3.0, Mean{}.Reduce(values), 1e-12)
	assert.Equal(t, 6.0, LastWriteWins{}.Reduce(values))
	assert.Equal(t, 0.5, Mean{}.Reduce([]float64{0.5}))
}
