package forecast

import (
	"context"
	"fmt"
	"sort"
	"time"

	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/metrics"
	"CalibrationMonitorAPI/internal/models"
	"CalibrationMonitorAPI/internal/repository"

	"gonum.org/v1/gonum/stat"
)

// Reducer collapses the values observed for one calendar date, in stored order.
type Reducer interface {
	Name() string
	Reduce(values []float64) float64
}

// LastWriteWins keeps the last value seen for a date.
type LastWriteWins struct{}

func (LastWriteWins) Name() string { return "last" }

func (LastWriteWins) Reduce(values []float64) float64 {
	return values[len(values)-1]
}

// Mean averages every value seen for a date.
type Mean struct{}

func (Mean) Name() string { return "mean" }

func (Mean) Reduce(values []float64) float64 {
	return stat.Mean(values, nil)
}

func ParseReducer(name string) (Reducer, error) {
	switch name {
	case "last", "":
		return LastWriteWins{}, nil
	case "mean":
		return Mean{}, nil
	default:
		return nil, fmt.Errorf("unknown reducer %q", name)
	}
}

// Aggregator flattens monthly shards into one chronological series per energy channel.
type Aggregator struct {
	measurements repository.IMeasurementRepository
	log          *logger.Logger
}

func NewAggregator(measurements repository.IMeasurementRepository, log *logger.Logger) *Aggregator {
	return &Aggregator{measurements: measurements, log: log}
}

// Series returns the points of key dated on or before cutoff, one per date, ascending.
// Each shard is read as its own snapshot; no lock is held across the scan.
func (a *Aggregator) Series(ctx context.Context, key models.SeriesKey, cutoff time.Time, reducer Reducer) ([]models.SeriesPoint, error) {
	shards, err := a.measurements.ListShards(ctx, key.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to list shards for %s: %w", key.Device, err)
	}

	cutoffDay := truncateDay(cutoff)
	cutoffPeriod := models.PeriodOf(cutoffDay)

	byDate := make(map[time.Time][]float64)
	dropped := 0
	for _, shard := range shards {
		if cutoffPeriod.Before(shard.Period) {
			continue
		}
		days := shard.Period.DaysInMonth()
		for _, row := range shard.Rows(key.Metric) {
			if row.Energy != key.Energy {
				continue
			}
			for i, cell := range row.Values {
				if i >= days || cell.IsEmpty() {
					continue
				}
				date := shard.Period.Date(i)
				if date.After(cutoffDay) {
					continue
				}
				v, err := cell.Float()
				if err != nil {
					dropped++
					continue
				}
				byDate[date] = append(byDate[date], v)
			}
		}
	}

	if dropped > 0 {
		metrics.CellsDropped.WithLabelValues("aggregate").Add(float64(dropped))
		a.log.Debug("Dropped %d unparsable cells while aggregating %s", dropped, key)
	}

	points := make([]models.SeriesPoint, 0, len(byDate))
	for date, values := range byDate {
		points = append(points, models.SeriesPoint{Date: date, Value: reducer.Reduce(values)})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

// SeriesBefore returns the points of key dated strictly before the target month.
func (a *Aggregator) SeriesBefore(ctx context.Context, key models.SeriesKey, target models.Period, reducer Reducer) ([]models.SeriesPoint, error) {
	return a.Series(ctx, key, target.Start().AddDate(0, 0, -1), reducer)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seriesValues(points []models.SeriesPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}
