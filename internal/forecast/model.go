package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"CalibrationMonitorAPI/internal/models"
)

// z for a two-sided 95% interval.
const z95 = 1.96

var ErrSeriesTooShort = errors.New("series too short to fit")

// Estimate is one predicted step with its 95% band.
type Estimate struct {
	Mean  float64
	Lower float64
	Upper float64
}

// FittedModel is the opaque state a TimeSeriesModel produced.
type FittedModel struct {
	Family string
	State  json.RawMessage
}

// TimeSeriesModel is a univariate forecasting strategy. Fit must honour ctx cancellation.
type TimeSeriesModel interface {
	Name() string
	Fit(ctx context.Context, series []float64) (FittedModel, error)
	Forecast(fitted FittedModel, horizon int) ([]Estimate, error)
}

type ModelConfig struct {
	AROrder      int
	Differencing int
	SeasonLength int
}

const (
	FamilyARIMA       = "arima"
	FamilyHoltWinters = "holtwinters"
)

// NewModel builds the strategy named by FORECAST_MODEL.
func NewModel(name string, cfg ModelConfig) (TimeSeriesModel, error) {
	switch name {
	case FamilyARIMA, "":
		return NewARIMA(cfg.AROrder, cfg.Differencing), nil
	case FamilyHoltWinters:
		return NewHoltWinters(cfg.SeasonLength), nil
	default:
		return nil, fmt.Errorf("unknown forecast model %q", name)
	}
}

// project forecasts horizon days after anchor and dates each estimate.
func project(model TimeSeriesModel, fitted FittedModel, anchor time.Time, horizon int) ([]models.ForecastPoint, error) {
	if horizon <= 0 {
		return nil, nil
	}

	estimates, err := model.Forecast(fitted, horizon)
	if err != nil {
		return nil, fmt.Errorf("failed to forecast: %w", err)
	}

	points := make([]models.ForecastPoint, len(estimates))
	for i, e := range estimates {
		points[i] = models.ForecastPoint{
			Date:           anchor.AddDate(0, 0, i+1).Format(models.DateLayout),
			PredictedValue: e.Mean,
			LowerBound:     e.Lower,
			UpperBound:     e.Upper,
		}
	}
	return points, nil
}

func decodeState(fitted FittedModel, family string, state any) error {
	if fitted.Family != family {
		return fmt.Errorf("model family %q cannot be read by %s", fitted.Family, family)
	}
	if err := json.Unmarshal(fitted.State, state); err != nil {
		return fmt.Errorf("failed to decode %s state: %w", family, err)
	}
	return nil
}

func band(mean, sigma float64, step int) Estimate {
	margin := z95 * sigma * math.Sqrt(float64(step))
	return Estimate{Mean: mean, Lower: mean - margin, Upper: mean + margin}
}
