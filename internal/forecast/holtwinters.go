package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

var smoothingGrid = []float64{0.1, 0.3, 0.5, 0.7, 0.9}

// HoltWinters is additive level + trend + seasonality. With fewer than two full seasons of
// history it degrades to Holt's linear trend method.
type HoltWinters struct {
	season int
}

type holtWintersState struct {
	Alpha  float64   `json:"alpha"`
	Beta   float64   `json:"beta"`
	Gamma  float64   `json:"gamma"`
	Level  float64   `json:"level"`
	Trend  float64   `json:"trend"`
	Season []float64 `json:"season,omitempty"`
	// Phase is the seasonal index of the first forecast step.
	Phase int     `json:"phase"`
	Sigma float64 `json:"sigma"`
}

func NewHoltWinters(season int) *HoltWinters {
	if season < 2 {
		season = 7
	}
	return &HoltWinters{season: season}
}

func (h *HoltWinters) Name() string {
	return FamilyHoltWinters
}

func (h *HoltWinters) Fit(ctx context.Context, series []float64) (FittedModel, error) {
	if len(series) < 3 {
		return FittedModel{}, fmt.Errorf("%w: %d points", ErrSeriesTooShort, len(series))
	}

	seasonal := len(series) >= 2*h.season
	gammas := []float64{0}
	if seasonal {
		gammas = smoothingGrid
	}

	var (
		best    holtWintersState
		bestSSE = math.Inf(1)
	)
	for _, alpha := range smoothingGrid {
		if err := ctx.Err(); err != nil {
			return FittedModel{}, err
		}
		for _, beta := range smoothingGrid {
			for _, gamma := range gammas {
				var (
					st  holtWintersState
					sse float64
				)
				if seasonal {
					st, sse = h.runSeasonal(series, alpha, beta, gamma)
				} else {
					st, sse = runLinear(series, alpha, beta)
				}
				if sse < bestSSE {
					best, bestSSE = st, sse
				}
			}
		}
	}

	steps := len(series) - 1
	if seasonal {
		steps = len(series)
	}
	best.Sigma = math.Sqrt(bestSSE / float64(steps))

	raw, err := json.Marshal(best)
	if err != nil {
		return FittedModel{}, fmt.Errorf("failed to encode holt-winters state: %w", err)
	}
	return FittedModel{Family: FamilyHoltWinters, State: raw}, nil
}

func (h *HoltWinters) runSeasonal(y []float64, alpha, beta, gamma float64) (holtWintersState, float64) {
	m := h.season
	first := stat.Mean(y[:m], nil)
	second := stat.Mean(y[m:2*m], nil)

	level := first
	trend := (second - first) / float64(m)
	season := make([]float64, m)
	for i := 0; i < m; i++ {
		season[i] = y[i] - first
	}

	var sse float64
	for t, obs := range y {
		s := season[t%m]
		err := obs - (level + trend + s)
		sse += err * err

		prevLevel := level
		level = alpha*(obs-s) + (1-alpha)*(level+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
		season[t%m] = gamma*(obs-level) + (1-gamma)*s
	}

	return holtWintersState{
		Alpha:  alpha,
		Beta:   beta,
		Gamma:  gamma,
		Level:  level,
		Trend:  trend,
		Season: season,
		Phase:  len(y) % m,
	}, sse
}

func runLinear(y []float64, alpha, beta float64) (holtWintersState, float64) {
	level := y[0]
	trend := y[1] - y[0]

	var sse float64
	for _, obs := range y[1:] {
		err := obs - (level + trend)
		sse += err * err

		prevLevel := level
		level = alpha*obs + (1-alpha)*(level+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
	}

	return holtWintersState{Alpha: alpha, Beta: beta, Level: level, Trend: trend}, sse
}

func (h *HoltWinters) Forecast(fitted FittedModel, horizon int) ([]Estimate, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}

	var st holtWintersState
	if err := decodeState(fitted, FamilyHoltWinters, &st); err != nil {
		return nil, err
	}

	out := make([]Estimate, horizon)
	for i := 0; i < horizon; i++ {
		step := i + 1
		mean := st.Level + float64(step)*st.Trend
		if len(st.Season) > 0 {
			mean += st.Season[(st.Phase+i)%len(st.Season)]
		}
		out[i] = band(mean, st.Sigma, step)
	}
	return out, nil
}
