package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ridge keeps the normal equations solvable for flat or collinear series.
const ridge = 1e-8

// ARIMA fits an AR(p) model by least squares on the d-times differenced series and integrates
// the forecast back. Moving average terms are not estimated.
type ARIMA struct {
	p, d int
}

type arimaState struct {
	P     int       `json:"p"`
	D     int       `json:"d"`
	Const float64   `json:"const"`
	AR    []float64 `json:"ar"`
	Sigma float64   `json:"sigma"`
	// Tail holds the last p values of the differenced series.
	Tail []float64 `json:"tail"`
	// Levels[k] is the last value of the series differenced k times, k < d.
	Levels []float64 `json:"levels"`
}

func NewARIMA(p, d int) *ARIMA {
	if p < 0 {
		p = 0
	}
	if d < 0 {
		d = 0
	}
	return &ARIMA{p: p, d: d}
}

func (a *ARIMA) Name() string {
	return FamilyARIMA
}

func difference(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, len(series)-1)
	for i := 1; i < len(series); i++ {
		out[i-1] = series[i] - series[i-1]
	}
	return out
}

func (a *ARIMA) Fit(ctx context.Context, series []float64) (FittedModel, error) {
	if err := ctx.Err(); err != nil {
		return FittedModel{}, err
	}

	levels := make([]float64, 0, a.d)
	y := series
	for k := 0; k < a.d; k++ {
		if len(y) < 2 {
			return FittedModel{}, fmt.Errorf("%w: %d points cannot be differenced %d times", ErrSeriesTooShort, len(series), a.d)
		}
		levels = append(levels, y[len(y)-1])
		y = difference(y)
	}

	// Shrink the order until there are more equations than unknowns.
	p := a.p
	for p > 0 && len(y)-p < p+2 {
		p--
	}
	if len(y) < 2 {
		return FittedModel{}, fmt.Errorf("%w: %d points", ErrSeriesTooShort, len(series))
	}

	n := len(y) - p
	cols := p + 1
	x := mat.NewDense(n, cols, nil)
	target := mat.NewVecDense(n, nil)
	for t := 0; t < n; t++ {
		x.Set(t, 0, 1)
		for j := 1; j <= p; j++ {
			x.Set(t, j, y[p+t-j])
		}
		target.SetVec(t, y[p+t])
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	for i := 0; i < cols; i++ {
		xtx.Set(i, i, xtx.At(i, i)+ridge)
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), target)

	if err := ctx.Err(); err != nil {
		return FittedModel{}, err
	}

	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil && !isConditionWarning(err) {
		return FittedModel{}, fmt.Errorf("failed to solve AR normal equations: %w", err)
	}

	var predicted mat.VecDense
	predicted.MulVec(x, &beta)
	residuals := make([]float64, n)
	floats.SubTo(residuals, target.RawVector().Data, predicted.RawVector().Data)

	dof := n - cols
	if dof < 1 {
		dof = 1
	}
	sigma := math.Sqrt(floats.Dot(residuals, residuals) / float64(dof))

	ar := make([]float64, p)
	for j := 0; j < p; j++ {
		ar[j] = beta.AtVec(j + 1)
	}

	state := arimaState{
		P:      p,
		D:      a.d,
		Const:  beta.AtVec(0),
		AR:     ar,
		Sigma:  sigma,
		Tail:   append([]float64(nil), y[len(y)-p:]...),
		Levels: levels,
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return FittedModel{}, fmt.Errorf("failed to encode arima state: %w", err)
	}
	return FittedModel{Family: FamilyARIMA, State: raw}, nil
}

// isConditionWarning reports a near-singular solve; gonum still returns the solution.
func isConditionWarning(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond)
}

func (a *ARIMA) Forecast(fitted FittedModel, horizon int) ([]Estimate, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}

	var st arimaState
	if err := decodeState(fitted, FamilyARIMA, &st); err != nil {
		return nil, err
	}

	history := append([]float64(nil), st.Tail...)
	diffs := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		next := st.Const
		for j, phi := range st.AR {
			next += phi * history[len(history)-1-j]
		}
		diffs[h] = next
		history = append(history, next)
	}

	// Integrate back through each differencing level, innermost first.
	values := diffs
	for k := len(st.Levels) - 1; k >= 0; k-- {
		integrated := make([]float64, horizon)
		prev := st.Levels[k]
		for h, dv := range values {
			prev += dv
			integrated[h] = prev
		}
		values = integrated
	}

	out := make([]Estimate, horizon)
	for h, v := range values {
		out[h] = band(v, st.Sigma, h+1)
	}
	return out, nil
}
