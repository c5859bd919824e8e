package drift

import (
	"math"

	"CalibrationMonitorAPI/internal/models"
)

// Severity is the band a measurement magnitude falls into.
type Severity int

const (
	Normal Severity = iota
	Warning
	OutOfTolerance
	Ignored
)

func (s Severity) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case Warning:
		return "WARNING"
	case OutOfTolerance:
		return "OUT_OF_TOLERANCE"
	default:
		return "IGNORED"
	}
}

// Classify parses a raw cell and bands it. Unparsable cells are Ignored.
func Classify(cell models.Cell, cfg models.ThresholdConfig) Severity {
	v, err := cell.Float()
	if err != nil {
		return Ignored
	}
	return ClassifyValue(v, cfg)
}

// ClassifyValue bands |v|: warning <= |v| <= tolerance is Warning, above tolerance is
// OutOfTolerance.
func ClassifyValue(v float64, cfg models.ThresholdConfig) Severity {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Ignored
	}

	mag := math.Abs(v)
	switch {
	case mag > cfg.ToleranceLevel:
		return OutOfTolerance
	case mag >= cfg.WarningLevel:
		return Warning
	default:
		return Normal
	}
}
