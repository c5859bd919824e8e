package drift

import (
	"CalibrationMonitorAPI/internal/models"
)

type identity struct {
	energy   string
	dayIndex int
}

// Detect returns the cells of next that are in the warning band now but were not in the
// warning band at the same (energy, day) in previous. Output follows the row then column
// order of next.
func Detect(previous []models.GridRow, next []models.RawRow, cfg models.ThresholdConfig) []models.NewWarning {
	seen := make(map[identity]struct{})
	for _, row := range previous {
		for i, cell := range row.Values {
			if Classify(cell, cfg) == Warning {
				seen[identity{energy: row.Energy, dayIndex: i}] = struct{}{}
			}
		}
	}

	var out []models.NewWarning
	for _, row := range next {
		energy := row.Energy()
		if energy == "" {
			continue
		}
		for i, cell := range row.Values() {
			if Classify(cell, cfg) != Warning {
				continue
			}
			if _, ok := seen[identity{energy: energy, dayIndex: i}]; ok {
				continue
			}
			v, _ := cell.Float()
			out = append(out, models.NewWarning{Energy: energy, Value: v, Day: i + 1})
		}
	}
	return out
}

// OutOfToleranceCells collects every cell of rows above the tolerance level as an alert candidate
// dated inside period. Cells past the end of the month are not dated and are skipped.
func OutOfToleranceCells(period models.Period, rows []models.RawRow, cfg models.ThresholdConfig) []models.AlertedValue {
	days := period.DaysInMonth()

	var out []models.AlertedValue
	for _, row := range rows {
		energy := row.Energy()
		if energy == "" {
			continue
		}
		for i, cell := range row.Values() {
			if i >= days {
				break
			}
			if Classify(cell, cfg) != OutOfTolerance {
				continue
			}
			v, _ := cell.Float()
			out = append(out, models.AlertedValue{
				Energy: energy,
				Date:   period.Date(i).Format(models.DateLayout),
				Value:  v,
			})
		}
	}
	return out
}

// Unparsable counts non-empty cells that cannot be read as a finite number.
func Unparsable(rows []models.RawRow) int {
	n := 0
	for _, row := range rows {
		for _, cell := range row.Values() {
			if cell.IsEmpty() {
				continue
			}
			if _, err := cell.Float(); err != nil {
				n++
			}
		}
	}
	return n
}
