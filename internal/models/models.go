// internal/models/models.go

package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// DeviceIdentity is the single addressing scheme for a calibrated machine.
type DeviceIdentity struct {
	ID string
}

func (d DeviceIdentity) String() string {
	return d.ID
}

func (d DeviceIdentity) IsZero() bool {
	return d.ID == ""
}

func (d DeviceIdentity) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.ID)
}

func (d *DeviceIdentity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*d = NormalizeDeviceID(s)
	return nil
}

// NormalizeDeviceID trims, lower-cases and collapses whitespace runs into "-".
func NormalizeDeviceID(raw string) DeviceIdentity {
	fields := strings.Fields(strings.ToLower(raw))
	return DeviceIdentity{ID: strings.Join(fields, "-")}
}

// LegacyDeviceID maps the old center-name + machine-name addressing onto a DeviceIdentity.
func LegacyDeviceID(center, machine string) DeviceIdentity {
	if strings.TrimSpace(machine) == "" {
		return NormalizeDeviceID(center)
	}
	return NormalizeDeviceID(center + " " + machine)
}

// Metric is the closed set of measured quantities.
type Metric int

const (
	MetricOutput Metric = iota + 1
	MetricFlatness
	MetricInline
	MetricCrossline
)

var AllMetrics = []Metric{MetricOutput, MetricFlatness, MetricInline, MetricCrossline}

var metricFields = map[Metric]string{
	MetricOutput:    "output",
	MetricFlatness:  "flatness",
	MetricInline:    "inline",
	MetricCrossline: "crossline",
}

// Field is the storage field name used inside a measurement shard.
func (m Metric) Field() string {
	if f, ok := metricFields[m]; ok {
		return f
	}
	return fmt.Sprintf("metric(%d)", int(m))
}

func (m Metric) String() string {
	return m.Field()
}

func (m Metric) Valid() bool {
	_, ok := metricFields[m]
	return ok
}

func ParseMetric(s string) (Metric, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for m, f := range metricFields {
		if f == key {
			return m, nil
		}
	}
	return 0, &ValidationError{Field: "metric", Message: fmt.Sprintf("unknown metric %q", s)}
}

func (m Metric) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Field())
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMetric(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ThresholdConfig holds the severity bands of one metric.
type ThresholdConfig struct {
	WarningLevel   float64 `json:"warning_level" yaml:"warning_level"`
	ToleranceLevel float64 `json:"tolerance_level" yaml:"tolerance_level"`
}

func (c ThresholdConfig) Validate() error {
	if c.WarningLevel < 0 || c.ToleranceLevel < 0 {
		return &ValidationError{Field: "thresholds", Message: "levels must be non-negative"}
	}
	if c.WarningLevel > c.ToleranceLevel {
		return &ValidationError{Field: "thresholds", Message: "warning_level must not exceed tolerance_level"}
	}
	return nil
}

// Period is a calendar month used to shard measurement storage.
type Period struct {
	Year  int
	Month time.Month
}

func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Period{}, &ValidationError{Field: "period", Message: fmt.Sprintf("expected YYYY-MM, got %q", s)}
	}
	return PeriodOf(t), nil
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Start is midnight UTC of the first day of the month.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is midnight UTC of the last day of the month.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

func (p Period) DaysInMonth() int {
	return p.End().Day()
}

// Date returns the calendar date of a zero-based day index.
func (p Period) Date(dayIndex int) time.Time {
	return p.Start().AddDate(0, 0, dayIndex)
}

func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

func (p Period) Next() Period {
	return PeriodOf(p.Start().AddDate(0, 1, 0))
}

func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Period) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePeriod(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Cell is one raw measurement slot. Devices and the QA software send both strings and
// numbers; an empty Cell is the missing-day marker.
type Cell string

const EmptyCell Cell = ""

func (c *Cell) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*c = EmptyCell
		return nil
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Cell(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*c = Cell(n.String())
		return nil
	}
}

func (c Cell) IsEmpty() bool {
	return strings.TrimSpace(string(c)) == ""
}

// Float parses the cell. Empty, non-numeric, NaN and infinite cells yield a *ParseError.
func (c Cell) Float() (float64, error) {
	s := strings.TrimSpace(string(c))
	if s == "" {
		return 0, &ParseError{Raw: string(c), Reason: "empty"}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ParseError{Raw: string(c), Reason: "not a number"}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ParseError{Raw: string(c), Reason: "not finite"}
	}
	return v, nil
}

func CellFromFloat(v float64) Cell {
	return Cell(strconv.FormatFloat(v, 'f', -1, 64))
}

// GridRow is one stored energy channel of a metric: exactly DaysInMonth values.
type GridRow struct {
	Energy string `json:"energy"`
	Values []Cell `json:"values"`
}

// Raw turns a stored row back into submission form.
func (r GridRow) Raw() RawRow {
	out := make(RawRow, 0, len(r.Values)+1)
	out = append(out, Cell(r.Energy))
	return append(out, r.Values...)
}

// RawRows turns stored rows back into submission form.
func RawRows(rows []GridRow) []RawRow {
	out := make([]RawRow, len(rows))
	for i, r := range rows {
		out[i] = r.Raw()
	}
	return out
}

// RawRow is a submitted row: element 0 is the energy, the rest are day values.
type RawRow []Cell

func (r RawRow) Energy() string {
	if len(r) == 0 {
		return ""
	}
	return strings.TrimSpace(string(r[0]))
}

func (r RawRow) Values() []Cell {
	if len(r) < 2 {
		return nil
	}
	return r[1:]
}

// NormalizeRows converts raw rows into stored grid rows with exactly days slots each.
// Rows with a blank energy are skipped; a repeated energy keeps its last occurrence in the
// position of its first.
func NormalizeRows(raw []RawRow, days int) []GridRow {
	index := make(map[string]int)
	var rows []GridRow
	for _, r := range raw {
		energy := r.Energy()
		if energy == "" {
			continue
		}
		row := GridRow{Energy: energy, Values: ShapeValues(r.Values(), days)}
		if i, ok := index[energy]; ok {
			rows[i] = row
			continue
		}
		index[energy] = len(rows)
		rows = append(rows, row)
	}
	return rows
}

// ShapeValues pads with EmptyCell or truncates to exactly days slots.
func ShapeValues(values []Cell, days int) []Cell {
	out := make([]Cell, days)
	for i := 0; i < days && i < len(values); i++ {
		out[i] = Cell(strings.TrimSpace(string(values[i])))
	}
	return out
}

// MeasurementShard is one (device, month) document: metric field -> rows.
type MeasurementShard struct {
	Device  DeviceIdentity       `json:"-"`
	Period  Period               `json:"-"`
	Metrics map[string][]GridRow `json:"-"`
	Version int64                `json:"-"`
}

func (s *MeasurementShard) Rows(m Metric) []GridRow {
	if s == nil || s.Metrics == nil {
		return nil
	}
	return s.Metrics[m.Field()]
}

// Energies lists the channels present for a metric, in stored order.
func (s *MeasurementShard) Energies(m Metric) []string {
	var out []string
	for _, r := range s.Rows(m) {
		out = append(out, r.Energy)
	}
	return out
}

// MeasurementSubmission is one ingestion request for a device/metric/month grid.
type MeasurementSubmission struct {
	DeviceID string   `json:"device_id"`
	Period   Period   `json:"period"`
	Metric   Metric   `json:"metric"`
	Rows     []RawRow `json:"rows"`
}

func (s *MeasurementSubmission) Validate() error {
	if NormalizeDeviceID(s.DeviceID).IsZero() {
		return &ValidationError{Field: "device_id", Message: "device_id is required"}
	}
	if s.Period.Year == 0 {
		return &ValidationError{Field: "period", Message: "period is required"}
	}
	if !s.Metric.Valid() {
		return &ValidationError{Field: "metric", Message: "metric is invalid"}
	}
	if len(s.Rows) == 0 {
		return &ValidationError{Field: "rows", Message: "at least one row is required"}
	}
	for i, r := range s.Rows {
		if r.Energy() == "" {
			return &ValidationError{Field: "rows", Message: fmt.Sprintf("row %d has no energy channel", i)}
		}
	}
	return nil
}

// SubmitResult reports what one ingestion did.
type SubmitResult struct {
	DeviceID     string       `json:"device_id"`
	Period       Period       `json:"period"`
	Metric       Metric       `json:"metric"`
	Energies     []string     `json:"energies"`
	NewWarnings  []NewWarning `json:"new_warnings"`
	AlertStatus  AlertStatus  `json:"alert_status"`
	DroppedCells int          `json:"dropped_cells"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Services  struct {
		Database bool `json:"database"`
		MQTT     bool `json:"mqtt"`
	} `json:"services"`
}
