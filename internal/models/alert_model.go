package models

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// AlertStatus is the outcome of one reconcile call.
type AlertStatus string

const (
	AlertNoChange     AlertStatus = "NO_CHANGE"
	AlertSent         AlertStatus = "SENT"
	AlertSendFailed   AlertStatus = "SEND_FAILED"
	AlertNoRecipients AlertStatus = "NO_RECIPIENTS"
)

// Recipient roles understood by the user directory.
const (
	RolePhysicist = "physicist"
	RoleEngineer  = "engineer"
)

// AlertKey addresses one Alert Record.
type AlertKey struct {
	Device DeviceIdentity `json:"device_id"`
	Metric Metric         `json:"metric"`
	Period Period         `json:"period"`
}

func (k AlertKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Device, k.Metric, k.Period)
}

func (k AlertKey) Validate() error {
	if k.Device.IsZero() {
		return &ValidationError{Field: "device_id", Message: "device_id is required"}
	}
	if !k.Metric.Valid() {
		return &ValidationError{Field: "metric", Message: "metric is invalid"}
	}
	if k.Period.Year == 0 {
		return &ValidationError{Field: "period", Message: "period is required"}
	}
	return nil
}

// AlertedValue is one out-of-tolerance observation.
type AlertedValue struct {
	Energy string  `json:"energy"`
	Date   string  `json:"date"`
	Value  float64 `json:"value"`
}

func (v AlertedValue) canonicalKey() string {
	return v.Energy + "\x00" + v.Date + "\x00" + strconv.FormatFloat(v.Value, 'g', -1, 64)
}

// AlertRecord is the last set of violations that was successfully communicated.
type AlertRecord struct {
	Key           AlertKey       `json:"-"`
	AlertedValues []AlertedValue `json:"alertedValues"`
	Version       int64          `json:"-"`
	UpdatedAt     time.Time      `json:"-"`
}

// CanonicalAlertSet sorts and de-duplicates a violation set so that two sets holding the same
// members compare equal regardless of order or repetition.
func CanonicalAlertSet(values []AlertedValue) []AlertedValue {
	seen := make(map[string]struct{}, len(values))
	out := make([]AlertedValue, 0, len(values))
	for _, v := range values {
		k := v.canonicalKey()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Energy != out[j].Energy {
			return out[i].Energy < out[j].Energy
		}
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// SameAlertSet reports structural set equality.
func SameAlertSet(a, b []AlertedValue) bool {
	ca, cb := CanonicalAlertSet(a), CanonicalAlertSet(b)
	if len(ca) != len(cb) {
		return false
	}
	for i := range ca {
		if ca[i].canonicalKey() != cb[i].canonicalKey() {
			return false
		}
	}
	return true
}

// ReconcileRequest is the HTTP/CLI shape of a reconcile call.
type ReconcileRequest struct {
	DeviceID string         `json:"device_id"`
	Metric   Metric         `json:"metric"`
	Period   Period         `json:"period"`
	Values   []AlertedValue `json:"values"`
}

type ReconcileResponse struct {
	Key    string      `json:"key"`
	Status AlertStatus `json:"status"`
}

// DriftEvent is broadcast to live subscribers when ingestion finds new drift or alerts.
type DriftEvent struct {
	Device      string       `json:"device_id"`
	Metric      Metric       `json:"metric"`
	Period      Period       `json:"period"`
	NewWarnings []NewWarning `json:"new_warnings,omitempty"`
	AlertStatus AlertStatus  `json:"alert_status,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// NewWarning is a cell that entered the warning band since the previous save.
type NewWarning struct {
	Energy string  `json:"energy"`
	Value  float64 `json:"value"`
	Day    int     `json:"day"`
}

// DriftCheckRequest runs the detector without touching storage. Thresholds override the
// configured bands of Metric when set; OutOfTolerance dates need Period.
type DriftCheckRequest struct {
	Metric     Metric           `json:"metric"`
	Period     *Period          `json:"period,omitempty"`
	Thresholds *ThresholdConfig `json:"thresholds,omitempty"`
	Previous   []GridRow        `json:"previous"`
	Rows       []RawRow         `json:"rows"`
}

func (r *DriftCheckRequest) Validate() error {
	if !r.Metric.Valid() {
		return &ValidationError{Field: "metric", Message: "metric is invalid"}
	}
	if r.Thresholds != nil {
		if err := r.Thresholds.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type DriftCheckResult struct {
	NewWarnings    []NewWarning   `json:"new_warnings"`
	OutOfTolerance []AlertedValue `json:"out_of_tolerance,omitempty"`
	DroppedCells   int            `json:"dropped_cells"`
}
