package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SeriesKey addresses one per-channel time series.
type SeriesKey struct {
	Device DeviceIdentity `json:"device_id"`
	Metric Metric         `json:"metric"`
	Energy string         `json:"energy"`
}

func (k SeriesKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Device, k.Metric, k.Energy)
}

func (k SeriesKey) Validate() error {
	if k.Device.IsZero() {
		return &ValidationError{Field: "device_id", Message: "device_id is required"}
	}
	if !k.Metric.Valid() {
		return &ValidationError{Field: "metric", Message: "metric is invalid"}
	}
	if k.Energy == "" {
		return &ValidationError{Field: "energy", Message: "energy is required"}
	}
	return nil
}

// SeriesPoint is one daily observation.
type SeriesPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// ModelArtifact is the persisted fitted state for one series.
type ModelArtifact struct {
	Key              SeriesKey       `json:"key"`
	Family           string          `json:"family"`
	State            json.RawMessage `json:"state"`
	LastObservedDate time.Time       `json:"lastObservedDate"`
	Points           int             `json:"points"`
	TrainedAt        time.Time       `json:"trainedAt"`
}

// ForecastPoint is one predicted day.
type ForecastPoint struct {
	Date           string  `json:"date"`
	PredictedValue float64 `json:"predictedValue"`
	LowerBound     float64 `json:"lowerBound"`
	UpperBound     float64 `json:"upperBound"`
}

// ForecastResult is a persisted horizon of predictions. Period is nil for batch results.
type ForecastResult struct {
	Key         SeriesKey       `json:"key"`
	Period      *Period         `json:"period,omitempty"`
	Family      string          `json:"family"`
	Forecast    []ForecastPoint `json:"forecast"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

// TrainStatus distinguishes a fitted model from a refusal.
type TrainStatus string

const (
	TrainStatusTrained             TrainStatus = "trained"
	TrainStatusInsufficientHistory TrainStatus = "insufficient_history"
)

type TrainOutcome struct {
	Status        TrainStatus    `json:"status"`
	Artifact      *ModelArtifact `json:"artifact,omitempty"`
	Points        int            `json:"points"`
	MinimumPoints int            `json:"minimum_points"`
}

// ForecastOutcome is the answer of an inline forecast: a result, or a refusal.
type ForecastOutcome struct {
	Status        TrainStatus     `json:"status"`
	Result        *ForecastResult `json:"result,omitempty"`
	Points        int             `json:"points"`
	MinimumPoints int             `json:"minimum_points"`
	Cached        bool            `json:"cached,omitempty"`
}

type TrainRequest struct {
	DeviceID string `json:"device_id"`
	Metric   Metric `json:"metric"`
	Energy   string `json:"energy"`
	Cutoff   string `json:"cutoff"`
}

type InlineForecastRequest struct {
	DeviceID string `json:"device_id"`
	Metric   Metric `json:"metric"`
	Energy   string `json:"energy"`
	Period   Period `json:"period"`
	Async    bool   `json:"async"`
}

// JobState tracks a backgrounded inline forecast.
type JobState string

const (
	JobPending             JobState = "pending"
	JobRunning             JobState = "running"
	JobDone                JobState = "done"
	JobInsufficientHistory JobState = "insufficient_history"
	JobFailed              JobState = "failed"
)

type ForecastJob struct {
	ID         string          `json:"id"`
	Key        SeriesKey       `json:"key"`
	Period     Period          `json:"period"`
	State      JobState        `json:"state"`
	Result     *ForecastResult `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// BatchSummary reports one batch training run.
type BatchSummary struct {
	Units        int           `json:"units"`
	Trained      int           `json:"trained"`
	Insufficient int           `json:"insufficient_history"`
	Failed       int           `json:"failed"`
	Duration     time.Duration `json:"duration"`
}
