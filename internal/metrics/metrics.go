package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	MeasurementsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calibration_measurements_ingested_total",
			Help: "Measurement grids accepted, by metric and source",
		},
		[]string{"metric", "source"},
	)

	CellsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calibration_cells_dropped_total",
			Help: "Unparsable measurement cells left out of drift, alert and series computations",
		},
		[]string{"stage"},
	)

	DriftWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calibration_drift_warnings_total",
			Help: "Cells that newly entered the warning band",
		},
		[]string{"metric"},
	)

	// Alert metrics
	AlertReconciles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calibration_alert_reconciles_total",
			Help: "Alert reconcile outcomes",
		},
		[]string{"metric", "status"},
	)

	AlertSwapConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calibration_alert_swap_conflicts_total",
			Help: "Compare-and-swap conflicts hit while storing alert records",
		},
	)

	// Forecast metrics
	TrainingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calibration_forecast_trainings_total",
			Help: "Forecast training runs by model family and outcome",
		},
		[]string{"model", "status"},
	)

	TrainingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calibration_forecast_training_duration_seconds",
			Help:    "Model fit duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
		},
		[]string{"model"},
	)

	BatchUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calibration_forecast_batch_units_total",
			Help: "Batch forecast units by outcome",
		},
		[]string{"status"},
	)

	InlineCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calibration_forecast_inline_cache_hits_total",
			Help: "Inline forecasts served from the result cache",
		},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calibration_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calibration_websocket_clients",
			Help: "Connected live feed clients",
		},
	)
)
