package handler

import (
	"net/http"
	"time"

	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/models"
	"CalibrationMonitorAPI/internal/service"

	"github.com/gorilla/mux"
)

type AlertHandler struct {
	alertService service.IAlertService
	log          *logger.Logger
}

func NewAlertHandler(alertService service.IAlertService, log *logger.Logger) *AlertHandler {
	return &AlertHandler{
		alertService: alertService,
		log:          log,
	}
}

func (h *AlertHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/alerts/reconcile", h.Reconcile).Methods("POST")
	r.HandleFunc("/alerts/{device_id}", h.ListByDevice).Methods("GET")
	r.HandleFunc("/alerts/{device_id}/{metric}/{period}", h.Get).Methods("GET")
}

type alertRecordResponse struct {
	Key           models.AlertKey       `json:"key"`
	AlertedValues []models.AlertedValue `json:"alertedValues"`
	Version       int64                 `json:"version"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func toAlertResponse(rec *models.AlertRecord) alertRecordResponse {
	values := rec.AlertedValues
	if values == nil {
		values = []models.AlertedValue{}
	}
	return alertRecordResponse{
		Key:           rec.Key,
		AlertedValues: values,
		Version:       rec.Version,
		UpdatedAt:     rec.UpdatedAt.UTC(),
	}
}

// Reconcile lets an external caller submit a violation set directly.
func (h *AlertHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req models.ReconcileRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, h.log, "reconcile alert", err)
		return
	}

	key := models.AlertKey{
		Device: models.NormalizeDeviceID(req.DeviceID),
		Metric: req.Metric,
		Period: req.Period,
	}

	status, err := h.alertService.Reconcile(r.Context(), key, req.Values)
	if err != nil {
		respondServiceError(w, h.log, "reconcile alert", err)
		return
	}

	respondJSON(w, http.StatusOK, models.ReconcileResponse{Key: key.String(), Status: status})
}

func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	device, err := deviceVar(r)
	if err != nil {
		respondServiceError(w, h.log, "get alert record", err)
		return
	}
	metric, err := metricVar(r)
	if err != nil {
		respondServiceError(w, h.log, "get alert record", err)
		return
	}
	period, err := periodVar(r)
	if err != nil {
		respondServiceError(w, h.log, "get alert record", err)
		return
	}

	rec, err := h.alertService.Get(r.Context(), models.AlertKey{Device: device, Metric: metric, Period: period})
	if err != nil {
		respondServiceError(w, h.log, "get alert record", err)
		return
	}

	respondJSON(w, http.StatusOK, toAlertResponse(rec))
}

func (h *AlertHandler) ListByDevice(w http.ResponseWriter, r *http.Request) {
	device, err := deviceVar(r)
	if err != nil {
		respondServiceError(w, h.log, "list alert records", err)
		return
	}

	records, err := h.alertService.ListByDevice(r.Context(), device)
	if err != nil {
		respondServiceError(w, h.log, "list alert records", err)
		return
	}

	out := make([]alertRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toAlertResponse(rec))
	}
	respondJSON(w, http.StatusOK, out)
}
