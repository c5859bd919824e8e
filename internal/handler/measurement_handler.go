package handler

import (
	"net/http"

	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/models"
	"CalibrationMonitorAPI/internal/service"

	"github.com/gorilla/mux"
)

type MeasurementHandler struct {
	measurementService service.IMeasurementService
	log                *logger.Logger
}

func NewMeasurementHandler(measurementService service.IMeasurementService, log *logger.Logger) *MeasurementHandler {
	return &MeasurementHandler{
		measurementService: measurementService,
		log:                log,
	}
}

func (h *MeasurementHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/devices", h.ListDevices).Methods("GET")
	r.HandleFunc("/devices/{device_id}/measurements", h.ListShards).Methods("GET")
	r.HandleFunc("/devices/{device_id}/measurements/{period}", h.GetShard).Methods("GET")
	r.HandleFunc("/devices/{device_id}/measurements/{period}/{metric}", h.Submit).Methods("PUT")
	r.HandleFunc("/drift/check", h.CheckDrift).Methods("POST")
}

type shardResponse struct {
	DeviceID string                      `json:"device_id"`
	Period   models.Period               `json:"period"`
	Metrics  map[string][]models.GridRow `json:"metrics"`
	Version  int64                       `json:"version"`
}

func toShardResponse(s *models.MeasurementShard) shardResponse {
	return shardResponse{DeviceID: s.Device.ID, Period: s.Period, Metrics: s.Metrics, Version: s.Version}
}

type submitBody struct {
	Rows []models.RawRow `json:"rows"`
}

// Submit runs the full ingestion pipeline for one metric grid.
func (h *MeasurementHandler) Submit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	period, err := periodVar(r)
	if err != nil {
		respondServiceError(w, h.log, "submit measurements", err)
		return
	}
	metric, err := metricVar(r)
	if err != nil {
		respondServiceError(w, h.log, "submit measurements", err)
		return
	}

	var body submitBody
	if err := decodeJSON(r, &body); err != nil {
		respondServiceError(w, h.log, "submit measurements", err)
		return
	}

	result, err := h.measurementService.Submit(r.Context(), &models.MeasurementSubmission{
		DeviceID: vars["device_id"],
		Period:   period,
		Metric:   metric,
		Rows:     body.Rows,
	}, "http")
	if err != nil {
		respondServiceError(w, h.log, "submit measurements", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *MeasurementHandler) GetShard(w http.ResponseWriter, r *http.Request) {
	device, err := deviceVar(r)
	if err != nil {
		respondServiceError(w, h.log, "get measurements", err)
		return
	}
	period, err := periodVar(r)
	if err != nil {
		respondServiceError(w, h.log, "get measurements", err)
		return
	}

	shard, err := h.measurementService.GetShard(r.Context(), device, period)
	if err != nil {
		respondServiceError(w, h.log, "get measurements", err)
		return
	}

	respondJSON(w, http.StatusOK, toShardResponse(shard))
}

func (h *MeasurementHandler) ListShards(w http.ResponseWriter, r *http.Request) {
	device, err := deviceVar(r)
	if err != nil {
		respondServiceError(w, h.log, "list measurements", err)
		return
	}

	shards, err := h.measurementService.ListShards(r.Context(), device)
	if err != nil {
		respondServiceError(w, h.log, "list measurements", err)
		return
	}

	out := make([]shardResponse, 0, len(shards))
	for _, s := range shards {
		out = append(out, toShardResponse(s))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *MeasurementHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.measurementService.ListDevices(r.Context())
	if err != nil {
		respondServiceError(w, h.log, "list devices", err)
		return
	}
	respondJSON(w, http.StatusOK, devices)
}

func (h *MeasurementHandler) CheckDrift(w http.ResponseWriter, r *http.Request) {
	var req models.DriftCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, h.log, "check drift", err)
		return
	}

	result, err := h.measurementService.CheckDrift(&req)
	if err != nil {
		respondServiceError(w, h.log, "check drift", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
