package handler

import (
	"net/http"
	"strings"
	"time"

	"CalibrationMonitorAPI/internal/forecast"
	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/models"

	"github.com/gorilla/mux"
)

type ForecastHandler struct {
	trainer *forecast.Trainer
	server  *forecast.Server
	batch   *forecast.BatchRunner
	log     *logger.Logger
}

func NewForecastHandler(trainer *forecast.Trainer, server *forecast.Server, batch *forecast.BatchRunner, log *logger.Logger) *ForecastHandler {
	return &ForecastHandler{
		trainer: trainer,
		server:  server,
		batch:   batch,
		log:     log,
	}
}

func (h *ForecastHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/forecasts/train", h.Train).Methods("POST")
	r.HandleFunc("/forecasts/inline", h.Inline).Methods("POST")
	r.HandleFunc("/forecasts/batch", h.RunBatch).Methods("POST")
	r.HandleFunc("/forecasts/jobs/{job_id}", h.GetJob).Methods("GET")
	r.HandleFunc("/forecasts/{device_id}/{metric}/{energy}", h.Get).Methods("GET")
	r.HandleFunc("/forecasts/{device_id}/{metric}/{energy}/{period}", h.Get).Methods("GET")
}

// parseCutoff accepts YYYY-MM-DD; empty means today.
func parseCutoff(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, &models.ValidationError{Field: "cutoff", Message: "expected YYYY-MM-DD"}
	}
	return t, nil
}

func (h *ForecastHandler) Train(w http.ResponseWriter, r *http.Request) {
	var req models.TrainRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, h.log, "train model", err)
		return
	}

	cutoff, err := parseCutoff(req.Cutoff)
	if err != nil {
		respondServiceError(w, h.log, "train model", err)
		return
	}

	key := models.SeriesKey{Device: models.NormalizeDeviceID(req.DeviceID), Metric: req.Metric, Energy: strings.TrimSpace(req.Energy)}
	outcome, err := h.trainer.Train(r.Context(), key, cutoff)
	if err != nil {
		respondServiceError(w, h.log, "train model", err)
		return
	}

	respondJSON(w, http.StatusOK, outcome)
}

// Inline answers synchronously, or with 202 and a job handle when async is set.
func (h *ForecastHandler) Inline(w http.ResponseWriter, r *http.Request) {
	var req models.InlineForecastRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, h.log, "run inline forecast", err)
		return
	}
	if req.Period.Year == 0 {
		respondServiceError(w, h.log, "run inline forecast", &models.ValidationError{Field: "period", Message: "period is required"})
		return
	}

	key := models.SeriesKey{Device: models.NormalizeDeviceID(req.DeviceID), Metric: req.Metric, Energy: strings.TrimSpace(req.Energy)}

	if req.Async {
		job, err := h.server.Submit(key, req.Period)
		if err != nil {
			respondServiceError(w, h.log, "submit inline forecast", err)
			return
		}
		w.Header().Set("Location", "/api/v1/forecasts/jobs/"+job.ID)
		respondJSON(w, http.StatusAccepted, job)
		return
	}

	outcome, err := h.server.Inline(r.Context(), key, req.Period)
	if err != nil {
		respondServiceError(w, h.log, "run inline forecast", err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

func (h *ForecastHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.server.Job(mux.Vars(r)["job_id"])
	if err != nil {
		respondServiceError(w, h.log, "get forecast job", err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

type batchRequest struct {
	Cutoff string `json:"cutoff"`
}

func (h *ForecastHandler) RunBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondServiceError(w, h.log, "run batch forecast", err)
			return
		}
	}

	cutoff, err := parseCutoff(req.Cutoff)
	if err != nil {
		respondServiceError(w, h.log, "run batch forecast", err)
		return
	}

	summary, err := h.batch.Run(r.Context(), cutoff)
	if err != nil {
		respondServiceError(w, h.log, "run batch forecast", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// Get retrieves a persisted forecast; with a period segment it addresses the inline result.
func (h *ForecastHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	device, err := deviceVar(r)
	if err != nil {
		respondServiceError(w, h.log, "get forecast", err)
		return
	}
	metric, err := metricVar(r)
	if err != nil {
		respondServiceError(w, h.log, "get forecast", err)
		return
	}

	var period *models.Period
	if raw, ok := vars["period"]; ok {
		p, err := models.ParsePeriod(raw)
		if err != nil {
			respondServiceError(w, h.log, "get forecast", err)
			return
		}
		period = &p
	}

	result, err := h.server.Retrieve(r.Context(), models.SeriesKey{Device: device, Metric: metric, Energy: vars["energy"]}, period)
	if err != nil {
		respondServiceError(w, h.log, "get forecast", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
