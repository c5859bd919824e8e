package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/models"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 4 << 20

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return
	}
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondServiceError maps the error taxonomy onto status codes. Anything unrecognized is
// logged and reported as a 500 without its detail.
func respondServiceError(w http.ResponseWriter, log *logger.Logger, op string, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrVersionConflict):
		respondError(w, http.StatusConflict, err.Error())
	default:
		log.Error("Failed to %s: %v", op, err)
		respondError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if models.IsValidation(err) {
			return err
		}
		return &models.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}

func deviceVar(r *http.Request) (models.DeviceIdentity, error) {
	device := models.NormalizeDeviceID(mux.Vars(r)["device_id"])
	if device.IsZero() {
		return device, &models.ValidationError{Field: "device_id", Message: "device_id is required"}
	}
	return device, nil
}

func periodVar(r *http.Request) (models.Period, error) {
	return models.ParsePeriod(mux.Vars(r)["period"])
}

func metricVar(r *http.Request) (models.Metric, error) {
	return models.ParseMetric(mux.Vars(r)["metric"])
}
