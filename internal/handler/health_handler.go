package handler

import (
	"context"
	"net/http"
	"time"

	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/models"

	"github.com/gorilla/mux"
)

// DatabaseChecker is satisfied by *database.Database.
type DatabaseChecker interface {
	Health(ctx context.Context) error
}

// BrokerChecker is satisfied by *mqtt.Client. A nil checker means MQTT is disabled.
type BrokerChecker interface {
	IsConnected() bool
}

type HealthHandler struct {
	db     DatabaseChecker
	broker BrokerChecker
	log    *logger.Logger
}

func NewHealthHandler(db DatabaseChecker, broker BrokerChecker, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		broker: broker,
		log:    log,
	}
}

func (h *HealthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/health/live", h.Liveness).Methods("GET")
	r.HandleFunc("/health/ready", h.Readiness).Methods("GET")
}

func (h *HealthHandler) brokerUp() bool {
	return h.broker == nil || h.broker.IsConnected()
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	}
	response.Services.Database = h.db.Health(ctx) == nil
	response.Services.MQTT = h.brokerUp()

	statusCode := http.StatusOK
	if !response.Services.Database || !response.Services.MQTT {
		response.Status = "degraded"
		statusCode = http.StatusServiceUnavailable
		h.log.Warn("Health check degraded - DB: %v, MQTT: %v", response.Services.Database, response.Services.MQTT)
	}

	respondJSON(w, statusCode, response)
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readiness only depends on the database; ingestion over HTTP works without the broker.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Health(ctx); err != nil {
		h.log.Warn("Readiness check failed: %v", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
