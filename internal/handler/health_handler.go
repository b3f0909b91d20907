package handler

import (
	"context"
	"net/http"
	"time"

	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/models"
	"NoiseMonitorAPI/internal/mqtt"

	"github.com/gorilla/mux"
)

// StoragePinger is the persistence backend as seen by health checks.
type StoragePinger interface {
	Ping(ctx context.Context) error
}

// BrokerHealth reports the broker session state.
type BrokerHealth interface {
	Health(ctx context.Context) (*mqtt.HealthStatus, error)
}

// ClientCounter reports connected stream clients.
type ClientCounter interface {
	ClientCount() int
}

type HealthHandler struct {
	store   StoragePinger
	broker  BrokerHealth
	clients ClientCounter
	log     *logger.Logger
}

func NewHealthHandler(store StoragePinger, broker BrokerHealth, clients ClientCounter, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		store:   store,
		broker:  broker,
		clients: clients,
		log:     log,
	}
}

func (h *HealthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/health/live", h.Liveness).Methods("GET")
	r.HandleFunc("/health/ready", h.Readiness).Methods("GET")
}

// Health reports storage and broker state. A disconnected broker degrades the
// status but still answers 200, since disconnected is a normal idle state.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := models.HealthResponse{
		Status:        "healthy",
		Timestamp:     time.Now(),
		StreamClients: h.clients.ClientCount(),
	}

	storageErr := h.store.Ping(ctx)
	response.Services.Storage = (storageErr == nil)

	mqttHealth, mqttErr := h.broker.Health(ctx)
	response.Services.MQTT = (mqttErr == nil && mqttHealth.Connected)

	statusCode := http.StatusOK
	if !response.Services.Storage {
		response.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
		h.log.Warn("Health check failed - storage: %v", storageErr)
	} else if !response.Services.MQTT {
		response.Status = "degraded"
	}

	respondJSON(w, statusCode, response)
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn("Readiness check failed - storage error: %v", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
