// internal/handler/connection_handler.go

package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/service"

	"github.com/gorilla/mux"
)

type ConnectionHandler struct {
	connectionService *service.ConnectionService
	log               *logger.Logger
}

func NewConnectionHandler(connectionService *service.ConnectionService, log *logger.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		connectionService: connectionService,
		log:               log,
	}
}

func (h *ConnectionHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/connection", h.GetStatus).Methods("GET")
	r.HandleFunc("/connection/connect", h.Connect).Methods("POST")
	r.HandleFunc("/connection/disconnect", h.Disconnect).Methods("POST")
	r.HandleFunc("/connection/publish", h.Publish).Methods("POST")
}

func (h *ConnectionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.connectionService.Status())
}

// Connect starts a session with the active profile. The outcome arrives
// asynchronously, so the response carries the status at return time.
func (h *ConnectionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	state, err := h.connectionService.Connect(r.Context())
	if err != nil {
		respondAppError(w, h.log, "Connect", err)
		return
	}
	respondJSON(w, http.StatusAccepted, state)
}

func (h *ConnectionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	state, err := h.connectionService.Disconnect(r.Context())
	if err != nil {
		respondAppError(w, h.log, "Disconnect", err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

type publishRequest struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Publish sends payload to topic. A JSON string payload is sent unquoted,
// anything else is sent as its raw JSON text.
func (h *ConnectionHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Topic) == "" {
		respondError(w, http.StatusBadRequest, "topic is required")
		return
	}

	payload := []byte(req.Payload)
	var text string
	if err := json.Unmarshal(req.Payload, &text); err == nil {
		payload = []byte(text)
	}

	if err := h.connectionService.Publish(r.Context(), req.Topic, payload); err != nil {
		respondAppError(w, h.log, "Publish", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "published",
		"topic":  strings.TrimSpace(req.Topic),
	})
}
