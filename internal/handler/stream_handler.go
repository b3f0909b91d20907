package handler

import (
	"net/http"

	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/websocket"

	"github.com/gorilla/mux"
)

type StreamHandler struct {
	hub *websocket.Hub
	log *logger.Logger
}

func NewStreamHandler(hub *websocket.Hub, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		hub: hub,
		log: log,
	}
}

func (h *StreamHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", h.Stream).Methods("GET")
}

func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, w, r, h.log)
}
