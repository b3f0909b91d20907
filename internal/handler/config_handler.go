package handler

import (
	"net/http"

	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/models"
	"NoiseMonitorAPI/internal/service"

	"github.com/gorilla/mux"
)

type ConfigHandler struct {
	connectionService *service.ConnectionService
	log               *logger.Logger
}

func NewConfigHandler(connectionService *service.ConnectionService, log *logger.Logger) *ConfigHandler {
	return &ConfigHandler{
		connectionService: connectionService,
		log:               log,
	}
}

func (h *ConfigHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/config/active", h.GetActive).Methods("GET")
	r.HandleFunc("/config/active", h.SetActive).Methods("PUT")
	r.HandleFunc("/config/profiles", h.ListProfiles).Methods("GET")
	r.HandleFunc("/config/profiles", h.SaveProfile).Methods("POST")
	r.HandleFunc("/config/profiles", h.DeleteProfile).Methods("DELETE")
}

func (h *ConfigHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.connectionService.ActiveConfig(r.Context()))
}

func (h *ConfigHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req models.BrokerConfig
	if !decodeBody(w, r, &req) {
		return
	}

	saved, err := h.connectionService.SetActiveConfig(r.Context(), req)
	if err != nil {
		respondAppError(w, h.log, "Set active profile", err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

func (h *ConfigHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.connectionService.Profiles(r.Context()))
}

func (h *ConfigHandler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	var req models.BrokerConfig
	if !decodeBody(w, r, &req) {
		return
	}

	profiles, err := h.connectionService.SaveProfile(r.Context(), req)
	if err != nil {
		respondAppError(w, h.log, "Save profile", err)
		return
	}
	respondJSON(w, http.StatusOK, profiles)
}

// DeleteProfile identifies the profile by broker, port and username in the body.
func (h *ConfigHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	var req models.BrokerConfig
	if !decodeBody(w, r, &req) {
		return
	}

	profiles, err := h.connectionService.DeleteProfile(r.Context(), req)
	if err != nil {
		respondAppError(w, h.log, "Delete profile", err)
		return
	}
	respondJSON(w, http.StatusOK, profiles)
}
