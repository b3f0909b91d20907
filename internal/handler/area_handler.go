// internal/handler/area_handler.go

package handler

import (
	"net/http"

	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/models"
	"NoiseMonitorAPI/internal/registry"

	"github.com/gorilla/mux"
)

type AreaHandler struct {
	registry *registry.Registry
	log      *logger.Logger
}

func NewAreaHandler(reg *registry.Registry, log *logger.Logger) *AreaHandler {
	return &AreaHandler{
		registry: reg,
		log:      log,
	}
}

func (h *AreaHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/areas", h.ListAreas).Methods("GET")
	r.HandleFunc("/areas", h.CreateArea).Methods("POST")
	r.HandleFunc("/areas/{id}", h.GetArea).Methods("GET")
	r.HandleFunc("/areas/{id}", h.EditArea).Methods("PUT")
	r.HandleFunc("/areas/{id}/mute", h.ToggleMute).Methods("POST")
	r.HandleFunc("/areas/{id}", h.DeleteArea).Methods("DELETE")
}

func (h *AreaHandler) ListAreas(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.registry.List())
}

func (h *AreaHandler) GetArea(w http.ResponseWriter, r *http.Request) {
	area, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		respondAppError(w, h.log, "Get area", err)
		return
	}
	respondJSON(w, http.StatusOK, area)
}

func (h *AreaHandler) CreateArea(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAreaRequest
	if !decodeBody(w, r, &req) {
		return
	}

	area, err := h.registry.Create(r.Context(), req)
	if err != nil {
		respondAppError(w, h.log, "Create area", err)
		return
	}

	h.log.Info("Area created: %s (%s)", area.Name, area.DeviceID)
	respondJSON(w, http.StatusCreated, area)
}

func (h *AreaHandler) EditArea(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateAreaRequest
	if !decodeBody(w, r, &req) {
		return
	}

	area, err := h.registry.Edit(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		respondAppError(w, h.log, "Edit area", err)
		return
	}
	respondJSON(w, http.StatusOK, area)
}

func (h *AreaHandler) ToggleMute(w http.ResponseWriter, r *http.Request) {
	area, err := h.registry.ToggleMute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondAppError(w, h.log, "Toggle mute", err)
		return
	}
	respondJSON(w, http.StatusOK, area)
}

func (h *AreaHandler) DeleteArea(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.registry.Delete(r.Context(), id); err != nil {
		respondAppError(w, h.log, "Delete area", err)
		return
	}

	h.log.Info("Area deleted: %s", id)
	w.WriteHeader(http.StatusNoContent)
}
