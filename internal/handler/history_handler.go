// internal/handler/history_handler.go

package handler

import (
	"net/http"
	"strings"
	"time"

	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/service"

	"github.com/gorilla/mux"
)

type HistoryHandler struct {
	historyService *service.HistoryService
	log            *logger.Logger
	now            func() time.Time
}

func NewHistoryHandler(historyService *service.HistoryService, log *logger.Logger) *HistoryHandler {
	return &HistoryHandler{
		historyService: historyService,
		log:            log,
		now:            time.Now,
	}
}

func (h *HistoryHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/history", h.GetHistory).Methods("GET")
	r.HandleFunc("/history/latest", h.GetLatest).Methods("GET")
}

// GetHistory returns samples at or after since (RFC3339, default the last 24h),
// optionally restricted to one device.
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	since, ok := h.parseSince(w, r)
	if !ok {
		return
	}

	deviceID := strings.TrimSpace(r.URL.Query().Get("device_id"))
	samples := h.historyService.Query(deviceID, since)

	maxAge, maxPoints := h.historyService.Retention()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"device_id": deviceID,
		"since":     since,
		"count":     len(samples),
		"retention": map[string]interface{}{
			"max_age":    maxAge.String(),
			"max_points": maxPoints,
		},
		"samples": samples,
	})
}

func (h *HistoryHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.historyService.Latest())
}

func (h *HistoryHandler) parseSince(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return h.now().Add(-service.DefaultHistoryWindow), true
	}

	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
		return time.Time{}, false
	}
	return since, true
}
