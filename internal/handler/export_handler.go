package handler

import (
	"fmt"
	"net/http"
	"time"

	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/registry"
	"NoiseMonitorAPI/internal/report"
	"NoiseMonitorAPI/internal/service"

	"github.com/gorilla/mux"
)

type ExportHandler struct {
	registry       *registry.Registry
	historyService *service.HistoryService
	log            *logger.Logger
	now            func() time.Time
}

func NewExportHandler(reg *registry.Registry, historyService *service.HistoryService, log *logger.Logger) *ExportHandler {
	return &ExportHandler{
		registry:       reg,
		historyService: historyService,
		log:            log,
		now:            time.Now,
	}
}

func (h *ExportHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/export/report.pdf", h.AreaReport).Methods("GET")
	r.HandleFunc("/export/history.xlsx", h.HistoryWorkbook).Methods("GET")
}

func (h *ExportHandler) AreaReport(w http.ResponseWriter, r *http.Request) {
	now := h.now()

	out, err := report.AreaPDF(h.registry.List(), h.historyService.Latest(), now)
	if err != nil {
		h.log.Error("Failed to render area report: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to render report")
		return
	}

	writeFile(w, "application/pdf", fmt.Sprintf("noise-report-%s.pdf", now.Format("20060102-150405")), out)
}

// HistoryWorkbook exports the same window as GET /history.
func (h *ExportHandler) HistoryWorkbook(w http.ResponseWriter, r *http.Request) {
	since := h.now().Add(-service.DefaultHistoryWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		since = parsed
	}

	samples := h.historyService.Query(r.URL.Query().Get("device_id"), since)
	out, err := report.HistoryXLSX(samples, h.registry.List())
	if err != nil {
		h.log.Error("Failed to render history workbook: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to render workbook")
		return
	}

	writeFile(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		fmt.Sprintf("noise-history-%s.xlsx", h.now().Format("20060102-150405")), out)
}

func writeFile(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
