package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"NoiseMonitorAPI/internal/apperror"
	"NoiseMonitorAPI/internal/logger"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		return
	}
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondAppError maps an AppError type onto an HTTP status. Anything else is a 500.
func respondAppError(w http.ResponseWriter, log *logger.Logger, op string, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		log.Error("%s failed: %v", op, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Type {
	case apperror.ValidationError:
		status = http.StatusBadRequest
	case apperror.NotFoundError:
		status = http.StatusNotFound
	case apperror.ConflictError:
		status = http.StatusConflict
	case apperror.TransportError, apperror.SubscriptionError:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		log.Error("%s failed: %v", op, err)
	} else {
		log.Warn("%s rejected: %v", op, err)
	}

	message := appErr.Message
	if appErr.Type == apperror.ValidationError && appErr.Cause != nil {
		message = appErr.Message + ": " + appErr.Cause.Error()
	}
	respondJSON(w, status, ErrorResponse{Error: message, Type: string(appErr.Type)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
