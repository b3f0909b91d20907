package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"NoiseMonitorAPI/internal/apperror"
	"NoiseMonitorAPI/internal/models"
)

// Payload field names published by the sensors.
const (
	FieldClientID    = "client_id"
	FieldDeviceID    = "device_id"
	FieldNoiseLevel  = "noise_level"
	FieldAlertReason = "alert_reason"
)

var (
	ErrInvalidJSON = errors.New("invalid_json")
	ErrNotObject   = errors.New("not_object")
	ErrFieldType   = errors.New("invalid_field_type")
)

// DecodeTelemetry parses a device payload. Absent fields are allowed; fields
// that are present with the wrong JSON type fail the whole message.
func DecodeTelemetry(payload []byte) (models.Telemetry, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return models.Telemetry{}, apperror.NewDecodeError("payload is not a JSON object", ErrNotObject)
		}
		return models.Telemetry{}, apperror.NewDecodeError("payload is not valid JSON", fmt.Errorf("%w: %v", ErrInvalidJSON, err))
	}
	if fields == nil {
		return models.Telemetry{}, apperror.NewDecodeError("payload is not a JSON object", ErrNotObject)
	}

	var t models.Telemetry

	deviceField := FieldClientID
	raw, ok := present(fields, FieldClientID)
	if !ok {
		deviceField = FieldDeviceID
		raw, ok = present(fields, FieldDeviceID)
	}
	if ok {
		if err := json.Unmarshal(raw, &t.DeviceID); err != nil {
			return models.Telemetry{}, fieldError(deviceField, "a string")
		}
		t.DeviceID = strings.TrimSpace(t.DeviceID)
	}

	if raw, ok := present(fields, FieldNoiseLevel); ok {
		var level float64
		if err := json.Unmarshal(raw, &level); err != nil {
			return models.Telemetry{}, fieldError(FieldNoiseLevel, "a number")
		}
		t.NoiseLevel = &level
	}

	if raw, ok := present(fields, FieldAlertReason); ok {
		if err := json.Unmarshal(raw, &t.AlertReason); err != nil {
			return models.Telemetry{}, fieldError(FieldAlertReason, "a string")
		}
		t.AlertReason = strings.TrimSpace(t.AlertReason)
	}

	return t, nil
}

// present treats an explicit null like an absent field.
func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

func fieldError(field, want string) error {
	return apperror.NewDecodeError(
		fmt.Sprintf("field %s must be %s", field, want),
		fmt.Errorf("%w: %s", ErrFieldType, field),
	)
}

// decodeReason maps a decode error to a metric label.
func decodeReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidJSON):
		return ErrInvalidJSON.Error()
	case errors.Is(err, ErrNotObject):
		return ErrNotObject.Error()
	case errors.Is(err, ErrFieldType):
		return ErrFieldType.Error()
	default:
		return "unknown"
	}
}
