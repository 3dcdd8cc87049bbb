package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/apperrors"
)

// ApiResponse wraps data in the format expected by clients.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeSuccess writes data inside an ApiResponse envelope.
func writeSuccess(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// errorStatus maps domain errors to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrNoAnnotatedData):
		return http.StatusNotFound, "no_annotated_data"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrRasterRequired):
		return http.StatusBadRequest, "raster_required"
	case errors.Is(err, apperrors.ErrMultipleRasters):
		return http.StatusBadRequest, "multiple_rasters"
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, apperrors.ErrClassificationRequired):
		return http.StatusConflict, "classification_required"
	case errors.Is(err, apperrors.ErrNoEntitySelected):
		return http.StatusConflict, "no_entity_selected"
	case errors.Is(err, apperrors.ErrNoDialog):
		return http.StatusConflict, "no_dialog"
	case errors.Is(err, apperrors.ErrNotClickable):
		return http.StatusConflict, "not_clickable"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError logs and writes a service error. Server errors are
// logged at Error; client errors at Debug.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, operation string, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("operation", operation), zap.Error(err))
		message = operation + " failed"
	} else {
		logger.Debug("Request rejected", zap.String("operation", operation), zap.String("code", code), zap.Error(err))
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
