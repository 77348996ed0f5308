package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-pool/internal/poolcontroller"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeInternal           = "internal_error"
	ErrCodeServiceUnavailable = "service_unavailable"
	ErrCodeBadGateway         = "controller_error"
	ErrCodeGatewayTimeout     = "controller_timeout"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeControllerError maps a controller failure to a response.
// Unknown heater modes are the caller's fault; timeouts are 504; anything
// else from the controller is 502.
func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, poolcontroller.ErrUnknownHeaterMode):
		writeBadRequest(w, err.Error())
	case errors.Is(err, poolcontroller.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	}
}
