package api

import (
	"encoding/json"
	"net/http"

	"github.com/fkusi/sensorhub/internal/errors"
	"github.com/fkusi/sensorhub/internal/logger"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("Response encoding failed")
	}
}

// writeError maps a domain error code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrSensorNotFound:
		status = http.StatusNotFound
	case errors.ErrSensorExists:
		status = http.StatusConflict
	case errors.ErrInvalidSensor,
		errors.ErrInvalidAddress,
		errors.ErrInvalidArgument,
		errors.ErrMeterNotLinked:
		status = http.StatusBadRequest
	case errors.ErrMeterUnreachable:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, errorBody{Error: string(code), Message: err.Error()})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error:   string(errors.ErrInvalidArgument),
		Message: message,
	})
}
