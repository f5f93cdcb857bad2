package http

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/mycobrun/cobrun-location/errors"
	"github.com/mycobrun/cobrun-location/telemetry"
)

// Response is a standard API response wrapper.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

// JSON sends a JSON response.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		// The status line is already written; an encode failure cannot be reported.
		_ = json.NewEncoder(w).Encode(data)
	}
}

// OK sends a 200 OK response with data. A nil data is sent as null.
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// Created sends a 201 Created response.
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

// Error writes err as the standard error envelope with the request's trace ID.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.WriteError(w, err, telemetry.TraceID(r.Context()))
}
