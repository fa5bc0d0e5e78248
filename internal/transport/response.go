// Package transport contains the HTTP router, middleware chain, and the
// request handlers for mounted workflow views.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/pitabwire/docflow/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrForbidden:          http.StatusForbidden,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrInvalidAction:      http.StatusConflict,
	model.ErrBusy:               http.StatusConflict,
	model.ErrNoActionAvailable:  http.StatusConflict,
	model.ErrRemoteError:        http.StatusBadGateway,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendUnavailable: http.StatusServiceUnavailable,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes the ErrorEnvelope carried by err with the matching HTTP
// status code. Errors without an envelope become a generic 500 so internal
// details never reach the client.
func WriteError(w http.ResponseWriter, err error) {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		ee = model.NewInternalError()
	}
	WriteJSON(w, StatusForError(ee), errorResponse{Error: ee})
}

// StatusForError returns the HTTP status WriteError would use for err.
func StatusForError(err error) int {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if status, ok := statusForCode[ee.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
