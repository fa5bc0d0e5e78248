package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitabwire/docflow/model"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) model.ErrorEnvelope {
	t.Helper()
	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if xct := w.Header().Get("X-Content-Type-Options"); xct != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", xct)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["hello"] != "world" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError_statusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.NewBadRequestError("x"), http.StatusBadRequest},
		{model.NewUnauthorizedError("x"), http.StatusUnauthorized},
		{model.NewForbiddenError("x"), http.StatusForbidden},
		{model.NewNotFoundError("x"), http.StatusNotFound},
		{model.NewValidationError([]model.FieldError{{Field: "sender", Code: model.FieldRequired}}), http.StatusUnprocessableEntity},
		{model.NewInvalidActionError(model.ActionArchive, model.StateIntake, model.RoleIntakeClerk), http.StatusConflict},
		{model.NewBusyError(), http.StatusConflict},
		{model.NewNoActionAvailableError(), http.StatusConflict},
		{model.NewRemoteError(http.StatusConflict, "Văn bản đã được vào sổ"), http.StatusBadGateway},
		{model.NewBackendUnavailableError(), http.StatusServiceUnavailable},
		{model.NewBackendTimeoutError(), http.StatusGatewayTimeout},
		{model.NewInternalError(), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", model.NewNotFoundError("x")), http.StatusNotFound},
		{&model.ErrorEnvelope{Code: "SOMETHING_NEW"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestWriteError_remoteErrorKeepsMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewRemoteError(http.StatusConflict, "Văn bản đã được vào sổ"))

	resp := decodeError(t, w)
	if resp.Code != model.ErrRemoteError {
		t.Errorf("code = %q", resp.Code)
	}
	if resp.Message != "Văn bản đã được vào sổ" || resp.StatusCode != http.StatusConflict {
		t.Errorf("error = %+v", resp)
	}
}

func TestWriteError_nonEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, fmt.Errorf("pq: connection reset"))

	if w.Code != 500 {
		t.Errorf("status = %d, want 500 for non-envelope error", w.Code)
	}
	resp := decodeError(t, w)
	if resp.Code != model.ErrInternalError {
		t.Errorf("code = %q, want INTERNAL_ERROR", resp.Code)
	}
}
