package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Workflow-specific error codes.
const (
	ErrValidationError   = "VALIDATION_ERROR"
	ErrInvalidAction     = "INVALID_ACTION"
	ErrBusy              = "BUSY"
	ErrRemoteError       = "REMOTE_ERROR"
	ErrNoActionAvailable = "NO_ACTION_AVAILABLE"
)

// NoActionMessage is shown when a role may not act on a document in its
// current state.
const NoActionMessage = "Không có thao tác nào được phép ở bước này."

// ErrorEnvelope is the error value used throughout the engine and the
// standard error body returned over HTTP.
type ErrorEnvelope struct {
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Details    []FieldError `json:"details,omitempty"`
	StatusCode int          `json:"status_code,omitempty"`
	TraceID    string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Field error codes.
const (
	FieldRequired = "REQUIRED"
	FieldInvalid  = "INVALID_VALUE"
)

// IsCode reports whether err wraps an ErrorEnvelope with the given code.
func IsCode(err error, code string) bool {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// AsEnvelope extracts the ErrorEnvelope from err, if any.
func AsEnvelope(err error) (*ErrorEnvelope, bool) {
	var ee *ErrorEnvelope
	ok := errors.As(err, &ee)
	return ee, ok
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR. The message of the first
// detail becomes the envelope message so callers can show a single line.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	msg := "Dữ liệu không hợp lệ."
	if len(details) > 0 && details[0].Message != "" {
		msg = details[0].Message
	}
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: msg,
		Details: details,
	}
}

// NewInvalidActionError returns an INVALID_ACTION error. It signals a caller
// defect, not a user mistake.
func NewInvalidActionError(action ActionID, state WorkflowState, role Role) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidAction,
		Message: fmt.Sprintf("action %q is not available to role %q in state %q", action, role, state),
	}
}

// NewBusyError returns a BUSY error.
func NewBusyError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBusy,
		Message: "Đang xử lý yêu cầu trước, vui lòng đợi.",
	}
}

// NewRemoteError returns a REMOTE_ERROR carrying the backend's message.
func NewRemoteError(statusCode int, msg string) *ErrorEnvelope {
	if msg == "" {
		msg = fmt.Sprintf("Backend returned status %d", statusCode)
	}
	return &ErrorEnvelope{Code: ErrRemoteError, Message: msg, StatusCode: statusCode}
}

// NewNoActionAvailableError returns a NO_ACTION_AVAILABLE error.
func NewNoActionAvailableError() *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNoActionAvailable, Message: NoActionMessage}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
	}
}
