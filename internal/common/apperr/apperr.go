// Package apperr provides the typed error kinds used across orka (spec.md §7).
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes, one per spec.md §7 error kind.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeAlreadyExists       = "ALREADY_EXISTS"
	CodeConflict            = "CONFLICT"
	CodeValidation          = "VALIDATION"
	CodeBackendUnavailable  = "BACKEND_UNAVAILABLE"
	CodeTimeout             = "TIMEOUT"
	CodeCorruptState        = "CORRUPT_STATE"
	CodeExhausted           = "EXHAUSTED"
	CodePolicyProtocolError = "POLICY_PROTOCOL_ERROR"
	CodeCancelled           = "CANCELLED"
	CodeInternal            = "INTERNAL"
)

// AppError is the error type returned by every orka component boundary.
type AppError struct {
	Code       string `json:"error"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through AppError.
func (e *AppError) Unwrap() error { return e.Err }

func NotFound(resource, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id), HTTPStatus: http.StatusNotFound}
}

func AlreadyExists(resource, id string) *AppError {
	return &AppError{Code: CodeAlreadyExists, Message: fmt.Sprintf("%s %q already exists", resource, id), HTTPStatus: http.StatusConflict}
}

func Conflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message, HTTPStatus: http.StatusConflict}
}

func Validation(field, message string) *AppError {
	return &AppError{Code: CodeValidation, Message: fmt.Sprintf("%s: %s", field, message), HTTPStatus: http.StatusBadRequest}
}

func BackendUnavailable(backend string, err error) *AppError {
	return &AppError{Code: CodeBackendUnavailable, Message: fmt.Sprintf("%s is unavailable", backend), HTTPStatus: http.StatusServiceUnavailable, Err: err}
}

func Timeout(op string) *AppError {
	return &AppError{Code: CodeTimeout, Message: fmt.Sprintf("%s timed out", op), HTTPStatus: http.StatusGatewayTimeout}
}

func CorruptState(project string, err error) *AppError {
	return &AppError{Code: CodeCorruptState, Message: fmt.Sprintf("persisted state for %q is corrupt", project), HTTPStatus: http.StatusInternalServerError, Err: err}
}

func Exhausted(resource string) *AppError {
	return &AppError{Code: CodeExhausted, Message: fmt.Sprintf("%s pool exhausted", resource), HTTPStatus: http.StatusServiceUnavailable}
}

func PolicyProtocolError(err error) *AppError {
	return &AppError{Code: CodePolicyProtocolError, Message: "policy backend returned an unparseable reply", HTTPStatus: http.StatusBadGateway, Err: err}
}

func Cancelled(op string) *AppError {
	return &AppError{Code: CodeCancelled, Message: fmt.Sprintf("%s was cancelled", op), HTTPStatus: http.StatusRequestTimeout}
}

func Internal(message string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

// Wrap wraps err with additional context, preserving its AppError code/status if any.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}
	return &AppError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

// Is reports whether err is an AppError of the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// HTTPStatus returns the HTTP status for err, defaulting to 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
