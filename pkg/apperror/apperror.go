// Package apperror defines the error taxonomy for the recording core:
// machine-readable codes with HTTP status mapping and retryable detection.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	// CodeValidation indicates missing or invalid input, rejected before any
	// state mutation.
	CodeValidation Code = "VALIDATION"
	// CodeNotFound indicates an operation on an unknown session or job id.
	CodeNotFound Code = "NOT_FOUND"
	// CodeConcurrency indicates a duplicate start for an already-active call.
	CodeConcurrency Code = "CONCURRENCY"
	// CodeProvider indicates a storage or transcription gateway failure.
	CodeProvider Code = "PROVIDER"
	// CodeUnavailable indicates the orchestrator is shut down or over capacity.
	CodeUnavailable Code = "UNAVAILABLE"
)

type Error struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// HTTPStatus maps a code to a response status. Unknown codes are treated
// as provider faults.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConcurrency:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// HTTPStatus maps the error code to a response status.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

func Validation(message string) *Error {
	return &Error{Code: CodeValidation, Message: message}
}

func NotFound(resource, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %s not found", resource, id),
		Details: map[string]any{"resource": resource, "id": id},
	}
}

func Concurrency(callID string) *Error {
	return &Error{
		Code:    CodeConcurrency,
		Message: fmt.Sprintf("call %s already has an active recording session", callID),
		Details: map[string]any{"call_id": callID},
	}
}

func Provider(gateway string, cause error) *Error {
	return &Error{
		Code:      CodeProvider,
		Message:   fmt.Sprintf("%s gateway failure", gateway),
		Retryable: true,
		Details:   map[string]any{"gateway": gateway},
		Cause:     cause,
	}
}

func Unavailable(message string) *Error {
	return &Error{Code: CodeUnavailable, Message: message, Retryable: true}
}

// CodeOf extracts the taxonomy code from err, or empty for foreign errors.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
