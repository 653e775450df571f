package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies the class of a kiosk error.
type ErrorCode string

const (
	ErrValidation     ErrorCode = "VALIDATION"       // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"        // 404
	ErrInvalidState   ErrorCode = "INVALID_STATE"    // 409
	ErrCameraNotReady ErrorCode = "CAMERA_NOT_READY" // 409
	ErrConfiguration  ErrorCode = "CONFIGURATION"    // 500
	ErrInternal       ErrorCode = "INTERNAL"         // 500
	ErrIntegration    ErrorCode = "INTEGRATION"      // 502
	ErrDevice         ErrorCode = "DEVICE"           // 503
)

// Error is a structured error. Message is safe to show to the operator;
// the wrapped cause is only ever logged.
type Error struct {
	Code    ErrorCode
	Status  int
	Message string
	Service string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the operator may retry the failed step.
func (e *Error) Retryable() bool {
	switch e.Code {
	case ErrIntegration, ErrDevice:
		return true
	}
	return false
}

// NewValidation creates a 400 error for invalid operator input.
func NewValidation(msg string, fields map[string]string) *Error {
	e := &Error{Code: ErrValidation, Status: http.StatusBadRequest, Message: msg}
	if len(fields) > 0 {
		details := make(map[string]any, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		e.Details = details
	}
	return e
}

// NewNotFound creates a 404 error.
func NewNotFound(what, id string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("%s not found", what),
		Details: map[string]any{"id": id},
	}
}

// NewInvalidState creates a 409 error for an action the current stage does not allow.
func NewInvalidState(action, state string) *Error {
	return &Error{
		Code:    ErrInvalidState,
		Status:  http.StatusConflict,
		Message: fmt.Sprintf("cannot %s while %s", action, state),
		Details: map[string]any{"action": action, "state": state},
	}
}

// NewCameraNotReady creates a 409 error for captures attempted before the feed delivers frames.
func NewCameraNotReady() *Error {
	return &Error{
		Code:    ErrCameraNotReady,
		Status:  http.StatusConflict,
		Message: "camera is not delivering frames yet, please wait a moment",
	}
}

// NewConfiguration creates a fatal configuration error.
func NewConfiguration(msg string) *Error {
	return &Error{
		Code:    ErrConfiguration,
		Status:  http.StatusInternalServerError,
		Message: msg,
	}
}

// NewDevice creates a 503 error for camera acquisition failures.
func NewDevice(err error) *Error {
	return &Error{
		Code:    ErrDevice,
		Status:  http.StatusServiceUnavailable,
		Message: "unable to access camera, please check permissions and try again",
		Err:     err,
	}
}

// Integration wraps a failed call to an external collaborator.
func Integration(service string, err error) *Error {
	return &Error{
		Code:    ErrIntegration,
		Status:  http.StatusBadGateway,
		Message: fmt.Sprintf("%s is unavailable, please try again", service),
		Service: service,
		Err:     err,
	}
}

// NewInternal creates a 500 error for unexpected failures.
func NewInternal(err error) *Error {
	return &Error{
		Code:    ErrInternal,
		Status:  http.StatusInternalServerError,
		Message: "something went wrong, please try again",
		Err:     err,
	}
}

// As extracts an *Error from the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is checks if an error chain holds an *Error with the given code.
func Is(err error, code ErrorCode) bool {
	if e, ok := As(err); ok {
		return e.Code == code
	}
	return false
}

// From converts any error into an *Error, defaulting to INTERNAL.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return NewInternal(err)
}
