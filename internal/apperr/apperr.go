// Package apperr defines the gateway's error taxonomy. Only three errors
// surface to callers (validation, admission refused, no providers responded);
// everything else degrades into a success result with diagnostics.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class in the taxonomy.
type Code string

const (
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeAdmissionRefused     Code = "ADMISSION_REFUSED"
	CodeNoProvidersResponded Code = "NO_PROVIDERS_RESPONDED"
	CodeProviderFailure      Code = "PROVIDER_FAILURE"
	CodePartialFailure       Code = "PARTIAL_FAILURE"
	CodeSynthesisFailure     Code = "SYNTHESIS_FAILURE"
	CodeValidationGate       Code = "VALIDATION_GATE_FAILURE"
	CodeCalibrationMissing   Code = "CALIBRATION_UNAVAILABLE"
	CodeStoreUnavailable     Code = "STORE_UNAVAILABLE"
	CodeInternal             Code = "INTERNAL_ERROR"
)

// Error is a structured gateway error carrying an HTTP status and a
// retryability hint for callers.
type Error struct {
	Code      Code
	Message   string
	Status    int
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a structured error.
func New(code Code, message string, status int, err error) *Error {
	return &Error{Code: code, Message: message, Status: status, Err: err}
}

// Validation builds a 400 caller-fixable error.
func Validation(message string) *Error {
	return &Error{Code: CodeValidation, Message: message, Status: http.StatusBadRequest}
}

// AdmissionRefused builds a 429 retryable error.
func AdmissionRefused(message string) *Error {
	return &Error{Code: CodeAdmissionRefused, Message: message, Status: http.StatusTooManyRequests, Retryable: true}
}

// NoProvidersResponded builds a 503 retryable error.
func NoProvidersResponded(err error) *Error {
	return &Error{
		Code:      CodeNoProvidersResponded,
		Message:   "noProvidersResponded",
		Status:    http.StatusServiceUnavailable,
		Retryable: true,
		Err:       err,
	}
}

// Internal wraps an unexpected error as a 500.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", Status: http.StatusInternalServerError, Err: err}
}

// FromError extracts an *Error, or wraps err as internal.
func FromError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// CallerVisible reports whether this error class surfaces to the caller as an
// error response rather than a degraded success.
func (e *Error) CallerVisible() bool {
	switch e.Code {
	case CodeValidation, CodeAdmissionRefused, CodeNoProvidersResponded:
		return true
	default:
		return false
	}
}
