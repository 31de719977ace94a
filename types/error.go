package types

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents a unified error code across the orchestration core.
type ErrorCode string

// Request errors: the caller's fault, never retried.
const (
	ErrValidation          ErrorCode = "VALIDATION"
	ErrImageDecode         ErrorCode = "IMAGE_DECODE"
	ErrConditioningQuality ErrorCode = "CONDITIONING_QUALITY"
)

// Provider errors.
const (
	ErrProviderTransient ErrorCode = "PROVIDER_TRANSIENT"
	ErrProviderPermanent ErrorCode = "PROVIDER_PERMANENT"
)

// Orchestration errors.
const (
	ErrAdmissionRejected ErrorCode = "ADMISSION_REJECTED"
	ErrEnginesExhausted  ErrorCode = "ENGINES_EXHAUSTED"
	ErrCanceled          ErrorCode = "CANCELED"
	ErrInternal          ErrorCode = "INTERNAL"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Retryable  bool          `json:"retryable"`
	Provider   string        `json:"provider,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Cause      error         `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithRetryAfter sets the retry-after hint handed back to callers.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// NewValidationError creates a VALIDATION error.
func NewValidationError(format string, args ...any) *Error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...)).WithHTTPStatus(http.StatusBadRequest)
}

// NewTransientError creates a retryable provider error.
func NewTransientError(provider, message string, cause error) *Error {
	return NewError(ErrProviderTransient, message).
		WithProvider(provider).
		WithRetryable(true).
		WithHTTPStatus(http.StatusBadGateway).
		WithCause(cause)
}

// NewPermanentError creates a non-retryable provider error.
func NewPermanentError(provider, message string, cause error) *Error {
	return NewError(ErrProviderPermanent, message).
		WithProvider(provider).
		WithHTTPStatus(http.StatusBadGateway).
		WithCause(cause)
}

// NewAdmissionError creates an ADMISSION_REJECTED error with a retry-after hint.
func NewAdmissionError(message string, retryAfter time.Duration) *Error {
	return NewError(ErrAdmissionRejected, message).
		WithHTTPStatus(http.StatusTooManyRequests).
		WithRetryAfter(retryAfter)
}

// publicMessages is the caller-facing text per code. Provider text stays in Cause.
var publicMessages = map[ErrorCode]string{
	ErrProviderTransient: "image provider temporarily unavailable",
	ErrProviderPermanent: "image provider rejected the request",
	ErrEnginesExhausted:  "all generation engines failed",
	ErrCanceled:          "request canceled",
	ErrInternal:          "internal error",
}

// PublicMessage returns text that is safe to show to end users.
// Request-level codes keep their own message since it describes the caller's input.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	e, ok := AsError(err)
	if !ok {
		return publicMessages[ErrInternal]
	}
	if msg, ok := publicMessages[e.Code]; ok {
		return msg
	}
	return e.Message
}
