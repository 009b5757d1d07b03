// Package errors defines the typed failure kinds of the ingestion pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode identifies a failure kind.
type ErrorCode string

const (
	ErrCodeNetworkTimeout       ErrorCode = "NETWORK_TIMEOUT"
	ErrCodeBlocked              ErrorCode = "BLOCKED"
	ErrCodeThrottled            ErrorCode = "THROTTLED"
	ErrCodeServerError          ErrorCode = "SERVER_ERROR"
	ErrCodeUnexpectedStatus     ErrorCode = "UNEXPECTED_STATUS"
	ErrCodeParseFailure         ErrorCode = "PARSE_FAILURE"
	ErrCodeValidationFailure    ErrorCode = "VALIDATION_FAILURE"
	ErrCodeLocationReject       ErrorCode = "LOCATION_REJECT"
	ErrCodeGeocodingUnavailable ErrorCode = "GEOCODING_UNAVAILABLE"
	ErrCodeStorageFailure       ErrorCode = "STORAGE_FAILURE"
	ErrCodeConcurrentRun        ErrorCode = "CONCURRENT_RUN_REFUSED"
	ErrCodeCircuitOpen          ErrorCode = "CIRCUIT_OPEN"
	ErrCodeSiteDisabled         ErrorCode = "SITE_DISABLED"
	ErrCodeInvalidRequest       ErrorCode = "INVALID_REQUEST"
)

// StandardError is a structured pipeline error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error { return e.cause }

// New builds a StandardError.
func New(code ErrorCode, message string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now(),
	}
}

// Wrap builds a StandardError carrying cause.
func Wrap(code ErrorCode, message string, cause error) *StandardError {
	e := New(code, message, false)
	e.cause = cause
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// WithMetadata sets a metadata key and returns e.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func NewNetworkTimeoutError(url string, cause error) *StandardError {
	e := Wrap(ErrCodeNetworkTimeout, "request failed", cause)
	e.Retryable = true
	return e.WithMetadata("url", url)
}

func NewBlockedError(url string) *StandardError {
	return New(ErrCodeBlocked, "access forbidden", false).WithMetadata("url", url).WithMetadata("status", http.StatusForbidden)
}

func NewThrottledError(url string, status int) *StandardError {
	return New(ErrCodeThrottled, "throttled by site", true).WithMetadata("url", url).WithMetadata("status", status)
}

func NewServerError(url string, status int) *StandardError {
	return New(ErrCodeServerError, "site server error", true).WithMetadata("url", url).WithMetadata("status", status)
}

func NewParseError(source string, cause error) *StandardError {
	return Wrap(ErrCodeParseFailure, "cannot parse record", cause).WithMetadata("source", source)
}

func NewValidationError(reason string) *StandardError {
	return New(ErrCodeValidationFailure, reason, false)
}

func NewLocationRejectError(reason string) *StandardError {
	return New(ErrCodeLocationReject, reason, false)
}

func NewGeocodingUnavailableError(query string, cause error) *StandardError {
	e := Wrap(ErrCodeGeocodingUnavailable, "geographic directory unavailable", cause)
	e.Retryable = true
	return e.WithMetadata("query", query)
}

func NewStorageError(op string, cause error) *StandardError {
	return Wrap(ErrCodeStorageFailure, op, cause)
}

func NewConcurrentRunError(userID string) *StandardError {
	return New(ErrCodeConcurrentRun, "a run is already in progress", false).WithMetadata("user_id", userID)
}

func NewCircuitOpenError(source string, until time.Time) *StandardError {
	return New(ErrCodeCircuitOpen, "circuit breaker open", true).
		WithMetadata("source", source).
		WithMetadata("open_until", until)
}

func NewSiteDisabledError(source, reason string) *StandardError {
	e := New(ErrCodeSiteDisabled, "site disabled", false).WithMetadata("source", source)
	e.Details = reason
	return e
}

func NewInvalidRequestError(reason string) *StandardError {
	return New(ErrCodeInvalidRequest, reason, false)
}

// FromStatus maps a non-200 HTTP status to its error kind.
func FromStatus(url string, status int) *StandardError {
	switch {
	case status == http.StatusForbidden:
		return NewBlockedError(url)
	case status == http.StatusTooManyRequests:
		return NewThrottledError(url, status)
	case status >= 500:
		return NewServerError(url, status)
	default:
		return New(ErrCodeUnexpectedStatus, fmt.Sprintf("unexpected status %d", status), false).WithMetadata("url", url).WithMetadata("status", status)
	}
}

// IsCode reports whether err, or anything it wraps, is a StandardError with code.
func IsCode(err error, code ErrorCode) bool {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsRetryable reports whether err is a retryable StandardError.
func IsRetryable(err error) bool {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// Status returns the HTTP status carried in metadata, or 0.
func Status(err error) int {
	var se *StandardError
	if stderrors.As(err, &se) {
		if s, ok := se.Metadata["status"].(int); ok {
			return s
		}
	}
	return 0
}
