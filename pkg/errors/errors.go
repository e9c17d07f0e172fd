// Package errors provides structured error handling for inlet with error
// categorization, cause wrapping, and retryability classification.
//
// # Overview
//
// The errors package extends Go's standard error handling with:
//   - Error categorization through ErrorType
//   - Structured context with key-value details
//   - Error wrapping with cause preservation
//   - Retryability detection, including explicit per-error overrides
//   - Rate-limit hints (Retry-After) carried on the error itself
//
// # Basic Usage
//
//	// Create a new error
//	err := errors.New(errors.ErrorTypeValidation, "malformed record")
//
//	// Add context
//	err = err.WithDetail("row", 42)
//
//	// Wrap existing errors
//	if err := transport.Connect(ctx); err != nil {
//	    return errors.Wrap(err, errors.ErrorTypeConnection, "connect failed")
//	}
//
// # Retryability
//
// Connection, timeout, and rate-limit errors are retryable by default.
// A terminal wrapper produced after retry exhaustion carries an explicit
// Retryable=false regardless of its type.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error, used for error handling
// strategies, retry classification, and monitoring.
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents malformed-unit errors isolated to one item
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeRateLimit represents rate limit (429) errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents transport-level connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeAuthentication represents authentication (401/403) errors
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeCancelled represents context cancellation during an operation
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData represents data processing errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeCapability represents feature-not-supported errors
	ErrorTypeCapability ErrorType = "capability"
	// ErrorTypeIntegration represents terminal integration errors produced
	// after retries are exhausted; always carries Retryable=false
	ErrorTypeIntegration ErrorType = "integration"
)

// Error represents a structured error with context.
//
// Fields:
//   - Type: categorizes the error for handling strategies
//   - Code: machine-readable code for terminal integration errors
//   - Message: human-readable description
//   - Cause: the underlying error
//   - Details: key-value pairs providing additional context
//   - Retryable: explicit retryability override; nil means "by type"
//   - RetryAfter: server-provided backoff hint for rate-limit errors
type Error struct {
	Type       ErrorType
	Code       string
	Message    string
	Cause      error
	Details    map[string]interface{}
	Retryable  *bool
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, enabling errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Chainable.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCode sets a machine-readable error code. Chainable.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithRetryable sets an explicit retryability override. Chainable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = &retryable
	return e
}

// WithRetryAfter records a server-provided backoff hint. Chainable.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// New creates a new error with the given type and message.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return New(errType, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with additional context, preserving the
// original error as the cause. Returns nil if the input error is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Terminal wraps the last error after retry exhaustion as a terminal
// integration error carrying a code and an explicit Retryable=false.
func Terminal(err error, code, message string) *Error {
	e := Wrap(err, ErrorTypeIntegration, message)
	if e == nil {
		e = New(ErrorTypeIntegration, message)
	}
	return e.WithCode(code).WithRetryable(false)
}

// Cancelled wraps a context cancellation error.
func Cancelled(err error, message string) *Error {
	return Wrap(err, ErrorTypeCancelled, message)
}

// IsRetryable reports whether the error may be retried. An explicit
// Retryable override wins; otherwise rate-limit, timeout, and connection
// errors are retryable.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	if e.Retryable != nil {
		return *e.Retryable
	}

	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// RetryAfter returns the server-provided backoff hint carried by the error,
// or zero when none is present.
func RetryAfter(err error) time.Duration {
	var e *Error
	if !errors.As(err, &e) {
		return 0
	}
	return e.RetryAfter
}

// CodeOf returns the machine-readable code of the error, or the error type
// when no code was set, or "unknown" for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "unknown"
	}
	if e.Code != "" {
		return e.Code
	}
	return string(e.Type)
}
