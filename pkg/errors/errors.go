package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the failure classes the crawler distinguishes
type ErrorType string

const (
	ErrorTypeTransientNetwork     ErrorType = "transient_network"
	ErrorTypeUpstreamThrottled    ErrorType = "upstream_throttled"
	ErrorTypeMalformedResponse    ErrorType = "malformed_response"
	ErrorTypeSessionInvalid       ErrorType = "session_invalid"
	ErrorTypeRetryBudgetExhausted ErrorType = "retry_budget_exhausted"
	ErrorTypeUnknown              ErrorType = "unknown"
)

// Error represents a classified crawler error
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (code %d): %s: %v", e.Type, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error without an underlying cause
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Wrap classifies an existing error
func Wrap(errorType ErrorType, err error, message string) *Error {
	return &Error{Type: errorType, Message: message, Err: err}
}

// WithCode sets the upstream status code and returns the error
func (e *Error) WithCode(code int) *Error {
	e.Code = code
	return e
}

// TypeOf returns the type of the first classified error in the chain
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err carries the given type
func Is(err error, errorType ErrorType) bool {
	return err != nil && TypeOf(err) == errorType
}

// IsRecoverable reports whether the error type is handled locally
func IsRecoverable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransientNetwork, ErrorTypeUpstreamThrottled:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the error type must be surfaced to the operator
func IsFatal(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeSessionInvalid, ErrorTypeRetryBudgetExhausted:
		return true
	default:
		return false
	}
}

// FromStatusCode classifies an upstream HTTP status. It returns nil for 2xx.
func FromStatusCode(statusCode int, message string) *Error {
	var errorType ErrorType
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == 0:
		errorType = ErrorTypeTransientNetwork
	case statusCode == 429:
		errorType = ErrorTypeUpstreamThrottled
	case statusCode == 401, statusCode == 403:
		errorType = ErrorTypeSessionInvalid
	case statusCode >= 500:
		errorType = ErrorTypeTransientNetwork
	default:
		errorType = ErrorTypeMalformedResponse
	}
	return New(errorType, message).WithCode(statusCode)
}
