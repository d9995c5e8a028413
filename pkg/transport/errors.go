package transport

import (
	"fmt"
	"strings"
)

// ErrorType classifies transport errors for routing and retry decisions.
type ErrorType string

const (
	// ErrorTypeNetwork indicates connection, DNS, or read errors
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeTimeout indicates request timeout or deadline exceeded
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeAuth indicates authentication failure (401, 403)
	ErrorTypeAuth ErrorType = "auth"

	// ErrorTypeRateLimit indicates rate limiting (429 Too Many Requests)
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeServer indicates server errors (5xx)
	ErrorTypeServer ErrorType = "server"

	// ErrorTypeClient indicates client errors (4xx, non-retryable)
	ErrorTypeClient ErrorType = "client"

	// ErrorTypeInvalidRequest indicates request validation failure before sending
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeCancelled indicates context cancellation
	ErrorTypeCancelled ErrorType = "cancelled"
)

// Error is a structured error from transport execution. All transport
// implementations return *Error for failures so retry logic and callers can
// classify consistently.
type Error struct {
	// Type classifies the error for routing and retry decisions
	Type ErrorType

	// StatusCode is the HTTP status code if applicable.
	// Zero for non-HTTP errors (connection, timeout, etc.)
	StatusCode int

	// Message is a user-facing error message with credentials redacted
	Message string

	// RequestID is the request ID from the service, when available
	RequestID string

	// Retryable indicates whether the error is retryable
	Retryable bool

	// Cause is the underlying error.
	// May contain sensitive data, prefer Message for display.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if the error should be retried.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// ErrorType returns the classification as a string, satisfying the
// error-classifier convention used across the library.
func (e *Error) ErrorType() string {
	return string(e.Type)
}

// IsStatusCode returns true if the error has the given HTTP status code.
func (e *Error) IsStatusCode(code int) bool {
	return e.StatusCode == code
}

// IsType returns true if the error is of the given type.
func (e *Error) IsType(t ErrorType) bool {
	return e.Type == t
}

// ClassifyStatus maps an HTTP status code onto an ErrorType.
// Codes below 400 classify as ErrorTypeClient since a well-formed exchange
// never reaches classification for them.
func ClassifyStatus(code int) ErrorType {
	switch {
	case code == 401 || code == 403:
		return ErrorTypeAuth
	case code == 408:
		return ErrorTypeTimeout
	case code == 429:
		return ErrorTypeRateLimit
	case code >= 500:
		return ErrorTypeServer
	default:
		return ErrorTypeClient
	}
}

// statusRetryable reports whether a status code is retryable by default.
func statusRetryable(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// FromResponse builds a classified *Error from a failed response.
// The body is included in the message only when small enough to be an error
// payload rather than content.
func FromResponse(resp *Response) *Error {
	message := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if len(resp.Body) > 0 && len(resp.Body) < 500 {
		message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}
	return &Error{
		Type:       ClassifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    message,
		RequestID:  resp.RequestID(),
		Retryable:  statusRetryable(resp.StatusCode),
	}
}
