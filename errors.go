package muatan

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy. Validation errors are form-engine-local and never cross the
// wire; the rest classify pipeline failures.
const (
	ErrorTypeValidation     = "validation"
	ErrorTypeAuthentication = "authentication"
	ErrorTypeAuthorization  = "authorization"
	ErrorTypeNotFound       = "not_found"
	ErrorTypeConflict       = "conflict"
	ErrorTypeServer         = "server_error"
	ErrorTypeNetwork        = "network_error"
	ErrorTypeTimeout        = "timeout"
	ErrorTypeRateLimit      = "rate_limited"
	ErrorTypeCircuitOpen    = "circuit_open"
	ErrorTypeUnknown        = "unknown"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when the circuit breaker is in open state
	ErrCircuitOpen = errors.New("muatan: circuit open")

	// ErrRateLimited is returned when a request is denied by the client-side limiter
	ErrRateLimited = errors.New("muatan: rate limited")

	// ErrSubmitInFlight is returned by Form.HandleSubmit while a prior
	// submission is still running
	ErrSubmitInFlight = errors.New("muatan: submit already in flight")

	// ErrValidationFailed is returned by Form.HandleSubmit when validation
	// blocked the submit action
	ErrValidationFailed = errors.New("muatan: validation failed")
)

// classifyStatus maps an HTTP status to an error type.
func classifyStatus(status int) string {
	switch {
	case status == 401:
		return ErrorTypeAuthentication
	case status == 403:
		return ErrorTypeAuthorization
	case status == 404:
		return ErrorTypeNotFound
	case status == 408:
		return ErrorTypeTimeout
	case status == 409:
		return ErrorTypeConflict
	case status == 429:
		return ErrorTypeRateLimit
	case status >= 500:
		return ErrorTypeServer
	default:
		return ErrorTypeUnknown
	}
}

// APIError is the only error shape that crosses the pipeline boundary. It
// carries the normalized descriptor plus request diagnostics.
type APIError struct {
	Type       string
	Descriptor *ErrorDescriptor
	StatusCode int
	Cause      error
	Method     string
	URL        string
	Attempt    int
	MaxRetries int
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements error interface.
func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Type
	if e.Descriptor != nil {
		msg = fmt.Sprintf("%s: %s (code %s)", e.Type, e.Descriptor.Message, e.Descriptor.Code.String())
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*APIError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// IsTransient determines if an error represents a transient failure that might
// succeed on retry. Returns true for network errors, timeouts, 5xx responses
// and rate limiting; false for other client errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer, ErrorTypeRateLimit, ErrorTypeCircuitOpen:
			return true
		default:
			return false
		}
	}

	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *APIError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	if e.Descriptor != nil {
		info += fmt.Sprintf("Code: %s\n", e.Descriptor.Code.String())
		info += fmt.Sprintf("Message: %s\n", e.Descriptor.Message)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxRetries)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
