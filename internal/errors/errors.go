// Package errors provides error types and handling for page probes.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// InvalidURL is an unparseable URL or a disallowed scheme.
	InvalidURL
	// Action is a failure while analyzing an element or dispatching an event.
	Action
	// Environment means the tick source or an event feed became unavailable.
	Environment
	// Timeout represents an exhausted probe deadline.
	Timeout
	// Cancelled represents context cancellation.
	Cancelled
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case InvalidURL:
		return "invalid_url"
	case Action:
		return "action"
	case Environment:
		return "environment"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsRetryable returns whether a probe failing with this type should be retried.
func (t ErrorType) IsRetryable() bool {
	return t == Environment
}

// IsFatal reports whether errors of this type abort a probe.
func (t ErrorType) IsFatal() bool {
	switch t {
	case Environment, Timeout, Cancelled:
		return true
	default:
		return false
	}
}

// ProbeError represents a categorized probe error.
type ProbeError struct {
	Type      ErrorType
	URL       string
	Operation string
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s on %s: %s (caused by: %v)",
			e.Type.String(), e.Operation, e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s on %s: %s",
		e.Type.String(), e.Operation, e.URL, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target.
func (e *ProbeError) Is(target error) bool {
	t, ok := target.(*ProbeError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Sentinels usable with errors.Is.
var (
	ErrInvalidURL  = &ProbeError{Type: InvalidURL}
	ErrAction      = &ProbeError{Type: Action}
	ErrEnvironment = &ProbeError{Type: Environment}
)

// NewProbeError creates a new ProbeError.
func NewProbeError(errType ErrorType, url, operation, message string, cause error) *ProbeError {
	return &ProbeError{
		Type:      errType,
		URL:       url,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// NewInvalidURLError creates an invalid URL error.
func NewInvalidURLError(url, reason string) *ProbeError {
	return NewProbeError(InvalidURL, url, "normalize", reason, nil)
}

// NewActionError creates an action failure. Operation names the step
// that failed, for example "dispatch" or "fill".
func NewActionError(target, operation string, cause error) *ProbeError {
	return NewProbeError(Action, target, operation, "action failed", cause)
}

// NewEnvironmentError creates an environment failure.
func NewEnvironmentError(url, operation string, cause error) *ProbeError {
	return NewProbeError(Environment, url, operation, "environment unavailable", cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(url, operation string, cause error) *ProbeError {
	return NewProbeError(Timeout, url, operation, "probe timed out", cause)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(url, operation string) *ProbeError {
	return NewProbeError(Cancelled, url, operation, "operation cancelled", nil)
}

// Categorize determines the error type from a generic error.
func Categorize(err error, url string) *ProbeError {
	if err == nil {
		return nil
	}

	var probeErr *ProbeError
	if errors.As(err, &probeErr) {
		return probeErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, "probe")
	}

	if isTimeout(err) {
		return NewTimeoutError(url, "probe", err)
	}

	if isDisconnect(err) {
		return NewEnvironmentError(url, "probe", err)
	}

	return NewProbeError(Unknown, url, "probe", err.Error(), err)
}

// isTimeout checks if an error is a timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "timeout")
}

// isDisconnect checks for a lost browser or devtools connection.
func isDisconnect(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "Target closed") ||
		strings.Contains(errStr, "context destroyed")
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return GetErrorType(err).IsRetryable()
}

// IsFatal checks if an error should abort the probe.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return GetErrorType(err).IsFatal()
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var probeErr *ProbeError
	if errors.As(err, &probeErr) {
		return probeErr.Type
	}
	return Unknown
}
