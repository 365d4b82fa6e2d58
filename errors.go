package clamav

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error codes for machine-readable error classification.
const (
	CodeConnection   = "connection_error"
	CodeTransmission = "transmission_error"
	CodeSource       = "source_error"
	CodeTimeout      = "timeout"
	CodeState        = "state_error"
	CodeValidation   = "validation_error"
	CodeService      = "service_error"
)

// Error is the error type returned by every scan operation.
type Error struct {
	// Code is a machine-readable error code.
	Code string
	// Message is a human-readable error description.
	Message string
	// StatusCode is the numeric gRPC status code when the error came through
	// the bridge.
	StatusCode int
	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates an error indicating the daemon socket could not be reached.
func NewConnectionError(msg string, cause error) *Error {
	return &Error{Code: CodeConnection, Message: msg, Cause: cause}
}

// NewTransmissionError creates an error indicating a read or write failure on
// an established connection.
func NewTransmissionError(msg string, cause error) *Error {
	return &Error{Code: CodeTransmission, Message: msg, Cause: cause}
}

// NewSourceError creates an error indicating the payload source failed.
func NewSourceError(msg string, cause error) *Error {
	return &Error{Code: CodeSource, Message: msg, Cause: cause}
}

// NewTimeoutError creates an error indicating a timeout or cancellation.
func NewTimeoutError(msg string, cause error) *Error {
	return &Error{Code: CodeTimeout, Message: msg, Cause: cause}
}

// NewStateError creates an error indicating the socket was not in the blocking
// mode the protocol requires. It signals misconfiguration, not a transient fault.
func NewStateError(msg string, cause error) *Error {
	return &Error{Code: CodeState, Message: msg, Cause: cause}
}

// NewValidationError creates an error indicating invalid input.
func NewValidationError(msg string, cause error) *Error {
	return &Error{Code: CodeValidation, Message: msg, Cause: cause}
}

// NewServiceError creates an error indicating the remote bridge failed.
func NewServiceError(msg string, statusCode int, cause error) *Error {
	return &Error{Code: CodeService, Message: msg, StatusCode: statusCode, Cause: cause}
}

func hasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsConnectionError reports whether err is or wraps a connection error.
func IsConnectionError(err error) bool { return hasCode(err, CodeConnection) }

// IsTransmissionError reports whether err is or wraps a transmission error.
func IsTransmissionError(err error) bool { return hasCode(err, CodeTransmission) }

// IsSourceError reports whether err is or wraps a source error.
func IsSourceError(err error) bool { return hasCode(err, CodeSource) }

// IsTimeoutError reports whether err is or wraps a timeout error.
func IsTimeoutError(err error) bool { return hasCode(err, CodeTimeout) }

// IsStateError reports whether err is or wraps a state error.
func IsStateError(err error) bool { return hasCode(err, CodeState) }

// IsValidationError reports whether err is or wraps a validation error.
func IsValidationError(err error) bool { return hasCode(err, CodeValidation) }

// IsServiceError reports whether err is or wraps a service error.
func IsServiceError(err error) bool { return hasCode(err, CodeService) }

// classifyDialError maps a failed connect to a connection, timeout or state error.
func classifyDialError(ctx context.Context, err error) error {
	if isWouldBlock(err) {
		return NewStateError("clamd socket would block on connect (listen backlog full)", err)
	}
	if timeoutErr := classifyDeadline(ctx, err, "connect"); timeoutErr != nil {
		return timeoutErr
	}
	return NewConnectionError("failed to connect to clamd", err)
}

// classifyIOError maps a failed read or write on the session connection.
func classifyIOError(ctx context.Context, err error, op string) error {
	if timeoutErr := classifyDeadline(ctx, err, op); timeoutErr != nil {
		return timeoutErr
	}
	return NewTransmissionError(op+" failed", err)
}

func classifyDeadline(ctx context.Context, err error, op string) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return NewTimeoutError(op+" canceled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(op+" timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(op+" timed out", err)
	}
	return nil
}
