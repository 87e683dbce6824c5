package station

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ErrorCode represents specific error codes for better error handling
type ErrorCode int

const (
	// ErrCodeUnknown is used when the error doesn't fit any other category
	ErrCodeUnknown ErrorCode = iota
	// ErrCodeValidation is used when a config file cannot be parsed or a Config
	// fails its checks
	ErrCodeValidation
	// ErrCodeConfiguration is used when scan options are rejected at Dispatch
	ErrCodeConfiguration
	// ErrCodeCancelled is used when Dispatch is called with a finished context
	ErrCodeCancelled
)

// AppError represents an application-specific error with context
type AppError struct {
	// Underlying error
	Err error
	// Error code for programmatic handling
	Code ErrorCode
	// Human-readable message
	Message string
	// Component where the error occurred
	Component string
	// Operation that was being performed
	Operation string
	// Additional context as key-value pairs
	Context map[string]string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements the errors.Unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// AddContext adds a key-value pair to the error context
func (e *AppError) AddContext(key, value string) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(err error, code ErrorCode, message, component, operation string) *AppError {
	return &AppError{
		Err:       err,
		Code:      code,
		Message:   message,
		Component: component,
		Operation: operation,
		Context:   make(map[string]string),
	}
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	return GetErrorCode(err) == ErrCodeConfiguration
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorCode(err) == ErrCodeValidation
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeUnknown
}

// Dial outcomes, used as the "outcome" label on connect attempt metrics.
const (
	outcomeSuccess     = "success"
	outcomeRefused     = "refused"
	outcomeTimeout     = "timeout"
	outcomeReset       = "reset"
	outcomeUnreachable = "unreachable"
	outcomeBind        = "bind"
	outcomeAborted     = "aborted"
	outcomeOther       = "other"
)

// classifyDialError maps a failed connect to an outcome label. The error
// itself is never surfaced to the caller.
func classifyDialError(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, context.Canceled):
		return outcomeAborted
	case errors.Is(err, syscall.ECONNREFUSED):
		return outcomeRefused
	case errors.Is(err, syscall.ECONNRESET):
		return outcomeReset
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return outcomeUnreachable
	case errors.Is(err, syscall.EADDRNOTAVAIL), errors.Is(err, syscall.EADDRINUSE):
		return outcomeBind
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, syscall.ETIMEDOUT):
		return outcomeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return outcomeTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "bind" {
		return outcomeBind
	}

	return outcomeOther
}
