package station

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func opError(op string, errno syscall.Errno) error {
	return &net.OpError{Op: op, Net: "tcp4", Err: os.NewSyscallError(op, errno)}
}

func TestClassifyDialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: outcomeSuccess},
		{name: "refused", err: opError("dial", syscall.ECONNREFUSED), want: outcomeRefused},
		{name: "reset", err: opError("read", syscall.ECONNRESET), want: outcomeReset},
		{name: "host unreachable", err: opError("dial", syscall.EHOSTUNREACH), want: outcomeUnreachable},
		{name: "network unreachable", err: opError("dial", syscall.ENETUNREACH), want: outcomeUnreachable},
		{name: "address not available", err: opError("dial", syscall.EADDRNOTAVAIL), want: outcomeBind},
		{name: "bind op", err: &net.OpError{Op: "bind", Net: "tcp4", Err: errors.New("boom")}, want: outcomeBind},
		{name: "timed out", err: opError("dial", syscall.ETIMEDOUT), want: outcomeTimeout},
		{name: "deadline", err: fmt.Errorf("dial: %w", os.ErrDeadlineExceeded), want: outcomeTimeout},
		{name: "context deadline", err: context.DeadlineExceeded, want: outcomeTimeout},
		{name: "cancelled", err: &net.OpError{Op: "dial", Net: "tcp4", Err: context.Canceled}, want: outcomeAborted},
		{name: "other", err: errors.New("weird"), want: outcomeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyDialError(tt.err))
		})
	}
}

func TestAppError(t *testing.T) {
	err := NewAppError(ErrNoPorts, ErrCodeConfiguration, "invalid scan configuration", "builder", "Dispatch").
		AddContext("ports", "0")

	assert.EqualError(t, err, "invalid scan configuration: no target ports configured")
	assert.ErrorIs(t, err, ErrNoPorts)
	assert.Equal(t, "0", err.Context["ports"])
	assert.Equal(t, "builder", err.Component)
	assert.Equal(t, "Dispatch", err.Operation)

	wrapped := fmt.Errorf("start: %w", err)
	assert.True(t, IsConfigurationError(wrapped))
	assert.False(t, IsValidationError(wrapped))
	assert.Equal(t, ErrCodeConfiguration, GetErrorCode(wrapped))
	assert.Equal(t, ErrCodeUnknown, GetErrorCode(errors.New("plain")))
}

func TestAppError_NoUnderlying(t *testing.T) {
	err := &AppError{Code: ErrCodeValidation, Message: "bad input"}

	assert.EqualError(t, err, "bad input")
	assert.True(t, IsValidationError(err))
	assert.Nil(t, errors.Unwrap(err))
}
