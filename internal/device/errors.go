package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrorKind classifies connect-time failures.
type ErrorKind string

const (
	KindDeviceNotFound     ErrorKind = "device_not_found"
	KindAdapterUnavailable ErrorKind = "adapter_unavailable"
	KindSocket             ErrorKind = "socket_error"
	KindConnectTimeout     ErrorKind = "connect_timeout"
	KindPermissionDenied   ErrorKind = "permission_denied"
)

// ConnectError is returned by every failed connection attempt.
type ConnectError struct {
	Kind   ErrorKind
	Device string // requested name or address, empty if not applicable
	Err    error  // underlying cause, may be nil
}

func (e *ConnectError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Device != "" {
		msg = fmt.Sprintf("%s: %q", msg, e.Device)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConnectError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare ConnectError values by Kind
func (e *ConnectError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinels for errors.Is checks
var (
	ErrDeviceNotFound     = &ConnectError{Kind: KindDeviceNotFound}
	ErrAdapterUnavailable = &ConnectError{Kind: KindAdapterUnavailable}
	ErrSocket             = &ConnectError{Kind: KindSocket}
	ErrConnectTimeout     = &ConnectError{Kind: KindConnectTimeout}
	ErrPermissionDenied   = &ConnectError{Kind: KindPermissionDenied}
)

// NewConnectError builds a ConnectError. If err already is a ConnectError its
// kind wins, so backends can classify precisely and callers only add context.
func NewConnectError(kind ErrorKind, dev string, err error) *ConnectError {
	var cerr *ConnectError
	if errors.As(err, &cerr) {
		if dev == "" {
			dev = cerr.Device
		}
		return &ConnectError{Kind: cerr.Kind, Device: dev, Err: cerr.Err}
	}
	return &ConnectError{Kind: kind, Device: dev, Err: err}
}

// ClassifyError maps a raw platform error onto an ErrorKind. Unknown errors
// are socket errors.
func ClassifyError(err error) ErrorKind {
	var cerr *ConnectError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cerr):
		return cerr.Kind
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, syscall.ETIMEDOUT):
		return KindConnectTimeout
	case errors.Is(err, os.ErrPermission),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM):
		return KindPermissionDenied
	case errors.Is(err, syscall.ENODEV),
		errors.Is(err, syscall.ENETDOWN),
		errors.Is(err, syscall.EAFNOSUPPORT):
		return KindAdapterUnavailable
	default:
		return KindSocket
	}
}

// ConnectionState represents the session state a call was rejected in
type ConnectionState string

const (
	NoSession        ConnectionState = "no_session"
	AlreadyConnected ConnectionState = "already_connected"
)

// ConnectionError represents a call made in the wrong session state
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

var (
	ErrNoSession        = &ConnectionError{State: NoSession}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
)

// I/O errors
var (
	ErrTimeout        = errors.New("timeout")
	ErrConnectionLost = errors.New("connection lost")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}
