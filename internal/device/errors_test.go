package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectError_Is(t *testing.T) {
	err := NewConnectError(KindDeviceNotFound, "HC-06", nil)

	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.NotErrorIs(t, err, ErrSocket)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), ErrDeviceNotFound)
	assert.Equal(t, `device_not_found: "HC-06"`, err.Error())
}

func TestConnectError_Unwrap(t *testing.T) {
	err := NewConnectError(KindSocket, "ESP32-BT", syscall.ECONNREFUSED)

	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
	assert.ErrorIs(t, err, ErrSocket)
	assert.Contains(t, err.Error(), "ESP32-BT")
}

func TestNewConnectError_KeepsInnerKind(t *testing.T) {
	inner := &ConnectError{Kind: KindConnectTimeout, Err: context.DeadlineExceeded}

	err := NewConnectError(KindSocket, "HC-06", fmt.Errorf("dial: %w", inner))

	assert.Equal(t, KindConnectTimeout, err.Kind)
	assert.Equal(t, "HC-06", err.Device)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"context deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), KindConnectTimeout},
		{"os deadline", os.ErrDeadlineExceeded, KindConnectTimeout},
		{"errno timeout", syscall.ETIMEDOUT, KindConnectTimeout},
		{"permission", syscall.EACCES, KindPermissionDenied},
		{"no device", syscall.ENODEV, KindAdapterUnavailable},
		{"refused", syscall.ECONNREFUSED, KindSocket},
		{"unknown", errors.New("boom"), KindSocket},
		{"already classified", ErrDeviceNotFound, KindDeviceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestConnectionError(t *testing.T) {
	err := fmt.Errorf("read: %w", ErrNoSession)

	assert.ErrorIs(t, err, ErrNoSession)
	assert.NotErrorIs(t, err, ErrAlreadyConnected)
	assert.True(t, IsConnectionState(err, NoSession))
	assert.False(t, IsConnectionState(errors.New("other"), NoSession))
	assert.Equal(t, "already_connected: HC-06", (&ConnectionError{State: AlreadyConnected, Msg: "HC-06"}).Error())
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusConnected, StatusOf(nil))
	assert.Equal(t, StatusNotFound, StatusOf(NewConnectError(KindDeviceNotFound, "x", nil)))
	assert.Equal(t, StatusError, StatusOf(NewConnectError(KindAdapterUnavailable, "x", nil)))
	assert.Equal(t, StatusError, StatusOf(errors.New("boom")))
	assert.Equal(t, "Not found", StatusNotFound.String())
}
