//go:build !linux

// Package bluez implements device.Adapter on top of the Linux BlueZ daemon.
// On other platforms New always reports the adapter as unavailable.
package bluez

import (
	"errors"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppctl/internal/device"
)

// New reports that no RFCOMM backend exists for this platform.
func New(_ *device.AdapterOptions, _ *logrus.Logger) (device.Adapter, error) {
	return nil, device.NewConnectError(device.KindAdapterUnavailable, "",
		errors.New("RFCOMM is not supported on "+runtime.GOOS))
}
