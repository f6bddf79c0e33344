package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/sppctl/internal/device"
	"github.com/srg/sppctl/internal/device/bluez"
)

// AdapterFactory creates the platform Bluetooth adapter.
// This is a variable so that it can be overridden in tests.
var AdapterFactory = func(opts *device.AdapterOptions, logger *logrus.Logger) (device.Adapter, error) {
	return bluez.New(opts, logger)
}

// NewAdapter creates an adapter through AdapterFactory.
func NewAdapter(adapterID string, logger *logrus.Logger) (device.Adapter, error) {
	return AdapterFactory(&device.AdapterOptions{ID: adapterID}, logger)
}
