package mocks

import (
	"context"

	"github.com/srg/sppctl/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockAdapter is a testify mock of device.Adapter. A Return value may be a
// function with the method's signature, which is then called to produce the
// results.
type MockAdapter struct {
	mock.Mock
}

var _ device.Adapter = (*MockAdapter)(nil)

// NewMockAdapter creates a MockAdapter whose expectations are asserted on cleanup.
func NewMockAdapter(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAdapter {
	m := &MockAdapter{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (_m *MockAdapter) ID() string {
	ret := _m.Called()
	if rf, ok := ret.Get(0).(func() string); ok {
		return rf()
	}
	return ret.String(0)
}

func (_m *MockAdapter) Powered(ctx context.Context) (bool, error) {
	ret := _m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) (bool, error)); ok {
		return rf(ctx)
	}
	return ret.Bool(0), ret.Error(1)
}

func (_m *MockAdapter) PairedDevices(ctx context.Context) ([]device.PairedDevice, error) {
	ret := _m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) ([]device.PairedDevice, error)); ok {
		return rf(ctx)
	}
	var r0 []device.PairedDevice
	if v := ret.Get(0); v != nil {
		r0 = v.([]device.PairedDevice)
	}
	return r0, ret.Error(1)
}

func (_m *MockAdapter) CancelDiscovery(ctx context.Context) error {
	ret := _m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) error); ok {
		return rf(ctx)
	}
	return ret.Error(0)
}

func (_m *MockAdapter) Dial(ctx context.Context, dev device.PairedDevice, opts *device.DialOptions) (device.Socket, error) {
	ret := _m.Called(ctx, dev, opts)
	if rf, ok := ret.Get(0).(func(context.Context, device.PairedDevice, *device.DialOptions) (device.Socket, error)); ok {
		return rf(ctx, dev, opts)
	}
	var r0 device.Socket
	if v := ret.Get(0); v != nil {
		r0 = v.(device.Socket)
	}
	return r0, ret.Error(1)
}

func (_m *MockAdapter) Close() error {
	ret := _m.Called()
	if rf, ok := ret.Get(0).(func() error); ok {
		return rf()
	}
	return ret.Error(0)
}
