//go:build test

package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppctl/internal/device"
	"github.com/srg/sppctl/internal/devicefactory"
	"github.com/srg/sppctl/internal/testutils/mocks"
	"github.com/stretchr/testify/suite"
)

// MockAdapterSuite provides a reusable test suite backed by a mocked
// Bluetooth adapter.
//
// The suite swaps devicefactory.AdapterFactory for each test so that every
// component creating an adapter through the factory talks to in-memory peers.
//
// Basic usage (default registry with HC-06 and ESP32-BT answering PING with PONG):
//
//	type SimpleSuite struct {
//	    testutils.MockAdapterSuite
//	}
//
//	func TestSimpleSuite(t *testing.T) {
//	    suite.Run(t, new(SimpleSuite))
//	}
//
// Custom registry usage:
//
//	func (s *RoverSuite) SetupTest() {
//	    s.WithAdapter().
//	        WithPairedDevice("HC-02", "98:D3:31:00:00:02")
//
//	    s.MockAdapterSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockAdapterSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalAdapterFactory func(*device.AdapterOptions, *logrus.Logger) (device.Adapter, error)
	TestTimeout            time.Duration

	// AdapterBuilder configures the registry; Adapter is the mock built from
	// it for the current test.
	AdapterBuilder *AdapterBuilder
	Adapter        *mocks.MockAdapter
}

// SetupSuite initializes the helper and remembers the real factory.
func (s *MockAdapterSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second

	s.OriginalAdapterFactory = devicefactory.AdapterFactory

	s.T().Cleanup(func() {
		if s.OriginalAdapterFactory != nil {
			devicefactory.AdapterFactory = s.OriginalAdapterFactory
			s.Logger.Debug("Adapter factory restored via t.Cleanup")
		}
	})
}

// SetupTest installs the mocked adapter. Configure WithAdapter before calling it.
func (s *MockAdapterSuite) SetupTest() {
	if s.AdapterBuilder == nil {
		s.AdapterBuilder = DefaultAdapterBuilder()
	}

	s.Adapter = s.AdapterBuilder.Build()
	devicefactory.AdapterFactory = func(_ *device.AdapterOptions, _ *logrus.Logger) (device.Adapter, error) {
		return s.Adapter, nil
	}

	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest restores the factory and resets the builder.
func (s *MockAdapterSuite) TearDownTest() {
	if s.OriginalAdapterFactory != nil {
		devicefactory.AdapterFactory = s.OriginalAdapterFactory
	}
	s.AdapterBuilder = nil
	s.Adapter = nil
}

// WithAdapter returns the adapter builder for fluent configuration.
func (s *MockAdapterSuite) WithAdapter() *AdapterBuilder {
	if s.AdapterBuilder == nil {
		s.AdapterBuilder = NewAdapterBuilder()
	}
	return s.AdapterBuilder
}

// Peer returns the fake remote device for a name or address.
func (s *MockAdapterSuite) Peer(nameOrAddress string) *FakePeer {
	s.Require().NotNil(s.AdapterBuilder, "Peer MUST be called after SetupTest")
	p := s.AdapterBuilder.Peer(nameOrAddress)
	s.Require().NotNil(p, "no fake peer for %q", nameOrAddress)
	return p
}

// DefaultAdapterBuilder registers HC-06 and ESP32-BT, both answering PING with PONG.
func DefaultAdapterBuilder() *AdapterBuilder {
	return NewAdapterBuilder().
		FromJSON(`
		{
			"id": "hci0",
			"devices": [
				{ "name": "HC-06",    "address": "98:D3:31:F5:B9:E7", "uuids": ["%s"] },
				{ "name": "ESP32-BT", "address": "24:0A:C4:00:00:01", "uuids": ["%s"] }
			]
		}`, device.SerialPortUUID, device.SerialPortUUID).
		WithResponder(PingResponder)
}

// PingResponder answers PING with PONG.
func PingResponder(line string) string {
	if line == "PING" {
		return "PONG\n"
	}
	return ""
}
