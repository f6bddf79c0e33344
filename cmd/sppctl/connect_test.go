//go:build test

package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/srg/sppctl/internal/device"
	"github.com/srg/sppctl/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ConnectTestSuite struct {
	CommandTestSuite
}

func (s *ConnectTestSuite) TestConnectByName() {
	// GOAL: connect resolves a paired name and reports Connected with the device line
	//
	// TEST SCENARIO: HC-06 is paired → "HC-06: Connected" then name and address
	out, _, err := s.ExecuteCommand("", "connect", "HC-06")
	s.Require().NoError(err)

	s.Text().Assert(out, fmt.Sprintf("HC-06: Connected\n  HC-06 (%s)\n", TestHC06Address))
	s.Eventually(func() bool {
		return s.Peer("HC-06").Socket().Closed()
	}, s.TestTimeout, 10*time.Millisecond, "connection MUST be released when the command exits")
}

func (s *ConnectTestSuite) TestConnectByAddress() {
	out, _, err := s.ExecuteCommand("", "connect", "--address", "24:0a:c4:00:00:01")
	s.Require().NoError(err)

	s.Text().Assert(out, fmt.Sprintf("24:0a:c4:00:00:01: Connected\n  ESP32-BT (%s)\n", TestESP32Address))
}

func (s *ConnectTestSuite) TestUnknownDevice() {
	// GOAL: an unpaired name reports Not found and a device_not_found error
	//
	// TEST SCENARIO: Unknown-Device → "Not found", errors.Is ErrDeviceNotFound
	out, _, err := s.ExecuteCommand("", "connect", "Unknown-Device")
	s.Require().Error(err)

	s.ErrorIs(err, device.ErrDeviceNotFound, "error MUST be device_not_found")
	s.Text().Assert(out, "Unknown-Device: Not found\n")
	s.Empty(s.Peer("HC-06").Sockets(), "no socket MUST be opened for an unknown name")
}

func (s *ConnectTestSuite) TestAdapterPoweredOff() {
	s.UseAdapter(testutils.DefaultAdapterBuilder().WithPowered(false))

	out, _, err := s.ExecuteCommand("", "connect", "HC-06")
	s.Require().Error(err)

	s.ErrorIs(err, device.ErrAdapterUnavailable)
	s.Text().Assert(out, "HC-06: Error\n")
}

func (s *ConnectTestSuite) TestDialFailure() {
	s.UseAdapter(testutils.DefaultAdapterBuilder().
		WithDialError(TestHC06Address, fmt.Errorf("host is down")))

	out, _, err := s.ExecuteCommand("", "connect", "HC-06")
	s.Require().Error(err)

	s.ErrorIs(err, device.ErrSocket)
	s.Text().Assert(out, "HC-06: Error\n")
}

func (s *ConnectTestSuite) TestDefaultDeviceFromConfig() {
	// GOAL: without an argument the configured device is used
	//
	// TEST SCENARIO: config sets device ESP32-BT → connect with no args connects to it
	path := writeConfig(s.T(), "device: ESP32-BT\n")

	out, _, err := s.ExecuteCommand("", "connect", "--config", path)
	s.Require().NoError(err)
	s.Contains(out, "ESP32-BT: Connected")
}

func (s *ConnectTestSuite) TestInvalidAddress() {
	_, _, err := s.ExecuteCommand("", "connect", "--address", "not-an-address")
	s.Require().Error(err)
}

func TestConnectTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectTestSuite))
}
