//go:build test

package main

import (
	"testing"

	"github.com/srg/sppctl/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type SendTestSuite struct {
	CommandTestSuite
}

func (s *SendTestSuite) TestSendAndWaitForReply() {
	// GOAL: send writes the line and prints the requested number of replies
	//
	// TEST SCENARIO: send HC-06 PING --wait 1 → peer receives "PING\n", stdout is "PONG"
	out, _, err := s.ExecuteCommand("", "send", "HC-06", "PING", "--wait", "1")
	s.Require().NoError(err)

	s.Equal("PING\n", s.Peer("HC-06").Received(), "peer MUST receive the data with an LF ending")
	s.Text().Assert(out, "PONG\n")
	s.True(s.Peer("HC-06").Socket().Closed(), "socket MUST be closed after send")
}

func (s *SendTestSuite) TestCRLF() {
	out, _, err := s.ExecuteCommand("", "send", "HC-06", "PING", "--eol", "crlf", "--wait", "1")
	s.Require().NoError(err)

	s.Equal("PING\r\n", s.Peer("HC-06").Received())
	s.Text().Assert(out, "PONG\n")
}

func (s *SendTestSuite) TestHexWithoutLineEnding() {
	out, _, err := s.ExecuteCommand("", "send", "ESP32-BT", "6e c8", "--hex", "--eol", "none")
	s.Require().NoError(err)

	s.Equal("n\xc8", s.Peer("ESP32-BT").Received(), "hex bytes MUST be written verbatim")
	s.Empty(out)
}

func (s *SendTestSuite) TestByAddress() {
	_, _, err := s.ExecuteCommand("", "send", "--address", TestESP32Address, "hello")
	s.Require().NoError(err)
	s.Equal("hello\n", s.Peer("ESP32-BT").Received())
}

func (s *SendTestSuite) TestWaitTimeout() {
	// GOAL: missing replies end in a timeout instead of hanging
	//
	// TEST SCENARIO: data with no responder reply, --wait 1 --timeout 100ms → ErrTimeout
	_, _, err := s.ExecuteCommand("", "send", "HC-06", "silence", "--wait", "1", "--timeout", "100ms")
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrTimeout)
	s.Contains(err.Error(), "received 0 of 1 lines")
}

func (s *SendTestSuite) TestUnknownDevice() {
	_, _, err := s.ExecuteCommand("", "send", "Nope", "PING")
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrDeviceNotFound)
}

func (s *SendTestSuite) TestInvalidArguments() {
	_, _, err := s.ExecuteCommand("", "send", "HC-06", "zz", "--hex")
	s.Require().Error(err)
	s.Contains(err.Error(), "invalid hex data")

	resetFlags(rootCmd)
	_, _, err = s.ExecuteCommand("", "send", "HC-06", "PING", "--eol", "cr")
	s.Require().Error(err)
	s.Contains(err.Error(), "invalid --eol")

	s.Empty(s.Peer("HC-06").Sockets(), "invalid arguments MUST fail before connecting")
}

func TestSendTestSuite(t *testing.T) {
	suite.Run(t, new(SendTestSuite))
}

func TestLineEnding(t *testing.T) {
	for eol, want := range map[string]string{"none": "", "": "", "lf": "\n", "LF": "\n", "crlf": "\r\n"} {
		got, err := lineEnding(eol)
		require.NoError(t, err, "eol %q MUST be accepted", eol)
		assert.Equal(t, want, got)
	}

	_, err := lineEnding("cr")
	assert.Error(t, err)
}

func TestParseSendData(t *testing.T) {
	b, err := parseSendData("AT+NAME", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("AT+NAME"), b)

	b, err = parseSendData("0xFF 01:02-03", true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x01, 0x02, 0x03}, b)

	_, err = parseSendData("abc", true)
	assert.Error(t, err, "odd-length hex MUST be rejected")
}
