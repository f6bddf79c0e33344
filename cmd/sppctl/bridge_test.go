//go:build test

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/srg/sppctl/internal/device"
	"github.com/srg/sppctl/internal/script"
	"github.com/stretchr/testify/suite"
)

type BridgeCommandTestSuite struct {
	CommandTestSuite
}

func (s *BridgeCommandTestSuite) TestRunsUntilPeerHangsUp() {
	// GOAL: the bridge command reports the PTY and ends when the device disconnects
	//
	// TEST SCENARIO: peer hangs up after connect → ErrConnectionLost, PTY path printed
	go hangupWhenConnected(s.Peer("HC-06"))

	_, errOut, err := s.ExecuteCommand("", "bridge", "HC-06", "--poll", "5ms")
	s.Require().Error(err)

	s.ErrorIs(err, device.ErrConnectionLost)
	s.Contains(errOut, "Bridging HC-06 ("+TestHC06Address+")")
	s.Contains(errOut, "PTY: /dev/pts/")
	s.True(s.Peer("HC-06").Socket().Closed(), "socket MUST be closed when the bridge ends")
}

func (s *BridgeCommandTestSuite) TestSymlink() {
	link := filepath.Join(s.T().TempDir(), "hc06")
	go hangupWhenConnected(s.Peer("HC-06"))

	_, errOut, err := s.ExecuteCommand("", "bridge", "HC-06", "--symlink", link)
	s.Require().Error(err)

	s.Contains(errOut, "Symlink: "+link)
	_, statErr := os.Lstat(link)
	s.True(os.IsNotExist(statErr), "symlink MUST be removed on exit")
}

func (s *BridgeCommandTestSuite) TestBrokenScript() {
	// GOAL: a script that does not compile aborts the bridge with a script error
	//
	// TEST SCENARIO: --script with a syntax error → script.Error of kind syntax
	path := filepath.Join(s.T().TempDir(), "broken.lua")
	s.Require().NoError(os.WriteFile(path, []byte("function serial_to_tty(line\n"), 0o600))

	_, _, err := s.ExecuteCommand("", "bridge", "HC-06", "--script", path)
	s.Require().Error(err)
	s.ErrorIs(err, script.ErrSyntax)
	s.Contains(FormatUserError(err), "script failed")
}

func (s *BridgeCommandTestSuite) TestMissingScript() {
	_, _, err := s.ExecuteCommand("", "bridge", "HC-06", "--script", "/nonexistent/hooks.lua")
	s.Require().Error(err)
	s.Contains(err.Error(), "failed to read script")
	s.Empty(s.Peer("HC-06").Sockets(), "MUST fail before connecting")
}

func TestBridgeCommandTestSuite(t *testing.T) {
	suite.Run(t, new(BridgeCommandTestSuite))
}
