//go:build test

package main

import (
	"testing"

	"github.com/srg/sppctl/internal/device"
	"github.com/stretchr/testify/suite"
)

type TermTestSuite struct {
	CommandTestSuite
}

func (s *TermTestSuite) TestLinesRoundTrip() {
	// GOAL: term sends each stdin line and prints each received line
	//
	// TEST SCENARIO: stdin "PING\nhello\n" → peer gets both lines, stdout shows "< PONG"
	out, errOut, err := s.ExecuteCommand("PING\nhello\n", "term", "HC-06")
	s.Require().NoError(err)

	s.Equal([]string{"PING", "hello"}, s.Peer("HC-06").ReceivedLines())
	s.Text().Assert(out, "< PONG\n")
	s.Contains(errOut, "Connected to HC-06 ("+TestHC06Address+")")
}

func (s *TermTestSuite) TestUnsolicitedLines() {
	// GOAL: lines the device sends on its own are printed too
	//
	// TEST SCENARIO: peer pushes two lines right after connect → both printed in order
	s.Peer("HC-06").WithResponder(func(line string) string {
		if line == "go" {
			return "one\ntwo\n"
		}
		return ""
	})

	out, _, err := s.ExecuteCommand("go\n", "term", "HC-06", "--eol", "lf")
	s.Require().NoError(err)
	s.Text().Assert(out, "< one\n< two\n")
}

func (s *TermTestSuite) TestPeerHangup() {
	// GOAL: a hangup by the device ends the terminal with a connection-lost error
	//
	// TEST SCENARIO: peer hangs up once the socket is open → error formats as "connection lost"
	peer := s.Peer("HC-06")
	go hangupWhenConnected(peer)

	_, _, err := s.ExecuteCommand("", "term", "HC-06")
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrConnectionLost)
	s.Contains(FormatUserError(err), "connection lost")
}

func TestTermTestSuite(t *testing.T) {
	suite.Run(t, new(TermTestSuite))
}
