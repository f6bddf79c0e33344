//go:build test

package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/srg/sppctl/internal/testutils"
)

const (
	// testPollInterval keeps the serial pump responsive in tests
	testPollInterval = 5 * time.Millisecond

	// slaveReadTimeout bounds every wait for PTY output
	slaveReadTimeout = 2 * time.Second
)

// BridgeSuite provides test infrastructure for bridge tests.
//
// It embeds testutils.MockAdapterSuite so RunSerialBridge connects to an
// in-memory peer, and adds a handle that keeps a bridge running in the
// background while the test drives the PTY slave.
type BridgeSuite struct {
	testutils.MockAdapterSuite

	active *bridgeHandle
}

// TearDownTest stops a bridge left running before the adapter mock goes away.
func (s *BridgeSuite) TearDownTest() {
	if s.active != nil {
		if err := s.active.Stop(); err != nil {
			s.T().Logf("bridge stop: %v", err)
		}
		s.active = nil
	}
	s.MockAdapterSuite.TearDownTest()
}

// bridgeHandle is a bridge running in a background goroutine.
type bridgeHandle struct {
	Bridge Bridge
	Slave  *os.File

	cancel context.CancelFunc
	errCh  chan error
}

// Stop cancels the bridge and returns RunSerialBridge's error.
func (h *bridgeHandle) Stop() error {
	h.cancel()
	if h.Slave != nil {
		_ = h.Slave.Close()
	}
	select {
	case err := <-h.errCh:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("bridge stop timeout")
	}
}

// WriteSlave types data into the PTY as a serial tool would.
func (h *bridgeHandle) WriteSlave(data string) error {
	_, err := h.Slave.Write([]byte(data))
	return err
}

// ReadSlaveUntil reads from the PTY until the accumulated output contains want.
func (h *bridgeHandle) ReadSlaveUntil(want string) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 256)
	deadline := time.Now().Add(slaveReadTimeout)
	for !strings.Contains(sb.String(), want) {
		if err := h.Slave.SetReadDeadline(deadline); err != nil {
			return sb.String(), err
		}
		n, err := h.Slave.Read(buf)
		sb.Write(buf[:n])
		if err != nil && !errors.Is(err, syscall.EAGAIN) {
			return sb.String(), err
		}
	}
	return sb.String(), nil
}

// StartBridge runs RunSerialBridge until Stop and opens the PTY slave. A nil
// opts bridges HC-06 with the built-in script.
func (s *BridgeSuite) StartBridge(opts *Options) *bridgeHandle {
	if opts == nil {
		opts = &Options{Target: "HC-06"}
	}
	if opts.Logger == nil {
		opts.Logger = s.Logger
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = testPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan Bridge, 1)
	errCh := make(chan error, 1)

	go func() {
		_, err := RunSerialBridge(ctx, opts, nil, func(b Bridge) (struct{}, error) {
			ready <- b
			<-ctx.Done()
			return struct{}{}, nil
		})
		errCh <- err
	}()

	h := &bridgeHandle{cancel: cancel, errCh: errCh}
	select {
	case b := <-ready:
		h.Bridge = b
	case err := <-errCh:
		cancel()
		s.Require().NoError(err, "bridge MUST start")
	case <-time.After(s.TestTimeout):
		cancel()
		s.Require().Fail("bridge did not start in time")
	}

	slave, err := os.OpenFile(h.Bridge.TTYName(), os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		_ = h.Stop()
		s.T().Skipf("cannot open PTY slave: %v", err)
	}
	h.Slave = slave
	s.active = h
	return h
}
