//go:build linux

package bluez

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/sppctl/internal/device"
	"golang.org/x/sys/unix"
)

// socket wraps a connected RFCOMM file descriptor.
type socket struct {
	file    *os.File
	remote  string
	release func()
	in      *inputStream
	out     *outputStream

	closeOnce sync.Once
	closeErr  error
}

var _ device.Socket = (*socket)(nil)

func newSocket(fd int, remote string, release func()) (*socket, error) {
	// Non-blocking descriptors are registered with the runtime poller,
	// which is what makes read deadlines work.
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set non-blocking: %w", err)
	}
	s := &socket{
		file:    os.NewFile(uintptr(fd), "rfcomm:"+remote),
		remote:  remote,
		release: release,
	}
	s.in = &inputStream{s: s}
	s.out = &outputStream{s: s}
	return s, nil
}

func (s *socket) Input() device.InputStream { return s.in }

func (s *socket) Output() io.WriteCloser { return s.out }

func (s *socket) RemoteAddress() string { return s.remote }

func (s *socket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.file.Close()
		if s.release != nil {
			s.release()
		}
	})
	return s.closeErr
}

// shutdown half-closes the socket. RFCOMM ignores the direction and
// disconnects the DLC, so a second call finds nothing left to do.
func (s *socket) shutdown(how int) error {
	rc, err := s.file.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := rc.Control(func(fd uintptr) {
		serr = unix.Shutdown(int(fd), how)
	}); err != nil {
		return err
	}
	if errors.Is(serr, unix.ENOTCONN) {
		return nil
	}
	return serr
}

type inputStream struct {
	s      *socket
	closed atomic.Bool
}

func (in *inputStream) Read(p []byte) (int, error) {
	if in.closed.Load() {
		return 0, os.ErrClosed
	}
	return in.s.file.Read(p)
}

// Available reports the bytes queued in the receive buffer (TIOCINQ). An
// empty buffer is probed with a non-blocking peek so a hung-up peer surfaces
// as io.EOF instead of looking idle forever.
func (in *inputStream) Available() (int, error) {
	if in.closed.Load() {
		return 0, os.ErrClosed
	}
	rc, err := in.s.file.SyscallConn()
	if err != nil {
		return 0, err
	}
	var n int
	var ierr error
	if err := rc.Control(func(fd uintptr) {
		n, ierr = unix.IoctlGetInt(int(fd), unix.TIOCINQ)
		if ierr != nil || n > 0 {
			return
		}
		var probe [1]byte
		m, _, perr := unix.Recvfrom(int(fd), probe[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case perr == nil && m == 0:
			ierr = io.EOF
		case perr == nil:
			n = m
		case errors.Is(perr, unix.EAGAIN):
		default:
			ierr = perr
		}
	}); err != nil {
		return 0, err
	}
	return n, ierr
}

func (in *inputStream) SetReadDeadline(t time.Time) error {
	return in.s.file.SetReadDeadline(t)
}

func (in *inputStream) Close() error {
	if !in.closed.CompareAndSwap(false, true) {
		return nil
	}
	return in.s.shutdown(unix.SHUT_RD)
}

type outputStream struct {
	s      *socket
	closed atomic.Bool
}

func (out *outputStream) Write(p []byte) (int, error) {
	if out.closed.Load() {
		return 0, os.ErrClosed
	}
	return out.s.file.Write(p)
}

func (out *outputStream) Close() error {
	if !out.closed.CompareAndSwap(false, true) {
		return nil
	}
	return out.s.shutdown(unix.SHUT_WR)
}
