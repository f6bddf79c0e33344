package connector

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppctl/internal/device"
)

const readChunkSize = 512

// Session is one open RFCOMM connection. It owns the socket and both of its
// streams until Close.
//
// One reader and one writer may use a Session concurrently. Close may be
// called from any goroutine and unblocks a pending ReadLine.
type Session struct {
	device device.PairedDevice
	socket device.Socket
	input  device.InputStream
	output io.WriteCloser
	logger *logrus.Logger

	readTimeout time.Duration
	maxLine     int

	readMu  sync.Mutex
	pending []byte // bytes of an incomplete line, kept across calls
	chunk   []byte
	eof     bool

	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
}

func newSession(dev device.PairedDevice, sock device.Socket, opts Options, logger *logrus.Logger) (*Session, error) {
	in := sock.Input()
	if in == nil {
		return nil, errors.New("socket has no input stream")
	}
	out := sock.Output()
	if out == nil {
		return nil, errors.New("socket has no output stream")
	}
	return &Session{
		device:      dev,
		socket:      sock,
		input:       in,
		output:      out,
		logger:      logger,
		readTimeout: opts.ReadTimeout,
		maxLine:     opts.MaxLineLength,
		chunk:       make([]byte, readChunkSize),
	}, nil
}

// Device returns the peer this session is connected to.
func (s *Session) Device() device.PairedDevice {
	return s.device
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// ReadLine returns the next newline-terminated line without its terminator.
//
// It returns ("", nil) immediately when no complete line is buffered and the
// input stream has nothing available. Once bytes are available it blocks
// until a newline arrives, the stream ends, or the read timeout expires. A
// timeout returns device.ErrTimeout and keeps the partial bytes for the next
// call. At end of stream any partial bytes are returned as the last line;
// after that every call fails with device.ErrConnectionLost.
func (s *Session) ReadLine() (string, error) {
	line, _, err := s.TryReadLine()
	return line, err
}

// TryReadLine is ReadLine with ok reporting whether a line was read, so an
// empty line can be told apart from no data.
func (s *Session) TryReadLine() (line string, ok bool, err error) {
	if s.closed.Load() {
		return "", false, device.ErrNoSession
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	if line, ok := s.takeLine(); ok {
		return line, true, nil
	}
	if s.eof {
		return s.drainAtEOF()
	}

	n, err := s.input.Available()
	switch {
	case errors.Is(err, io.EOF):
		s.eof = true
		return s.drainAtEOF()
	case err != nil:
		return "", false, s.readError(err)
	case n == 0:
		return "", false, nil
	}

	var deadline time.Time
	if s.readTimeout > 0 {
		deadline = time.Now().Add(s.readTimeout)
	}
	if err := s.input.SetReadDeadline(deadline); err != nil {
		s.logger.WithError(err).Debug("Input stream does not support read deadlines")
	}

	for {
		n, err := s.input.Read(s.chunk)
		s.pending = append(s.pending, s.chunk[:n]...)
		if line, ok := s.takeLine(); ok {
			return line, true, nil
		}
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			s.logger.WithField("buffered", len(s.pending)).Debug("Read timed out inside a partial line")
			return "", false, device.ErrTimeout
		case errors.Is(err, io.EOF):
			s.eof = true
			return s.drainAtEOF()
		default:
			return "", false, s.readError(err)
		}
	}
}

// takeLine pops one complete line, or a MaxLineLength chunk of an overlong one.
func (s *Session) takeLine() (string, bool) {
	if i := bytes.IndexByte(s.pending, '\n'); i >= 0 && (s.maxLine <= 0 || i <= s.maxLine) {
		line := s.pending[:i]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		out := string(line)
		s.pending = s.pending[i+1:]
		return out, true
	}
	if s.maxLine > 0 && len(s.pending) >= s.maxLine {
		out := string(s.pending[:s.maxLine])
		s.pending = s.pending[s.maxLine:]
		return out, true
	}
	return "", false
}

func (s *Session) drainAtEOF() (string, bool, error) {
	if len(s.pending) == 0 {
		return "", false, device.ErrConnectionLost
	}
	out := string(s.pending)
	s.pending = nil
	return out, true, nil
}

func (s *Session) readError(err error) error {
	if s.closed.Load() || errors.Is(err, os.ErrClosed) {
		return device.ErrNoSession
	}
	return fmt.Errorf("%w: %w", device.ErrConnectionLost, err)
}

// Write sends data as-is. No line terminator is appended.
func (s *Session) Write(data string) error {
	return s.WriteBytes([]byte(data))
}

// WriteBytes sends p as-is.
func (s *Session) WriteBytes(p []byte) error {
	if s.closed.Load() {
		return device.ErrNoSession
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for len(p) > 0 {
		n, err := s.output.Write(p)
		if err != nil {
			if s.closed.Load() || errors.Is(err, os.ErrClosed) {
				return device.ErrNoSession
			}
			return fmt.Errorf("write %d bytes to %s: %w", len(p), s.device.Address, err)
		}
		p = p[n:]
	}
	return nil
}

// Close releases the input stream, the output stream and the socket. Each
// release is attempted even if an earlier one fails; the failures are joined.
// Calls after the first return nil.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		var errs []error
		if cerr := s.input.Close(); cerr != nil {
			errs = append(errs, fmt.Errorf("close input stream: %w", cerr))
		}
		if cerr := s.output.Close(); cerr != nil {
			errs = append(errs, fmt.Errorf("close output stream: %w", cerr))
		}
		if cerr := s.socket.Close(); cerr != nil {
			errs = append(errs, fmt.Errorf("close socket: %w", cerr))
		}
		err = errors.Join(errs...)

		logger := s.logger.WithField("address", s.device.Address)
		if err != nil {
			logger.WithError(err).Warn("Session closed with errors")
		} else {
			logger.Debug("Session closed")
		}
	})
	return err
}
