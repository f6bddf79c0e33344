// Package ptyio exposes a pseudo-terminal whose master side is driven
// asynchronously through ring buffers, so a serial link can be presented to
// ordinary tty programs (screen, minicom, pyserial) on the slave side.
//
//	p, err := ptyio.New(&ptyio.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	fmt.Println("attach to", p.TTYName())
//	p.SetReadCallback(func(data []byte) { send(data) }) // bytes typed into the tty
//	p.Write([]byte("hello\r\n"))                        // bytes shown on the tty
//
// Writes never block: when the write ring is full the excess is dropped and
// counted in Stats. PollInterval bounds how long the background loops take
// to notice Close.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/sppctl/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	DefaultBufferSize   = 4096
	DefaultPollInterval = 50 * time.Millisecond

	ioChunkSize = 4096
)

// ReadCallback receives bytes written to the slave side. It runs on a
// background goroutine and must not retain data.
type ReadCallback func(data []byte)

// ErrorCallback is invoked at most once per loop when a background loop dies.
type ErrorCallback func(err error)

// Options configures New. Zero values select the defaults.
type Options struct {
	ReadBufferSize  int // bytes buffered from the slave
	WriteBufferSize int // bytes buffered towards the slave
	PollInterval    time.Duration
	Logger          *logrus.Logger
	OnError         ErrorCallback
}

// PTY is the master side of a pseudo-terminal pair.
type PTY interface {
	io.ReadWriteCloser
	TTYName() string
	Stats() Stats
	SetReadCallback(cb ReadCallback)
}

// Stats are byte counters and ring occupancy.
type Stats struct {
	ReadQueued        int
	WriteQueued       int
	ReadBytes         uint64
	WrittenBytes      uint64
	DroppedReadBytes  uint64
	DroppedWriteBytes uint64
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

type ringPTY struct {
	logger  *logrus.Logger
	master  *os.File
	slave   *os.File
	fd      int
	ttyName string
	poll    int // milliseconds

	onError   ErrorCallback
	readOnce  sync.Once
	writeOnce sync.Once

	in  *ringbuffer.RingBuffer // slave -> us
	out *ringbuffer.RingBuffer // us -> slave

	callback atomic.Pointer[ReadCallback]
	inReady  chan struct{}
	outReady chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	readBytes    atomic.Uint64
	writtenBytes atomic.Uint64
	droppedRead  atomic.Uint64
	droppedWrite atomic.Uint64
}

// New opens a pseudo-terminal pair, puts the slave in raw mode and starts
// the background loops.
func New(opts *Options) (PTY, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}
	readSize := opts.ReadBufferSize
	if readSize <= 0 {
		readSize = DefaultBufferSize
	}
	writeSize := opts.WriteBufferSize
	if writeSize <= 0 {
		writeSize = DefaultBufferSize
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	master, slave, err := openRaw()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ringPTY{
		logger:   logger,
		master:   master,
		slave:    slave,
		fd:       int(master.Fd()),
		ttyName:  slave.Name(),
		poll:     int(interval / time.Millisecond),
		onError:  opts.OnError,
		in:       ringbuffer.New(readSize),
		out:      ringbuffer.New(writeSize),
		inReady:  make(chan struct{}, 1),
		outReady: make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	if p.poll < 1 {
		p.poll = 1
	}
	if err := syscall.SetNonblock(p.fd, true); err != nil {
		_ = master.Close()
		_ = slave.Close()
		cancel()
		return nil, fmt.Errorf("failed to make PTY master %s non-blocking: %w", p.ttyName, err)
	}

	p.wg.Add(3)
	groutine.Go(ctx, "pty-master-reader", func(context.Context) { p.readLoop() })
	groutine.Go(ctx, "pty-master-writer", func(context.Context) { p.writeLoop() })
	groutine.Go(ctx, "pty-callback-dispatcher", func(context.Context) { p.dispatchLoop() })

	logger.WithField("tty", p.ttyName).Debug("PTY opened")
	return p, nil
}

func openRaw() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		closeErr := errors.Join(master.Close(), slave.Close())
		if closeErr != nil {
			return nil, nil, fmt.Errorf("failed to set %s to raw mode: %w (cleanup: %v)", slave.Name(), err, closeErr)
		}
		return nil, nil, fmt.Errorf("failed to set %s to raw mode: %w", slave.Name(), err)
	}
	return master, slave, nil
}

func (p *ringPTY) fail(once *sync.Once, err error) {
	p.logger.WithError(err).Warn("PTY loop stopped")
	if p.onError != nil {
		once.Do(func() { p.onError(err) })
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// readLoop moves bytes typed into the slave into the read ring.
func (p *ringPTY) readLoop() {
	defer p.wg.Done()

	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	buf := make([]byte, ioChunkSize)
	for p.ctx.Err() == nil {
		n, err := unix.Poll(fds, p.poll)
		if err != nil && !errors.Is(err, unix.EINTR) {
			p.fail(&p.readOnce, fmt.Errorf("poll PTY master: %w", err))
			return
		}
		if n == 0 {
			continue
		}

		n, err = unix.Read(p.fd, buf)
		switch {
		case err == nil && n == 0:
			// EIO/0 happen while no process holds the slave open; keep waiting.
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR), errors.Is(err, unix.EIO):
			if errors.Is(err, unix.EIO) {
				time.Sleep(time.Duration(p.poll) * time.Millisecond)
			}
			continue
		case errors.Is(err, unix.EBADF):
			return
		case err != nil:
			p.fail(&p.readOnce, fmt.Errorf("read PTY master: %w", err))
			return
		}

		written, _ := p.in.Write(buf[:n])
		if written < n {
			p.droppedRead.Add(uint64(n - written))
			p.logger.WithField("dropped", n-written).Warn("PTY read ring full, dropping bytes")
		}
		p.readBytes.Add(uint64(written))
		if written > 0 {
			signal(p.inReady)
		}
	}
}

// writeLoop drains the write ring into the master.
func (p *ringPTY) writeLoop() {
	defer p.wg.Done()

	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLOUT}}
	buf := make([]byte, ioChunkSize)
	ticker := time.NewTicker(time.Duration(p.poll) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.outReady:
		case <-ticker.C:
		}

		for !p.out.IsEmpty() {
			n, err := p.out.TryRead(buf)
			if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
				break
			}
			for off := 0; off < n; {
				w, err := unix.Write(p.fd, buf[off:n])
				if w > 0 {
					off += w
					p.writtenBytes.Add(uint64(w))
				}
				switch {
				case err == nil, errors.Is(err, unix.EINTR):
				case errors.Is(err, unix.EAGAIN):
					if _, perr := unix.Poll(fds, p.poll); perr != nil && !errors.Is(perr, unix.EINTR) {
						p.logger.WithError(perr).Debug("poll PTY master for write")
					}
					if p.ctx.Err() != nil {
						return
					}
				case errors.Is(err, unix.EBADF):
					return
				default:
					p.fail(&p.writeOnce, fmt.Errorf("write PTY master: %w", err))
					return
				}
			}
		}
	}
}

// dispatchLoop hands buffered slave input to the read callback.
func (p *ringPTY) dispatchLoop() {
	defer p.wg.Done()

	buf := make([]byte, ioChunkSize)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.inReady:
		}

		for {
			cb := p.callback.Load()
			if cb == nil || *cb == nil {
				break
			}
			n, _ := p.in.TryRead(buf)
			if n == 0 {
				break
			}
			p.deliver(*cb, buf[:n])
		}
	}
}

func (p *ringPTY) deliver(cb ReadCallback, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.callback.Store(nil)
			p.fail(&p.readOnce, fmt.Errorf("read callback panicked: %v", r))
		}
	}()
	cb(data)
}

// Write queues data for the slave. It never blocks; the returned count is
// less than len(data) when the ring overflowed.
func (p *ringPTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	// A short write reports ErrIsFull or ErrTooMuchDataToWrite; both mean overflow.
	n, _ := p.out.Write(data)
	if n < len(data) {
		p.droppedWrite.Add(uint64(len(data) - n))
		p.logger.WithField("dropped", len(data)-n).Warn("PTY write ring full, dropping bytes")
	}
	signal(p.outReady)
	return n, nil
}

// Read returns buffered slave input, or syscall.EAGAIN when there is none.
// Bytes are only buffered here while no read callback is set.
func (p *ringPTY) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, _ := p.in.TryRead(b)
	if n == 0 {
		return 0, syscall.EAGAIN
	}
	return n, nil
}

// SetReadCallback routes slave input to cb; nil reverts to buffering for Read.
func (p *ringPTY) SetReadCallback(cb ReadCallback) {
	if p.closed.Load() {
		return
	}
	if cb == nil {
		p.callback.Store(nil)
		return
	}
	p.callback.Store(&cb)
	signal(p.inReady)
}

func (p *ringPTY) TTYName() string {
	return p.ttyName
}

func (p *ringPTY) Stats() Stats {
	return Stats{
		ReadQueued:        p.in.Length(),
		WriteQueued:       p.out.Length(),
		ReadBytes:         p.readBytes.Load(),
		WrittenBytes:      p.writtenBytes.Load(),
		DroppedReadBytes:  p.droppedRead.Load(),
		DroppedWriteBytes: p.droppedWrite.Load(),
	}
}

// Close stops the loops and closes both ends. It is safe to call twice.
func (p *ringPTY) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	// Loops exit within one poll interval of the cancel.
	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-close-wait", func(context.Context) {
		p.wg.Wait()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Duration(p.poll)*time.Millisecond*3 + time.Second):
		p.logger.WithField("tty", p.ttyName).Warn("PTY loops did not stop in time")
	}

	err := errors.Join(p.master.Close(), p.slave.Close())
	p.logger.WithField("tty", p.ttyName).Debug("PTY closed")
	return err
}
