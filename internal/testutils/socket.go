package testutils

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/srg/sppctl/internal/device"
)

// byteQueue is a blocking in-memory byte stream with read deadlines.
type byteQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      bytes.Buffer
	eof      bool // writer side hung up
	closed   bool // reader side closed
	deadline time.Time
	timer    *time.Timer
}

func newByteQueue() *byteQueue {
	q := &byteQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *byteQueue) push(p []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf.Write(p)
	q.cond.Broadcast()
}

func (q *byteQueue) hangup() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.eof = true
	q.cond.Broadcast()
}

func (q *byteQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *byteQueue) read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.buf.Len() == 0 {
		switch {
		case q.closed:
			return 0, os.ErrClosed
		case q.eof:
			return 0, io.EOF
		case !q.deadline.IsZero() && !time.Now().Before(q.deadline):
			return 0, os.ErrDeadlineExceeded
		}
		q.cond.Wait()
	}
	return q.buf.Read(p)
}

func (q *byteQueue) available() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case q.closed:
		return 0, os.ErrClosed
	case q.buf.Len() == 0 && q.eof:
		return 0, io.EOF
	}
	return q.buf.Len(), nil
}

func (q *byteQueue) setDeadline(t time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.deadline = t
	if !t.IsZero() {
		q.timer = time.AfterFunc(time.Until(t), func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
	}
}

func (q *byteQueue) String() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.String()
}

// FakeSocket is an in-memory device.Socket connected to a FakePeer.
// Close errors can be injected per resource to exercise release paths.
type FakeSocket struct {
	peer *FakePeer
	in   *fakeInput
	out  *fakeOutput

	mu             sync.Mutex
	closed         bool
	closeCalls     int
	InputCloseErr  error
	OutputCloseErr error
	CloseErr       error
}

var _ device.Socket = (*FakeSocket)(nil)

func (s *FakeSocket) Input() device.InputStream {
	if s.in == nil {
		return nil
	}
	return s.in
}

func (s *FakeSocket) Output() io.WriteCloser {
	if s.out == nil {
		return nil
	}
	return s.out
}

func (s *FakeSocket) RemoteAddress() string { return s.peer.Address }

func (s *FakeSocket) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.closed = true
	err := s.CloseErr
	s.mu.Unlock()

	if s.in != nil {
		s.in.q.close()
	}
	return err
}

// Closed reports whether the socket itself was closed.
func (s *FakeSocket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCalls returns how many times Close was called.
func (s *FakeSocket) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// InputClosed reports whether the input stream was closed.
func (s *FakeSocket) InputClosed() bool {
	return s.in != nil && s.in.isClosed()
}

// OutputClosed reports whether the output stream was closed.
func (s *FakeSocket) OutputClosed() bool {
	return s.out != nil && s.out.isClosed()
}

type fakeInput struct {
	s      *FakeSocket
	q      *byteQueue
	mu     sync.Mutex
	closed bool
}

func (in *fakeInput) Read(p []byte) (int, error) { return in.q.read(p) }

func (in *fakeInput) Available() (int, error) { return in.q.available() }

func (in *fakeInput) SetReadDeadline(t time.Time) error {
	in.q.setDeadline(t)
	return nil
}

func (in *fakeInput) Close() error {
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
	in.q.close()
	return in.s.InputCloseErr
}

func (in *fakeInput) isClosed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

type fakeOutput struct {
	s      *FakeSocket
	mu     sync.Mutex
	closed bool
}

func (out *fakeOutput) Write(p []byte) (int, error) {
	out.mu.Lock()
	closed := out.closed
	out.mu.Unlock()
	if closed || out.s.Closed() {
		return 0, os.ErrClosed
	}
	if err := out.s.peer.writeErr(); err != nil {
		return 0, err
	}
	out.s.peer.receive(p)
	return len(p), nil
}

func (out *fakeOutput) Close() error {
	out.mu.Lock()
	out.closed = true
	out.mu.Unlock()
	return out.s.OutputCloseErr
}

func (out *fakeOutput) isClosed() bool {
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.closed
}

// Responder produces the reply to one line received by a FakePeer. An empty
// reply sends nothing.
type Responder func(line string) string

// FakePeer is the remote end of a FakeSocket: it records what the client
// wrote and can send data back.
type FakePeer struct {
	Device device.PairedDevice
	Address string

	mu        sync.Mutex
	received  bytes.Buffer
	lineBuf   []byte
	responder Responder
	socket    *FakeSocket
	sockets   []*FakeSocket
	writeFail error
	noOutput  bool
}

// NewFakePeer creates a peer for dev.
func NewFakePeer(dev device.PairedDevice) *FakePeer {
	return &FakePeer{Device: dev, Address: dev.Address}
}

// WithResponder answers every complete line the client writes.
func (p *FakePeer) WithResponder(r Responder) *FakePeer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responder = r
	return p
}

// FailWrites makes client writes fail with err.
func (p *FakePeer) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeFail = err
}

// WithoutOutputStream makes later sockets come up without an output stream.
func (p *FakePeer) WithoutOutputStream() *FakePeer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noOutput = true
	return p
}

// Connect creates a new socket to this peer, replacing the previous one.
func (p *FakePeer) Connect() *FakeSocket {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &FakeSocket{peer: p}
	s.in = &fakeInput{s: s, q: newByteQueue()}
	if !p.noOutput {
		s.out = &fakeOutput{s: s}
	}
	p.socket = s
	p.sockets = append(p.sockets, s)
	p.lineBuf = nil
	return s
}

// Socket returns the most recent socket, or nil.
func (p *FakePeer) Socket() *FakeSocket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.socket
}

// Sockets returns every socket dialed to this peer.
func (p *FakePeer) Sockets() []*FakeSocket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*FakeSocket(nil), p.sockets...)
}

// Send queues data for the client to read.
func (p *FakePeer) Send(data string) {
	if s := p.Socket(); s != nil {
		s.in.q.push([]byte(data))
	}
}

// Hangup ends the stream as seen by the client.
func (p *FakePeer) Hangup() {
	if s := p.Socket(); s != nil {
		s.in.q.hangup()
	}
}

// Received returns everything the client wrote, across all sockets.
func (p *FakePeer) Received() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.received.String()
}

// ReceivedLines returns the newline-terminated lines the client wrote.
func (p *FakePeer) ReceivedLines() []string {
	data := p.Received()
	if data == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(data, "\n"), "\n")
}

func (p *FakePeer) writeErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeFail
}

func (p *FakePeer) receive(data []byte) {
	p.mu.Lock()
	p.received.Write(data)
	if p.responder == nil {
		p.mu.Unlock()
		return
	}
	p.lineBuf = append(p.lineBuf, data...)
	var replies []string
	for {
		i := bytes.IndexByte(p.lineBuf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(p.lineBuf[:i]), "\r")
		p.lineBuf = p.lineBuf[i+1:]
		if reply := p.responder(line); reply != "" {
			replies = append(replies, reply)
		}
	}
	s := p.socket
	p.mu.Unlock()

	for _, r := range replies {
		s.in.q.push([]byte(r))
	}
}
