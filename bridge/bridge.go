// Package bridge exposes a serial session as a local pseudo-terminal so that
// ordinary serial tools (minicom, screen, pyserial) can talk to the peer.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppctl"
	"github.com/srg/sppctl/connector"
	"github.com/srg/sppctl/internal/device"
	"github.com/srg/sppctl/internal/groutine"
	"github.com/srg/sppctl/internal/ptyio"
	"github.com/srg/sppctl/internal/script"
)

const (
	// DefaultPollInterval is how often the serial side is polled for lines.
	DefaultPollInterval = 20 * time.Millisecond

	// DefaultReadTimeout bounds a partial-line read so the pump can observe
	// shutdown. It applies only when the connector options leave it unset.
	DefaultReadTimeout = 250 * time.Millisecond
)

// Bridge is a running serial-PTY bridge.
type Bridge interface {
	TTYName() string             // PTY slave path
	TTYSymlink() string          // symlink path, empty if none was created
	PTY() ptyio.PTY              // master side, never nil
	Session() *connector.Session // the serial session being bridged
	Done() <-chan struct{}       // closed when forwarding stops
	Err() error                  // why forwarding stopped, nil while running
	Stats() Stats
}

// Stats counts traffic through the bridge.
type Stats struct {
	LinesFromSerial int64 // lines read from the peer
	BytesToSerial   int64 // bytes written to the peer
	Dropped         int64 // items a hook returned nil for
	HookErrors      int64
	PTY             ptyio.Stats
}

// Options contains all the configuration for running a bridge
type Options struct {
	Target    string // device name, or address when ByAddress is set
	ByAddress bool
	AdapterID string
	Connector *connector.Options
	Logger    *logrus.Logger

	Script       string // Lua hooks; empty selects the built-in pass-through script
	ScriptName   string
	ScriptStdout io.Writer // print() output, discarded when nil
	ScriptStderr io.Writer

	PollInterval    time.Duration
	ReadBufferSize  int    // PTY bytes buffered from the slave
	WriteBufferSize int    // PTY bytes buffered towards the slave
	TTYSymlinkPath  string // optional symlink to the slave, e.g. /tmp/hc06
}

// ProgressCallback is called when the bridge phase changes
type ProgressCallback func(phase string)

// BridgeCallback is executed with the running bridge.
type BridgeCallback[R any] func(Bridge) (R, error)

type serialBridge struct {
	logger  *logrus.Logger
	session *connector.Session
	pty     ptyio.PTY
	engine  *script.Engine
	symlink string

	serialHook bool
	interval   time.Duration

	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error

	lines      atomic.Int64
	written    atomic.Int64
	dropped    atomic.Int64
	hookErrors atomic.Int64
}

func (b *serialBridge) TTYName() string             { return b.pty.TTYName() }
func (b *serialBridge) TTYSymlink() string          { return b.symlink }
func (b *serialBridge) PTY() ptyio.PTY              { return b.pty }
func (b *serialBridge) Session() *connector.Session { return b.session }
func (b *serialBridge) Done() <-chan struct{}       { return b.done }

func (b *serialBridge) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

func (b *serialBridge) Stats() Stats {
	return Stats{
		LinesFromSerial: b.lines.Load(),
		BytesToSerial:   b.written.Load(),
		Dropped:         b.dropped.Load(),
		HookErrors:      b.hookErrors.Load(),
		PTY:             b.pty.Stats(),
	}
}

// stop records the first reason forwarding ended.
func (b *serialBridge) stop(err error) {
	b.doneOnce.Do(func() {
		b.errMu.Lock()
		b.err = err
		b.errMu.Unlock()
		close(b.done)
	})
}

// RunSerialBridge connects to the target, creates a PTY bridge, and executes the callback with the bridge.
// Everything is torn down in reverse order when the callback returns.
func RunSerialBridge[R any](
	ctx context.Context,
	opts *Options,
	progressCallback ProgressCallback,
	callback BridgeCallback[R],
) (R, error) {
	var zero R

	if opts == nil {
		return zero, fmt.Errorf("failed to execute bridge: options are required")
	}
	if opts.Target == "" {
		return zero, fmt.Errorf("failed to execute bridge: target device is required")
	}
	if callback == nil {
		return zero, fmt.Errorf("failed to execute bridge: callback is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	connOpts := connector.DefaultOptions()
	if opts.Connector != nil {
		c := *opts.Connector
		connOpts = &c
	}
	if connOpts.ReadTimeout == 0 {
		connOpts.ReadTimeout = DefaultReadTimeout
	}

	runOpts := &connector.RunOptions{
		AdapterID: opts.AdapterID,
		ByAddress: opts.ByAddress,
		Connector: connOpts,
	}
	return connector.RunSession(ctx, opts.Target, runOpts, logger, connector.ProgressCallback(progressCallback),
		func(_ *connector.Connector, sess *connector.Session) (R, error) {
			return runBridge(ctx, sess, opts, logger, progressCallback, callback)
		})
}

func runBridge[R any](
	ctx context.Context,
	sess *connector.Session,
	opts *Options,
	logger *logrus.Logger,
	progressCallback ProgressCallback,
	callback BridgeCallback[R],
) (R, error) {
	var zero R

	bridgeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	b := &serialBridge{
		logger:   logger,
		session:  sess,
		interval: interval,
		done:     make(chan struct{}),
	}

	var drainer *script.OutputDrainer

	// Teardown runs in reverse order of setup: pumps, script, symlink, PTY.
	defer func() {
		cancel()
		if b.pty != nil {
			b.pty.SetReadCallback(nil)
		}
		b.wg.Wait()
		b.stop(nil)

		if b.engine != nil {
			b.engine.Close()
		}
		if drainer != nil {
			drainer.Cancel()
			drainer.Wait()
		}

		if b.symlink != "" {
			if err := os.Remove(b.symlink); err != nil {
				logger.WithError(err).WithField("ttySymlink", b.symlink).Warn("Failed to remove tty symlink")
			} else {
				logger.WithField("ttySymlink", b.symlink).Debug("Removed tty symlink")
			}
		}

		if b.pty != nil {
			if err := b.pty.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close PTY")
			}
		}
	}()

	progressCallback("Loading script")
	b.engine = script.NewEngine(logger)
	dev := sess.Device()
	if err := b.engine.SetGlobal("device", dev.DisplayName()); err != nil {
		return zero, err
	}
	if err := b.engine.SetGlobal("address", dev.Address); err != nil {
		return zero, err
	}
	drainer = script.NewOutputDrainer(bridgeCtx, b.engine.Output(), logger, opts.ScriptStdout, opts.ScriptStderr)

	code, name := opts.Script, opts.ScriptName
	if code == "" {
		code, name = sppctl.DefaultBridgeLuaScript, "bridge.lua"
	}
	if name == "" {
		name = "script"
	}
	if err := b.engine.Load(code, name); err != nil {
		progressCallback("Failed")
		return zero, fmt.Errorf("failed to load bridge script: %w", err)
	}
	b.serialHook = b.engine.HasHook(script.HookSerialToTTY)

	progressCallback("Setting up PTY")
	pty, err := ptyio.New(&ptyio.Options{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		Logger:          logger,
		OnError: func(err error) {
			b.stop(fmt.Errorf("pty failed: %w", err))
		},
	})
	if err != nil {
		progressCallback("Failed")
		return zero, err
	}
	b.pty = pty
	logger.WithField("tty", pty.TTYName()).Info("Created PTY device")

	if opts.TTYSymlinkPath != "" {
		if err := os.Symlink(pty.TTYName(), opts.TTYSymlinkPath); err != nil {
			progressCallback("Failed")
			return zero, fmt.Errorf("failed to create tty symlink %s -> %s: %w", opts.TTYSymlinkPath, pty.TTYName(), err)
		}
		b.symlink = opts.TTYSymlinkPath
		logger.WithFields(logrus.Fields{
			"ttySymlink": b.symlink,
			"target":     pty.TTYName(),
		}).Info("Created PTY symlink")
	}

	pty.SetReadCallback(b.toSerial)
	b.wg.Add(1)
	groutine.Go(bridgeCtx, "serial-to-tty", b.pumpSerial)

	progressCallback("Running")
	return callback(b)
}

// pumpSerial polls the session for lines and forwards them to the PTY.
func (b *serialBridge) pumpSerial(ctx context.Context) {
	defer b.wg.Done()
	defer b.logger.Debugf("%s: exiting", groutine.Name(ctx))

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		for ctx.Err() == nil {
			line, ok, err := b.session.TryReadLine()
			if errors.Is(err, device.ErrTimeout) {
				break
			}
			if err != nil {
				if ctx.Err() == nil {
					b.logger.WithError(err).Warn("Serial side stopped")
					b.stop(err)
				}
				return
			}
			if !ok {
				break
			}
			b.lines.Add(1)
			b.toTTY(line)
		}

		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
		}
	}
}

func (b *serialBridge) toTTY(line string) {
	out := line + "\n"
	if b.serialHook {
		var keep bool
		var err error
		out, keep, err = b.engine.Call(script.HookSerialToTTY, line)
		if err != nil {
			b.hookErrors.Add(1)
			b.logger.WithError(err).Warn("serial_to_tty hook failed, line dropped")
			return
		}
		if !keep {
			b.dropped.Add(1)
			return
		}
	}
	if out == "" {
		return
	}
	if _, err := b.pty.Write([]byte(out)); err != nil {
		b.logger.WithError(err).Debug("PTY write failed")
	}
}

// toSerial runs on the PTY dispatch goroutine.
func (b *serialBridge) toSerial(data []byte) {
	out, keep, err := b.engine.Call(script.HookTTYToSerial, string(data))
	if err != nil {
		b.hookErrors.Add(1)
		b.logger.WithError(err).Warn("tty_to_serial hook failed, data dropped")
		return
	}
	if !keep {
		b.dropped.Add(1)
		return
	}
	if out == "" {
		return
	}
	if err := b.session.Write(out); err != nil {
		b.logger.WithError(err).Warn("Serial write failed")
		b.stop(err)
		return
	}
	b.written.Add(int64(len(out)))
}
