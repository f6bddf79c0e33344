// Package connector manages the connection to a single paired Bluetooth
// serial device: resolving it in the adapter's bonded-device registry,
// opening the RFCOMM channel, and line-oriented I/O on the open session.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/sppctl/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Connector owns one adapter and at most one active Session.
type Connector struct {
	adapter device.Adapter
	opts    Options
	logger  *logrus.Logger

	// mu guards state transitions and the fields below. Session I/O runs
	// outside it, under the session's own locks.
	mu      sync.Mutex
	state   State
	session *Session
	known   *orderedmap.OrderedMap[string, device.PairedDevice] // address -> device, registry order
	names   *hashmap.Map[string, string]                        // display name -> address of the first registry entry
}

// New creates a Connector for adapter. A nil opts uses DefaultOptions.
func New(adapter device.Adapter, opts *Options, logger *logrus.Logger) (*Connector, error) {
	if adapter == nil {
		return nil, device.NewConnectError(device.KindAdapterUnavailable, "", errors.New("no adapter"))
	}
	o, err := opts.normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid connector options: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Connector{
		adapter: adapter,
		opts:    o,
		logger:  logger,
		known:   orderedmap.New[string, device.PairedDevice](),
		names:   hashmap.New[string, string](),
	}, nil
}

// Adapter returns the adapter the connector dials through.
func (c *Connector) Adapter() device.Adapter {
	return c.adapter
}

// Options returns the effective options.
func (c *Connector) Options() Options {
	return c.opts
}

// State returns the current lifecycle state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the active session, or nil.
func (c *Connector) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Devices returns the paired devices seen by the last Connect or Refresh,
// in registry order.
func (c *Connector) Devices() []device.PairedDevice {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]device.PairedDevice, 0, c.known.Len())
	for pair := c.known.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Refresh re-reads the adapter's paired-device registry.
func (c *Connector) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Connector) refreshLocked(ctx context.Context) error {
	devices, err := c.adapter.PairedDevices(ctx)
	if err != nil {
		return device.NewConnectError(device.KindAdapterUnavailable, "", fmt.Errorf("list paired devices: %w", err))
	}

	known := orderedmap.New[string, device.PairedDevice]()
	names := hashmap.New[string, string]()
	for _, dev := range devices {
		key := dev.Address
		if addr, err := device.NormalizeAddress(dev.Address); err == nil {
			key = addr
		}
		if _, present := known.Set(key, dev); present {
			c.logger.WithField("address", key).Warn("Paired device listed twice, keeping the last entry")
		}

		name := dev.DisplayName()
		if first, ok := names.Get(name); ok {
			if first != key {
				c.logger.WithFields(logrus.Fields{
					"name":     name,
					"selected": first,
					"ignored":  key,
				}).Warn("Several paired devices share a name, the first one wins")
			}
			continue
		}
		names.Insert(name, key)
	}

	c.known = known
	c.names = names
	c.logger.WithField("count", known.Len()).Debug("Paired device registry refreshed")
	return nil
}

// Connect opens a session to the first paired device whose name matches.
// The returned Status is the coarse outcome; the error carries the detail
// as a *device.ConnectError.
func (c *Connector) Connect(ctx context.Context, name string) (device.Status, error) {
	err := c.connect(ctx, name, func() (device.PairedDevice, bool) {
		addr, ok := c.names.Get(name)
		if !ok {
			return device.PairedDevice{}, false
		}
		return c.known.Get(addr)
	})
	return device.StatusOf(err), err
}

// ConnectAddress is Connect keyed by the device's Bluetooth address, which,
// unlike the name, is unique in the registry.
func (c *Connector) ConnectAddress(ctx context.Context, address string) (device.Status, error) {
	addr, err := device.NormalizeAddress(address)
	if err != nil {
		err = device.NewConnectError(device.KindDeviceNotFound, address, err)
		return device.StatusOf(err), err
	}
	err = c.connect(ctx, address, func() (device.PairedDevice, bool) {
		return c.known.Get(addr)
	})
	return device.StatusOf(err), err
}

func (c *Connector) connect(ctx context.Context, target string, lookup func() (device.PairedDevice, bool)) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && !c.session.Closed() {
		return fmt.Errorf("%w: session to %s is still open", device.ErrAlreadyConnected, c.session.device.Address)
	}
	c.session = nil
	c.state = Connecting
	defer func() {
		if err != nil {
			c.state = Disconnected
		}
	}()

	logger := c.logger.WithField("target", target)
	logger.Debug("Connecting")

	powered, err := c.adapter.Powered(ctx)
	if err != nil {
		return device.NewConnectError(device.KindAdapterUnavailable, target, err)
	}
	if !powered {
		return device.NewConnectError(device.KindAdapterUnavailable, target,
			fmt.Errorf("adapter %s is powered off", c.adapter.ID()))
	}

	if err := c.refreshLocked(ctx); err != nil {
		return device.NewConnectError(device.KindAdapterUnavailable, target, err)
	}

	dev, ok := lookup()
	if !ok {
		logger.Info("No paired device matches")
		return device.NewConnectError(device.KindDeviceNotFound, target, nil)
	}
	logger = logger.WithField("address", dev.Address)

	if err := c.adapter.CancelDiscovery(ctx); err != nil {
		logger.WithError(err).Warn("Failed to cancel discovery, connecting anyway")
	}

	sock, err := c.adapter.Dial(ctx, dev, &device.DialOptions{
		ServiceUUID: c.opts.ServiceUUID,
		Channel:     c.opts.Channel,
		Secure:      c.opts.Secure,
		Timeout:     c.opts.ConnectTimeout,
	})
	if err != nil {
		logger.WithError(err).Info("Dial failed")
		return device.NewConnectError(device.ClassifyError(err), target, err)
	}

	// From here on the socket is ours and must be closed on any failure.
	if err := ctx.Err(); err != nil {
		c.closeSocket(sock, logger)
		return device.NewConnectError(device.ClassifyError(err), target, err)
	}
	sess, err := newSession(dev, sock, c.opts, c.logger)
	if err != nil {
		c.closeSocket(sock, logger)
		return device.NewConnectError(device.KindSocket, target, err)
	}

	c.session = sess
	c.state = Connected
	logger.WithField("name", dev.DisplayName()).Info("Connected")
	return nil
}

func (c *Connector) closeSocket(sock device.Socket, logger *logrus.Entry) {
	if err := sock.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close socket after connect failure")
	}
}

// ReadLine reads one line from the active session. See Session.ReadLine.
func (c *Connector) ReadLine() (string, error) {
	s := c.Session()
	if s == nil {
		return "", device.ErrNoSession
	}
	return s.ReadLine()
}

// Write sends data on the active session. See Session.Write.
func (c *Connector) Write(data string) error {
	s := c.Session()
	if s == nil {
		return device.ErrNoSession
	}
	return s.Write(data)
}

// Close ends the active session. Closing without a session is a no-op.
func (c *Connector) Close() error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.state = Disconnected
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close()
}

// Shutdown closes the session and releases the adapter.
func (c *Connector) Shutdown() error {
	return errors.Join(c.Close(), c.adapter.Close())
}
