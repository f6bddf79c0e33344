//go:build linux

// Package bluez implements device.Adapter on top of the Linux BlueZ daemon.
//
// The paired-device registry, adapter power state and discovery control come
// from BlueZ over the system D-Bus. RFCOMM channels are opened either directly
// with an AF_BLUETOOTH socket (when the channel number is known) or by asking
// BlueZ to resolve the service record and hand over the connected socket
// through an org.bluez.Profile1 object.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"sync"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/sppctl/internal/device"
)

const (
	bluezService        = "org.bluez"
	adapterIface        = "org.bluez.Adapter1"
	deviceIface         = "org.bluez.Device1"
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
	objManagerIface     = "org.freedesktop.DBus.ObjectManager"
	propsIface          = "org.freedesktop.DBus.Properties"

	// DefaultConnectTimeout applies when DialOptions.Timeout is zero.
	DefaultConnectTimeout = 30 * time.Second
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Adapter is a BlueZ controller (org.bluez.Adapter1).
type Adapter struct {
	mu     sync.Mutex
	bus    *dbus.Conn
	path   dbus.ObjectPath
	logger *logrus.Logger
	closed bool
}

// New connects to the system bus and selects the controller named by opts.ID,
// or the first one BlueZ reports.
func New(opts *device.AdapterOptions, logger *logrus.Logger) (device.Adapter, error) {
	if logger == nil {
		logger = noopLogger
	}
	if opts == nil {
		opts = &device.AdapterOptions{}
	}

	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, device.NewConnectError(device.KindAdapterUnavailable, "", fmt.Errorf("connect system bus: %w", err))
	}

	objs, err := getManagedObjects(context.Background(), bus)
	if err != nil {
		_ = bus.Close()
		return nil, device.NewConnectError(device.KindAdapterUnavailable, "", err)
	}

	adapterPath, err := selectAdapter(objs, opts.ID)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}

	logger.WithField("adapter", adapterPath).Debug("Selected BlueZ adapter")

	return &Adapter{
		bus:    bus,
		path:   adapterPath,
		logger: logger,
	}, nil
}

// ID returns the controller id, e.g. "hci0".
func (a *Adapter) ID() string {
	return path.Base(string(a.path))
}

// Powered reports the Adapter1.Powered property.
func (a *Adapter) Powered(ctx context.Context) (bool, error) {
	bus, err := a.conn()
	if err != nil {
		return false, err
	}

	v, err := bus.Object(bluezService, a.path).GetProperty(adapterIface + ".Powered")
	if err != nil {
		return false, device.NewConnectError(device.KindAdapterUnavailable, "", fmt.Errorf("read Powered: %w", err))
	}
	powered, _ := v.Value().(bool)
	return powered, nil
}

// PairedDevices lists bonded Device1 objects of this adapter, ordered by object path.
func (a *Adapter) PairedDevices(ctx context.Context) ([]device.PairedDevice, error) {
	bus, err := a.conn()
	if err != nil {
		return nil, err
	}

	objs, err := getManagedObjects(ctx, bus)
	if err != nil {
		return nil, device.NewConnectError(device.KindAdapterUnavailable, "", err)
	}

	devices := pairedDevicesFromObjects(objs, a.path)
	a.logger.WithFields(logrus.Fields{
		"adapter": a.ID(),
		"count":   len(devices),
	}).Debug("Enumerated paired devices")

	return devices, nil
}

// CancelDiscovery stops discovery if the adapter is currently discovering.
func (a *Adapter) CancelDiscovery(ctx context.Context) error {
	bus, err := a.conn()
	if err != nil {
		return err
	}

	obj := bus.Object(bluezService, a.path)
	v, err := obj.GetProperty(adapterIface + ".Discovering")
	if err != nil {
		return fmt.Errorf("read Discovering: %w", err)
	}
	if discovering, _ := v.Value().(bool); !discovering {
		return nil
	}

	if call := obj.CallWithContext(ctx, adapterIface+".StopDiscovery", 0); call.Err != nil {
		return fmt.Errorf("StopDiscovery: %w", call.Err)
	}
	a.logger.WithField("adapter", a.ID()).Debug("Discovery stopped before connect")
	return nil
}

// Dial opens an RFCOMM channel to dev.
func (a *Adapter) Dial(ctx context.Context, dev device.PairedDevice, opts *device.DialOptions) (device.Socket, error) {
	bus, err := a.conn()
	if err != nil {
		return nil, err
	}

	o := device.DialOptions{}
	if opts != nil {
		o = *opts
	}
	if o.ServiceUUID == "" {
		o.ServiceUUID = device.SerialPortUUID
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultConnectTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	logger := a.logger.WithFields(logrus.Fields{
		"address": dev.Address,
		"uuid":    o.ServiceUUID,
		"channel": o.Channel,
		"secure":  o.Secure,
	})

	if o.Channel > 0 {
		logger.Debug("Dialing RFCOMM channel directly")
		return dialChannel(dialCtx, dev.Address, o.Channel, o.Secure)
	}

	if dev.Path == "" {
		return nil, device.NewConnectError(device.KindSocket, dev.Address, errors.New("device has no BlueZ object path"))
	}
	logger.Debug("Dialing through BlueZ profile")
	return dialProfile(dialCtx, bus, dbus.ObjectPath(dev.Path), dev.Address, o.ServiceUUID, o.Secure, a.logger)
}

// Close releases the D-Bus connection. Sockets already handed out stay open.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.bus.Close()
}

func (a *Adapter) conn() (*dbus.Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, device.NewConnectError(device.KindAdapterUnavailable, "", errors.New("adapter closed"))
	}
	return a.bus, nil
}

func getManagedObjects(ctx context.Context, bus *dbus.Conn) (managedObjects, error) {
	var objs managedObjects
	call := bus.Object(bluezService, "/").CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

// selectAdapter picks the adapter whose id matches, or the lowest path.
func selectAdapter(objs managedObjects, id string) (dbus.ObjectPath, error) {
	var paths []string
	for p, ifaces := range objs {
		if _, ok := ifaces[adapterIface]; !ok {
			continue
		}
		if id != "" && path.Base(string(p)) != id {
			continue
		}
		paths = append(paths, string(p))
	}
	if len(paths) == 0 {
		if id != "" {
			return "", device.NewConnectError(device.KindAdapterUnavailable, "", fmt.Errorf("adapter %s not found", id))
		}
		return "", device.NewConnectError(device.KindAdapterUnavailable, "", errors.New("no Bluetooth adapter present"))
	}
	sort.Strings(paths)
	return dbus.ObjectPath(paths[0]), nil
}

func pairedDevicesFromObjects(objs managedObjects, adapterPath dbus.ObjectPath) []device.PairedDevice {
	paths := make([]string, 0, len(objs))
	for p := range objs {
		paths = append(paths, string(p))
	}
	sort.Strings(paths)

	var out []device.PairedDevice
	for _, p := range paths {
		props, ok := objs[dbus.ObjectPath(p)][deviceIface]
		if !ok {
			continue
		}
		if owner, _ := props["Adapter"].Value().(dbus.ObjectPath); owner != adapterPath {
			continue
		}
		dev := deviceFromProps(dbus.ObjectPath(p), props)
		if !dev.Paired {
			continue
		}
		out = append(out, dev)
	}
	return out
}

func deviceFromProps(p dbus.ObjectPath, props map[string]dbus.Variant) device.PairedDevice {
	dev := device.PairedDevice{
		Path:      string(p),
		Name:      stringProp(props, "Name"),
		Alias:     stringProp(props, "Alias"),
		Address:   stringProp(props, "Address"),
		Paired:    boolProp(props, "Paired") || boolProp(props, "Bonded"),
		Trusted:   boolProp(props, "Trusted"),
		Connected: boolProp(props, "Connected"),
	}
	if v, ok := props["UUIDs"]; ok {
		dev.UUIDs, _ = v.Value().([]string)
	}
	if dev.Address == "" {
		dev.Address = addressFromPath(p)
	}
	return dev
}

func stringProp(props map[string]dbus.Variant, key string) string {
	v, ok := props[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

func boolProp(props map[string]dbus.Variant, key string) bool {
	v, ok := props[key]
	if !ok {
		return false
	}
	b, _ := v.Value().(bool)
	return b
}

// addressFromPath recovers the address from .../dev_XX_XX_XX_XX_XX_XX.
func addressFromPath(p dbus.ObjectPath) string {
	base := path.Base(string(p))
	if len(base) != len("dev_00_00_00_00_00_00") || base[:4] != "dev_" {
		return ""
	}
	b := []byte(base[4:])
	for i := range b {
		if b[i] == '_' {
			b[i] = ':'
		}
	}
	return string(b)
}
