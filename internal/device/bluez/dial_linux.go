//go:build linux

package bluez

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/sppctl/internal/device"
	"golang.org/x/sys/unix"
)

// BT_SECURITY socket option, see <bluetooth/bluetooth.h>.
const (
	solBluetooth      = 274
	btSecurity        = 4
	btSecurityLow     = 1
	btSecurityMedium  = 2
	connectPollPeriod = 100 * time.Millisecond
)

var profileCounter uint64

// dialChannel connects an RFCOMM socket straight to a known channel.
func dialChannel(ctx context.Context, address string, channel uint8, secure bool) (device.Socket, error) {
	bdaddr, err := device.ParseAddress(address)
	if err != nil {
		return nil, device.NewConnectError(device.KindSocket, address, err)
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, device.NewConnectError(device.ClassifyError(err), address, fmt.Errorf("create RFCOMM socket: %w", err))
	}

	if err := setSecurity(fd, secure); err != nil {
		_ = unix.Close(fd)
		return nil, device.NewConnectError(device.ClassifyError(err), address, fmt.Errorf("set BT_SECURITY: %w", err))
	}

	err = unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: bdaddr, Channel: channel})
	if errors.Is(err, unix.EINPROGRESS) {
		err = waitConnected(ctx, fd)
	}
	if err != nil {
		_ = unix.Close(fd)
		return nil, device.NewConnectError(device.ClassifyError(err), address, fmt.Errorf("connect channel %d: %w", channel, err))
	}

	s, err := newSocket(fd, address, nil)
	if err != nil {
		_ = unix.Close(fd)
		return nil, device.NewConnectError(device.KindSocket, address, err)
	}
	return s, nil
}

func setSecurity(fd int, secure bool) error {
	level := byte(btSecurityLow)
	if secure {
		level = btSecurityMedium
	}
	// struct bt_security { uint8_t level; uint8_t key_size; }
	return unix.SetsockoptString(fd, solBluetooth, btSecurity, string([]byte{level, 0}))
}

// waitConnected polls a non-blocking connect until it completes or ctx ends.
func waitConnected(ctx context.Context, fd int) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(fds, int(connectPollPeriod/time.Millisecond))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		if soErr != 0 {
			return unix.Errno(soErr)
		}
		return nil
	}
}

// clientProfile receives the connected socket from BlueZ.
type clientProfile struct {
	mu      sync.Mutex
	ch      chan int
	done    bool
	address string
	logger  *logrus.Logger
}

func (p *clientProfile) Release() *dbus.Error { return nil }

func (p *clientProfile) Cancel() *dbus.Error { return nil }

func (p *clientProfile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

func (p *clientProfile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		_ = unix.Close(int(fd))
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"connection already delivered"}}
	}
	p.done = true
	p.logger.WithFields(logrus.Fields{"device": dev, "address": p.address, "fd": int(fd)}).Debug("Profile delivered RFCOMM socket")
	p.ch <- int(fd)
	return nil
}

// abandon stops accepting and closes a socket delivered after the caller gave up.
func (p *clientProfile) abandon() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
	select {
	case fd := <-p.ch:
		_ = unix.Close(fd)
	default:
	}
}

// dialProfile registers a client Profile1 for uuid and asks BlueZ to connect it.
// BlueZ resolves the RFCOMM channel from the device's SDP record.
func dialProfile(ctx context.Context, bus *dbus.Conn, devPath dbus.ObjectPath, address, uuid string, secure bool, logger *logrus.Logger) (device.Socket, error) {
	id := atomic.AddUint64(&profileCounter, 1)
	profPath := dbus.ObjectPath("/org/srg/sppctl/client" + strconv.Itoa(os.Getpid()) + "_" + strconv.FormatUint(id, 10))
	prof := &clientProfile{ch: make(chan int, 1), address: address, logger: logger}

	if err := bus.Export(prof, profPath, profileIface); err != nil {
		return nil, device.NewConnectError(device.KindSocket, address, fmt.Errorf("export profile: %w", err))
	}

	pm := bus.Object(bluezService, "/org/bluez")
	opts := map[string]dbus.Variant{
		"Role":                  dbus.MakeVariant("client"),
		"RequireAuthentication": dbus.MakeVariant(secure),
		"RequireAuthorization":  dbus.MakeVariant(false),
		"AutoConnect":           dbus.MakeVariant(false),
	}
	if call := pm.CallWithContext(ctx, profileManagerIface+".RegisterProfile", 0, profPath, uuid, opts); call.Err != nil {
		_ = bus.Export(nil, profPath, profileIface)
		return nil, device.NewConnectError(classifyDBusError(call.Err), address, fmt.Errorf("RegisterProfile: %w", call.Err))
	}

	release := func() {
		_ = pm.Call(profileManagerIface+".UnregisterProfile", 0, profPath).Err
		_ = bus.Export(nil, profPath, profileIface)
	}

	fail := func(kind device.ErrorKind, err error) (device.Socket, error) {
		prof.abandon()
		release()
		return nil, device.NewConnectError(kind, address, err)
	}

	call := bus.Object(bluezService, devPath).CallWithContext(ctx, deviceIface+".ConnectProfile", 0, uuid)
	if call.Err != nil {
		if ctx.Err() != nil {
			return fail(device.KindConnectTimeout, fmt.Errorf("ConnectProfile: %w", ctx.Err()))
		}
		return fail(classifyDBusError(call.Err), fmt.Errorf("ConnectProfile: %w", call.Err))
	}

	var fd int
	select {
	case <-ctx.Done():
		return fail(device.KindConnectTimeout, fmt.Errorf("waiting for profile connection: %w", ctx.Err()))
	case fd = <-prof.ch:
	}

	s, err := newSocket(fd, address, release)
	if err != nil {
		_ = unix.Close(fd)
		release()
		return nil, device.NewConnectError(device.KindSocket, address, err)
	}
	return s, nil
}

// classifyDBusError maps org.bluez.Error.* names onto error kinds.
func classifyDBusError(err error) device.ErrorKind {
	var derr dbus.Error
	if errors.As(err, &derr) {
		switch derr.Name {
		case "org.bluez.Error.NotReady":
			return device.KindAdapterUnavailable
		case "org.bluez.Error.AuthenticationFailed", "org.bluez.Error.AuthenticationRejected",
			"org.bluez.Error.NotAuthorized", "org.freedesktop.DBus.Error.AccessDenied":
			return device.KindPermissionDenied
		case "org.freedesktop.DBus.Error.NoReply", "org.bluez.Error.AuthenticationTimeout":
			return device.KindConnectTimeout
		}
	}
	var pderr *dbus.Error
	if errors.As(err, &pderr) {
		return classifyDBusError(*pderr)
	}
	return device.ClassifyError(err)
}
