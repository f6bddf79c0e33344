package connector

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppctl/internal/device"
	"github.com/srg/sppctl/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	hc06Address  = "98:D3:31:F5:B9:E7"
	esp32Address = "24:0A:C4:00:00:01"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func defaultBuilder() *testutils.AdapterBuilder {
	return testutils.CreateMockAdapter("HC-06", hc06Address, "ESP32-BT", esp32Address).
		WithResponder(testutils.PingResponder)
}

func newTestConnector(t *testing.T, b *testutils.AdapterBuilder, opts *Options) *Connector {
	t.Helper()
	c, err := New(b.Build(), opts, testLogger())
	require.NoError(t, err)
	return c
}

func TestConnector_PingPongScenario(t *testing.T) {
	// GOAL: Verify a full connect / write / read / close cycle against a paired SPP peer
	//
	// TEST SCENARIO: Connect to HC-06 → write PING → read PONG → close → read fails with no session

	b := defaultBuilder()
	c := newTestConnector(t, b, nil)

	status, err := c.Connect(context.Background(), "HC-06")
	require.NoError(t, err)
	assert.Equal(t, device.StatusConnected, status)
	assert.Equal(t, "Connected", status.String())
	assert.Equal(t, Connected, c.State())

	require.NoError(t, c.Write("PING\n"))
	assert.Equal(t, "PING\n", b.Peer("HC-06").Received(), "peer MUST observe the written bytes exactly")

	line, err := c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "PONG", line, "ReadLine MUST strip the line terminator")

	require.NoError(t, c.Close())
	assert.Equal(t, Disconnected, c.State())

	_, err = c.ReadLine()
	assert.ErrorIs(t, err, device.ErrNoSession, "read after close MUST fail with no session")
}

func TestConnector_SecondPeer(t *testing.T) {
	b := defaultBuilder()
	c := newTestConnector(t, b, nil)

	status, err := c.Connect(context.Background(), "ESP32-BT")
	require.NoError(t, err)
	assert.Equal(t, device.StatusConnected, status)
	assert.Equal(t, esp32Address, c.Session().Device().Address)

	require.NoError(t, c.Write("PING\n"))
	line, err := c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "PONG", line)
	assert.Empty(t, b.Peer("HC-06").Received(), "other peers MUST NOT see traffic")
	require.NoError(t, c.Close())
}

func TestConnector_UnknownDevice(t *testing.T) {
	m := defaultBuilder().Build()
	c, err := New(m, nil, testLogger())
	require.NoError(t, err)

	status, err := c.Connect(context.Background(), "Unknown-Device")

	assert.Equal(t, device.StatusNotFound, status)
	assert.Equal(t, "Not found", status.String())
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)
	assert.Nil(t, c.Session(), "MUST NOT leave a session behind")
	assert.Equal(t, Disconnected, c.State())
	m.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything, mock.Anything)

	var cerr *device.ConnectError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Unknown-Device", cerr.Device)
}

func TestConnector_AdapterPoweredOff(t *testing.T) {
	b := defaultBuilder().WithPowered(false)
	m := b.Build()
	c, err := New(m, nil, testLogger())
	require.NoError(t, err)

	status, err := c.Connect(context.Background(), "HC-06")

	assert.Equal(t, device.StatusError, status)
	assert.ErrorIs(t, err, device.ErrAdapterUnavailable)
	assert.Nil(t, c.Session())
	m.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything, mock.Anything)
}

func TestConnector_AdapterQueryErrors(t *testing.T) {
	t.Run("power query fails", func(t *testing.T) {
		c := newTestConnector(t, defaultBuilder().WithPoweredError(syscall.ENODEV), nil)
		status, err := c.Connect(context.Background(), "HC-06")
		assert.Equal(t, device.StatusError, status)
		assert.ErrorIs(t, err, device.ErrAdapterUnavailable)
	})

	t.Run("registry query fails", func(t *testing.T) {
		c := newTestConnector(t, defaultBuilder().WithListError(errors.New("bus gone")), nil)
		status, err := c.Connect(context.Background(), "HC-06")
		assert.Equal(t, device.StatusError, status)
		assert.ErrorIs(t, err, device.ErrAdapterUnavailable)
		assert.ErrorContains(t, err, "bus gone")
	})
}

func TestConnector_DialErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"timeout", syscall.ETIMEDOUT, device.ErrConnectTimeout},
		{"deadline", context.DeadlineExceeded, device.ErrConnectTimeout},
		{"permission", syscall.EACCES, device.ErrPermissionDenied},
		{"refused", syscall.ECONNREFUSED, device.ErrSocket},
		{"host down", syscall.EHOSTDOWN, device.ErrSocket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConnector(t, defaultBuilder().WithDialError(hc06Address, tt.err), nil)

			status, err := c.Connect(context.Background(), "HC-06")

			assert.Equal(t, device.StatusError, status)
			assert.ErrorIs(t, err, tt.target)
			assert.ErrorIs(t, err, tt.err, "MUST keep the platform cause")
			assert.Equal(t, Disconnected, c.State())
		})
	}
}

func TestConnector_EveryRegisteredNameResolves(t *testing.T) {
	// GOAL: name lookup finds every paired device, not only the last one registered
	//
	// TEST SCENARIO: Registry HC-06, ESP32-BT, HC-05 → connect to each name in turn → each session targets its address
	registry := []struct{ name, address string }{
		{"HC-06", "00:11:22:33:44:01"},
		{"ESP32-BT", "00:11:22:33:44:02"},
		{"HC-05", "00:11:22:33:44:03"},
	}
	b := testutils.CreateMockAdapter(
		registry[0].name, registry[0].address,
		registry[1].name, registry[1].address,
		registry[2].name, registry[2].address,
	)
	c := newTestConnector(t, b, nil)

	for _, entry := range registry {
		status, err := c.Connect(context.Background(), entry.name)
		require.NoError(t, err, "%s MUST resolve", entry.name)
		assert.Equal(t, device.StatusConnected, status)
		assert.Equal(t, entry.address, c.Session().Device().Address)
		require.NoError(t, c.Close())
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, device.SerialPortUUID, opts.ServiceUUID)
	assert.Equal(t, DefaultConnectTimeout, opts.ConnectTimeout)
	assert.Equal(t, DefaultMaxLineLength, opts.MaxLineLength)
	assert.Zero(t, opts.Channel, "channel MUST default to service record lookup")
	assert.False(t, opts.Secure, "links MUST default to insecure")
	assert.Zero(t, opts.ReadTimeout)
}

func TestConnector_DuplicateNamesFirstMatchWins(t *testing.T) {
	b := testutils.CreateMockAdapter(
		"HC-06", "00:11:22:33:44:01",
		"HC-06", "00:11:22:33:44:02",
	)
	c := newTestConnector(t, b, nil)

	_, err := c.Connect(context.Background(), "HC-06")
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "00:11:22:33:44:01", c.Session().Device().Address, "MUST pick the first registry entry")
	assert.Len(t, c.Devices(), 2, "both devices MUST stay listed")
	assert.Empty(t, b.Peer("00:11:22:33:44:02").Sockets())
}

func TestConnector_ConnectAddress(t *testing.T) {
	b := testutils.CreateMockAdapter(
		"HC-06", "00:11:22:33:44:01",
		"HC-06", "00:11:22:33:44:02",
	)
	c := newTestConnector(t, b, nil)

	status, err := c.ConnectAddress(context.Background(), "00:11:22:33:44:02")
	require.NoError(t, err)
	assert.Equal(t, device.StatusConnected, status)
	assert.Equal(t, "00:11:22:33:44:02", c.Session().Device().Address)
	require.NoError(t, c.Close())

	status, err = c.ConnectAddress(context.Background(), "00:11:22:33:44:99")
	assert.Equal(t, device.StatusNotFound, status)
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)

	status, err = c.ConnectAddress(context.Background(), "HC-06")
	assert.Equal(t, device.StatusNotFound, status, "a malformed address MUST be reported as not found")
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)
}

func TestConnector_CancelsDiscoveryBeforeDial(t *testing.T) {
	m := defaultBuilder().Build()
	c, err := New(m, nil, testLogger())
	require.NoError(t, err)

	_, err = c.Connect(context.Background(), "HC-06")
	require.NoError(t, err)
	defer c.Close()

	var order []string
	for _, call := range m.Calls {
		order = append(order, call.Method)
	}
	assert.Equal(t, []string{"Powered", "PairedDevices", "CancelDiscovery", "Dial"}, order)

	dialOpts := m.Calls[3].Arguments.Get(2).(*device.DialOptions)
	assert.Equal(t, device.SerialPortUUID, dialOpts.ServiceUUID)
	assert.False(t, dialOpts.Secure, "MUST dial insecure by default")
	assert.Equal(t, DefaultConnectTimeout, dialOpts.Timeout)
}

func TestConnector_DiscoveryErrorIsNotFatal(t *testing.T) {
	c := newTestConnector(t, defaultBuilder().WithDiscoveryError(errors.New("busy")), nil)

	status, err := c.Connect(context.Background(), "HC-06")
	require.NoError(t, err)
	assert.Equal(t, device.StatusConnected, status)
	require.NoError(t, c.Close())
}

func TestConnector_ClosesSocketWhenSessionSetupFails(t *testing.T) {
	// GOAL: Verify no socket leaks when the connect fails after the socket exists
	//
	// TEST SCENARIO: Peer socket comes up without an output stream → connect fails → socket closed

	b := defaultBuilder()
	b.Peer("HC-06").WithoutOutputStream()
	c := newTestConnector(t, b, nil)

	status, err := c.Connect(context.Background(), "HC-06")

	assert.Equal(t, device.StatusError, status)
	assert.ErrorIs(t, err, device.ErrSocket)
	require.Len(t, b.Peer("HC-06").Sockets(), 1)
	assert.True(t, b.Peer("HC-06").Socket().Closed(), "socket MUST be closed after a failed connect")
	assert.Nil(t, c.Session())
}

func TestConnector_ClosesSocketWhenCancelledDuringDial(t *testing.T) {
	b := defaultBuilder()
	m := &mockAdapterWithCancel{Adapter: b.Build()}
	c, err := New(m, nil, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	status, err := c.Connect(ctx, "HC-06")

	assert.Equal(t, device.StatusError, status)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, b.Peer("HC-06").Socket().Closed(), "socket MUST be closed when the caller gave up")
}

// mockAdapterWithCancel cancels the connect context right after a successful dial.
type mockAdapterWithCancel struct {
	device.Adapter
	cancel context.CancelFunc
}

func (m *mockAdapterWithCancel) Dial(ctx context.Context, dev device.PairedDevice, opts *device.DialOptions) (device.Socket, error) {
	s, err := m.Adapter.Dial(ctx, dev, opts)
	m.cancel()
	return s, err
}

func TestConnector_AlreadyConnected(t *testing.T) {
	c := newTestConnector(t, defaultBuilder(), nil)

	_, err := c.Connect(context.Background(), "HC-06")
	require.NoError(t, err)

	status, err := c.Connect(context.Background(), "ESP32-BT")
	assert.Equal(t, device.StatusError, status)
	assert.ErrorIs(t, err, device.ErrAlreadyConnected)
	assert.True(t, device.IsConnectionState(err, device.AlreadyConnected))
	assert.Equal(t, Connected, c.State(), "the open session MUST survive")
	assert.Equal(t, hc06Address, c.Session().Device().Address)

	require.NoError(t, c.Close())
	_, err = c.Connect(context.Background(), "ESP32-BT")
	require.NoError(t, err, "reconnect after close MUST succeed")
	require.NoError(t, c.Close())
}

func TestConnector_NoSession(t *testing.T) {
	c := newTestConnector(t, defaultBuilder(), nil)

	_, err := c.ReadLine()
	assert.ErrorIs(t, err, device.ErrNoSession)
	assert.ErrorIs(t, c.Write("PING\n"), device.ErrNoSession)
	assert.NoError(t, c.Close(), "close without a session MUST be a no-op")
}

func TestConnector_CloseReleasesEverythingDespiteFailure(t *testing.T) {
	// GOAL: Verify every resource is released even if one release fails
	//
	// TEST SCENARIO: Input stream close fails → output stream and socket still closed → error reported once

	b := defaultBuilder()
	c := newTestConnector(t, b, nil)
	_, err := c.Connect(context.Background(), "HC-06")
	require.NoError(t, err)

	sock := b.Peer("HC-06").Socket()
	sock.InputCloseErr = errors.New("input release failed")
	sock.CloseErr = errors.New("socket release failed")

	err = c.Close()
	require.Error(t, err)
	assert.ErrorContains(t, err, "close input stream: input release failed")
	assert.ErrorContains(t, err, "close socket: socket release failed")

	assert.True(t, sock.InputClosed())
	assert.True(t, sock.OutputClosed(), "output stream MUST be closed despite the input failure")
	assert.True(t, sock.Closed(), "socket MUST be closed despite the input failure")
	assert.Equal(t, Disconnected, c.State())

	assert.NoError(t, c.Close(), "second close MUST be a no-op")
	assert.Equal(t, 1, sock.CloseCalls())
}

func TestConnector_WriteFailure(t *testing.T) {
	b := defaultBuilder()
	c := newTestConnector(t, b, nil)
	_, err := c.Connect(context.Background(), "HC-06")
	require.NoError(t, err)
	defer c.Close()

	b.Peer("HC-06").FailWrites(syscall.EPIPE)
	err = c.Write("PING\n")
	assert.ErrorIs(t, err, syscall.EPIPE)
}

func TestConnector_DevicesAndRefresh(t *testing.T) {
	c := newTestConnector(t, defaultBuilder(), nil)
	assert.Empty(t, c.Devices(), "registry MUST be empty before the first refresh")

	require.NoError(t, c.Refresh(context.Background()))

	devices := c.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "HC-06", devices[0].Name, "MUST keep registry order")
	assert.Equal(t, "ESP32-BT", devices[1].Name)
}

func TestConnector_Shutdown(t *testing.T) {
	m := defaultBuilder().Build()
	c, err := New(m, nil, testLogger())
	require.NoError(t, err)
	_, err = c.Connect(context.Background(), "HC-06")
	require.NoError(t, err)

	require.NoError(t, c.Shutdown())
	assert.Nil(t, c.Session())
	m.AssertCalled(t, "Close")
}

func TestNew_InvalidOptions(t *testing.T) {
	m := defaultBuilder().Build()

	_, err := New(nil, nil, nil)
	assert.ErrorIs(t, err, device.ErrAdapterUnavailable)

	_, err = New(m, &Options{ServiceUUID: "not-a-uuid"}, nil)
	assert.Error(t, err)

	_, err = New(m, &Options{Channel: 31}, nil)
	assert.Error(t, err)

	_, err = New(m, &Options{ReadTimeout: -time.Second}, nil)
	assert.Error(t, err)

	c, err := New(m, &Options{ServiceUUID: "1101", ReadTimeout: time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, device.SerialPortUUID, c.Options().ServiceUUID, "short UUIDs MUST expand onto the base UUID")
	assert.Equal(t, DefaultMaxLineLength, c.Options().MaxLineLength)
}
