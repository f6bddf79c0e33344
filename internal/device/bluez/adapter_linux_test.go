//go:build linux

package bluez

import (
	"errors"
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"github.com/srg/sppctl/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func deviceObject(adapter dbus.ObjectPath, name, addr string, paired bool) map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		deviceIface: {
			"Adapter": dbus.MakeVariant(adapter),
			"Name":    dbus.MakeVariant(name),
			"Alias":   dbus.MakeVariant(name),
			"Address": dbus.MakeVariant(addr),
			"Paired":  dbus.MakeVariant(paired),
			"UUIDs":   dbus.MakeVariant([]string{device.SerialPortUUID}),
		},
	}
}

func testObjects() managedObjects {
	return managedObjects{
		"/org/bluez":      {profileManagerIface: {}},
		"/org/bluez/hci1": {adapterIface: {"Powered": dbus.MakeVariant(true)}},
		"/org/bluez/hci0": {adapterIface: {"Powered": dbus.MakeVariant(false)}},
		"/org/bluez/hci0/dev_98_D3_31_F5_B9_E7": deviceObject("/org/bluez/hci0", "HC-06", "98:D3:31:F5:B9:E7", true),
		"/org/bluez/hci0/dev_24_0A_C4_00_00_01": deviceObject("/org/bluez/hci0", "ESP32-BT", "24:0A:C4:00:00:01", true),
		"/org/bluez/hci0/dev_11_22_33_44_55_66": deviceObject("/org/bluez/hci0", "Headset", "11:22:33:44:55:66", false),
		"/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF": deviceObject("/org/bluez/hci1", "HC-06", "AA:BB:CC:DD:EE:FF", true),
	}
}

func TestSelectAdapter(t *testing.T) {
	objs := testObjects()

	p, err := selectAdapter(objs, "")
	require.NoError(t, err)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0"), p, "MUST pick the lowest adapter path by default")

	p, err = selectAdapter(objs, "hci1")
	require.NoError(t, err)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci1"), p)

	_, err = selectAdapter(objs, "hci7")
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrAdapterUnavailable)

	_, err = selectAdapter(managedObjects{}, "")
	assert.ErrorIs(t, err, device.ErrAdapterUnavailable, "MUST fail when no adapter is present")
}

func TestPairedDevicesFromObjects(t *testing.T) {
	devices := pairedDevicesFromObjects(testObjects(), "/org/bluez/hci0")

	require.Len(t, devices, 2, "MUST list only bonded devices of the selected adapter")
	assert.Equal(t, "ESP32-BT", devices[0].Name, "MUST be ordered by object path")
	assert.Equal(t, "24:0A:C4:00:00:01", devices[0].Address)
	assert.Equal(t, "HC-06", devices[1].Name)
	assert.Equal(t, "/org/bluez/hci0/dev_98_D3_31_F5_B9_E7", devices[1].Path)
	assert.True(t, devices[1].HasService(device.SerialPortUUID))
}

func TestDeviceFromPropsFallsBackToPathAddress(t *testing.T) {
	dev := deviceFromProps("/org/bluez/hci0/dev_00_11_22_33_44_55", map[string]dbus.Variant{
		"Bonded": dbus.MakeVariant(true),
	})

	assert.Equal(t, "00:11:22:33:44:55", dev.Address)
	assert.True(t, dev.Paired, "Bonded MUST count as paired")
	assert.Empty(t, dev.Name)
}

func TestAddressFromPath(t *testing.T) {
	assert.Equal(t, "98:D3:31:F5:B9:E7", addressFromPath("/org/bluez/hci0/dev_98_D3_31_F5_B9_E7"))
	assert.Empty(t, addressFromPath("/org/bluez/hci0"))
	assert.Empty(t, addressFromPath("/org/bluez/hci0/dev_98_D3"))
}

func TestClassifyDBusError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want device.ErrorKind
	}{
		{"not ready", dbus.Error{Name: "org.bluez.Error.NotReady"}, device.KindAdapterUnavailable},
		{"auth failed", dbus.Error{Name: "org.bluez.Error.AuthenticationFailed"}, device.KindPermissionDenied},
		{"access denied", &dbus.Error{Name: "org.freedesktop.DBus.Error.AccessDenied"}, device.KindPermissionDenied},
		{"no reply", dbus.Error{Name: "org.freedesktop.DBus.Error.NoReply"}, device.KindConnectTimeout},
		{"other bluez", dbus.Error{Name: "org.bluez.Error.Failed"}, device.KindSocket},
		{"errno", unix.ETIMEDOUT, device.KindConnectTimeout},
		{"plain", errors.New("boom"), device.KindSocket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyDBusError(tt.err))
		})
	}
}
