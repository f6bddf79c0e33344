package main

import (
	"errors"
	"fmt"

	"github.com/srg/sppctl/internal/device"
	"github.com/srg/sppctl/internal/script"
)

// FormatUserError turns err into a message with a hint on what to do next.
// Errors it does not recognize are returned verbatim.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var cerr *device.ConnectError
	if errors.As(err, &cerr) {
		target := cerr.Device
		if target == "" {
			target = "device"
		}
		var hint string
		switch cerr.Kind {
		case device.KindDeviceNotFound:
			hint = fmt.Sprintf("%q is not paired with this adapter; pair it first (bluetoothctl pair <address>) or check the name with 'sppctl devices'", target)
		case device.KindAdapterUnavailable:
			hint = "Bluetooth adapter is unavailable or powered off; try 'bluetoothctl power on'"
		case device.KindConnectTimeout:
			hint = fmt.Sprintf("timed out connecting to %q; make sure it is powered, in range and not connected elsewhere", target)
		case device.KindPermissionDenied:
			hint = "permission denied talking to BlueZ; run as a member of the bluetooth group or check D-Bus policy"
		default:
			hint = fmt.Sprintf("could not open a serial connection to %q", target)
		}
		if cerr.Err != nil {
			return fmt.Sprintf("%s (%v)", hint, cerr.Err)
		}
		return hint
	}

	switch {
	case errors.Is(err, device.ErrAlreadyConnected):
		return "a session is already open; close it first"
	case errors.Is(err, device.ErrNoSession):
		return "not connected"
	case errors.Is(err, device.ErrConnectionLost):
		return fmt.Sprintf("connection lost: %v", err)
	case errors.Is(err, device.ErrTimeout):
		return "timed out waiting for a complete line from the device"
	}

	var serr *script.Error
	if errors.As(err, &serr) {
		return fmt.Sprintf("script failed: %v", serr)
	}

	return err.Error()
}
