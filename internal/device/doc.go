// Package device defines the platform-neutral model of a classic Bluetooth
// serial link: the local adapter, its paired-device registry, and the RFCOMM
// socket opened to one of those devices.
//
// The package holds no platform code. Backends (see internal/device/bluez)
// implement Adapter and Socket; the connector package drives them through
// the Disconnected -> Connecting -> Connected lifecycle.
//
// Errors are structured so callers can tell failure kinds apart:
//   - ConnectError carries a Kind (device not found, adapter unavailable,
//     socket error, connect timeout, permission denied)
//   - ConnectionError carries a session State (no session, already connected)
//   - Status collapses both into the legacy "Connected" / "Not found" / "Error"
//     strings for hosts that still expect them
package device
