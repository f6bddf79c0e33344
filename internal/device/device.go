package device

import (
	"context"
	"io"
	"time"
)

// SerialPortUUID is the Serial Port Profile service class UUID. Peer firmware
// (HC-05/HC-06 modules, ESP32 BluetoothSerial, ...) advertises its RFCOMM
// channel under this identifier, so it must stay bit-exact.
const SerialPortUUID = "00001101-0000-1000-8000-00805f9b34fb"

// PairedDevice is one entry of the adapter's bonded-device registry.
type PairedDevice struct {
	Name      string   `json:"name"`
	Alias     string   `json:"alias,omitempty"`
	Address   string   `json:"address"`
	Path      string   `json:"path,omitempty"` // backend handle, e.g. a BlueZ object path
	Paired    bool     `json:"paired"`
	Trusted   bool     `json:"trusted"`
	Connected bool     `json:"connected"`
	UUIDs     []string `json:"uuids,omitempty"`
}

// DisplayName returns the name used for lookups, falling back to the alias
// and then the address when the device never reported a name.
func (d PairedDevice) DisplayName() string {
	switch {
	case d.Name != "":
		return d.Name
	case d.Alias != "":
		return d.Alias
	default:
		return d.Address
	}
}

// HasService reports whether the device advertised the given service UUID.
func (d PairedDevice) HasService(uuid string) bool {
	want := NormalizeUUID(uuid)
	for _, u := range d.UUIDs {
		if NormalizeUUID(u) == want {
			return true
		}
	}
	return false
}

// DialOptions controls how an RFCOMM channel is opened.
type DialOptions struct {
	ServiceUUID string        // service record to connect to (SerialPortUUID by default)
	Channel     uint8         // fixed RFCOMM channel; 0 resolves it from the service record
	Secure      bool          // require an authenticated, encrypted link
	Timeout     time.Duration // 0 = platform default
}

// InputStream is the receive half of a socket.
type InputStream interface {
	io.ReadCloser

	// Available returns the number of bytes that can be read without blocking,
	// or io.EOF once the peer has closed and nothing is left to read.
	Available() (int, error)

	// SetReadDeadline bounds the next Read calls; the zero time clears it.
	SetReadDeadline(t time.Time) error
}

// Socket is a connected RFCOMM stream and its two byte streams. Closing a
// stream releases only that half; Close releases the socket itself.
type Socket interface {
	Input() InputStream
	Output() io.WriteCloser
	RemoteAddress() string
	Close() error
}

// Adapter is a local Bluetooth controller together with its bonded-device
// registry.
type Adapter interface {
	ID() string

	// Powered reports whether the controller is present and switched on.
	Powered(ctx context.Context) (bool, error)

	// PairedDevices returns the bonded devices in registry order.
	PairedDevices(ctx context.Context) ([]PairedDevice, error)

	// CancelDiscovery stops an in-progress inquiry; connecting while the
	// controller is discovering is unreliable on most stacks.
	CancelDiscovery(ctx context.Context) error

	// Dial opens an RFCOMM channel to dev. The returned Socket is owned by the caller.
	Dial(ctx context.Context, dev PairedDevice, opts *DialOptions) (Socket, error)

	Close() error
}

// AdapterOptions selects and configures the local controller.
type AdapterOptions struct {
	ID string // controller id such as "hci0"; empty selects the first one found
}
