package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/srg/sppctl/internal/device"
	"github.com/srg/sppctl/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// DeviceConfig represents one paired device of a mocked adapter
type DeviceConfig struct {
	Name    string   `json:"name"`
	Alias   string   `json:"alias,omitempty"`
	Address string   `json:"address"`
	UUIDs   []string `json:"uuids,omitempty"`
}

// AdapterConfig represents the complete mocked adapter
type AdapterConfig struct {
	ID      string         `json:"id"`
	Powered *bool          `json:"powered,omitempty"` // nil means powered
	Devices []DeviceConfig `json:"devices"`
}

// AdapterBuilder builds a mocked device.Adapter whose paired devices are
// backed by in-memory FakePeers.
type AdapterBuilder struct {
	config       AdapterConfig
	responder    Responder
	peers        map[string]*FakePeer
	dialErrs     map[string]error
	poweredErr   error
	listErr      error
	discoveryErr error
	closeErr     error
}

// NewAdapterBuilder creates an empty, powered adapter builder
func NewAdapterBuilder() *AdapterBuilder {
	return &AdapterBuilder{
		config:   AdapterConfig{ID: "hci0"},
		peers:    map[string]*FakePeer{},
		dialErrs: map[string]error{},
	}
}

// WithID sets the adapter id
func (b *AdapterBuilder) WithID(id string) *AdapterBuilder {
	b.config.ID = id
	return b
}

// WithPowered switches the adapter on or off
func (b *AdapterBuilder) WithPowered(powered bool) *AdapterBuilder {
	b.config.Powered = &powered
	return b
}

// WithPoweredError makes the power query fail
func (b *AdapterBuilder) WithPoweredError(err error) *AdapterBuilder {
	b.poweredErr = err
	return b
}

// WithPairedDevice appends a paired SPP device to the registry
func (b *AdapterBuilder) WithPairedDevice(name, address string) *AdapterBuilder {
	b.config.Devices = append(b.config.Devices, DeviceConfig{
		Name:    name,
		Address: address,
		UUIDs:   []string{device.SerialPortUUID},
	})
	return b
}

// WithResponder answers client lines on every peer
func (b *AdapterBuilder) WithResponder(r Responder) *AdapterBuilder {
	b.responder = r
	return b
}

// WithDialError makes dialing the device at address fail with err
func (b *AdapterBuilder) WithDialError(address string, err error) *AdapterBuilder {
	b.dialErrs[strings.ToUpper(address)] = err
	return b
}

// WithListError makes the paired-device query fail
func (b *AdapterBuilder) WithListError(err error) *AdapterBuilder {
	b.listErr = err
	return b
}

// WithDiscoveryError makes CancelDiscovery fail
func (b *AdapterBuilder) WithDiscoveryError(err error) *AdapterBuilder {
	b.discoveryErr = err
	return b
}

// WithCloseError makes Close on the adapter fail
func (b *AdapterBuilder) WithCloseError(err error) *AdapterBuilder {
	b.closeErr = err
	return b
}

// FromJSON fills the adapter configuration from JSON
func (b *AdapterBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdapterBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config AdapterConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("AdapterBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if config.ID == "" {
		config.ID = "hci0"
	}

	b.config = config
	return b
}

// Peer returns the fake remote device for an address or a name, creating
// the peers on first use.
func (b *AdapterBuilder) Peer(nameOrAddress string) *FakePeer {
	b.ensurePeers()
	if p, ok := b.peers[strings.ToUpper(nameOrAddress)]; ok {
		return p
	}
	for _, d := range b.config.Devices {
		if d.Name == nameOrAddress {
			return b.peers[strings.ToUpper(d.Address)]
		}
	}
	return nil
}

// PairedDevices returns the registry the adapter will report
func (b *AdapterBuilder) PairedDevices() []device.PairedDevice {
	devices := make([]device.PairedDevice, 0, len(b.config.Devices))
	for _, d := range b.config.Devices {
		devices = append(devices, device.PairedDevice{
			Name:    d.Name,
			Alias:   d.Alias,
			Address: strings.ToUpper(d.Address),
			Path:    "/org/bluez/" + b.config.ID + "/dev_" + strings.ReplaceAll(strings.ToUpper(d.Address), ":", "_"),
			Paired:  true,
			UUIDs:   d.UUIDs,
		})
	}
	return devices
}

func (b *AdapterBuilder) ensurePeers() {
	for _, dev := range b.PairedDevices() {
		if _, ok := b.peers[dev.Address]; ok {
			continue
		}
		p := NewFakePeer(dev)
		if b.responder != nil {
			p.WithResponder(b.responder)
		}
		b.peers[dev.Address] = p
	}
}

// Build creates a mocked device.Adapter with the configured registry
func (b *AdapterBuilder) Build() *mocks.MockAdapter {
	b.ensurePeers()

	powered := b.config.Powered == nil || *b.config.Powered
	devices := b.PairedDevices()

	m := &mocks.MockAdapter{}
	m.On("ID").Return(b.config.ID)
	m.On("Powered", mock.Anything).Return(powered, b.poweredErr)
	m.On("PairedDevices", mock.Anything).Return(devices, b.listErr)
	m.On("CancelDiscovery", mock.Anything).Return(b.discoveryErr)
	m.On("Close").Return(b.closeErr)
	m.On("Dial", mock.Anything, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, dev device.PairedDevice, _ *device.DialOptions) (device.Socket, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			addr := strings.ToUpper(dev.Address)
			if err := b.dialErrs[addr]; err != nil {
				return nil, err
			}
			peer, ok := b.peers[addr]
			if !ok {
				return nil, fmt.Errorf("no peer at %s", addr)
			}
			return peer.Connect(), nil
		})

	return m
}
