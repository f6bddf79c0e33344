package connector

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/sppctl/internal/device"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultMaxLineLength  = 4096
)

// Options controls how the Connector opens and reads a session.
type Options struct {
	ServiceUUID    string        `default:"00001101-0000-1000-8000-00805f9b34fb"` // service record to dial, SPP by default
	Channel        uint8                                                          // fixed RFCOMM channel, 0 resolves it from ServiceUUID
	Secure         bool                                                           // require an authenticated link
	ConnectTimeout time.Duration `default:"30s"`                                  // bound on a single dial
	ReadTimeout    time.Duration                                                  // bound on a partial-line read, 0 waits forever
	MaxLineLength  int           `default:"4096"`                                 // longer lines are returned in chunks of this size
}

// DefaultOptions returns options for an insecure SPP connection.
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

// normalize validates opts and fills unset fields with defaults.
func (o *Options) normalize() (Options, error) {
	out := *DefaultOptions()
	if o == nil {
		return out, nil
	}

	out.Channel = o.Channel
	out.Secure = o.Secure
	out.ReadTimeout = o.ReadTimeout

	if o.ServiceUUID != "" {
		uuids, err := device.ValidateUUID(o.ServiceUUID)
		if err != nil {
			return out, err
		}
		out.ServiceUUID = uuids[0]
	}
	if o.ConnectTimeout > 0 {
		out.ConnectTimeout = o.ConnectTimeout
	}
	if o.MaxLineLength > 0 {
		out.MaxLineLength = o.MaxLineLength
	}
	if o.ConnectTimeout < 0 || o.ReadTimeout < 0 {
		return out, errors.New("timeouts must not be negative")
	}
	if o.Channel > 30 {
		return out, fmt.Errorf("invalid RFCOMM channel %d: must be 1-30", o.Channel)
	}
	return out, nil
}
