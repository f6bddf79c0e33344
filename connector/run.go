package connector

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppctl/internal/devicefactory"
)

// ProgressCallback is called when the connection phase changes
type ProgressCallback func(phase string)

// RunOptions selects the adapter and target for RunSession.
type RunOptions struct {
	AdapterID string
	ByAddress bool // target is a Bluetooth address rather than a name
	Connector *Options
}

// SessionCallback works with a connected session and produces output of type R
type SessionCallback[R any] func(*Connector, *Session) (R, error)

// RunSession opens the adapter, connects to target, and executes the callback with the live session.
// The session and the adapter are always released before returning, whatever the callback returns.
func RunSession[R any](ctx context.Context, target string, opts *RunOptions, logger *logrus.Logger, progressCallback ProgressCallback, callback SessionCallback[R]) (R, error) {
	var zero R
	if opts == nil {
		opts = &RunOptions{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	progressCallback("Opening adapter")
	adapter, err := devicefactory.NewAdapter(opts.AdapterID, logger)
	if err != nil {
		progressCallback("Failed")
		return zero, err
	}

	c, err := New(adapter, opts.Connector, logger)
	if err != nil {
		_ = adapter.Close()
		progressCallback("Failed")
		return zero, err
	}
	defer func() {
		if err := c.Shutdown(); err != nil {
			logger.WithError(err).Error("failed to release connection")
		}
	}()

	progressCallback("Connecting")
	if opts.ByAddress {
		_, err = c.ConnectAddress(ctx, target)
	} else {
		_, err = c.Connect(ctx, target)
	}
	if err != nil {
		progressCallback("Failed")
		return zero, err
	}

	progressCallback("Connected")
	return callback(c, c.Session())
}
