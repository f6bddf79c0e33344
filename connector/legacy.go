package connector

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppctl/internal/device"
)

// Legacy exposes a Connector through the four-call, error-free surface older
// host integrations are written against. Every error is logged and dropped.
type Legacy struct {
	ctx    context.Context
	conn   *Connector
	logger *logrus.Logger
}

// NewLegacy wraps c. ctx bounds every StartConnection call.
func NewLegacy(ctx context.Context, c *Connector, logger *logrus.Logger) *Legacy {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = c.logger
	}
	return &Legacy{ctx: ctx, conn: c, logger: logger}
}

// StartConnection connects to the named device and returns "Connected",
// "Not found" or "Error".
func (l *Legacy) StartConnection(name string) string {
	status, err := l.conn.Connect(l.ctx, name)
	if err != nil {
		l.logger.WithError(err).WithField("name", name).Error("Connection failed")
	}
	return status.String()
}

// ReadData returns the next available line, or "" if there is none or the
// read failed.
func (l *Legacy) ReadData() string {
	line, err := l.conn.ReadLine()
	switch {
	case err == nil:
		return line
	case errors.Is(err, device.ErrTimeout):
		l.logger.Debug("Read timed out inside a partial line")
	default:
		l.logger.WithError(err).Error("Read failed")
	}
	return ""
}

// WriteData sends data; failures are only logged.
func (l *Legacy) WriteData(data string) {
	if err := l.conn.Write(data); err != nil {
		l.logger.WithError(err).Error("Write failed")
	}
}

// StopConnection closes the session; failures are only logged.
func (l *Legacy) StopConnection() {
	if err := l.conn.Close(); err != nil {
		l.logger.WithError(err).Error("Close failed")
	}
}
