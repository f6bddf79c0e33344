package device

import "errors"

// Status is the coarse connect outcome exposed to hosts that predate
// ConnectError. The string values are part of that contract.
type Status string

const (
	StatusConnected Status = "Connected"
	StatusNotFound  Status = "Not found"
	StatusError     Status = "Error"
)

func (s Status) String() string { return string(s) }

// StatusOf collapses a Connect error into a Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusConnected
	case errors.Is(err, ErrDeviceNotFound):
		return StatusNotFound
	default:
		return StatusError
	}
}
