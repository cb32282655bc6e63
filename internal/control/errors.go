package control

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("control: not connected")
	ErrAuthFailed   = errors.New("control: authentication failed")
	ErrNoSourceAddr = errors.New("control: stream event carries no source address")
)

// AttachError reports a daemon rejection of an attach command. It is expected
// during normal operation (the stream may already be gone) and is never fatal
// to a scan.
type AttachError struct {
	StreamID  string
	CircuitID string
	Reply     string
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("control: attach stream %s to circuit %s rejected: %s",
		e.StreamID, e.CircuitID, e.Reply)
}
