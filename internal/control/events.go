package control

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

type CircuitStatus string

const (
	CircuitLaunched CircuitStatus = "LAUNCHED"
	CircuitBuilt    CircuitStatus = "BUILT"
	CircuitExtended CircuitStatus = "EXTENDED"
	CircuitFailed   CircuitStatus = "FAILED"
	CircuitClosed   CircuitStatus = "CLOSED"
)

type StreamStatus string

const (
	StreamNew         StreamStatus = "NEW"
	StreamNewResolve  StreamStatus = "NEWRESOLVE"
	StreamRemap       StreamStatus = "REMAP"
	StreamSentConnect StreamStatus = "SENTCONNECT"
	StreamSucceeded   StreamStatus = "SUCCEEDED"
	StreamClosed      StreamStatus = "CLOSED"
	StreamFailed      StreamStatus = "FAILED"
	StreamDetached    StreamStatus = "DETACHED"
)

// Hop is one relay in a circuit path.
type Hop struct {
	Fingerprint string
	Nickname    string
}

// Event is the closed set of daemon notifications delivered to the dispatcher.
// Exactly three concrete types implement it: CircuitEvent, StreamEvent and
// UnknownEvent.
type Event interface {
	event()
}

// CircuitEvent reports a circuit lifecycle change. Path is ordered entry to
// exit; Reason is only set on FAILED/CLOSED.
type CircuitEvent struct {
	ID     string
	Status CircuitStatus
	Path   []Hop
	Reason string
}

func (CircuitEvent) event() {}

// ExitFingerprint returns the fingerprint of the circuit's last hop.
func (e CircuitEvent) ExitFingerprint() (string, bool) {
	if len(e.Path) == 0 {
		return "", false
	}
	return e.Path[len(e.Path)-1].Fingerprint, true
}

// StreamEvent reports a stream lifecycle change. SourceAddr is the daemon's
// SOURCE_ADDR metadata and carries the correlation key (the local source port).
type StreamEvent struct {
	ID         string
	Status     StreamStatus
	CircuitID  string
	Target     string
	SourceAddr string
}

func (StreamEvent) event() {}

// SourcePort extracts the correlation key from the event's address metadata.
func (e StreamEvent) SourcePort() (int, error) {
	if strings.TrimSpace(e.SourceAddr) == "" {
		return 0, ErrNoSourceAddr
	}
	_, portStr, err := net.SplitHostPort(e.SourceAddr)
	if err != nil {
		return 0, fmt.Errorf("control: malformed source address %q: %w", e.SourceAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("control: invalid source port %q", portStr)
	}
	return port, nil
}

// UnknownEvent carries any async notification the scan core does not consume.
type UnknownEvent struct {
	Kind string
	Raw  string
}

func (UnknownEvent) event() {}
