package control

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	dialTimeout      = 5 * time.Second
	dialMaxRetries   = 4
	eventBufferDepth = 128
)

type reply struct {
	code  string
	lines []string
}

func (r reply) ok() bool {
	return r.code == "250"
}

func (r reply) text() string {
	return strings.Join(r.lines, "; ")
}

// Client speaks the daemon control protocol over one TCP connection. A single
// reader goroutine splits the inbound stream into command replies and async
// notifications; commands are serialized so at most one reply is ever in
// flight.
type Client struct {
	addr string
	conn net.Conn

	cmdMu   sync.Mutex
	replies chan reply

	events chan Event
	done   chan struct{}

	closeOnce sync.Once
	closed    chan struct{}

	logger zerolog.Logger
}

// Dial connects to the control port, retrying transient failures with
// exponential backoff.
func Dial(addr string) (*Client, error) {
	var conn net.Conn
	op := func() error {
		var err error
		conn, err = net.DialTimeout("tcp", addr, dialTimeout)
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), dialMaxRetries)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("control: dial %s: %w", addr, err)
	}

	c := &Client{
		addr:    addr,
		conn:    conn,
		replies: make(chan reply, 1),
		events:  make(chan Event, eventBufferDepth),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
		logger:  log.With().Str("component", "control").Str("daemon", addr).Logger(),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)

	br := bufio.NewReader(c.conn)
	var pending []string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			c.logger.Debug().Err(err).Msg("control connection closed")
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 4 {
			continue
		}
		code, sep, rest := line[:3], line[3], line[4:]
		if code == "650" {
			// Only single-line notifications carry events we consume;
			// continuation lines of multi-line notifications are daemon
			// chatter.
			if sep == ' ' {
				c.emit(ParseEvent(rest))
			}
			continue
		}

		pending = append(pending, rest)
		if sep != ' ' {
			continue
		}
		r := reply{code: code, lines: pending}
		pending = nil
		select {
		case c.replies <- r:
		default:
			c.logger.Warn().Str("code", code).Msg("dropping unsolicited reply")
		}
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

func (c *Client) sendCommand(line string) (reply, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if _, err := fmt.Fprintf(c.conn, "%s\r\n", line); err != nil {
		return reply{}, fmt.Errorf("control: send %s: %w", firstWord(line), err)
	}
	select {
	case r := <-c.replies:
		return r, nil
	case <-c.done:
		return reply{}, ErrNotConnected
	}
}

// Authenticate performs control-port authentication. An empty password sends
// a bare AUTHENTICATE, which daemons with open control ports accept.
func (c *Client) Authenticate(password string) error {
	cmd := "AUTHENTICATE"
	if password != "" {
		cmd = fmt.Sprintf("AUTHENTICATE %q", password)
	}
	r, err := c.sendCommand(cmd)
	if err != nil {
		return err
	}
	if !r.ok() {
		return fmt.Errorf("%w: %s", ErrAuthFailed, r.text())
	}
	c.logger.Debug().Msg("authenticated")
	return nil
}

// LeaveStreamsUnattached tells the daemon not to attach new streams on its
// own; the scan core takes over that responsibility.
func (c *Client) LeaveStreamsUnattached() error {
	r, err := c.sendCommand("SETCONF __LeaveStreamsUnattached=1")
	if err != nil {
		return err
	}
	if !r.ok() {
		return fmt.Errorf("control: leave streams unattached: %s", r.text())
	}
	return nil
}

// Subscribe enables circuit and stream notifications.
func (c *Client) Subscribe() error {
	r, err := c.sendCommand("SETEVENTS CIRC STREAM")
	if err != nil {
		return err
	}
	if !r.ok() {
		return fmt.Errorf("control: subscribe: %s", r.text())
	}
	return nil
}

// ExtendCircuit asks the daemon to build a fresh circuit through the given
// relays and returns the new circuit's ID.
func (c *Client) ExtendCircuit(fingerprints ...string) (string, error) {
	if len(fingerprints) == 0 {
		return "", fmt.Errorf("control: extend circuit: no relays given")
	}
	specs := make([]string, len(fingerprints))
	for i, fpr := range fingerprints {
		if !strings.HasPrefix(fpr, "$") {
			fpr = "$" + fpr
		}
		specs[i] = fpr
	}
	r, err := c.sendCommand("EXTENDCIRCUIT 0 " + strings.Join(specs, ","))
	if err != nil {
		return "", err
	}
	if !r.ok() {
		return "", fmt.Errorf("control: extend circuit: %s", r.text())
	}
	// Reply payload is "EXTENDED <id>".
	fields := strings.Fields(r.lines[len(r.lines)-1])
	if len(fields) < 2 || fields[0] != "EXTENDED" {
		return "", fmt.Errorf("control: unexpected extend reply: %s", r.text())
	}
	return fields[1], nil
}

// AttachStream binds a pending stream to a circuit. Daemon rejections come
// back as *AttachError and are expected during normal scans.
func (c *Client) AttachStream(streamID, circuitID string) error {
	r, err := c.sendCommand(fmt.Sprintf("ATTACHSTREAM %s %s", streamID, circuitID))
	if err != nil {
		return err
	}
	if !r.ok() {
		return &AttachError{StreamID: streamID, CircuitID: circuitID, Reply: r.text()}
	}
	return nil
}

// Run delivers events to handle one at a time, preserving daemon order, until
// the context is canceled or the connection drops. Events parsed before a
// drop are still delivered.
func (c *Client) Run(ctx context.Context, handle func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			handle(ev)
		case <-c.done:
			for {
				select {
				case ev := <-c.events:
					handle(ev)
				default:
					return ErrNotConnected
				}
			}
		}
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func firstWord(line string) string {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i]
	}
	return line
}
