package control

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/exitctl/internal/testutil/testlog"
)

// fakeDaemon is a scripted control-port endpoint. Command replies come from
// the reply function; async notifications are pushed through Notify.
type fakeDaemon struct {
	t     *testing.T
	ln    net.Listener
	reply func(cmd string) []string

	mu   sync.Mutex
	conn net.Conn
}

func startFakeDaemon(t *testing.T, reply func(cmd string) []string) *fakeDaemon {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d := &fakeDaemon{t: t, ln: ln, reply: reply}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conn = conn
		d.mu.Unlock()
		d.serve(conn)
	}()
	return d
}

func (d *fakeDaemon) serve(conn net.Conn) {
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		cmd := strings.TrimSpace(sc.Text())
		if cmd == "" {
			continue
		}
		for _, line := range d.reply(cmd) {
			d.write(line)
		}
	}
}

func (d *fakeDaemon) write(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return
	}
	_, _ = d.conn.Write([]byte(line + "\r\n"))
}

// Notify pushes one async notification to the connected client.
func (d *fakeDaemon) Notify(line string) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		d.mu.Lock()
		ready := d.conn != nil
		d.mu.Unlock()
		if ready {
			break
		}
		if time.Now().After(deadline) {
			d.t.Fatalf("no client connected to fake daemon")
		}
		time.Sleep(5 * time.Millisecond)
	}
	d.write(line)
}

func (d *fakeDaemon) addr() string {
	return d.ln.Addr().String()
}

func okReplies(cmd string) []string {
	switch firstWord(cmd) {
	case "AUTHENTICATE", "SETCONF", "SETEVENTS", "ATTACHSTREAM":
		return []string{"250 OK"}
	case "EXTENDCIRCUIT":
		return []string{"250 EXTENDED 5"}
	default:
		return []string{"510 Unrecognized command"}
	}
}

func TestClientHandshakeAndCommands(t *testing.T) {
	testlog.Start(t)

	daemon := startFakeDaemon(t, okReplies)
	client, err := Dial(daemon.addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.Authenticate(""); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := client.LeaveStreamsUnattached(); err != nil {
		t.Fatalf("leave streams unattached: %v", err)
	}
	if err := client.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	id, err := client.ExtendCircuit("AAAA1111")
	if err != nil {
		t.Fatalf("extend circuit: %v", err)
	}
	if id != "5" {
		t.Fatalf("unexpected circuit id: %q", id)
	}
	if err := client.AttachStream("12", "5"); err != nil {
		t.Fatalf("attach stream: %v", err)
	}
}

func TestClientAuthenticationRejected(t *testing.T) {
	testlog.Start(t)

	daemon := startFakeDaemon(t, func(cmd string) []string {
		return []string{"515 Bad authentication"}
	})
	client, err := Dial(daemon.addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.Authenticate("wrong"); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestClientAttachRejectionIsTyped(t *testing.T) {
	testlog.Start(t)

	daemon := startFakeDaemon(t, func(cmd string) []string {
		if firstWord(cmd) == "ATTACHSTREAM" {
			return []string{"552 Unknown stream \"99\""}
		}
		return okReplies(cmd)
	})
	client, err := Dial(daemon.addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	err = client.AttachStream("99", "5")
	var attachErr *AttachError
	if !errors.As(err, &attachErr) {
		t.Fatalf("expected *AttachError, got %v", err)
	}
	if attachErr.StreamID != "99" || attachErr.CircuitID != "5" {
		t.Fatalf("unexpected attach error detail: %+v", attachErr)
	}
}

func TestClientDeliversEventsInOrder(t *testing.T) {
	testlog.Start(t)

	daemon := startFakeDaemon(t, okReplies)
	client, err := Dial(daemon.addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.Authenticate(""); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Event, 4)
	runErr := make(chan error, 1)
	go func() {
		runErr <- client.Run(ctx, func(ev Event) { got <- ev })
	}()

	daemon.Notify("650 CIRC 7 BUILT $CCCC3333~exit")
	daemon.Notify("650 STREAM 12 NEW 0 example.com:80 SOURCE_ADDR=127.0.0.1:5000")
	daemon.Notify("650 ORCONN $AAAA1111~entry CONNECTED")

	expectEvent := func() Event {
		select {
		case ev := <-got:
			return ev
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event")
			return nil
		}
	}

	if ev, ok := expectEvent().(CircuitEvent); !ok || ev.ID != "7" {
		t.Fatalf("expected circuit event first, got %#v", ev)
	}
	if ev, ok := expectEvent().(StreamEvent); !ok || ev.ID != "12" {
		t.Fatalf("expected stream event second, got %#v", ev)
	}
	if ev, ok := expectEvent().(UnknownEvent); !ok || ev.Kind != "ORCONN" {
		t.Fatalf("expected unknown event third, got %#v", ev)
	}

	cancel()
	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}

func TestClientMultilineReply(t *testing.T) {
	testlog.Start(t)

	daemon := startFakeDaemon(t, func(cmd string) []string {
		if firstWord(cmd) == "SETEVENTS" {
			return []string{"250-EVENTS", "250 OK"}
		}
		return okReplies(cmd)
	})
	client, err := Dial(daemon.addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.Subscribe(); err != nil {
		t.Fatalf("subscribe with multiline reply: %v", err)
	}
}
