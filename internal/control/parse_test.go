package control

import (
	"errors"
	"testing"

	"github.com/danmuck/exitctl/internal/testutil/testlog"
)

func TestParseEventCircuitBuilt(t *testing.T) {
	testlog.Start(t)

	raw := "CIRC 7 BUILT $AAAA1111~entry,$BBBB2222~middle,$CCCC3333~exit " +
		"BUILD_FLAGS=NEED_CAPACITY PURPOSE=GENERAL"
	ev, ok := ParseEvent(raw).(CircuitEvent)
	if !ok {
		t.Fatalf("expected CircuitEvent, got %T", ParseEvent(raw))
	}
	if ev.ID != "7" {
		t.Fatalf("unexpected circuit id: %q", ev.ID)
	}
	if ev.Status != CircuitBuilt {
		t.Fatalf("unexpected status: %q", ev.Status)
	}
	if len(ev.Path) != 3 {
		t.Fatalf("unexpected path length: %d", len(ev.Path))
	}
	if ev.Path[0].Nickname != "entry" {
		t.Fatalf("unexpected first hop nickname: %q", ev.Path[0].Nickname)
	}
	fpr, ok := ev.ExitFingerprint()
	if !ok || fpr != "CCCC3333" {
		t.Fatalf("unexpected exit fingerprint: %q ok=%v", fpr, ok)
	}
}

func TestParseEventCircuitFailedCarriesReason(t *testing.T) {
	testlog.Start(t)

	ev, ok := ParseEvent("CIRC 3 FAILED $AAAA1111~entry REASON=TIMEOUT").(CircuitEvent)
	if !ok {
		t.Fatalf("expected CircuitEvent")
	}
	if ev.Status != CircuitFailed {
		t.Fatalf("unexpected status: %q", ev.Status)
	}
	if ev.Reason != "TIMEOUT" {
		t.Fatalf("unexpected reason: %q", ev.Reason)
	}
}

func TestParseEventCircuitWithoutPath(t *testing.T) {
	testlog.Start(t)

	ev, ok := ParseEvent("CIRC 4 LAUNCHED PURPOSE=GENERAL").(CircuitEvent)
	if !ok {
		t.Fatalf("expected CircuitEvent")
	}
	if _, ok := ev.ExitFingerprint(); ok {
		t.Fatalf("expected no exit fingerprint for empty path")
	}
}

func TestParseEventStreamNew(t *testing.T) {
	testlog.Start(t)

	raw := "STREAM 12 NEW 0 example.com:80 SOURCE_ADDR=127.0.0.1:5000 PURPOSE=USER"
	ev, ok := ParseEvent(raw).(StreamEvent)
	if !ok {
		t.Fatalf("expected StreamEvent, got %T", ParseEvent(raw))
	}
	if ev.ID != "12" || ev.Status != StreamNew {
		t.Fatalf("unexpected stream identity: %+v", ev)
	}
	if ev.Target != "example.com:80" {
		t.Fatalf("unexpected target: %q", ev.Target)
	}
	port, err := ev.SourcePort()
	if err != nil {
		t.Fatalf("source port: %v", err)
	}
	if port != 5000 {
		t.Fatalf("unexpected source port: %d", port)
	}
}

func TestParseEventStreamWithoutSourceAddr(t *testing.T) {
	testlog.Start(t)

	ev, ok := ParseEvent("STREAM 13 NEW 0 example.com:80").(StreamEvent)
	if !ok {
		t.Fatalf("expected StreamEvent")
	}
	if _, err := ev.SourcePort(); !errors.Is(err, ErrNoSourceAddr) {
		t.Fatalf("expected ErrNoSourceAddr, got %v", err)
	}
}

func TestParseEventStreamBadSourceAddr(t *testing.T) {
	testlog.Start(t)

	ev := StreamEvent{ID: "14", Status: StreamNew, SourceAddr: "not-an-addr"}
	if _, err := ev.SourcePort(); err == nil {
		t.Fatalf("expected error for malformed source address")
	}
	ev.SourceAddr = "127.0.0.1:notaport"
	if _, err := ev.SourcePort(); err == nil {
		t.Fatalf("expected error for non-numeric port")
	}
}

func TestParseEventUnknownKinds(t *testing.T) {
	testlog.Start(t)

	ev, ok := ParseEvent("BW 1500 2000").(UnknownEvent)
	if !ok {
		t.Fatalf("expected UnknownEvent")
	}
	if ev.Kind != "BW" {
		t.Fatalf("unexpected kind: %q", ev.Kind)
	}
	if _, ok := ParseEvent("CIRC 9").(UnknownEvent); !ok {
		t.Fatalf("expected truncated CIRC line to be unknown")
	}
	if _, ok := ParseEvent("").(UnknownEvent); !ok {
		t.Fatalf("expected empty line to be unknown")
	}
}
