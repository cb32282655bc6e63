package probe

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"golang.org/x/net/proxy"
)

var ErrNotWorker = errors.New("probe: worker environment not set")

// Worker is the module-side view of one isolated probe context. Every
// connection it dials is routed through the shared SOCKS endpoint carrying
// this worker's private circuit tag as credentials, and the local source port
// of the first successful connection is reported upstream exactly once.
type Worker struct {
	SocksAddr string
	CircuitID string

	dialer proxy.Dialer

	reportOnce sync.Once
	reportMu   sync.Mutex
	report     *os.File
}

// FromEnviron builds the Worker from the environment the isolation manager
// installed. Probing modules call this first; a plain process that was not
// launched by the manager gets ErrNotWorker.
func FromEnviron() (*Worker, error) {
	addr := os.Getenv(EnvSocksAddr)
	circuitID := os.Getenv(EnvCircuitID)
	if addr == "" || circuitID == "" {
		return nil, ErrNotWorker
	}

	fd := reportFD
	if raw := os.Getenv(EnvReportFD); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("probe: invalid report fd %q", raw)
		}
		fd = parsed
	}

	// The daemon isolates streams by SOCKS credentials; the circuit tag as
	// username keeps this worker's traffic on its own circuit.
	auth := &proxy.Auth{User: circuitID, Password: circuitID}
	dialer, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("probe: socks dialer: %w", err)
	}

	return &Worker{
		SocksAddr: addr,
		CircuitID: circuitID,
		dialer:    dialer,
		report:    os.NewFile(uintptr(fd), "probe-report"),
	}, nil
}

// Dial opens a connection through the worker's tagged route. The first
// successful dial reports its local source port upstream.
func (w *Worker) Dial(network, address string) (net.Conn, error) {
	conn, err := w.dialer.Dial(network, address)
	if err != nil {
		return nil, err
	}
	w.reportOnce.Do(func() { w.reportBound(conn.LocalAddr()) })
	return conn, nil
}

func (w *Worker) reportBound(addr net.Addr) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return
	}
	w.reportMu.Lock()
	defer w.reportMu.Unlock()
	if w.report == nil {
		return
	}
	fmt.Fprintf(w.report, "%d\n", tcp.Port)
	w.report.Close()
	w.report = nil
}

// Close releases the report pipe. Closing without ever dialing tells the
// manager this worker will not report.
func (w *Worker) Close() error {
	w.reportMu.Lock()
	defer w.reportMu.Unlock()
	if w.report == nil {
		return nil
	}
	err := w.report.Close()
	w.report = nil
	return err
}
