package probe

// Environment contract between the isolation manager and a probe worker. The
// report pipe is inherited as an extra file descriptor; its number is passed
// explicitly so the worker never guesses.
const (
	EnvSocksAddr = "PROBE_SOCKS_ADDR"
	EnvCircuitID = "PROBE_CIRCUIT_ID"
	EnvReportFD  = "PROBE_REPORT_FD"

	reportFD = 3
)

// Shim is the proxy-routing collaborator: it produces the outbound-routing
// configuration for one worker and restores default behavior when the scan
// ends.
type Shim interface {
	// Environ returns the environment entries tagging one worker's outbound
	// connections with circuitID. Each call is private to one worker.
	Environ(circuitID string) []string
	// Restore undoes any process-wide routing override.
	Restore() error
}

// SocksShim routes each worker through a local SOCKS5 endpoint, carrying the
// circuit tag as the worker's SOCKS credentials.
type SocksShim struct {
	Addr string
}

func (s SocksShim) Environ(circuitID string) []string {
	return []string{
		EnvSocksAddr + "=" + s.Addr,
		EnvCircuitID + "=" + circuitID,
	}
}

// Restore is a no-op: per-worker environments leave no process-wide routing
// state behind.
func (s SocksShim) Restore() error {
	return nil
}
