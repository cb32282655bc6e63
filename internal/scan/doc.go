// Package scan owns the event-handling core of an exit-relay scan.
//
// Ownership boundary:
// - dispatching daemon events to the circuit and stream trackers
// - rendezvous of stream events with worker correlation reports
// - aggregate counters and completion detection
//
// Scan does not talk to the daemon and does not spawn workers; it drives the
// control attacher and the probe launcher through narrow interfaces.
//
// Two threads of control touch this package: the dispatcher (serial daemon
// events) and the correlation queue consumer. The resolver is the only state
// they share and is locked accordingly.
package scan
