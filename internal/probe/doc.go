// Package probe owns worker isolation.
//
// Ownership boundary:
// - spawning one probing-module process per built circuit
// - per-worker routing configuration (the circuit tag travels in the worker's
//   environment, never in process-global state)
// - forwarding each worker's bound-port report onto the correlation queue
//
// The worker side of the contract lives here too: FromEnviron gives a probing
// module a tagged SOCKS dialer that reports its first bound source port.
package probe
