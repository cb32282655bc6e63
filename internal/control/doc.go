// Package control owns the routing-daemon control-port boundary.
//
// Ownership boundary:
// - typed circuit/stream events parsed from async notifications
// - command issuance (authenticate, subscribe, extend, attach)
// - serial event delivery to a single handler
//
// Control does not decide what happens to an event; that is the scan core's job.
package control
