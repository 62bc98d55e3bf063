// Package session provides the per-connection state machine and the
// heartbeat monitor shared by the client and server engines.
//
// # Lifecycle
//
//	Connecting -> VersionNegotiated -> HandshakeComplete -> Active
//	                                         any state -> Closing -> Closed
//
// Version negotiation happens on the first inbound hello: the v3
// protocol byte or the v4 WebSocket upgrade. A malformed hello or an
// unsupported version moves the session straight to Closed with a
// recorded reason. HandshakeComplete follows the registry snapshot
// exchange and promotes to Active immediately.
//
// A reconnect is a brand new session: nothing survives Closed. The
// engine re-runs the full handshake and the server re-sends its whole
// topic and value snapshot (reconciliation instead of delta replay).
package session
