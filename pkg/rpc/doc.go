// Package rpc implements request/response calls layered on RPC-capable
// topics.
//
// A call sends a frame tagged with a locally-unique call id; the
// responder echoes the id and the tracker resolves the matching
// pending call. Calls that see no response within the caller's timeout
// resolve to ErrTimeout. A session closing resolves every pending call
// it owns to ErrDisconnected; teardown of one session never touches
// calls owned by others.
//
// RPC frames exist on the wire only in the v3 protocol (RPCExecute /
// RPCResponse); v4 removed them, matching the original protocol. The
// tracker itself is transport-agnostic.
package rpc
