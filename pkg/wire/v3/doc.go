// Package v3 implements the NetworkTables v3 binary wire format.
//
// v3 runs over a plain TCP stream. Every message is a 1-byte opcode
// followed by an opcode-specific payload. All integers are big-endian;
// strings and raw blobs are uint16-length-prefixed; arrays carry a
// 1-byte element count.
//
// # Handshake
//
//	client: ClientHello{protoRev, identity}
//	server: ServerHello{flags, identity}
//	server: EntryAssign for every known entry
//	server: ServerHelloComplete
//	client: EntryAssign for entries the server did not list
//	client: ClientHelloComplete
//
// # Decoding discipline
//
// Decoding produces an immutable Message and never touches engine
// state; application happens in a later stage. An unknown opcode or
// value type tag yields ErrUnknownOpcode / ErrUnknownType so the caller
// can decide between forward-compat skip and session teardown.
package v3
