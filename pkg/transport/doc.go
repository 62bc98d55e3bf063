// Package transport provides the byte-stream and message-stream
// transports the engine runs on: plain TCP for the v3 protocol and
// WebSocket for v4.
//
// The engine consumes transports as abstractions: a v3 session reads a
// self-delimiting byte stream, a v4 session reads typed frames (text
// control frames, binary data frames). TLS and socket tuning live with
// the embedding application, outside this package.
package transport
