// Package nt defines the core NetworkTables data model shared by every
// layer of the engine: typed values, monotonic microsecond timestamps,
// topic properties, and publish/subscribe options.
//
// # Values
//
// A Value is a closed tagged union over the NetworkTables type set.
// The Type field selects which payload field is meaningful; codecs and
// the value store switch exhaustively over it. The v3 protocol supports
// the boolean/double/string/raw types and their arrays; v4 adds int and
// float. Constructing a Value through the typed constructors is the only
// supported way to obtain a well-formed one.
//
// # Timestamps
//
// Timestamps are monotonic microseconds from an instance-scoped Clock.
// There are no process-wide clocks: every engine instance owns its own
// Clock so that multiple independent instances can coexist in one
// process (for example many simulated robots). Clients adjust their
// clock by an offset learned from the server's timestamp sync exchange.
//
// # Properties
//
// Topic properties are a string-keyed map of JSON-compatible values.
// The well-known keys are "persistent", "retained" and "cached". A
// property patch applies key by key; a nil value deletes the key.
package nt
