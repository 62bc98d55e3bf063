// Package server is the engine's server side: it owns the canonical
// topic registry and value store, accepts v3 (TCP) and v4 (WebSocket)
// sessions, and fans announcements and value updates out to
// subscribers.
//
// # Architecture
//
// One Engine serves any mix of protocol versions at once. The registry
// assigns topic ids; the store resolves write conflicts by timestamp;
// the subscription table coalesces updates per subscriber. Each
// session owns a bounded outbound queue so one slow consumer cannot
// stall the engine: value notifications are latest-only per topic,
// while announcements are never dropped. A session that cannot drain
// its announcements is disconnected.
//
// v3 sessions see the registry through the entry model: topics become
// entries with 16-bit ids and RFC 1982 sequence numbers, values travel
// inside EntryAssign/EntryUpdate, and the persistent property maps to
// the v3 flags byte. v4 sessions see the native model: JSON control
// frames for the topic lifecycle and MessagePack data frames for
// values.
package server
