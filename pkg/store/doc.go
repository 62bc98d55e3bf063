// Package store implements the value store: the latest typed value and
// timestamp per topic, with the protocol's conflict resolution rule.
//
// # Conflict resolution
//
// A write is applied iff one of:
//   - its timestamp is strictly newer than the stored value's,
//   - the topic has no stored value yet,
//   - it comes from the same connection as the stored value (a
//     publisher may rewrite its own value regardless of timestamps,
//     correcting a stale clock).
//
// Anything else is rejected with nt.ErrRejected. A write whose type
// differs from the topic's assigned type is rejected with
// nt.ErrTypeConflict and never applied.
//
// # Concurrency
//
// Each topic has its own lock; writes to different topics proceed in
// parallel while writes to one topic are strictly serialized. The
// write hook runs under the topic's lock, so dispatch for a topic
// observes accepted writes in application order. Hooks must not write
// back into the same topic.
package store
