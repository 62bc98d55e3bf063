// Package subscription implements the subscription table and the
// dispatch-side coalescing of value updates.
//
// A subscription is a session's standing request for topics matching a
// pattern set: exact names, or name prefixes when the prefix option is
// set. On every accepted write the engine asks the table for matching
// subscriptions, excluding the writer's own session unless the
// subscription opted into echo.
//
// # Coalescing
//
// Matched updates are recorded per subscription and flushed on the
// subscription's periodic interval. Latest-only subscriptions keep one
// pending value per topic (intermediate writes collapse); send-all
// subscriptions queue every update. Per (session, topic) the flushed
// order is monotonic in timestamp; across topics there is no ordering
// guarantee.
//
// Subscriptions do not survive their session: the table drops them all
// when the session closes.
package subscription
