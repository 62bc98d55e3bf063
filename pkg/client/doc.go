// Package client is the engine's client side. A Client connects to a
// server over v3 (TCP) or v4 (WebSocket), mirrors the server's topic
// registry into a local cache, and exposes Publisher and Subscriber
// handles for writing and watching values.
//
// The client never trusts its cache across a connection loss: on
// reconnect it starts a fresh session, republishes its publishers,
// renews its subscriptions, and rebuilds the cache from the server's
// snapshot. v4 sessions additionally run the timestamp sync exchange
// so locally stamped values land in server time.
package client
