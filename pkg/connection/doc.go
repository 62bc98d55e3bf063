// Package connection manages client connection lifecycle: exponential
// backoff between attempts and automatic reconnection.
//
// A reconnected link is a brand new session. The protocol carries no
// session resumption, so the manager bumps a generation counter on
// every successful connect and the client resynchronizes from scratch:
// it republishes its topics, renews its subscriptions, and waits for
// the server's announcement snapshot.
package connection
