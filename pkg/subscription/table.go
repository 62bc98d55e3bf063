package subscription

import (
	"errors"
	"sync"
	"time"

	"github.com/lagan-protocol/lagan-go/pkg/nt"
)

// ErrNotFound indicates an unknown (session, subuid) pair.
var ErrNotFound = errors.New("subscription not found")

// Table is the engine's subscription table, shared by all sessions.
type Table struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]*Subscription
	session map[string]map[int32]uint64 // sessionID -> subuid -> id
}

// NewTable creates an empty subscription table.
func NewTable() *Table {
	return &Table{
		subs:    make(map[uint64]*Subscription),
		session: make(map[string]map[int32]uint64),
	}
}

// Subscribe registers a subscription for a session. A repeated subuid
// from the same session replaces the previous subscription (v4 lets
// clients update a subscription in place).
func (t *Table) Subscribe(sessionID string, subuid int32, patterns []string, opts nt.SubscribeOptions) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	if byUID, ok := t.session[sessionID]; ok {
		if old, exists := byUID[subuid]; exists {
			delete(t.subs, old)
		}
	} else {
		t.session[sessionID] = make(map[int32]uint64)
	}

	t.nextID++
	sub := newSubscription(t.nextID, sessionID, subuid, patterns, opts)
	t.subs[sub.ID] = sub
	t.session[sessionID][subuid] = sub.ID
	return sub
}

// Unsubscribe removes one subscription.
func (t *Table) Unsubscribe(sessionID string, subuid int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	byUID, ok := t.session[sessionID]
	if !ok {
		return ErrNotFound
	}
	id, ok := byUID[subuid]
	if !ok {
		return ErrNotFound
	}
	delete(byUID, subuid)
	delete(t.subs, id)
	if len(byUID) == 0 {
		delete(t.session, sessionID)
	}
	return nil
}

// RemoveSession tears down every subscription owned by a closing
// session.
func (t *Table) RemoveSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byUID, ok := t.session[sessionID]
	if !ok {
		return
	}
	for _, id := range byUID {
		delete(t.subs, id)
	}
	delete(t.session, sessionID)
}

// Match returns the subscriptions covering the topic name, excluding
// the writer's own session unless a subscription opted into echo.
func (t *Table) Match(name, writerSession string) []*Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Subscription
	for _, sub := range t.subs {
		if sub.SessionID == writerSession && !sub.Options.Echo {
			continue
		}
		if sub.Matches(name) {
			out = append(out, sub)
		}
	}
	return out
}

// Record records an accepted write on every matching subscription.
func (t *Table) Record(u Update, writerSession string) {
	for _, sub := range t.Match(u.Name, writerSession) {
		sub.Record(u)
	}
}

// Due returns the subscriptions whose flush interval has elapsed.
func (t *Table) Due(now time.Time) []*Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Subscription
	for _, sub := range t.subs {
		if sub.Due(now) {
			out = append(out, sub)
		}
	}
	return out
}

// ForSession returns a session's subscriptions (for resync after
// reconnect).
func (t *Table) ForSession(sessionID string) []*Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Subscription
	for _, id := range t.session[sessionID] {
		out = append(out, t.subs[id])
	}
	return out
}

// Len returns the number of live subscriptions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}
