package subscription

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lagan-protocol/lagan-go/pkg/nt"
)

// Update is one value notification owed to a subscriber.
type Update struct {
	TopicID int32
	Name    string
	Value   nt.Value
}

// Subscription is one session's standing request for matching topics.
type Subscription struct {
	// ID is the engine-local unique id.
	ID uint64

	// SessionID owns the subscription.
	SessionID string

	// SubUID is the wire-level id chosen by the subscriber (v4
	// subuid; synthesized for v3 sessions).
	SubUID int32

	// Patterns are exact names, or prefixes when Options.Prefix.
	Patterns []string

	Options nt.SubscribeOptions

	mu        sync.Mutex
	latest    map[int32]Update // latest-only pending, by topic
	queue     []Update         // send-all pending, in arrival order
	lastFlush time.Time
}

// newSubscription builds a subscription with defaulted options.
func newSubscription(id uint64, sessionID string, subuid int32, patterns []string, opts nt.SubscribeOptions) *Subscription {
	return &Subscription{
		ID:        id,
		SessionID: sessionID,
		SubUID:    subuid,
		Patterns:  append([]string(nil), patterns...),
		Options:   opts.ApplyDefaults(),
		latest:    make(map[int32]Update),
		lastFlush: time.Now(),
	}
}

// Matches reports whether the subscription covers the topic name.
func (s *Subscription) Matches(name string) bool {
	for _, p := range s.Patterns {
		if s.Options.Prefix {
			if strings.HasPrefix(name, p) {
				return true
			}
		} else if name == p {
			return true
		}
	}
	return false
}

// Record stores a matched update for the next flush. Latest-only
// subscriptions collapse intermediate values per topic.
func (s *Subscription) Record(u Update) {
	if s.Options.TopicsOnly {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Options.All {
		s.queue = append(s.queue, u)
		return
	}
	s.latest[u.TopicID] = u
}

// Due reports whether the periodic interval has elapsed and there is
// something to send.
func (s *Subscription) Due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latest) == 0 && len(s.queue) == 0 {
		return false
	}
	return now.Sub(s.lastFlush) >= s.Options.Periodic
}

// Drain returns and clears the pending updates. Latest-only pending is
// ordered by topic id so per-topic monotonicity is preserved and the
// output is deterministic.
func (s *Subscription) Drain(now time.Time) []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFlush = now

	if s.Options.All {
		out := s.queue
		s.queue = nil
		return out
	}

	if len(s.latest) == 0 {
		return nil
	}
	out := make([]Update, 0, len(s.latest))
	for _, u := range s.latest {
		out = append(out, u)
	}
	clear(s.latest)
	sort.Slice(out, func(i, j int) bool { return out[i].TopicID < out[j].TopicID })
	return out
}
