package client

import (
	"sync"

	"github.com/lagan-protocol/lagan-go/pkg/nt"
)

// Publisher is a handle for writing values to one topic.
type Publisher struct {
	client *Client
	name   string
	typ    nt.ValueType
	props  nt.Properties
	pubuid int32

	mu      sync.Mutex
	topicID int32 // -1 until the server's announce arrives
	pending *nt.Value
	closed  bool
}

// Name returns the topic name this publisher writes to.
func (p *Publisher) Name() string { return p.name }

// Type returns the declared value type.
func (p *Publisher) Type() nt.ValueType { return p.typ }

// Set sends a value. On v4, before the server has announced the topic
// the value is held and sent once the announcement arrives; a second
// Set in that window replaces the held value. On v3 the first value
// itself creates the entry.
func (p *Publisher) Set(value nt.Value) error {
	if value.Time == 0 {
		value.Time = p.client.clock.Now()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	l, err := p.client.currentLink()
	if err != nil {
		return err
	}
	return l.sendValue(p, value)
}

// Unpublish releases the publisher. The topic is retracted on the
// server unless other publishers or retention keep it alive.
func (p *Publisher) Unpublish() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	c := p.client
	c.mu.Lock()
	delete(c.pubs, p.pubuid)
	l := c.link
	c.mu.Unlock()

	if l == nil {
		return nil
	}
	return l.sendUnpublish(p)
}

// setTopicID resolves the server-assigned topic id.
func (p *Publisher) setTopicID(id int32) {
	p.mu.Lock()
	p.topicID = id
	p.mu.Unlock()
}

// currentTopicID returns the resolved topic id, or -1 while the
// announce is still in flight.
func (p *Publisher) currentTopicID() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.topicID
}

// storePending holds a value until the topic id resolves, replacing
// any value already held.
func (p *Publisher) storePending(value nt.Value) {
	p.mu.Lock()
	p.pending = &value
	p.mu.Unlock()
}

// reset forgets connection-scoped state so the publisher can be
// replayed into a fresh session.
func (p *Publisher) reset() {
	p.mu.Lock()
	p.topicID = -1
	p.mu.Unlock()
}

// flushPending sends the value held while the announce was in flight.
func (p *Publisher) flushPending() {
	p.mu.Lock()
	if p.pending == nil || p.topicID < 0 {
		p.mu.Unlock()
		return
	}
	value := *p.pending
	p.pending = nil
	p.mu.Unlock()

	if l, err := p.client.currentLink(); err == nil {
		_ = l.sendValue(p, value)
	}
}

// Subscriber is a handle for one subscription.
type Subscriber struct {
	client   *Client
	subuid   int32
	patterns []string
	opts     nt.SubscribeOptions
	callback func(Update)
}

// Options returns the subscription options in effect.
func (s *Subscriber) Options() nt.SubscribeOptions { return s.opts }

// Unsubscribe cancels the subscription.
func (s *Subscriber) Unsubscribe() error {
	c := s.client
	c.mu.Lock()
	if _, ok := c.subs[s.subuid]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, s.subuid)
	l := c.link
	c.mu.Unlock()

	if l == nil {
		return nil
	}
	return l.sendUnsubscribe(s)
}

func (s *Subscriber) matches(name string) bool {
	return matchesPattern(s.patterns, s.opts.Prefix, name)
}
