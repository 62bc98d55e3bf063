package server

import (
	"errors"
	"sync"
)

// DefaultQueueSize is the per-session outbound queue depth.
const DefaultQueueSize = 1024

// ErrQueueOverflow means a session's outbound queue filled with
// undroppable messages. The session must be disconnected; silently
// losing an announcement would desynchronize the peer forever.
var ErrQueueOverflow = errors.New("outbound queue overflow")

// outMsg is one queued outbound message. Control messages carry the
// prepared protocol message; value messages carry the topic id so a
// newer value can overwrite them in place.
type outMsg struct {
	payload any
	topicID int32
	isValue bool
}

// sendQueue is a session's bounded outbound queue. Values are
// latest-only per topic: a queued value for a topic is overwritten by
// a newer one instead of growing the queue.
type sendQueue struct {
	mu       sync.Mutex
	items    []outMsg
	valuePos map[int32]int // topic id -> index in items
	capacity int
	notify   chan struct{}
	closed   bool
}

func newSendQueue(capacity int) *sendQueue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &sendQueue{
		valuePos: make(map[int32]int),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// PushControl enqueues an undroppable message.
func (q *sendQueue) PushControl(payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	if len(q.items) >= q.capacity {
		return ErrQueueOverflow
	}
	q.items = append(q.items, outMsg{payload: payload})
	q.wake()
	return nil
}

// PushValue enqueues a value notification, overwriting any queued
// value for the same topic. When the queue is full, the oldest queued
// value is evicted to make room; if every queued message is control,
// the overflow is fatal.
func (q *sendQueue) PushValue(topicID int32, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}

	if pos, ok := q.valuePos[topicID]; ok {
		q.items[pos].payload = payload
		q.wake()
		return nil
	}

	if len(q.items) >= q.capacity {
		if !q.evictOldestValue() {
			return ErrQueueOverflow
		}
	}

	q.valuePos[topicID] = len(q.items)
	q.items = append(q.items, outMsg{payload: payload, topicID: topicID, isValue: true})
	q.wake()
	return nil
}

func (q *sendQueue) evictOldestValue() bool {
	for i, item := range q.items {
		if item.isValue {
			q.removeAt(i)
			return true
		}
	}
	return false
}

func (q *sendQueue) removeAt(i int) {
	removed := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	if removed.isValue {
		delete(q.valuePos, removed.topicID)
	}
	for id, pos := range q.valuePos {
		if pos > i {
			q.valuePos[id] = pos - 1
		}
	}
}

// Drain returns and clears everything queued, in order.
func (q *sendQueue) Drain() []outMsg {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	clear(q.valuePos)
	return out
}

// Wait returns a channel that receives after new messages arrive.
func (q *sendQueue) Wait() <-chan struct{} {
	return q.notify
}

// Close makes further pushes no-ops and wakes any waiter.
func (q *sendQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wake()
}

// Closed reports whether Close was called.
func (q *sendQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued messages.
func (q *sendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *sendQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
