package rpc

import (
	"context"
	"errors"
	"sync"
	"time"
)

// RPC errors surfaced to callers of Call.
var (
	// ErrTimeout means no response arrived within the caller's
	// timeout.
	ErrTimeout = errors.New("rpc timeout")

	// ErrDisconnected means the session owning the call closed while
	// the call was pending.
	ErrDisconnected = errors.New("rpc session disconnected")

	// ErrHandler means the server-side handler failed.
	ErrHandler = errors.New("rpc handler error")

	// ErrNoHandler means the target topic has no registered handler.
	ErrNoHandler = errors.New("no rpc handler for topic")
)

// DefaultCallTimeout bounds a call when the caller does not supply a
// timeout.
const DefaultCallTimeout = 5 * time.Second

// Handler services calls on one RPC-capable topic. Params and result
// are opaque blobs; interpretation belongs to the application.
type Handler func(params []byte) ([]byte, error)

// result is the terminal state of one pending call.
type result struct {
	data []byte
	err  error
}

// pendingKey identifies a call within the tracker.
type pendingKey struct {
	session string
	callID  uint16
}

// Tracker matches responses to pending calls. One tracker serves a
// whole engine instance; calls are scoped to the session that issued
// them. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	nextID  uint16
	pending map[pendingKey]chan result
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{pending: make(map[pendingKey]chan result)}
}

// Call registers a pending call, invokes send with the assigned call
// id, and blocks until a response, the timeout, context cancellation,
// or session teardown. A timeout of zero uses DefaultCallTimeout.
func (t *Tracker) Call(ctx context.Context, sessionID string, timeout time.Duration, send func(callID uint16) error) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	key, ch := t.register(sessionID)

	if err := send(key.callID); err != nil {
		t.remove(key)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.data, res.err
	case <-timer.C:
		t.remove(key)
		return nil, ErrTimeout
	case <-ctx.Done():
		t.remove(key)
		return nil, ctx.Err()
	}
}

// Resolve completes a pending call with a response payload. Unmatched
// responses (late, or for a cancelled call) are dropped.
func (t *Tracker) Resolve(sessionID string, callID uint16, data []byte) {
	t.finish(pendingKey{session: sessionID, callID: callID}, result{data: data})
}

// Fail completes a pending call with an error.
func (t *Tracker) Fail(sessionID string, callID uint16, err error) {
	t.finish(pendingKey{session: sessionID, callID: callID}, result{err: err})
}

// CancelSession resolves every pending call owned by a closing session
// to ErrDisconnected.
func (t *Tracker) CancelSession(sessionID string) {
	t.mu.Lock()
	var channels []chan result
	for key, ch := range t.pending {
		if key.session == sessionID {
			channels = append(channels, ch)
			delete(t.pending, key)
		}
	}
	t.mu.Unlock()

	for _, ch := range channels {
		ch <- result{err: ErrDisconnected}
	}
}

// PendingCount returns the number of in-flight calls, across all
// sessions.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) register(sessionID string) (pendingKey, chan result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Find a free id; uint16 wraparound with few in-flight calls
	// terminates quickly.
	for {
		t.nextID++
		key := pendingKey{session: sessionID, callID: t.nextID}
		if _, taken := t.pending[key]; !taken {
			ch := make(chan result, 1)
			t.pending[key] = ch
			return key, ch
		}
	}
}

func (t *Tracker) remove(key pendingKey) {
	t.mu.Lock()
	delete(t.pending, key)
	t.mu.Unlock()
}

func (t *Tracker) finish(key pendingKey, res result) {
	t.mu.Lock()
	ch, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}
	t.mu.Unlock()

	if ok {
		ch <- res
	}
}

// Handlers is the server-side registry of RPC handlers by topic id.
// Safe for concurrent use.
type Handlers struct {
	mu       sync.RWMutex
	handlers map[int32]Handler
}

// NewHandlers creates an empty handler registry.
func NewHandlers() *Handlers {
	return &Handlers{handlers: make(map[int32]Handler)}
}

// Register installs the handler for a topic id, replacing any previous
// one.
func (h *Handlers) Register(topicID int32, handler Handler) {
	h.mu.Lock()
	h.handlers[topicID] = handler
	h.mu.Unlock()
}

// Unregister removes a topic's handler (topic unannounced).
func (h *Handlers) Unregister(topicID int32) {
	h.mu.Lock()
	delete(h.handlers, topicID)
	h.mu.Unlock()
}

// Invoke runs the handler for a topic. Handler failures are wrapped in
// ErrHandler.
func (h *Handlers) Invoke(topicID int32, params []byte) ([]byte, error) {
	h.mu.RLock()
	handler, ok := h.handlers[topicID]
	h.mu.RUnlock()

	if !ok {
		return nil, ErrNoHandler
	}
	data, err := handler(params)
	if err != nil {
		return nil, errors.Join(ErrHandler, err)
	}
	return data, nil
}
