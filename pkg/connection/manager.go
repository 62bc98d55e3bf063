package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Connection errors.
var (
	ErrManagerClosed    = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
)

// State is the manager's view of the link.
type State uint8

const (
	// StateDisconnected means no link and no retry pending.
	StateDisconnected State = iota

	// StateConnecting means a connect attempt is in flight.
	StateConnecting

	// StateConnected means the link is up.
	StateConnected

	// StateReconnecting means the link dropped and retries are running.
	StateReconnecting

	// StateClosed means the manager was shut down.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc dials and hands the link over to the caller's session.
// The generation identifies the session the link belongs to; every
// successful connect gets a fresh generation.
type ConnectFunc func(ctx context.Context, generation uint64) error

// Manager drives a single logical connection with automatic retry.
type Manager struct {
	mu sync.RWMutex

	state       State
	backoff     *Backoff
	connectFn   ConnectFunc
	auto        bool
	generation  atomic.Uint64
	loopStarted atomic.Bool

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	reconnectCh chan struct{}

	// connectTimeout bounds a single retry attempt.
	connectTimeout time.Duration

	onStateChange  func(oldState, newState State)
	onConnected    func(generation uint64)
	onDisconnected func()
	onRetry        func(attempt int, delay time.Duration)
}

// NewManager creates a connection manager around connectFn. Automatic
// reconnection is enabled by default.
func NewManager(connectFn ConnectFunc, backoff *Backoff) *Manager {
	if backoff == nil {
		backoff = NewBackoff(BackoffConfig{})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		state:          StateDisconnected,
		backoff:        backoff,
		connectFn:      connectFn,
		auto:           true,
		ctx:            ctx,
		cancel:         cancel,
		reconnectCh:    make(chan struct{}, 1),
		connectTimeout: 30 * time.Second,
	}
}

// State returns the current link state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether the link is up.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Generation returns the current session generation. It changes on
// every successful connect.
func (m *Manager) Generation() uint64 {
	return m.generation.Load()
}

// SetAutoReconnect enables or disables automatic retry after loss.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auto = enabled
}

// Connect performs the initial connect attempt and starts the retry
// loop for later losses.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		m.mu.Unlock()
		return ErrManagerClosed
	}
	old := m.state
	m.state = StateConnecting
	m.mu.Unlock()
	m.notifyState(old, StateConnecting)

	if m.loopStarted.CompareAndSwap(false, true) {
		m.wg.Add(1)
		go m.retryLoop()
	}

	gen := m.generation.Add(1)
	if err := m.connectFn(ctx, gen); err != nil {
		m.mu.Lock()
		auto := m.auto && m.state != StateClosed
		if auto {
			m.state = StateReconnecting
		} else {
			m.state = StateDisconnected
		}
		m.mu.Unlock()
		m.notifyState(StateConnecting, m.State())
		if auto {
			m.trigger()
		}
		return err
	}

	m.markConnected(StateConnecting, gen)
	return nil
}

// ConnectionLost tells the manager the link dropped. Retries start if
// automatic reconnection is enabled.
func (m *Manager) ConnectionLost() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	auto := m.auto
	if auto {
		m.state = StateReconnecting
	} else {
		m.state = StateDisconnected
	}
	next := m.state
	m.mu.Unlock()

	m.notifyState(StateConnected, next)
	if m.onDisconnected != nil {
		m.onDisconnected()
	}
	if auto {
		m.trigger()
	}
}

// Close shuts the manager down and stops all retries.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = StateClosed
	m.mu.Unlock()

	m.notifyState(old, StateClosed)
	m.cancel()
	m.wg.Wait()
}

// OnStateChange sets the state transition callback.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets the callback fired after every successful connect.
// The client resynchronizes its session here.
func (m *Manager) OnConnected(fn func(generation uint64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets the callback fired when the link drops.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnRetry sets the callback fired before each retry wait.
func (m *Manager) OnRetry(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRetry = fn
}

func (m *Manager) notifyState(old, next State) {
	m.mu.RLock()
	fn := m.onStateChange
	m.mu.RUnlock()
	if fn != nil && old != next {
		fn(old, next)
	}
}

func (m *Manager) markConnected(old State, gen uint64) {
	m.mu.Lock()
	m.state = StateConnected
	fn := m.onConnected
	m.mu.Unlock()
	m.backoff.Reset()

	m.notifyState(old, StateConnected)
	if fn != nil {
		fn(gen)
	}
}

func (m *Manager) trigger() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
	}
}

func (m *Manager) retryLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.retryUntilConnected()
		}
	}
}

func (m *Manager) retryUntilConnected() {
	for {
		switch m.State() {
		case StateClosed, StateConnected:
			return
		}

		delay := m.backoff.Next()
		m.mu.RLock()
		fn := m.onRetry
		m.mu.RUnlock()
		if fn != nil {
			fn(m.backoff.Attempts(), delay)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		if s := m.State(); s == StateClosed || s == StateConnected {
			return
		}

		gen := m.generation.Add(1)
		ctx, cancel := context.WithTimeout(m.ctx, m.connectTimeout)
		err := m.connectFn(ctx, gen)
		cancel()
		if err == nil {
			m.markConnected(StateReconnecting, gen)
			return
		}
	}
}
