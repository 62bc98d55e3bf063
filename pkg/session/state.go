package session

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition indicates a state change the machine forbids.
var ErrInvalidTransition = errors.New("invalid session state transition")

// State is a session's lifecycle state.
type State uint8

const (
	// StateConnecting means the transport is up but no hello has been
	// read yet.
	StateConnecting State = iota

	// StateVersionNegotiated means the first hello frame was read and
	// the protocol version fixed.
	StateVersionNegotiated

	// StateHandshakeComplete means the registry snapshot exchange
	// finished.
	StateHandshakeComplete

	// StateActive means the session processes inbound messages and
	// may emit outbound ones.
	StateActive

	// StateClosing means teardown has begun; in-flight work scoped to
	// the session is being discarded.
	StateClosing

	// StateClosed is terminal. The engine retains no session history
	// past this point.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateVersionNegotiated:
		return "VERSION_NEGOTIATED"
	case StateHandshakeComplete:
		return "HANDSHAKE_COMPLETE"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Version is the negotiated protocol version.
type Version uint8

const (
	// VersionUnknown means negotiation has not happened yet.
	VersionUnknown Version = 0
	Version3       Version = 3
	Version4       Version = 4
)

// Role marks which end of the connection this session is.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

// String returns the role name.
func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// Machine is a session's state machine. Safe for concurrent use.
type Machine struct {
	mu      sync.RWMutex
	state   State
	version Version
	reason  string

	onTransition func(old, new State)
}

// NewMachine returns a machine in StateConnecting.
func NewMachine() *Machine {
	return &Machine{state: StateConnecting}
}

// SetTransitionCallback installs a transition observer. The callback
// runs on the transitioning goroutine with the lock released.
func (m *Machine) SetTransitionCallback(cb func(old, new State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = cb
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Version returns the negotiated protocol version.
func (m *Machine) Version() Version {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// CloseReason returns the recorded reason once the machine has left
// StateActive, empty otherwise.
func (m *Machine) CloseReason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

// NegotiateVersion records the successful read of the first hello.
func (m *Machine) NegotiateVersion(v Version) error {
	return m.transition(StateConnecting, StateVersionNegotiated, func() {
		m.version = v
	})
}

// CompleteHandshake records the end of the snapshot exchange.
func (m *Machine) CompleteHandshake() error {
	return m.transition(StateVersionNegotiated, StateHandshakeComplete, nil)
}

// Activate promotes a completed handshake. Promotion is immediate in
// the protocol; this exists so observers see the distinct transition.
func (m *Machine) Activate() error {
	return m.transition(StateHandshakeComplete, StateActive, nil)
}

// BeginClose starts teardown from any non-terminal state, recording
// the reason. Calling it on a closing or closed machine is a no-op so
// racing error paths do not trample the first recorded reason.
func (m *Machine) BeginClose(reason string) {
	m.mu.Lock()
	if m.state == StateClosing || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = StateClosing
	m.reason = reason
	cb := m.onTransition
	m.mu.Unlock()

	if cb != nil {
		cb(old, StateClosing)
	}
}

// Close finishes teardown. A machine that never began closing records
// the reason here (the malformed-hello path goes straight to Closed).
func (m *Machine) Close(reason string) {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = StateClosed
	if m.reason == "" {
		m.reason = reason
	}
	cb := m.onTransition
	m.mu.Unlock()

	if cb != nil {
		cb(old, StateClosed)
	}
}

func (m *Machine) transition(from, to State, apply func()) error {
	m.mu.Lock()
	if m.state != from {
		cur := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s (current %s)", ErrInvalidTransition, from, to, cur)
	}
	m.state = to
	if apply != nil {
		apply()
	}
	cb := m.onTransition
	m.mu.Unlock()

	if cb != nil {
		cb(from, to)
	}
	return nil
}
