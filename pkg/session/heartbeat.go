package session

import (
	"context"
	"sync"
	"time"
)

// Heartbeat defaults. Three idle intervals close the session, so the
// default detection delay is 4.5s, within the protocol's ~5s budget.
const (
	DefaultHeartbeatInterval = 1500 * time.Millisecond
	DefaultMissLimit         = 3
)

// HeartbeatConfig configures liveness monitoring for one session.
type HeartbeatConfig struct {
	// Interval between liveness checks and outbound keep-alives.
	Interval time.Duration

	// MissLimit is how many consecutive idle intervals are tolerated
	// before the session is declared dead.
	MissLimit int
}

// DefaultHeartbeatConfig returns the protocol defaults.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:  DefaultHeartbeatInterval,
		MissLimit: DefaultMissLimit,
	}
}

// Heartbeat watches a session's inbound traffic. Each interval without
// any traffic counts as a miss; MissLimit consecutive misses fire the
// timeout callback. Any inbound message (keep-alives included) resets
// the count via Touch.
type Heartbeat struct {
	config HeartbeatConfig

	// sendKeepAlive emits the protocol's keep-alive (v3 KeepAlive
	// message, v4 WebSocket ping). Optional.
	sendKeepAlive func() error

	// onTimeout fires once when the miss limit is reached.
	onTimeout func()

	mu       sync.Mutex
	lastSeen time.Time
	missed   int
	running  bool
	stopCh   chan struct{}
}

// NewHeartbeat creates a heartbeat monitor.
func NewHeartbeat(config HeartbeatConfig, sendKeepAlive func() error, onTimeout func()) *Heartbeat {
	if config.Interval <= 0 {
		config.Interval = DefaultHeartbeatInterval
	}
	if config.MissLimit <= 0 {
		config.MissLimit = DefaultMissLimit
	}
	return &Heartbeat{
		config:        config,
		sendKeepAlive: sendKeepAlive,
		onTimeout:     onTimeout,
		lastSeen:      time.Now(),
		stopCh:        make(chan struct{}),
	}
}

// Touch records inbound traffic, resetting the miss count.
func (h *Heartbeat) Touch() {
	h.mu.Lock()
	h.lastSeen = time.Now()
	h.missed = 0
	h.mu.Unlock()
}

// LastSeen returns the time of the most recent inbound traffic.
func (h *Heartbeat) LastSeen() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSeen
}

// Start runs the monitor loop until Stop or context cancellation.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.loop(ctx)
}

// Stop halts the monitor. Idempotent.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
}

func (h *Heartbeat) loop(ctx context.Context) {
	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case now := <-ticker.C:
			if h.check(now) {
				return
			}
		}
	}
}

// check returns true when the session timed out and the loop should
// exit.
func (h *Heartbeat) check(now time.Time) bool {
	h.mu.Lock()
	idle := now.Sub(h.lastSeen) >= h.config.Interval
	if idle {
		h.missed++
	}
	missed := h.missed
	h.mu.Unlock()

	if missed >= h.config.MissLimit {
		if h.onTimeout != nil {
			h.onTimeout()
		}
		return true
	}

	if h.sendKeepAlive != nil {
		// Send failures surface through the reader side; the
		// monitor only tracks inbound liveness.
		_ = h.sendKeepAlive()
	}
	return false
}
