package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalLifecycle(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, StateConnecting, m.State())

	require.NoError(t, m.NegotiateVersion(Version4))
	assert.Equal(t, StateVersionNegotiated, m.State())
	assert.Equal(t, Version4, m.Version())

	require.NoError(t, m.CompleteHandshake())
	require.NoError(t, m.Activate())
	assert.Equal(t, StateActive, m.State())

	m.BeginClose("transport error")
	assert.Equal(t, StateClosing, m.State())
	m.Close("")
	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, "transport error", m.CloseReason())
}

func TestMalformedHelloGoesStraightToClosed(t *testing.T) {
	m := NewMachine()
	m.Close("malformed hello")
	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, "malformed hello", m.CloseReason())
}

func TestInvalidTransitions(t *testing.T) {
	m := NewMachine()
	assert.ErrorIs(t, m.CompleteHandshake(), ErrInvalidTransition)
	assert.ErrorIs(t, m.Activate(), ErrInvalidTransition)

	require.NoError(t, m.NegotiateVersion(Version3))
	assert.ErrorIs(t, m.NegotiateVersion(Version3), ErrInvalidTransition)
}

func TestBeginCloseKeepsFirstReason(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.NegotiateVersion(Version3))

	m.BeginClose("heartbeat timeout")
	m.BeginClose("read error") // racing error path, ignored
	m.Close("late reason")

	assert.Equal(t, "heartbeat timeout", m.CloseReason())
}

func TestTransitionCallback(t *testing.T) {
	m := NewMachine()
	var transitions []State
	m.SetTransitionCallback(func(old, new State) {
		transitions = append(transitions, new)
	})

	require.NoError(t, m.NegotiateVersion(Version4))
	require.NoError(t, m.CompleteHandshake())
	require.NoError(t, m.Activate())
	m.BeginClose("done")
	m.Close("")

	assert.Equal(t, []State{
		StateVersionNegotiated,
		StateHandshakeComplete,
		StateActive,
		StateClosing,
		StateClosed,
	}, transitions)
}

func TestCloseIdempotent(t *testing.T) {
	m := NewMachine()
	var count atomic.Int32
	m.SetTransitionCallback(func(old, new State) {
		if new == StateClosed {
			count.Add(1)
		}
	})
	m.Close("first")
	m.Close("second")
	assert.Equal(t, int32(1), count.Load())
	assert.Equal(t, "first", m.CloseReason())
}

func TestHeartbeatTimeout(t *testing.T) {
	timedOut := make(chan struct{})
	h := NewHeartbeat(HeartbeatConfig{Interval: 10 * time.Millisecond, MissLimit: 3},
		nil,
		func() { close(timedOut) })

	h.Start(context.Background())
	defer h.Stop()

	select {
	case <-timedOut:
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not time out")
	}
}

func TestHeartbeatTouchPreventsTimeout(t *testing.T) {
	var timedOut atomic.Bool
	h := NewHeartbeat(HeartbeatConfig{Interval: 20 * time.Millisecond, MissLimit: 3},
		nil,
		func() { timedOut.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	for range 10 {
		time.Sleep(10 * time.Millisecond)
		h.Touch()
	}
	h.Stop()
	assert.False(t, timedOut.Load())
}

func TestHeartbeatSendsKeepAlives(t *testing.T) {
	var sent atomic.Int32
	h := NewHeartbeat(HeartbeatConfig{Interval: 10 * time.Millisecond, MissLimit: 100},
		func() error { sent.Add(1); return nil },
		nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	assert.Eventually(t, func() bool { return sent.Load() >= 2 },
		time.Second, 5*time.Millisecond)
	h.Stop()
}

func TestHeartbeatDefaults(t *testing.T) {
	cfg := DefaultHeartbeatConfig()
	assert.Equal(t, DefaultHeartbeatInterval, cfg.Interval)
	assert.Equal(t, DefaultMissLimit, cfg.MissLimit)

	h := NewHeartbeat(HeartbeatConfig{}, nil, nil)
	assert.Equal(t, DefaultHeartbeatInterval, h.config.Interval)
}
