package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueValueCoalescing(t *testing.T) {
	q := newSendQueue(8)

	require.NoError(t, q.PushValue(1, "a"))
	require.NoError(t, q.PushValue(2, "b"))
	require.NoError(t, q.PushValue(1, "c"))

	items := q.Drain()
	require.Len(t, items, 2)
	assert.Equal(t, "c", items[0].payload)
	assert.Equal(t, "b", items[1].payload)
}

func TestQueueControlNeverCoalesced(t *testing.T) {
	q := newSendQueue(8)
	require.NoError(t, q.PushControl("x"))
	require.NoError(t, q.PushControl("x"))
	assert.Equal(t, 2, q.Len())
}

func TestQueueControlOverflowFatal(t *testing.T) {
	q := newSendQueue(2)
	require.NoError(t, q.PushControl("a"))
	require.NoError(t, q.PushControl("b"))
	assert.ErrorIs(t, q.PushControl("c"), ErrQueueOverflow)
}

func TestQueueFullEvictsOldestValue(t *testing.T) {
	q := newSendQueue(3)
	require.NoError(t, q.PushControl("ctl"))
	require.NoError(t, q.PushValue(1, "v1"))
	require.NoError(t, q.PushValue(2, "v2"))

	// Full; a value for a new topic evicts the oldest queued value.
	require.NoError(t, q.PushValue(3, "v3"))

	items := q.Drain()
	require.Len(t, items, 3)
	assert.Equal(t, "ctl", items[0].payload)
	assert.Equal(t, "v2", items[1].payload)
	assert.Equal(t, "v3", items[2].payload)
}

func TestQueueFullOfControlRejectsValue(t *testing.T) {
	q := newSendQueue(2)
	require.NoError(t, q.PushControl("a"))
	require.NoError(t, q.PushControl("b"))
	assert.ErrorIs(t, q.PushValue(1, "v"), ErrQueueOverflow)
}

func TestQueueCoalesceSurvivesEviction(t *testing.T) {
	q := newSendQueue(2)
	require.NoError(t, q.PushValue(1, "v1"))
	require.NoError(t, q.PushValue(2, "v2"))
	require.NoError(t, q.PushValue(3, "v3")) // evicts topic 1

	// Index must track the shifted positions.
	require.NoError(t, q.PushValue(2, "v2b"))
	items := q.Drain()
	require.Len(t, items, 2)
	assert.Equal(t, "v2b", items[0].payload)
	assert.Equal(t, "v3", items[1].payload)
}

func TestQueueClose(t *testing.T) {
	q := newSendQueue(2)
	q.Close()
	assert.True(t, q.Closed())
	assert.NoError(t, q.PushControl("dropped"))
	assert.Equal(t, 0, q.Len())
}
