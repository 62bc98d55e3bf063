package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagan-protocol/lagan-go/pkg/nt"
)

func TestPrefixMatchBoundary(t *testing.T) {
	tbl := NewTable()
	tbl.Subscribe("sess1", 1, []string{"/robot/"}, nt.SubscribeOptions{Prefix: true})

	assert.Len(t, tbl.Match("/robot/speed", "writer"), 1)
	assert.Len(t, tbl.Match("/robot/heading", "writer"), 1)
	assert.Empty(t, tbl.Match("/robotarm/speed", "writer"))
}

func TestExactMatch(t *testing.T) {
	tbl := NewTable()
	tbl.Subscribe("sess1", 1, []string{"/robot/speed"}, nt.SubscribeOptions{})

	assert.Len(t, tbl.Match("/robot/speed", "writer"), 1)
	assert.Empty(t, tbl.Match("/robot/speed2", "writer"))
	assert.Empty(t, tbl.Match("/robot", "writer"))
}

func TestEchoExclusion(t *testing.T) {
	tbl := NewTable()
	tbl.Subscribe("sess1", 1, []string{"/x"}, nt.SubscribeOptions{})
	tbl.Subscribe("sess2", 1, []string{"/x"}, nt.SubscribeOptions{})

	matched := tbl.Match("/x", "sess1")
	require.Len(t, matched, 1)
	assert.Equal(t, "sess2", matched[0].SessionID)

	// Echo opts back in.
	tbl.Subscribe("sess1", 2, []string{"/x"}, nt.SubscribeOptions{Echo: true})
	assert.Len(t, tbl.Match("/x", "sess1"), 2)
}

func TestLatestOnlyCoalescing(t *testing.T) {
	tbl := NewTable()
	sub := tbl.Subscribe("sess1", 1, []string{"/x"}, nt.SubscribeOptions{Periodic: time.Millisecond})

	for i := int64(1); i <= 5; i++ {
		sub.Record(Update{TopicID: 0, Name: "/x", Value: nt.IntValue(i, nt.Timestamp(i))})
	}

	updates := sub.Drain(time.Now())
	require.Len(t, updates, 1)
	assert.Equal(t, int64(5), updates[0].Value.Int)

	// Drained: nothing pending.
	assert.Empty(t, sub.Drain(time.Now()))
}

func TestSendAllKeepsEveryUpdate(t *testing.T) {
	tbl := NewTable()
	sub := tbl.Subscribe("sess1", 1, []string{"/x"}, nt.SubscribeOptions{All: true})

	for i := int64(1); i <= 3; i++ {
		sub.Record(Update{TopicID: 0, Name: "/x", Value: nt.IntValue(i, nt.Timestamp(i))})
	}

	updates := sub.Drain(time.Now())
	require.Len(t, updates, 3)
	for i, u := range updates {
		assert.Equal(t, int64(i+1), u.Value.Int)
	}
}

func TestTopicsOnlyRecordsNothing(t *testing.T) {
	tbl := NewTable()
	sub := tbl.Subscribe("sess1", 1, []string{"/x"}, nt.SubscribeOptions{TopicsOnly: true})
	sub.Record(Update{TopicID: 0, Name: "/x", Value: nt.IntValue(1, 1)})
	assert.Empty(t, sub.Drain(time.Now()))
}

func TestDueRespectsPeriodic(t *testing.T) {
	tbl := NewTable()
	sub := tbl.Subscribe("sess1", 1, []string{"/x"}, nt.SubscribeOptions{Periodic: time.Hour})
	sub.Record(Update{TopicID: 0, Name: "/x", Value: nt.IntValue(1, 1)})

	assert.False(t, sub.Due(time.Now()))
	assert.True(t, sub.Due(time.Now().Add(2*time.Hour)))

	// Nothing pending: never due.
	sub.Drain(time.Now().Add(2 * time.Hour))
	assert.False(t, sub.Due(time.Now().Add(4*time.Hour)))
}

func TestResubscribeReplaces(t *testing.T) {
	tbl := NewTable()
	tbl.Subscribe("sess1", 1, []string{"/a"}, nt.SubscribeOptions{})
	tbl.Subscribe("sess1", 1, []string{"/b"}, nt.SubscribeOptions{})

	assert.Equal(t, 1, tbl.Len())
	assert.Empty(t, tbl.Match("/a", "writer"))
	assert.Len(t, tbl.Match("/b", "writer"), 1)
}

func TestUnsubscribe(t *testing.T) {
	tbl := NewTable()
	tbl.Subscribe("sess1", 1, []string{"/a"}, nt.SubscribeOptions{})

	require.NoError(t, tbl.Unsubscribe("sess1", 1))
	assert.Zero(t, tbl.Len())

	assert.ErrorIs(t, tbl.Unsubscribe("sess1", 1), ErrNotFound)
	assert.ErrorIs(t, tbl.Unsubscribe("ghost", 9), ErrNotFound)
}

func TestRemoveSession(t *testing.T) {
	tbl := NewTable()
	tbl.Subscribe("sess1", 1, []string{"/a"}, nt.SubscribeOptions{})
	tbl.Subscribe("sess1", 2, []string{"/b"}, nt.SubscribeOptions{})
	tbl.Subscribe("sess2", 1, []string{"/a"}, nt.SubscribeOptions{})

	tbl.RemoveSession("sess1")
	assert.Equal(t, 1, tbl.Len())
	assert.Len(t, tbl.Match("/a", "writer"), 1)
	assert.Empty(t, tbl.ForSession("sess1"))
	assert.Len(t, tbl.ForSession("sess2"), 1)
}

func TestDrainOrderedByTopicID(t *testing.T) {
	tbl := NewTable()
	sub := tbl.Subscribe("sess1", 1, []string{"/"}, nt.SubscribeOptions{Prefix: true})

	sub.Record(Update{TopicID: 3, Name: "/c", Value: nt.IntValue(3, 1)})
	sub.Record(Update{TopicID: 1, Name: "/a", Value: nt.IntValue(1, 1)})
	sub.Record(Update{TopicID: 2, Name: "/b", Value: nt.IntValue(2, 1)})

	updates := sub.Drain(time.Now())
	require.Len(t, updates, 3)
	assert.Equal(t, int32(1), updates[0].TopicID)
	assert.Equal(t, int32(2), updates[1].TopicID)
	assert.Equal(t, int32(3), updates[2].TopicID)
}
