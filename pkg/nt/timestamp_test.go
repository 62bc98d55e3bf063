package nt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockMonotonic(t *testing.T) {
	clock := NewClock()
	a := clock.Now()
	time.Sleep(2 * time.Millisecond)
	b := clock.Now()
	assert.Greater(t, b, a)
}

func TestClockOffset(t *testing.T) {
	clock := NewClock()
	clock.SetOffset(1_000_000)
	local := clock.Local()
	now := clock.Now()
	assert.GreaterOrEqual(t, int64(now-local), int64(1_000_000))
}

func TestUpdateOffsetFromSync(t *testing.T) {
	clock := NewClock()

	// Server is 500ms ahead; 10ms round trip.
	localSent := Timestamp(1_000_000)
	serverTime := Timestamp(1_500_000)
	localNow := Timestamp(1_010_000)
	clock.UpdateOffsetFromSync(localSent, serverTime, localNow)

	// estServerNow = 1_500_000 + 5_000, offset = 1_505_000 - 1_010_000
	assert.Equal(t, int64(495_000), clock.Offset())
}

func TestUpdateOffsetFromSyncNegativeRTT(t *testing.T) {
	clock := NewClock()
	clock.SetOffset(42)
	clock.UpdateOffsetFromSync(100, 50, 90) // reply before send: ignored
	assert.Equal(t, int64(42), clock.Offset())
}

func TestTimestampDuration(t *testing.T) {
	assert.Equal(t, 2*time.Millisecond, Timestamp(3000).Duration(1000))
	assert.Equal(t, time.Duration(0), Timestamp(1000).Duration(3000))
	assert.Equal(t, Timestamp(2500), Timestamp(500).Add(2*time.Millisecond))
}

func TestPropertiesMerge(t *testing.T) {
	base := Properties{PropPersistent: true, "source": "vision"}
	patched := base.Merge(Properties{"source": nil, PropRetained: true})

	assert.True(t, patched.Persistent())
	assert.True(t, patched.Retained())
	_, hasSource := patched["source"]
	assert.False(t, hasSource)

	// base untouched
	assert.Equal(t, "vision", base["source"])
}

func TestPropertiesV3Flags(t *testing.T) {
	assert.Equal(t, uint8(0x01), Properties{PropPersistent: true}.V3Flags())
	assert.Equal(t, uint8(0x00), Properties{}.V3Flags())
	assert.True(t, PropertiesFromV3Flags(0x01).Persistent())
	assert.False(t, PropertiesFromV3Flags(0x00).Persistent())
}

func TestPropertiesCachedDefault(t *testing.T) {
	assert.True(t, Properties{}.Cached())
	assert.False(t, Properties{PropCached: false}.Cached())
}
