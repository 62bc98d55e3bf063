package nt

import (
	"sync/atomic"
	"time"
)

// Timestamp is a monotonic time in microseconds, the unit used on the
// wire and for conflict resolution. The zero Timestamp means "no time":
// v4 data frames carry 0 when the sender wants the receiver's clock to
// assign the time.
type Timestamp int64

// Duration returns the elapsed time between two timestamps, saturating
// at zero when earlier is in fact later.
func (t Timestamp) Duration(earlier Timestamp) time.Duration {
	if t < earlier {
		return 0
	}
	return time.Duration(t-earlier) * time.Microsecond
}

// Add returns the timestamp advanced by d.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d.Microseconds())
}

// Clock produces monotonic microsecond timestamps for one engine
// instance. Clients steer their clock toward server time through an
// offset learned from the timestamp sync exchange; the offset never
// affects monotonicity of the underlying reading.
type Clock struct {
	start  time.Time
	offset atomic.Int64
}

// NewClock returns a clock whose epoch is the moment of creation.
func NewClock() *Clock {
	return &Clock{start: time.Now()}
}

// Now returns the current instant, offset included.
func (c *Clock) Now() Timestamp {
	return Timestamp(time.Since(c.start).Microseconds() + c.offset.Load())
}

// Local returns the current instant without the server offset. Used as
// the client-time half of the timestamp sync exchange.
func (c *Clock) Local() Timestamp {
	return Timestamp(time.Since(c.start).Microseconds())
}

// SetOffset records the estimated difference between server time and
// local time in microseconds.
func (c *Clock) SetOffset(micros int64) {
	c.offset.Store(micros)
}

// Offset returns the current server-time offset in microseconds.
func (c *Clock) Offset() int64 {
	return c.offset.Load()
}

// UpdateOffsetFromSync folds one timestamp sync round trip into the
// offset: localSent is the client time embedded in the outgoing sync
// frame, serverTime the server's time from the reply, localNow the
// client time at reply receipt. The server's reading is assumed to sit
// at the midpoint of the round trip.
func (c *Clock) UpdateOffsetFromSync(localSent, serverTime, localNow Timestamp) {
	rtt := int64(localNow - localSent)
	if rtt < 0 {
		return
	}
	estServerNow := int64(serverTime) + rtt/2
	c.SetOffset(estServerNow - int64(localNow))
}
