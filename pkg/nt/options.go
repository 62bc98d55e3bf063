package nt

import "time"

// DefaultPeriodic is the default flush interval for subscriptions that
// do not request one.
const DefaultPeriodic = 100 * time.Millisecond

// SubscribeOptions control how matched updates are delivered to a
// subscriber. The zero value plus ApplyDefaults gives latest-only
// delivery every 100ms with echo suppression.
type SubscribeOptions struct {
	// Periodic is how often coalesced updates are flushed.
	Periodic time.Duration `json:"periodic,omitempty" yaml:"periodic,omitempty"`

	// All requests every intermediate value instead of latest-only
	// coalescing.
	All bool `json:"all,omitempty" yaml:"all,omitempty"`

	// TopicsOnly requests announce/unannounce notifications without
	// value traffic.
	TopicsOnly bool `json:"topicsonly,omitempty" yaml:"topicsonly,omitempty"`

	// Prefix declares every pattern in the subscription as a name
	// prefix rather than an exact topic name.
	Prefix bool `json:"prefix,omitempty" yaml:"prefix,omitempty"`

	// Echo requests updates for writes made by the subscriber's own
	// session. Engine-local; never sent on the wire.
	Echo bool `json:"-" yaml:"-"`
}

// ApplyDefaults fills unset fields with protocol defaults.
func (o SubscribeOptions) ApplyDefaults() SubscribeOptions {
	if o.Periodic <= 0 {
		o.Periodic = DefaultPeriodic
	}
	return o
}
