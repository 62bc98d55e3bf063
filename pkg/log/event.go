package log

import "time"

// Direction of a logged frame or message relative to this engine.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
	DirectionLocal
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return "local"
	}
}

// Layer identifies where in the stack an event originated.
type Layer uint8

const (
	LayerTransport Layer = iota
	LayerControl
	LayerData
	LayerEngine
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "transport"
	case LayerControl:
		return "control"
	case LayerData:
		return "data"
	default:
		return "engine"
	}
}

// MaxCapturedFrame bounds how much frame payload an event retains.
// Larger frames are truncated so capture files stay manageable.
const MaxCapturedFrame = 4096

// FrameEvent describes a raw frame crossing the transport.
type FrameEvent struct {
	Size      int    `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// MessageEvent describes a decoded protocol message.
type MessageEvent struct {
	// Kind is the opcode name (v3) or control method / "data" (v4).
	Kind    string `cbor:"1,keyasint"`
	TopicID int32  `cbor:"2,keyasint,omitempty"`
	Topic   string `cbor:"3,keyasint,omitempty"`
}

// StateEvent describes a session state transition.
type StateEvent struct {
	From   string `cbor:"1,keyasint"`
	To     string `cbor:"2,keyasint"`
	Reason string `cbor:"3,keyasint,omitempty"`
}

// Event is one protocol log record. Exactly one of Frame, Message,
// State and Err is typically set.
type Event struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint,omitempty"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`

	Frame   *FrameEvent   `cbor:"5,keyasint,omitempty"`
	Message *MessageEvent `cbor:"6,keyasint,omitempty"`
	State   *StateEvent   `cbor:"7,keyasint,omitempty"`
	Err     string        `cbor:"8,keyasint,omitempty"`
}

// FrameOf builds a frame event, truncating oversized payloads.
func FrameOf(connID string, dir Direction, layer Layer, data []byte) Event {
	frame := &FrameEvent{Size: len(data), Data: data}
	if len(data) > MaxCapturedFrame {
		frame.Data = data[:MaxCapturedFrame]
		frame.Truncated = true
	}
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        layer,
		Frame:        frame,
	}
}

// MessageOf builds a decoded-message event.
func MessageOf(connID string, dir Direction, layer Layer, kind string, topicID int32, topic string) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        layer,
		Message:      &MessageEvent{Kind: kind, TopicID: topicID, Topic: topic},
	}
}

// StateOf builds a session transition event.
func StateOf(connID, from, to, reason string) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    DirectionLocal,
		Layer:        LayerEngine,
		State:        &StateEvent{From: from, To: to, Reason: reason},
	}
}

// ErrorOf builds an error event.
func ErrorOf(connID string, layer Layer, err error) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    DirectionLocal,
		Layer:        layer,
		Err:          err.Error(),
	}
}
