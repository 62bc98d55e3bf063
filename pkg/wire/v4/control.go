package v4

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lagan-protocol/lagan-go/pkg/nt"
)

// DefaultPort is the TCP port v4 servers listen on for WebSocket
// upgrades.
const DefaultPort = 5810

// PathPrefix is the WebSocket request path prefix; the remainder of the
// path is the client's self-chosen name.
const PathPrefix = "/nt/"

// Subprotocol is the WebSocket subprotocol v4 peers negotiate.
const Subprotocol = "networktables.first.wpilib.org"

// Control method names.
const (
	MethodPublish       = "publish"
	MethodUnpublish     = "unpublish"
	MethodSetProperties = "setproperties"
	MethodSubscribe     = "subscribe"
	MethodUnsubscribe   = "unsubscribe"
	MethodAnnounce      = "announce"
	MethodUnannounce    = "unannounce"
	MethodProperties    = "properties"
)

// ErrMalformedControl indicates a control frame that is not a JSON
// array of method/params objects. Session-fatal.
var ErrMalformedControl = errors.New("malformed v4 control frame")

// ControlMessage is a decoded control-plane message. The concrete types
// below are the closed set; unrecognized methods decode to Unknown.
type ControlMessage interface {
	Method() string
}

// Publish declares intent to write a topic (client to server).
type Publish struct {
	Name       string        `json:"name"`
	PubUID     int32         `json:"pubuid"`
	Type       string        `json:"type"`
	Properties nt.Properties `json:"properties,omitempty"`
}

func (Publish) Method() string { return MethodPublish }

// Unpublish retracts a publisher (client to server).
type Unpublish struct {
	PubUID int32 `json:"pubuid"`
}

func (Unpublish) Method() string { return MethodUnpublish }

// SetProperties patches a topic's properties (client to server). A
// null value in Update deletes that key.
type SetProperties struct {
	Name   string        `json:"name"`
	Update nt.Properties `json:"update"`
}

func (SetProperties) Method() string { return MethodSetProperties }

// Subscribe creates a subscription (client to server).
type Subscribe struct {
	Topics  []string         `json:"topics"`
	SubUID  int32            `json:"subuid"`
	Options SubscribeOptions `json:"options,omitempty"`
}

func (Subscribe) Method() string { return MethodSubscribe }

// Unsubscribe destroys a subscription (client to server).
type Unsubscribe struct {
	SubUID int32 `json:"subuid"`
}

func (Unsubscribe) Method() string { return MethodUnsubscribe }

// Announce notifies a session of a topic and its server-assigned id
// (server to client). PubUID is echoed when the announcement answers
// this client's own publish.
type Announce struct {
	Name       string        `json:"name"`
	ID         int32         `json:"id"`
	Type       string        `json:"type"`
	PubUID     int32         `json:"pubuid,omitempty"`
	Properties nt.Properties `json:"properties"`
}

func (Announce) Method() string { return MethodAnnounce }

// Unannounce notifies a session that a topic ceased to exist (server to
// client). Cached values and subscriptions referencing ID become
// invalid.
type Unannounce struct {
	Name string `json:"name"`
	ID   int32  `json:"id"`
}

func (Unannounce) Method() string { return MethodUnannounce }

// PropertiesUpdate notifies a session of a property change (server to
// client). Ack marks it as the direct answer to this client's
// setproperties.
type PropertiesUpdate struct {
	Name   string        `json:"name"`
	Ack    bool          `json:"ack,omitempty"`
	Update nt.Properties `json:"update"`
}

func (PropertiesUpdate) Method() string { return MethodProperties }

// Unknown preserves a control message with an unrecognized method so
// callers can skip it (forward compatibility) or treat it as fatal.
type Unknown struct {
	MethodName string
	Params     json.RawMessage
}

func (u Unknown) Method() string { return u.MethodName }

// SubscribeOptions is the wire form of subscription options. Periodic
// is in seconds, per the protocol.
type SubscribeOptions struct {
	Periodic   float64 `json:"periodic,omitempty"`
	All        bool    `json:"all,omitempty"`
	TopicsOnly bool    `json:"topicsonly,omitempty"`
	Prefix     bool    `json:"prefix,omitempty"`
}

// Engine converts wire options to engine options.
func (o SubscribeOptions) Engine() nt.SubscribeOptions {
	return nt.SubscribeOptions{
		Periodic:   time.Duration(o.Periodic * float64(time.Second)),
		All:        o.All,
		TopicsOnly: o.TopicsOnly,
		Prefix:     o.Prefix,
	}.ApplyDefaults()
}

// OptionsFromEngine converts engine options to their wire form.
func OptionsFromEngine(o nt.SubscribeOptions) SubscribeOptions {
	return SubscribeOptions{
		Periodic:   o.Periodic.Seconds(),
		All:        o.All,
		TopicsOnly: o.TopicsOnly,
		Prefix:     o.Prefix,
	}
}

// envelope is the on-wire shape of a single control object.
type envelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// EncodeControl serializes a batch of control messages to one TEXT
// frame payload.
func EncodeControl(msgs []ControlMessage) ([]byte, error) {
	envelopes := make([]envelope, 0, len(msgs))
	for _, msg := range msgs {
		var params []byte
		var err error
		if u, ok := msg.(Unknown); ok {
			params = u.Params
		} else {
			params, err = json.Marshal(msg)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s params: %w", msg.Method(), err)
			}
		}
		envelopes = append(envelopes, envelope{Method: msg.Method(), Params: params})
	}
	return json.Marshal(envelopes)
}

// DecodeControl parses one TEXT frame payload into its control
// messages. Unknown methods become Unknown entries; a structurally
// invalid frame fails with ErrMalformedControl.
func DecodeControl(data []byte) ([]ControlMessage, error) {
	var envelopes []envelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}

	msgs := make([]ControlMessage, 0, len(envelopes))
	for _, env := range envelopes {
		msg, err := decodeParams(env)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func decodeParams(env envelope) (ControlMessage, error) {
	unmarshal := func(v ControlMessage) (ControlMessage, error) {
		if err := json.Unmarshal(env.Params, v); err != nil {
			return nil, fmt.Errorf("%w: %s params: %v", ErrMalformedControl, env.Method, err)
		}
		return v, nil
	}

	switch env.Method {
	case MethodPublish:
		msg, err := unmarshal(&Publish{})
		if err != nil {
			return nil, err
		}
		return *msg.(*Publish), nil
	case MethodUnpublish:
		msg, err := unmarshal(&Unpublish{})
		if err != nil {
			return nil, err
		}
		return *msg.(*Unpublish), nil
	case MethodSetProperties:
		msg, err := unmarshal(&SetProperties{})
		if err != nil {
			return nil, err
		}
		return *msg.(*SetProperties), nil
	case MethodSubscribe:
		msg, err := unmarshal(&Subscribe{})
		if err != nil {
			return nil, err
		}
		return *msg.(*Subscribe), nil
	case MethodUnsubscribe:
		msg, err := unmarshal(&Unsubscribe{})
		if err != nil {
			return nil, err
		}
		return *msg.(*Unsubscribe), nil
	case MethodAnnounce:
		msg, err := unmarshal(&Announce{})
		if err != nil {
			return nil, err
		}
		return *msg.(*Announce), nil
	case MethodUnannounce:
		msg, err := unmarshal(&Unannounce{})
		if err != nil {
			return nil, err
		}
		return *msg.(*Unannounce), nil
	case MethodProperties:
		msg, err := unmarshal(&PropertiesUpdate{})
		if err != nil {
			return nil, err
		}
		return *msg.(*PropertiesUpdate), nil
	default:
		return Unknown{MethodName: env.Method, Params: env.Params}, nil
	}
}
