package client

import (
	"context"
	"fmt"
	"time"

	"github.com/lagan-protocol/lagan-go/pkg/log"
	"github.com/lagan-protocol/lagan-go/pkg/nt"
	"github.com/lagan-protocol/lagan-go/pkg/session"
	"github.com/lagan-protocol/lagan-go/pkg/topic"
	"github.com/lagan-protocol/lagan-go/pkg/transport"
	wirev4 "github.com/lagan-protocol/lagan-go/pkg/wire/v4"
)

// timestampSyncInterval is how often the client re-runs the clock sync
// exchange against the server.
const timestampSyncInterval = 3 * time.Second

// v4Link is one live v4 session on the client side.
type v4Link struct {
	client *Client
	conn   *transport.WSConn
	beat   *session.Heartbeat
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *Client) dialV4(ctx context.Context) (link, error) {
	conn, err := transport.DialWS(ctx, c.config.Server, c.config.Identity, c.logger)
	if err != nil {
		return nil, err
	}

	linkCtx, cancel := context.WithCancel(context.Background())
	l := &v4Link{
		client: c,
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	l.beat = session.NewHeartbeat(c.config.Heartbeat,
		func() error { return conn.Ping() },
		func() { _ = conn.Close() },
	)
	conn.SetPongCallback(l.beat.Touch)

	// First sync before anything else so local Set calls carry
	// server-comparable timestamps.
	if err := l.sendTimestampSync(); err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("timestamp sync failed: %w", err)
	}

	l.beat.Start(linkCtx)
	go l.readLoop(linkCtx)
	go l.syncLoop(linkCtx)
	return l, nil
}

func (l *v4Link) close() {
	l.cancel()
	l.beat.Stop()
	_ = l.conn.Close()
}

// readLoop decodes frames until the connection drops, then reports the
// loss to the connection manager.
func (l *v4Link) readLoop(ctx context.Context) {
	defer close(l.done)
	defer l.client.connectionLost()
	defer l.beat.Stop()

	for {
		kind, payload, err := l.conn.ReadFrame()
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		switch kind {
		case transport.FrameText:
			msgs, err := wirev4.DecodeControl(payload)
			if err != nil {
				l.client.logger.Log(log.ErrorOf(l.conn.ID(), log.LayerControl, err))
				return
			}
			for _, msg := range msgs {
				l.handleControl(msg)
			}
		case transport.FrameBinary:
			msgs, err := wirev4.DecodeData(payload)
			if err != nil {
				l.client.logger.Log(log.ErrorOf(l.conn.ID(), log.LayerData, err))
				return
			}
			for _, msg := range msgs {
				l.handleData(msg)
			}
		}
	}
}

func (l *v4Link) handleControl(msg wirev4.ControlMessage) {
	switch m := msg.(type) {
	case wirev4.Announce:
		typ, _ := nt.TypeFromString(m.Type)
		info := topic.Info{
			Name:       m.Name,
			ID:         m.ID,
			Type:       typ,
			Properties: m.Properties,
		}
		l.client.cacheAnnounce(info, m.PubUID, m.PubUID != 0)
	case wirev4.Unannounce:
		l.client.cacheUnannounce(m.ID)
	case wirev4.PropertiesUpdate:
		l.client.cacheProperties(m.Name, m.Update)
	case wirev4.Unknown:
		// Skipped for forward compatibility.
	default:
		l.client.logger.Log(log.ErrorOf(l.conn.ID(), log.LayerControl,
			fmt.Errorf("unexpected %s from server", msg.Method())))
	}
}

func (l *v4Link) handleData(msg wirev4.DataMessage) {
	if msg.ID == wirev4.TimestampSyncID {
		// Server echoes our local send time as the int payload with
		// its own time as the timestamp.
		c := l.client.clock
		c.UpdateOffsetFromSync(nt.Timestamp(msg.Value.Int), msg.Value.Time, c.Local())
		return
	}
	l.client.dispatchValue(msg.ID, msg.Value)
}

// syncLoop periodically refreshes the clock offset.
func (l *v4Link) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(timestampSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.sendTimestampSync(); err != nil {
				return
			}
		}
	}
}

func (l *v4Link) sendTimestampSync() error {
	return l.writeData([]wirev4.DataMessage{wirev4.TimestampSync(l.client.clock.Local())})
}

func (l *v4Link) writeControl(msgs ...wirev4.ControlMessage) error {
	payload, err := wirev4.EncodeControl(msgs)
	if err != nil {
		return err
	}
	return l.conn.WriteText(payload)
}

func (l *v4Link) writeData(msgs []wirev4.DataMessage) error {
	payload, err := wirev4.EncodeData(msgs)
	if err != nil {
		return err
	}
	return l.conn.WriteBinary(payload)
}

func (l *v4Link) sendPublish(p *Publisher) error {
	return l.writeControl(wirev4.Publish{
		Name:       p.name,
		PubUID:     p.pubuid,
		Type:       p.typ.String(),
		Properties: p.props,
	})
}

func (l *v4Link) sendUnpublish(p *Publisher) error {
	return l.writeControl(wirev4.Unpublish{PubUID: p.pubuid})
}

func (l *v4Link) sendSetProperties(name string, update nt.Properties) error {
	return l.writeControl(wirev4.SetProperties{Name: name, Update: update})
}

func (l *v4Link) sendSubscribe(s *Subscriber) error {
	return l.writeControl(wirev4.Subscribe{
		Topics:  s.patterns,
		SubUID:  s.subuid,
		Options: wirev4.OptionsFromEngine(s.opts),
	})
}

func (l *v4Link) sendUnsubscribe(s *Subscriber) error {
	return l.writeControl(wirev4.Unsubscribe{SubUID: s.subuid})
}

func (l *v4Link) sendValue(p *Publisher, value nt.Value) error {
	id := p.currentTopicID()
	if id < 0 {
		p.storePending(value)
		return nil
	}
	return l.writeData([]wirev4.DataMessage{{ID: id, Value: value}})
}

func (l *v4Link) callRPC(context.Context, string, []byte) ([]byte, error) {
	return nil, fmt.Errorf("rpc execution requires a v3 session")
}
