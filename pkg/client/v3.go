package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lagan-protocol/lagan-go/pkg/log"
	"github.com/lagan-protocol/lagan-go/pkg/nt"
	"github.com/lagan-protocol/lagan-go/pkg/rpc"
	"github.com/lagan-protocol/lagan-go/pkg/session"
	"github.com/lagan-protocol/lagan-go/pkg/topic"
	"github.com/lagan-protocol/lagan-go/pkg/transport"
	wirev3 "github.com/lagan-protocol/lagan-go/pkg/wire/v3"
)

// v3HandshakeTimeout bounds the hello exchange on a fresh connection.
const v3HandshakeTimeout = 10 * time.Second

// v3UnassignedEntry requests a server-assigned entry id.
const v3UnassignedEntry uint16 = 0xFFFF

// v3Link is one live v3 session on the client side.
type v3Link struct {
	client *Client
	conn   *transport.TCPConn
	beat   *session.Heartbeat
	calls  *rpc.Tracker
	cancel context.CancelFunc

	mu   sync.Mutex
	seqs map[int32]wirev3.SequenceNumber
}

func (c *Client) dialV3(ctx context.Context) (link, error) {
	conn, err := transport.DialTCP(ctx, c.config.Server, c.logger)
	if err != nil {
		return nil, err
	}

	linkCtx, cancel := context.WithCancel(context.Background())
	l := &v3Link{
		client: c,
		conn:   conn,
		calls:  rpc.NewTracker(),
		cancel: cancel,
		seqs:   make(map[int32]wirev3.SequenceNumber),
	}

	decoder := wirev3.NewDecoder(conn)
	if err := l.handshake(decoder); err != nil {
		cancel()
		_ = conn.Close()
		return nil, err
	}

	l.beat = session.NewHeartbeat(c.config.Heartbeat,
		func() error { return l.send(wirev3.KeepAlive{}) },
		func() { _ = conn.Close() },
	)
	l.beat.Start(linkCtx)
	go l.readLoop(linkCtx, decoder)
	return l, nil
}

func (l *v3Link) close() {
	l.cancel()
	if l.beat != nil {
		l.beat.Stop()
	}
	l.calls.CancelSession(l.conn.ID())
	_ = l.conn.Close()
}

func (l *v3Link) send(msg wirev3.Message) error {
	frame, err := wirev3.Encode(msg)
	if err != nil {
		return err
	}
	_, err = l.conn.Write(frame)
	return err
}

// handshake runs the client half of the hello exchange and consumes
// the server's entry snapshot.
func (l *v3Link) handshake(decoder *wirev3.Decoder) error {
	deadline := time.Now().Add(v3HandshakeTimeout)
	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	defer func() { _ = l.conn.SetReadDeadline(time.Time{}) }()

	hello := wirev3.ClientHello{
		ProtoRev: wirev3.ProtocolRevision,
		Identity: l.client.config.Identity,
	}
	if err := l.send(hello); err != nil {
		return err
	}

	msg, err := decoder.ReadMessage()
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case wirev3.ServerHello:
		// Snapshot follows.
	case wirev3.ProtoUnsup:
		return fmt.Errorf("server supports protocol revision %#04x only", m.SupportedRev)
	default:
		return fmt.Errorf("unexpected %s during handshake", msg.Opcode())
	}

	for {
		msg, err := decoder.ReadMessage()
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case wirev3.EntryAssign:
			l.applyAssign(m)
		case wirev3.ServerHelloComplete:
			return l.send(wirev3.ClientHelloComplete{})
		default:
			return fmt.Errorf("unexpected %s in snapshot", msg.Opcode())
		}
	}
}

func (l *v3Link) readLoop(ctx context.Context, decoder *wirev3.Decoder) {
	defer l.client.connectionLost()
	defer l.beat.Stop()
	defer l.calls.CancelSession(l.conn.ID())

	for {
		msg, err := decoder.ReadMessage()
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		l.beat.Touch()
		l.handleMessage(msg)
	}
}

func (l *v3Link) handleMessage(msg wirev3.Message) {
	switch m := msg.(type) {
	case wirev3.KeepAlive:
		// Touch already happened.
	case wirev3.EntryAssign:
		l.applyAssign(m)
	case wirev3.EntryUpdate:
		id := int32(m.ID)
		l.recordSeq(id, m.Seq)
		l.client.dispatchValue(id, m.Value)
	case wirev3.FlagsUpdate:
		l.applyFlags(m)
	case wirev3.EntryDelete:
		l.dropSeq(int32(m.ID))
		l.client.cacheUnannounce(int32(m.ID))
	case wirev3.ClearAllEntries:
		if m.Magic != wirev3.ClearAllMagic {
			return
		}
		for _, info := range l.client.Topics() {
			l.dropSeq(info.ID)
			l.client.cacheUnannounce(info.ID)
		}
	case wirev3.RPCResponse:
		l.calls.Resolve(l.conn.ID(), m.UniqueID, m.Result)
	default:
		l.client.logger.Log(log.ErrorOf(l.conn.ID(), log.LayerControl,
			fmt.Errorf("unexpected %s from server", msg.Opcode())))
	}
}

// applyAssign caches an entry announcement and its carried value.
func (l *v3Link) applyAssign(m wirev3.EntryAssign) {
	id := int32(m.ID)
	l.recordSeq(id, m.Seq)

	props := nt.PropertiesFromV3Flags(m.Flags)
	if m.IsRPC {
		props["rpc"] = true
	}
	info := topic.Info{
		Name:       m.Name,
		ID:         id,
		Type:       m.Value.Type,
		Properties: props,
	}
	l.client.cacheAnnounce(info, 0, false)
	l.client.dispatchValue(id, m.Value)
}

func (l *v3Link) applyFlags(m wirev3.FlagsUpdate) {
	c := l.client
	c.mu.RLock()
	name, ok := c.byID[int32(m.ID)]
	c.mu.RUnlock()
	if !ok {
		return
	}
	c.cacheProperties(name, nt.PropertiesFromV3Flags(m.Flags))
}

func (l *v3Link) recordSeq(id int32, seq wirev3.SequenceNumber) {
	l.mu.Lock()
	l.seqs[id] = seq
	l.mu.Unlock()
}

func (l *v3Link) dropSeq(id int32) {
	l.mu.Lock()
	delete(l.seqs, id)
	l.mu.Unlock()
}

func (l *v3Link) nextSeq(id int32) wirev3.SequenceNumber {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.seqs[id].Next()
	l.seqs[id] = next
	return next
}

// sendPublish resolves the publisher against the snapshot; v3 has no
// publish message, the first value creates the entry.
func (l *v3Link) sendPublish(p *Publisher) error {
	if info, ok := l.client.Topic(p.name); ok {
		p.setTopicID(info.ID)
		p.flushPending()
	}
	return nil
}

func (l *v3Link) sendUnpublish(p *Publisher) error {
	id := p.currentTopicID()
	if id < 0 || id > int32(v3UnassignedEntry) {
		return nil
	}
	return l.send(wirev3.EntryDelete{ID: uint16(id)})
}

func (l *v3Link) sendSetProperties(name string, update nt.Properties) error {
	info, ok := l.client.Topic(name)
	if !ok {
		return fmt.Errorf("%w: %s", topic.ErrNotFound, name)
	}
	merged := info.Properties.Merge(update)
	return l.send(wirev3.FlagsUpdate{ID: uint16(info.ID), Flags: merged.V3Flags()})
}

// sendSubscribe is a no-op: v3 servers push every entry to every
// session. Filtering happens client side.
func (l *v3Link) sendSubscribe(*Subscriber) error { return nil }

func (l *v3Link) sendUnsubscribe(*Subscriber) error { return nil }

func (l *v3Link) sendValue(p *Publisher, value nt.Value) error {
	if !value.Type.IsV3() {
		return fmt.Errorf("%w: %s", wirev3.ErrTypeNotV3, value.Type)
	}

	id := p.currentTopicID()
	if id < 0 {
		return l.send(wirev3.EntryAssign{
			Name:  p.name,
			ID:    v3UnassignedEntry,
			Seq:   0,
			Flags: p.props.V3Flags(),
			Value: value,
		})
	}
	return l.send(wirev3.EntryUpdate{
		ID:    uint16(id),
		Seq:   l.nextSeq(id),
		Value: value,
	})
}

// callRPC executes an RPC entry and waits for the matching response.
func (l *v3Link) callRPC(ctx context.Context, name string, params []byte) ([]byte, error) {
	info, ok := l.client.Topic(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", topic.ErrNotFound, name)
	}
	return l.calls.Call(ctx, l.conn.ID(), 0, func(callID uint16) error {
		return l.send(wirev3.RPCExecute{
			ID:       uint16(info.ID),
			UniqueID: callID,
			Params:   params,
		})
	})
}
