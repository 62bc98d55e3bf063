package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lagan-protocol/lagan-go/pkg/log"
	"github.com/lagan-protocol/lagan-go/pkg/nt"
	"github.com/lagan-protocol/lagan-go/pkg/session"
	"github.com/lagan-protocol/lagan-go/pkg/subscription"
	"github.com/lagan-protocol/lagan-go/pkg/topic"
	"github.com/lagan-protocol/lagan-go/pkg/transport"
	wirev3 "github.com/lagan-protocol/lagan-go/pkg/wire/v3"
)

// helloTimeout bounds how long a freshly accepted connection may sit
// silent before its hello.
const helloTimeout = 10 * time.Second

// v3UnassignedID is the sentinel entry id a client sends when asking
// the server to assign one.
const v3UnassignedID uint16 = 0xFFFF

// v3Session serves one TCP client speaking the v3 binary protocol.
//
// v3 has no topic/value separation: an entry is announced together
// with its value, so announcements for value-less topics are deferred
// until the first accepted write.
type v3Session struct {
	engine   *Engine
	conn     *transport.TCPConn
	machine  *session.Machine
	queue    *sendQueue
	beat     *session.Heartbeat
	identity string

	mu       sync.Mutex
	assigned map[int32]bool // topics announced to this client
}

// runV3 owns the connection's read side; it returns when the session
// ends.
func (e *Engine) runV3(conn *transport.TCPConn) {
	s := &v3Session{
		engine:   e,
		conn:     conn,
		machine:  session.NewMachine(),
		queue:    newSendQueue(e.config.QueueSize),
		assigned: make(map[int32]bool),
	}
	s.machine.SetTransitionCallback(func(old, new session.State) {
		e.logger.Log(log.StateOf(conn.ID(), old.String(), new.String(), s.machine.CloseReason()))
	})

	decoder := wirev3.NewDecoder(conn)
	if !s.handshake(decoder) {
		conn.Close()
		return
	}

	e.addSession(s)
	defer func() {
		s.machine.Close("connection ended")
		s.queue.Close()
		s.beat.Stop()
		conn.Close()
		e.removeSession(s.ID())
	}()

	s.beat = session.NewHeartbeat(e.config.Heartbeat,
		func() error { return s.queue.PushControl(wirev3.KeepAlive{}) },
		func() { s.CloseWith("heartbeat timeout") })

	e.wg.Add(1)
	go s.writeLoop()

	// v3 has no subscription concept: every client implicitly
	// receives every entry.
	e.subscribe(s, 0, []string{""}, nt.SubscribeOptions{Prefix: true})

	s.beat.Start(e.ctx)
	s.readLoop(decoder)
}

// handshake runs the v3 hello exchange on the accepting goroutine. A
// malformed hello closes the connection without ever entering the
// session table.
func (s *v3Session) handshake(decoder *wirev3.Decoder) bool {
	s.conn.SetReadDeadline(time.Now().Add(helloTimeout))
	first, err := decoder.ReadMessage()
	if err != nil {
		s.machine.Close(fmt.Sprintf("hello read: %v", err))
		return false
	}
	hello, ok := first.(wirev3.ClientHello)
	if !ok {
		s.machine.Close(fmt.Sprintf("expected ClientHello, got %s", first.Opcode()))
		return false
	}
	if hello.ProtoRev != wirev3.ProtocolRevision {
		frame, err := wirev3.Encode(wirev3.ProtoUnsup{SupportedRev: wirev3.ProtocolRevision})
		if err == nil {
			s.conn.Write(frame)
		}
		s.machine.Close(fmt.Sprintf("unsupported revision 0x%04x", hello.ProtoRev))
		return false
	}
	s.identity = hello.Identity
	if err := s.machine.NegotiateVersion(session.Version3); err != nil {
		return false
	}

	// Server snapshot: ServerHello, every entry, ServerHelloComplete.
	if !s.writeDirect(wirev3.ServerHello{Identity: s.engine.config.Identity}) {
		return false
	}
	for _, entry := range s.engine.values.Snapshot() {
		info, ok := s.engine.registry.Get(entry.ID)
		if !ok {
			continue
		}
		assign, ok := s.entryAssign(info, entry.Value)
		if !ok {
			continue
		}
		if !s.writeDirect(assign) {
			return false
		}
		s.mu.Lock()
		s.assigned[info.ID] = true
		s.mu.Unlock()
	}
	if !s.writeDirect(wirev3.ServerHelloComplete{}) {
		return false
	}
	if err := s.machine.CompleteHandshake(); err != nil {
		return false
	}

	// The client replies with its own entries, then its completion.
	s.conn.SetReadDeadline(time.Now().Add(helloTimeout))
	for {
		msg, err := decoder.ReadMessage()
		if err != nil {
			s.machine.Close(fmt.Sprintf("handshake read: %v", err))
			return false
		}
		switch m := msg.(type) {
		case wirev3.EntryAssign:
			s.handleEntryAssign(m)
		case wirev3.ClientHelloComplete:
			s.conn.SetReadDeadline(time.Time{})
			return s.machine.Activate() == nil
		case wirev3.KeepAlive:
		default:
			s.machine.Close(fmt.Sprintf("unexpected %s during handshake", msg.Opcode()))
			return false
		}
	}
}

func (s *v3Session) writeDirect(msg wirev3.Message) bool {
	frame, err := wirev3.Encode(msg)
	if err != nil {
		s.machine.Close(fmt.Sprintf("encode %s: %v", msg.Opcode(), err))
		return false
	}
	if _, err := s.conn.Write(frame); err != nil {
		s.machine.Close(fmt.Sprintf("write: %v", err))
		return false
	}
	return true
}

func (s *v3Session) readLoop(decoder *wirev3.Decoder) {
	for {
		msg, err := decoder.ReadMessage()
		if err != nil {
			s.machine.BeginClose(fmt.Sprintf("read: %v", err))
			return
		}
		s.beat.Touch()
		s.handleMessage(msg)
	}
}

func (s *v3Session) handleMessage(msg wirev3.Message) {
	logger := s.engine.logger
	switch m := msg.(type) {
	case wirev3.KeepAlive:
		// Touch already recorded.

	case wirev3.EntryAssign:
		s.handleEntryAssign(m)

	case wirev3.EntryUpdate:
		id := int32(m.ID)
		if _, ok := s.engine.registry.Get(id); !ok {
			return
		}
		if !m.Seq.Newer(s.engine.curSeq(id)) {
			return
		}
		if err := s.engine.writeValue(s, id, m.Value); err != nil {
			if !errors.Is(err, nt.ErrRejected) {
				logger.Log(log.ErrorOf(s.ID(), log.LayerData, err))
			}
		}

	case wirev3.FlagsUpdate:
		id := int32(m.ID)
		if _, ok := s.engine.registry.Get(id); !ok {
			return
		}
		patch := nt.Properties{nt.PropPersistent: m.Flags&0x01 != 0}
		if _, err := s.engine.registry.SetProperties(id, patch); err != nil {
			logger.Log(log.ErrorOf(s.ID(), log.LayerControl, err))
		}

	case wirev3.EntryDelete:
		if _, err := s.engine.registry.Remove(int32(m.ID)); err != nil {
			logger.Log(log.ErrorOf(s.ID(), log.LayerControl, err))
		}

	case wirev3.ClearAllEntries:
		if m.Magic != wirev3.ClearAllMagic {
			return
		}
		for _, info := range s.engine.registry.List() {
			s.engine.registry.Remove(info.ID)
		}

	case wirev3.RPCExecute:
		// Handlers may block; answer off the read loop.
		s.engine.wg.Add(1)
		go func() {
			defer s.engine.wg.Done()
			result, err := s.engine.handlers.Invoke(int32(m.ID), m.Params)
			if err != nil {
				logger.Log(log.ErrorOf(s.ID(), log.LayerControl, err))
				result = nil
			}
			resp := wirev3.RPCResponse{ID: m.ID, UniqueID: m.UniqueID, Result: result}
			if err := s.queue.PushControl(resp); err != nil {
				s.CloseWith(err.Error())
			}
		}()

	case wirev3.RPCResponse:
		// v3 carries no server-to-client RPC; nothing to resolve.
		logger.Log(log.MessageOf(s.ID(), log.DirectionIn, log.LayerControl,
			m.Opcode().String(), int32(m.ID), ""))

	default:
		logger.Log(log.ErrorOf(s.ID(), log.LayerControl,
			fmt.Errorf("unexpected %s from client", msg.Opcode())))
	}
}

func (s *v3Session) handleEntryAssign(m wirev3.EntryAssign) {
	logger := s.engine.logger

	if m.ID != v3UnassignedID {
		// Client believes the entry exists; treat as an update.
		id := int32(m.ID)
		if _, ok := s.engine.registry.Get(id); !ok {
			return
		}
		if !m.Seq.Newer(s.engine.curSeq(id)) {
			return
		}
		if err := s.engine.writeValue(s, id, m.Value); err != nil && !errors.Is(err, nt.ErrRejected) {
			logger.Log(log.ErrorOf(s.ID(), log.LayerData, err))
		}
		return
	}

	props := nt.PropertiesFromV3Flags(m.Flags)
	if m.IsRPC {
		props["rpc"] = true
	}
	info, err := s.engine.publish(s, m.Name, m.Value.Type, props, 0, false)
	if err != nil {
		logger.Log(log.ErrorOf(s.ID(), log.LayerControl, err))
		return
	}
	if err := s.engine.writeValue(s, info.ID, m.Value); err != nil && !errors.Is(err, nt.ErrRejected) {
		logger.Log(log.ErrorOf(s.ID(), log.LayerData, err))
	}
	// The creator learns the server-assigned id from the echoed
	// assign.
	s.SendAnnounce(info, 0, false)
}

// entryAssign renders a topic and value as a v3 EntryAssign, when the
// topic is expressible in v3 at all.
func (s *v3Session) entryAssign(info topic.Info, value nt.Value) (wirev3.EntryAssign, bool) {
	isRPC := info.Properties.GetBool("rpc", false)
	if info.ID < 0 || info.ID > int32(v3UnassignedID-1) {
		return wirev3.EntryAssign{}, false
	}
	if !isRPC && !value.Type.IsV3() {
		return wirev3.EntryAssign{}, false
	}
	return wirev3.EntryAssign{
		Name:  info.Name,
		ID:    uint16(info.ID),
		Seq:   s.engine.curSeq(info.ID),
		Flags: info.Properties.V3Flags(),
		IsRPC: isRPC,
		Value: value,
	}, true
}

func (s *v3Session) writeLoop() {
	defer s.engine.wg.Done()
	for {
		if items := s.queue.Drain(); len(items) > 0 {
			if err := s.writeItems(items); err != nil {
				s.machine.BeginClose(fmt.Sprintf("write: %v", err))
				s.conn.Close()
				return
			}
		}
		if s.queue.Closed() {
			return
		}
		select {
		case <-s.engine.ctx.Done():
			return
		case <-s.queue.Wait():
		}
	}
}

func (s *v3Session) writeItems(items []outMsg) error {
	for _, item := range items {
		msg, ok := item.payload.(wirev3.Message)
		if !ok {
			continue
		}
		frame, err := wirev3.Encode(msg)
		if err != nil {
			return err
		}
		if _, err := s.conn.Write(frame); err != nil {
			return err
		}
	}
	return nil
}

// ID implements sessionHandle.
func (s *v3Session) ID() string { return s.conn.ID() }

// Identity implements sessionHandle.
func (s *v3Session) Identity() string { return s.identity }

// SendAnnounce implements sessionHandle. v3 entries carry a value, so
// announcement of a value-less topic waits for the first write.
func (s *v3Session) SendAnnounce(info topic.Info, pubuid int32, hasPubUID bool) {
	value, ok := s.engine.values.Read(info.ID)
	if !ok {
		return
	}
	assign, ok := s.entryAssign(info, value)
	if !ok {
		return
	}
	s.mu.Lock()
	already := s.assigned[info.ID]
	s.assigned[info.ID] = true
	s.mu.Unlock()
	if already {
		return
	}
	if err := s.queue.PushControl(assign); err != nil {
		s.CloseWith(err.Error())
	}
}

// SendUnannounce implements sessionHandle.
func (s *v3Session) SendUnannounce(info topic.Info) {
	s.mu.Lock()
	known := s.assigned[info.ID]
	delete(s.assigned, info.ID)
	s.mu.Unlock()
	if !known {
		return
	}
	if err := s.queue.PushControl(wirev3.EntryDelete{ID: uint16(info.ID)}); err != nil {
		s.CloseWith(err.Error())
	}
}

// SendProperties implements sessionHandle.
func (s *v3Session) SendProperties(info topic.Info, update nt.Properties, ack bool) {
	s.mu.Lock()
	known := s.assigned[info.ID]
	s.mu.Unlock()
	if !known {
		return
	}
	msg := wirev3.FlagsUpdate{ID: uint16(info.ID), Flags: info.Properties.V3Flags()}
	if err := s.queue.PushControl(msg); err != nil {
		s.CloseWith(err.Error())
	}
}

// SendValues implements sessionHandle.
func (s *v3Session) SendValues(updates []subscription.Update) {
	for _, u := range updates {
		if !u.Value.Type.IsV3() {
			continue
		}
		s.mu.Lock()
		known := s.assigned[u.TopicID]
		if !known {
			s.assigned[u.TopicID] = true
		}
		s.mu.Unlock()

		if !known {
			info, ok := s.engine.registry.Get(u.TopicID)
			if !ok {
				continue
			}
			assign, ok := s.entryAssign(info, u.Value)
			if !ok {
				continue
			}
			if err := s.queue.PushControl(assign); err != nil {
				s.CloseWith(err.Error())
				return
			}
			continue
		}

		msg := wirev3.EntryUpdate{
			ID:    uint16(u.TopicID),
			Seq:   s.engine.curSeq(u.TopicID),
			Value: u.Value,
		}
		if err := s.queue.PushValue(u.TopicID, msg); err != nil {
			s.CloseWith(err.Error())
			return
		}
	}
}

// CloseWith implements sessionHandle.
func (s *v3Session) CloseWith(reason string) {
	s.machine.BeginClose(reason)
	s.queue.Close()
	s.conn.Close()
}
