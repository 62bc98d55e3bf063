package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lagan-protocol/lagan-go/pkg/log"
	"github.com/lagan-protocol/lagan-go/pkg/nt"
	"github.com/lagan-protocol/lagan-go/pkg/session"
	"github.com/lagan-protocol/lagan-go/pkg/subscription"
	"github.com/lagan-protocol/lagan-go/pkg/topic"
	"github.com/lagan-protocol/lagan-go/pkg/transport"
	wirev4 "github.com/lagan-protocol/lagan-go/pkg/wire/v4"
)

// v4Session serves one WebSocket client.
type v4Session struct {
	engine  *Engine
	conn    *transport.WSConn
	machine *session.Machine
	queue   *sendQueue
	beat    *session.Heartbeat

	// pubTopics maps the client's pubuids to topic ids for unpublish.
	pubMu     sync.Mutex
	pubTopics map[int32]int32
}

// runV4 owns the connection's read side; it returns when the session
// ends.
func (e *Engine) runV4(conn *transport.WSConn) {
	s := &v4Session{
		engine:    e,
		conn:      conn,
		machine:   session.NewMachine(),
		queue:     newSendQueue(e.config.QueueSize),
		pubTopics: make(map[int32]int32),
	}
	s.machine.SetTransitionCallback(func(old, new session.State) {
		e.logger.Log(log.StateOf(conn.ID(), old.String(), new.String(), s.machine.CloseReason()))
	})

	if err := s.machine.NegotiateVersion(session.Version4); err != nil {
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
		conn.Ping,
		func() { s.CloseWith("heartbeat timeout") })
	conn.SetPongCallback(s.beat.Touch)

	e.wg.Add(1)
	go s.writeLoop()

	// Handshake snapshot: every known topic, then activation. Values
	// follow subscriptions, not the snapshot.
	for _, info := range e.registry.List() {
		s.SendAnnounce(info, 0, false)
	}
	if err := s.machine.CompleteHandshake(); err != nil {
		return
	}
	if err := s.machine.Activate(); err != nil {
		return
	}

	s.beat.Start(e.ctx)
	s.readLoop()
}

func (s *v4Session) readLoop() {
	for {
		kind, data, err := s.conn.ReadFrame()
		if err != nil {
			s.machine.BeginClose(fmt.Sprintf("read: %v", err))
			return
		}
		s.beat.Touch()

		switch kind {
		case transport.FrameText:
			msgs, err := wirev4.DecodeControl(data)
			if err != nil {
				// Malformed control frames are session-fatal.
				s.engine.logger.Log(log.ErrorOf(s.ID(), log.LayerControl, err))
				s.CloseWith("malformed control frame")
				return
			}
			for _, msg := range msgs {
				s.handleControl(msg)
			}
		case transport.FrameBinary:
			msgs, err := wirev4.DecodeData(data)
			if err != nil {
				s.engine.logger.Log(log.ErrorOf(s.ID(), log.LayerData, err))
				s.CloseWith("malformed data frame")
				return
			}
			for _, msg := range msgs {
				s.handleData(msg)
			}
		}
	}
}

func (s *v4Session) handleControl(msg wirev4.ControlMessage) {
	logger := s.engine.logger
	switch m := msg.(type) {
	case wirev4.Publish:
		typ, ok := nt.TypeFromString(m.Type)
		if !ok {
			logger.Log(log.ErrorOf(s.ID(), log.LayerControl,
				fmt.Errorf("publish %q: unknown type %q", m.Name, m.Type)))
			return
		}
		info, err := s.engine.publish(s, m.Name, typ, m.Properties, m.PubUID, true)
		if err != nil {
			logger.Log(log.ErrorOf(s.ID(), log.LayerControl, err))
			return
		}
		s.pubMu.Lock()
		s.pubTopics[m.PubUID] = info.ID
		s.pubMu.Unlock()

	case wirev4.Unpublish:
		s.pubMu.Lock()
		id, ok := s.pubTopics[m.PubUID]
		delete(s.pubTopics, m.PubUID)
		s.pubMu.Unlock()
		if !ok {
			return
		}
		if _, err := s.engine.registry.Unannounce(id, s.ID()); err != nil {
			logger.Log(log.ErrorOf(s.ID(), log.LayerControl, err))
		}

	case wirev4.SetProperties:
		if err := s.engine.setProperties(s, m.Name, m.Update); err != nil {
			logger.Log(log.ErrorOf(s.ID(), log.LayerControl, err))
		}

	case wirev4.Subscribe:
		s.engine.subscribe(s, m.SubUID, m.Topics, m.Options.Engine())

	case wirev4.Unsubscribe:
		if err := s.engine.subs.Unsubscribe(s.ID(), m.SubUID); err != nil {
			logger.Log(log.ErrorOf(s.ID(), log.LayerControl, err))
		}

	case wirev4.Unknown:
		// Skipped for forward compatibility.
		logger.Log(log.MessageOf(s.ID(), log.DirectionIn, log.LayerControl, m.MethodName, 0, ""))

	default:
		// Server-to-client messages arriving at the server.
		logger.Log(log.ErrorOf(s.ID(), log.LayerControl,
			fmt.Errorf("unexpected %s from client", msg.Method())))
	}
}

func (s *v4Session) handleData(msg wirev4.DataMessage) {
	if msg.ID == wirev4.TimestampSyncID {
		// Echo the client's time back stamped with server time.
		reply := wirev4.DataMessage{
			ID:    wirev4.TimestampSyncID,
			Value: nt.IntValue(msg.Value.Int, s.engine.clock.Now()),
		}
		if err := s.queue.PushControl(reply); err != nil {
			s.CloseWith(err.Error())
		}
		return
	}

	if err := s.engine.writeValue(s, msg.ID, msg.Value); err != nil {
		// Stale and mistyped writes are rejected without ending the
		// session; the writer may simply have lost a race.
		if !errors.Is(err, nt.ErrRejected) {
			s.engine.logger.Log(log.ErrorOf(s.ID(), log.LayerData, err))
		}
	}
}

// writeLoop drains the outbound queue, batching consecutive control
// messages into one TEXT frame and consecutive values into one BINARY
// frame.
func (s *v4Session) writeLoop() {
	defer s.engine.wg.Done()
	for {
		if items := s.queue.Drain(); len(items) > 0 {
			if err := s.writeBatch(items); err != nil {
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

func (s *v4Session) writeBatch(items []outMsg) error {
	var control []wirev4.ControlMessage
	var data []wirev4.DataMessage

	flushControl := func() error {
		if len(control) == 0 {
			return nil
		}
		payload, err := wirev4.EncodeControl(control)
		if err != nil {
			return err
		}
		control = control[:0]
		return s.conn.WriteText(payload)
	}
	flushData := func() error {
		if len(data) == 0 {
			return nil
		}
		payload, err := wirev4.EncodeData(data)
		if err != nil {
			return err
		}
		data = data[:0]
		return s.conn.WriteBinary(payload)
	}

	for _, item := range items {
		switch msg := item.payload.(type) {
		case wirev4.DataMessage:
			if err := flushControl(); err != nil {
				return err
			}
			data = append(data, msg)
		case wirev4.ControlMessage:
			if err := flushData(); err != nil {
				return err
			}
			control = append(control, msg)
		}
	}
	if err := flushControl(); err != nil {
		return err
	}
	return flushData()
}

// ID implements sessionHandle.
func (s *v4Session) ID() string { return s.conn.ID() }

// Identity implements sessionHandle.
func (s *v4Session) Identity() string { return s.conn.Name() }

// SendAnnounce implements sessionHandle.
func (s *v4Session) SendAnnounce(info topic.Info, pubuid int32, hasPubUID bool) {
	msg := wirev4.Announce{
		Name:       info.Name,
		ID:         info.ID,
		Type:       info.Type.String(),
		Properties: info.Properties,
	}
	if hasPubUID {
		msg.PubUID = pubuid
	}
	if err := s.queue.PushControl(msg); err != nil {
		s.CloseWith(err.Error())
	}
}

// SendUnannounce implements sessionHandle.
func (s *v4Session) SendUnannounce(info topic.Info) {
	if err := s.queue.PushControl(wirev4.Unannounce{Name: info.Name, ID: info.ID}); err != nil {
		s.CloseWith(err.Error())
	}
}

// SendProperties implements sessionHandle.
func (s *v4Session) SendProperties(info topic.Info, update nt.Properties, ack bool) {
	msg := wirev4.PropertiesUpdate{Name: info.Name, Ack: ack, Update: update}
	if err := s.queue.PushControl(msg); err != nil {
		s.CloseWith(err.Error())
	}
}

// SendValues implements sessionHandle.
func (s *v4Session) SendValues(updates []subscription.Update) {
	for _, u := range updates {
		msg := wirev4.DataMessage{ID: u.TopicID, Value: u.Value}
		if err := s.queue.PushValue(u.TopicID, msg); err != nil {
			s.CloseWith(err.Error())
			return
		}
	}
}

// CloseWith implements sessionHandle.
func (s *v4Session) CloseWith(reason string) {
	s.machine.BeginClose(reason)
	s.queue.Close()
	s.conn.Close()
}
