package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lagan-protocol/lagan-go/pkg/log"
	"github.com/lagan-protocol/lagan-go/pkg/nt"
	"github.com/lagan-protocol/lagan-go/pkg/rpc"
	"github.com/lagan-protocol/lagan-go/pkg/session"
	"github.com/lagan-protocol/lagan-go/pkg/store"
	"github.com/lagan-protocol/lagan-go/pkg/subscription"
	"github.com/lagan-protocol/lagan-go/pkg/topic"
	"github.com/lagan-protocol/lagan-go/pkg/transport"
	wirev3 "github.com/lagan-protocol/lagan-go/pkg/wire/v3"
)

// localOrigin is the connection id used for values written by the
// embedding process rather than a remote session.
const localOrigin = "local"

// DefaultFlushInterval is the granularity of the subscription flush
// loop. Subscriptions flush no more often than their own periodic.
const DefaultFlushInterval = 10 * time.Millisecond

// Config configures an Engine.
type Config struct {
	// Identity is the name reported in handshakes.
	Identity string

	// TCPAddress is the v3 listen address. Empty disables v3.
	TCPAddress string

	// WSAddress is the v4 WebSocket listen address. Empty disables v4.
	WSAddress string

	// QueueSize is the per-session outbound queue depth.
	QueueSize int

	// Heartbeat configures per-session liveness monitoring.
	Heartbeat session.HeartbeatConfig

	// FlushInterval is the subscription flush loop granularity.
	FlushInterval time.Duration

	// Logger for protocol logging (optional).
	Logger log.Logger
}

// DefaultEngineConfig returns a config serving both protocols on their
// well-known ports.
func DefaultEngineConfig() Config {
	return Config{
		Identity:      "lagan-server",
		TCPAddress:    ":1735",
		WSAddress:     ":5810",
		QueueSize:     DefaultQueueSize,
		Heartbeat:     session.DefaultHeartbeatConfig(),
		FlushInterval: DefaultFlushInterval,
	}
}

// sessionHandle is the engine's view of one connected session,
// protocol version aside.
type sessionHandle interface {
	ID() string
	Identity() string
	SendAnnounce(info topic.Info, pubuid int32, hasPubUID bool)
	SendUnannounce(info topic.Info)
	SendProperties(info topic.Info, update nt.Properties, ack bool)
	SendValues(updates []subscription.Update)
	CloseWith(reason string)
}

// pendingKey correlates a session's request with the broadcast it
// triggers, so the origin session gets the acknowledging form.
type pendingKey struct {
	sessionID string
	name      string
}

// Engine is the server: registry, store, subscription table and the
// listeners feeding them.
type Engine struct {
	config Config
	logger log.Logger

	clock    *nt.Clock
	registry *topic.Registry
	values   *store.Store
	subs     *subscription.Table
	handlers *rpc.Handlers

	mu         sync.RWMutex
	sessions   map[string]sessionHandle
	pendingPub map[pendingKey]int32
	pendingAck map[pendingKey]struct{}

	seqMu sync.Mutex
	seqs  map[int32]wirev3.SequenceNumber

	tcpServer *transport.TCPServer
	wsServer  *transport.WSServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates an engine. Call Start to begin accepting sessions.
func NewEngine(config Config) *Engine {
	if config.Identity == "" {
		config.Identity = "lagan-server"
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultFlushInterval
	}
	if config.Heartbeat.Interval <= 0 {
		config.Heartbeat = session.DefaultHeartbeatConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}

	e := &Engine{
		config:     config,
		logger:     logger,
		clock:      nt.NewClock(),
		registry:   topic.NewRegistry(),
		values:     store.NewStore(),
		subs:       subscription.NewTable(),
		handlers:   rpc.NewHandlers(),
		sessions:   make(map[string]sessionHandle),
		pendingPub: make(map[pendingKey]int32),
		pendingAck: make(map[pendingKey]struct{}),
		seqs:       make(map[int32]wirev3.SequenceNumber),
	}
	e.registry.SetWatcher(e)
	e.values.SetWriteHook(e.onWrite)
	return e
}

// Start brings up the configured listeners and the flush loop.
func (e *Engine) Start(ctx context.Context) error {
	if e.running.Load() {
		return fmt.Errorf("engine already running")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)

	if e.config.TCPAddress != "" {
		e.tcpServer = transport.NewTCPServer(transport.TCPServerConfig{
			Address:   e.config.TCPAddress,
			Logger:    e.logger,
			OnConnect: func(conn *transport.TCPConn) { e.runV3(conn) },
		})
		if err := e.tcpServer.Start(e.ctx); err != nil {
			return fmt.Errorf("v3 listener: %w", err)
		}
	}

	if e.config.WSAddress != "" {
		e.wsServer = transport.NewWSServer(transport.WSServerConfig{
			Address:   e.config.WSAddress,
			Logger:    e.logger,
			OnConnect: func(conn *transport.WSConn) { e.runV4(conn) },
		})
		if err := e.wsServer.Start(e.ctx); err != nil {
			if e.tcpServer != nil {
				e.tcpServer.Stop()
			}
			return fmt.Errorf("v4 listener: %w", err)
		}
	}

	e.running.Store(true)
	e.wg.Add(1)
	go e.flushLoop()
	return nil
}

// Stop closes the listeners and every session.
func (e *Engine) Stop() error {
	if !e.running.Load() {
		return nil
	}
	e.running.Store(false)
	e.cancel()

	if e.tcpServer != nil {
		e.tcpServer.Stop()
	}
	if e.wsServer != nil {
		e.wsServer.Stop()
	}

	e.mu.RLock()
	handles := make([]sessionHandle, 0, len(e.sessions))
	for _, s := range e.sessions {
		handles = append(handles, s)
	}
	e.mu.RUnlock()
	for _, s := range handles {
		s.CloseWith("server shutdown")
	}

	e.wg.Wait()
	return nil
}

// TCPAddr returns the bound v3 address, nil when v3 is disabled.
func (e *Engine) TCPAddr() net.Addr {
	if e.tcpServer == nil {
		return nil
	}
	return e.tcpServer.Addr()
}

// WSAddr returns the bound v4 address, nil when v4 is disabled.
func (e *Engine) WSAddr() net.Addr {
	if e.wsServer == nil {
		return nil
	}
	return e.wsServer.Addr()
}

// SessionCount returns the number of live sessions.
func (e *Engine) SessionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// Clock returns the engine's timestamp source.
func (e *Engine) Clock() *nt.Clock { return e.clock }

// Publish announces a topic owned by the embedding process.
func (e *Engine) Publish(name string, typ nt.ValueType, props nt.Properties) (topic.Info, error) {
	info, _, err := e.registry.Announce(name, typ, props, localOrigin)
	return info, err
}

// Unpublish retracts a local publisher.
func (e *Engine) Unpublish(id int32) error {
	_, err := e.registry.Unannounce(id, localOrigin)
	return err
}

// Write sets a topic's value from the embedding process. A zero
// timestamp is replaced by the engine clock.
func (e *Engine) Write(name string, value nt.Value) error {
	info, ok := e.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", topic.ErrNotFound, name)
	}
	if value.Time == 0 {
		value = value.WithTime(e.clock.Now())
	}
	return e.values.Write(info.ID, value, localOrigin)
}

// Read returns a topic's current value.
func (e *Engine) Read(name string) (nt.Value, bool) {
	info, ok := e.registry.Lookup(name)
	if !ok {
		return nt.Value{}, false
	}
	return e.values.Read(info.ID)
}

// Topics returns a snapshot of the registry, ordered by id.
func (e *Engine) Topics() []topic.Info {
	return e.registry.List()
}

// RegisterRPC publishes an RPC definition topic and binds its handler.
// Calls arrive over v3 RPCExecute; the definition blob is served as
// the topic's value.
func (e *Engine) RegisterRPC(name string, def []byte, handler rpc.Handler) (topic.Info, error) {
	info, _, err := e.registry.Announce(name, nt.TypeRaw, nt.Properties{"rpc": true}, localOrigin)
	if err != nil {
		return topic.Info{}, err
	}
	if err := e.values.Write(info.ID, nt.RawValue(def, e.clock.Now()), localOrigin); err != nil {
		return topic.Info{}, err
	}
	e.handlers.Register(info.ID, handler)
	return info, nil
}

// UnregisterRPC removes an RPC topic and its handler.
func (e *Engine) UnregisterRPC(id int32) error {
	e.handlers.Unregister(id)
	_, err := e.registry.Remove(id)
	return err
}

// onWrite is the store's accepted-write hook. It runs under the
// topic's slot lock, so per-topic dispatch order matches apply order.
func (e *Engine) onWrite(id int32, value nt.Value, origin string) {
	info, ok := e.registry.Get(id)
	if !ok {
		return
	}
	e.bumpSeq(id)
	e.subs.Record(subscription.Update{TopicID: id, Name: info.Name, Value: value}, origin)
}

// TopicAnnounced implements topic.Watcher.
func (e *Engine) TopicAnnounced(info topic.Info) {
	e.values.Assign(info.ID, info.Type, info.Epoch)

	e.mu.Lock()
	handles := make([]sessionHandle, 0, len(e.sessions))
	for _, s := range e.sessions {
		handles = append(handles, s)
	}
	pending := make(map[string]int32)
	for _, s := range handles {
		key := pendingKey{sessionID: s.ID(), name: info.Name}
		if pubuid, ok := e.pendingPub[key]; ok {
			pending[s.ID()] = pubuid
			delete(e.pendingPub, key)
		}
	}
	e.mu.Unlock()

	for _, s := range handles {
		pubuid, hasPub := pending[s.ID()]
		s.SendAnnounce(info, pubuid, hasPub)
	}
}

// TopicUnannounced implements topic.Watcher.
func (e *Engine) TopicUnannounced(info topic.Info) {
	e.values.Drop(info.ID, info.Epoch)
	e.seqMu.Lock()
	delete(e.seqs, info.ID)
	e.seqMu.Unlock()

	for _, s := range e.handles() {
		s.SendUnannounce(info)
	}
}

// TopicProperties implements topic.Watcher.
func (e *Engine) TopicProperties(info topic.Info, update nt.Properties) {
	e.mu.Lock()
	handles := make([]sessionHandle, 0, len(e.sessions))
	for _, s := range e.sessions {
		handles = append(handles, s)
	}
	acks := make(map[string]bool)
	for _, s := range handles {
		key := pendingKey{sessionID: s.ID(), name: info.Name}
		if _, ok := e.pendingAck[key]; ok {
			acks[s.ID()] = true
			delete(e.pendingAck, key)
		}
	}
	e.mu.Unlock()

	for _, s := range handles {
		s.SendProperties(info, update, acks[s.ID()])
	}
}

func (e *Engine) handles() []sessionHandle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]sessionHandle, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

func (e *Engine) addSession(s sessionHandle) {
	e.mu.Lock()
	e.sessions[s.ID()] = s
	e.mu.Unlock()
}

// removeSession tears down everything the session owned: its
// publishers, its subscriptions, and its pending correlations.
func (e *Engine) removeSession(id string) {
	e.mu.Lock()
	delete(e.sessions, id)
	for key := range e.pendingPub {
		if key.sessionID == id {
			delete(e.pendingPub, key)
		}
	}
	for key := range e.pendingAck {
		if key.sessionID == id {
			delete(e.pendingAck, key)
		}
	}
	e.mu.Unlock()

	e.subs.RemoveSession(id)
	e.registry.RemovePublisher(id)
}

// publish handles a session's publish request. The origin session is
// always answered with the pubuid-bearing announce, whether or not the
// topic already existed.
func (e *Engine) publish(s sessionHandle, name string, typ nt.ValueType, props nt.Properties, pubuid int32, hasPubUID bool) (topic.Info, error) {
	key := pendingKey{sessionID: s.ID(), name: name}
	if hasPubUID {
		e.mu.Lock()
		e.pendingPub[key] = pubuid
		e.mu.Unlock()
	}

	info, created, err := e.registry.Announce(name, typ, props, s.ID())
	if err != nil {
		e.mu.Lock()
		delete(e.pendingPub, key)
		e.mu.Unlock()
		return topic.Info{}, err
	}
	if !created {
		// Existing topic: no broadcast fired, answer directly.
		e.mu.Lock()
		delete(e.pendingPub, key)
		e.mu.Unlock()
		s.SendAnnounce(info, pubuid, hasPubUID)
	}
	return info, nil
}

func (e *Engine) setProperties(s sessionHandle, name string, update nt.Properties) error {
	info, ok := e.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", topic.ErrNotFound, name)
	}
	e.mu.Lock()
	e.pendingAck[pendingKey{sessionID: s.ID(), name: name}] = struct{}{}
	e.mu.Unlock()
	_, err := e.registry.SetProperties(info.ID, update)
	return err
}

// subscribe registers the subscription and seeds it with the current
// values of every matching topic so new subscribers converge without
// waiting for fresh writes.
func (e *Engine) subscribe(s sessionHandle, subuid int32, patterns []string, opts nt.SubscribeOptions) *subscription.Subscription {
	sub := e.subs.Subscribe(s.ID(), subuid, patterns, opts)
	for _, info := range e.registry.List() {
		if !sub.Matches(info.Name) {
			continue
		}
		if value, ok := e.values.Read(info.ID); ok {
			sub.Record(subscription.Update{TopicID: info.ID, Name: info.Name, Value: value})
		}
	}
	return sub
}

// writeValue applies a session's value write. A zero timestamp means
// the sender wants server time.
func (e *Engine) writeValue(s sessionHandle, id int32, value nt.Value) error {
	if value.Time == 0 {
		value = value.WithTime(e.clock.Now())
	}
	return e.values.Write(id, value, s.ID())
}

func (e *Engine) bumpSeq(id int32) wirev3.SequenceNumber {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	e.seqs[id] = e.seqs[id].Next()
	return e.seqs[id]
}

func (e *Engine) curSeq(id int32) wirev3.SequenceNumber {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	return e.seqs[id]
}

// flushLoop drains due subscriptions at FlushInterval granularity.
func (e *Engine) flushLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			e.flush(now)
		}
	}
}

func (e *Engine) flush(now time.Time) {
	for _, sub := range e.subs.Due(now) {
		updates := sub.Drain(now)
		if len(updates) == 0 {
			continue
		}
		e.mu.RLock()
		s, ok := e.sessions[sub.SessionID]
		e.mu.RUnlock()
		if !ok {
			continue
		}
		s.SendValues(updates)
	}
}
