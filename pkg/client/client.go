package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lagan-protocol/lagan-go/pkg/connection"
	"github.com/lagan-protocol/lagan-go/pkg/log"
	"github.com/lagan-protocol/lagan-go/pkg/nt"
	"github.com/lagan-protocol/lagan-go/pkg/session"
	"github.com/lagan-protocol/lagan-go/pkg/topic"
)

// Client errors.
var (
	ErrNotConnected   = errors.New("client not connected")
	ErrClosed         = errors.New("client closed")
	ErrUnknownVersion = errors.New("unsupported protocol version")
)

// Update is one value notification delivered to a subscriber callback.
type Update struct {
	TopicID int32
	Name    string
	Value   nt.Value
}

// Config configures a Client.
type Config struct {
	// Identity is the name presented to the server.
	Identity string

	// Server is the host:port of the server.
	Server string

	// Version selects the wire protocol.
	Version session.Version

	// Reconnect enables automatic reconnection with backoff.
	Reconnect bool

	// Backoff overrides the default reconnect backoff schedule.
	Backoff *connection.Backoff

	// Heartbeat configures liveness monitoring of the link.
	Heartbeat session.HeartbeatConfig

	// Logger for protocol logging (optional).
	Logger log.Logger

	// OnAnnounce is called when the server announces a topic (optional).
	OnAnnounce func(info topic.Info)

	// OnUnannounce is called when a topic ceases to exist (optional).
	OnUnannounce func(info topic.Info)

	// OnDisconnect is called when the link drops (optional).
	OnDisconnect func()
}

// link is the protocol-version-specific half of a client: one live
// connection speaking v3 or v4.
type link interface {
	sendPublish(p *Publisher) error
	sendUnpublish(p *Publisher) error
	sendSetProperties(name string, update nt.Properties) error
	sendSubscribe(s *Subscriber) error
	sendUnsubscribe(s *Subscriber) error
	sendValue(p *Publisher, value nt.Value) error
	callRPC(ctx context.Context, name string, params []byte) ([]byte, error)
	close()
}

// Client is a connection-managing engine client.
type Client struct {
	config  Config
	logger  log.Logger
	clock   *nt.Clock
	manager *connection.Manager

	mu     sync.RWMutex
	link   link
	closed bool

	nextPubUID int32
	nextSubUID int32
	pubs       map[int32]*Publisher  // by pubuid
	subs       map[int32]*Subscriber // by subuid

	topics map[string]topic.Info
	byID   map[int32]string
	values map[int32]nt.Value
}

// New creates a client. Call Connect to establish the link.
func New(config Config) (*Client, error) {
	if config.Server == "" {
		return nil, fmt.Errorf("server address is required")
	}
	if config.Identity == "" {
		config.Identity = "lagan-client"
	}
	if config.Version == session.VersionUnknown {
		config.Version = session.Version4
	}
	if config.Version != session.Version3 && config.Version != session.Version4 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, config.Version)
	}
	if config.Heartbeat.Interval <= 0 {
		config.Heartbeat = session.DefaultHeartbeatConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}

	c := &Client{
		config: config,
		logger: logger,
		clock:  nt.NewClock(),
		pubs:   make(map[int32]*Publisher),
		subs:   make(map[int32]*Subscriber),
		topics: make(map[string]topic.Info),
		byID:   make(map[int32]string),
		values: make(map[int32]nt.Value),
	}

	c.manager = connection.NewManager(c.dial, config.Backoff)
	c.manager.SetAutoReconnect(config.Reconnect)
	c.manager.OnConnected(func(uint64) { c.resync() })
	c.manager.OnDisconnected(func() {
		c.dropLink()
		if config.OnDisconnect != nil {
			config.OnDisconnect()
		}
	})
	return c, nil
}

// Connect establishes the link and blocks until the first attempt
// resolves. With Reconnect enabled, a failed first attempt still
// leaves the retry loop running.
func (c *Client) Connect(ctx context.Context) error {
	return c.manager.Connect(ctx)
}

// Connected reports whether the link is up.
func (c *Client) Connected() bool {
	return c.manager.IsConnected()
}

// Close tears the client down. Handles become inert.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	l := c.link
	c.link = nil
	c.mu.Unlock()

	c.manager.Close()
	if l != nil {
		l.close()
	}
}

// Clock returns the client's server-synchronized clock.
func (c *Client) Clock() *nt.Clock { return c.clock }

// dial is the connection manager's connect function.
func (c *Client) dial(ctx context.Context, _ uint64) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	var (
		l   link
		err error
	)
	switch c.config.Version {
	case session.Version3:
		l, err = c.dialV3(ctx)
	default:
		l, err = c.dialV4(ctx)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.link = l
	c.mu.Unlock()
	return nil
}

// dropLink clears connection-scoped state. Topic ids and cached
// values are meaningless in the next session.
func (c *Client) dropLink() {
	c.mu.Lock()
	if c.link != nil {
		c.link.close()
		c.link = nil
	}
	c.topics = make(map[string]topic.Info)
	c.byID = make(map[int32]string)
	c.values = make(map[int32]nt.Value)
	for _, p := range c.pubs {
		p.reset()
	}
	c.mu.Unlock()
}

// resync pushes the client's publishers and subscriptions into the
// new session. The server's snapshot repopulates the cache.
func (c *Client) resync() {
	c.mu.RLock()
	l := c.link
	pubs := make([]*Publisher, 0, len(c.pubs))
	for _, p := range c.pubs {
		pubs = append(pubs, p)
	}
	subs := make([]*Subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.RUnlock()
	if l == nil {
		return
	}

	for _, p := range pubs {
		if err := l.sendPublish(p); err != nil {
			c.logger.Log(log.ErrorOf("", log.LayerControl, err))
		}
	}
	for _, s := range subs {
		if err := l.sendSubscribe(s); err != nil {
			c.logger.Log(log.ErrorOf("", log.LayerControl, err))
		}
	}
}

// connectionLost is called by links when their read loop ends.
func (c *Client) connectionLost() {
	c.manager.ConnectionLost()
}

func (c *Client) currentLink() (link, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.link == nil {
		return nil, ErrNotConnected
	}
	return c.link, nil
}

// Publish creates a publisher handle for a topic. The announcement is
// sent immediately when connected, and re-sent on every reconnect.
func (c *Client) Publish(name string, typ nt.ValueType, props nt.Properties) (*Publisher, error) {
	if name == "" {
		return nil, topic.ErrInvalidName
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextPubUID++
	p := &Publisher{
		client: c,
		name:   name,
		typ:    typ,
		props:  props.Clone(),
		pubuid: c.nextPubUID,
	}
	p.topicID = -1
	c.pubs[p.pubuid] = p
	l := c.link
	c.mu.Unlock()

	if l != nil {
		if err := l.sendPublish(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Subscribe creates a subscription. The callback runs on the link's
// read goroutine; it must not block.
func (c *Client) Subscribe(patterns []string, opts nt.SubscribeOptions, callback func(Update)) (*Subscriber, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextSubUID++
	s := &Subscriber{
		client:   c,
		subuid:   c.nextSubUID,
		patterns: append([]string(nil), patterns...),
		opts:     opts.ApplyDefaults(),
		callback: callback,
	}
	c.subs[s.subuid] = s
	l := c.link
	c.mu.Unlock()

	if l != nil {
		if err := l.sendSubscribe(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetProperties patches a topic's properties.
func (c *Client) SetProperties(name string, update nt.Properties) error {
	l, err := c.currentLink()
	if err != nil {
		return err
	}
	return l.sendSetProperties(name, update)
}

// CallRPC executes a remote procedure on the server. Only v3 sessions
// carry RPC traffic.
func (c *Client) CallRPC(ctx context.Context, name string, params []byte) ([]byte, error) {
	l, err := c.currentLink()
	if err != nil {
		return nil, err
	}
	return l.callRPC(ctx, name, params)
}

// Topics returns the cached topic snapshot.
func (c *Client) Topics() []topic.Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]topic.Info, 0, len(c.topics))
	for _, info := range c.topics {
		out = append(out, info)
	}
	return out
}

// Topic returns the cached info for a topic name.
func (c *Client) Topic(name string) (topic.Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.topics[name]
	return info, ok
}

// Value returns the cached value for a topic name. Only subscribed
// topics have cached values.
func (c *Client) Value(name string) (nt.Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.topics[name]
	if !ok {
		return nt.Value{}, false
	}
	v, ok := c.values[info.ID]
	return v, ok
}

// cacheAnnounce records a server announcement and resolves any
// publisher waiting for its topic id.
func (c *Client) cacheAnnounce(info topic.Info, pubuid int32, hasPubUID bool) {
	var pending *Publisher
	c.mu.Lock()
	c.topics[info.Name] = info
	c.byID[info.ID] = info.Name
	if hasPubUID {
		if p, ok := c.pubs[pubuid]; ok {
			p.setTopicID(info.ID)
			pending = p
		}
	} else {
		// v3 has no pubuid; match announcements to publishers by name.
		for _, p := range c.pubs {
			if p.name == info.Name {
				p.setTopicID(info.ID)
				pending = p
			}
		}
	}
	c.mu.Unlock()

	if pending != nil {
		pending.flushPending()
	}
	if c.config.OnAnnounce != nil {
		c.config.OnAnnounce(info)
	}
}

func (c *Client) cacheUnannounce(id int32) {
	c.mu.Lock()
	name, ok := c.byID[id]
	var info topic.Info
	if ok {
		info = c.topics[name]
		delete(c.topics, name)
		delete(c.byID, id)
		delete(c.values, id)
		for _, p := range c.pubs {
			if p.name == name {
				p.reset()
			}
		}
	}
	c.mu.Unlock()

	if ok && c.config.OnUnannounce != nil {
		c.config.OnUnannounce(info)
	}
}

func (c *Client) cacheProperties(name string, update nt.Properties) {
	c.mu.Lock()
	if info, ok := c.topics[name]; ok {
		info.Properties = info.Properties.Merge(update)
		c.topics[name] = info
	}
	c.mu.Unlock()
}

// dispatchValue caches a received value and fans it out to matching
// subscribers.
func (c *Client) dispatchValue(id int32, value nt.Value) {
	c.mu.Lock()
	name, ok := c.byID[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	cached := true
	if info, found := c.topics[name]; found {
		cached = info.Properties.Cached()
	}
	if cached {
		c.values[id] = value
	}
	subs := make([]*Subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	u := Update{TopicID: id, Name: name, Value: value}
	for _, s := range subs {
		if s.opts.TopicsOnly || s.callback == nil {
			continue
		}
		if s.matches(name) {
			s.callback(u)
		}
	}
}

// matchesPattern is shared prefix/exact matching for client-side
// subscriptions.
func matchesPattern(patterns []string, prefix bool, name string) bool {
	for _, p := range patterns {
		if prefix {
			if strings.HasPrefix(name, p) {
				return true
			}
		} else if name == p {
			return true
		}
	}
	return false
}
