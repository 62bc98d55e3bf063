package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lagan-protocol/lagan-go/pkg/log"
	wirev4 "github.com/lagan-protocol/lagan-go/pkg/wire/v4"
)

// FrameKind distinguishes the two v4 frame channels.
type FrameKind uint8

const (
	// FrameText carries a JSON control batch.
	FrameText FrameKind = iota
	// FrameBinary carries MessagePack data messages.
	FrameBinary
)

const (
	// wsWriteTimeout bounds a single frame write.
	wsWriteTimeout = 10 * time.Second

	// wsPongTimeout is how long a connection may go without any
	// inbound traffic before reads fail.
	wsPongTimeout = 10 * time.Second

	// wsMaxFrameSize caps inbound frames.
	wsMaxFrameSize = 1 << 20
)

// ErrUnexpectedFrame is returned when the peer sends a frame that is
// neither text nor binary data.
var ErrUnexpectedFrame = errors.New("unexpected websocket frame type")

// WSConn is a single v4 WebSocket connection. Reads are owned by one
// session goroutine; writes from any goroutine are serialized.
type WSConn struct {
	conn    *websocket.Conn
	id      string
	name    string
	writeMu sync.Mutex
	closed  atomic.Bool
	logger  log.Logger

	pongMu sync.Mutex
	onPong func()
}

func newWSConn(conn *websocket.Conn, name string, logger log.Logger) *WSConn {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	c := &WSConn{conn: conn, id: uuid.New().String(), name: name, logger: logger}
	conn.SetReadLimit(wsMaxFrameSize)
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return c.writeControl(websocket.PongMessage, []byte(appData))
	})
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		c.pongMu.Lock()
		fn := c.onPong
		c.pongMu.Unlock()
		if fn != nil {
			fn()
		}
		return nil
	})
	return c
}

// SetPongCallback installs a liveness callback fired on every pong.
func (c *WSConn) SetPongCallback(fn func()) {
	c.pongMu.Lock()
	c.onPong = fn
	c.pongMu.Unlock()
}

// ID returns the connection's unique identifier.
func (c *WSConn) ID() string { return c.id }

// Name returns the client name taken from the connection path.
func (c *WSConn) Name() string { return c.name }

// RemoteAddr returns the peer address.
func (c *WSConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// ReadFrame blocks until the next text or binary frame arrives.
func (c *WSConn) ReadFrame() (FrameKind, []byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, nil, err
		}
		c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		switch msgType {
		case websocket.TextMessage:
			c.logger.Log(log.FrameOf(c.id, log.DirectionIn, log.LayerControl, data))
			return FrameText, data, nil
		case websocket.BinaryMessage:
			c.logger.Log(log.FrameOf(c.id, log.DirectionIn, log.LayerData, data))
			return FrameBinary, data, nil
		default:
			return 0, nil, ErrUnexpectedFrame
		}
	}
}

// WriteText sends a JSON control batch.
func (c *WSConn) WriteText(data []byte) error {
	if err := c.write(websocket.TextMessage, data); err != nil {
		return err
	}
	c.logger.Log(log.FrameOf(c.id, log.DirectionOut, log.LayerControl, data))
	return nil
}

// WriteBinary sends a MessagePack data frame.
func (c *WSConn) WriteBinary(data []byte) error {
	if err := c.write(websocket.BinaryMessage, data); err != nil {
		return err
	}
	c.logger.Log(log.FrameOf(c.id, log.DirectionOut, log.LayerData, data))
	return nil
}

// Ping sends a WebSocket ping frame.
func (c *WSConn) Ping() error {
	return c.writeControl(websocket.PingMessage, nil)
}

func (c *WSConn) write(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(msgType, data)
}

func (c *WSConn) writeControl(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(msgType, data, time.Now().Add(wsWriteTimeout))
}

// Close sends a close frame on a best-effort basis, then drops the
// socket. It is safe to call more than once.
func (c *WSConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// WSServerConfig configures a v4 WebSocket listener.
type WSServerConfig struct {
	// Address to listen on (e.g., ":5810").
	Address string

	// Logger for wire logging (optional).
	Logger log.Logger

	// OnConnect is called once per upgraded connection, on its own
	// goroutine. The callback owns the connection's read loop.
	OnConnect func(conn *WSConn)

	// OnError is called for upgrade failures while the server runs.
	OnError func(err error)
}

// WSServer accepts v4 protocol connections over WebSocket.
type WSServer struct {
	config     WSServerConfig
	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader

	conns   map[*WSConn]struct{}
	connsMu sync.Mutex

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewWSServer creates a v4 listener with the given configuration.
func NewWSServer(config WSServerConfig) *WSServer {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", wirev4.DefaultPort)
	}
	return &WSServer{
		config: config,
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{wirev4.Subprotocol},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The protocol carries no browser credentials.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*WSConn]struct{}),
	}
}

// Start begins serving WebSocket upgrades.
func (s *WSServer) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.running.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc(wirev4.PathPrefix, s.handleUpgrade)
	s.httpServer = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.httpServer.Serve(listener)
	}()

	return nil
}

// Stop stops the listener and closes all connections.
func (s *WSServer) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	if s.httpServer != nil {
		s.httpServer.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the bound listen address.
func (s *WSServer) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of live connections.
func (s *WSServer) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, wirev4.PathPrefix)
	if name == "" {
		http.Error(w, "client name required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.config.OnError != nil {
			s.config.OnError(fmt.Errorf("upgrade failed: %w", err))
		}
		return
	}
	if conn.Subprotocol() != wirev4.Subprotocol {
		conn.Close()
		if s.config.OnError != nil {
			s.config.OnError(fmt.Errorf("client %q offered no %s subprotocol", name, wirev4.Subprotocol))
		}
		return
	}

	wconn := newWSConn(conn, name, s.config.Logger)
	s.connsMu.Lock()
	s.conns[wconn] = struct{}{}
	s.connsMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			wconn.Close()
			s.connsMu.Lock()
			delete(s.conns, wconn)
			s.connsMu.Unlock()
		}()
		if s.config.OnConnect != nil {
			s.config.OnConnect(wconn)
		}
	}()
}

// DialWS opens a v4 client connection to the given host:port,
// identifying as clientName in the connection path.
func DialWS(ctx context.Context, address, clientName string, logger log.Logger) (*WSConn, error) {
	u := url.URL{Scheme: "ws", Host: address, Path: wirev4.PathPrefix + clientName}
	dialer := websocket.Dialer{
		Subprotocols:     []string{wirev4.Subprotocol},
		HandshakeTimeout: DefaultDialTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u.String(), err)
	}
	if conn.Subprotocol() != wirev4.Subprotocol {
		conn.Close()
		return nil, fmt.Errorf("server did not accept %s subprotocol", wirev4.Subprotocol)
	}
	return newWSConn(conn, clientName, logger), nil
}
