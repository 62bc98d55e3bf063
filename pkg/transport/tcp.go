package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lagan-protocol/lagan-go/pkg/log"
)

const (
	// DefaultTCPPort is the well-known port for the v3 binary protocol.
	DefaultTCPPort = 1735

	// DefaultDialTimeout bounds outbound connection attempts.
	DefaultDialTimeout = 10 * time.Second
)

// TCPConn is a single accepted or dialed v3 byte stream. Writes are
// serialized; the read side is owned by exactly one session goroutine.
type TCPConn struct {
	conn    net.Conn
	id      string
	writeMu sync.Mutex
	closed  atomic.Bool
	logger  log.Logger
}

func newTCPConn(conn net.Conn, logger log.Logger) *TCPConn {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &TCPConn{conn: conn, id: uuid.New().String(), logger: logger}
}

// ID returns the connection's unique identifier.
func (c *TCPConn) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *TCPConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Read reads raw stream bytes. It is intended to back a wire decoder.
func (c *TCPConn) Read(p []byte) (int, error) { return c.conn.Read(p) }

// Write sends an encoded frame. Concurrent callers are serialized.
func (c *TCPConn) Write(frame []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	n, err := c.conn.Write(frame)
	if err == nil {
		c.logger.Log(log.FrameOf(c.id, log.DirectionOut, log.LayerTransport, frame))
	}
	return n, err
}

// SetReadDeadline sets the deadline for stream reads.
func (c *TCPConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

// Close closes the underlying socket. It is safe to call more than once.
func (c *TCPConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// TCPServerConfig configures a v3 listener.
type TCPServerConfig struct {
	// Address to listen on (e.g., ":1735" or "127.0.0.1:1735").
	Address string

	// Logger for wire logging (optional).
	Logger log.Logger

	// OnConnect is called once per accepted connection, on its own
	// goroutine. The callback owns the connection's read loop.
	OnConnect func(conn *TCPConn)

	// OnError is called for accept failures while the server runs.
	OnError func(err error)
}

// TCPServer accepts v3 protocol connections on plain TCP.
type TCPServer struct {
	config   TCPServerConfig
	listener net.Listener

	conns   map[*TCPConn]struct{}
	connsMu sync.Mutex

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewTCPServer creates a v3 listener with the given configuration.
func NewTCPServer(config TCPServerConfig) *TCPServer {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultTCPPort)
	}
	return &TCPServer{
		config: config,
		conns:  make(map[*TCPConn]struct{}),
	}
}

// Start begins accepting connections.
func (s *TCPServer) Start(ctx context.Context) error {
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

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop stops the listener and closes all accepted connections.
func (s *TCPServer) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	if s.listener != nil {
		s.listener.Close()
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
func (s *TCPServer) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of live accepted connections.
func (s *TCPServer) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() && s.config.OnError != nil {
				s.config.OnError(fmt.Errorf("accept error: %w", err))
			}
			if !s.running.Load() {
				return
			}
			continue
		}

		tconn := newTCPConn(conn, s.config.Logger)
		s.connsMu.Lock()
		s.conns[tconn] = struct{}{}
		s.connsMu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				tconn.Close()
				s.connsMu.Lock()
				delete(s.conns, tconn)
				s.connsMu.Unlock()
			}()
			if s.config.OnConnect != nil {
				s.config.OnConnect(tconn)
			}
		}()
	}
}

// DialTCP opens a v3 client connection to the given address.
func DialTCP(ctx context.Context, address string, logger log.Logger) (*TCPConn, error) {
	dialer := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	return newTCPConn(conn, logger), nil
}
