package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPRoundTrip(t *testing.T) {
	received := make(chan []byte, 1)
	server := NewTCPServer(TCPServerConfig{
		Address: "127.0.0.1:0",
		OnConnect: func(conn *TCPConn) {
			buf := make([]byte, 16)
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			received <- buf[:n]
			conn.Write([]byte{0xAA, 0xBB})
		},
	})
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	conn, err := DialTCP(context.Background(), server.Addr().String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, []byte{0x01, 0x02, 0x03}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received payload")
	}

	reply := make([]byte, 16)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(reply)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, reply[:n])
}

func TestTCPConcurrentWrites(t *testing.T) {
	done := make(chan struct{})
	server := NewTCPServer(TCPServerConfig{
		Address: "127.0.0.1:0",
		OnConnect: func(conn *TCPConn) {
			buf := make([]byte, 4096)
			total := 0
			for total < 400 {
				n, err := conn.Read(buf)
				if err != nil {
					return
				}
				total += n
			}
			close(done)
		},
	})
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	conn, err := DialTCP(context.Background(), server.Addr().String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := make([]byte, 100)
			_, err := conn.Write(payload)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received all bytes")
	}
}

func TestTCPServerStop(t *testing.T) {
	server := NewTCPServer(TCPServerConfig{Address: "127.0.0.1:0"})
	require.NoError(t, server.Start(context.Background()))
	addr := server.Addr().String()
	require.NoError(t, server.Stop())

	// Stopping twice is a no-op.
	require.NoError(t, server.Stop())

	_, err := DialTCP(context.Background(), addr, nil)
	assert.Error(t, err)
}

func TestWSRoundTrip(t *testing.T) {
	type frame struct {
		kind FrameKind
		data []byte
	}
	received := make(chan frame, 2)
	names := make(chan string, 1)

	server := NewWSServer(WSServerConfig{
		Address: "127.0.0.1:0",
		OnConnect: func(conn *WSConn) {
			names <- conn.Name()
			for {
				kind, data, err := conn.ReadFrame()
				if err != nil {
					return
				}
				received <- frame{kind, data}
			}
		},
	})
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	conn, err := DialWS(context.Background(), server.Addr().String(), "robot", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteText([]byte(`[{"method":"publish"}]`)))
	require.NoError(t, conn.WriteBinary([]byte{0x94, 0x01, 0x00, 0x01}))

	select {
	case name := <-names:
		assert.Equal(t, "robot", name)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw connection")
	}

	for i := 0; i < 2; i++ {
		select {
		case f := <-received:
			switch f.kind {
			case FrameText:
				assert.Equal(t, []byte(`[{"method":"publish"}]`), f.data)
			case FrameBinary:
				assert.Equal(t, []byte{0x94, 0x01, 0x00, 0x01}, f.data)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("frame never arrived")
		}
	}
}

func TestWSRejectsMissingName(t *testing.T) {
	server := NewWSServer(WSServerConfig{Address: "127.0.0.1:0"})
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	_, err := DialWS(context.Background(), server.Addr().String(), "", nil)
	assert.Error(t, err)
}

func TestWSServerToClient(t *testing.T) {
	server := NewWSServer(WSServerConfig{
		Address: "127.0.0.1:0",
		OnConnect: func(conn *WSConn) {
			conn.WriteText([]byte(`[]`))
			// Keep the read side open until the client hangs up.
			conn.ReadFrame()
		},
	})
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	conn, err := DialWS(context.Background(), server.Addr().String(), "dash", nil)
	require.NoError(t, err)
	defer conn.Close()

	kind, data, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, FrameText, kind)
	assert.Equal(t, []byte(`[]`), data)
}
