package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagan-protocol/lagan-go/pkg/client"
	"github.com/lagan-protocol/lagan-go/pkg/connection"
	"github.com/lagan-protocol/lagan-go/pkg/nt"
	"github.com/lagan-protocol/lagan-go/pkg/server"
	"github.com/lagan-protocol/lagan-go/pkg/session"
	"github.com/lagan-protocol/lagan-go/pkg/topic"
)

func startEngine(t *testing.T) *server.Engine {
	t.Helper()
	cfg := server.DefaultEngineConfig()
	cfg.TCPAddress = "127.0.0.1:0"
	cfg.WSAddress = "127.0.0.1:0"
	cfg.FlushInterval = 5 * time.Millisecond
	e := server.NewEngine(cfg)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { e.Stop() })
	return e
}

func connect(t *testing.T, cfg client.Config) *client.Client {
	t.Helper()
	c, err := client.New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func connectV4(t *testing.T, e *server.Engine) *client.Client {
	t.Helper()
	return connect(t, client.Config{
		Identity: "test-v4",
		Server:   e.WSAddr().String(),
		Version:  session.Version4,
	})
}

func connectV3(t *testing.T, e *server.Engine) *client.Client {
	t.Helper()
	return connect(t, client.Config{
		Identity: "test-v3",
		Server:   e.TCPAddr().String(),
		Version:  session.Version3,
	})
}

func TestV4PublishAndSet(t *testing.T) {
	e := startEngine(t)
	c := connectV4(t, e)

	pub, err := c.Publish("/sensors/temp", nt.TypeDouble, nil)
	require.NoError(t, err)

	// Set before the announce echo arrives; the value is held and
	// flushed once the topic id resolves.
	require.NoError(t, pub.Set(nt.DoubleValue(21.5, 0)))

	require.Eventually(t, func() bool {
		v, ok := e.Read("/sensors/temp")
		return ok && v.Double == 21.5
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, pub.Set(nt.DoubleValue(22.0, 0)))
	require.Eventually(t, func() bool {
		v, ok := e.Read("/sensors/temp")
		return ok && v.Double == 22.0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestV4SubscribeReceivesValues(t *testing.T) {
	e := startEngine(t)

	_, err := e.Publish("/state/mode", nt.TypeString, nil)
	require.NoError(t, err)
	require.NoError(t, e.Write("/state/mode", nt.StringValue("auto", 0)))

	c := connectV4(t, e)

	updates := make(chan client.Update, 16)
	_, err = c.Subscribe([]string{"/state/"}, nt.SubscribeOptions{Prefix: true}, func(u client.Update) {
		updates <- u
	})
	require.NoError(t, err)

	// The subscription seeds the current value.
	u := recvUpdate(t, updates)
	assert.Equal(t, "/state/mode", u.Name)
	assert.Equal(t, "auto", u.Value.Str)

	// Live writes stream through.
	require.NoError(t, e.Write("/state/mode", nt.StringValue("manual", 0)))
	u = recvUpdate(t, updates)
	assert.Equal(t, "manual", u.Value.Str)

	// The cache tracks the latest value.
	require.Eventually(t, func() bool {
		v, ok := c.Value("/state/mode")
		return ok && v.Str == "manual"
	}, 2*time.Second, 10*time.Millisecond)
}

func recvUpdate(t *testing.T, ch chan client.Update) client.Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return client.Update{}
	}
}

func TestV4AnnouncementCallbacks(t *testing.T) {
	e := startEngine(t)

	info, err := e.Publish("/config/rate", nt.TypeInt, nt.Properties{"retained": true})
	require.NoError(t, err)

	announced := make(chan topic.Info, 4)
	gone := make(chan topic.Info, 4)
	connect(t, client.Config{
		Identity:     "cache-watcher",
		Server:       e.WSAddr().String(),
		Version:      session.Version4,
		OnAnnounce:   func(ti topic.Info) { announced <- ti },
		OnUnannounce: func(ti topic.Info) { gone <- ti },
	})

	select {
	case ti := <-announced:
		assert.Equal(t, "/config/rate", ti.Name)
		assert.Equal(t, nt.TypeInt, ti.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for announce")
	}

	require.NoError(t, e.Unpublish(info.ID))
	select {
	case ti := <-gone:
		assert.Equal(t, "/config/rate", ti.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unannounce")
	}
}

func TestV4Unannounce(t *testing.T) {
	e := startEngine(t)

	info, err := e.Publish("/tmp/scratch", nt.TypeDouble, nil)
	require.NoError(t, err)

	c := connectV4(t, e)
	require.Eventually(t, func() bool {
		_, ok := c.Topic("/tmp/scratch")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e.Unpublish(info.ID))
	require.Eventually(t, func() bool {
		_, ok := c.Topic("/tmp/scratch")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestV4SetProperties(t *testing.T) {
	e := startEngine(t)
	c := connectV4(t, e)

	pub, err := c.Publish("/config/gain", nt.TypeDouble, nil)
	require.NoError(t, err)
	require.NoError(t, pub.Set(nt.DoubleValue(1.0, 0)))

	require.Eventually(t, func() bool {
		_, ok := c.Topic("/config/gain")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.SetProperties("/config/gain", nt.Properties{"persistent": true}))

	require.Eventually(t, func() bool {
		info, ok := c.Topic("/config/gain")
		return ok && info.Properties.Persistent()
	}, 2*time.Second, 10*time.Millisecond)

	for _, info := range e.Topics() {
		if info.Name == "/config/gain" {
			assert.True(t, info.Properties.Persistent())
		}
	}
}

func TestV4TimestampSync(t *testing.T) {
	e := startEngine(t)
	c := connectV4(t, e)

	diff := int64(c.Clock().Now()) - int64(e.Clock().Now())
	if diff < 0 {
		diff = -diff
	}
	// Loopback round trips keep the offset well under this bound.
	assert.Less(t, diff, int64(200_000), "client clock should track server time")
}

func TestV4ReconnectResync(t *testing.T) {
	cfg := server.DefaultEngineConfig()
	cfg.TCPAddress = "127.0.0.1:0"
	cfg.WSAddress = "127.0.0.1:0"
	cfg.FlushInterval = 5 * time.Millisecond
	e1 := server.NewEngine(cfg)
	require.NoError(t, e1.Start(context.Background()))
	wsAddr := e1.WSAddr().String()

	backoff := connection.NewBackoff(connection.BackoffConfig{
		Initial:    20 * time.Millisecond,
		Max:        50 * time.Millisecond,
		Multiplier: 1.5,
	})
	c := connect(t, client.Config{
		Identity:  "resilient",
		Server:    wsAddr,
		Version:   session.Version4,
		Reconnect: true,
		Backoff:   backoff,
	})

	pub, err := c.Publish("/heartbeat/count", nt.TypeInt, nil)
	require.NoError(t, err)
	require.NoError(t, pub.Set(nt.IntValue(1, 0)))

	updates := make(chan client.Update, 16)
	_, err = c.Subscribe([]string{"/heartbeat/"}, nt.SubscribeOptions{Prefix: true}, func(u client.Update) {
		updates <- u
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, ok := e1.Read("/heartbeat/count")
		return ok && v.Int == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Kill the server and bring a fresh one up on the same port. The
	// client must start a new session and replay its publishers and
	// subscriptions.
	require.NoError(t, e1.Stop())

	cfg2 := server.DefaultEngineConfig()
	cfg2.TCPAddress = "127.0.0.1:0"
	cfg2.WSAddress = wsAddr
	cfg2.FlushInterval = 5 * time.Millisecond
	var e2 *server.Engine
	require.Eventually(t, func() bool {
		e := server.NewEngine(cfg2)
		if e.Start(context.Background()) != nil {
			return false
		}
		e2 = e
		return true
	}, 5*time.Second, 50*time.Millisecond)
	t.Cleanup(func() { e2.Stop() })

	require.Eventually(t, func() bool {
		return c.Connected()
	}, 5*time.Second, 20*time.Millisecond)

	// The publisher survives the reconnect.
	require.NoError(t, pub.Set(nt.IntValue(2, 0)))
	require.Eventually(t, func() bool {
		v, ok := e2.Read("/heartbeat/count")
		return ok && v.Int == 2
	}, 5*time.Second, 10*time.Millisecond)

	// So does the subscription.
	_, err = e2.Publish("/heartbeat/other", nt.TypeInt, nil)
	require.NoError(t, err)
	require.NoError(t, e2.Write("/heartbeat/other", nt.IntValue(7, 0)))
	require.Eventually(t, func() bool {
		select {
		case u := <-updates:
			return u.Name == "/heartbeat/other" && u.Value.Int == 7
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestV3PublishAndRead(t *testing.T) {
	e := startEngine(t)
	c := connectV3(t, e)

	pub, err := c.Publish("/drive/speed", nt.TypeDouble, nil)
	require.NoError(t, err)

	// First value creates the entry; the server assigns the id and
	// echoes the assignment back.
	require.NoError(t, pub.Set(nt.DoubleValue(0.5, 0)))
	require.Eventually(t, func() bool {
		v, ok := e.Read("/drive/speed")
		return ok && v.Double == 0.5
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := c.Topic("/drive/speed")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// Later values travel as sequenced updates.
	require.NoError(t, pub.Set(nt.DoubleValue(0.75, 0)))
	require.Eventually(t, func() bool {
		v, ok := e.Read("/drive/speed")
		return ok && v.Double == 0.75
	}, 2*time.Second, 10*time.Millisecond)
}

func TestV3SnapshotOnConnect(t *testing.T) {
	e := startEngine(t)

	_, err := e.Publish("/existing", nt.TypeString, nil)
	require.NoError(t, err)
	require.NoError(t, e.Write("/existing", nt.StringValue("hello", 0)))

	c := connectV3(t, e)

	// The handshake snapshot lands before Connect returns.
	info, ok := c.Topic("/existing")
	require.True(t, ok)
	assert.Equal(t, nt.TypeString, info.Type)
	v, ok := c.Value("/existing")
	require.True(t, ok)
	assert.Equal(t, "hello", v.Str)
}

func TestV3ReceivesLiveUpdates(t *testing.T) {
	e := startEngine(t)
	c := connectV3(t, e)

	updates := make(chan client.Update, 16)
	_, err := c.Subscribe([]string{"/live/"}, nt.SubscribeOptions{Prefix: true}, func(u client.Update) {
		updates <- u
	})
	require.NoError(t, err)

	_, err = e.Publish("/live/counter", nt.TypeDouble, nil)
	require.NoError(t, err)
	require.NoError(t, e.Write("/live/counter", nt.DoubleValue(3.0, 0)))

	u := recvUpdate(t, updates)
	assert.Equal(t, "/live/counter", u.Name)
	assert.Equal(t, 3.0, u.Value.Double)
}

func TestV3RPC(t *testing.T) {
	e := startEngine(t)

	_, err := e.RegisterRPC("/rpc/echo", []byte{0x01}, func(params []byte) ([]byte, error) {
		out := append([]byte("echo:"), params...)
		return out, nil
	})
	require.NoError(t, err)

	c := connectV3(t, e)

	require.Eventually(t, func() bool {
		_, ok := c.Topic("/rpc/echo")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	result, err := c.CallRPC(context.Background(), "/rpc/echo", []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, []byte("echo:ping"), result)
}

func TestCallRPCOnV4Fails(t *testing.T) {
	e := startEngine(t)
	c := connectV4(t, e)

	_, err := c.CallRPC(context.Background(), "/rpc/echo", nil)
	assert.Error(t, err)
}

func TestClientClosedErrors(t *testing.T) {
	e := startEngine(t)
	c := connectV4(t, e)
	c.Close()

	_, err := c.Publish("/x", nt.TypeDouble, nil)
	assert.ErrorIs(t, err, client.ErrClosed)
	_, err = c.Subscribe([]string{""}, nt.SubscribeOptions{Prefix: true}, nil)
	assert.ErrorIs(t, err, client.ErrClosed)
}
