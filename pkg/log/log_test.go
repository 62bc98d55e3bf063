package log

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameOfTruncation(t *testing.T) {
	small := FrameOf("conn1", DirectionIn, LayerTransport, make([]byte, 100))
	require.NotNil(t, small.Frame)
	assert.Equal(t, 100, small.Frame.Size)
	assert.False(t, small.Frame.Truncated)

	big := FrameOf("conn1", DirectionOut, LayerTransport, make([]byte, MaxCapturedFrame+1))
	assert.Equal(t, MaxCapturedFrame+1, big.Frame.Size)
	assert.Len(t, big.Frame.Data, MaxCapturedFrame)
	assert.True(t, big.Frame.Truncated)
}

func TestCaptureRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	cw := NewCaptureWriter(&buf)

	events := []Event{
		FrameOf("conn1", DirectionIn, LayerTransport, []byte{1, 2, 3}),
		MessageOf("conn1", DirectionIn, LayerControl, "publish", 3, "/robot/speed"),
		StateOf("conn1", "CONNECTING", "VERSION_NEGOTIATED", ""),
		ErrorOf("conn1", LayerData, errors.New("unknown type tag")),
	}
	for _, e := range events {
		cw.Log(e)
	}

	got, err := NewCaptureReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, got, len(events))

	assert.Equal(t, 3, got[0].Frame.Size)
	assert.Equal(t, "publish", got[1].Message.Kind)
	assert.Equal(t, "/robot/speed", got[1].Message.Topic)
	assert.Equal(t, "VERSION_NEGOTIATED", got[2].State.To)
	assert.Equal(t, "unknown type tag", got[3].Err)
}

func TestCaptureReaderEmpty(t *testing.T) {
	cr := NewCaptureReader(bytes.NewReader(nil))
	_, err := cr.Next()
	assert.Equal(t, io.EOF, err)

	events, err := NewCaptureReader(bytes.NewReader(nil)).ReadAll()
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMultiLogger(t *testing.T) {
	var a, b countingLogger
	ml := NewMultiLogger(&a, nil, &b)
	ml.Log(Event{})
	ml.Log(Event{})
	assert.Equal(t, 2, a.count)
	assert.Equal(t, 2, b.count)
}

type countingLogger struct{ count int }

func (c *countingLogger) Log(Event) { c.count++ }

func TestSlogAdapterDoesNotPanic(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	adapter.Log(FrameOf("conn1", DirectionIn, LayerTransport, []byte{1}))
	adapter.Log(MessageOf("conn1", DirectionOut, LayerData, "data", 5, ""))
	adapter.Log(StateOf("conn1", "ACTIVE", "CLOSING", "heartbeat timeout"))
	adapter.Log(ErrorOf("conn1", LayerTransport, errors.New("eof")))

	out := buf.String()
	assert.Contains(t, out, "conn1")
	assert.Contains(t, out, "heartbeat timeout")
}
