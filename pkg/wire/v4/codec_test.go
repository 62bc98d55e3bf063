package v4

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagan-protocol/lagan-go/pkg/nt"
)

func TestControlRoundTrip(t *testing.T) {
	msgs := []ControlMessage{
		Publish{
			Name:       "/robot/speed",
			PubUID:     1,
			Type:       "double",
			Properties: nt.Properties{"retained": true},
		},
		Unpublish{PubUID: 1},
		SetProperties{Name: "/robot/speed", Update: nt.Properties{"persistent": true}},
		Subscribe{
			Topics:  []string{"/robot/"},
			SubUID:  5,
			Options: SubscribeOptions{Periodic: 0.05, Prefix: true},
		},
		Unsubscribe{SubUID: 5},
		Announce{
			Name:       "/robot/speed",
			ID:         3,
			Type:       "double",
			PubUID:     1,
			Properties: nt.Properties{"retained": true},
		},
		Unannounce{Name: "/robot/speed", ID: 3},
		PropertiesUpdate{Name: "/robot/speed", Ack: true, Update: nt.Properties{"persistent": true}},
	}

	data, err := EncodeControl(msgs)
	require.NoError(t, err)

	got, err := DecodeControl(data)
	require.NoError(t, err)
	require.Len(t, got, len(msgs))

	for i := range msgs {
		assert.Equal(t, msgs[i].Method(), got[i].Method(), "message %d", i)
	}

	pub, ok := got[0].(Publish)
	require.True(t, ok)
	assert.Equal(t, "/robot/speed", pub.Name)
	assert.Equal(t, int32(1), pub.PubUID)
	assert.Equal(t, true, pub.Properties["retained"])

	sub, ok := got[3].(Subscribe)
	require.True(t, ok)
	assert.Equal(t, []string{"/robot/"}, sub.Topics)
	assert.True(t, sub.Options.Prefix)
	assert.InDelta(t, 0.05, sub.Options.Periodic, 1e-9)
}

func TestDecodeControlUnknownMethod(t *testing.T) {
	frame := []byte(`[{"method":"hologram","params":{"x":1}},{"method":"unpublish","params":{"pubuid":2}}]`)
	got, err := DecodeControl(frame)
	require.NoError(t, err)
	require.Len(t, got, 2)

	unknown, ok := got[0].(Unknown)
	require.True(t, ok)
	assert.Equal(t, "hologram", unknown.Method())

	unpub, ok := got[1].(Unpublish)
	require.True(t, ok)
	assert.Equal(t, int32(2), unpub.PubUID)
}

func TestDecodeControlMalformed(t *testing.T) {
	_, err := DecodeControl([]byte(`{"method":"publish"}`)) // object, not array
	assert.ErrorIs(t, err, ErrMalformedControl)

	_, err = DecodeControl([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedControl)
}

func TestSubscribeOptionsConversion(t *testing.T) {
	engine := SubscribeOptions{Periodic: 0.25, All: true}.Engine()
	assert.Equal(t, 250*time.Millisecond, engine.Periodic)
	assert.True(t, engine.All)

	// Zero periodic falls back to the protocol default.
	engine = SubscribeOptions{}.Engine()
	assert.Equal(t, nt.DefaultPeriodic, engine.Periodic)

	wire := OptionsFromEngine(nt.SubscribeOptions{Periodic: 100 * time.Millisecond, Prefix: true})
	assert.InDelta(t, 0.1, wire.Periodic, 1e-9)
	assert.True(t, wire.Prefix)
}

func TestDataRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  DataMessage
	}{
		{name: "boolean", msg: DataMessage{ID: 1, Value: nt.BooleanValue(true, 100)}},
		{name: "double", msg: DataMessage{ID: 2, Value: nt.DoubleValue(-12.5, 200)}},
		{name: "int", msg: DataMessage{ID: 3, Value: nt.IntValue(-7, 300)}},
		{name: "float", msg: DataMessage{ID: 4, Value: nt.FloatValue(1.25, 400)}},
		{name: "string", msg: DataMessage{ID: 5, Value: nt.StringValue("teleop", 500)}},
		{name: "raw", msg: DataMessage{ID: 6, Value: nt.RawValue([]byte{0, 1, 2}, 600)}},
		{name: "boolean array", msg: DataMessage{ID: 7, Value: nt.BooleanArrayValue([]bool{true, false}, 700)}},
		{name: "double array", msg: DataMessage{ID: 8, Value: nt.DoubleArrayValue([]float64{1.5, -2.5}, 800)}},
		{name: "int array", msg: DataMessage{ID: 9, Value: nt.IntArrayValue([]int64{1, -2, 3}, 900)}},
		{name: "float array", msg: DataMessage{ID: 10, Value: nt.FloatArrayValue([]float32{0.5, 1.5}, 1000)}},
		{name: "string array", msg: DataMessage{ID: 11, Value: nt.StringArrayValue([]string{"a", ""}, 1100)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeData([]DataMessage{tt.msg})
			require.NoError(t, err)

			got, err := DecodeData(data)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.msg.ID, got[0].ID)
			assert.Equal(t, tt.msg.Value.Time, got[0].Value.Time)
			assert.Equal(t, tt.msg.Value.Type, got[0].Value.Type)
			assert.True(t, tt.msg.Value.Equal(got[0].Value))
		})
	}
}

func TestDataBatchedFrame(t *testing.T) {
	batch := []DataMessage{
		{ID: 1, Value: nt.DoubleValue(1.0, 100)},
		{ID: 2, Value: nt.StringValue("x", 101)},
		{ID: 1, Value: nt.DoubleValue(2.0, 102)},
	}
	data, err := EncodeData(batch)
	require.NoError(t, err)

	got, err := DecodeData(data)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range batch {
		assert.Equal(t, batch[i].ID, got[i].ID)
		assert.True(t, batch[i].Value.Equal(got[i].Value))
	}
}

func TestDecodeDataEmptyFrame(t *testing.T) {
	got, err := DecodeData(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeDataUnknownTag(t *testing.T) {
	// [1, 0, 99, true]
	frame := []byte{0x94, 0x01, 0x00, 0x63, 0xc3}
	_, err := DecodeData(frame)
	assert.ErrorIs(t, err, ErrUnknownTypeTag)
}

func TestDecodeDataWrongArity(t *testing.T) {
	// [1, 0] — two elements instead of four
	frame := []byte{0x92, 0x01, 0x00}
	_, err := DecodeData(frame)
	assert.ErrorIs(t, err, ErrMalformedData)
}

func TestTimestampSync(t *testing.T) {
	msg := TimestampSync(123456)
	assert.Equal(t, TimestampSyncID, msg.ID)
	assert.Equal(t, nt.TypeInt, msg.Value.Type)
	assert.Equal(t, int64(123456), msg.Value.Int)

	data, err := EncodeData([]DataMessage{msg})
	require.NoError(t, err)
	got, err := DecodeData(data)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, TimestampSyncID, got[0].ID)
}
