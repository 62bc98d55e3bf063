package v4

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lagan-protocol/lagan-go/pkg/nt"
)

// TimestampSyncID is the reserved topic id for the client/server
// timestamp sync exchange.
const TimestampSyncID int32 = -1

// Data plane errors.
var (
	ErrMalformedData  = errors.New("malformed v4 data frame")
	ErrUnknownTypeTag = errors.New("unknown v4 type tag")
)

// DataMessage is one decoded data-plane array: a timestamped value
// bound to a topic id. The value's Time field carries the array's
// timestamp component.
type DataMessage struct {
	ID    int32
	Value nt.Value
}

// EncodeData serializes data messages into one BINARY frame payload,
// back to back.
func EncodeData(msgs []DataMessage) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	for _, msg := range msgs {
		if err := encodeOne(enc, msg); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeOne(enc *msgpack.Encoder, msg DataMessage) error {
	if err := enc.EncodeArrayLen(4); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(msg.ID)); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(msg.Value.Time)); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(msg.Value.Type)); err != nil {
		return err
	}
	return encodeValue(enc, msg.Value)
}

func encodeValue(enc *msgpack.Encoder, v nt.Value) error {
	switch v.Type {
	case nt.TypeBoolean:
		return enc.EncodeBool(v.Bool)
	case nt.TypeDouble:
		return enc.EncodeFloat64(v.Double)
	case nt.TypeInt:
		return enc.EncodeInt(v.Int)
	case nt.TypeFloat:
		return enc.EncodeFloat32(v.Float())
	case nt.TypeString:
		return enc.EncodeString(v.Str)
	case nt.TypeRaw:
		return enc.EncodeBytes(v.Raw)
	case nt.TypeBooleanArray:
		if err := enc.EncodeArrayLen(len(v.BoolArray)); err != nil {
			return err
		}
		for _, b := range v.BoolArray {
			if err := enc.EncodeBool(b); err != nil {
				return err
			}
		}
		return nil
	case nt.TypeDoubleArray:
		if err := enc.EncodeArrayLen(len(v.DoubleArray)); err != nil {
			return err
		}
		for _, f := range v.DoubleArray {
			if err := enc.EncodeFloat64(f); err != nil {
				return err
			}
		}
		return nil
	case nt.TypeIntArray:
		if err := enc.EncodeArrayLen(len(v.IntArray)); err != nil {
			return err
		}
		for _, i := range v.IntArray {
			if err := enc.EncodeInt(i); err != nil {
				return err
			}
		}
		return nil
	case nt.TypeFloatArray:
		arr := v.FloatArray()
		if err := enc.EncodeArrayLen(len(arr)); err != nil {
			return err
		}
		for _, f := range arr {
			if err := enc.EncodeFloat32(f); err != nil {
				return err
			}
		}
		return nil
	case nt.TypeStringArray:
		if err := enc.EncodeArrayLen(len(v.StrArray)); err != nil {
			return err
		}
		for _, s := range v.StrArray {
			if err := enc.EncodeString(s); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownTypeTag, v.Type)
	}
}

// DecodeData parses one BINARY frame payload, which may hold any number
// of concatenated data arrays.
func DecodeData(data []byte) ([]DataMessage, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	var msgs []DataMessage
	for {
		msg, err := decodeOne(dec)
		if err == io.EOF {
			return msgs, nil
		}
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
}

func decodeOne(dec *msgpack.Decoder) (DataMessage, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		if err == io.EOF {
			return DataMessage{}, io.EOF
		}
		return DataMessage{}, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	if n != 4 {
		return DataMessage{}, fmt.Errorf("%w: array length %d", ErrMalformedData, n)
	}

	id, err := dec.DecodeInt64()
	if err != nil {
		return DataMessage{}, fmt.Errorf("%w: id: %v", ErrMalformedData, err)
	}
	ts, err := dec.DecodeInt64()
	if err != nil {
		return DataMessage{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedData, err)
	}
	tag, err := dec.DecodeUint64()
	if err != nil {
		return DataMessage{}, fmt.Errorf("%w: type tag: %v", ErrMalformedData, err)
	}

	val, err := decodeValue(dec, nt.ValueType(tag), nt.Timestamp(ts))
	if err != nil {
		return DataMessage{}, err
	}
	return DataMessage{ID: int32(id), Value: val}, nil
}

func decodeValue(dec *msgpack.Decoder, tag nt.ValueType, ts nt.Timestamp) (nt.Value, error) {
	wrap := func(err error) (nt.Value, error) {
		return nt.Value{}, fmt.Errorf("%w: value: %v", ErrMalformedData, err)
	}

	switch tag {
	case nt.TypeBoolean:
		b, err := dec.DecodeBool()
		if err != nil {
			return wrap(err)
		}
		return nt.BooleanValue(b, ts), nil
	case nt.TypeDouble:
		f, err := dec.DecodeFloat64()
		if err != nil {
			return wrap(err)
		}
		return nt.DoubleValue(f, ts), nil
	case nt.TypeInt:
		i, err := dec.DecodeInt64()
		if err != nil {
			return wrap(err)
		}
		return nt.IntValue(i, ts), nil
	case nt.TypeFloat:
		f, err := dec.DecodeFloat32()
		if err != nil {
			return wrap(err)
		}
		return nt.FloatValue(f, ts), nil
	case nt.TypeString:
		s, err := dec.DecodeString()
		if err != nil {
			return wrap(err)
		}
		return nt.StringValue(s, ts), nil
	case nt.TypeRaw:
		b, err := dec.DecodeBytes()
		if err != nil {
			return wrap(err)
		}
		return nt.RawValue(b, ts), nil
	case nt.TypeBooleanArray:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return wrap(err)
		}
		arr := make([]bool, n)
		for i := range arr {
			if arr[i], err = dec.DecodeBool(); err != nil {
				return wrap(err)
			}
		}
		return nt.BooleanArrayValue(arr, ts), nil
	case nt.TypeDoubleArray:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return wrap(err)
		}
		arr := make([]float64, n)
		for i := range arr {
			if arr[i], err = dec.DecodeFloat64(); err != nil {
				return wrap(err)
			}
		}
		return nt.DoubleArrayValue(arr, ts), nil
	case nt.TypeIntArray:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return wrap(err)
		}
		arr := make([]int64, n)
		for i := range arr {
			if arr[i], err = dec.DecodeInt64(); err != nil {
				return wrap(err)
			}
		}
		return nt.IntArrayValue(arr, ts), nil
	case nt.TypeFloatArray:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return wrap(err)
		}
		arr := make([]float32, n)
		for i := range arr {
			if arr[i], err = dec.DecodeFloat32(); err != nil {
				return wrap(err)
			}
		}
		return nt.FloatArrayValue(arr, ts), nil
	case nt.TypeStringArray:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return wrap(err)
		}
		arr := make([]string, n)
		for i := range arr {
			if arr[i], err = dec.DecodeString(); err != nil {
				return wrap(err)
			}
		}
		return nt.StringArrayValue(arr, ts), nil
	default:
		return nt.Value{}, fmt.Errorf("%w: %d", ErrUnknownTypeTag, tag)
	}
}

// TimestampSync builds the client half of the timestamp sync exchange:
// topic id -1 carrying the client's local time as an int.
func TimestampSync(localTime nt.Timestamp) DataMessage {
	return DataMessage{
		ID:    TimestampSyncID,
		Value: nt.IntValue(int64(localTime), 0),
	}
}
