package v3

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/lagan-protocol/lagan-go/pkg/nt"
)

// Codec errors. ErrUnknownOpcode and ErrUnknownType are protocol
// errors: the stream position after them is undefined, so a v3 session
// must close on either.
var (
	ErrUnknownOpcode = errors.New("unknown v3 opcode")
	ErrUnknownType   = errors.New("unknown v3 value type tag")
	ErrTypeNotV3     = errors.New("value type not representable in v3")
	ErrStringTooLong = errors.New("string exceeds uint16 length prefix")
	ErrArrayTooLong  = errors.New("array exceeds uint8 element count")
)

// Encode serializes a message to its wire bytes.
func Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(msg.Opcode()))

	switch m := msg.(type) {
	case KeepAlive, ServerHelloComplete, ClientHelloComplete:
		// Opcode only.

	case ClientHello:
		putUint16(&buf, m.ProtoRev)
		if err := putString(&buf, m.Identity); err != nil {
			return nil, err
		}

	case ProtoUnsup:
		putUint16(&buf, m.SupportedRev)

	case ServerHello:
		buf.WriteByte(m.Flags)
		if err := putString(&buf, m.Identity); err != nil {
			return nil, err
		}

	case EntryAssign:
		if err := putString(&buf, m.Name); err != nil {
			return nil, err
		}
		tag, err := entryTag(m.Value.Type, m.IsRPC)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(tag)
		putUint16(&buf, m.ID)
		putUint16(&buf, uint16(m.Seq))
		buf.WriteByte(m.Flags)
		if err := putValue(&buf, m.Value); err != nil {
			return nil, err
		}

	case EntryUpdate:
		putUint16(&buf, m.ID)
		putUint16(&buf, uint16(m.Seq))
		tag, err := entryTag(m.Value.Type, false)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(tag)
		if err := putValue(&buf, m.Value); err != nil {
			return nil, err
		}

	case FlagsUpdate:
		putUint16(&buf, m.ID)
		buf.WriteByte(m.Flags)

	case EntryDelete:
		putUint16(&buf, m.ID)

	case ClearAllEntries:
		putUint32(&buf, m.Magic)

	case RPCExecute:
		putUint16(&buf, m.ID)
		putUint16(&buf, m.UniqueID)
		if err := putBytes(&buf, m.Params); err != nil {
			return nil, err
		}

	case RPCResponse:
		putUint16(&buf, m.ID)
		putUint16(&buf, m.UniqueID)
		if err := putBytes(&buf, m.Result); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownOpcode, msg)
	}

	return buf.Bytes(), nil
}

// Decoder reads v3 messages from a byte stream. Not safe for concurrent
// use; each session owns exactly one Decoder.
type Decoder struct {
	r io.Reader
}

// NewDecoder returns a decoder reading from r. The caller should pass a
// buffered reader for a network stream.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// ReadMessage reads and decodes the next message. It blocks until a
// full message is available. Transport errors are returned unwrapped;
// protocol errors wrap ErrUnknownOpcode or ErrUnknownType.
func (d *Decoder) ReadMessage() (Message, error) {
	op, err := d.readByte()
	if err != nil {
		return nil, err
	}

	switch Opcode(op) {
	case OpKeepAlive:
		return KeepAlive{}, nil
	case OpServerHelloComplete:
		return ServerHelloComplete{}, nil
	case OpClientHelloComplete:
		return ClientHelloComplete{}, nil

	case OpClientHello:
		rev, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		ident, err := d.readString()
		if err != nil {
			return nil, err
		}
		return ClientHello{ProtoRev: rev, Identity: ident}, nil

	case OpProtoUnsup:
		rev, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		return ProtoUnsup{SupportedRev: rev}, nil

	case OpServerHello:
		flags, err := d.readByte()
		if err != nil {
			return nil, err
		}
		ident, err := d.readString()
		if err != nil {
			return nil, err
		}
		return ServerHello{Flags: flags, Identity: ident}, nil

	case OpEntryAssign:
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		tag, err := d.readByte()
		if err != nil {
			return nil, err
		}
		id, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		seq, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		flags, err := d.readByte()
		if err != nil {
			return nil, err
		}
		val, isRPC, err := d.readValue(tag)
		if err != nil {
			return nil, err
		}
		return EntryAssign{
			Name:  name,
			ID:    id,
			Seq:   SequenceNumber(seq),
			Flags: flags,
			IsRPC: isRPC,
			Value: val,
		}, nil

	case OpEntryUpdate:
		id, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		seq, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		tag, err := d.readByte()
		if err != nil {
			return nil, err
		}
		val, _, err := d.readValue(tag)
		if err != nil {
			return nil, err
		}
		return EntryUpdate{ID: id, Seq: SequenceNumber(seq), Value: val}, nil

	case OpFlagsUpdate:
		id, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		flags, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return FlagsUpdate{ID: id, Flags: flags}, nil

	case OpEntryDelete:
		id, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		return EntryDelete{ID: id}, nil

	case OpClearAllEntries:
		magic, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		return ClearAllEntries{Magic: magic}, nil

	case OpRPCExecute:
		id, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		uid, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		params, err := d.readBytes()
		if err != nil {
			return nil, err
		}
		return RPCExecute{ID: id, UniqueID: uid, Params: params}, nil

	case OpRPCResponse:
		id, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		uid, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		result, err := d.readBytes()
		if err != nil {
			return nil, err
		}
		return RPCResponse{ID: id, UniqueID: uid, Result: result}, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownOpcode, op)
	}
}

// entryTag maps an engine value type to the v3 type tag.
func entryTag(t nt.ValueType, isRPC bool) (uint8, error) {
	if isRPC {
		return tagRPCDef, nil
	}
	switch t {
	case nt.TypeBoolean:
		return tagBoolean, nil
	case nt.TypeDouble:
		return tagDouble, nil
	case nt.TypeString:
		return tagString, nil
	case nt.TypeRaw:
		return tagRaw, nil
	case nt.TypeBooleanArray:
		return tagBooleanArray, nil
	case nt.TypeDoubleArray:
		return tagDoubleArray, nil
	case nt.TypeStringArray:
		return tagStringArray, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrTypeNotV3, t)
	}
}

func putValue(buf *bytes.Buffer, v nt.Value) error {
	switch v.Type {
	case nt.TypeBoolean:
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case nt.TypeDouble:
		putUint64(buf, math.Float64bits(v.Double))
	case nt.TypeString:
		return putString(buf, v.Str)
	case nt.TypeRaw:
		return putBytes(buf, v.Raw)
	case nt.TypeBooleanArray:
		if len(v.BoolArray) > math.MaxUint8 {
			return ErrArrayTooLong
		}
		buf.WriteByte(uint8(len(v.BoolArray)))
		for _, b := range v.BoolArray {
			if b {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	case nt.TypeDoubleArray:
		if len(v.DoubleArray) > math.MaxUint8 {
			return ErrArrayTooLong
		}
		buf.WriteByte(uint8(len(v.DoubleArray)))
		for _, f := range v.DoubleArray {
			putUint64(buf, math.Float64bits(f))
		}
	case nt.TypeStringArray:
		if len(v.StrArray) > math.MaxUint8 {
			return ErrArrayTooLong
		}
		buf.WriteByte(uint8(len(v.StrArray)))
		for _, s := range v.StrArray {
			if err := putString(buf, s); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %s", ErrTypeNotV3, v.Type)
	}
	return nil
}

// readValue decodes a value for the given type tag. The second return
// reports whether the tag was the RPC definition tag.
func (d *Decoder) readValue(tag uint8) (nt.Value, bool, error) {
	switch tag {
	case tagBoolean:
		b, err := d.readByte()
		if err != nil {
			return nt.Value{}, false, err
		}
		return nt.BooleanValue(b != 0, 0), false, nil

	case tagDouble:
		bits, err := d.readUint64()
		if err != nil {
			return nt.Value{}, false, err
		}
		return nt.DoubleValue(math.Float64frombits(bits), 0), false, nil

	case tagString:
		s, err := d.readString()
		if err != nil {
			return nt.Value{}, false, err
		}
		return nt.StringValue(s, 0), false, nil

	case tagRaw, tagRPCDef:
		raw, err := d.readBytes()
		if err != nil {
			return nt.Value{}, false, err
		}
		return nt.RawValue(raw, 0), tag == tagRPCDef, nil

	case tagBooleanArray:
		n, err := d.readByte()
		if err != nil {
			return nt.Value{}, false, err
		}
		arr := make([]bool, n)
		for i := range arr {
			b, err := d.readByte()
			if err != nil {
				return nt.Value{}, false, err
			}
			arr[i] = b != 0
		}
		return nt.BooleanArrayValue(arr, 0), false, nil

	case tagDoubleArray:
		n, err := d.readByte()
		if err != nil {
			return nt.Value{}, false, err
		}
		arr := make([]float64, n)
		for i := range arr {
			bits, err := d.readUint64()
			if err != nil {
				return nt.Value{}, false, err
			}
			arr[i] = math.Float64frombits(bits)
		}
		return nt.DoubleArrayValue(arr, 0), false, nil

	case tagStringArray:
		n, err := d.readByte()
		if err != nil {
			return nt.Value{}, false, err
		}
		arr := make([]string, n)
		for i := range arr {
			s, err := d.readString()
			if err != nil {
				return nt.Value{}, false, err
			}
			arr[i] = s
		}
		return nt.StringArrayValue(arr, 0), false, nil

	default:
		return nt.Value{}, false, fmt.Errorf("%w: 0x%02x", ErrUnknownType, tag)
	}
}

func putUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return ErrStringTooLong
	}
	putUint16(buf, uint16(len(s)))
	buf.WriteString(s)
	return nil
}

func putBytes(buf *bytes.Buffer, b []byte) error {
	if len(b) > math.MaxUint16 {
		return ErrStringTooLong
	}
	putUint16(buf, uint16(len(b)))
	buf.Write(b)
	return nil
}

func (d *Decoder) readByte() (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) readUint16() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (d *Decoder) readUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (d *Decoder) readUint64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func (d *Decoder) readString() (string, error) {
	b, err := d.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) readBytes() ([]byte, error) {
	n, err := d.readUint16()
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return nil, err
	}
	return b, nil
}
