package nt

import (
	"bytes"
	"errors"
	"fmt"
)

// Engine-wide sentinel errors for rejected operations.
var (
	// ErrTypeConflict indicates a value or announcement whose type does
	// not match the topic's declared type. The operation is rejected;
	// the session continues.
	ErrTypeConflict = errors.New("type conflict")

	// ErrRejected indicates a write that lost conflict resolution
	// (stale timestamp from a different connection). Expected under
	// concurrent writers and never session-fatal.
	ErrRejected = errors.New("write rejected")
)

// ValueType identifies the payload type of a Value. The numeric values
// are the v4 wire type tags; the v3 codec maps to its own tag space.
type ValueType uint8

const (
	TypeBoolean ValueType = 0
	TypeDouble  ValueType = 1
	TypeInt     ValueType = 2
	TypeFloat   ValueType = 3
	TypeString  ValueType = 4
	TypeRaw     ValueType = 5

	TypeBooleanArray ValueType = 16
	TypeDoubleArray  ValueType = 17
	TypeIntArray     ValueType = 18
	TypeFloatArray   ValueType = 19
	TypeStringArray  ValueType = 20

	// TypeUnassigned marks a topic with no declared type yet.
	TypeUnassigned ValueType = 255
)

// String returns the canonical type string used by the v4 control
// protocol ("boolean", "double", "int", ...).
func (t ValueType) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeDouble:
		return "double"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeRaw:
		return "raw"
	case TypeBooleanArray:
		return "boolean[]"
	case TypeDoubleArray:
		return "double[]"
	case TypeIntArray:
		return "int[]"
	case TypeFloatArray:
		return "float[]"
	case TypeStringArray:
		return "string[]"
	case TypeUnassigned:
		return "unassigned"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// TypeFromString parses a v4 type string. Returns TypeUnassigned and
// false for unknown strings so callers can apply forward-compat policy.
func TypeFromString(s string) (ValueType, bool) {
	switch s {
	case "boolean":
		return TypeBoolean, true
	case "double":
		return TypeDouble, true
	case "int":
		return TypeInt, true
	case "float":
		return TypeFloat, true
	case "string", "json":
		return TypeString, true
	case "raw", "rpc", "msgpack", "protobuf":
		return TypeRaw, true
	case "boolean[]":
		return TypeBooleanArray, true
	case "double[]":
		return TypeDoubleArray, true
	case "int[]":
		return TypeIntArray, true
	case "float[]":
		return TypeFloatArray, true
	case "string[]":
		return TypeStringArray, true
	default:
		return TypeUnassigned, false
	}
}

// IsArray reports whether the type is one of the homogeneous array types.
func (t ValueType) IsArray() bool {
	return t >= TypeBooleanArray && t <= TypeStringArray
}

// IsV3 reports whether the type is representable in the v3 wire format.
// Int and float (and their arrays) exist only in v4.
func (t ValueType) IsV3() bool {
	switch t {
	case TypeBoolean, TypeDouble, TypeString, TypeRaw,
		TypeBooleanArray, TypeDoubleArray, TypeStringArray:
		return true
	default:
		return false
	}
}

// Value is an immutable typed payload with its timestamp. Exactly one
// payload field is meaningful, selected by Type. Float values are held
// widened to float64 (the widening is lossless) and narrowed again by
// the Float accessors.
type Value struct {
	Type ValueType

	// Time is the value's timestamp in monotonic microseconds. The
	// server's clock is the source of truth for ordering.
	Time Timestamp

	Bool        bool
	Int         int64
	Double      float64
	Str         string
	Raw         []byte
	BoolArray   []bool
	IntArray    []int64
	DoubleArray []float64
	StrArray    []string
}

// BooleanValue returns a boolean Value.
func BooleanValue(v bool, ts Timestamp) Value {
	return Value{Type: TypeBoolean, Time: ts, Bool: v}
}

// DoubleValue returns a double Value.
func DoubleValue(v float64, ts Timestamp) Value {
	return Value{Type: TypeDouble, Time: ts, Double: v}
}

// IntValue returns an int Value.
func IntValue(v int64, ts Timestamp) Value {
	return Value{Type: TypeInt, Time: ts, Int: v}
}

// FloatValue returns a float Value. The float32 is widened losslessly.
func FloatValue(v float32, ts Timestamp) Value {
	return Value{Type: TypeFloat, Time: ts, Double: float64(v)}
}

// StringValue returns a string Value.
func StringValue(v string, ts Timestamp) Value {
	return Value{Type: TypeString, Time: ts, Str: v}
}

// RawValue returns a raw bytes Value. The slice is not copied; callers
// must not mutate it after construction.
func RawValue(v []byte, ts Timestamp) Value {
	return Value{Type: TypeRaw, Time: ts, Raw: v}
}

// BooleanArrayValue returns a boolean array Value.
func BooleanArrayValue(v []bool, ts Timestamp) Value {
	return Value{Type: TypeBooleanArray, Time: ts, BoolArray: v}
}

// DoubleArrayValue returns a double array Value.
func DoubleArrayValue(v []float64, ts Timestamp) Value {
	return Value{Type: TypeDoubleArray, Time: ts, DoubleArray: v}
}

// IntArrayValue returns an int array Value.
func IntArrayValue(v []int64, ts Timestamp) Value {
	return Value{Type: TypeIntArray, Time: ts, IntArray: v}
}

// FloatArrayValue returns a float array Value, widened to float64.
func FloatArrayValue(v []float32, ts Timestamp) Value {
	widened := make([]float64, len(v))
	for i, f := range v {
		widened[i] = float64(f)
	}
	return Value{Type: TypeFloatArray, Time: ts, DoubleArray: widened}
}

// StringArrayValue returns a string array Value.
func StringArrayValue(v []string, ts Timestamp) Value {
	return Value{Type: TypeStringArray, Time: ts, StrArray: v}
}

// Float returns the payload narrowed to float32. Meaningful only when
// Type is TypeFloat.
func (v Value) Float() float32 {
	return float32(v.Double)
}

// FloatArray returns the payload narrowed to []float32. Meaningful only
// when Type is TypeFloatArray.
func (v Value) FloatArray() []float32 {
	out := make([]float32, len(v.DoubleArray))
	for i, f := range v.DoubleArray {
		out[i] = float32(f)
	}
	return out
}

// WithTime returns a copy of the value carrying a different timestamp.
func (v Value) WithTime(ts Timestamp) Value {
	v.Time = ts
	return v
}

// Equal reports whether two values have the same type and payload.
// Timestamps are not compared; Equal is used for duplicate suppression.
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case TypeBoolean:
		return v.Bool == other.Bool
	case TypeInt:
		return v.Int == other.Int
	case TypeDouble, TypeFloat:
		return v.Double == other.Double
	case TypeString:
		return v.Str == other.Str
	case TypeRaw:
		return bytes.Equal(v.Raw, other.Raw)
	case TypeBooleanArray:
		if len(v.BoolArray) != len(other.BoolArray) {
			return false
		}
		for i := range v.BoolArray {
			if v.BoolArray[i] != other.BoolArray[i] {
				return false
			}
		}
		return true
	case TypeIntArray:
		if len(v.IntArray) != len(other.IntArray) {
			return false
		}
		for i := range v.IntArray {
			if v.IntArray[i] != other.IntArray[i] {
				return false
			}
		}
		return true
	case TypeDoubleArray, TypeFloatArray:
		if len(v.DoubleArray) != len(other.DoubleArray) {
			return false
		}
		for i := range v.DoubleArray {
			if v.DoubleArray[i] != other.DoubleArray[i] {
				return false
			}
		}
		return true
	case TypeStringArray:
		if len(v.StrArray) != len(other.StrArray) {
			return false
		}
		for i := range v.StrArray {
			if v.StrArray[i] != other.StrArray[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Interface returns the payload as a plain Go value (bool, int64,
// float64, string, []byte, or the corresponding slice type). Used at
// API boundaries where callers want an untyped view.
func (v Value) Interface() any {
	switch v.Type {
	case TypeBoolean:
		return v.Bool
	case TypeInt:
		return v.Int
	case TypeDouble:
		return v.Double
	case TypeFloat:
		return v.Float()
	case TypeString:
		return v.Str
	case TypeRaw:
		return v.Raw
	case TypeBooleanArray:
		return v.BoolArray
	case TypeIntArray:
		return v.IntArray
	case TypeDoubleArray:
		return v.DoubleArray
	case TypeFloatArray:
		return v.FloatArray()
	case TypeStringArray:
		return v.StrArray
	default:
		return nil
	}
}
