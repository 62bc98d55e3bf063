package nt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeStringRoundTrip(t *testing.T) {
	types := []ValueType{
		TypeBoolean, TypeDouble, TypeInt, TypeFloat, TypeString, TypeRaw,
		TypeBooleanArray, TypeDoubleArray, TypeIntArray, TypeFloatArray,
		TypeStringArray,
	}
	for _, typ := range types {
		got, ok := TypeFromString(typ.String())
		assert.True(t, ok, "type %s should parse", typ)
		assert.Equal(t, typ, got)
	}
}

func TestTypeFromStringUnknown(t *testing.T) {
	got, ok := TypeFromString("quaternion")
	assert.False(t, ok)
	assert.Equal(t, TypeUnassigned, got)
}

func TestTypeFromStringAliases(t *testing.T) {
	// json is carried as a string, rpc/msgpack/protobuf as raw
	got, ok := TypeFromString("json")
	assert.True(t, ok)
	assert.Equal(t, TypeString, got)

	got, ok = TypeFromString("rpc")
	assert.True(t, ok)
	assert.Equal(t, TypeRaw, got)
}

func TestValueEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{
			name: "equal doubles different timestamps",
			a:    DoubleValue(1.5, 100),
			b:    DoubleValue(1.5, 200),
			want: true,
		},
		{
			name: "different doubles",
			a:    DoubleValue(1.5, 100),
			b:    DoubleValue(2.5, 100),
			want: false,
		},
		{
			name: "different types",
			a:    DoubleValue(1, 0),
			b:    IntValue(1, 0),
			want: false,
		},
		{
			name: "equal string arrays",
			a:    StringArrayValue([]string{"a", "b"}, 0),
			b:    StringArrayValue([]string{"a", "b"}, 1),
			want: true,
		},
		{
			name: "string arrays different length",
			a:    StringArrayValue([]string{"a"}, 0),
			b:    StringArrayValue([]string{"a", "b"}, 0),
			want: false,
		},
		{
			name: "equal raw",
			a:    RawValue([]byte{1, 2, 3}, 0),
			b:    RawValue([]byte{1, 2, 3}, 9),
			want: true,
		},
		{
			name: "raw different content",
			a:    RawValue([]byte{1, 2, 3}, 0),
			b:    RawValue([]byte{1, 2, 4}, 0),
			want: false,
		},
		{
			name: "equal bool arrays",
			a:    BooleanArrayValue([]bool{true, false}, 0),
			b:    BooleanArrayValue([]bool{true, false}, 0),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			assert.Equal(t, tt.want, tt.b.Equal(tt.a))
		})
	}
}

func TestFloatNarrowing(t *testing.T) {
	// float32 -> float64 -> float32 is lossless
	v := FloatValue(3.14159, 0)
	assert.Equal(t, float32(3.14159), v.Float())

	arr := FloatArrayValue([]float32{1.5, -2.25, 3.75}, 0)
	assert.Equal(t, []float32{1.5, -2.25, 3.75}, arr.FloatArray())
}

func TestValueInterface(t *testing.T) {
	assert.Equal(t, true, BooleanValue(true, 0).Interface())
	assert.Equal(t, int64(7), IntValue(7, 0).Interface())
	assert.Equal(t, 2.5, DoubleValue(2.5, 0).Interface())
	assert.Equal(t, "hi", StringValue("hi", 0).Interface())
	assert.Equal(t, []float64{1, 2}, DoubleArrayValue([]float64{1, 2}, 0).Interface())
}

func TestIsV3(t *testing.T) {
	assert.True(t, TypeBoolean.IsV3())
	assert.True(t, TypeDoubleArray.IsV3())
	assert.False(t, TypeInt.IsV3())
	assert.False(t, TypeFloatArray.IsV3())
}
