package inspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagan-protocol/lagan-go/pkg/nt"
	"github.com/lagan-protocol/lagan-go/pkg/topic"
)

func TestFormatValue(t *testing.T) {
	f := NewFormatter()

	tests := []struct {
		name  string
		value nt.Value
		want  string
	}{
		{"boolean", nt.BooleanValue(true, 0), "true"},
		{"double", nt.DoubleValue(2.5, 0), "2.5"},
		{"int", nt.IntValue(-42, 0), "-42"},
		{"string", nt.StringValue("hi", 0), `"hi"`},
		{"raw", nt.RawValue([]byte{1, 2, 3}, 0), "3 bytes"},
		{"double array", nt.DoubleArrayValue([]float64{1, 2.5}, 0), "[1 2.5]"},
		{"string array", nt.StringArrayValue([]string{"a", "b"}, 0), "[a b]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.FormatValue(tt.value))
		})
	}
}

func TestFormatTopic(t *testing.T) {
	f := NewFormatter()
	f.NameWidth = 1

	info := topic.Info{
		Name:       "/x",
		ID:         7,
		Type:       nt.TypeDouble,
		Properties: nt.Properties{"persistent": true},
	}
	line := f.FormatTopic(info)
	assert.Contains(t, line, "/x")
	assert.Contains(t, line, "double")
	assert.Contains(t, line, "id=7")
	assert.Contains(t, line, "[persistent]")
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name string
		typ  nt.ValueType
		raw  string
		want nt.Value
	}{
		{"boolean", nt.TypeBoolean, "true", nt.BooleanValue(true, 0)},
		{"double", nt.TypeDouble, "3.5", nt.DoubleValue(3.5, 0)},
		{"int", nt.TypeInt, "-7", nt.IntValue(-7, 0)},
		{"string", nt.TypeString, "hello world", nt.StringValue("hello world", 0)},
		{"int array", nt.TypeIntArray, "1, 2, 3", nt.IntArrayValue([]int64{1, 2, 3}, 0)},
		{"bool array", nt.TypeBooleanArray, "true,false", nt.BooleanArrayValue([]bool{true, false}, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseValue(tt.typ, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseValueErrors(t *testing.T) {
	_, err := ParseValue(nt.TypeInt, "not a number")
	assert.Error(t, err)
	_, err = ParseValue(nt.TypeUnassigned, "x")
	assert.Error(t, err)
}
