// Package inspect renders engine state for humans: topic listings and
// value formatting for the interactive client, plus parsing of typed
// values from command-line input.
package inspect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lagan-protocol/lagan-go/pkg/nt"
	"github.com/lagan-protocol/lagan-go/pkg/topic"
)

// Formatter formats topics and values for display.
type Formatter struct {
	// ShowIDs includes numeric topic ids in listings.
	ShowIDs bool

	// NameWidth pads topic names in listings.
	NameWidth int
}

// NewFormatter creates a Formatter with default settings.
func NewFormatter() *Formatter {
	return &Formatter{
		ShowIDs:   true,
		NameWidth: 40,
	}
}

// FormatTopic renders one topic listing line.
func (f *Formatter) FormatTopic(info topic.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-*s %-10s", f.NameWidth, info.Name, info.Type)
	if f.ShowIDs {
		fmt.Fprintf(&b, " id=%d", info.ID)
	}
	if info.Properties.Persistent() {
		b.WriteString(" [persistent]")
	}
	if info.Properties.Retained() {
		b.WriteString(" [retained]")
	}
	if !info.Properties.Cached() {
		b.WriteString(" [uncached]")
	}
	return b.String()
}

// FormatValue renders a value payload.
func (f *Formatter) FormatValue(v nt.Value) string {
	switch v.Type {
	case nt.TypeBoolean:
		return strconv.FormatBool(v.Bool)
	case nt.TypeDouble:
		return strconv.FormatFloat(v.Double, 'g', -1, 64)
	case nt.TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case nt.TypeFloat:
		return strconv.FormatFloat(float64(v.Float()), 'g', -1, 32)
	case nt.TypeString:
		return strconv.Quote(v.Str)
	case nt.TypeRaw:
		return fmt.Sprintf("%d bytes", len(v.Raw))
	case nt.TypeBooleanArray:
		return fmt.Sprint(v.BoolArray)
	case nt.TypeDoubleArray:
		return fmt.Sprint(v.DoubleArray)
	case nt.TypeIntArray:
		return fmt.Sprint(v.IntArray)
	case nt.TypeFloatArray:
		return fmt.Sprint(v.FloatArray())
	case nt.TypeStringArray:
		return fmt.Sprint(v.StrArray)
	default:
		return fmt.Sprintf("<%s>", v.Type)
	}
}

// ParseValue parses command-line input into a value of the given type.
// Array elements are comma separated. The returned value carries a
// zero timestamp so the sender's clock can stamp it.
func ParseValue(typ nt.ValueType, raw string) (nt.Value, error) {
	switch typ {
	case nt.TypeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nt.Value{}, err
		}
		return nt.BooleanValue(b, 0), nil
	case nt.TypeDouble:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nt.Value{}, err
		}
		return nt.DoubleValue(f, 0), nil
	case nt.TypeInt:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nt.Value{}, err
		}
		return nt.IntValue(i, 0), nil
	case nt.TypeFloat:
		f, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return nt.Value{}, err
		}
		return nt.FloatValue(float32(f), 0), nil
	case nt.TypeString:
		return nt.StringValue(raw, 0), nil
	case nt.TypeRaw:
		return nt.RawValue([]byte(raw), 0), nil
	case nt.TypeBooleanArray:
		parts := splitList(raw)
		arr := make([]bool, len(parts))
		for i, p := range parts {
			b, err := strconv.ParseBool(p)
			if err != nil {
				return nt.Value{}, err
			}
			arr[i] = b
		}
		return nt.BooleanArrayValue(arr, 0), nil
	case nt.TypeDoubleArray:
		parts := splitList(raw)
		arr := make([]float64, len(parts))
		for i, p := range parts {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nt.Value{}, err
			}
			arr[i] = f
		}
		return nt.DoubleArrayValue(arr, 0), nil
	case nt.TypeIntArray:
		parts := splitList(raw)
		arr := make([]int64, len(parts))
		for i, p := range parts {
			n, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return nt.Value{}, err
			}
			arr[i] = n
		}
		return nt.IntArrayValue(arr, 0), nil
	case nt.TypeFloatArray:
		parts := splitList(raw)
		arr := make([]float32, len(parts))
		for i, p := range parts {
			f, err := strconv.ParseFloat(p, 32)
			if err != nil {
				return nt.Value{}, err
			}
			arr[i] = float32(f)
		}
		return nt.FloatArrayValue(arr, 0), nil
	case nt.TypeStringArray:
		return nt.StringArrayValue(splitList(raw), 0), nil
	default:
		return nt.Value{}, fmt.Errorf("cannot parse values of type %s", typ)
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
