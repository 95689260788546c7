package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which variant a DatapointValue holds.
type Kind int

const (
	KindInteger Kind = iota
	KindFloat
	KindString
	KindArray  // ordered list of unnamed Datapoints, each usually an Object
	KindObject // ordered list of named Datapoints
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "INTEGER"
	case KindFloat:
		return "FLOAT"
	case KindString:
		return "STRING"
	case KindArray:
		return "DP_LIST"
	case KindObject:
		return "DP_DICT"
	default:
		return "INVALID"
	}
}

// DatapointValue is a tagged union holding the value of a Datapoint.
// The kind is decided once, when the value is constructed, and never changes.
// Array and Object values own their nested Datapoints.
type DatapointValue struct {
	kind       Kind
	i          int64
	f          float64
	s          string
	datapoints []Datapoint
}

func NewIntegerValue(v int64) DatapointValue {
	return DatapointValue{kind: KindInteger, i: v}
}

func NewFloatValue(v float64) DatapointValue {
	return DatapointValue{kind: KindFloat, f: v}
}

func NewStringValue(v string) DatapointValue {
	return DatapointValue{kind: KindString, s: v}
}

// NewArrayValue wraps the given datapoints as an Array value. The slice is copied so the caller's
// slice can be reused.
func NewArrayValue(datapoints []Datapoint) DatapointValue {
	return DatapointValue{kind: KindArray, datapoints: cloneDatapoints(datapoints)}
}

// NewObjectValue wraps the given datapoints as an Object value. The slice is copied.
func NewObjectValue(datapoints []Datapoint) DatapointValue {
	return DatapointValue{kind: KindObject, datapoints: cloneDatapoints(datapoints)}
}

func cloneDatapoints(datapoints []Datapoint) []Datapoint {
	if datapoints == nil {
		return []Datapoint{}
	}
	out := make([]Datapoint, len(datapoints))
	copy(out, datapoints)
	return out
}

func (v DatapointValue) Kind() Kind { return v.kind }

// Int returns the Integer payload, zero for other kinds.
func (v DatapointValue) Int() int64 { return v.i }

// Float returns the Float payload, zero for other kinds.
func (v DatapointValue) Float() float64 { return v.f }

// Str returns the String payload, empty for other kinds.
func (v DatapointValue) Str() string { return v.s }

// Datapoints returns a copy of the nested datapoints of an Array or Object value.
func (v DatapointValue) Datapoints() []Datapoint {
	if v.kind != KindArray && v.kind != KindObject {
		return nil
	}
	return cloneDatapoints(v.datapoints)
}

// Equal reports whether the two values have the same kind and the same (recursive) content.
func (v DatapointValue) Equal(other DatapointValue) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f || (math.IsNaN(v.f) && math.IsNaN(other.f))
	case KindString:
		return v.s == other.s
	case KindArray, KindObject:
		if len(v.datapoints) != len(other.datapoints) {
			return false
		}
		for i := range v.datapoints {
			if !v.datapoints[i].Equal(other.datapoints[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface converts the value into plain Go types: int64, float64, string, []interface{} for
// arrays and map[string]interface{} for objects. Duplicate object names keep the last value.
func (v DatapointValue) Interface() interface{} {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindArray:
		out := make([]interface{}, 0, len(v.datapoints))
		for _, dp := range v.datapoints {
			out = append(out, dp.value.Interface())
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.datapoints))
		for _, dp := range v.datapoints {
			out[dp.name] = dp.value.Interface()
		}
		return out
	}
	return nil
}

// MarshalJSON renders the value as JSON. Float values always carry a decimal point or exponent
// so that decoding the output yields a Float again.
func (v DatapointValue) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v DatapointValue) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindInteger:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		s, err := formatFloat(v.f)
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case KindString:
		encoded, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case KindArray:
		buf.WriteByte('[')
		for i, dp := range v.datapoints {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := dp.value.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		if err := writeDatapointMembers(buf, v.datapoints); err != nil {
			return err
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown datapoint kind %d", v.kind)
	}
	return nil
}

// writeDatapointMembers writes `"name":value` pairs separated by commas, in order.
func writeDatapointMembers(buf *bytes.Buffer, datapoints []Datapoint) error {
	for i, dp := range datapoints {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(dp.name)
		if err != nil {
			return err
		}
		buf.Write(name)
		buf.WriteByte(':')
		if err := dp.value.writeJSON(buf); err != nil {
			return fmt.Errorf("datapoint '%s': %w", dp.name, err)
		}
	}
	return nil
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("float value %v cannot be encoded as JSON", f)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s, nil
}

// String returns the JSON rendering of the value, or an error marker if it cannot be rendered.
func (v DatapointValue) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s: %v>", v.kind, err)
	}
	return string(b)
}
