package remote

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// maxExactInt is the largest integer a float64 holds exactly.
const maxExactInt = 1 << 53

// Value is one typed field value of the document database. Exactly one
// member is set; a Value with none set is null.
type Value struct {
	String    *string     `json:"stringValue,omitempty"`
	Boolean   *bool       `json:"booleanValue,omitempty"`
	Integer   *string     `json:"integerValue,omitempty"` // int64 as a decimal string
	Double    *float64    `json:"doubleValue,omitempty"`
	Timestamp *string     `json:"timestampValue,omitempty"`
	Array     *ArrayValue `json:"arrayValue,omitempty"`
	Map       *MapValue   `json:"mapValue,omitempty"`
}

// ArrayValue is an ordered list of values.
type ArrayValue struct {
	Values []Value `json:"values,omitempty"`
}

// MapValue is a nested set of named values.
type MapValue struct {
	Fields map[string]Value `json:"fields,omitempty"`
}

// IsNull reports whether v holds no value.
func (v Value) IsNull() bool {
	return v.String == nil && v.Boolean == nil && v.Integer == nil && v.Double == nil &&
		v.Timestamp == nil && v.Array == nil && v.Map == nil
}

type valueAlias Value

// MarshalJSON writes {"nullValue": null} for a null value.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsNull() {
		return []byte(`{"nullValue":null}`), nil
	}
	return json.Marshal(valueAlias(v))
}

// ToValue converts a Go value to its typed form. Integral numbers become
// integerValue, other numbers doubleValue. Structs and other types are
// converted through their JSON encoding first.
func ToValue(x any) Value {
	switch t := x.(type) {
	case nil:
		return Value{}
	case Value:
		return t
	case string:
		return Value{String: &t}
	case bool:
		return Value{Boolean: &t}
	case int:
		return intValue(int64(t))
	case int32:
		return intValue(int64(t))
	case int64:
		return intValue(t)
	case float64:
		return numberValue(t)
	case float32:
		return numberValue(float64(t))
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return intValue(n)
		}
		f, _ := t.Float64()
		return numberValue(f)
	case time.Time:
		s := t.UTC().Format(time.RFC3339Nano)
		return Value{Timestamp: &s}
	case []any:
		values := make([]Value, len(t))
		for i, e := range t {
			values[i] = ToValue(e)
		}
		return Value{Array: &ArrayValue{Values: values}}
	case []string:
		values := make([]Value, len(t))
		for i, e := range t {
			values[i] = ToValue(e)
		}
		return Value{Array: &ArrayValue{Values: values}}
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			fields[k] = ToValue(e)
		}
		return Value{Map: &MapValue{Fields: fields}}
	}

	rv := reflect.ValueOf(x)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return Value{}
	}

	data, err := json.Marshal(x)
	if err != nil {
		s := fmt.Sprint(x)
		return Value{String: &s}
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		s := string(data)
		return Value{String: &s}
	}
	return ToValue(generic)
}

func intValue(n int64) Value {
	s := strconv.FormatInt(n, 10)
	return Value{Integer: &s}
}

func numberValue(f float64) Value {
	if !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f) && math.Abs(f) <= maxExactInt {
		return intValue(int64(f))
	}
	return Value{Double: &f}
}

// FromValue converts a typed value back to plain Go: nil, string, bool,
// int64, float64, []any or map[string]any. Timestamps come back as strings.
func FromValue(v Value) any {
	switch {
	case v.String != nil:
		return *v.String
	case v.Boolean != nil:
		return *v.Boolean
	case v.Integer != nil:
		n, err := strconv.ParseInt(*v.Integer, 10, 64)
		if err != nil {
			return *v.Integer
		}
		return n
	case v.Double != nil:
		return *v.Double
	case v.Timestamp != nil:
		return *v.Timestamp
	case v.Array != nil:
		out := make([]any, len(v.Array.Values))
		for i, e := range v.Array.Values {
			out[i] = FromValue(e)
		}
		return out
	case v.Map != nil:
		out := make(map[string]any, len(v.Map.Fields))
		for k, e := range v.Map.Fields {
			out[k] = FromValue(e)
		}
		return out
	default:
		return nil
	}
}

// Fields converts a map of Go values into document fields.
func Fields(m map[string]any) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = ToValue(v)
	}
	return out
}

// FieldPaths returns the sorted names of fields, for an update mask.
func FieldPaths(fields map[string]Value) []string {
	paths := make([]string, 0, len(fields))
	for k := range fields {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}

// Decode converts v to plain Go and then decodes it into dest through JSON.
func Decode(v Value, dest any) error {
	data, err := json.Marshal(FromValue(v))
	if err != nil {
		return fmt.Errorf("encode field: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode field: %w", err)
	}
	return nil
}
