package ruleengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind discriminates the variants of Value.
type Kind uint8

const (
	// KindNull covers both a missing session field and an explicit JSON null.
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindDate
	KindArray
)

// String returns the lowercase name of the kind, matching the DataType names.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindDate:
		return "date"
	case KindArray:
		return "array"
	default:
		return "null"
	}
}

// Value is a tagged union holding a session field value or a condition operand.
// The zero value is Null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	date time.Time
	arr  []Value
}

// Null returns the empty value.
func Null() Value { return Value{} }

// String builds a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number builds a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool builds a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Date builds a date value.
func Date(t time.Time) Value { return Value{kind: KindDate, date: t} }

// Array builds an array value. A nil slice yields an empty array, not Null.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// Strings is a convenience constructor for arrays of strings.
func Strings(items ...string) Value {
	vals := make([]Value, len(items))
	for i, s := range items {
		vals[i] = String(s)
	}
	return Array(vals...)
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Items returns the elements of an array value, or nil for any other kind.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// IsEmpty reports whether v counts as empty: Null, "" or [].
// Numeric zero and false are present values.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == ""
	case KindArray:
		return len(v.arr) == 0
	default:
		return false
	}
}

// StrictEqual compares two values without coercion. Values of different kinds
// are never equal; NaN is not equal to itself.
func (v Value) StrictEqual(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindDate:
		return v.date.Equal(o.date)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].StrictEqual(o.arr[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// sameValueZero is StrictEqual except that NaN matches NaN. Used for membership.
func (v Value) sameValueZero(o Value) bool {
	if v.kind == KindNumber && o.kind == KindNumber && math.IsNaN(v.num) && math.IsNaN(o.num) {
		return true
	}
	return v.StrictEqual(o)
}

// AsString casts v to its string form. Null casts to "".
func (v Value) AsString() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDate:
		return v.date.UTC().Format(time.RFC3339Nano)
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, item := range v.arr {
			parts[i] = item.AsString()
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

// AsNumber casts v to a float64. Anything without a numeric reading yields NaN,
// which fails every ordered comparison.
func (v Value) AsNumber() float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		return parseNumber(v.str)
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	case KindDate:
		return float64(v.date.UnixMilli())
	case KindArray:
		switch len(v.arr) {
		case 0:
			return 0
		case 1:
			return parseNumber(v.arr[0].AsString())
		}
	}
	return math.NaN()
}

// parseNumber reads a decimal number the way a lenient form runtime would:
// blank strings are zero, anything non-numeric is NaN.
func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	// strconv accepts "inf", "nan" and underscores, none of which are numbers here.
	if strings.ContainsAny(strings.ToLower(s), "ni_x") {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// MarshalJSON encodes v as plain JSON. Dates are encoded as RFC 3339 strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindDate:
		return json.Marshal(v.date.UTC().Format(time.RFC3339Nano))
	case KindArray:
		return json.Marshal(v.arr)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes any JSON scalar or array. Objects are rejected because
// session fields are flat.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*v = Null()
		return nil
	}

	switch data[0] {
	case 'n':
		*v = Null()
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '[':
		var items []Value
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*v = Array(items...)
	case '{':
		return fmt.Errorf("unsupported value: objects are not allowed as field values")
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = Number(n)
	}
	return nil
}

// FromAny converts a decoded JSON-like Go value into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), err
		}
		return Number(f), nil
	case time.Time:
		return Date(t), nil
	case []string:
		return Strings(t...), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Null(), err
			}
			items[i] = v
		}
		return Array(items...), nil
	default:
		return Null(), fmt.Errorf("unsupported value type %T", x)
	}
}

// State is the flat session-state mapping supplied by the flow runtime.
// A missing key reads as Null.
type State map[string]Value

// Get returns the value stored under field, or Null.
func (s State) Get(field string) Value {
	if s == nil {
		return Null()
	}
	return s[field]
}

// StateFromMap converts a decoded JSON object into a State.
func StateFromMap(m map[string]any) (State, error) {
	state := make(State, len(m))
	for k, raw := range m {
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		state[k] = v
	}
	return state, nil
}
