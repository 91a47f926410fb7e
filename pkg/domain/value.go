package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValueKind tags the concrete type carried by a Value. The set is closed:
// number, string, and bool are the only kinds the store understands.
type ValueKind string

// Supported value kinds.
const (
	KindNumber ValueKind = "number"
	KindString ValueKind = "string"
	KindBool   ValueKind = "bool"
)

// SupportedKinds lists the value kinds accepted by predicates and key/value
// entries, for use in error messages.
func SupportedKinds() []ValueKind {
	return []ValueKind{KindNumber, KindString, KindBool}
}

// Value is a closed tagged union of the scalar types storable in key/value
// entries and usable in predicates.
type Value struct {
	kind ValueKind
	num  float64
	str  string
	b    bool
}

// NumberValue wraps a float64.
func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind reports which member of the union is set. The zero Value has kind "".
func (v Value) Kind() ValueKind { return v.kind }

// Number returns the numeric member; zero unless Kind is KindNumber.
func (v Value) Number() float64 { return v.num }

// String returns the string member; empty unless Kind is KindString.
func (v Value) String() string { return v.str }

// Bool returns the boolean member; false unless Kind is KindBool.
func (v Value) Bool() bool { return v.b }

// Equal reports whether two values carry the same kind and payload.
func (v Value) Equal(o Value) bool { return v == o }

type valueJSON struct {
	Kind   ValueKind `json:"kind"`
	Number *float64  `json:"number,omitempty"`
	String *string   `json:"string,omitempty"`
	Bool   *bool     `json:"bool,omitempty"`
}

// MarshalJSON encodes the union as a tagged object, e.g.
// {"kind":"number","number":0.5}.
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Kind: v.kind}
	switch v.kind {
	case KindNumber:
		out.Number = &v.num
	case KindString:
		out.String = &v.str
	case KindBool:
		out.Bool = &v.b
	case "":
		// zero value: emit kind only
	default:
		return nil, fmt.Errorf("marshal value: unknown kind %q", v.kind)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the tagged object form produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var in valueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case KindNumber:
		if in.Number == nil {
			return fmt.Errorf("unmarshal value: number kind without number member")
		}
		*v = NumberValue(*in.Number)
	case KindString:
		if in.String == nil {
			*v = StringValue("")
			return nil
		}
		*v = StringValue(*in.String)
	case KindBool:
		if in.Bool == nil {
			return fmt.Errorf("unmarshal value: bool kind without bool member")
		}
		*v = BoolValue(*in.Bool)
	case "":
		*v = Value{}
	default:
		return fmt.Errorf("unmarshal value: unsupported kind %q (supported: %s)", in.Kind, kindList())
	}
	return nil
}

func kindList() string {
	kinds := SupportedKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
