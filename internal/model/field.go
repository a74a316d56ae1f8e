package model

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
)

// FieldName enumerates the four resolvable vehicle attributes.
type FieldName string

const (
	FieldCurbWeight     FieldName = "curb_weight"
	FieldCatConverters  FieldName = "catalytic_converters"
	FieldAluminumEngine FieldName = "aluminum_engine"
	FieldAluminumRims   FieldName = "aluminum_rims"
)

// Fields lists all field names in canonical order.
func Fields() [4]FieldName {
	return [4]FieldName{FieldCurbWeight, FieldCatConverters, FieldAluminumEngine, FieldAluminumRims}
}

// Valid reports whether f is one of the four enumerated fields.
func (f FieldName) Valid() bool {
	switch f {
	case FieldCurbWeight, FieldCatConverters, FieldAluminumEngine, FieldAluminumRims:
		return true
	}
	return false
}

// ValueKind is the semantic type of a field's value.
type ValueKind string

const (
	KindNumber   ValueKind = "number"   // curb weight, pounds
	KindCount    ValueKind = "count"    // catalytic converters
	KindTriState ValueKind = "tristate" // aluminum engine / rims
)

// Kind returns the fixed semantic type for a field.
func (f FieldName) Kind() ValueKind {
	switch f {
	case FieldCurbWeight:
		return KindNumber
	case FieldCatConverters:
		return KindCount
	default:
		return KindTriState
	}
}

// Unit returns the display unit for a field, or "" if unitless.
func (f FieldName) Unit() string {
	if f == FieldCurbWeight {
		return "lbs"
	}
	return ""
}

// TriState is an explicit three-valued boolean. Absence of evidence is
// TriUnknown, never false.
type TriState string

const (
	TriTrue    TriState = "true"
	TriFalse   TriState = "false"
	TriUnknown TriState = "unknown"
)

// Value is a typed field value. Exactly one branch is meaningful, selected by
// Kind; Known is false only for the explicit unknown variant. A zero Value is
// unknown, so "no data" can never be smuggled in as 0 or false.
type Value struct {
	Kind  ValueKind `json:"kind"`
	Known bool      `json:"known"`
	Num   float64   `json:"num,omitempty"`
	Count int       `json:"count,omitempty"`
	Bool  bool      `json:"bool,omitempty"`
}

// NumberValue constructs a known numeric value.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Known: true, Num: n} }

// CountValue constructs a known integer count value.
func CountValue(n int) Value { return Value{Kind: KindCount, Known: true, Count: n} }

// BoolValue constructs a known tri-state value.
func BoolValue(b bool) Value { return Value{Kind: KindTriState, Known: true, Bool: b} }

// Unknown constructs the explicit unknown variant for a field's kind.
func Unknown(kind ValueKind) Value { return Value{Kind: kind} }

// Tri returns the tri-state view of a value.
func (v Value) Tri() TriState {
	if !v.Known {
		return TriUnknown
	}
	if v.Bool {
		return TriTrue
	}
	return TriFalse
}

// String renders the value for logs and evidence rows.
func (v Value) String() string {
	if !v.Known {
		return "unknown"
	}
	switch v.Kind {
	case KindNumber:
		return fmt.Sprintf("%g", v.Num)
	case KindCount:
		return fmt.Sprintf("%d", v.Count)
	default:
		return string(v.Tri())
	}
}

// ParseValue reconstructs a Value of the given kind from its persisted string
// form (the inverse of String). Used when reading evidence rows back.
func ParseValue(kind ValueKind, s string) (Value, error) {
	if s == "unknown" {
		return Unknown(kind), nil
	}
	switch kind {
	case KindNumber:
		var n float64
		if _, err := fmt.Sscanf(s, "%g", &n); err != nil {
			return Value{}, eris.Wrapf(err, "parse number value %q", s)
		}
		return NumberValue(n), nil
	case KindCount:
		var n int
		if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
			return Value{}, eris.Wrapf(err, "parse count value %q", s)
		}
		return CountValue(n), nil
	case KindTriState:
		switch s {
		case "true":
			return BoolValue(true), nil
		case "false":
			return BoolValue(false), nil
		}
		return Value{}, eris.Errorf("parse tristate value %q", s)
	}
	return Value{}, eris.Errorf("unknown value kind %q", kind)
}

// MarshalJSON renders unknown values as the string "unknown" and known values
// as their natural JSON type, which is what the presentation layer consumes.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Known {
		return json.Marshal("unknown")
	}
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindCount:
		return json.Marshal(v.Count)
	default:
		return json.Marshal(v.Bool)
	}
}
