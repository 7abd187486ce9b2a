package models

import (
	"encoding/json"
	"strconv"
)

// Float is a numeric reading that may be absent from the source payload.
// An absent value marshals as null, never as 0.
type Float struct {
	Value float64
	Valid bool
}

// SomeFloat returns a present Float.
func SomeFloat(v float64) Float {
	return Float{Value: v, Valid: true}
}

// FloatFrom converts an optional wire field.
func FloatFrom(p *float64) Float {
	if p == nil {
		return Float{}
	}
	return SomeFloat(*p)
}

// Any returns the value or nil when absent.
func (f Float) Any() any {
	if !f.Valid {
		return nil
	}
	return f.Value
}

// MarshalJSON implements json.Marshaler
func (f Float) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Int is an integer reading that may be absent.
type Int struct {
	Value int
	Valid bool
}

// SomeInt returns a present Int.
func SomeInt(v int) Int {
	return Int{Value: v, Valid: true}
}

// IntFrom converts an optional wire field.
func IntFrom(p *int) Int {
	if p == nil {
		return Int{}
	}
	return SomeInt(*p)
}

// Any returns the value or nil when absent.
func (i Int) Any() any {
	if !i.Valid {
		return nil
	}
	return i.Value
}

// MarshalJSON implements json.Marshaler
func (i Int) MarshalJSON() ([]byte, error) {
	if !i.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(i.Value)), nil
}

// Bool is a flag that may be absent.
type Bool struct {
	Value bool
	Valid bool
}

// SomeBool returns a present Bool.
func SomeBool(v bool) Bool {
	return Bool{Value: v, Valid: true}
}

// Any returns the value or nil when absent.
func (b Bool) Any() any {
	if !b.Valid {
		return nil
	}
	return b.Value
}

// MarshalJSON implements json.Marshaler
func (b Bool) MarshalJSON() ([]byte, error) {
	if !b.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(b.Value)
}

// String is a text field that may be absent.
type String struct {
	Value string
	Valid bool
}

// StringFrom converts an optional wire field.
func StringFrom(p *string) String {
	if p == nil {
		return String{}
	}
	return String{Value: *p, Valid: true}
}

// Any returns the value or nil when absent.
func (s String) Any() any {
	if !s.Valid {
		return nil
	}
	return s.Value
}

// MarshalJSON implements json.Marshaler
func (s String) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(s.Value)
}
