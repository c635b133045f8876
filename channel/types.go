// Package channel defines the channel data model shared by the driver core
// and the republishing surfaces: typed values, per-call records, statuses,
// and the listener interface for push-style notifications.
package channel

import (
	"fmt"
	"math"
	"strings"
)

// DataType identifies the declared value type of a channel.
type DataType string

const (
	Boolean DataType = "BOOLEAN"
	Integer DataType = "INTEGER"
	Long    DataType = "LONG"
	Float   DataType = "FLOAT"
	Double  DataType = "DOUBLE"
	String  DataType = "STRING"
	Bytes   DataType = "BYTE_ARRAY"
)

// ParseDataType converts a configuration string into a DataType.
// Matching is case-insensitive.
func ParseDataType(s string) (DataType, error) {
	switch DataType(strings.ToUpper(strings.TrimSpace(s))) {
	case Boolean:
		return Boolean, nil
	case Integer:
		return Integer, nil
	case Long:
		return Long, nil
	case Float:
		return Float, nil
	case Double:
		return Double, nil
	case String:
		return String, nil
	case Bytes:
		return Bytes, nil
	default:
		return "", fmt.Errorf("unknown value type %q", s)
	}
}

// TypedValue pairs a channel value with its declared type.
type TypedValue struct {
	Type  DataType
	Value interface{}
}

// NewBoolValue wraps a bool.
func NewBoolValue(v bool) *TypedValue { return &TypedValue{Type: Boolean, Value: v} }

// NewIntValue wraps an int32.
func NewIntValue(v int32) *TypedValue { return &TypedValue{Type: Integer, Value: v} }

// NewLongValue wraps an int64.
func NewLongValue(v int64) *TypedValue { return &TypedValue{Type: Long, Value: v} }

// NewFloatValue wraps a float32.
func NewFloatValue(v float32) *TypedValue { return &TypedValue{Type: Float, Value: v} }

// NewDoubleValue wraps a float64.
func NewDoubleValue(v float64) *TypedValue { return &TypedValue{Type: Double, Value: v} }

// NewStringValue wraps a string.
func NewStringValue(v string) *TypedValue { return &TypedValue{Type: String, Value: v} }

// NewBytesValue wraps a byte slice.
func NewBytesValue(v []byte) *TypedValue { return &TypedValue{Type: Bytes, Value: v} }

// NewValue builds a TypedValue of the given type, checking that the Go value
// matches the declared type.
func NewValue(t DataType, v interface{}) (*TypedValue, error) {
	ok := false
	switch t {
	case Boolean:
		_, ok = v.(bool)
	case Integer:
		_, ok = v.(int32)
	case Long:
		_, ok = v.(int64)
	case Float:
		_, ok = v.(float32)
	case Double:
		_, ok = v.(float64)
	case String:
		_, ok = v.(string)
	case Bytes:
		_, ok = v.([]byte)
	default:
		return nil, fmt.Errorf("unknown value type %q", t)
	}
	if !ok {
		return nil, fmt.Errorf("value %v (%T) does not match declared type %s", v, v, t)
	}
	return &TypedValue{Type: t, Value: v}, nil
}

// CoerceValue converts a loosely-typed value (as decoded from JSON or YAML)
// into a TypedValue of the declared type. JSON numbers arrive as float64;
// integral targets reject fractional input.
func CoerceValue(t DataType, v interface{}) (*TypedValue, error) {
	switch t {
	case Boolean:
		if b, ok := v.(bool); ok {
			return NewBoolValue(b), nil
		}
	case Integer:
		if n, ok := asInt64(v); ok {
			if n < math.MinInt32 || n > math.MaxInt32 {
				return nil, fmt.Errorf("value %v overflows %s", v, t)
			}
			return NewIntValue(int32(n)), nil
		}
	case Long:
		if n, ok := asInt64(v); ok {
			return NewLongValue(n), nil
		}
	case Float:
		if f, ok := asFloat64(v); ok {
			return NewFloatValue(float32(f)), nil
		}
	case Double:
		if f, ok := asFloat64(v); ok {
			return NewDoubleValue(f), nil
		}
	case String:
		if s, ok := v.(string); ok {
			return NewStringValue(s), nil
		}
	case Bytes:
		switch b := v.(type) {
		case []byte:
			return NewBytesValue(b), nil
		case string:
			return NewBytesValue([]byte(b)), nil
		}
	default:
		return nil, fmt.Errorf("unknown value type %q", t)
	}
	return nil, fmt.Errorf("cannot convert %v (%T) to %s", v, v, t)
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case float32:
		f := float64(n)
		if f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}

func asFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func (v *TypedValue) String() string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%v", v.Value)
}
