// Package codec converts values that are not JSON-native (enumerations,
// timestamps) into their wire form.
//
// The codec is strict: values it does not know how to represent are a hard
// error instead of being stringified.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"
)

// ErrUnsupportedType is returned for values the codec cannot represent.
var ErrUnsupportedType = errors.New("codec: unsupported type")

// TimeLayout is the fixed textual representation of timestamps on the wire.
const TimeLayout = time.RFC3339Nano

// Codec serializes packet payloads.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Enum is implemented by enumeration types. EnumLabel returns the wire label.
type Enum interface {
	EnumLabel() string
}

// Enumerated is implemented by enumeration types that can list every label,
// used when documenting a field.
type Enumerated interface {
	EnumLabels() []string
}

// JSON is the default codec: encoding/json after normalizing the value tree.
type JSON struct{}

// Default is the codec used when none is configured.
var Default Codec = JSON{}

// Marshal normalizes v and encodes it as JSON.
func (JSON) Marshal(v any) ([]byte, error) {
	norm, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(norm)
}

// Unmarshal decodes JSON into v.
func (JSON) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	enumType      = reflect.TypeOf((*Enum)(nil)).Elem()
)

// Normalize walks v and returns an equivalent tree made only of JSON-native
// values: nil, bool, numbers, strings, []any and map[string]any. Enums become
// their label and time.Time becomes a TimeLayout string. Values implementing
// json.Marshaler are passed through untouched.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return normalize(reflect.ValueOf(v))
}

func normalize(rv reflect.Value) (any, error) {
	for rv.IsValid() && (rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer) {
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Kind() == reflect.Pointer && !derefable(rv.Type()) {
			break
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, nil
	}
	t := rv.Type()

	switch {
	case t.Implements(enumType):
		return rv.Interface().(Enum).EnumLabel(), nil
	case t == timeType:
		return rv.Interface().(time.Time).UTC().Format(TimeLayout), nil
	case t.Implements(marshalerType):
		return rv.Interface(), nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			item, err := normalize(rv.Index(i))
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = item
		}
		return out, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key %s", ErrUnsupportedType, t.Key())
		}
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item, err := normalize(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", iter.Key().String(), err)
			}
			out[iter.Key().String()] = item
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// derefable reports whether a pointer should be followed before encoding. A
// pointer whose method set adds Enum or json.Marshaler is encoded as is.
func derefable(t reflect.Type) bool {
	elem := t.Elem()
	if t.Implements(enumType) && !elem.Implements(enumType) {
		return false
	}
	if t.Implements(marshalerType) && !elem.Implements(marshalerType) {
		return false
	}
	return true
}
