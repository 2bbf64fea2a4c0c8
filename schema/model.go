// Package schema turns Go struct types into payload schemas.
//
// A Model is compiled once from a struct type and then used to parse
// incoming wire data into a typed value, to render a typed value back into
// wire data, and to describe the payload as a structural schema fragment.
//
// Field rules:
//
//   - the internal name comes from the json tag, or the snake_case field name;
//   - the wire name is the internal name under the model's Casing;
//   - pointer, slice, map and interface fields are optional, everything else
//     is required unless it carries a `default:"..."` tag;
//   - default tags are read as JSON, falling back to a plain string.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/ramory-l/siox/codec"
	"github.com/ramory-l/siox/internal/casing"
)

var (
	ErrNotStruct        = errors.New("schema: type is not a struct")
	ErrUnnamed          = errors.New("schema: anonymous struct needs a SchemaName method")
	ErrUnsupportedField = errors.New("schema: unsupported field type")
	ErrRecursive        = errors.New("schema: recursive struct type")
	ErrTypeMismatch     = errors.New("schema: value does not match model type")
)

// Named lets a payload type pick its documented name instead of the Go type name.
type Named interface {
	SchemaName() string
}

// Casing is the wire naming convention of a model's fields.
type Casing uint8

const (
	// SnakeCase keeps internal names on the wire.
	SnakeCase Casing = iota
	// KebabCase replaces underscores with hyphens on the wire.
	KebabCase
)

// Wire converts an internal name to its wire form.
func (c Casing) Wire(name string) string {
	if c == KebabCase {
		return casing.Kebab(name)
	}
	return name
}

// Internal converts a wire name back to its internal form.
func (c Casing) Internal(wire string) string {
	if c == KebabCase {
		return casing.Dekebab(wire)
	}
	return wire
}

func (c Casing) String() string {
	if c == KebabCase {
		return "kebab"
	}
	return "snake"
}

// Field is one compiled struct field.
type Field struct {
	Name     string // internal name
	Wire     string // name on the wire
	Required bool
	Default  any

	hasDefault bool
	index      []int
	typ        reflect.Type
	sub        *Model
	doc        *openapi3.Schema
}

// Model is a compiled payload schema.
type Model struct {
	name   string
	typ    reflect.Type
	casing Casing
	fields []*Field
	doc    *openapi3.Schema
}

// Name returns the stable documentation key of the model.
func (m *Model) Name() string { return m.name }

// Type returns the struct type the model was compiled from.
func (m *Model) Type() reflect.Type { return m.typ }

// Casing returns the wire naming convention.
func (m *Model) Casing() Casing { return m.casing }

// Fields returns the compiled fields in declaration order.
func (m *Model) Fields() []*Field { return m.fields }

// Doc returns the structural schema fragment describing the wire payload.
func (m *Model) Doc() *openapi3.Schema { return m.doc }

// Compile builds a model for t without registering it anywhere.
func Compile(t reflect.Type, c Casing) (*Model, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s", ErrNotStruct, t)
	}
	m, err := compile(t, c, map[reflect.Type]bool{})
	if err != nil {
		return nil, err
	}
	if m.name == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnnamed, t)
	}
	m.doc.Title = m.name
	return m, nil
}

// TypeOf returns the reflect type of T.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

var (
	timeType       = reflect.TypeOf(time.Time{})
	namedType      = reflect.TypeOf((*Named)(nil)).Elem()
	enumeratedType = reflect.TypeOf((*codec.Enumerated)(nil)).Elem()
)

func typeName(t reflect.Type) string {
	switch {
	case t.Implements(namedType):
		return reflect.Zero(t).Interface().(Named).SchemaName()
	case reflect.PointerTo(t).Implements(namedType):
		return reflect.New(t).Interface().(Named).SchemaName()
	}
	return t.Name()
}

func compile(t reflect.Type, c Casing, seen map[reflect.Type]bool) (*Model, error) {
	if seen[t] {
		return nil, fmt.Errorf("%w: %s", ErrRecursive, t)
	}
	seen[t] = true
	defer delete(seen, t)

	m := &Model{
		name:   typeName(t),
		typ:    t,
		casing: c,
		doc:    openapi3.NewObjectSchema(),
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = casing.Snake(sf.Name)
		}

		f := &Field{
			Name:  name,
			Wire:  c.Wire(name),
			index: sf.Index,
			typ:   sf.Type,
		}
		doc, sub, err := typeSchema(sf.Type, c, seen)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t, sf.Name, err)
		}
		f.doc, f.sub = doc, sub

		if raw, ok := sf.Tag.Lookup("default"); ok {
			f.hasDefault = true
			f.Default = parseDefault(raw)
			doc.Default = f.Default
		}
		switch sf.Type.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		default:
			f.Required = !f.hasDefault
		}

		m.fields = append(m.fields, f)
		m.doc.WithProperty(f.Wire, doc)
		if f.Required {
			m.doc.Required = append(m.doc.Required, f.Wire)
		}
	}
	return m, nil
}

func parseDefault(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func typeSchema(t reflect.Type, c Casing, seen map[reflect.Type]bool) (*openapi3.Schema, *Model, error) {
	nullable := false
	for t.Kind() == reflect.Pointer {
		nullable = true
		t = t.Elem()
	}

	var (
		s   *openapi3.Schema
		sub *Model
	)
	switch {
	case t.Implements(enumeratedType) || reflect.PointerTo(t).Implements(enumeratedType):
		labels := reflect.New(t).Interface().(codec.Enumerated).EnumLabels()
		values := make([]any, len(labels))
		for i, l := range labels {
			values[i] = l
		}
		s = openapi3.NewStringSchema().WithEnum(values...)
	case t == timeType:
		s = openapi3.NewDateTimeSchema()
	default:
		switch t.Kind() {
		case reflect.String:
			s = openapi3.NewStringSchema()
		case reflect.Bool:
			s = openapi3.NewBoolSchema()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			s = openapi3.NewIntegerSchema()
		case reflect.Float32, reflect.Float64:
			s = openapi3.NewFloat64Schema()
		case reflect.Interface:
			s = &openapi3.Schema{}
		case reflect.Slice, reflect.Array:
			items, elemModel, err := typeSchema(t.Elem(), c, seen)
			if err != nil {
				return nil, nil, err
			}
			s, sub = openapi3.NewArraySchema().WithItems(items), elemModel
		case reflect.Map:
			if t.Key().Kind() != reflect.String {
				return nil, nil, fmt.Errorf("%w: map key %s", ErrUnsupportedField, t.Key())
			}
			values, _, err := typeSchema(t.Elem(), c, seen)
			if err != nil {
				return nil, nil, err
			}
			s = openapi3.NewObjectSchema().WithAdditionalProperties(values)
		case reflect.Struct:
			nested, err := compile(t, c, seen)
			if err != nil {
				return nil, nil, err
			}
			s, sub = nested.doc, nested
		default:
			return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedField, t)
		}
	}
	if nullable {
		s.Nullable = true
	}
	return s, sub, nil
}
