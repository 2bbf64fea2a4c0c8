package schema

import (
	"fmt"
	"reflect"
)

// RenderOptions project a rendered payload. Include and Exclude hold
// internal top-level field names; an empty Include keeps every field.
// OmitEmpty drops fields whose value is nil.
type RenderOptions struct {
	Include   []string
	Exclude   []string
	OmitEmpty bool
}

func (o RenderOptions) keep(name string) bool {
	for _, ex := range o.Exclude {
		if ex == name {
			return false
		}
	}
	if len(o.Include) == 0 {
		return true
	}
	for _, in := range o.Include {
		if in == name {
			return true
		}
	}
	return false
}

// Render encodes v into wire data keyed by wire field names. v may be a
// value or pointer of the model's type, or a map of internal field names
// which is first passed through Build.
func (m *Model) Render(v any, opts RenderOptions) (map[string]any, error) {
	if fields, ok := v.(map[string]any); ok {
		built, err := m.Build(fields)
		if err != nil {
			return nil, err
		}
		v = built
	}

	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: nil %s", ErrTypeMismatch, m.typ)
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() || rv.Type() != m.typ {
		return nil, fmt.Errorf("%w: want %s, got %T", ErrTypeMismatch, m.typ, v)
	}
	return m.renderStruct(rv, opts, true), nil
}

func (m *Model) renderStruct(rv reflect.Value, opts RenderOptions, top bool) map[string]any {
	out := make(map[string]any, len(m.fields))
	for _, f := range m.fields {
		if top && !opts.keep(f.Name) {
			continue
		}
		val := f.render(rv.FieldByIndex(f.index), opts.OmitEmpty)
		if val == nil && opts.OmitEmpty {
			continue
		}
		out[f.Wire] = val
	}
	return out
}

func (f *Field) render(rv reflect.Value, omitEmpty bool) any {
	if isNil(rv) {
		return nil
	}
	if f.sub == nil {
		for rv.Kind() == reflect.Pointer {
			rv = rv.Elem()
		}
		return rv.Interface()
	}
	return renderNested(f.sub, rv, omitEmpty)
}

func renderNested(sub *Model, rv reflect.Value, omitEmpty bool) any {
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		return sub.renderStruct(rv, RenderOptions{OmitEmpty: omitEmpty}, false)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = renderNested(sub, rv.Index(i), omitEmpty)
		}
		return items
	}
	return rv.Interface()
}

func isNil(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
