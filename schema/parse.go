package schema

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-viper/mapstructure/v2"

	"github.com/ramory-l/siox/codec"
)

// Issue is one problem found while decoding a payload.
type Issue struct {
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

// ValidationError reports every issue found in one payload.
type ValidationError struct {
	Model  string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		if is.Field == "" {
			parts[i] = is.Reason
			continue
		}
		parts[i] = is.Field + ": " + is.Reason
	}
	return fmt.Sprintf("schema: invalid %s payload: %s", e.Model, strings.Join(parts, "; "))
}

// Detail renders the issues as wire data.
func (e *ValidationError) Detail() []any {
	out := make([]any, len(e.Issues))
	for i, is := range e.Issues {
		item := map[string]any{"reason": is.Reason}
		if is.Field != "" {
			item["field"] = is.Field
		}
		out[i] = item
	}
	return out
}

// Parse validates raw wire data against the model and decodes it into a new
// value of the model's struct type. A nil payload is treated as an empty
// object. Absent optional fields receive their declared default.
func (m *Model) Parse(raw any) (any, error) {
	var obj map[string]any
	switch v := raw.(type) {
	case nil:
		obj = map[string]any{}
	case map[string]any:
		obj = v
	default:
		return nil, &ValidationError{Model: m.name, Issues: []Issue{{Reason: "payload must be an object"}}}
	}

	if issues := m.validate(obj); len(issues) > 0 {
		return nil, &ValidationError{Model: m.name, Issues: issues}
	}

	out := reflect.New(m.typ).Elem()
	if issues := m.decodeObject(obj, out, true, ""); len(issues) > 0 {
		return nil, &ValidationError{Model: m.name, Issues: issues}
	}
	return out.Interface(), nil
}

// Build constructs a model value from internally named fields, applying
// defaults and enforcing required fields. Values may already be typed.
func (m *Model) Build(fields map[string]any) (any, error) {
	out := reflect.New(m.typ).Elem()
	if issues := m.decodeObject(fields, out, false, ""); len(issues) > 0 {
		return nil, &ValidationError{Model: m.name, Issues: issues}
	}
	return out.Interface(), nil
}

// validate runs the structural type checks. Required fields are checked by
// decodeObject once defaults are known.
func (m *Model) validate(obj map[string]any) []Issue {
	err := m.doc.VisitJSON(obj, openapi3.MultiErrors())
	if err == nil {
		return nil
	}

	var errs []error
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		errs = flatten(multi)
	} else {
		errs = []error{err}
	}

	var issues []Issue
	for _, e := range errs {
		var se *openapi3.SchemaError
		if !errors.As(e, &se) {
			issues = append(issues, Issue{Reason: e.Error()})
			continue
		}
		if se.SchemaField == "required" {
			continue
		}
		issues = append(issues, Issue{
			Field:  strings.Join(se.JSONPointer(), "."),
			Reason: se.Reason,
		})
	}
	sortIssues(issues)
	return issues
}

func flatten(multi openapi3.MultiError) []error {
	var out []error
	for _, e := range multi {
		var nested openapi3.MultiError
		if errors.As(e, &nested) {
			out = append(out, flatten(nested)...)
			continue
		}
		out = append(out, e)
	}
	return out
}

func (m *Model) decodeObject(obj map[string]any, dst reflect.Value, wire bool, path string) []Issue {
	var issues []Issue
	for _, f := range m.fields {
		key := f.Name
		if wire {
			key = f.Wire
		}
		fieldPath := joinPath(path, key)

		v, ok := obj[key]
		if !ok {
			switch {
			case f.hasDefault:
				v = f.Default
			case f.Required:
				issues = append(issues, Issue{Field: fieldPath, Reason: "field required"})
				continue
			default:
				continue
			}
		}
		if v == nil {
			if f.Required {
				issues = append(issues, Issue{Field: fieldPath, Reason: "field required"})
			}
			continue
		}
		issues = append(issues, f.decode(v, dst.FieldByIndex(f.index), wire, fieldPath)...)
	}
	return issues
}

func (f *Field) decode(v any, dst reflect.Value, wire bool, path string) []Issue {
	if f.sub == nil {
		if err := decodeValue(v, dst); err != nil {
			return []Issue{{Field: path, Reason: err.Error()}}
		}
		return nil
	}
	return decodeNested(f.sub, v, dst, wire, path)
}

// decodeNested handles struct, *struct, []struct and []*struct targets.
func decodeNested(sub *Model, v any, dst reflect.Value, wire bool, path string) []Issue {
	if rv := reflect.ValueOf(v); rv.Type().AssignableTo(dst.Type()) {
		dst.Set(rv)
		return nil
	}

	switch dst.Kind() {
	case reflect.Pointer:
		elem := reflect.New(dst.Type().Elem())
		if issues := decodeNested(sub, v, elem.Elem(), wire, path); len(issues) > 0 {
			return issues
		}
		dst.Set(elem)
		return nil
	case reflect.Struct:
		obj, ok := v.(map[string]any)
		if !ok {
			return []Issue{{Field: path, Reason: "expected object"}}
		}
		return sub.decodeObject(obj, dst, wire, path)
	case reflect.Slice:
		items, ok := v.([]any)
		if !ok {
			return []Issue{{Field: path, Reason: "expected array"}}
		}
		out := reflect.MakeSlice(dst.Type(), len(items), len(items))
		var issues []Issue
		for i, item := range items {
			if item == nil {
				continue
			}
			issues = append(issues, decodeNested(sub, item, out.Index(i), wire, path+"."+strconv.Itoa(i))...)
		}
		if len(issues) == 0 {
			dst.Set(out)
		}
		return issues
	}
	return []Issue{{Field: path, Reason: fmt.Sprintf("cannot decode into %s", dst.Type())}}
}

var decodeHook = mapstructure.ComposeDecodeHookFunc(
	mapstructure.StringToTimeHookFunc(codec.TimeLayout),
	mapstructure.TextUnmarshallerHookFunc(),
)

func decodeValue(v any, dst reflect.Value) error {
	if rv := reflect.ValueOf(v); rv.Type().AssignableTo(dst.Type()) {
		dst.Set(rv)
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: decodeHook,
		TagName:    "json",
		Result:     dst.Addr().Interface(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(v)
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// sortIssues orders issues by field so error output is deterministic.
func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Field < issues[j].Field })
}
