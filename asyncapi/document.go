// Package asyncapi holds the protocol document exported by a siox server:
// channels (events) and component messages (payload schemas) in an AsyncAPI
// 2.x shaped document.
package asyncapi

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/sjson"
)

// Version is the AsyncAPI version written into every document.
const Version = "2.2.0"

// Map is an insertion-ordered JSON object.
type Map struct {
	keys   []string
	values map[string]any
}

// NewMap creates an empty ordered map.
func NewMap() *Map {
	return &Map{values: make(map[string]any)}
}

// Set stores v under k. Existing keys keep their position.
func (m *Map) Set(k string, v any) {
	if _, ok := m.values[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.values[k] = v
}

// Get returns the value stored under k.
func (m *Map) Get(k string) (any, bool) {
	v, ok := m.values[k]
	return v, ok
}

// Has reports whether k is present.
func (m *Map) Has(k string) bool {
	_, ok := m.values[k]
	return ok
}

// Len returns the number of keys.
func (m *Map) Len() int { return len(m.keys) }

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Merge copies every entry of other into m and returns the keys that
// already existed in m.
func (m *Map) Merge(other *Map) []string {
	if other == nil {
		return nil
	}
	var overwritten []string
	for _, k := range other.keys {
		if m.Has(k) {
			overwritten = append(overwritten, k)
		}
		m.Set(k, other.values[k])
	}
	return overwritten
}

// MarshalJSON writes the keys in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	out := []byte("{}")
	if m == nil {
		return out, nil
	}
	for _, k := range m.keys {
		raw, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		out, err = sjson.SetRawBytes(out, keyPath(k), raw)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
	`:`, `\:`,
)

// keyPath turns an object key into a one-segment sjson path. Numeric keys
// get the ':' prefix so they address an object key, not an array index.
func keyPath(k string) string {
	if k != "" && strings.Trim(k, "0123456789") == "" {
		return ":" + k
	}
	return pathEscaper.Replace(k)
}

// Info is the document header.
type Info struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

// Components holds reusable definitions.
type Components struct {
	Messages *Map `json:"messages"`
}

// Document is the full protocol document.
type Document struct {
	AsyncAPI   string     `json:"asyncapi"`
	Info       Info       `json:"info"`
	Channels   *Map       `json:"channels"`
	Components Components `json:"components"`
}

// New creates an empty document.
func New(title, version string) *Document {
	return &Document{
		AsyncAPI:   Version,
		Info:       Info{Title: title, Version: version},
		Channels:   NewMap(),
		Components: Components{Messages: NewMap()},
	}
}

// MessageRef returns a JSON reference to a component message.
func MessageRef(name string) map[string]any {
	return map[string]any{"$ref": "#/components/messages/" + name}
}

// PayloadRef returns a JSON reference to the payload of a component message.
func PayloadRef(name string) map[string]any {
	return map[string]any{"$ref": "#/components/messages/" + name + "/payload"}
}
