package codec

import (
	"fmt"

	"github.com/ramory-l/siox/internal/casing"
)

// Integer is the set of underlying types an Enum table can index.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32
}

// EnumTable maps iota-style constants to their wire labels. Names are given
// in declaration order as Go or upper-snake constant names and rendered
// lower-case and hyphenated.
type EnumTable[T Integer] struct {
	labels []string
	values map[string]T
}

// NewEnum builds a table where value i is named names[i].
func NewEnum[T Integer](names ...string) *EnumTable[T] {
	e := &EnumTable[T]{
		labels: make([]string, len(names)),
		values: make(map[string]T, len(names)),
	}
	for i, name := range names {
		label := casing.Label(name)
		e.labels[i] = label
		e.values[label] = T(i)
	}
	return e
}

// Label returns the wire label for v, or "" when v is out of range.
func (e *EnumTable[T]) Label(v T) string {
	i := int(v)
	if i < 0 || i >= len(e.labels) {
		return ""
	}
	return e.labels[i]
}

// Parse resolves a wire label back to its value.
func (e *EnumTable[T]) Parse(label string) (T, error) {
	v, ok := e.values[label]
	if !ok {
		return 0, fmt.Errorf("unknown enum label %q", label)
	}
	return v, nil
}

// Labels returns all labels in declaration order.
func (e *EnumTable[T]) Labels() []string {
	out := make([]string, len(e.labels))
	copy(out, e.labels)
	return out
}
