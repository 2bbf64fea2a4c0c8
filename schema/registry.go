package schema

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	ErrDuplicateName  = errors.New("schema: two types share one schema name")
	ErrCasingConflict = errors.New("schema: type already registered with another casing")
)

// Registry owns every model of one server so that schema names stay unique
// and each type is compiled exactly once.
type Registry struct {
	mu     sync.Mutex
	byType map[reflect.Type]*Model
	byName map[string]*Model
	order  []*Model
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]*Model),
		byName: make(map[string]*Model),
	}
}

// Model returns the model for t, compiling and registering it on first use.
func (r *Registry) Model(t reflect.Type, c Casing) (*Model, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.byType[t]; ok {
		if m.casing != c {
			return nil, fmt.Errorf("%w: %s is %s, requested %s", ErrCasingConflict, t, m.casing, c)
		}
		return m, nil
	}

	m, err := Compile(t, c)
	if err != nil {
		return nil, err
	}
	if other, ok := r.byName[m.name]; ok {
		return nil, fmt.Errorf("%w: %q used by %s and %s", ErrDuplicateName, m.name, other.typ, t)
	}
	r.byType[t] = m
	r.byName[m.name] = m
	r.order = append(r.order, m)
	return m, nil
}

// Lookup returns a registered model by schema name.
func (r *Registry) Lookup(name string) (*Model, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byName[name]
	return m, ok
}

// Models returns every registered model in registration order.
func (r *Registry) Models() []*Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Model, len(r.order))
	copy(out, r.order)
	return out
}
