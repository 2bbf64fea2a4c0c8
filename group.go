package siox

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/ramory-l/siox/asyncapi"
	"github.com/ramory-l/siox/internal/casing"
	"github.com/ramory-l/siox/schema"
)

// Group collects events declared together, typically the fields of one
// controller struct, and binds them before they are attached to a
// namespace.
type Group struct {
	registry  *schema.Registry
	namespace string
	casing    schema.Casing

	mu     sync.Mutex
	models []*schema.Model
	events []Event
	names  map[string]Event
	sealed bool
}

// GroupOption configures a Group.
type GroupOption func(*Group)

// ForNamespace assigns events of the group to a namespace.
func ForNamespace(name string) GroupOption {
	return func(g *Group) { g.namespace = normalizeNamespace(name) }
}

// KebabCase makes event and field names hyphenated on the wire.
func KebabCase() GroupOption {
	return func(g *Group) { g.casing = schema.KebabCase }
}

// NewGroup creates a group whose models are registered in reg.
func NewGroup(reg *schema.Registry, opts ...GroupOption) *Group {
	g := &Group{
		registry: reg,
		casing:   schema.SnakeCase,
		names:    make(map[string]Event),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var eventType = reflect.TypeOf((*Event)(nil)).Elem()

// Route binds every exported field of container holding an Event. The
// event name defaults to the snake_case field name; a `siox:"name"` tag
// overrides it and `siox:"-"` skips the field. Routing the same container
// again is a no-op.
func (g *Group) Route(container any) error {
	rv := reflect.ValueOf(container)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ErrNotContainer
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("%w: got %T", ErrNotContainer, container)
	}

	var errs []error
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() || !field.Type.Implements(eventType) {
			continue
		}
		tag := field.Tag.Get("siox")
		if tag == "-" {
			continue
		}
		fv := rv.Field(i)
		if fv.IsNil() {
			continue
		}
		slot := tag
		if slot == "" {
			slot = casing.Snake(field.Name)
		}
		if err := g.Bind(slot, fv.Interface().(Event)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Bind binds one event under slot unless it already has a name.
func (g *Group) Bind(slot string, ev Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ev.base().group == g {
		return nil
	}
	if g.sealed {
		return ErrGroupSealed
	}

	name, _, err := ev.base().plan(g, slot)
	if err != nil {
		return err
	}
	key := g.casing.Internal(g.casing.Wire(name))
	if _, ok := g.names[key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateEvent, name)
	}

	if err := ev.bind(g, slot); err != nil {
		return err
	}
	g.names[key] = ev
	g.events = append(g.events, ev)
	for _, m := range ev.models() {
		g.addModel(m)
	}
	return nil
}

func (g *Group) addModel(m *schema.Model) {
	for _, have := range g.models {
		if have.Name() == m.Name() {
			return
		}
	}
	g.models = append(g.models, m)
}

// Namespace returns the namespace assigned with ForNamespace.
func (g *Group) Namespace() string { return g.namespace }

// Casing returns the wire casing of the group.
func (g *Group) Casing() schema.Casing { return g.casing }

// Events returns the bound events in binding order.
func (g *Group) Events() []Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Event(nil), g.events...)
}

// Models returns every model referenced by bound events, without
// duplicates, in binding order.
func (g *Group) Models() []*schema.Model {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*schema.Model(nil), g.models...)
}

// ExtractDocChannels documents every bound event keyed by wire name.
func (g *Group) ExtractDocChannels() *asyncapi.Map {
	out := asyncapi.NewMap()
	for _, ev := range g.Events() {
		namespace := ev.Namespace()
		if namespace == "" {
			namespace = normalizeNamespace(g.namespace)
		}
		wire := g.casing.Wire(ev.Name())
		out.Set(wire, ev.channelDoc(wire, namespace))
	}
	return out
}

// ExtractDocMessages documents every referenced model keyed by its name.
func (g *Group) ExtractDocMessages() *asyncapi.Map {
	out := asyncapi.NewMap()
	for _, m := range g.Models() {
		out.Set(m.Name(), map[string]any{"payload": m.Doc()})
	}
	return out
}

func (g *Group) seal() {
	g.mu.Lock()
	g.sealed = true
	g.mu.Unlock()
}
