package siox

import (
	"context"
	"reflect"
)

// Empty is the payload model of events that carry no fields.
type Empty struct{}

// HandlerFunc handles one decoded client event. The returned value becomes
// the acknowledgement: a Reply sets code and message explicitly, anything
// else is acknowledgement data. Returning an *EventError aborts the exchange.
type HandlerFunc[In any] func(c *Context, in In) (any, error)

// RawHandler is a HandlerFunc with its input type erased.
type RawHandler func(c *Context, in any) (any, error)

// Erase adapts a typed handler to a RawHandler.
func Erase[In any](fn HandlerFunc[In]) RawHandler {
	return func(c *Context, in any) (any, error) {
		if v, ok := in.(In); ok {
			return fn(c, v)
		}
		// In is a pointer to the decoded struct.
		ptr := reflect.New(reflect.TypeOf(in))
		ptr.Elem().Set(reflect.ValueOf(in))
		return fn(c, ptr.Interface().(In))
	}
}

// Context carries the state of one event invocation.
type Context struct {
	ctx       context.Context
	socket    *Socket
	namespace *Namespace
	duplex    *DuplexEvent
	principal any
	entities  map[string]any
}

// NewContext returns a Context with no connection attached, for invoking
// events outside of a namespace.
func NewContext(parent context.Context) *Context {
	if parent == nil {
		parent = context.Background()
	}
	return &Context{ctx: parent}
}

// Context returns the request context. It is canceled when the socket
// disconnects.
func (c *Context) Context() context.Context { return c.ctx }

// Socket returns the connection that sent the event, or nil.
func (c *Context) Socket() *Socket { return c.socket }

// Namespace returns the namespace that dispatched the event, or nil.
func (c *Context) Namespace() *Namespace { return c.namespace }

// Duplex returns the duplex event being handled when it was declared with
// UseEvent, or nil.
func (c *Context) Duplex() *DuplexEvent { return c.duplex }

// Identity returns the identity resolved when the socket connected.
func (c *Context) Identity() map[string]any {
	if c.socket == nil {
		return nil
	}
	return c.socket.Identity()
}

// Principal returns what the Authorize resolver returned, or nil.
func (c *Context) Principal() any { return c.principal }

// Entity returns the entity a Search stored under name, or nil.
func (c *Context) Entity(name string) any { return c.entities[name] }

// EntityOf returns the entity a Search stored under name as a T.
func EntityOf[T any](c *Context, name string) (T, bool) {
	v, ok := c.entities[name].(T)
	return v, ok
}

func (c *Context) set(name string, v any) {
	if c.entities == nil {
		c.entities = make(map[string]any)
	}
	c.entities[name] = v
}

func (c *Context) withDuplex(d *DuplexEvent) *Context {
	cp := *c
	cp.duplex = d
	return &cp
}
