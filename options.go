package siox

import (
	"fmt"
	"reflect"

	"github.com/ramory-l/siox/schema"
)

// RenderOption shapes how a model value is rendered for the wire.
type RenderOption func(*renderConfig)

type renderConfig struct {
	include   []string
	exclude   []string
	keepEmpty bool
	forceWrap bool
}

// Include keeps only the named top-level fields.
func Include(fields ...string) RenderOption {
	return func(r *renderConfig) { r.include = append(r.include, fields...) }
}

// Exclude drops the named top-level fields.
func Exclude(fields ...string) RenderOption {
	return func(r *renderConfig) { r.exclude = append(r.exclude, fields...) }
}

// KeepEmpty renders nil fields as null instead of leaving them out.
func KeepEmpty() RenderOption {
	return func(r *renderConfig) { r.keepEmpty = true }
}

// ForceWrap wraps a bare acknowledgement value in {code: 200, data}. The
// code is always present so a wrapped ack has the envelope shape of a
// ForceAck or an Abort, not a bare {data}.
func ForceWrap() RenderOption {
	return func(r *renderConfig) { r.forceWrap = true }
}

func newRenderConfig(opts []RenderOption) renderConfig {
	var r renderConfig
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func (r renderConfig) schema() schema.RenderOptions {
	return schema.RenderOptions{
		Include:   r.include,
		Exclude:   r.exclude,
		OmitEmpty: !r.keepEmpty,
	}
}

// EventOption configures an event at construction.
type EventOption func(*eventConfig)

type abortDoc struct {
	code    int
	message string
}

type eventConfig struct {
	name        string
	description string
	docs        map[string]any
	render      renderConfig

	ackType   reflect.Type
	ackRender renderConfig
	forcedAck bool

	duplexType   reflect.Type
	duplexRender renderConfig
	useEvent     bool

	aborts    []abortDoc
	searches  []*searcher
	authorize *authorizer
	errs      []error
}

func newEventConfig(opts []EventOption) *eventConfig {
	cfg := &eventConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *eventConfig) fail(err error) {
	c.errs = append(c.errs, err)
}

// Name fixes the event name instead of deriving it from the routing slot.
func Name(name string) EventOption {
	return func(c *eventConfig) { c.name = name }
}

// Describe sets the human readable description used in documentation.
func Describe(text string) EventOption {
	return func(c *eventConfig) { c.description = text }
}

// Docs merges extra keys into the event's channel documentation.
func Docs(extra map[string]any) EventOption {
	return func(c *eventConfig) {
		if c.docs == nil {
			c.docs = make(map[string]any, len(extra))
		}
		for k, v := range extra {
			c.docs[k] = v
		}
	}
}

// Project sets the rendering of a server event's payload.
func Project(opts ...RenderOption) EventOption {
	return func(c *eventConfig) { c.render = newRenderConfig(opts) }
}

// Ack declares that a client event acknowledges with a value of model T.
// Declaring two different ack models, or combining Ack with ForceAck, is a
// configuration error.
func Ack[T any](opts ...RenderOption) EventOption {
	t := schema.TypeOf[T]()
	return func(c *eventConfig) {
		switch {
		case c.forcedAck:
			c.fail(fmt.Errorf("%w: Ack(%s) after ForceAck", ErrConflictingAck, t))
			return
		case c.ackType != nil && c.ackType != t:
			c.fail(fmt.Errorf("%w: ack model %s already declared, got %s", ErrConflictingAck, c.ackType, t))
			return
		}
		c.ackType = t
		c.ackRender = newRenderConfig(opts)
	}
}

// ForceAck always acknowledges with a {code, message?, data?} envelope, even
// when the handler returns nothing.
func ForceAck(opts ...RenderOption) EventOption {
	return func(c *eventConfig) {
		if c.ackType != nil {
			c.fail(fmt.Errorf("%w: ForceAck after Ack(%s)", ErrConflictingAck, c.ackType))
			return
		}
		c.forcedAck = true
		c.ackRender = newRenderConfig(opts)
	}
}

// MarkDuplex declares the server-to-client model of a duplex event. Without
// it a duplex event sends the same model it receives.
func MarkDuplex[T any](opts ...RenderOption) EventOption {
	t := schema.TypeOf[T]()
	return func(c *eventConfig) {
		if c.duplexType != nil && c.duplexType != t {
			c.fail(fmt.Errorf("%w: duplex model %s already declared, got %s", ErrInvalidOption, c.duplexType, t))
			return
		}
		c.duplexType = t
		c.duplexRender = newRenderConfig(opts)
	}
}

// UseEvent hands the duplex event itself to the handler through
// Context.Duplex.
func UseEvent() EventOption {
	return func(c *eventConfig) { c.useEvent = true }
}

// DocAbort documents a failure the handler may signal with Abort. It only
// affects the generated documentation.
func DocAbort(code int, message string) EventOption {
	return func(c *eventConfig) {
		c.aborts = append(c.aborts, abortDoc{code: code, message: message})
	}
}
