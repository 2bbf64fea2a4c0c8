package siox

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"strings"

	"github.com/ramory-l/siox/asyncapi"
	"github.com/ramory-l/siox/internal/metrics"
	"github.com/ramory-l/siox/schema"
)

// Event is a declared event: a ClientEvent, ServerEvent or DuplexEvent.
type Event interface {
	// Name returns the internal event name, empty until the event is named.
	Name() string
	// Namespace returns the namespace the event belongs to, empty until
	// it is settled by a group or a namespace.
	Namespace() string
	Description() string

	base() *eventBase
	bind(g *Group, slot string) error
	models() []*schema.Model
	attach(ns *Namespace) error
	channelDoc(wire, namespace string) map[string]any
	inbound() *ClientEvent
}

type eventBase struct {
	name        string
	namespace   string
	description string
	docs        map[string]any
	group       *Group
	ns          *Namespace
	err         error
}

func newEventBase(cfg *eventConfig) eventBase {
	return eventBase{
		name:        cfg.name,
		description: cfg.description,
		docs:        cfg.docs,
		err:         errors.Join(cfg.errs...),
	}
}

func (b *eventBase) Name() string        { return b.name }
func (b *eventBase) Namespace() string   { return b.namespace }
func (b *eventBase) Description() string { return b.description }
func (b *eventBase) base() *eventBase    { return b }

func (b *eventBase) label(slot string) string {
	if b.name != "" {
		return b.name
	}
	return slot
}

// plan resolves the name and namespace the event gets in g without
// changing it.
func (b *eventBase) plan(g *Group, slot string) (name, namespace string, err error) {
	if b.err != nil {
		return "", "", fmt.Errorf("event %q: %w", b.label(slot), b.err)
	}
	if b.group != nil && b.group != g {
		return "", "", fmt.Errorf("%w: %q", ErrAlreadyBound, b.label(slot))
	}
	name = b.name
	if name == "" {
		name = slot
	}
	if name == "" {
		return "", "", ErrUnnamed
	}
	namespace = b.namespace
	if g.namespace != "" {
		if namespace != "" && namespace != g.namespace {
			return "", "", fmt.Errorf("%w: %q is in %q, group is %q", ErrNamespaceMismatch, name, namespace, g.namespace)
		}
		namespace = g.namespace
	}
	return name, namespace, nil
}

func (b *eventBase) commit(g *Group, name, namespace string) {
	b.group = g
	b.name = name
	b.namespace = namespace
}

func (b *eventBase) attachTo(ns *Namespace) error {
	if b.namespace != "" && b.namespace != ns.name {
		return fmt.Errorf("%w: %q is in %q, attached to %q", ErrNamespaceMismatch, b.name, b.namespace, ns.name)
	}
	b.namespace = ns.name
	b.ns = ns
	return nil
}

func (b *eventBase) operationDoc(model, namespace string) map[string]any {
	doc := map[string]any{}
	if b.description != "" {
		doc["description"] = b.description
	}
	doc["tags"] = []any{map[string]any{"name": "namespace-" + namespace}}
	doc["message"] = asyncapi.MessageRef(model)
	maps.Copy(doc, b.docs)
	return doc
}

// ClientEvent is an event sent by the client and handled on the server.
type ClientEvent struct {
	eventBase

	inType    reflect.Type
	ackType   reflect.Type
	ackRender renderConfig
	forcedAck bool
	aborts    []abortDoc
	searches  []*searcher
	authorize *authorizer
	handler   RawHandler

	model    *schema.Model
	ackModel *schema.Model
}

// NewClientEvent declares a client event whose payload decodes into In.
func NewClientEvent[In any](fn HandlerFunc[In], opts ...EventOption) *ClientEvent {
	cfg := newEventConfig(opts)
	if cfg.duplexType != nil || cfg.useEvent {
		cfg.fail(fmt.Errorf("%w: MarkDuplex and UseEvent need a duplex event", ErrInvalidOption))
	}
	e := newClientEvent(schema.TypeOf[In](), cfg)
	if fn != nil {
		e.handler = Erase(fn)
	}
	return e
}

func newClientEvent(in reflect.Type, cfg *eventConfig) *ClientEvent {
	return &ClientEvent{
		eventBase: newEventBase(cfg),
		inType:    in,
		ackType:   cfg.ackType,
		ackRender: cfg.ackRender,
		forcedAck: cfg.forcedAck,
		aborts:    cfg.aborts,
		searches:  cfg.searches,
		authorize: cfg.authorize,
	}
}

// Bind replaces the handler. It must be called before the event is served.
func (e *ClientEvent) Bind(fn RawHandler) {
	e.handler = fn
}

// Model returns the payload model, nil until the event is bound.
func (e *ClientEvent) Model() *schema.Model { return e.model }

// AckModel returns the acknowledgement model, if any.
func (e *ClientEvent) AckModel() *schema.Model { return e.ackModel }

// ForcedAck reports whether the event always acknowledges with an envelope.
func (e *ClientEvent) ForcedAck() bool { return e.forcedAck }

func (e *ClientEvent) inbound() *ClientEvent { return e }

func (e *ClientEvent) compile(g *Group) (model, ack *schema.Model, err error) {
	model, err = g.registry.Model(e.inType, g.casing)
	if err != nil {
		return nil, nil, err
	}
	if e.ackType != nil {
		if ack, err = g.registry.Model(e.ackType, g.casing); err != nil {
			return nil, nil, err
		}
	}
	return model, ack, nil
}

func (e *ClientEvent) bind(g *Group, slot string) error {
	name, namespace, err := e.plan(g, slot)
	if err != nil {
		return err
	}
	model, ack, err := e.compile(g)
	if err != nil {
		return fmt.Errorf("event %q: %w", name, err)
	}
	e.commit(g, name, namespace)
	e.model, e.ackModel = model, ack
	return nil
}

func (e *ClientEvent) models() []*schema.Model {
	out := []*schema.Model{e.model}
	if e.ackModel != nil {
		out = append(out, e.ackModel)
	}
	return out
}

func (e *ClientEvent) attach(ns *Namespace) error { return e.attachTo(ns) }

// Invoke decodes raw, runs the handler and converts its result into the
// acknowledgement value. Validation failures become a 400 *EventError.
// An Authorize check runs before decoding, Search lookups after it.
func (e *ClientEvent) Invoke(c *Context, raw any) (any, error) {
	if e.model == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnbound, e.name)
	}
	if e.handler == nil {
		return nil, fmt.Errorf("siox: event %q has no handler", e.name)
	}
	if c == nil {
		c = NewContext(nil)
	}

	if e.authorize != nil {
		if err := e.authorize.run(c); err != nil {
			return nil, err
		}
	}
	in, err := e.model.Parse(raw)
	if err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			return nil, validationFailed(verr)
		}
		return nil, err
	}

	if err := e.search(c, raw); err != nil {
		return nil, err
	}
	result, err := e.handler(c, in)
	if err != nil {
		return nil, err
	}
	return e.convertAck(result)
}

func (e *ClientEvent) convertAck(result any) (any, error) {
	reply, explicit := result.(Reply)
	if p, ok := result.(*Reply); ok && p != nil {
		reply, explicit = *p, true
	}
	if explicit {
		data, err := e.renderAck(reply.Data)
		if err != nil {
			return nil, err
		}
		return Envelope{Code: reply.Code, Message: reply.Message, Data: data}.Render(), nil
	}

	switch {
	case e.forcedAck:
		data, err := e.renderAck(result)
		if err != nil {
			return nil, err
		}
		return Envelope{Data: data}.Render(), nil
	case e.ackModel != nil:
		data, err := e.renderAck(result)
		if err != nil {
			return nil, err
		}
		if e.ackRender.forceWrap {
			return Envelope{Data: data}.Render(), nil
		}
		return data, nil
	default:
		return result, nil
	}
}

func (e *ClientEvent) renderAck(v any) (any, error) {
	if v == nil || e.ackModel == nil {
		return v, nil
	}
	out, err := e.ackModel.Render(v, e.ackRender.schema())
	if err != nil {
		return nil, fmt.Errorf("event %q: render ack: %w", e.name, err)
	}
	return out, nil
}

func (e *ClientEvent) publishDoc(wire, namespace string) map[string]any {
	doc := e.operationDoc(e.model.Name(), namespace)
	if e.ackModel == nil && !e.forcedAck && len(e.aborts) == 0 {
		return doc
	}

	oneOf := []any{asyncapi.MessageRef(e.model.Name())}
	if e.ackModel != nil || e.forcedAck {
		oneOf = append(oneOf, e.ackDoc(wire))
	}
	for _, a := range e.aborts {
		oneOf = append(oneOf, a.doc(wire))
	}
	doc["message"] = map[string]any{"oneOf": oneOf}
	return doc
}

func (e *ClientEvent) ackDoc(wire string) map[string]any {
	required := []any{"code"}
	var data any = map[string]any{"type": []any{"boolean", "integer", "string"}}
	if e.ackModel != nil {
		required = append(required, "data")
		data = asyncapi.PayloadRef(e.ackModel.Name())
	}
	return map[string]any{
		"name": wire + "-ack",
		"payload": map[string]any{
			"type":     "object",
			"required": required,
			"properties": map[string]any{
				"code":    map[string]any{"type": "integer"},
				"message": map[string]any{"type": "string"},
				"data":    data,
			},
		},
	}
}

func (a abortDoc) doc(wire string) map[string]any {
	return map[string]any{
		"name": fmt.Sprintf("%s-error-%d", wire, a.code),
		"payload": map[string]any{
			"type":     "object",
			"required": []any{"code", "message"},
			"properties": map[string]any{
				"code":    map[string]any{"type": "integer", "const": a.code},
				"message": map[string]any{"type": "string", "const": a.message},
			},
		},
	}
}

func (e *ClientEvent) channelDoc(wire, namespace string) map[string]any {
	return map[string]any{"publish": e.publishDoc(wire, namespace)}
}

// ServerEvent is an event pushed by the server to clients.
type ServerEvent struct {
	eventBase

	outType reflect.Type
	render  renderConfig
	model   *schema.Model
}

// NewServerEvent declares a server event carrying model Out.
func NewServerEvent[Out any](opts ...EventOption) *ServerEvent {
	cfg := newEventConfig(opts)
	if cfg.ackType != nil || cfg.forcedAck || cfg.duplexType != nil || cfg.useEvent || len(cfg.aborts) > 0 ||
		len(cfg.searches) > 0 || cfg.authorize != nil {
		cfg.fail(fmt.Errorf("%w: server events take no ack, duplex or guard options", ErrInvalidOption))
	}
	return newServerEvent(schema.TypeOf[Out](), cfg.render, cfg)
}

func newServerEvent(out reflect.Type, render renderConfig, cfg *eventConfig) *ServerEvent {
	return &ServerEvent{
		eventBase: newEventBase(cfg),
		outType:   out,
		render:    render,
	}
}

// Model returns the payload model, nil until the event is bound.
func (e *ServerEvent) Model() *schema.Model { return e.model }

func (e *ServerEvent) inbound() *ClientEvent { return nil }

func (e *ServerEvent) bind(g *Group, slot string) error {
	name, namespace, err := e.plan(g, slot)
	if err != nil {
		return err
	}
	model, err := g.registry.Model(e.outType, g.casing)
	if err != nil {
		return fmt.Errorf("event %q: %w", name, err)
	}
	e.commit(g, name, namespace)
	e.model = model
	return nil
}

func (e *ServerEvent) models() []*schema.Model { return []*schema.Model{e.model} }

func (e *ServerEvent) attach(ns *Namespace) error { return e.attachTo(ns) }

func (e *ServerEvent) channelDoc(wire, namespace string) map[string]any {
	return map[string]any{"subscribe": e.operationDoc(e.model.Name(), namespace)}
}

// Emit renders data and pushes it. By default it broadcasts to the whole
// namespace, sender included. When data is nil the payload is built from
// the Fields option.
func (e *ServerEvent) Emit(c *Context, data any, opts ...EmitOption) error {
	cfg := emitConfig{includeSelf: true, broadcast: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	return e.emit(c, data, cfg)
}

// Relay is Emit with includeSelf and broadcast off: combined with ToUser it
// pushes to the other connections of one user.
func (e *ServerEvent) Relay(c *Context, data any, opts ...EmitOption) error {
	var cfg emitConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return e.emit(c, data, cfg)
}

func (e *ServerEvent) emit(c *Context, data any, cfg emitConfig) error {
	if e.model == nil || e.ns == nil {
		return fmt.Errorf("%w: %q", ErrUnbound, e.name)
	}
	if data == nil {
		fields := cfg.fields
		if fields == nil {
			fields = map[string]any{}
		}
		data = fields
	}
	payload, err := e.model.Render(data, e.render.schema())
	if err != nil {
		return fmt.Errorf("event %q: %w", e.name, err)
	}

	ns := e.ns
	if cfg.namespace != "" && normalizeNamespace(cfg.namespace) != ns.name {
		var ok bool
		if ns, ok = ns.server.Namespace(cfg.namespace); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownNamespace, cfg.namespace)
		}
	}

	var sender *Socket
	if c != nil && c.socket != nil {
		sender = c.socket.peer(ns.name)
	}
	wire := ns.WireName(e.name)

	switch {
	case cfg.room != "" || cfg.broadcast:
		op := ns.To()
		if cfg.room != "" {
			op = op.To(cfg.room)
		}
		if !cfg.includeSelf && sender != nil {
			op = op.Except(sender.ID())
		}
		err = op.Emit(wire, payload)
	case sender != nil:
		err = sender.Emit(wire, payload)
	default:
		return fmt.Errorf("%w: %q", ErrNoTarget, e.name)
	}
	if err == nil {
		metrics.IncEmit(ns.name, wire)
	}
	return err
}

// DuplexEvent pairs a client event and a server event under one name.
type DuplexEvent struct {
	eventBase

	client   *ClientEvent
	server   *ServerEvent
	useEvent bool
}

// NewDuplexEvent declares a duplex event whose client side decodes into In.
// The server side carries the MarkDuplex model, or In when none is given.
func NewDuplexEvent[In any](fn HandlerFunc[In], opts ...EventOption) *DuplexEvent {
	cfg := newEventConfig(opts)
	in := schema.TypeOf[In]()
	out, render := cfg.duplexType, cfg.duplexRender
	if out == nil {
		out, render = in, cfg.render
	}

	d := &DuplexEvent{
		eventBase: newEventBase(cfg),
		client:    newClientEvent(in, cfg),
		server:    newServerEvent(out, render, cfg),
		useEvent:  cfg.useEvent,
	}
	// Children share the duplex errors; report them once.
	d.client.err, d.server.err = nil, nil
	if fn != nil {
		d.Bind(Erase(fn))
	}
	return d
}

// Bind sets the handler of the client side.
func (d *DuplexEvent) Bind(fn RawHandler) {
	if !d.useEvent {
		d.client.Bind(fn)
		return
	}
	d.client.Bind(func(c *Context, in any) (any, error) {
		return fn(c.withDuplex(d), in)
	})
}

// Client returns the client side.
func (d *DuplexEvent) Client() *ClientEvent { return d.client }

// Server returns the server side.
func (d *DuplexEvent) Server() *ServerEvent { return d.server }

// Invoke runs the client side.
func (d *DuplexEvent) Invoke(c *Context, raw any) (any, error) {
	return d.client.Invoke(c, raw)
}

// Emit pushes through the server side.
func (d *DuplexEvent) Emit(c *Context, data any, opts ...EmitOption) error {
	return d.server.Emit(c, data, opts...)
}

// Relay pushes through the server side with Relay defaults.
func (d *DuplexEvent) Relay(c *Context, data any, opts ...EmitOption) error {
	return d.server.Relay(c, data, opts...)
}

func (d *DuplexEvent) inbound() *ClientEvent { return d.client }

func (d *DuplexEvent) bind(g *Group, slot string) error {
	name, namespace, err := d.plan(g, slot)
	if err != nil {
		return err
	}
	model, ack, err := d.client.compile(g)
	if err != nil {
		return fmt.Errorf("event %q: %w", name, err)
	}
	out, err := g.registry.Model(d.server.outType, g.casing)
	if err != nil {
		return fmt.Errorf("event %q: %w", name, err)
	}

	d.commit(g, name, namespace)
	d.client.commit(g, name, namespace)
	d.server.commit(g, name, namespace)
	d.client.model, d.client.ackModel = model, ack
	d.server.model = out
	return nil
}

func (d *DuplexEvent) models() []*schema.Model {
	return append(d.client.models(), d.server.model)
}

func (d *DuplexEvent) attach(ns *Namespace) error {
	if err := d.attachTo(ns); err != nil {
		return err
	}
	d.client.ns, d.client.namespace = ns, ns.name
	d.server.ns, d.server.namespace = ns, ns.name
	return nil
}

func (d *DuplexEvent) channelDoc(wire, namespace string) map[string]any {
	return map[string]any{
		"publish":   d.client.publishDoc(wire, namespace),
		"subscribe": d.server.operationDoc(d.server.model.Name(), namespace),
	}
}

// EmitOption addresses a server event emission.
type EmitOption func(*emitConfig)

type emitConfig struct {
	room        string
	includeSelf bool
	broadcast   bool
	namespace   string
	fields      map[string]any
}

// ToRoom sends to the members of room.
func ToRoom(room string) EmitOption {
	return func(c *emitConfig) { c.room = room }
}

// ToUser sends to the room of an authenticated user, see UserRoom.
func ToUser(id any) EmitOption {
	return func(c *emitConfig) { c.room = UserRoom(id) }
}

// IncludeSelf controls whether the sending socket receives a room or
// broadcast emission.
func IncludeSelf(include bool) EmitOption {
	return func(c *emitConfig) { c.includeSelf = include }
}

// Broadcast sends to every socket of the namespace when no room is given.
func Broadcast(broadcast bool) EmitOption {
	return func(c *emitConfig) { c.broadcast = broadcast }
}

// InNamespace emits in another installed namespace.
func InNamespace(name string) EmitOption {
	return func(c *emitConfig) { c.namespace = name }
}

// Fields supplies internal field values used to build the payload when
// Emit is called with nil data.
func Fields(fields map[string]any) EmitOption {
	return func(c *emitConfig) { c.fields = fields }
}

func normalizeNamespace(name string) string {
	if name == "" {
		return "/"
	}
	if !strings.HasPrefix(name, "/") {
		return "/" + name
	}
	return name
}
