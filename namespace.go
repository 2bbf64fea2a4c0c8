package siox

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramory-l/siox/asyncapi"
	"github.com/ramory-l/siox/codec"
	"github.com/ramory-l/siox/internal/metrics"
	"github.com/ramory-l/siox/schema"
)

var tracer = otel.Tracer("github.com/ramory-l/siox")

// Namespace represents a Socket.IO namespace: a routing scope with its own
// dispatch table, rooms and connect-time authorization.
type Namespace struct {
	name    string
	server  *Server
	casing  schema.Casing
	adapter Adapter
	log     zerolog.Logger

	mu           sync.RWMutex
	sockets      map[string]*Socket
	handlers     map[string]*ClientEvent
	events       []Event
	groups       []*Group
	protected    bool
	identityKey  string
	onConnect    []func(*Socket)
	onDisconnect []func(*Socket, string)
}

func newNamespace(name string, server *Server) *Namespace {
	return &Namespace{
		name:     name,
		server:   server,
		casing:   server.casing(),
		log:      server.log.With().Str("namespace", name).Logger(),
		sockets:  make(map[string]*Socket),
		handlers: make(map[string]*ClientEvent),
	}
}

// Name returns the namespace name
func (ns *Namespace) Name() string {
	return ns.name
}

// Server returns the owning server.
func (ns *Namespace) Server() *Server {
	return ns.server
}

func (ns *Namespace) codec() codec.Codec {
	return ns.server.codec
}

// WireName converts an internal event name to its wire form.
func (ns *Namespace) WireName(name string) string {
	return ns.casing.Wire(name)
}

// MarkProtected refuses connections whose identity lacks key. Accepted
// connections join UserRoom of the identity value.
func (ns *Namespace) MarkProtected(key string) error {
	if ns.server.identity == nil {
		return fmt.Errorf("%w: %q", ErrNoIdentitySource, ns.name)
	}
	ns.mu.Lock()
	ns.protected = true
	ns.identityKey = key
	ns.mu.Unlock()
	return nil
}

// Protected returns the identity key when the namespace is protected.
func (ns *Namespace) Protected() (string, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.identityKey, ns.protected
}

// OnConnect adds a handler run after a socket connected
func (ns *Namespace) OnConnect(handler func(*Socket)) {
	ns.mu.Lock()
	ns.onConnect = append(ns.onConnect, handler)
	ns.mu.Unlock()
}

// OnDisconnect adds a handler run after a socket left the namespace
func (ns *Namespace) OnDisconnect(handler func(*Socket, string)) {
	ns.mu.Lock()
	ns.onDisconnect = append(ns.onDisconnect, handler)
	ns.mu.Unlock()
}

// To returns a BroadcastOperator for emitting to specific rooms
func (ns *Namespace) To(rooms ...string) *BroadcastOperator {
	return &BroadcastOperator{
		namespace: ns,
		rooms:     rooms,
	}
}

// Emit broadcasts a raw event to all sockets in the namespace
func (ns *Namespace) Emit(event string, data ...any) error {
	return ns.To().Emit(event, data...)
}

// Sockets returns all connected sockets
func (ns *Namespace) Sockets() []*Socket {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	sockets := make([]*Socket, 0, len(ns.sockets))
	for _, socket := range ns.sockets {
		sockets = append(sockets, socket)
	}
	return sockets
}

// GetSocket retrieves a socket by ID
func (ns *Namespace) GetSocket(id string) (*Socket, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	socket, ok := ns.sockets[id]
	return socket, ok
}

// Adapter returns the room adapter.
func (ns *Namespace) Adapter() Adapter {
	return ns.adapter
}

// Events returns every event attached to the namespace.
func (ns *Namespace) Events() []Event {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return append([]Event(nil), ns.events...)
}

// Lookup finds the client event for a wire name.
func (ns *Namespace) Lookup(wire string) (*ClientEvent, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	ev, ok := ns.handlers[ns.casing.Internal(wire)]
	return ev, ok
}

// ExtractDocChannels documents every attached event keyed by wire name.
func (ns *Namespace) ExtractDocChannels() *asyncapi.Map {
	out := asyncapi.NewMap()
	for _, ev := range ns.Events() {
		wire := ns.WireName(ev.Name())
		out.Set(wire, ev.channelDoc(wire, ns.name))
	}
	return out
}

// ExtractDocMessages documents every model referenced by attached events.
func (ns *Namespace) ExtractDocMessages() *asyncapi.Map {
	ns.mu.RLock()
	groups := append([]*Group(nil), ns.groups...)
	ns.mu.RUnlock()

	out := asyncapi.NewMap()
	for _, g := range groups {
		for _, m := range g.Models() {
			if !out.Has(m.Name()) {
				out.Set(m.Name(), map[string]any{"payload": m.Doc()})
			}
		}
	}
	return out
}

// HandleException converts an abort signal into its acknowledgement
// envelope.
func (ns *Namespace) HandleException(e *EventError) map[string]any {
	return Envelope{Code: e.Code, Message: e.Message, Data: e.Data}.Render()
}

// checkGroup reports why g cannot be attached. keys collects the handler
// keys claimed by the groups checked so far.
func (ns *Namespace) checkGroup(g *Group, keys map[string]bool) error {
	if g.Casing() != ns.casing {
		return fmt.Errorf("%w: group is %s, namespace %q is %s", ErrCasingMismatch, g.Casing(), ns.name, ns.casing)
	}
	if g.Namespace() != "" && g.Namespace() != ns.name {
		return fmt.Errorf("%w: group is for %q, attached to %q", ErrNamespaceMismatch, g.Namespace(), ns.name)
	}

	ns.mu.RLock()
	defer ns.mu.RUnlock()

	for _, ev := range g.Events() {
		if ev.Namespace() != "" && ev.Namespace() != ns.name {
			return fmt.Errorf("%w: %q is in %q, attached to %q", ErrNamespaceMismatch, ev.Name(), ev.Namespace(), ns.name)
		}
		if ev.inbound() == nil {
			continue
		}
		key := ns.casing.Internal(ns.casing.Wire(ev.Name()))
		if _, ok := ns.handlers[key]; ok || keys[key] {
			return fmt.Errorf("%w: %q in %q", ErrDuplicateEvent, ev.Name(), ns.name)
		}
		keys[key] = true
	}
	return nil
}

func (ns *Namespace) attachGroup(g *Group) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	for _, ev := range g.Events() {
		if err := ev.attach(ns); err != nil {
			return err
		}
		if ce := ev.inbound(); ce != nil {
			ns.handlers[ns.casing.Internal(ns.casing.Wire(ev.Name()))] = ce
		}
		ns.events = append(ns.events, ev)
	}
	ns.groups = append(ns.groups, g)
	g.seal()
	return nil
}

func (ns *Namespace) connect(cl *client, auth map[string]any) (*Socket, error) {
	key, protected := ns.Protected()

	var identity map[string]any
	if ns.server.identity != nil {
		id, err := ns.server.identity(cl.ctx, newHandshake(cl.conn.Request(), auth))
		if err != nil {
			ns.log.Debug().Err(err).Str("sid", cl.conn.ID()).Msg("identity lookup failed")
		}
		identity = id
	}

	var userID any
	if protected {
		v, ok := identity[key]
		if !ok || v == nil {
			metrics.IncConnect(ns.name, metrics.OutcomeRefused)
			ns.log.Info().Str("sid", cl.conn.ID()).Msg("refused unauthenticated connection")
			return nil, &ConnectError{Message: "unauthorized!"}
		}
		userID = v
	}

	s := newSocket(cl, ns, identity)
	ns.mu.Lock()
	ns.sockets[s.id] = s
	hooks := slices.Clone(ns.onConnect)
	ns.mu.Unlock()
	cl.add(s)

	s.Join(s.id)
	if protected {
		s.Join(UserRoom(userID))
	}

	err := s.sendPacket(&Packet{
		Type:      PacketTypeConnect,
		Namespace: ns.name,
		Data:      map[string]any{"sid": s.id},
	})
	if err != nil {
		s.teardown("transport error")
		return nil, err
	}

	metrics.IncConnect(ns.name, metrics.OutcomeAccepted)
	metrics.SocketsActive.WithLabelValues(ns.name).Inc()
	ns.log.Debug().Str("socket", s.id).Str("sid", cl.conn.ID()).Msg("socket connected")

	for _, hook := range hooks {
		hook(s)
	}
	go s.run()
	return s, nil
}

func (ns *Namespace) removeSocket(s *Socket, reason string) {
	ns.mu.Lock()
	_, ok := ns.sockets[s.id]
	delete(ns.sockets, s.id)
	hooks := slices.Clone(ns.onDisconnect)
	ns.mu.Unlock()

	ns.adapter.RemoveAll(s.id)
	if !ok {
		return
	}
	metrics.SocketsActive.WithLabelValues(ns.name).Dec()
	ns.log.Debug().Str("socket", s.id).Str("reason", reason).Msg("socket disconnected")
	for _, hook := range hooks {
		hook(s, reason)
	}
}

// dispatch runs one inbound event on the socket's worker.
func (ns *Namespace) dispatch(s *Socket, p *Packet) {
	args, ok := p.Data.([]any)
	if !ok || len(args) == 0 {
		return
	}
	wire, ok := args[0].(string)
	if !ok {
		return
	}
	var payload any
	if len(args) > 1 {
		payload = args[1]
	}

	ev, ok := ns.Lookup(wire)
	if !ok {
		metrics.IncEvent(ns.name, wire, metrics.OutcomeUnknown)
		ns.log.Debug().Str("socket", s.id).Str("event", wire).Msg("no handler for event")
		return
	}

	ctx, span := tracer.Start(s.ctx, "siox.event "+wire,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("siox.namespace", ns.name),
			attribute.String("siox.event", wire),
			attribute.String("siox.socket", s.id),
		))
	defer span.End()

	result, err := ev.Invoke(&Context{ctx: ctx, socket: s, namespace: ns}, payload)

	var signal *EventError
	switch {
	case err == nil:
		metrics.IncEvent(ns.name, wire, metrics.OutcomeOK)
		if p.ID != nil {
			s.ack(*p.ID, result)
		}
	case errors.As(err, &signal):
		span.SetAttributes(attribute.Int("siox.code", signal.Code))
		if signal.Code >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, signal.Message)
		}
		if p.ID != nil {
			s.ack(*p.ID, ns.HandleException(signal))
		}
		if signal.Critical {
			metrics.IncEvent(ns.name, wire, metrics.OutcomeCritical)
			s.Disconnect()
			return
		}
		metrics.IncEvent(ns.name, wire, metrics.OutcomeSignal)
	default:
		metrics.IncEvent(ns.name, wire, metrics.OutcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ns.server.onError(s, wire, err)
	}
}

// BroadcastOperator provides methods for broadcasting to specific rooms
type BroadcastOperator struct {
	namespace *Namespace
	rooms     []string
	except    []string
}

// To adds rooms to broadcast to
func (b *BroadcastOperator) To(rooms ...string) *BroadcastOperator {
	b.rooms = append(b.rooms, rooms...)
	return b
}

// Except excludes specific socket IDs from the broadcast
func (b *BroadcastOperator) Except(socketIDs ...string) *BroadcastOperator {
	b.except = append(b.except, socketIDs...)
	return b
}

// Emit broadcasts an event
func (b *BroadcastOperator) Emit(event string, data ...any) error {
	args := make([]any, 0, len(data)+1)
	args = append(args, event)
	args = append(args, data...)

	packet := &Packet{
		Type:      PacketTypeEvent,
		Namespace: b.namespace.name,
		Data:      args,
	}

	return b.namespace.adapter.Broadcast(packet, b.rooms, b.except)
}
