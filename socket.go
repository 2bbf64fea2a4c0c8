package siox

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ramory-l/siox/engineio"
)

const inboxSize = 64

// Socket represents one client connected to one namespace. Events from a
// socket are handled one at a time, in arrival order.
type Socket struct {
	id        string
	client    *client
	namespace *Namespace
	identity  map[string]any
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan *Packet
	done   chan struct{}

	rooms   map[string]bool
	roomsMu sync.RWMutex
	data    sync.Map

	onDisconnect []func(string)
	disconnectMu sync.RWMutex
	closeOnce    sync.Once
}

func newSocket(cl *client, ns *Namespace, identity map[string]any) *Socket {
	ctx, cancel := context.WithCancel(cl.ctx)
	id := uuid.NewString()
	return &Socket{
		id:        id,
		client:    cl,
		namespace: ns,
		identity:  identity,
		log:       ns.log.With().Str("socket", id).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan *Packet, inboxSize),
		done:      make(chan struct{}),
		rooms:     make(map[string]bool),
	}
}

// ID returns the socket ID
func (s *Socket) ID() string {
	return s.id
}

// Namespace returns the namespace the socket is connected to.
func (s *Socket) Namespace() *Namespace {
	return s.namespace
}

// Identity returns the identity resolved at connect time, or nil.
func (s *Socket) Identity() map[string]any {
	return s.identity
}

// Context is canceled once the socket disconnects.
func (s *Socket) Context() context.Context {
	return s.ctx
}

// Done is closed when the event worker of the socket has stopped.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Emit sends a raw event to the client
func (s *Socket) Emit(event string, data ...any) error {
	args := make([]any, 0, len(data)+1)
	args = append(args, event)
	args = append(args, data...)

	packet := &Packet{
		Type:      PacketTypeEvent,
		Namespace: s.namespace.name,
		Data:      args,
	}

	return s.sendPacket(packet)
}

// Join adds the socket to a room
func (s *Socket) Join(room string) {
	s.roomsMu.Lock()
	s.rooms[room] = true
	s.roomsMu.Unlock()

	s.namespace.adapter.Add(s.id, room)
}

// Leave removes the socket from a room
func (s *Socket) Leave(room string) {
	s.roomsMu.Lock()
	delete(s.rooms, room)
	s.roomsMu.Unlock()

	s.namespace.adapter.Remove(s.id, room)
}

// Rooms returns all rooms the socket is in
func (s *Socket) Rooms() []string {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()

	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Set stores arbitrary data on the socket
func (s *Socket) Set(key string, value any) {
	s.data.Store(key, value)
}

// Get retrieves data from the socket
func (s *Socket) Get(key string) (any, bool) {
	return s.data.Load(key)
}

// OnDisconnect registers a disconnect handler
func (s *Socket) OnDisconnect(handler func(string)) {
	s.disconnectMu.Lock()
	s.onDisconnect = append(s.onDisconnect, handler)
	s.disconnectMu.Unlock()
}

// Disconnect removes the socket from its namespace and tells the client.
// The underlying connection stays open for other namespaces.
func (s *Socket) Disconnect() {
	s.teardown("server namespace disconnect")
	err := s.sendPacket(&Packet{
		Type:      PacketTypeDisconnect,
		Namespace: s.namespace.name,
	})
	if err != nil {
		s.log.Debug().Err(err).Msg("disconnect packet not sent")
	}
}

// Close closes the whole connection, leaving every namespace.
func (s *Socket) Close() {
	s.client.conn.Close("forced server close")
}

// peer returns the socket of the same connection in namespace name.
func (s *Socket) peer(name string) *Socket {
	if name == s.namespace.name {
		return s
	}
	return s.client.socket(name)
}

func (s *Socket) sendPacket(packet *Packet) error {
	encoded, err := packet.Encode(s.namespace.codec())
	if err != nil {
		return err
	}
	return s.sendRaw(encoded)
}

func (s *Socket) sendRaw(encoded string) error {
	return s.client.conn.Send(engineio.Message(encoded))
}

func (s *Socket) ack(id int, result any) {
	args := []any{}
	if result != nil {
		args = append(args, result)
	}
	err := s.sendPacket(&Packet{
		Type:      PacketTypeAck,
		Namespace: s.namespace.name,
		Data:      args,
		ID:        &id,
	})
	if err != nil {
		s.log.Debug().Err(err).Int("ack", id).Msg("ack not sent")
	}
}

// enqueue hands a packet to the worker. It blocks while the inbox is full.
func (s *Socket) enqueue(p *Packet) {
	select {
	case s.inbox <- p:
	case <-s.ctx.Done():
	}
}

func (s *Socket) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case p := <-s.inbox:
			if s.ctx.Err() != nil {
				return
			}
			s.handle(p)
		}
	}
}

func (s *Socket) handle(p *Packet) {
	switch p.Type {
	case PacketTypeEvent:
		s.namespace.dispatch(s, p)
	case PacketTypeAck:
		s.log.Debug().Msg("ignoring client ack")
	}
}

func (s *Socket) teardown(reason string) {
	s.closeOnce.Do(func() {
		s.cancel()

		s.roomsMu.Lock()
		s.rooms = make(map[string]bool)
		s.roomsMu.Unlock()

		s.client.remove(s)
		s.namespace.removeSocket(s, reason)

		s.disconnectMu.RLock()
		handlers := slices.Clone(s.onDisconnect)
		s.disconnectMu.RUnlock()
		for _, handler := range handlers {
			handler(reason)
		}
	})
}
