package siox

import (
	"maps"
	"slices"
	"sync"
)

type set map[string]struct{}

// link adds b to the set stored under a, creating it on demand.
func link(idx map[string]set, a, b string) {
	if idx[a] == nil {
		idx[a] = make(set)
	}
	idx[a][b] = struct{}{}
}

// unlink drops b from the set under a and forgets a once it is empty.
func unlink(idx map[string]set, a, b string) {
	s, ok := idx[a]
	if !ok {
		return
	}
	delete(s, b)
	if len(s) == 0 {
		delete(idx, a)
	}
}

// MemoryAdapter keeps the rooms of one namespace in process memory and
// delivers broadcasts to the sockets connected to this process.
type MemoryAdapter struct {
	namespace *Namespace

	mu      sync.RWMutex
	members map[string]set // room -> socket IDs
	joined  map[string]set // socket ID -> rooms
}

var _ Adapter = (*MemoryAdapter)(nil)

// NewMemoryAdapter creates an empty adapter for namespace.
func NewMemoryAdapter(namespace *Namespace) *MemoryAdapter {
	return &MemoryAdapter{
		namespace: namespace,
		members:   make(map[string]set),
		joined:    make(map[string]set),
	}
}

func (a *MemoryAdapter) Add(socketID, room string) {
	a.mu.Lock()
	link(a.members, room, socketID)
	link(a.joined, socketID, room)
	a.mu.Unlock()
}

func (a *MemoryAdapter) Remove(socketID, room string) {
	a.mu.Lock()
	unlink(a.members, room, socketID)
	unlink(a.joined, socketID, room)
	a.mu.Unlock()
}

func (a *MemoryAdapter) RemoveAll(socketID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for room := range a.joined[socketID] {
		unlink(a.members, room, socketID)
	}
	delete(a.joined, socketID)
}

func (a *MemoryAdapter) Sockets(room string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Collect(maps.Keys(a.members[room]))
}

func (a *MemoryAdapter) SocketRooms(socketID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Collect(maps.Keys(a.joined[socketID]))
}

// Broadcast sends a packet to the local sockets in the given rooms, or to
// every local socket when rooms is empty, skipping the except IDs.
func (a *MemoryAdapter) Broadcast(packet *Packet, rooms []string, except []string) error {
	encoded, err := packet.Encode(a.namespace.codec())
	if err != nil {
		return err
	}
	a.deliver(encoded, rooms, except)
	return nil
}

// deliver writes an encoded frame to every local target. Each socket is
// written once even when it is in several of the rooms.
func (a *MemoryAdapter) deliver(encoded string, rooms []string, except []string) {
	var targets []*Socket
	if len(rooms) == 0 {
		targets = a.namespace.Sockets()
	} else {
		ids := make(set)
		a.mu.RLock()
		for _, room := range rooms {
			maps.Copy(ids, a.members[room])
		}
		a.mu.RUnlock()

		for id := range ids {
			if socket, ok := a.namespace.GetSocket(id); ok {
				targets = append(targets, socket)
			}
		}
	}

	for _, socket := range targets {
		if slices.Contains(except, socket.ID()) {
			continue
		}
		// A slow client only loses its own frame.
		_ = socket.sendRaw(encoded)
	}
}

// Close forgets every room.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	clear(a.members)
	clear(a.joined)
	a.mu.Unlock()
	return nil
}
