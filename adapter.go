package siox

// Adapter tracks room membership of one namespace and fans broadcasts out
// to the member sockets.
type Adapter interface {
	Add(socketID, room string)
	Remove(socketID, room string)
	// RemoveAll drops the socket from every room it joined.
	RemoveAll(socketID string)

	// Sockets lists the local members of room.
	Sockets(room string) []string
	SocketRooms(socketID string) []string

	// Broadcast sends packet to the members of rooms, or to the whole
	// namespace when rooms is empty, skipping the except socket IDs.
	Broadcast(packet *Packet, rooms []string, except []string) error

	Close() error
}

// AdapterFactory builds the adapter of a newly installed namespace.
type AdapterFactory func(ns *Namespace) (Adapter, error)

// MemoryAdapters is the default factory: rooms live in process memory.
func MemoryAdapters(ns *Namespace) (Adapter, error) {
	return NewMemoryAdapter(ns), nil
}
