package siox

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ramory-l/siox/engineio"
	"github.com/ramory-l/siox/internal/metrics"
)

// client multiplexes the namespaces of one Engine.IO connection.
type client struct {
	server *Server
	conn   engineio.Conn
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger

	mu      sync.Mutex
	sockets map[string]*Socket
}

func newClient(srv *Server, conn engineio.Conn) *client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		server:  srv,
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		log:     srv.log.With().Str("sid", conn.ID()).Logger(),
		sockets: make(map[string]*Socket),
	}
	conn.OnMessage(c.onMessage)
	conn.OnClose(c.onClose)
	return c
}

func (c *client) onMessage(data []byte) {
	packet, err := DecodePacket(string(data), c.server.codec)
	if err != nil {
		c.log.Debug().Err(err).Msg("dropping malformed packet")
		return
	}

	switch packet.Type {
	case PacketTypeConnect:
		c.connect(packet)
	case PacketTypeDisconnect:
		if s := c.socket(packet.Namespace); s != nil {
			s.teardown("client namespace disconnect")
		}
	case PacketTypeEvent, PacketTypeAck:
		s := c.socket(packet.Namespace)
		if s == nil {
			c.log.Debug().Str("namespace", packet.Namespace).Msg("packet for unconnected namespace")
			return
		}
		s.enqueue(packet)
	default:
		c.log.Debug().Stringer("type", packet.Type).Msg("unexpected packet")
	}
}

func (c *client) connect(packet *Packet) {
	name := normalizeNamespace(packet.Namespace)
	if c.socket(name) != nil {
		return
	}

	ns, ok := c.server.Namespace(name)
	if !ok {
		metrics.IncConnect(name, metrics.OutcomeNoSuchSpace)
		c.refuse(name, "Invalid namespace")
		return
	}

	auth, _ := packet.Data.(map[string]any)
	if _, err := ns.connect(c, auth); err != nil {
		var refused *ConnectError
		if errors.As(err, &refused) {
			c.refuse(name, refused.Message)
			return
		}
		c.log.Warn().Err(err).Str("namespace", name).Msg("connect failed")
	}
}

func (c *client) refuse(namespace, message string) {
	err := c.send(&Packet{
		Type:      PacketTypeConnectError,
		Namespace: namespace,
		Data:      map[string]any{"message": message},
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("connect error not sent")
	}
}

func (c *client) send(packet *Packet) error {
	encoded, err := packet.Encode(c.server.codec)
	if err != nil {
		return err
	}
	return c.conn.Send(engineio.Message(encoded))
}

func (c *client) socket(namespace string) *Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sockets[normalizeNamespace(namespace)]
}

func (c *client) add(s *Socket) {
	c.mu.Lock()
	c.sockets[s.namespace.name] = s
	c.mu.Unlock()
}

func (c *client) remove(s *Socket) {
	c.mu.Lock()
	if c.sockets[s.namespace.name] == s {
		delete(c.sockets, s.namespace.name)
	}
	c.mu.Unlock()
}

func (c *client) onClose(reason string) {
	c.mu.Lock()
	sockets := make([]*Socket, 0, len(c.sockets))
	for _, s := range c.sockets {
		sockets = append(sockets, s)
	}
	c.mu.Unlock()

	for _, s := range sockets {
		s.teardown(reason)
	}
	c.cancel()
	c.server.forget(c)
}
