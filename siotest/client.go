// Package siotest provides an in-process Socket.IO client for testing siox
// servers without a network. Frames go through the same packet codec and
// namespace dispatcher as WebSocket traffic.
package siotest

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ramory-l/siox"
	"github.com/ramory-l/siox/codec"
	"github.com/ramory-l/siox/engineio"
)

// DefaultTimeout bounds every wait of a Client.
const DefaultTimeout = 2 * time.Second

var (
	ErrTimeout = errors.New("siotest: timed out")
	ErrClosed  = errors.New("siotest: client closed")
)

// Conn is an in-memory engineio.Conn.
type Conn struct {
	id   string
	req  *http.Request
	recv func(*engineio.Packet)

	mu        sync.Mutex
	onMessage func([]byte)
	onClose   []func(string)
	closed    bool
	reason    string
}

var _ engineio.Conn = (*Conn)(nil)

// NewConn returns a connection that hands server packets to recv.
func NewConn(req *http.Request, recv func(*engineio.Packet)) *Conn {
	return &Conn{id: uuid.NewString(), req: req, recv: recv}
}

func (c *Conn) ID() string             { return c.id }
func (c *Conn) Request() *http.Request { return c.req }

// Send delivers a server packet to the client synchronously.
func (c *Conn) Send(p *engineio.Packet) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return engineio.ErrSessionClosed
	}
	c.recv(p)
	return nil
}

// Close closes the connection once and runs the close handlers.
func (c *Conn) Close(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.reason = reason
	handlers := c.onClose
	c.mu.Unlock()

	for _, h := range handlers {
		h(reason)
	}
}

func (c *Conn) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *Conn) OnClose(fn func(string)) {
	c.mu.Lock()
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// Closed reports whether the connection is closed and why.
func (c *Conn) Closed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.reason
}

// Deliver passes a client frame to the server.
func (c *Conn) Deliver(data []byte) error {
	c.mu.Lock()
	fn, closed := c.onMessage, c.closed
	c.mu.Unlock()
	if closed {
		return engineio.ErrSessionClosed
	}
	if fn != nil {
		fn(data)
	}
	return nil
}

// Received is one server event delivered to a client.
type Received struct {
	Name string
	Args []any
}

// Data returns the first argument, or nil.
func (r Received) Data() any {
	if len(r.Args) == 0 {
		return nil
	}
	return r.Args[0]
}

// Option configures Dial.
type Option func(*options)

type options struct {
	header  http.Header
	query   url.Values
	codec   codec.Codec
	timeout time.Duration
}

// WithHeader sets a handshake request header.
func WithHeader(key, value string) Option {
	return func(o *options) { o.header.Set(key, value) }
}

// WithQuery sets a handshake query parameter.
func WithQuery(key, value string) Option {
	return func(o *options) { o.query.Set(key, value) }
}

// WithCodec must match the server codec when it is not the default.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithTimeout changes how long the client waits for the server.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// Client is a Socket.IO client connected to one namespace.
type Client struct {
	conn      *Conn
	namespace string
	codec     codec.Codec
	timeout   time.Duration
	nextID    atomic.Int64

	mu           sync.Mutex
	sid          string
	refused      string
	disconnected bool
	queue        []Received
	acks         map[int]chan []any
	notify       chan struct{}
	ready        chan struct{}
	readyOnce    sync.Once
}

// Dial connects to namespace on srv, sending auth in the CONNECT packet.
// A refusal is returned as an error wrapping siox.ErrConnectionRefused.
func Dial(t testing.TB, srv *siox.Server, namespace string, auth map[string]any, opts ...Option) (*Client, error) {
	t.Helper()

	o := options{header: http.Header{}, query: url.Values{}, codec: codec.Default, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if namespace == "" {
		namespace = "/"
	}

	o.query.Set("EIO", "4")
	o.query.Set("transport", "websocket")
	req := httptest.NewRequest(http.MethodGet, "/socket.io/?"+o.query.Encode(), nil)
	for k, v := range o.header {
		req.Header[k] = v
	}

	c := &Client{
		namespace: namespace,
		codec:     o.codec,
		timeout:   o.timeout,
		acks:      make(map[int]chan []any),
		notify:    make(chan struct{}, 1),
		ready:     make(chan struct{}),
	}
	c.conn = NewConn(req, c.receive)
	srv.Accept(c.conn)
	t.Cleanup(c.Close)

	packet := &siox.Packet{Type: siox.PacketTypeConnect, Namespace: namespace}
	if auth != nil {
		packet.Data = auth
	}
	if err := c.send(packet); err != nil {
		return nil, err
	}

	select {
	case <-c.ready:
	case <-time.After(c.timeout):
		return nil, fmt.Errorf("%w: connect to %s", ErrTimeout, namespace)
	}

	c.mu.Lock()
	refused := c.refused
	c.mu.Unlock()
	if refused != "" {
		return nil, &siox.ConnectError{Message: refused}
	}
	return c, nil
}

// Connect is Dial that fails the test on error.
func Connect(t testing.TB, srv *siox.Server, namespace string, auth map[string]any, opts ...Option) *Client {
	t.Helper()
	c, err := Dial(t, srv, namespace, auth, opts...)
	require.NoError(t, err)
	return c
}

// SID returns the socket ID assigned by the server.
func (c *Client) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// Conn returns the underlying connection.
func (c *Client) Conn() *Conn { return c.conn }

// Emit sends an event without asking for an acknowledgement.
func (c *Client) Emit(event string, data any) error {
	return c.send(c.eventPacket(event, data, nil))
}

// EmitAck sends an event and waits for its acknowledgement arguments.
func (c *Client) EmitAck(event string, data any) ([]any, error) {
	id := int(c.nextID.Add(1))
	ch := make(chan []any, 1)
	c.mu.Lock()
	c.acks[id] = ch
	c.mu.Unlock()

	if err := c.send(c.eventPacket(event, data, &id)); err != nil {
		return nil, err
	}

	select {
	case args := <-ch:
		return args, nil
	case <-time.After(c.timeout):
		c.mu.Lock()
		delete(c.acks, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: ack for %s", ErrTimeout, event)
	}
}

// Call sends an event and returns the first acknowledgement argument,
// failing the test when no acknowledgement arrives.
func (c *Client) Call(t testing.TB, event string, data any) any {
	t.Helper()
	args, err := c.EmitAck(event, data)
	require.NoError(t, err)
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

func (c *Client) eventPacket(event string, data any, id *int) *siox.Packet {
	args := []any{event}
	if data != nil {
		args = append(args, data)
	}
	return &siox.Packet{Type: siox.PacketTypeEvent, Namespace: c.namespace, Data: args, ID: id}
}

func (c *Client) send(p *siox.Packet) error {
	encoded, err := p.Encode(c.codec)
	if err != nil {
		return err
	}
	if err := c.conn.Deliver([]byte(encoded)); err != nil {
		return ErrClosed
	}
	return nil
}

// Received returns a copy of the events received so far.
func (c *Client) Received() []Received {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Received(nil), c.queue...)
}

// Drain returns and clears the received events.
func (c *Client) Drain() []Received {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

// WaitFor waits until an event named name was received and removes it from
// the queue.
func (c *Client) WaitFor(name string) (Received, error) {
	deadline := time.After(c.timeout)
	for {
		c.mu.Lock()
		for i, r := range c.queue {
			if r.Name == name {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				c.mu.Unlock()
				return r, nil
			}
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-deadline:
			return Received{}, fmt.Errorf("%w: event %s", ErrTimeout, name)
		}
	}
}

// Disconnected reports whether the server disconnected the namespace.
func (c *Client) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// WaitDisconnected waits until the server disconnected the namespace.
func (c *Client) WaitDisconnected() error {
	deadline := time.After(c.timeout)
	for !c.Disconnected() {
		select {
		case <-c.notify:
		case <-deadline:
			return fmt.Errorf("%w: disconnect", ErrTimeout)
		}
	}
	return nil
}

// Leave disconnects from the namespace, keeping the connection.
func (c *Client) Leave() error {
	return c.send(&siox.Packet{Type: siox.PacketTypeDisconnect, Namespace: c.namespace})
}

// Close closes the connection.
func (c *Client) Close() {
	c.conn.Close("client close")
}

func (c *Client) receive(p *engineio.Packet) {
	if p.Type != engineio.PacketTypeMessage {
		return
	}
	packet, err := siox.DecodePacket(string(p.Data), c.codec)
	if err != nil {
		return
	}

	c.mu.Lock()
	switch packet.Type {
	case siox.PacketTypeConnect:
		if data, ok := packet.Data.(map[string]any); ok {
			c.sid, _ = data["sid"].(string)
		}
		c.readyOnce.Do(func() { close(c.ready) })
	case siox.PacketTypeConnectError:
		c.refused = "refused"
		if data, ok := packet.Data.(map[string]any); ok {
			if msg, ok := data["message"].(string); ok {
				c.refused = msg
			}
		}
		c.readyOnce.Do(func() { close(c.ready) })
	case siox.PacketTypeDisconnect:
		c.disconnected = true
	case siox.PacketTypeEvent:
		if args, ok := packet.Data.([]any); ok && len(args) > 0 {
			name, _ := args[0].(string)
			c.queue = append(c.queue, Received{Name: name, Args: args[1:]})
		}
	case siox.PacketTypeAck:
		if packet.ID != nil {
			if ch, ok := c.acks[*packet.ID]; ok {
				delete(c.acks, *packet.ID)
				args, _ := packet.Data.([]any)
				ch <- args
			}
		}
	}
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}
