package engineio

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ramory-l/siox/internal/metrics"
)

// Conn is one Engine.IO connection as seen by the Socket.IO layer. Session
// implements it over a WebSocket; tests may provide in-memory versions.
type Conn interface {
	ID() string
	// Request returns the HTTP request that opened the connection, or nil.
	Request() *http.Request
	Send(packet *Packet) error
	Close(reason string)
	OnMessage(fn func([]byte))
	OnClose(fn func(string))
}

// Session represents an Engine.IO session
type Session struct {
	id       string
	conn     *websocket.Conn
	req      *http.Request
	cfg      Config
	log      zerolog.Logger
	outgoing chan *Packet
	closed   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu          sync.Mutex
	onMessage   func([]byte)
	onClose     func(string)
	pingTimer   *time.Timer
	pongTimeout *time.Timer
}

var _ Conn = (*Session)(nil)

// NewSession creates a new Engine.IO session
func NewSession(id string, conn *websocket.Conn, req *http.Request, cfg Config, log zerolog.Logger) *Session {
	return &Session{
		id:       id,
		conn:     conn,
		req:      req,
		cfg:      cfg,
		log:      log.With().Str("sid", id).Logger(),
		outgoing: make(chan *Packet, cfg.SendBuffer),
		closed:   make(chan struct{}),
	}
}

// ID returns the session ID
func (s *Session) ID() string {
	return s.id
}

// Request returns the upgrade request.
func (s *Session) Request() *http.Request {
	return s.req
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Start starts the session loops
func (s *Session) Start() {
	metrics.SessionsActive.Inc()
	go s.writeLoop()
	go s.readLoop()
	s.schedulePing()
}

// Send queues a packet for the client without blocking.
func (s *Session) Send(packet *Packet) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case s.outgoing <- packet:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	default:
		metrics.IncSendDrop("slow_client")
		return ErrSlowClient
	}
}

// Close closes the session
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		if s.pingTimer != nil {
			s.pingTimer.Stop()
		}
		if s.pongTimeout != nil {
			s.pongTimeout.Stop()
		}
		handler := s.onClose
		s.mu.Unlock()

		closePacket := &Packet{Type: PacketTypeClose}
		_ = s.write(closePacket)
		_ = s.conn.Close()
		metrics.SessionsActive.Dec()
		s.log.Debug().Str("reason", reason).Msg("session closed")

		if handler != nil {
			handler(reason)
		}
	})
}

// OnMessage sets the message handler
func (s *Session) OnMessage(fn func([]byte)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnClose sets the close handler
func (s *Session) OnClose(fn func(string)) {
	s.mu.Lock()
	prev := s.onClose
	if prev == nil {
		s.onClose = fn
	} else {
		s.onClose = func(reason string) {
			prev(reason)
			fn(reason)
		}
	}
	s.mu.Unlock()
}

func (s *Session) write(packet *Packet) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, packet.Encode())
}

func (s *Session) readLoop() {
	defer s.Close("transport close")

	if s.cfg.MaxPayload > 0 {
		s.conn.SetReadLimit(int64(s.cfg.MaxPayload))
	}
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		packet, err := DecodePacket(data)
		if err != nil {
			s.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		s.handlePacket(packet)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case packet := <-s.outgoing:
			if err := s.write(packet); err != nil {
				go s.Close("transport error")
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (s *Session) handlePacket(packet *Packet) {
	switch packet.Type {
	case PacketTypePing:
		_ = s.Send(&Packet{Type: PacketTypePong, Data: packet.Data})
	case PacketTypePong:
		s.handlePong()
	case PacketTypeMessage:
		s.handleMessage(packet.Data)
	case PacketTypeClose:
		s.Close("client close")
	}
}

func (s *Session) handlePong() {
	s.mu.Lock()
	if s.pongTimeout != nil {
		s.pongTimeout.Stop()
	}
	s.mu.Unlock()
	s.schedulePing()
}

func (s *Session) handleMessage(data []byte) {
	s.mu.Lock()
	handler := s.onMessage
	s.mu.Unlock()

	if handler != nil {
		handler(data)
	}
}

func (s *Session) schedulePing() {
	if s.cfg.PingInterval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return
	default:
	}
	s.pingTimer = time.AfterFunc(s.cfg.PingInterval, func() {
		if err := s.Send(&Packet{Type: PacketTypePing}); err != nil {
			return
		}
		s.schedulePongTimeout()
	})
}

func (s *Session) schedulePongTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return
	default:
	}
	s.pongTimeout = time.AfterFunc(s.cfg.PingTimeout, func() {
		s.Close("ping timeout")
	})
}
