package engineio

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowClient    = errors.New("slow client")
)

// Config holds Engine.IO server configuration
type Config struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	MaxPayload   int // bytes
	WriteTimeout time.Duration
	SendBuffer   int
	// AllowedOrigins lists accepted Origin hosts. Empty allows every origin.
	AllowedOrigins []string
}

// DefaultConfig returns default Engine.IO configuration
func DefaultConfig() Config {
	return Config{
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		MaxPayload:   1e6,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   256,
	}
}

// Server represents an Engine.IO server
type Server struct {
	config    Config
	log       zerolog.Logger
	upgrader  websocket.Upgrader
	sessions  sync.Map
	mu        sync.RWMutex
	onConnect func(Conn)
}

// NewServer creates a new Engine.IO server
func NewServer(config Config, log zerolog.Logger) *Server {
	def := DefaultConfig()
	if config.PingInterval == 0 {
		config.PingInterval = def.PingInterval
	}
	if config.PingTimeout == 0 {
		config.PingTimeout = def.PingTimeout
	}
	if config.MaxPayload == 0 {
		config.MaxPayload = def.MaxPayload
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = def.SendBuffer
	}

	s := &Server{config: config, log: log}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == u.Host || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request to a WebSocket Engine.IO session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("transport") != "websocket" {
		http.Error(w, "Only WebSocket transport is supported", http.StatusBadRequest)
		return
	}
	if eio := q.Get("EIO"); eio != "" && eio != "4" {
		http.Error(w, "Unsupported protocol version", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sid := uuid.NewString()
	session := NewSession(sid, conn, r, s.config, s.log)

	handshake, err := EncodeHandshake(sid, s.config)
	if err != nil {
		_ = conn.Close()
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, handshake); err != nil {
		_ = conn.Close()
		return
	}

	s.sessions.Store(sid, session)
	session.OnClose(func(string) {
		s.sessions.Delete(sid)
	})

	s.mu.RLock()
	onConnect := s.onConnect
	s.mu.RUnlock()
	if onConnect != nil {
		onConnect(session)
	}

	session.Start()
	s.log.Debug().Str("sid", sid).Str("remote_addr", r.RemoteAddr).Msg("session opened")
}

// OnConnect sets the handler called for every new session before it starts
// reading frames.
func (s *Server) OnConnect(fn func(Conn)) {
	s.mu.Lock()
	s.onConnect = fn
	s.mu.Unlock()
}

// GetSession retrieves a session by ID
func (s *Server) GetSession(sid string) (*Session, bool) {
	val, ok := s.sessions.Load(sid)
	if !ok {
		return nil, false
	}
	return val.(*Session), true
}

// Close closes all sessions
func (s *Server) Close() {
	s.sessions.Range(func(_, value any) bool {
		value.(*Session).Close("server shutdown")
		return true
	})
}
