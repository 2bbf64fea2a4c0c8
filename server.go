package siox

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/ramory-l/siox/asyncapi"
	"github.com/ramory-l/siox/codec"
	"github.com/ramory-l/siox/engineio"
	sioxlog "github.com/ramory-l/siox/internal/log"
	"github.com/ramory-l/siox/schema"
)

// ErrorHandler receives errors returned by handlers that are not abort
// signals. Nothing is sent to the client for them.
type ErrorHandler func(s *Socket, event string, err error)

// Server represents a Socket.IO server: it owns the namespaces, their
// shared schema registry and the merged protocol document.
type Server struct {
	cfg      Config
	eio      *engineio.Server
	codec    codec.Codec
	registry *schema.Registry
	identity IdentityFunc
	adapters AdapterFactory
	onError  ErrorHandler
	log      zerolog.Logger
	router   chi.Router

	namespaces map[string]*Namespace
	nsMu       sync.RWMutex

	docMu sync.RWMutex
	doc   *asyncapi.Document

	clients sync.Map // *client -> struct{}
	closed  bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithIdentity sets the identity source used by protected namespaces.
func WithIdentity(fn IdentityFunc) ServerOption {
	return func(s *Server) { s.identity = fn }
}

// WithAdapter sets the room adapter factory of every namespace.
func WithAdapter(factory AdapterFactory) ServerOption {
	return func(s *Server) { s.adapters = factory }
}

// WithErrorHandler replaces the default handler, which logs the error.
func WithErrorHandler(fn ErrorHandler) ServerOption {
	return func(s *Server) { s.onError = fn }
}

// WithCodec replaces the payload codec.
func WithCodec(c codec.Codec) ServerOption {
	return func(s *Server) { s.codec = c }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// NewServer creates a new Socket.IO server. A nil config uses DefaultConfig.
func NewServer(config *Config, opts ...ServerOption) *Server {
	cfg := DefaultConfig()
	if config != nil {
		cfg = config.withDefaults()
	}

	server := &Server{
		cfg:        cfg,
		codec:      codec.Default,
		registry:   schema.NewRegistry(),
		adapters:   MemoryAdapters,
		log:        sioxlog.WithComponent("siox.server"),
		namespaces: make(map[string]*Namespace),
		doc:        asyncapi.New(cfg.Title, cfg.Version),
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.onError == nil {
		server.onError = server.logError
	}

	server.eio = engineio.NewServer(cfg.engineConfig(), sioxlog.WithComponent("engineio"))
	server.eio.OnConnect(server.Accept)
	server.router = server.routes()

	return server
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	var sio http.Handler = s.eio
	if s.cfg.HandshakeRate > 0 {
		sio = httprate.LimitByIP(s.cfg.HandshakeRate, time.Minute)(sio)
	}
	path := strings.TrimSuffix(s.cfg.Path, "/")
	r.Handle(path, sio)
	r.Handle(path+"/*", sio)

	docPath := strings.TrimSuffix(s.cfg.DocPath, "/")
	r.Get(docPath, s.serveDocs)
	r.Get(docPath+"/", s.serveDocs)

	return r
}

func (s *Server) casing() schema.Casing {
	if s.cfg.KebabCase {
		return schema.KebabCase
	}
	return schema.SnakeCase
}

// Config returns the effective configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// Registry returns the schema registry shared by the server's groups.
func (s *Server) Registry() *schema.Registry {
	return s.registry
}

// NewGroup creates a group using the server registry and wire casing.
func (s *Server) NewGroup(opts ...GroupOption) *Group {
	if s.cfg.KebabCase {
		opts = append([]GroupOption{KebabCase()}, opts...)
	}
	return NewGroup(s.registry, opts...)
}

// AddNamespace installs a namespace, attaches every group to it and merges
// its documentation into the server document.
func (s *Server) AddNamespace(name string, groups ...*Group) (*Namespace, error) {
	name = normalizeNamespace(name)

	s.nsMu.Lock()
	defer s.nsMu.Unlock()

	if s.closed {
		return nil, ErrServerClosed
	}
	if _, exists := s.namespaces[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrNamespaceExists, name)
	}

	ns := newNamespace(name, s)
	keys := make(map[string]bool)
	var errs []error
	for _, g := range groups {
		if err := ns.checkGroup(g, keys); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	adapter, err := s.adapters(ns)
	if err != nil {
		return nil, fmt.Errorf("adapter for %q: %w", name, err)
	}
	ns.adapter = adapter
	for _, g := range groups {
		if err := ns.attachGroup(g); err != nil {
			_ = adapter.Close()
			return nil, err
		}
	}
	s.namespaces[name] = ns

	s.mergeDocs(ns)
	s.log.Debug().Str("namespace", name).Int("events", len(ns.events)).Msg("namespace installed")
	return ns, nil
}

func (s *Server) mergeDocs(ns *Namespace) {
	s.docMu.Lock()
	defer s.docMu.Unlock()

	for _, key := range s.doc.Channels.Merge(ns.ExtractDocChannels()) {
		s.log.Warn().Str("channel", key).Str("namespace", ns.name).Msg("documentation channel overwritten")
	}
	s.doc.Components.Messages.Merge(ns.ExtractDocMessages())
}

// Namespace returns an installed namespace.
func (s *Server) Namespace(name string) (*Namespace, bool) {
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	ns, ok := s.namespaces[normalizeNamespace(name)]
	return ns, ok
}

// Namespaces returns every installed namespace.
func (s *Server) Namespaces() []*Namespace {
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	out := make([]*Namespace, 0, len(s.namespaces))
	for _, ns := range s.namespaces {
		out = append(out, ns)
	}
	return out
}

// Docs returns the protocol document encoded as JSON.
func (s *Server) Docs() ([]byte, error) {
	s.docMu.RLock()
	defer s.docMu.RUnlock()
	return json.Marshal(s.doc)
}

func (s *Server) serveDocs(w http.ResponseWriter, _ *http.Request) {
	body, err := s.Docs()
	if err != nil {
		s.log.Error().Err(err).Msg("encode protocol document")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// Handler returns the HTTP handler serving the Socket.IO endpoint and the
// protocol document.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Accept attaches an Engine.IO connection to the server. Connections
// served by Handler are accepted automatically.
func (s *Server) Accept(conn engineio.Conn) {
	s.clients.Store(newClient(s, conn), struct{}{})
}

func (s *Server) forget(c *client) {
	s.clients.Delete(c)
}

func (s *Server) logError(sock *Socket, event string, err error) {
	s.log.Error().Err(err).
		Str("namespace", sock.namespace.name).
		Str("socket", sock.id).
		Str("event", event).
		Msg("event handler failed")
}

// Close closes the server and all connections
func (s *Server) Close() error {
	s.nsMu.Lock()
	s.closed = true
	s.nsMu.Unlock()

	s.eio.Close()
	s.clients.Range(func(key, _ any) bool {
		key.(*client).conn.Close("server shutdown")
		return true
	})

	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	var errs []error
	for _, ns := range s.namespaces {
		if err := ns.adapter.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
