// Package server exposes the store over WebSocket and raw TCP.
//
// Every accepted connection becomes one handler.Session. Sessions share the
// store and the Handler, and each owns its codec, so record shapes are
// pinned per connection.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/telestream/config"
	"github.com/xtxerr/telestream/internal/codec"
	"github.com/xtxerr/telestream/internal/constants"
	"github.com/xtxerr/telestream/internal/handler"
	"github.com/xtxerr/telestream/internal/logging"
	"github.com/xtxerr/telestream/internal/metrics"
	"github.com/xtxerr/telestream/internal/store"
	"github.com/xtxerr/telestream/internal/wire"
)

var log = logging.Component("server")

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Store is the shared store (required).
	Store *store.Store

	// Addr is the HTTP/WebSocket listen address, e.g. "127.0.0.1:3030".
	Addr string

	// Path upgrades to a session. Default: "/datastore".
	Path string

	// TCPListen enables the raw TCP transport when set.
	TCPListen string

	// MaxMessageSize bounds inbound frames.
	MaxMessageSize int

	// WriteTimeout bounds a single websocket frame write.
	WriteTimeout time.Duration

	// Handler and Session configure the protocol.
	Handler handler.Config
	Session handler.SessionConfig

	// Topic and Source select what sessions stream.
	Topic         string
	Source        string
	RecordToStore bool

	// ReplayOrigin and ReplayFromFirst set the time base of the store source.
	ReplayOrigin    uint64
	ReplayFromFirst bool

	// Compression of columnar frames.
	Compression codec.Compression

	// Registry serves /metrics when set.
	Registry *prometheus.Registry
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = config.DefaultStreamPath
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = config.DefaultMaxMessageSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = config.DefaultWriteTimeout
	}
	if c.Topic == "" {
		c.Topic = config.DefaultStreamTopic
	}
	if c.Source == "" {
		c.Source = constants.SourceSynthetic
	}
}

// =============================================================================
// Server
// =============================================================================

// Server accepts connections and runs one session per connection.
type Server struct {
	cfg      Config
	handler  *handler.Handler
	sessions *handler.SessionManager
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	httpSrv *http.Server
	httpLn  net.Listener
	tcpLn   net.Listener

	// Sessions run under ctx; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New creates a server. Nothing listens until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if !constants.IsValidSource(cfg.Source) && cfg.Source != "" {
		return nil, fmt.Errorf("server: unknown source %q", cfg.Source)
	}
	cfg.applyDefaults()

	var m *metrics.Metrics
	if cfg.Registry != nil {
		m = metrics.New(cfg.Registry)
		metrics.RegisterStore(cfg.Registry, cfg.Store)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		handler:  handler.NewHandler(cfg.Store, m, cfg.Handler),
		sessions: handler.NewSessionManager(),
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc(cfg.Path, s.serveWS)
	s.mux.HandleFunc(config.DefaultHealthPath, s.serveHealth)
	if cfg.Registry != nil {
		s.mux.Handle(config.DefaultMetricsPath, promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}
	return s, nil
}

// Metrics returns the server's instruments, nil when metrics are off.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Sessions returns the live session registry.
func (s *Server) Sessions() *handler.SessionManager { return s.sessions }

// Handler returns the HTTP handler serving the stream, health and metrics
// paths.
func (s *Server) Handler() http.Handler { return s.mux }

// Start binds the listeners and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.httpLn = ln
	s.httpSrv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: config.DefaultReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
		}
	}()
	log.Info("listening", "address", ln.Addr().String(), "path", s.cfg.Path)

	if s.cfg.TCPListen != "" {
		tln, err := net.Listen("tcp", s.cfg.TCPListen)
		if err != nil {
			s.httpSrv.Close()
			return fmt.Errorf("tcp listen: %w", err)
		}
		s.tcpLn = tln
		s.wg.Add(1)
		go s.acceptTCP(tln)
		log.Info("listening for raw tcp", "address", tln.Addr().String())
	}
	return nil
}

// Run starts the server and blocks until ctx is done, then shuts down
// within shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	if shutdownTimeout <= 0 {
		shutdownTimeout = config.DefaultShutdownTimeout
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(sctx)
}

// Addr returns the bound HTTP address, or "" before Start.
func (s *Server) Addr() string {
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// TCPAddr returns the bound raw TCP address, or "" when disabled.
func (s *Server) TCPAddr() string {
	if s.tcpLn == nil {
		return ""
	}
	return s.tcpLn.Addr().String()
}

// Shutdown stops accepting, ends every session and waits for them.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		log.Info("shutting down", "sessions", s.sessions.Count())

		if s.tcpLn != nil {
			s.tcpLn.Close()
		}
		if s.httpSrv != nil {
			// Hijacked websocket connections are not tracked by the
			// http.Server; CloseAll below ends them.
			err = s.httpSrv.Shutdown(ctx)
		}

		s.cancel()
		done := make(chan struct{})
		go func() {
			s.sessions.CloseAll()
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}

		log.Info("shutdown complete")
	})
	return err
}

// =============================================================================
// Connection Handling
// =============================================================================

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.ServeConn(wire.NewWSConn(ws, s.cfg.MaxMessageSize, s.cfg.WriteTimeout))
}

func (s *Server) acceptTCP(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.Debug("tcp accept stopped", "error", err)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(wire.NewStreamConn(conn, s.cfg.MaxMessageSize))
		}()
	}
}

// ServeConn runs a session on conn and blocks until it ends.
func (s *Server) ServeConn(conn wire.Conn) {
	if s.ctx.Err() != nil {
		conn.Close()
		return
	}

	session := handler.NewSession(conn, s.handler, s.newSource(),
		codec.New(codec.WithCompression(s.cfg.Compression)),
		s.metrics, s.cfg.Session)
	log.Info("connection accepted", "session_id", session.ID, "remote", session.Remote)

	if err := s.sessions.Serve(s.ctx, session); err != nil {
		log.Debug("session error", "session_id", session.ID, "error", err)
	}
}

func (s *Server) newSource() handler.Source {
	switch s.cfg.Source {
	case constants.SourceStore:
		return &handler.StoreSource{
			Topic:     s.cfg.Topic,
			Store:     s.cfg.Store,
			Origin:    s.cfg.ReplayOrigin,
			FromFirst: s.cfg.ReplayFromFirst,
		}
	default:
		src := &handler.SyntheticSource{Topic: s.cfg.Topic}
		if s.cfg.RecordToStore {
			src.Store = s.cfg.Store
		}
		return src
	}
}

// =============================================================================
// Health
// =============================================================================

// Health is the /healthz body.
type Health struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Topics   int    `json:"topics"`
	Points   int    `json:"points"`
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	st := s.cfg.Store.Stats()
	h := Health{
		Status:   "ok",
		Sessions: s.sessions.Count(),
		Topics:   st.Topics,
		Points:   st.Points,
	}
	status := http.StatusOK
	if s.ctx.Err() != nil {
		h.Status = "shutting down"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(h); err != nil {
		log.Debug("health write failed", "error", err)
	}
}
