// Package server exposes the tmux gateway and output streams over HTTP and
// WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/timvw/pane-relay/internal/mux"
	telem "github.com/timvw/pane-relay/internal/otel"
	"github.com/timvw/pane-relay/internal/stream"
)

// Config holds the HTTP-facing settings.
type Config struct {
	// Addr is the TCP listen address, e.g. "127.0.0.1:8000".
	Addr string
	// CORSOrigins lists browser origins allowed to call the API and open
	// streams. "*" allows any origin.
	CORSOrigins []string

	HeartbeatInterval time.Duration
	ReceiveTimeout    time.Duration
	// WriteTimeout bounds each frame written to a stream.
	WriteTimeout time.Duration
	// CommandTimeout bounds each tmux call made for a REST request.
	CommandTimeout time.Duration
}

// Deps are the collaborators a Server routes to.
type Deps struct {
	Gateway  mux.Gateway
	Hub      *stream.Hub
	Settings *SettingsStore
	Logger   *slog.Logger
	Metrics  *telem.Metrics
}

// Server is the relay's HTTP server.
type Server struct {
	cfg      Config
	gw       mux.Gateway
	hub      *stream.Hub
	settings *SettingsStore
	logger   *slog.Logger
	metrics  *telem.Metrics
	upgrader websocket.Upgrader

	httpSrv *http.Server

	// streams run on baseCtx so Shutdown can end hijacked connections,
	// which http.Server.Shutdown leaves alone.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	streams    sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	shutdown sync.Once
}

// New builds a Server. Call Start to serve.
func New(cfg Config, deps Deps) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Settings == nil {
		deps.Settings = NewSettingsStore("", deps.Logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		gw:         deps.Gateway,
		hub:        deps.Hub,
		settings:   deps.Settings,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		baseCtx:    ctx,
		cancelBase: cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(origin, s.cfg.CORSOrigins)
		},
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)
	r.Use(s.cors)

	r.Get("/", s.rootHandler)
	r.Get("/health", s.healthHandler)

	r.Route("/api/tmux", func(r chi.Router) {
		r.Post("/send-command", s.sendCommandHandler)
		r.Post("/send-enter", s.sendEnterHandler)
		r.Get("/output", s.outputHandler)
		r.Get("/sessions", s.sessionsHandler)
		r.Get("/hierarchy", s.hierarchyHandler)
		r.Post("/create-session", s.createSessionHandler)
		r.Delete("/session/{name}", s.deleteSessionHandler)
		r.Post("/create-window", s.createWindowHandler)
		r.Delete("/window/{session}/{index}", s.deleteWindowHandler)
		r.Post("/resize", s.resizeHandler)
		r.Get("/status", s.statusHandler)
		r.Get("/ws/*", s.streamHandler)
	})

	r.Route("/api/settings", func(r chi.Router) {
		r.Get("/", s.getSettingsHandler)
		r.Put("/", s.putSettingsHandler)
		r.Post("/test-connection", s.testConnectionHandler)
	})
	return r
}

// Start listens on cfg.Addr and serves until ctx ends or serving fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests, ends open streams and waits for them.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdown.Do(func() {
		err = s.httpSrv.Shutdown(ctx)
		s.cancelBase()

		done := make(chan struct{})
		go func() {
			s.streams.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}
	})
	return err
}

// logRequests logs one line per request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()))
	})
}
