// Package server is the HTTP boundary of Chatterbox: it exposes one
// conversation turn and the session lifecycle over JSON, plus an optional
// WebSocket carrying the same operations as request/response frames.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/chatterbox/internal/config"
	"github.com/soyeahso/chatterbox/internal/conversation"
	"github.com/soyeahso/chatterbox/internal/hooks"
	"github.com/soyeahso/chatterbox/internal/logging"
	"github.com/soyeahso/chatterbox/internal/observe"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Conversation is what the server needs from the conversation entity.
type Conversation interface {
	Name() string
	Process(ctx context.Context, in conversation.Input) conversation.Result
	ClearHistory(ctx context.Context, conversationID string) error
	ClearAllHistory(ctx context.Context) error
	ActiveSessions(ctx context.Context) (int, error)
}

// Server is the Chatterbox HTTP + WebSocket server.
type Server struct {
	cfg    config.ServerConfig
	auth   ResolvedAuth
	log    *logging.Logger
	entity Conversation

	hooks          *hooks.Manager
	metrics        *observe.Metrics
	metricsHandler http.Handler

	limiter    *clientLimiter
	clients    *peers
	upgrader   websocket.Upgrader
	wsHandlers map[string]frameHandler
	handler    http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	addr       string
}

// Option configures the server.
type Option func(*Server)

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) Option {
	return func(s *Server) { s.hooks = hm }
}

// WithMetrics records request metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics when metrics are enabled.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// New creates a server in front of entity.
func New(cfg config.ServerConfig, entity Conversation, log *logging.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		auth:    ResolveAuth(cfg.Auth),
		log:     log.Sub("server"),
		entity:  entity,
		clients: newPeers(log.Sub("ws")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.CORS),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RequestsPerMinute > 0 {
		s.limiter = newClientLimiter(cfg.RequestsPerMinute, cfg.Burst)
	}
	s.wsHandlers = s.frameHandlers()

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = s.withMiddleware(mux)
	return s
}

// checkWebSocketOrigin allows browser origins only when CORS is on.
// Non-browser clients send no Origin and are always allowed.
func checkWebSocketOrigin(cors bool) func(*http.Request) bool {
	return func(r *http.Request) bool {
		return cors || r.Header.Get("Origin") == ""
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Clients returns the number of open WebSocket connections.
func (s *Server) Clients() int { return s.clients.count() }

// ListenAddr is the configured bind address.
func (s *Server) ListenAddr() string {
	bind := s.cfg.Bind
	if bind == "" {
		bind = config.DefaultBind
	}
	port := s.cfg.Port
	if port == 0 {
		port = config.DefaultPort
	}
	return net.JoinHostPort(bind, strconv.Itoa(port))
}

// Addr returns the bound address, or "" before the server is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := s.ListenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	hs := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.httpServer = hs
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	if s.limiter != nil {
		go s.limiter.run(ctx)
	}

	if s.auth.Mode == AuthModeNone {
		host, _, _ := net.SplitHostPort(s.addr)
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			s.log.Warn().Str("addr", s.addr).Msg("auth disabled on a non-loopback address")
		}
	}
	s.log.Info().
		Str("addr", s.addr).
		Str("auth", s.auth.Mode).
		Bool("websocket", s.cfg.WebSocket).
		Bool("metrics", s.cfg.Metrics && s.metricsHandler != nil).
		Str("entity", s.entity.Name()).
		Msg("server listening")
	s.hooks.Emit(ctx, hooks.Payload{
		Event: hooks.EventServerStart,
		Data:  map[string]any{"addr": s.addr},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.log.Info().Msg("shutting down server")
		s.hooks.Emit(context.Background(), hooks.Payload{Event: hooks.EventServerStop})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.clients.closeAll()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("graceful shutdown incomplete")
		}
	}()

	if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		// Unblock the shutdown goroutine and the limiter sweeper.
		stop()
		<-done
		return err
	}
	<-done
	return nil
}
