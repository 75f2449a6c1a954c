// Package gateway exposes the runtime over HTTP and WebSocket and runs the
// periodic maintenance jobs.
//
// Routes:
//
//	POST /v1/sessions/{id}/turns      run one turn and return its result
//	GET  /v1/sessions/{id}            the session's last committed state
//	GET  /v1/sessions/{id}/stream     websocket: turns with streamed deltas
//	GET  /v1/approvals                pending approval requests
//	POST /v1/approvals/{id}           approve or deny a request
//	POST /v1/approvals/command        "approve <id>" / "deny <id>" text commands
//	GET  /v1/approvals/history        archived decisions, newest first
//	GET  /v1/lanes                    per-session lane status
//	GET  /healthz, /metrics           unauthenticated
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/warden/internal/agent"
	"github.com/haasonsaas/warden/internal/approval"
	"github.com/haasonsaas/warden/internal/auth"
	"github.com/haasonsaas/warden/internal/config"
	"github.com/haasonsaas/warden/internal/lanes"
	"github.com/haasonsaas/warden/internal/memory"
	"github.com/haasonsaas/warden/internal/observability"
)

// Config wires a Server. Runtime is required.
type Config struct {
	Server      config.ServerConfig
	Sessions    config.SessionsConfig
	Maintenance config.MaintenanceConfig

	Runtime *agent.Runtime
	Lanes   *lanes.Scheduler

	// Approvals feeds approval_required events to stream clients. Nil
	// disables them.
	Approvals *approval.Gateway

	// Auth protects the /v1 routes. Nil or disabled leaves them open.
	Auth *auth.JWTService

	// MemoryLog and MemoryRetentionDays drive daily-log rotation.
	MemoryLog           *memory.Logger
	MemoryRetentionDays int

	// MetricsHandler serves /metrics. Default: promhttp.Handler().
	MetricsHandler http.Handler

	Metrics *observability.Metrics
	Logger  *slog.Logger

	// OnShutdown runs after the runtime has drained, in order. Tracer and
	// audit flushes go here.
	OnShutdown []func(context.Context) error
}

// Server is the HTTP gateway.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	handler http.Handler
	hub     *approvalHub
	maint   *maintenance

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
	started  time.Time
	stopped  bool
}

// New builds a server. It does not listen until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Runtime == nil {
		return nil, errors.New("gateway: runtime is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "gateway"),
		hub:    newApprovalHub(),
	}
	if cfg.Approvals != nil {
		cfg.Approvals.OnRequest(s.hub.publish)
	}
	maint, err := newMaintenance(cfg, s.logger)
	if err != nil {
		return nil, err
	}
	s.maint = maint
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	api := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		api.Handle(pattern, track(pattern, h))
	}
	handle("POST /v1/sessions/{id}/turns", s.handleTurn)
	handle("GET /v1/sessions/{id}", s.handleGetSession)
	handle("GET /v1/sessions/{id}/stream", s.handleStream)
	handle("GET /v1/approvals", s.handleListApprovals)
	handle("POST /v1/approvals/command", s.handleApprovalCommand)
	handle("GET /v1/approvals/history", s.handleApprovalHistory)
	handle("POST /v1/approvals/{id}", s.handleDecideApproval)
	handle("GET /v1/lanes", s.handleLanes)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.cfg.MetricsHandler)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("/v1/", auth.Middleware(s.cfg.Auth, s.logger)(api))

	return s.instrument(mux)
}

// Start listens on the configured address and starts maintenance. It
// returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return errors.New("gateway: already started")
	}

	addr := s.cfg.Server.Addr()
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.http = server
	s.listener = listener
	s.started = time.Now()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.maint.start()
	s.logger.Info("gateway listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts down gracefully: stop accepting requests, stop maintenance,
// drain the lanes and flush sessions, then run the shutdown hooks. Every
// step runs even when an earlier one fails.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	server := s.http
	s.mu.Unlock()

	var errs []error
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.maint.stop(ctx); err != nil {
		errs = append(errs, err)
	}
	s.hub.closeAll()
	if err := s.cfg.Runtime.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("runtime close: %w", err))
	}
	for _, fn := range s.cfg.OnShutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("gateway stopped")
	return errors.Join(errs...)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	body := map[string]any{"status": "ok"}
	if !started.IsZero() {
		body["uptime_seconds"] = int64(time.Since(started).Seconds())
	}
	writeJSON(w, http.StatusOK, body)
}
