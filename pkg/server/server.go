package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"gateway/pkg/health"
	"gateway/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthReporter is the view of the health monitor the health endpoints need
type HealthReporter interface {
	Status() health.Snapshot
	WriteText(w io.Writer) error
}

// Server exposes the client socket endpoint next to health, readiness and metrics
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *logger.Logger

	health HealthReporter
	ready  func() bool
}

// HealthResponse is the JSON health document
type HealthResponse struct {
	Healthy bool            `json:"healthy"`
	Status  health.Snapshot `json:"status"`
}

// New creates a new gateway HTTP server. ws handles client socket upgrades.
func New(addr string, ws http.Handler, h HealthReporter, ready func() bool, l *logger.Logger) *Server {
	s := &Server{
		logger: l.Named("server"),
		health: h,
		ready:  ready,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/ws", ws)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.Status()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}

	switch r.URL.Query().Get("format") {
	case "prometheus":
		w.Header().Set("Content-Type", string(health.TextFormat))
		w.WriteHeader(code)
		if err := s.health.WriteText(w); err != nil {
			s.logger.Error("failed to write health metrics", err)
		}
	case "", "json":
		body, err := json.Marshal(HealthResponse{Healthy: status.Healthy, Status: status})
		if err != nil {
			s.logger.Error("failed to encode health status", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		w.Write(body)
	default:
		http.Error(w, "unsupported format", http.StatusBadRequest)
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// Start binds the listen address and serves in the background. A bind
// failure is returned immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln

	s.logger.Info("starting gateway server", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server failed", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Start succeeded
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
