package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bnzr-team/grinder/internal/core"
)

// RoleReader reports the current HA role for /readyz.
type RoleReader interface {
	Role() string
}

// StaticRole is a fixed role for single-instance deployments and
// tests.
type StaticRole string

func (s StaticRole) Role() string { return string(s) }

// Server exposes /metrics, /healthz and /readyz.
type Server struct {
	port     int
	registry *Registry
	health   core.IHealthMonitor
	role     RoleReader
	clock    core.Clock
	logger   core.ILogger
	startMs  int64
	srv      *http.Server
}

// NewServer builds the observability server.
func NewServer(port int, registry *Registry, health core.IHealthMonitor, role RoleReader, clock core.Clock, logger core.ILogger) *Server {
	return &Server{
		port:     port,
		registry: registry,
		health:   health,
		role:     role,
		clock:    clock,
		logger:   logger.WithField("component", "metrics_server"),
		startMs:  clock.NowMs(),
	}
}

// Handler returns the HTTP mux so tests can drive it without a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry.Prometheus(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	uptime := float64(s.clock.NowMs()-s.startMs) / 1000.0
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"uptime_s": uptime,
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	role := "unknown"
	if s.role != nil {
		role = s.role.Role()
	}
	ready := role == "active" && (s.health == nil || s.health.IsHealthy())

	w.Header().Set("Content-Type", "application/json")
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ready": ready,
		"role":  role,
	})
}

// Start serves in the background.
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}
	go func() {
		s.logger.Info("Starting observability server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Observability server failed", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping observability server")
	return s.srv.Shutdown(ctx)
}
