// Package ops serves the operational HTTP surface: /healthz and /metrics.
package ops

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/leeforge/imageresize/http/middleware"
	"github.com/leeforge/imageresize/http/responder"
	"github.com/leeforge/imageresize/logging"
	"github.com/leeforge/imageresize/metrics"
	"go.uber.org/zap"
)

const healthTimeout = 3 * time.Second

// HealthSource reports per-service health; *runtime.Runtime implements it.
type HealthSource interface {
	Health(ctx context.Context) map[string]error
}

type HealthReport struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

type Server struct {
	addr   string
	health HealthSource
	logger logging.Logger
	router chi.Router

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func NewServer(addr string, health HealthSource, m *metrics.Collector, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		addr:   addr,
		health: health,
		logger: logger.Named("http"),
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.TraceID())
	r.Use(middleware.Timing())
	r.Use(middleware.AccessLog(s.logger))
	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.NotFound(responder.NotFound)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Name() string           { return "http" }
func (s *Server) Dependencies() []string { return nil }

// Start binds the listener synchronously so a taken port fails startup.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.srv, s.ln = srv, ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("ops server stopped")
		}
	}()
	s.logger.Info("ops server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound address once started, otherwise the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	report := HealthReport{Status: "ok", Services: make(map[string]string)}
	for name, err := range s.health.Health(ctx) {
		if err != nil {
			report.Status = "degraded"
			report.Services[name] = err.Error()
			continue
		}
		report.Services[name] = "ok"
	}

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	responder.Write(w, r, status, report)
}
