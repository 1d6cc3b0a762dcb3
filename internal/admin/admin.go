// Package admin exposes a local HTTP listener with health, status, and
// Prometheus metrics endpoints for a running client. It is read-only:
// nothing here mutates conversations or the connection.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/notify"
	"github.com/parley-chat/parley/internal/realtime"
	"github.com/parley-chat/parley/internal/session"
)

// Sources bundles the live components the endpoints report on. Any field
// may be nil; the corresponding response sections are omitted.
type Sources struct {
	Conn          *realtime.Conn
	Sessions      *session.Registry
	Notifications *notify.Watcher
	Metrics       *metrics.Metrics
}

// Server is the admin HTTP listener.
type Server struct {
	addr      string
	src       Sources
	logger    *slog.Logger
	startedAt time.Time

	server *http.Server
	ln     net.Listener
}

// New builds a Server bound to addr. Call Start to begin serving.
func New(addr string, src Sources, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		src:    src,
		logger: logger,
	}
}

// buildRouter constructs the chi mux with all routes wired.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealthz())
	r.Get("/status", s.handleStatus())

	if s.src.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.src.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	return r
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return errors.New("admin: listen failed: " + err.Error())
	}
	s.ln = ln

	s.server = &http.Server{
		Handler:      s.buildRouter(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		s.logger.Info("admin listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin serve error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, useful when Start was given port 0.
// Empty until Start succeeds.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the listener down gracefully, honoring ctx for the deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("admin shutting down")
	return s.server.Shutdown(ctx)
}
