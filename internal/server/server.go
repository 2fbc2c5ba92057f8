// Package server exposes the worker and the sync orchestrator over HTTP.
// Requests under /__roam/ are control calls; everything else is handed to
// the worker, which proxies the upstream origin.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hpungsan/roam/internal/config"
	"github.com/hpungsan/roam/internal/logging"
	"github.com/hpungsan/roam/internal/orchestrator"
	"github.com/hpungsan/roam/internal/worker"
)

// ControlPrefix is the path prefix of the control routes.
const ControlPrefix = "/__roam"

const shutdownTimeout = 15 * time.Second

// Server routes control calls and proxied traffic.
type Server struct {
	cfg    *config.Config
	orch   *orchestrator.Orchestrator
	worker *worker.Worker
	hub    *Hub
	logger *slog.Logger
	router chi.Router
}

// New builds the router. hub may be nil, in which case the notification
// stream is not served.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, w *worker.Worker, hub *Hub, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		orch:   orch,
		worker: w,
		hub:    hub,
		logger: logging.OrDefault(logger),
	}
	if hub != nil {
		hub.snapshot = func() Event {
			st := orch.State()
			return Event{Type: EventState, State: &st}
		}
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(NewSlogLogger(s.logger))
	r.Use(chimiddleware.Recoverer)

	r.Route(ControlPrefix, func(r chi.Router) {
		if len(s.cfg.CORSOrigins) > 0 {
			r.Use(NewCORSHandler(s.cfg.CORSOrigins))
		}
		r.Use(securityHeaders)

		r.Get("/status", s.handleStatus)
		r.Post("/connectivity", s.handleConnectivity)
		r.Post("/sync", s.handleSync)
		r.Post("/worker/messages", s.handleWorkerMessage)
		r.Post("/push", s.handlePush)
		r.Post("/notifications/click", s.handleNotificationClick)
		if s.hub != nil {
			r.Get("/notifications", s.hub.ServeHTTP)
		}
	})

	r.Handle("/*", s.worker)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer wraps s in an http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Run serves srv until ctx ends or SIGINT/SIGTERM arrives, then shuts down
// gracefully.
func Run(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	logger = logging.OrDefault(logger)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("roam listening", "addr", srv.Addr)
	if strings.HasPrefix(srv.Addr, ":") || strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "[::]") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
