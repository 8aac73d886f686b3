// Package server exposes the rate limiter, the citation annotator and the
// chat pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/toolink/groundchat/citation"
	"github.com/toolink/groundchat/generate"
	"github.com/toolink/groundchat/limiter"
)

// Deps are the components the handlers serve. Pipeline is optional; without
// it /v1/chat is not registered.
type Deps struct {
	Limiter   *limiter.RateLimiter
	Annotator *citation.Annotator
	Pipeline  *generate.Pipeline
	Registry  *prometheus.Registry
}

// Server represents the HTTP server.
type Server struct {
	router    *chi.Mux
	addr      string
	limiter   *limiter.RateLimiter
	annotator *citation.Annotator
	pipeline  *generate.Pipeline

	mu     sync.Mutex
	server *http.Server
	done   chan error
}

// New creates a server listening on addr once started.
func New(addr string, deps Deps) *Server {
	if deps.Annotator == nil {
		deps.Annotator = citation.New()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		router:    chi.NewRouter(),
		addr:      addr,
		limiter:   deps.Limiter,
		annotator: deps.Annotator,
		pipeline:  deps.Pipeline,
	}

	metrics := newRequestMetrics(deps.Registry)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(withSession)
	s.router.Use(metrics.instrument)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "the requested resource was not found")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "the requested method is not allowed for this resource")
	})

	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	s.router.Route("/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Get("/ratelimit/{key}", s.handleUsage)
			r.Post("/ratelimit/{key}/admit", s.handleAdmit)
		}
		r.Post("/annotate", s.handleAnnotate)
		if s.pipeline != nil {
			r.Post("/chat", s.handleChat)
		}
	})

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Name implements lifecycle.Component.
func (s *Server) Name() string { return "http" }

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.done = make(chan error, 1)

	go func(srv *http.Server, done chan<- error) {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			log.Error().Err(err).Msg("http server stopped unexpectedly")
		}
		done <- err
	}(s.server, s.done)

	log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.server, s.done
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	log.Info().Msg("shutting down http server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-done
}
