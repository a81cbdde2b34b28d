// Package server implements the introspect HTTP API server.
package server

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/introspect-labs/introspect/internal/resilience"
	"github.com/introspect-labs/introspect/internal/server/handlers"
	"github.com/introspect-labs/introspect/internal/session"
	"github.com/introspect-labs/introspect/internal/tasks"
)

// Server is the introspect HTTP API server.
type Server struct {
	sessions *session.Service
	store    handlers.StatusStore
	breakers *resilience.Registry
	registry *tasks.Registry
	router   chi.Router
	addr     string
	srv      *http.Server
}

// New creates a new HTTP server.
func New(addr string, sessions *session.Service, store handlers.StatusStore, breakers *resilience.Registry, registry *tasks.Registry) *Server {
	s := &Server{
		sessions: sessions,
		store:    store,
		breakers: breakers,
		registry: registry,
		addr:     addr,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	s.router = r
	s.registerRoutes(r)
	return s
}

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.sessions, s.store, s.breakers, s.registry)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		r.Get("/health", h.Health)
		r.Get("/status", h.Status)

		r.Post("/answers", h.SubmitAnswer)
		r.Get("/answers/{answerID}/analysis", h.GetAnalysis)
	})

	r.Method(http.MethodGet, "/debug/vars", expvar.Handler())
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	fmt.Printf("introspect server listening on %s\n", s.addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler tree, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
