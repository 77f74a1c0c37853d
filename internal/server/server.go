// Package server exposes the runtime over HTTP: a REST surface for
// sessions, tasks, messages, and approvals, plus the SSE event stream
// backing external UIs.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/obra/lace-sub014/internal/approval"
	"github.com/obra/lace-sub014/internal/event"
	"github.com/obra/lace-sub014/internal/logging"
	"github.com/obra/lace-sub014/internal/session"
	"github.com/obra/lace-sub014/internal/storage"
	"github.com/obra/lace-sub014/internal/threadstore"
)

// Config holds server configuration.
type Config struct {
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // no write timeout: SSE connections are long-lived
	}
}

// Server is the HTTP server.
type Server struct {
	config      *Config
	router      *chi.Mux
	httpSrv     *http.Server
	store       *storage.Store
	threads     *threadstore.Store
	sessions    *session.Manager
	coordinator *approval.Coordinator
	bus         *event.Bus
}

// New creates a Server over the wired services.
func New(cfg *Config, store *storage.Store, threads *threadstore.Store, sessions *session.Manager, coordinator *approval.Coordinator, bus *event.Bus) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config:      cfg,
		router:      chi.NewRouter(),
		store:       store,
		threads:     threads,
		sessions:    sessions,
		coordinator: coordinator,
		bus:         bus,
	}

	s.router.Use(middleware.Recoverer)
	if cfg.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	s.setupRoutes()
	return s
}

// Router returns the underlying router, for tests driving the server
// through httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving and blocks until shutdown.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	logging.Info().Int("port", s.config.Port).Msg("server: listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
