// Package server exposes a database and its function registry over a small
// JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markb/sqlbridge/internal/auth"
	"github.com/markb/sqlbridge/internal/db"
	"github.com/markb/sqlbridge/internal/log"
	"github.com/markb/sqlbridge/internal/observability"
)

// Config holds server configuration.
type Config struct {
	// Auth validates API keys. When nil every request runs with service_role
	// rights.
	Auth      *auth.Service
	Telemetry *observability.Telemetry
}

type Server struct {
	db        *db.DB
	router    *chi.Mux
	auth      *auth.Service
	telemetry *observability.Telemetry

	// HTTP server for graceful shutdown
	httpServer *http.Server
}

func New(database *db.DB, cfg Config) *Server {
	s := &Server{
		db:        database,
		router:    chi.NewRouter(),
		auth:      cfg.Auth,
		telemetry: cfg.Telemetry,
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	// CORS middleware for browser-based apps
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.router.Use(log.RequestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.SetHeader("Content-Type", "application/json"))

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(s.apiKeyMiddleware)
		r.Get("/functions", s.handleFunctions)
		r.Post("/columns", s.handleColumns)
		r.Post("/query", s.handleQuery)
	})
}

func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe serves the API on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve serves the API on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	log.Info("http server listening", "address", listener.Addr().String())
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
