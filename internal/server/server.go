// Package server provides the HTTP dashboard and control API for the
// trading engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/alimogh/trdk/internal/archive"
	"github.com/alimogh/trdk/internal/database"
	"github.com/alimogh/trdk/internal/dispatch"
	"github.com/alimogh/trdk/internal/events"
)

// Config holds server configuration.
type Config struct {
	Log      zerolog.Logger
	Engine   *dispatch.Engine
	Archive  *archive.Repository
	EventBus *events.Bus
	DB       *database.DB
	Port     int
	DevMode  bool
}

// Server is the HTTP dashboard server.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	engine  *dispatch.Engine
	archive *archive.Repository
	bus     *events.Bus
	db      *database.DB
	started time.Time
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		engine:  cfg.Engine,
		archive: cfg.Archive,
		bus:     cfg.EventBus,
		db:      cfg.DB,
		started: time.Now().UTC(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// The websocket stream bypasses the http.Server write timeout by
		// hijacking the connection, so it can register like any route.
		wsHandler := NewEventsWSHandler(s.bus, s.log)
		r.Get("/events/ws", wsHandler.ServeHTTP)

		r.Get("/state", s.handleState)

		r.Route("/positions", func(r chi.Router) {
			r.Post("/open", s.handleOpenPosition)
			r.Post("/close", s.handleClosePosition)
			r.Post("/close-all", s.handleCloseAll)
		})

		r.Route("/strategies", func(r chi.Router) {
			r.Post("/", s.handleAddStrategy)
			r.Delete("/{name}", s.handleRemoveStrategy)
		})

		r.Route("/archive", func(r chi.Router) {
			r.Get("/positions", s.handleArchivedPositions)
		})

		r.Get("/system/status", s.handleSystemStatus)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router returns the underlying router, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
