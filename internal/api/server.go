package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/switchboard/internal/auth"
	"github.com/mattjoyce/switchboard/internal/dispatch"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/journal"
	"github.com/mattjoyce/switchboard/internal/plugin"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// Registry is the read and reload surface of the command registry.
type Registry interface {
	Entries() []plugin.Entry
	Len() int
	Generation() uint64
	LoadedAt() time.Time
	Manifest() *plugin.Manifest
	Reload(ctx context.Context) (*plugin.ReloadResult, error)
}

// Dispatcher runs a single command to completion.
type Dispatcher interface {
	Run(ctx context.Context, cmd protocol.Command) dispatch.Result
}

// JournalReader looks up recorded dispatches.
type JournalReader interface {
	Get(ctx context.Context, id string) (*journal.Entry, error)
	Recent(ctx context.Context, f journal.Filter) ([]*journal.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Name   string
	Listen string
	// APIKey is the single admin bearer token.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens            []auth.TokenConfig
	ReadHeaderTimeout time.Duration
	MaxBodyBytes      int64
}

// authEnabled reports whether any credential is configured. Without one the
// gateway serves every route unauthenticated.
func (c Config) authEnabled() bool {
	return c.APIKey != "" || len(c.Tokens) > 0
}

// Server represents the HTTP API server
type Server struct {
	config     Config
	registry   Registry
	dispatcher Dispatcher
	journal    JournalReader
	events     *events.Hub
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
	mounts     []mount
}

type mount struct {
	pattern string
	handler http.Handler
}

// New creates a new API server instance. journal may be nil when the
// dispatch journal is disabled.
func New(config Config, registry Registry, dispatcher Dispatcher, journal JournalReader, hub *events.Hub, logger *slog.Logger) *Server {
	if config.Name == "" {
		config.Name = "switchboard"
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = 10 * time.Second
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:     config,
		registry:   registry,
		dispatcher: dispatcher,
		journal:    journal,
		events:     hub,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Mount attaches h under pattern outside the bearer-auth group. Handlers
// mounted here authenticate requests themselves. Call before Start.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.mounts = append(s.mounts, mount{pattern: pattern, handler: h})
}

// Handler returns the routed HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.authEnabled())
	if !s.config.authEnabled() {
		s.logger.Warn("no api_key or tokens configured; API is unauthenticated")
	}

	// Run server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealthz)
	for _, m := range s.mounts {
		r.Mount(m.pattern, m.handler)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeActionsRun)).Post("/execute", s.handleExecute)
		r.With(s.requireScopes(auth.ScopeActionsRead)).Get("/actions", s.handleListActions)
		r.With(s.requireScopes(auth.ScopeActionsRead)).Get("/plugins", s.handleListPlugins)
		r.With(s.requireScopes(auth.ScopeActionsRead)).Get("/openapi.json", s.handleOpenAPI)
		r.With(s.requireScopes(auth.ScopeDispatchRO)).Get("/dispatches", s.handleListDispatches)
		r.With(s.requireScopes(auth.ScopeDispatchRO)).Get("/dispatch/{id}", s.handleGetDispatch)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
		r.With(s.requireScopes(auth.ScopeAdmin)).Post("/admin/reload", s.handleReload)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
