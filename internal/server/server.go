package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/michaelbrown/scriptbox/internal/config"
	"github.com/michaelbrown/scriptbox/internal/sandbox"
)

// Server is the HTTP front end for the sandbox.
type Server struct {
	cfg    config.ServerConfig
	sb     sandbox.Sandbox
	log    *zap.Logger
	router chi.Router
	http   *http.Server
}

// New creates a new Server.
func New(cfg config.ServerConfig, sb sandbox.Sandbox, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		sb:     sb,
		log:    log,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(jsonContentType)
		r.Post("/run", s.handleRun)
	})
}

// ServeHTTP lets the server be mounted or tested directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	s.log.Info("scriptbox server starting", zap.String("addr", addr))
	return s.http.ListenAndServe()
}

// Shutdown waits for in-flight executions, so their containers and
// workspaces are released before the process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	if s.http == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout+10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
