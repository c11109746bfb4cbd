// Package api exposes the pipeline controller over HTTP: JSON commands in,
// server-sent events out.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/saltyhash/docpipe/internal/controller"
	"github.com/saltyhash/docpipe/internal/logging"
)

// Server is the HTTP control surface.
type Server struct {
	ctrl   *controller.Controller
	logger *logging.Logger
	router chi.Router
}

// NewServer builds the router around the controller.
func NewServer(ctrl *controller.Controller, logger *logging.Logger) *Server {
	s := &Server{
		ctrl:   ctrl,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(allowCrossOrigin)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/session/start", s.handleStart)
		r.Post("/session/cancel", s.handleCancel)
		r.Get("/session/status", s.handleStatus)
		r.Post("/topics/select", s.handleSelect)
		r.Get("/config/example", s.handleExampleConfig)
		r.Get("/events", s.handleEvents)
	})
	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// logRequests logs one line per request through the structured logger.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Microsecond).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// allowCrossOrigin admits browser clients served from another origin. The
// control surface binds to loopback by default; the UI is expected to run
// on its own dev server.
func allowCrossOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
