// Package server exposes the task submission and monitoring API over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/slurmproxy/internal/config"
	"github.com/me/slurmproxy/internal/normalize"
	"github.com/me/slurmproxy/internal/store"
	"github.com/me/slurmproxy/pkg/model"
)

// TaskPipeline submits a validated task and returns its monitor record.
type TaskPipeline interface {
	Run(ctx context.Context, task *model.Task) (*model.Monitor, error)
}

// JobGateway is the scheduler surface the API handlers need.
type JobGateway interface {
	Query(ctx context.Context, id model.JobID) (*model.JobStatus, error)
	Cancel(ctx context.Context, id model.JobID) error
}

// Server is the slurm-proxy REST API server.
type Server struct {
	router     chi.Router
	logger     *slog.Logger
	config     config.ServerConfig
	startTime  time.Time
	normalizer *normalize.Normalizer
	registry   *normalize.Registry
	pipeline   TaskPipeline
	gateway    JobGateway
	store      store.Store
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, st store.Store, reg *normalize.Registry, pl TaskPipeline, gw JobGateway, logger *slog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		logger:     logger.With("component", "server"),
		config:     cfg,
		startTime:  time.Now(),
		normalizer: normalize.New(reg, st, logger),
		registry:   reg,
		pipeline:   pl,
		gateway:    gw,
		store:      st,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/templates", s.handleListTemplates)

		r.Post("/tasks", s.handleSubmitTask)

		r.Route("/monitors", func(r chi.Router) {
			r.Get("/", s.handleListMonitors)
			r.Post("/", s.handleRegisterMonitor)
			r.Route("/job/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleGetMonitorByJob)
				r.Delete("/", s.handleCancelJob)
			})
			r.Get("/task/{uuid}", s.handleGetMonitorByTask)
		})
	})
}
