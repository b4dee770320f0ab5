// Package http provides the operational HTTP API for kravscan: job submit,
// status and revoke, review corrections, health and metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/jobs"
	"github.com/fyrsmithlabs/kravscan/internal/pipeline"
	"github.com/fyrsmithlabs/kravscan/internal/review"
)

// maxBodyBytes bounds request bodies; review batches are the largest.
const maxBodyBytes = "8M"

// JobService is the job orchestrator surface the API exposes.
type JobService interface {
	Submit(ctx context.Context, p pipeline.Params) (*jobs.Job, error)
	Status(ctx context.Context, id string) (*jobs.Job, error)
	Revoke(ctx context.Context, id string) (*jobs.Job, error)
}

// Merger folds review corrections into the training corpus.
type Merger interface {
	Merge(ctx context.Context, corrections []review.Correction) (*review.MergeStats, error)
}

// Retrainer retrains and reloads the served models.
type Retrainer interface {
	Retrain(ctx context.Context) *review.Report
}

// Server provides HTTP endpoints for kravscan.
type Server struct {
	echo      *echo.Echo
	jobs      JobService
	merger    Merger
	retrainer Retrainer
	logger    *zap.Logger
	config    *Config
	metrics   *apiMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// WorkRoot, when set, confines submitted directories to this tree.
	// Relative directories are resolved against it.
	WorkRoot string
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithReview enables POST /api/v1/review. The retrainer may be nil, in
// which case retrain requests are refused.
func WithReview(m Merger, r Retrainer) Option {
	return func(s *Server) {
		s.merger = m
		s.retrainer = r
	}
}

// NewServer creates a new HTTP server.
func NewServer(svc JobService, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("job service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(maxBodyBytes))
	metrics := newAPIMetrics(logger)
	e.Use(metrics.middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		jobs:    svc,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/jobs", s.handleSubmit)
	v1.GET("/jobs/:id", s.handleStatus)
	v1.DELETE("/jobs/:id", s.handleRevoke)
	v1.POST("/review", s.handleReview)
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSubmit validates the scan parameters and enqueues a job.
func (s *Server) handleSubmit(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid submit request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	params := pipeline.Params(req)
	ctx := c.Request().Context()
	dir, err := s.resolveDir(params.WorkDir)
	if err != nil {
		s.metrics.recordSubmit(ctx, outcomeRejected)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	params.WorkDir = dir

	job, err := s.jobs.Submit(ctx, params)
	switch {
	case errors.Is(err, pipeline.ErrInvalidParams):
		s.metrics.recordSubmit(ctx, outcomeRejected)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		s.metrics.recordSubmit(ctx, outcomeUnavailable)
		s.logger.Error("job submit failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "job could not be queued")
	}
	s.metrics.recordSubmit(ctx, outcomeAccepted)
	return c.JSON(http.StatusAccepted, job)
}

// resolveDir applies WorkRoot confinement to a submitted directory.
func (s *Server) resolveDir(dir string) (string, error) {
	root := s.config.WorkRoot
	if root == "" || dir == "" {
		return dir, nil
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	dir = filepath.Clean(dir)
	rel, err := filepath.Rel(filepath.Clean(root), dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("dir must be inside the work root")
	}
	return dir, nil
}

// handleStatus returns a job by id.
func (s *Server) handleStatus(c echo.Context) error {
	job, err := s.jobs.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.jobError(err)
	}
	return c.JSON(http.StatusOK, job)
}

// handleRevoke revokes a pending or running job.
func (s *Server) handleRevoke(c echo.Context) error {
	job, err := s.jobs.Revoke(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.jobError(err)
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) jobError(err error) error {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrTerminal):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	s.logger.Error("job store error", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "job store unavailable")
}

// handleReview merges corrections and optionally retrains.
func (s *Server) handleReview(c echo.Context) error {
	if s.merger == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "review is not configured")
	}
	var req ReviewRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid review request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Corrections) == 0 && !req.Retrain {
		return echo.NewHTTPError(http.StatusBadRequest, "corrections field is required")
	}
	if req.Retrain && s.retrainer == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "retraining is not configured")
	}

	ctx := c.Request().Context()
	resp := ReviewResponse{}
	if len(req.Corrections) > 0 {
		stats, err := s.merger.Merge(ctx, req.Corrections)
		var verr *review.ValidationError
		switch {
		case errors.As(err, &verr):
			return c.JSON(http.StatusUnprocessableEntity, ValidationResponse{Message: "invalid corrections", Rows: verr.Rows})
		case err != nil:
			s.logger.Error("review merge failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "merge failed")
		}
		s.metrics.recordCorrections(ctx, req.Corrections)
		resp.Merge = stats
	}
	if req.Retrain {
		resp.Retrain = s.retrainer.Retrain(ctx)
	}
	return c.JSON(http.StatusOK, resp)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
