// Package http serves the triaged status API.
//
// Endpoints:
//   - GET  /health              liveness
//   - GET  /metrics             Prometheus exposition
//   - GET  /api/v1/status       last cycle report, policy and telemetry state
//   - GET  /api/v1/audit        recent audit records, newest first
//   - POST /api/v1/policy/check evaluate paths against the current rules
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/audit"
	"github.com/fyrsmithlabs/triaged/internal/diagnosis"
	"github.com/fyrsmithlabs/triaged/internal/logging"
	"github.com/fyrsmithlabs/triaged/internal/pipeline"
	"github.com/fyrsmithlabs/triaged/internal/policy"
	"github.com/fyrsmithlabs/triaged/internal/telemetry"
)

// StatusSource reports orchestrator progress.
type StatusSource interface {
	Status() pipeline.Status
}

// PolicySource exposes the live policy gate.
type PolicySource interface {
	Gate() *policy.Gate
	Reloads() int64
}

// Deps are the read-only views the server exposes.
type Deps struct {
	Pipeline  StatusSource
	Policy    PolicySource
	Audit     audit.Lister
	Gatherer  prometheus.Gatherer
	Telemetry *telemetry.Telemetry
	// Meter instruments requests. Nil uses the global meter provider.
	Meter metric.Meter
}

// Server provides HTTP endpoints for triaged.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

const maxAuditLimit = 500

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("pipeline status source cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9464,
		}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if rm, err := newRequestMetrics(deps.Meter); err != nil {
		logger.Warn(context.Background(), "request metrics disabled", zap.Error(err))
	} else {
		e.Use(rm.middleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Debug(c.Request().Context(), "http request",
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
		deps:   deps,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/audit", s.handleAudit)
	v1.POST("/policy/check", s.handlePolicyCheck)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	st := s.deps.Pipeline.Status()
	resp := StatusResponse{
		Status:    "ok",
		Version:   s.config.Version,
		Cycles:    st.Cycles,
		LastCycle: st.LastCycle,
	}
	if st.LastCycle != nil && (st.LastCycle.SyncFailed || len(st.LastCycle.Errors) > 0) {
		resp.Status = "degraded"
	}
	if s.deps.Policy != nil {
		resp.Policy = &PolicyStatus{ProtectedPaths: []string{}, Reloads: s.deps.Policy.Reloads()}
		if g := s.deps.Policy.Gate(); g != nil {
			resp.Policy.ProtectedPaths = g.Protected
		}
	}
	if s.deps.Telemetry != nil {
		h := s.deps.Telemetry.Health()
		resp.Telemetry = &h
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAudit(c echo.Context) error {
	if s.deps.Audit == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "audit listing is not configured")
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAuditLimit {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxAuditLimit))
		}
		limit = n
	}

	records, err := s.deps.Audit.List(c.Request().Context(), limit)
	if errors.Is(err, audit.ErrListUnsupported) {
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	}
	if err != nil {
		s.logger.Error(c.Request().Context(), "listing audit records failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list audit records")
	}
	if records == nil {
		records = []audit.Record{}
	}
	return c.JSON(http.StatusOK, AuditResponse{Records: records})
}

func (s *Server) handlePolicyCheck(c echo.Context) error {
	if s.deps.Policy == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "policy is not configured")
	}
	var req PolicyCheckRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid policy check request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Paths) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "paths field is required")
	}

	gate := s.deps.Policy.Gate()
	patch := make(diagnosis.Patch, len(req.Paths))
	resp := PolicyCheckResponse{Results: make([]PathResult, 0, len(req.Paths))}
	for _, p := range req.Paths {
		patch[p] = ""
		rule, blocked := gate.Match(p)
		resp.Results = append(resp.Results, PathResult{Path: p, Blocked: blocked, MatchedRule: rule})
	}
	resp.Decision = gate.Evaluate(patch)
	return c.JSON(http.StatusOK, resp)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
