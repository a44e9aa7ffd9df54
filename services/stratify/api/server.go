// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves stratify over HTTP.
//
// Routes:
//
//	POST /v1/stratify/analyze    analyze an edge list
//	POST /v1/stratify/brief      build the planning brief
//	POST /v1/stratify/schedule   plan, validate and sort chunks (no workspace changes)
//	GET  /v1/stratify/runs       list recorded runs, newest first
//	GET  /v1/stratify/runs/:id   one recorded run with its full result
//	GET  /v1/stratify/health     liveness
//	GET  /metrics                Prometheus
//
// Analyses are cached in an LRU keyed by a hash of the normalized graph, so
// brief and schedule requests for a snapshot that was just analyzed skip the
// analysis.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/Stratify/services/stratify/graph"
	"github.com/AleutianAI/Stratify/services/stratify/history"
	"github.com/AleutianAI/Stratify/services/stratify/orchestrator"
	"github.com/AleutianAI/Stratify/services/stratify/pathid"
	"github.com/AleutianAI/Stratify/services/stratify/telemetry"
)

const (
	// DefaultCacheSize is the number of analyses kept when no size is given.
	DefaultCacheSize = 64

	// DefaultMaxBodyBytes caps a request body.
	DefaultMaxBodyBytes int64 = 8 << 20

	// DefaultMaxNodes caps the files in one submitted graph. Transitive
	// reduction is O(V*E), so the cap keeps one request from pinning a core.
	DefaultMaxNodes = 20000
)

// RunHistory is the read side of the run history.
type RunHistory interface {
	List(ctx context.Context, limit int) ([]history.Record, error)
	Get(ctx context.Context, runID string) (*history.Record, error)
}

// Server is the stratify HTTP surface.
//
// Thread Safety: Safe for concurrent use.
type Server struct {
	router    *gin.Engine
	cache     *lru.Cache[string, *graph.AnalysisResult]
	history   RunHistory
	planner   orchestrator.Planner
	norm      *pathid.Normalizer
	orchOpts  []orchestrator.Option
	briefOpts orchestrator.BriefOptions
	cacheSize int
	maxBody   int64
	maxNodes  int
	version   string
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithHistory enables the /runs routes.
func WithHistory(h RunHistory) Option {
	return func(s *Server) { s.history = h }
}

// WithPlanner sets the planner used by /schedule when the request carries
// no plan of its own.
func WithPlanner(p orchestrator.Planner) Option {
	return func(s *Server) { s.planner = p }
}

// WithNormalizer sets the path normalizer for submitted edge lists.
func WithNormalizer(n *pathid.Normalizer) Option {
	return func(s *Server) {
		if n != nil {
			s.norm = n
		}
	}
}

// WithOrchestratorOptions passes options to the schedule-only orchestrator,
// such as artifact patterns and plan attempts.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(s *Server) { s.orchOpts = append(s.orchOpts, opts...) }
}

// WithBriefOptions sets defaults for /brief.
func WithBriefOptions(b orchestrator.BriefOptions) Option {
	return func(s *Server) { s.briefOpts = b }
}

// WithCacheSize sets the analysis LRU size.
func WithCacheSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.cacheSize = n
		}
	}
}

// WithMaxBodyBytes caps request bodies; larger ones get 413.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithMaxNodes caps the number of files in a submitted graph; larger
// graphs get 413 before any analysis runs.
func WithMaxNodes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxNodes = n
		}
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l.With("component", "api")
		}
	}
}

// New builds a Server and its router.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		norm:      pathid.NewNormalizer(),
		cacheSize: DefaultCacheSize,
		maxBody:   DefaultMaxBodyBytes,
		maxNodes:  DefaultMaxNodes,
		version:   "dev",
		logger:    slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	cache, err := lru.New[string, *graph.AnalysisResult](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create analysis cache: %w", err)
	}
	s.cache = cache
	s.orchOpts = append([]orchestrator.Option{
		orchestrator.WithNormalizer(s.norm),
		orchestrator.WithLogger(s.logger),
	}, s.orchOpts...)
	// Probe the options once so a bad artifact pattern fails at startup.
	if _, err := orchestrator.New(orchestrator.StaticPlanner{}, nil, nil, s.orchOpts...); err != nil {
		return nil, err
	}
	s.initRouter()
	return s, nil
}

func (s *Server) initRouter() {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("stratify"))
	r.Use(requestMetrics())
	r.Use(limitBody(s.maxBody))

	r.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := r.Group("/v1/stratify")
	{
		v1.GET("/health", s.handleHealth)
		v1.POST("/analyze", s.handleAnalyze)
		v1.POST("/brief", s.handleBrief)
		v1.POST("/schedule", s.handleSchedule)

		runs := v1.Group("/runs")
		{
			runs.GET("", s.handleListRuns)
			runs.GET("/:id", s.handleGetRun)
		}
	}
	s.router = r
}

// limitBody bounds how much of a request body handlers may read.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is canceled, then shuts down gracefully.
//
// # Inputs
//
//   - ctx: Cancel to stop the server.
//   - addr: host:port.
//   - readTimeout, writeTimeout: Per-request limits. Schedule requests run
//     the planner, so writeTimeout should exceed the planner timeout.
//
// # Outputs
//
//   - error: nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
