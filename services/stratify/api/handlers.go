// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/Stratify/services/stratify/graph"
	"github.com/AleutianAI/Stratify/services/stratify/history"
	"github.com/AleutianAI/Stratify/services/stratify/orchestrator"
	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

var tracer = otel.Tracer("stratify.api")

const (
	defaultCritical = 15
	defaultRunLimit = 20
	maxRunLimit     = 500
)

// =============================================================================
// Request / response types
// =============================================================================

// GraphInput carries an edge list either as a map or as raw text in any
// format graph.ParseEdges reads. Both may be given; they are merged.
type GraphInput struct {
	Edges  map[string][]string `json:"edges"`
	Text   string              `json:"text"`
	Format string              `json:"format" binding:"omitempty,oneof=auto json yaml text"`
}

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	GraphInput
	Critical int `json:"critical" binding:"omitempty,min=1,max=500"`
}

// AnalyzeResponse describes one analysis.
type AnalyzeResponse struct {
	Key          string               `json:"key"`
	Cached       bool                 `json:"cached"`
	Summary      graph.Summary        `json:"summary"`
	Cycles       []graph.Cycle        `json:"cycles"`
	Levels       []graph.Level        `json:"levels"`
	Critical     []graph.CriticalFile `json:"critical"`
	Unreferenced []pathid.FileID      `json:"unreferenced"`
	DurationMs   int64                `json:"duration_ms"`
}

// BriefRequest is the body of POST /brief.
type BriefRequest struct {
	GraphInput
	Goal string `json:"goal"`
}

// BriefResponse carries the planning brief.
type BriefResponse struct {
	Key   string `json:"key"`
	Brief string `json:"brief"`
}

// ScheduleRequest is the body of POST /schedule. Plan, when set, is used
// as the planner response instead of calling the configured planner.
type ScheduleRequest struct {
	GraphInput
	Goal  string `json:"goal"`
	Plan  string `json:"plan"`
	RunID string `json:"run_id" binding:"omitempty,max=128"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error    string                 `json:"error"`
	Schedule *orchestrator.Schedule `json:"schedule,omitempty"`
}

var (
	// errEmptyInput indicates a request without any edges.
	errEmptyInput = errors.New("request has no edges: set edges or text")

	// errGraphTooLarge indicates a graph over the server's node cap.
	errGraphTooLarge = errors.New("graph too large")
)

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"version":       s.version,
		"cache_entries": s.cache.Len(),
		"history":       s.history != nil,
	})
}

// bindJSON decodes the body into req, answering 400 or 413 on failure.
func bindJSON(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	status := http.StatusBadRequest
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		status = http.StatusRequestEntityTooLarge
		err = fmt.Errorf("request body exceeds %d bytes", tooBig.Limit)
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
	return false
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if !bindJSON(c, &req) {
		return
	}
	analysis, key, cached, err := s.analyze(c.Request.Context(), req.GraphInput)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	n := req.Critical
	if n == 0 {
		n = defaultCritical
	}
	c.JSON(http.StatusOK, AnalyzeResponse{
		Key:          key,
		Cached:       cached,
		Summary:      analysis.Summary(),
		Cycles:       analysis.Cycles(),
		Levels:       analysis.Levels(),
		Critical:     analysis.CriticalFiles(n),
		Unreferenced: analysis.Unreferenced(),
		DurationMs:   analysis.Duration().Milliseconds(),
	})
}

func (s *Server) handleBrief(c *gin.Context) {
	var req BriefRequest
	if !bindJSON(c, &req) {
		return
	}
	analysis, key, _, err := s.analyze(c.Request.Context(), req.GraphInput)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	opts := s.briefOpts
	if req.Goal != "" {
		opts.Goal = req.Goal
	}
	c.JSON(http.StatusOK, BriefResponse{Key: key, Brief: orchestrator.Brief(analysis, opts)})
}

func (s *Server) handleSchedule(c *gin.Context) {
	var req ScheduleRequest
	if !bindJSON(c, &req) {
		return
	}
	planner := s.planner
	opts := s.orchOpts
	if req.Plan != "" {
		planner = orchestrator.StaticPlanner{Text: req.Plan}
		opts = append(opts[:len(opts):len(opts)], orchestrator.WithMaxPlanAttempts(1))
	}
	if planner == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no planner configured: include a plan in the request"})
		return
	}

	ctx := c.Request.Context()
	analysis, _, _, err := s.analyze(ctx, req.GraphInput)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	orch, err := orchestrator.New(planner, nil, nil, opts...)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	sched, err := orch.Schedule(ctx, orchestrator.Request{
		RunID:    req.RunID,
		Analysis: analysis,
		Goal:     req.Goal,
	})
	if err != nil {
		s.fail(c, err, sched)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "run history is disabled"})
		return
	}
	limit := defaultRunLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRunLimit {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("limit must be between 1 and %d", maxRunLimit)})
			return
		}
		limit = n
	}
	records, err := s.history.List(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": records})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "run history is disabled"})
		return
	}
	rec, err := s.history.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// fail maps an error to a status code and logs server-side failures.
func (s *Server) fail(c *gin.Context, err error, sched *orchestrator.Schedule) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Schedule: sched})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errEmptyInput), errors.Is(err, graph.ErrInvalidEdges):
		return http.StatusBadRequest
	case errors.Is(err, errGraphTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrGraphInconsistency), errors.Is(err, orchestrator.ErrNoAcceptedChunks):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orchestrator.ErrPlanner):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// Analysis cache
// =============================================================================

// analyze builds the graph for in and returns its analysis, reusing a
// cached one for an identical snapshot.
func (s *Server) analyze(ctx context.Context, in GraphInput) (*graph.AnalysisResult, string, bool, error) {
	ctx, span := tracer.Start(ctx, "api.analyze")
	defer span.End()

	entries, err := in.entries()
	if err != nil {
		return nil, "", false, err
	}
	b := graph.NewBuilder(s.norm)
	b.AddEntries(entries)
	g := b.Build()
	if g.NodeCount() == 0 {
		return nil, "", false, errEmptyInput
	}
	if g.NodeCount() > s.maxNodes {
		return nil, "", false, fmt.Errorf("%w: %d files, limit %d", errGraphTooLarge, g.NodeCount(), s.maxNodes)
	}
	stats := b.Stats()
	key := snapshotKey(g, stats)

	if a, ok := s.cache.Get(key); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return a, key, true, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	a, err := graph.Analyze(ctx, g, graph.WithBuildStats(stats), graph.WithLogger(s.logger))
	if err != nil {
		return nil, "", false, err
	}
	s.cache.Add(key, a)
	return a, key, false, nil
}

func (in GraphInput) entries() ([]graph.EdgeEntry, error) {
	var out []graph.EdgeEntry
	if in.Text != "" {
		parsed, err := graph.ParseEdges([]byte(in.Text), graph.EdgeFormat(in.Format))
		if err != nil {
			return nil, err
		}
		out = append(out, parsed...)
	}
	keys := make([]string, 0, len(in.Edges))
	for k := range in.Edges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, graph.EdgeEntry{Dependent: k, Dependencies: in.Edges[k]})
	}
	if len(out) == 0 {
		return nil, errEmptyInput
	}
	return out, nil
}

// snapshotKey hashes the normalized graph and its build counters.
func snapshotKey(g *graph.Graph, stats graph.BuildStats) string {
	h := sha256.New()
	for _, n := range g.Nodes() {
		fmt.Fprintf(h, "n %s\n", n)
	}
	for _, e := range g.Edges() {
		fmt.Fprintf(h, "e %s %s\n", e.From, e.To)
	}
	fmt.Fprintf(h, "s %d %d %d %d\n", stats.RawEdges, stats.SelfEdges, stats.DuplicateEdges, stats.EmptyPaths)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
