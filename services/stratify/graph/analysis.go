// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

// AnalysisResult is the immutable outcome of analyzing one graph snapshot.
//
// It owns the reduced graph, the cycle list, the level list and the derived
// file-to-level and file-to-cycle maps. Every downstream stage reads it;
// none modify it.
//
// Thread Safety: Safe for concurrent use.
type AnalysisResult struct {
	raw       *Graph
	reduced   *Graph
	cycles    []Cycle
	levels    []Level
	levelOf   map[pathid.FileID]int
	cycleOf   map[pathid.FileID]int
	reduction ReductionStats
	build     BuildStats
	duration  time.Duration

	criticalOnce sync.Once
	critical     []CriticalFile
}

// CriticalFile ranks a file by how many files transitively depend on it.
type CriticalFile struct {
	File       pathid.FileID `json:"file"`
	Dependents int           `json:"dependents"`
	Level      int           `json:"level"`
	Cyclic     bool          `json:"cyclic"`
}

// Summary is a flat view of the analysis for reports and commit messages.
type Summary struct {
	Files          int     `json:"files"`
	Edges          int     `json:"edges"`
	ReducedEdges   int     `json:"reduced_edges"`
	RemovedPercent float64 `json:"removed_percent"`
	Cycles         int     `json:"cycles"`
	LargestCycle   int     `json:"largest_cycle"`
	Levels         int     `json:"levels"`
	Unreferenced   int     `json:"unreferenced"`
	SelfEdges      int     `json:"self_edges"`
	DuplicateEdges int     `json:"duplicate_edges"`
}

// AnalyzeOption configures Analyze.
type AnalyzeOption func(*analyzeOptions)

type analyzeOptions struct {
	logger *slog.Logger
	build  BuildStats
}

// WithLogger sets the logger for analysis diagnostics.
func WithLogger(logger *slog.Logger) AnalyzeOption {
	return func(o *analyzeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBuildStats attaches the Builder counters to the result.
func WithBuildStats(stats BuildStats) AnalyzeOption {
	return func(o *analyzeOptions) {
		o.build = stats
	}
}

// Analyze runs the full pipeline over g: reduce, detect cycles, assign levels.
//
// # Description
//
// The stages are pure and run synchronously on the caller's goroutine.
// ctx is checked between stages so a canceled run stops early.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - g: Raw dependency graph. Must not be nil.
//   - opts: Optional logger and builder stats.
//
// # Outputs
//
//   - *AnalysisResult: Immutable analysis.
//   - error: ErrNilGraph, ctx.Err(), or *InconsistencyError (fatal).
//
// # Thread Safety
//
// Safe for concurrent use on distinct or shared graphs.
func Analyze(ctx context.Context, g *Graph, opts ...AnalyzeOption) (*AnalysisResult, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	o := analyzeOptions{logger: slog.Default().With("component", "graph")}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := startAnalyzeSpan(ctx, g)
	defer span.End()
	start := time.Now()

	fail := func(outcome string, err error) (*AnalysisResult, error) {
		analysisTotal.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	reduced, stats := Reduce(g)
	if err := ctx.Err(); err != nil {
		return fail("canceled", err)
	}

	cycles := DetectCycles(reduced)
	if err := ctx.Err(); err != nil {
		return fail("canceled", err)
	}

	levels, err := AssignLevels(reduced, cycles)
	if err != nil {
		o.logger.Error("graph analysis inconsistent", slog.String("error", err.Error()))
		return fail("inconsistent", err)
	}

	r := &AnalysisResult{
		raw:       g,
		reduced:   reduced,
		cycles:    cycles,
		levels:    levels,
		levelOf:   make(map[pathid.FileID]int, reduced.NodeCount()),
		cycleOf:   make(map[pathid.FileID]int),
		reduction: stats,
		build:     o.build,
	}
	for _, lvl := range levels {
		for _, f := range lvl.Files {
			r.levelOf[f] = lvl.Index
		}
	}
	for _, c := range cycles {
		for _, m := range c.Members {
			r.cycleOf[m] = c.ID
		}
	}
	if len(r.levelOf) != reduced.NodeCount() {
		return fail("inconsistent", &InconsistencyError{
			Stage:  "analyze",
			Reason: "level assignment does not cover every file",
		})
	}
	r.duration = time.Since(start)

	analysisTotal.WithLabelValues("ok").Inc()
	analysisDuration.Observe(r.duration.Seconds())
	reductionPercent.Observe(stats.RemovedPercent)
	cyclesFound.Add(float64(len(cycles)))
	setAnalyzeSpanResult(span, r)

	o.logger.Debug("graph analyzed",
		slog.Int("files", reduced.NodeCount()),
		slog.Int("edges", stats.OriginalEdges),
		slog.Int("reduced_edges", stats.ReducedEdges),
		slog.Int("cycles", len(cycles)),
		slog.Int("levels", len(levels)),
		slog.Duration("duration", r.duration),
	)
	return r, nil
}

// Graph returns the reduced graph.
func (r *AnalysisResult) Graph() *Graph {
	return r.reduced
}

// RawGraph returns the graph as built, before reduction.
func (r *AnalysisResult) RawGraph() *Graph {
	return r.raw
}

// Cycles returns the detected cycles.
func (r *AnalysisResult) Cycles() []Cycle {
	out := make([]Cycle, len(r.cycles))
	copy(out, r.cycles)
	return out
}

// Cycle returns the cycle with the given ID.
func (r *AnalysisResult) Cycle(id int) (Cycle, bool) {
	if id < 0 || id >= len(r.cycles) {
		return Cycle{}, false
	}
	return r.cycles[id], true
}

// Levels returns the levels in ascending order.
func (r *AnalysisResult) Levels() []Level {
	out := make([]Level, len(r.levels))
	copy(out, r.levels)
	return out
}

// LevelCount returns the number of levels.
func (r *AnalysisResult) LevelCount() int {
	return len(r.levels)
}

// LevelOf returns the level of file. The bool is false for unknown files.
func (r *AnalysisResult) LevelOf(file pathid.FileID) (int, bool) {
	l, ok := r.levelOf[file]
	return l, ok
}

// CycleOf returns the ID of the cycle containing file.
func (r *AnalysisResult) CycleOf(file pathid.FileID) (int, bool) {
	c, ok := r.cycleOf[file]
	return c, ok
}

// IsCyclic reports whether file is a member of any cycle.
func (r *AnalysisResult) IsCyclic(file pathid.FileID) bool {
	_, ok := r.cycleOf[file]
	return ok
}

// Has reports whether file is known to the graph.
func (r *AnalysisResult) Has(file pathid.FileID) bool {
	_, ok := r.levelOf[file]
	return ok
}

// Files returns every known file in lexical order.
func (r *AnalysisResult) Files() []pathid.FileID {
	return r.reduced.Nodes()
}

// Dependents returns the files that directly depend on file in the raw graph.
func (r *AnalysisResult) Dependents(file pathid.FileID) []pathid.FileID {
	return r.raw.Dependents(file)
}

// TransitiveDependents returns every file whose correctness can be affected
// by a change to file, sorted.
func (r *AnalysisResult) TransitiveDependents(file pathid.FileID) []pathid.FileID {
	return r.reduced.ReachingTo(file)
}

// Unreferenced returns the files nobody depends on, sorted.
//
// This is the "top" of the graph. It is unrelated to level 0, which holds
// files with no dependencies of their own.
func (r *AnalysisResult) Unreferenced() []pathid.FileID {
	var out []pathid.FileID
	for i, n := range r.reduced.nodes {
		if len(r.reduced.in[i]) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// CriticalFiles returns up to n files ranked by transitive dependent count,
// descending, ties broken lexically. Files nobody depends on are omitted.
// n <= 0 returns all of them.
func (r *AnalysisResult) CriticalFiles(n int) []CriticalFile {
	r.criticalOnce.Do(func() {
		for _, f := range r.reduced.nodes {
			count := len(r.reduced.ReachingTo(f))
			if count == 0 {
				continue
			}
			r.critical = append(r.critical, CriticalFile{
				File:       f,
				Dependents: count,
				Level:      r.levelOf[f],
				Cyclic:     r.IsCyclic(f),
			})
		}
		sort.SliceStable(r.critical, func(i, j int) bool {
			if r.critical[i].Dependents != r.critical[j].Dependents {
				return r.critical[i].Dependents > r.critical[j].Dependents
			}
			return r.critical[i].File < r.critical[j].File
		})
	})
	if n <= 0 || n > len(r.critical) {
		n = len(r.critical)
	}
	out := make([]CriticalFile, n)
	copy(out, r.critical[:n])
	return out
}

// Reduction returns the transitive reduction counters.
func (r *AnalysisResult) Reduction() ReductionStats {
	return r.reduction
}

// BuildStats returns the Builder counters passed via WithBuildStats.
func (r *AnalysisResult) BuildStats() BuildStats {
	return r.build
}

// Duration returns how long Analyze took.
func (r *AnalysisResult) Duration() time.Duration {
	return r.duration
}

// Summary returns the headline numbers of the analysis.
func (r *AnalysisResult) Summary() Summary {
	s := Summary{
		Files:          r.reduced.NodeCount(),
		Edges:          r.reduction.OriginalEdges,
		ReducedEdges:   r.reduction.ReducedEdges,
		RemovedPercent: r.reduction.RemovedPercent,
		Cycles:         len(r.cycles),
		Levels:         len(r.levels),
		Unreferenced:   len(r.Unreferenced()),
		SelfEdges:      r.build.SelfEdges,
		DuplicateEdges: r.build.DuplicateEdges,
	}
	for _, c := range r.cycles {
		if c.Size() > s.LargestCycle {
			s.LargestCycle = c.Size()
		}
	}
	return s
}
