// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package materialize

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/Stratify/services/stratify/pathid"
	"github.com/AleutianAI/Stratify/services/stratify/topology"
)

var tracer = otel.Tracer("stratify.materialize")

// Stats summarizes one driver run.
type Stats struct {
	LevelsRun      int             `json:"levels_run"`
	UnitsApplied   int             `json:"units_applied"`
	ChunksApplied  int             `json:"chunks_applied"`
	LevelDurations []time.Duration `json:"level_durations"`
	Duration       time.Duration   `json:"duration"`
}

// Driver executes a SortResult level by level.
//
// Thread Safety: Safe for concurrent use on distinct workspaces.
type Driver struct {
	m       Materializer
	workers int
	logger  *slog.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithWorkers bounds concurrent units within a level. Values below 1 use
// GOMAXPROCS.
func WithWorkers(n int) DriverOption {
	return func(d *Driver) {
		if n >= 1 {
			d.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDriver creates a driver around a materializer.
func NewDriver(m Materializer, opts ...DriverOption) *Driver {
	d := &Driver{
		m:       m,
		workers: runtime.GOMAXPROCS(0),
		logger:  slog.Default().With("component", "materialize"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run applies every unit of sorted, one level at a time.
//
// # Description
//
// Each level is split into lanes: units sharing a file end up in the same
// lane and run sequentially in planner order; distinct lanes run
// concurrently on at most Workers goroutines. The next level starts only
// after the current one has fully finished. The first error cancels the
// rest of the level and stops the run.
//
// # Outputs
//
//   - *Stats: Progress up to the failure, or the full run.
//   - error: *MaterializationError, or ctx.Err() when canceled between levels.
func (d *Driver) Run(ctx context.Context, runID string, sorted *topology.SortResult) (*Stats, error) {
	ctx, span := tracer.Start(ctx, "materialize.Run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("materialize.levels", len(sorted.Levels)),
			attribute.Int("materialize.workers", d.workers),
		),
	)
	defer span.End()

	stats := &Stats{}
	start := time.Now()
	defer func() { stats.Duration = time.Since(start) }()

	for _, lvl := range sorted.Levels {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		levelStart := time.Now()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.workers)
		for _, lane := range lanes(lvl.Units) {
			g.Go(func() error {
				for _, u := range lane {
					if err := d.applyUnit(gctx, runID, lvl.Level, u); err != nil {
						return err
					}
				}
				return nil
			})
		}
		err := g.Wait()

		elapsed := time.Since(levelStart)
		levelDuration.Observe(elapsed.Seconds())
		stats.LevelDurations = append(stats.LevelDurations, elapsed)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.logger.Error("materialization failed",
				slog.String("run_id", runID),
				slog.Int("level", lvl.Level),
				slog.String("error", err.Error()),
			)
			return stats, err
		}
		stats.LevelsRun++
		stats.UnitsApplied += len(lvl.Units)
		for _, u := range lvl.Units {
			stats.ChunksApplied += len(u.Chunks)
		}
		d.logger.Debug("level materialized",
			slog.String("run_id", runID),
			slog.Int("level", lvl.Level),
			slog.Int("units", len(lvl.Units)),
			slog.Duration("duration", elapsed),
		)
	}
	return stats, nil
}

// applyUnit applies a unit's chunks in order. A cycle group stops at its
// first failing member.
func (d *Driver) applyUnit(ctx context.Context, runID string, level int, u topology.Unit) error {
	for _, c := range u.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.m.Materialize(ctx, c); err != nil {
			chunksMaterialized.WithLabelValues("failed").Inc()
			var merr *MaterializationError
			if errors.As(err, &merr) {
				return merr
			}
			return &MaterializationError{ChunkID: c.ID, Level: level, Group: u.Group, Err: err}
		}
		chunksMaterialized.WithLabelValues("applied").Inc()
		d.logger.Debug("chunk materialized",
			slog.String("run_id", runID),
			slog.Int("chunk_id", c.ID),
			slog.Int("level", level),
		)
	}
	return nil
}

// lanes groups units that share any file, keeping planner order inside and
// across lanes.
func lanes(units []topology.Unit) [][]topology.Unit {
	laneOf := make(map[pathid.FileID]int)
	parent := make([]int, len(units))
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for i, u := range units {
		for _, f := range u.Files() {
			if j, ok := laneOf[f]; ok {
				a, b := find(i), find(j)
				if a < b {
					parent[b] = a
				} else if b < a {
					parent[a] = b
				}
			} else {
				laneOf[f] = i
			}
		}
	}

	index := make(map[int]int)
	var out [][]topology.Unit
	for i, u := range units {
		r := find(i)
		k, ok := index[r]
		if !ok {
			k = len(out)
			index[r] = k
			out = append(out, nil)
		}
		out[k] = append(out[k], u)
	}
	return out
}
