// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator runs the whole pipeline for one change.
//
// A run analyzes the dependency graph, asks the planner for chunks,
// validates and schedules them, applies every chunk level by level inside
// one workspace transaction, runs the deferred checks once over the whole
// batch, and ends in exactly one whole-batch commit or one whole-batch
// reset.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/Stratify/services/stratify/batch"
	"github.com/AleutianAI/Stratify/services/stratify/chunks"
	"github.com/AleutianAI/Stratify/services/stratify/deferred"
	"github.com/AleutianAI/Stratify/services/stratify/graph"
	"github.com/AleutianAI/Stratify/services/stratify/history"
	"github.com/AleutianAI/Stratify/services/stratify/materialize"
	"github.com/AleutianAI/Stratify/services/stratify/pathid"
	"github.com/AleutianAI/Stratify/services/stratify/topology"
	"github.com/AleutianAI/Stratify/services/stratify/transaction"
)

// DefaultMaxPlanAttempts is how often the planner is asked before giving up.
const DefaultMaxPlanAttempts = 3

// ErrNoAcceptedChunks indicates every planning attempt yielded zero
// acceptable chunks.
var ErrNoAcceptedChunks = errors.New("planner produced no acceptable chunks")

// ErrNotRunnable indicates Run was called on an orchestrator built without
// a materializer or validator. Such an orchestrator can only Schedule.
var ErrNotRunnable = errors.New("orchestrator has no materializer or validator")

// Validator runs the deferred checks over a finished batch.
type Validator interface {
	Validate(ctx context.Context, runID string, b *batch.ValidationBatch) (*deferred.Report, error)
}

// Recorder persists finished runs.
type Recorder interface {
	Put(ctx context.Context, r *history.Record) error
}

// Request describes one run.
type Request struct {
	// RunID is generated when empty.
	RunID string

	// Graph is the raw dependency graph. Ignored when Analysis is set.
	Graph *graph.Graph

	// BuildStats are the ingestion counters for Graph, if known.
	BuildStats graph.BuildStats

	// Analysis reuses an earlier analysis of the same snapshot.
	Analysis *graph.AnalysisResult

	// Goal is the change the planner should split.
	Goal string
}

// Orchestrator wires the pipeline stages together.
//
// # Thread Safety
//
// Safe for concurrent Schedule calls. Concurrent Run calls must use
// distinct workspaces.
type Orchestrator struct {
	planner         Planner
	materializer    materialize.Materializer
	validator       Validator
	workspace       transaction.Workspace
	recorder        Recorder
	artifacts       []string
	norm            *pathid.Normalizer
	workers         int
	maxPlanAttempts int
	brief           BriefOptions
	logger          *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkspace sets the version-control workspace. Default NoopWorkspace.
func WithWorkspace(ws transaction.Workspace) Option {
	return func(o *Orchestrator) {
		if ws != nil {
			o.workspace = ws
		}
	}
}

// WithRecorder persists every finished run.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithArtifactPatterns sets the doublestar patterns of externally
// observable files.
func WithArtifactPatterns(patterns ...string) Option {
	return func(o *Orchestrator) { o.artifacts = append(o.artifacts, patterns...) }
}

// WithNormalizer sets the path normalizer used for planner paths.
func WithNormalizer(n *pathid.Normalizer) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.norm = n
		}
	}
}

// WithWorkers bounds concurrent units per level.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) { o.workers = n }
}

// WithMaxPlanAttempts sets the planning retry budget.
func WithMaxPlanAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxPlanAttempts = n
		}
	}
}

// WithBriefOptions sets how the planning brief is rendered.
func WithBriefOptions(b BriefOptions) Option {
	return func(o *Orchestrator) { o.brief = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an orchestrator.
//
// # Inputs
//
//   - p: Produces chunk text from the brief.
//   - m: Applies chunks to the workspace. May be nil for schedule-only use.
//   - v: Runs the deferred checks. May be nil for schedule-only use.
//   - opts: Optional settings.
//
// # Outputs
//
//   - *Orchestrator: Ready to run.
//   - error: Non-nil if the planner is missing or an artifact pattern is
//     invalid.
func New(p Planner, m materialize.Materializer, v Validator, opts ...Option) (*Orchestrator, error) {
	if p == nil {
		return nil, errors.New("planner is required")
	}
	o := &Orchestrator{
		planner:         p,
		materializer:    m,
		validator:       v,
		workspace:       transaction.NoopWorkspace{},
		norm:            pathid.NewNormalizer(),
		maxPlanAttempts: DefaultMaxPlanAttempts,
		logger:          slog.Default().With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if _, err := batch.NewBuilder(nil, o.artifacts); err != nil {
		return nil, err
	}
	return o, nil
}

// =============================================================================
// Scheduling
// =============================================================================

// Schedule analyzes, plans, validates and sorts without touching the
// workspace.
//
// # Outputs
//
//   - *Schedule: The execution plan.
//   - error: *graph.InconsistencyError, ErrNoAcceptedChunks (wrapped with
//     the last planner feedback), ErrPlanner, or ctx.Err().
func (o *Orchestrator) Schedule(ctx context.Context, req Request) (*Schedule, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return o.schedule(ctx, runID, req)
}

func (o *Orchestrator) schedule(ctx context.Context, runID string, req Request) (*Schedule, error) {
	analysis := req.Analysis
	if analysis == nil {
		var err error
		analysis, err = graph.Analyze(ctx, req.Graph,
			graph.WithBuildStats(req.BuildStats),
			graph.WithLogger(o.logger),
		)
		if err != nil {
			return nil, err
		}
	}

	sched := &Schedule{
		RunID:    runID,
		Summary:  analysis.Summary(),
		analysis: analysis,
	}

	briefOpts := o.brief
	if req.Goal != "" {
		briefOpts.Goal = req.Goal
	}
	brief := Brief(analysis, briefOpts)
	validator := chunks.NewValidator(analysis,
		chunks.WithNormalizer(o.norm),
		chunks.WithLogger(o.logger),
	)

	var (
		parsed   *chunks.ParseResult
		feedback string
	)
	for attempt := 1; attempt <= o.maxPlanAttempts; attempt++ {
		sched.PlanAttempts = attempt
		text, err := o.planner.Plan(ctx, PlanRequest{
			RunID:    runID,
			Brief:    brief,
			Attempt:  attempt,
			Feedback: feedback,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			feedback = err.Error()
			o.logger.Warn("planner attempt failed",
				slog.String("run_id", runID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		plan, err := chunks.ParsePlan(text)
		if err != nil {
			feedback = fmt.Sprintf("The response could not be parsed: %v", err)
			continue
		}
		parsed = validator.ValidatePlan(plan)
		if !parsed.Empty() {
			break
		}
		feedback = planFeedback(parsed)
		o.logger.Warn("planner attempt yielded no chunks",
			slog.String("run_id", runID),
			slog.Int("attempt", attempt),
			slog.Int("rejected", len(parsed.Rejected)),
		)
	}
	if parsed != nil {
		sched.Rejected = rejections(parsed)
		sched.Warnings = parsed.Warnings
	}
	if parsed == nil || parsed.Empty() {
		return sched, fmt.Errorf("%w after %d attempt(s): %s", ErrNoAcceptedChunks, sched.PlanAttempts, feedback)
	}
	sched.Accepted = parsed.Accepted

	sorted, err := topology.Sort(analysis, parsed.Accepted)
	if err != nil {
		return sched, err
	}
	sched.Sorted = sorted

	builder, err := batch.NewBuilder(analysis, o.artifacts)
	if err != nil {
		return sched, err
	}
	b := builder.Build(sorted)
	sched.batch = b
	sched.Batch = BatchSummary{
		Touched:   idStrings(b.Touched),
		Affected:  len(b.Affected),
		Artifacts: idStrings(b.Artifacts),
		Levels:    b.Levels,
	}
	return sched, nil
}

// planFeedback explains an empty validation result to the planner.
func planFeedback(r *chunks.ParseResult) string {
	const maxLines = 10
	var b strings.Builder
	b.WriteString("No chunk was accepted. Use exact file paths from the brief.\n")
	n := 0
	for _, rej := range r.Rejected {
		for _, e := range rej.Errors {
			if n == maxLines {
				b.WriteString("- ...\n")
				return b.String()
			}
			fmt.Fprintf(&b, "- %v\n", e)
			n++
		}
	}
	for _, w := range r.Warnings {
		if n == maxLines {
			break
		}
		if w.Kind == chunks.WarnParse {
			fmt.Fprintf(&b, "- %s\n", w.Message)
			n++
		}
	}
	return b.String()
}

func idStrings(ids []pathid.FileID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// =============================================================================
// Run
// =============================================================================

// Run executes one full run.
//
// # Description
//
// Scheduling failures end the run before the workspace is touched. After
// Begin, every path ends in exactly one Commit or one Reset: a
// materialization failure resets immediately, a deferred check failure
// resets after attribution, and a passing batch commits once. The result is
// recorded when a Recorder is configured.
//
// # Outputs
//
//   - *OrchestrationResult: Always non-nil.
//   - error: nil on commit, otherwise the classified failure.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*OrchestrationResult, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx, span := tracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	result := &OrchestrationResult{RunID: runID, StartedAt: time.Now()}
	logger := o.logger.With(slog.String("run_id", runID))

	err := o.run(ctx, runID, req, result, logger)

	result.FinishedAt = time.Now()
	if err != nil {
		result.FailureKind = classify(ctx, err)
		result.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(result.FailureKind))
		logger.Error("run failed",
			slog.String("failure_kind", string(result.FailureKind)),
			slog.Bool("reset", result.Reset),
			slog.String("error", err.Error()),
		)
	} else {
		result.Success = true
		logger.Info("run committed",
			slog.String("commit", result.Commit),
			slog.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
		)
	}
	span.SetAttributes(
		attribute.Bool("run.success", result.Success),
		attribute.String("run.failure_kind", string(result.FailureKind)),
	)
	recordRunMetrics(ctx, result)
	o.record(ctx, result, logger)
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, runID string, req Request, result *OrchestrationResult, logger *slog.Logger) error {
	if o.materializer == nil || o.validator == nil {
		return ErrNotRunnable
	}
	sched, err := o.schedule(ctx, runID, req)
	if sched != nil {
		result.Schedule = sched
		result.Summary = sched.Summary
	}
	if err != nil {
		return err
	}
	logger.Info("run scheduled",
		slog.Int("chunks", len(sched.Accepted)),
		slog.Int("rejected", len(sched.Rejected)),
		slog.Int("levels", len(sched.Sorted.Levels)),
		slog.Int("cycle_groups", len(sched.Sorted.Groups)),
	)

	if err := o.workspace.Begin(ctx); err != nil {
		return fmt.Errorf("%w: %w", errWorkspace, err)
	}

	driver := materialize.NewDriver(o.materializer,
		materialize.WithWorkers(o.workers),
		materialize.WithLogger(logger),
	)
	stats, err := driver.Run(ctx, runID, sched.Sorted)
	result.Materialize = stats
	if err != nil {
		return o.reset(ctx, result, err)
	}

	report, err := o.validator.Validate(ctx, runID, sched.batch)
	result.Validation = report
	if err != nil {
		return o.reset(ctx, result, err)
	}

	commit, err := o.workspace.Commit(ctx, transaction.Summary{
		RunID:          runID,
		Chunks:         len(sched.Accepted),
		Levels:         len(sched.Sorted.Levels),
		Cycles:         sched.Summary.Cycles,
		RemovedPercent: sched.Summary.RemovedPercent,
	})
	switch {
	case errors.Is(err, transaction.ErrNothingToCommit):
		logger.Warn("batch passed but left no changes to commit")
	case err != nil:
		return o.reset(ctx, result, fmt.Errorf("%w: %w", errWorkspace, err))
	}
	result.Commit = commit
	return nil
}

// errWorkspace tags failures of the version-control collaborator.
var errWorkspace = errors.New("workspace")

// reset rolls the workspace back and returns cause, joined with any reset
// failure. It runs even when ctx is already canceled.
func (o *Orchestrator) reset(ctx context.Context, result *OrchestrationResult, cause error) error {
	if err := o.workspace.Reset(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(cause, fmt.Errorf("%w: reset: %w", errWorkspace, err))
	}
	result.Reset = true
	return cause
}

func (o *Orchestrator) record(ctx context.Context, result *OrchestrationResult, logger *slog.Logger) {
	if o.recorder == nil {
		return
	}
	rec, err := result.Record()
	if err == nil {
		err = o.recorder.Put(context.WithoutCancel(ctx), rec)
	}
	if err != nil {
		logger.Warn("failed to record run", slog.String("error", err.Error()))
	}
}

// classify maps an error onto the failure taxonomy.
func classify(ctx context.Context, err error) FailureKind {
	switch {
	case ctx.Err() != nil:
		return FailureCanceled
	case errors.Is(err, graph.ErrGraphInconsistency), errors.Is(err, graph.ErrNilGraph),
		errors.Is(err, topology.ErrUnknownFile):
		return FailureGraphInconsistency
	case errors.Is(err, ErrNoAcceptedChunks), errors.Is(err, ErrPlanner):
		return FailurePlanning
	case errors.Is(err, materialize.ErrMaterialization):
		return FailureMaterialization
	case errors.Is(err, deferred.ErrCheckTimeout):
		return FailureTimeout
	case errors.Is(err, deferred.ErrDeferredValidation):
		return FailureDeferredValidation
	case errors.Is(err, errWorkspace):
		return FailureWorkspace
	default:
		return FailureInternal
	}
}
