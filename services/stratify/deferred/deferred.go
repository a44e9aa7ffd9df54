// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deferred runs the correctness checks of a run exactly once, over
// the whole batch, after every level has been materialized.
//
// The build check always runs. The regression check runs only when the
// batch transitively touched an externally observable artifact and the
// build passed. Failures are parsed into error records and attributed back
// to the chunks whose files they mention.
package deferred

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/Stratify/services/stratify/batch"
	"github.com/AleutianAI/Stratify/services/stratify/check"
	"github.com/AleutianAI/Stratify/services/stratify/chunks"
	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

var tracer = otel.Tracer("stratify.deferred")

var (
	// ErrDeferredValidation is wrapped by every failed validation.
	ErrDeferredValidation = errors.New("deferred validation failed")

	// ErrCheckTimeout marks a failure caused by a check exceeding its timeout.
	ErrCheckTimeout = errors.New("check timed out")

	// ErrNoBuildCheck indicates the validator was built without a build check.
	ErrNoBuildCheck = errors.New("build check is required")
)

// Skip reasons for the regression check.
const (
	SkipNoArtifacts   = "no externally observable artifact was touched"
	SkipBuildFailed   = "build check failed"
	SkipNotConfigured = "no regression check configured"
)

// Attribution ties one error record to the chunks that probably caused it.
type Attribution struct {
	// Error indexes Report.Errors.
	Error int `json:"error"`

	// ChunkIDs are the suspected chunks, sorted. Empty when no chunk's files
	// appear in the error.
	ChunkIDs []int `json:"chunk_ids"`
}

// Report is the outcome of deferred validation.
type Report struct {
	// Success is true only when every executed check passed.
	Success bool `json:"success"`

	// TimedOut is true when any check hit its timeout.
	TimedOut bool `json:"timed_out"`

	// Checks holds the outcome of every executed check, in run order.
	Checks []check.Outcome `json:"checks"`

	// RegressionSkipped is true when the regression check did not run.
	RegressionSkipped bool   `json:"regression_skipped"`
	SkipReason        string `json:"skip_reason,omitempty"`

	// Errors holds the extracted error records of all failed checks.
	Errors []check.ErrorRecord `json:"errors,omitempty"`

	// Attributions maps each error to suspected chunks.
	Attributions []Attribution `json:"attributions,omitempty"`

	Duration time.Duration `json:"duration"`
}

// ProbableCauses returns every chunk ID named by any attribution, sorted.
func (r *Report) ProbableCauses() []int {
	set := make(map[int]bool)
	for _, a := range r.Attributions {
		for _, id := range a.ChunkIDs {
			set[id] = true
		}
	}
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// ValidationError is returned when deferred validation fails.
type ValidationError struct {
	Report *Report
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var failed []string
	for _, c := range e.Report.Checks {
		switch {
		case c.TimedOut:
			failed = append(failed, string(c.Kind)+" (timeout)")
		case !c.Passed:
			failed = append(failed, string(c.Kind))
		}
	}
	return fmt.Sprintf("%v: %s; %d error(s), probable causes %v",
		ErrDeferredValidation, strings.Join(failed, ", "), len(e.Report.Errors), e.Report.ProbableCauses())
}

// Unwrap exposes ErrDeferredValidation and, for timeouts, ErrCheckTimeout.
func (e *ValidationError) Unwrap() []error {
	if e.Report.TimedOut {
		return []error{ErrDeferredValidation, ErrCheckTimeout}
	}
	return []error{ErrDeferredValidation}
}

// Validator runs the deferred checks.
//
// Thread Safety: Safe for concurrent use if the checkers are.
type Validator struct {
	build      check.Checker
	regression check.Checker
	norm       *pathid.Normalizer
	logger     *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithRegression sets the regression checker.
func WithRegression(c check.Checker) Option {
	return func(v *Validator) { v.regression = c }
}

// WithNormalizer sets the normalizer applied to paths in check output.
func WithNormalizer(n *pathid.Normalizer) Option {
	return func(v *Validator) {
		if n != nil {
			v.norm = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// New creates a deferred validator around a build check.
func New(build check.Checker, opts ...Option) (*Validator, error) {
	if build == nil {
		return nil, ErrNoBuildCheck
	}
	v := &Validator{
		build:  build,
		norm:   pathid.NewNormalizer(),
		logger: slog.Default().With("component", "deferred"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Validate runs the checks once over the whole batch.
//
// # Description
//
// Runs the build check, then the regression check if the batch has
// artifacts and the build passed. A check that cannot be started counts
// as a failure with one unstructured error. On any failure, the outputs
// are parsed into error records and attributed to chunks.
//
// # Outputs
//
//   - *Report: Always non-nil unless ctx was canceled.
//   - error: *ValidationError when any check failed; ctx.Err() on cancel.
func (v *Validator) Validate(ctx context.Context, runID string, b *batch.ValidationBatch) (*Report, error) {
	ctx, span := tracer.Start(ctx, "deferred.Validate",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("batch.chunks", len(b.Chunks)),
			attribute.Int("batch.touched", len(b.Touched)),
			attribute.Int("batch.artifacts", len(b.Artifacts)),
		),
	)
	defer span.End()
	start := time.Now()

	req := check.Request{
		RunID:     runID,
		Touched:   b.Touched,
		Affected:  b.Affected,
		Artifacts: b.Artifacts,
	}
	report := &Report{Success: true}

	buildOK, err := v.run(ctx, v.build, req, report)
	if err != nil {
		return nil, err
	}

	switch {
	case !b.HasArtifacts():
		report.RegressionSkipped, report.SkipReason = true, SkipNoArtifacts
	case !buildOK:
		report.RegressionSkipped, report.SkipReason = true, SkipBuildFailed
	case v.regression == nil:
		report.RegressionSkipped, report.SkipReason = true, SkipNotConfigured
		v.logger.Warn("artifacts touched but no regression check configured",
			slog.String("run_id", runID),
			slog.Int("artifacts", len(b.Artifacts)),
		)
	default:
		if _, err := v.run(ctx, v.regression, req, report); err != nil {
			return nil, err
		}
	}

	report.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Bool("deferred.success", report.Success),
		attribute.Bool("deferred.timed_out", report.TimedOut),
		attribute.Int("deferred.errors", len(report.Errors)),
	)
	if report.Success {
		return report, nil
	}

	report.Attributions = Attribute(report.Errors, b.Chunks)
	span.SetStatus(codes.Error, "deferred validation failed")
	v.logger.Warn("deferred validation failed",
		slog.String("run_id", runID),
		slog.Bool("timed_out", report.TimedOut),
		slog.Int("errors", len(report.Errors)),
		slog.Any("probable_causes", report.ProbableCauses()),
	)
	return report, &ValidationError{Report: report}
}

// run executes one checker and folds its outcome into report.
func (v *Validator) run(ctx context.Context, c check.Checker, req check.Request, report *Report) (bool, error) {
	out, err := c.Check(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		var cerr *check.CheckError
		if !errors.As(err, &cerr) {
			return false, err
		}
		out = &check.Outcome{Kind: c.Kind(), ExitCode: -1, Output: err.Error()}
	}
	report.Checks = append(report.Checks, *out)
	if out.Passed {
		return true, nil
	}

	report.Success = false
	if out.TimedOut {
		report.TimedOut = true
		report.Errors = append(report.Errors, check.ErrorRecord{
			Message: fmt.Sprintf("%s check timed out after %s", out.Kind, out.Duration.Round(time.Millisecond)),
			Raw:     out.Output,
		})
	}
	report.Errors = append(report.Errors, check.ExtractErrors(out.Output, v.norm)...)
	return false, nil
}

// Attribute maps each error record to the chunks that probably caused it.
//
// A structured record names a file; it is attributed to every chunk that
// references that file, comparing on path-segment suffixes in either
// direction so output relative to a subdirectory still matches. The raw
// text of an unstructured record is searched for each chunk's file paths,
// matching only whole paths: "src/App.js" does not match "src/App.jsx".
func Attribute(records []check.ErrorRecord, cs []chunks.Chunk) []Attribution {
	out := make([]Attribution, 0, len(records))
	mentions := make(map[pathid.FileID]*regexp.Regexp)
	for i, rec := range records {
		set := make(map[int]bool)
		for _, c := range cs {
			for _, f := range c.Files {
				var hit bool
				if rec.Structured {
					hit = f.HasSegmentSuffix(rec.File) || rec.File.HasSegmentSuffix(f)
				} else {
					re, ok := mentions[f]
					if !ok {
						re = mentionRe(f)
						mentions[f] = re
					}
					hit = re.MatchString(rec.Raw)
				}
				if hit {
					set[c.ID] = true
					break
				}
			}
		}
		ids := make([]int, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		out = append(out, Attribution{Error: i, ChunkIDs: ids})
	}
	return out
}

// mentionRe matches f as a whole path inside free text.
func mentionRe(f pathid.FileID) *regexp.Regexp {
	return regexp.MustCompile(`(^|[\s/"'(\[])` + regexp.QuoteMeta(string(f)) + `($|[\s:;"'),\]])`)
}
