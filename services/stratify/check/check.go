// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package check runs the external correctness checks of a run and turns
// their textual output into error records.
//
// Only pass/fail and the raw output of a check are consumed. A check that
// exceeds its timeout is a failure with TimedOut set, never a pass.
package check

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

// Kind names a check.
type Kind string

const (
	// KindBuild is the build/compile check. It always runs.
	KindBuild Kind = "build"

	// KindRegression is the visual/behavioral regression check. It runs only
	// when externally observable artifacts were touched.
	KindRegression Kind = "regression"
)

// Sentinel errors for check execution.
var (
	// ErrCheckUnavailable indicates the check command could not be started.
	ErrCheckUnavailable = errors.New("check could not be started")

	// ErrNoCommand indicates a CommandChecker was built without a command.
	ErrNoCommand = errors.New("check command is empty")
)

// Request is what a check is asked to verify.
type Request struct {
	// RunID identifies the run, for logs and the child environment.
	RunID string

	// Touched holds every file edited by the batch.
	Touched []pathid.FileID

	// Affected holds Touched plus their transitive dependents.
	Affected []pathid.FileID

	// Artifacts holds the externally observable affected files.
	Artifacts []pathid.FileID
}

// Outcome is the result of one check invocation.
type Outcome struct {
	Kind     Kind          `json:"kind"`
	Passed   bool          `json:"passed"`
	TimedOut bool          `json:"timed_out,omitempty"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Checker runs one external check over a whole batch.
//
// Check returns an Outcome whenever the check ran, including failures and
// timeouts. A non-nil error means the check could not be run at all or ctx
// was canceled.
type Checker interface {
	Kind() Kind
	Check(ctx context.Context, req Request) (*Outcome, error)
}

// CheckError wraps a check that could not be run.
type CheckError struct {
	Kind    Kind
	Command string
	Err     error
}

// Error implements the error interface.
func (e *CheckError) Error() string {
	return fmt.Sprintf("%s check %q: %v", e.Kind, e.Command, e.Err)
}

// Unwrap returns the underlying error.
func (e *CheckError) Unwrap() error {
	return e.Err
}
