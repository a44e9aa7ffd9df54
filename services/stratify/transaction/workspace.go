// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transaction brackets a run with a version-control transaction.
//
// A run calls Begin before the first chunk lands and ends with exactly one
// of Commit or Reset. Commit records the whole batch as one commit; Reset
// restores the workspace to the state recorded by Begin.
package transaction

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotRepository indicates the workspace root is not a git repository.
	ErrNotRepository = errors.New("workspace is not a git repository")

	// ErrDirtyWorkspace indicates uncommitted changes exist before Begin.
	ErrDirtyWorkspace = errors.New("workspace has uncommitted changes")

	// ErrOperationInProgress indicates a merge, rebase or similar is underway.
	ErrOperationInProgress = errors.New("git operation in progress")

	// ErrNotBegun indicates Commit or Reset was called without Begin.
	ErrNotBegun = errors.New("transaction not begun")

	// ErrNothingToCommit indicates the batch left no changes behind.
	ErrNothingToCommit = errors.New("nothing to commit")
)

// Summary describes the batch being committed.
type Summary struct {
	RunID          string
	Chunks         int
	Levels         int
	Cycles         int
	RemovedPercent float64
}

// Message renders the commit message for the batch.
func (s Summary) Message() string {
	return fmt.Sprintf("stratify: apply %d chunks across %d levels\n\nRun: %s\nCycles: %d\nRedundant edges removed: %.1f%%\n",
		s.Chunks, s.Levels, s.RunID, s.Cycles, s.RemovedPercent)
}

// Workspace is the version-control collaborator of a run.
type Workspace interface {
	// Begin records the base state. It fails if the workspace cannot be
	// restored exactly later.
	Begin(ctx context.Context) error

	// Commit records every change since Begin as one commit and returns its ID.
	Commit(ctx context.Context, s Summary) (string, error)

	// Reset discards every change since Begin.
	Reset(ctx context.Context) error
}

// NoopWorkspace leaves the working tree alone. Used for dry runs and for
// workspaces that are not under version control.
type NoopWorkspace struct{}

// Begin implements Workspace.
func (NoopWorkspace) Begin(context.Context) error { return nil }

// Commit implements Workspace.
func (NoopWorkspace) Commit(context.Context, Summary) (string, error) { return "", nil }

// Reset implements Workspace.
func (NoopWorkspace) Reset(context.Context) error { return nil }
