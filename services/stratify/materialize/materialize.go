// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package materialize applies scheduled chunks to the workspace, strictly
// level by level.
//
// No unit of level L+1 starts until every unit at level L has finished.
// Units inside one level run concurrently on a bounded worker pool, except
// units that share a file, which run one after another in planner order.
// A cycle group is one unit: its chunks are applied sequentially by a
// single worker. The first failure cancels everything still running and
// is returned as *MaterializationError; the caller discards the batch.
package materialize

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/Stratify/services/stratify/chunks"
)

// Sentinel errors for materialization.
var (
	// ErrMaterialization is wrapped by every MaterializationError.
	ErrMaterialization = errors.New("materialization failed")

	// ErrNoPatch indicates a chunk carries no diff for a DiffMaterializer.
	ErrNoPatch = errors.New("chunk has no patch")

	// ErrUndeclaredFile indicates a patch touches a file the chunk did not declare.
	ErrUndeclaredFile = errors.New("patch touches undeclared file")

	// ErrPatchMismatch indicates a hunk does not match the current file content.
	ErrPatchMismatch = errors.New("patch does not apply")

	// ErrSyntax indicates the patched file no longer parses.
	ErrSyntax = errors.New("syntax error after patch")

	// ErrOutsideWorkspace indicates a path escapes the workspace root.
	ErrOutsideWorkspace = errors.New("path escapes workspace")
)

// Materializer applies one chunk's edits to the workspace.
//
// Implementations must be safe for concurrent calls on chunks that touch
// disjoint files.
type Materializer interface {
	Materialize(ctx context.Context, c chunks.Chunk) error
}

// MaterializerFunc adapts a function to the Materializer interface.
type MaterializerFunc func(ctx context.Context, c chunks.Chunk) error

// Materialize implements Materializer.
func (f MaterializerFunc) Materialize(ctx context.Context, c chunks.Chunk) error {
	return f(ctx, c)
}

// MaterializationError reports the chunk whose materialization failed.
type MaterializationError struct {
	// ChunkID is the failing chunk.
	ChunkID int

	// Level is the chunk level being executed.
	Level int

	// Group is the cycle group ID, or -1.
	Group int

	// Err is the cause.
	Err error
}

// Error implements the error interface.
func (e *MaterializationError) Error() string {
	if e.Group >= 0 {
		return fmt.Sprintf("chunk %d (level %d, cycle group %d): %v", e.ChunkID, e.Level, e.Group, e.Err)
	}
	return fmt.Sprintf("chunk %d (level %d): %v", e.ChunkID, e.Level, e.Err)
}

// Unwrap exposes ErrMaterialization and the cause.
func (e *MaterializationError) Unwrap() []error {
	return []error{ErrMaterialization, e.Err}
}
