// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chunks

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

// Sentinel errors for chunk parsing and resolution.
var (
	// ErrChunkResolution is wrapped by every ResolutionError.
	ErrChunkResolution = errors.New("chunk resolution failed")

	// ErrUnknownPath indicates a path matched no known file.
	ErrUnknownPath = errors.New("unknown path")

	// ErrAmbiguousPath indicates a path suffix matched more than one file.
	ErrAmbiguousPath = errors.New("ambiguous path")

	// ErrEmptyChunk indicates a chunk referenced no paths at all.
	ErrEmptyChunk = errors.New("chunk references no files")

	// ErrMalformedPlan indicates structured planner output could not be decoded.
	ErrMalformedPlan = errors.New("malformed plan")
)

// ResolutionError explains why one path of one chunk was not accepted.
type ResolutionError struct {
	// ChunkID is the planner's number for the chunk.
	ChunkID int

	// Path is the path as the planner wrote it.
	Path string

	// Kind is ErrUnknownPath, ErrAmbiguousPath or ErrEmptyChunk.
	Kind error

	// Candidates lists the files an ambiguous suffix matched.
	Candidates []pathid.FileID

	// Suggestions lists close names for an unknown path.
	Suggestions []pathid.FileID
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if errors.Is(e.Kind, ErrEmptyChunk) {
		return fmt.Sprintf("chunk %d: %v", e.ChunkID, e.Kind)
	}
	msg := fmt.Sprintf("chunk %d: %v %q", e.ChunkID, e.Kind, e.Path)
	switch {
	case len(e.Candidates) > 0:
		msg += fmt.Sprintf(" (matches %s)", joinIDs(e.Candidates))
	case len(e.Suggestions) > 0:
		msg += fmt.Sprintf(" (did you mean %s?)", joinIDs(e.Suggestions))
	}
	return msg
}

// Unwrap exposes both ErrChunkResolution and the specific kind.
func (e *ResolutionError) Unwrap() []error {
	return []error{ErrChunkResolution, e.Kind}
}

func joinIDs(ids []pathid.FileID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
