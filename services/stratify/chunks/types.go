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
	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

// RawChunk is one planner entry as parsed, before any validation.
type RawChunk struct {
	// ID is the planner's number for the chunk.
	ID int `json:"id" yaml:"id"`

	// Paths are the referenced paths exactly as written.
	Paths []string `json:"files" yaml:"files"`

	// Rationale is the planner's free-text explanation.
	Rationale string `json:"rationale,omitempty" yaml:"rationale,omitempty"`

	// Patch is an optional unified diff carrying the edit itself.
	Patch string `json:"patch,omitempty" yaml:"patch,omitempty"`
}

// Chunk is a validated edit unit. Every file is a known graph node.
type Chunk struct {
	// ID is the planner's number for the chunk, unique within a plan.
	ID int `json:"id"`

	// Order is the chunk's position in the planner response.
	Order int `json:"order"`

	// Files are the resolved files, deduplicated, in planner order.
	Files []pathid.FileID `json:"files"`

	// Rationale is the planner's free-text explanation.
	Rationale string `json:"rationale,omitempty"`

	// Patch is an optional unified diff carrying the edit itself.
	Patch string `json:"patch,omitempty"`
}

// Touches reports whether the chunk references file.
func (c Chunk) Touches(file pathid.FileID) bool {
	for _, f := range c.Files {
		if f == file {
			return true
		}
	}
	return false
}

// WarningKind classifies a non-fatal validation finding.
type WarningKind string

const (
	// WarnSuffixMatch means a path was accepted through a unique suffix match.
	WarnSuffixMatch WarningKind = "suffix_match"

	// WarnSpansLevels means a chunk touches more than two distinct levels.
	WarnSpansLevels WarningKind = "spans_levels"

	// WarnPartialCycle means a chunk touches some but not all members of a cycle.
	WarnPartialCycle WarningKind = "partial_cycle"

	// WarnDuplicateID means the planner reused a chunk number.
	WarnDuplicateID WarningKind = "duplicate_id"

	// WarnParse means part of the planner response was skipped.
	WarnParse WarningKind = "parse"
)

// Warning is a non-fatal finding about one chunk.
type Warning struct {
	ChunkID int         `json:"chunk_id"`
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// RejectedChunk is a chunk dropped from the run, with every reason.
type RejectedChunk struct {
	Chunk  RawChunk           `json:"chunk"`
	Errors []*ResolutionError `json:"-"`
}

// ParseResult is the outcome of validating one planner response.
type ParseResult struct {
	// Accepted holds the chunks that passed, in planner order.
	Accepted []Chunk `json:"accepted"`

	// Rejected holds the chunks that failed resolution.
	Rejected []RejectedChunk `json:"rejected,omitempty"`

	// Warnings holds non-fatal findings, including parse warnings.
	Warnings []Warning `json:"warnings,omitempty"`
}

// Errors returns every resolution error across all rejected chunks.
func (r *ParseResult) Errors() []error {
	var out []error
	for _, rej := range r.Rejected {
		for _, e := range rej.Errors {
			out = append(out, e)
		}
	}
	return out
}

// Empty reports whether no chunk was accepted.
func (r *ParseResult) Empty() bool {
	return len(r.Accepted) == 0
}
