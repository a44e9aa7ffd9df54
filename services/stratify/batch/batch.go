// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch computes the footprint of one run.
//
// A ValidationBatch is built once after every level has been materialized,
// consumed once by the deferred validator, and discarded.
package batch

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar"

	"github.com/AleutianAI/Stratify/services/stratify/chunks"
	"github.com/AleutianAI/Stratify/services/stratify/graph"
	"github.com/AleutianAI/Stratify/services/stratify/pathid"
	"github.com/AleutianAI/Stratify/services/stratify/topology"
)

// ErrBadPattern indicates an artifact pattern is not a valid glob.
var ErrBadPattern = errors.New("invalid artifact pattern")

// ValidationBatch is the complete footprint of one run.
type ValidationBatch struct {
	// Chunks holds every scheduled chunk in execution order.
	Chunks []chunks.Chunk `json:"chunks"`

	// Touched holds every file referenced by any chunk, sorted.
	Touched []pathid.FileID `json:"touched"`

	// Affected holds Touched plus every transitive dependent, sorted.
	Affected []pathid.FileID `json:"affected"`

	// Artifacts holds the affected files that are externally observable
	// (they match an artifact pattern), sorted.
	Artifacts []pathid.FileID `json:"artifacts,omitempty"`

	// Levels is the number of chunk levels that were executed.
	Levels int `json:"levels"`
}

// HasArtifacts reports whether any externally observable artifact was
// transitively touched.
func (b *ValidationBatch) HasArtifacts() bool {
	return len(b.Artifacts) > 0
}

// Builder computes batches against one analysis.
//
// Thread Safety: Safe for concurrent use after construction.
type Builder struct {
	analysis *graph.AnalysisResult
	patterns []string
}

// NewBuilder creates a batch builder. patterns are doublestar globs
// ("web/**/*.tsx", "public/**") naming externally observable files.
func NewBuilder(analysis *graph.AnalysisResult, patterns []string) (*Builder, error) {
	for _, p := range patterns {
		// Matching a pattern against itself walks every segment, so a
		// malformed class or escape surfaces here instead of mid-run.
		if _, err := doublestar.Match(p, p); err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrBadPattern, p, err)
		}
	}
	return &Builder{analysis: analysis, patterns: patterns}, nil
}

// IsArtifact reports whether file matches any artifact pattern.
func (b *Builder) IsArtifact(file pathid.FileID) bool {
	for _, p := range b.patterns {
		if ok, _ := doublestar.Match(p, string(file)); ok {
			return true
		}
	}
	return false
}

// Build computes the footprint of the scheduled chunks.
//
// Touched files are expanded through the reverse-dependency closure: a file
// is affected when it is touched or when anything it transitively depends
// on is touched.
func (b *Builder) Build(sorted *topology.SortResult) *ValidationBatch {
	out := &ValidationBatch{
		Chunks: sorted.Order(),
		Levels: len(sorted.Levels),
	}

	touched := make(map[pathid.FileID]bool)
	for _, c := range out.Chunks {
		for _, f := range c.Files {
			touched[f] = true
		}
	}
	affected := make(map[pathid.FileID]bool, len(touched))
	for f := range touched {
		affected[f] = true
		for _, d := range b.analysis.TransitiveDependents(f) {
			affected[d] = true
		}
	}

	out.Touched = sortedIDs(touched)
	out.Affected = sortedIDs(affected)
	for _, f := range out.Affected {
		if b.IsArtifact(f) {
			out.Artifacts = append(out.Artifacts, f)
		}
	}
	return out
}

func sortedIDs(set map[pathid.FileID]bool) []pathid.FileID {
	out := make([]pathid.FileID, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
