// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/Stratify/services/stratify/graph"
	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

// BriefOptions bounds how much of the analysis goes into a brief.
type BriefOptions struct {
	// Goal is the change the planner should split into chunks.
	Goal string

	// CriticalFiles is how many top-ranked files to list. Default 15.
	CriticalFiles int

	// MaxCycles caps the cycles listed. Default 20.
	MaxCycles int

	// MaxLevelFiles caps the files shown per level. Default 12.
	MaxLevelFiles int
}

func (o BriefOptions) withDefaults() BriefOptions {
	if o.CriticalFiles <= 0 {
		o.CriticalFiles = 15
	}
	if o.MaxCycles <= 0 {
		o.MaxCycles = 20
	}
	if o.MaxLevelFiles <= 0 {
		o.MaxLevelFiles = 12
	}
	return o
}

// Brief renders the planning brief handed to the planner.
//
// # Description
//
// The brief lists the most depended-on files, every detected cycle and the
// level layout, then states the two rules a good plan follows: files of one
// cycle belong in the same chunk, and chunks should not mix distant levels.
// The rules are advisory; the validator and sorter enforce correctness
// regardless of what the planner returns.
//
// # Outputs
//
//   - string: Plain text, stable for a given analysis and options.
func Brief(a *graph.AnalysisResult, opts BriefOptions) string {
	opts = opts.withDefaults()
	s := a.Summary()

	var b strings.Builder
	if opts.Goal != "" {
		fmt.Fprintf(&b, "## Goal\n\n%s\n\n", strings.TrimSpace(opts.Goal))
	}

	fmt.Fprintf(&b, "## Repository\n\n")
	fmt.Fprintf(&b, "- Files: %d\n", s.Files)
	fmt.Fprintf(&b, "- Dependency edges: %d (%d after removing %.1f%% redundant edges)\n",
		s.Edges, s.ReducedEdges, s.RemovedPercent)
	fmt.Fprintf(&b, "- Levels: %d (level 0 has no dependencies)\n", s.Levels)
	fmt.Fprintf(&b, "- Cycles: %d\n\n", s.Cycles)

	if critical := a.CriticalFiles(opts.CriticalFiles); len(critical) > 0 {
		b.WriteString("## Critical files\n\n")
		for _, c := range critical {
			marker := ""
			if c.Cyclic {
				marker = ", in a cycle"
			}
			fmt.Fprintf(&b, "- %s (%d dependents, level %d%s)\n", c.File, c.Dependents, c.Level, marker)
		}
		b.WriteString("\n")
	}

	if cycles := a.Cycles(); len(cycles) > 0 {
		b.WriteString("## Cycles\n\n")
		for i, c := range cycles {
			if i == opts.MaxCycles {
				fmt.Fprintf(&b, "- ... and %d more\n", len(cycles)-i)
				break
			}
			fmt.Fprintf(&b, "- cycle %d: %s\n", c.ID, joinIDs(c.Members, ", "))
		}
		b.WriteString("\n")
	}

	if levels := a.Levels(); len(levels) > 0 {
		b.WriteString("## Levels\n\n")
		for _, l := range levels {
			files := l.Files
			more := ""
			if len(files) > opts.MaxLevelFiles {
				more = fmt.Sprintf(" ... (+%d)", len(files)-opts.MaxLevelFiles)
				files = files[:opts.MaxLevelFiles]
			}
			fmt.Fprintf(&b, "- level %d: %s%s\n", l.Index, joinIDs(files, ", "), more)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Instructions\n\n")
	b.WriteString("Split the change into chunks. For each chunk give an id, the exact file paths it\n")
	b.WriteString("edits (as listed above) and a one-line rationale. Respond with a JSON array of\n")
	b.WriteString(`{"id": N, "files": [...], "rationale": "..."}` + " objects.\n\n")
	b.WriteString("- Keep every file of a cycle in the same chunk.\n")
	b.WriteString("- Keep each chunk within one level, or two adjacent levels at most.\n")
	b.WriteString("- Chunks are applied from level 0 upward; lower levels land first.\n")
	return b.String()
}

func joinIDs(ids []pathid.FileID, sep string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, sep)
}
