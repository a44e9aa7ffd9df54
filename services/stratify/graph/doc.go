// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph builds and analyzes file dependency graphs.
//
// The analysis pipeline is pure and single-threaded:
//
//	raw edges → Builder → Reduce → DetectCycles → AssignLevels → AnalysisResult
//
// An edge (A, B) means "A depends on B": the correctness of A depends on the
// current state of B. Level 0 therefore holds files with no outgoing
// dependencies, and every non-cyclic dependency of a file lives at a strictly
// lower level than the file itself. Members of one cycle share a level.
//
// Files that nobody depends on are reported separately (Unreferenced); they
// are not the same thing as level 0.
//
// # Determinism
//
// Nodes are always iterated in lexical FileID order and successor lists are
// sorted, so reduction, cycle detection and leveling produce identical output
// for identical input.
//
// # Thread Safety
//
// Graph and AnalysisResult are immutable once built and safe for concurrent
// reads. Builder is not safe for concurrent use.
package graph
