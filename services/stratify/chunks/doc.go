// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chunks turns untrusted planner output into validated edit units.
//
// ParsePlan reads the planner's free-form response (JSON, YAML or a loose
// Markdown layout) into RawChunks without judging them. Validator is the
// trust boundary: every referenced path is normalized and resolved against
// the graph analysis, by exact match first and then by a unique path-suffix
// match. A chunk with any unresolved or ambiguous path is rejected as a
// whole; the rest of the run proceeds without it.
package chunks
