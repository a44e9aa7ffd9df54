// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

// Sentinel errors for graph analysis.
var (
	// ErrGraphInconsistency indicates an internal invariant was violated.
	// It is always fatal and aborts the run before any edit is attempted.
	ErrGraphInconsistency = errors.New("graph inconsistency")

	// ErrInvalidEdges indicates the raw edge list could not be parsed.
	ErrInvalidEdges = errors.New("invalid edge list")

	// ErrNilGraph indicates a nil graph was passed to an analysis stage.
	ErrNilGraph = errors.New("graph must not be nil")
)

// InconsistencyError describes a violated invariant between the cycle
// detector and the level assigner.
type InconsistencyError struct {
	// Stage names the analysis stage that detected the violation.
	Stage string

	// Reason is a short description of what was violated.
	Reason string

	// Files lists the nodes involved, sorted.
	Files []pathid.FileID
}

// Error implements the error interface.
func (e *InconsistencyError) Error() string {
	if len(e.Files) == 0 {
		return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
	}
	names := make([]string, 0, len(e.Files))
	for i, f := range e.Files {
		if i == 10 {
			names = append(names, fmt.Sprintf("... (%d more)", len(e.Files)-10))
			break
		}
		names = append(names, string(f))
	}
	return fmt.Sprintf("%s: %s: [%s]", e.Stage, e.Reason, strings.Join(names, ", "))
}

// Unwrap returns ErrGraphInconsistency.
func (e *InconsistencyError) Unwrap() error {
	return ErrGraphInconsistency
}
