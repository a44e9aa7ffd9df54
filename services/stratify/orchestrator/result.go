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
	"encoding/json"
	"time"

	"github.com/AleutianAI/Stratify/services/stratify/batch"
	"github.com/AleutianAI/Stratify/services/stratify/chunks"
	"github.com/AleutianAI/Stratify/services/stratify/deferred"
	"github.com/AleutianAI/Stratify/services/stratify/graph"
	"github.com/AleutianAI/Stratify/services/stratify/history"
	"github.com/AleutianAI/Stratify/services/stratify/materialize"
	"github.com/AleutianAI/Stratify/services/stratify/topology"
)

// FailureKind classifies how a run ended.
type FailureKind string

const (
	// FailureNone marks a committed run.
	FailureNone FailureKind = ""

	// FailureGraphInconsistency means analysis failed before any edit.
	FailureGraphInconsistency FailureKind = "graph_inconsistency"

	// FailurePlanning means no attempt produced an acceptable chunk.
	FailurePlanning FailureKind = "planning"

	// FailureWorkspace means the version-control step failed.
	FailureWorkspace FailureKind = "workspace"

	// FailureMaterialization means a chunk could not be applied.
	FailureMaterialization FailureKind = "materialization"

	// FailureDeferredValidation means a deferred check failed.
	FailureDeferredValidation FailureKind = "deferred_validation"

	// FailureTimeout means a deferred check hit its timeout.
	FailureTimeout FailureKind = "timeout"

	// FailureCanceled means the run's context ended first.
	FailureCanceled FailureKind = "canceled"

	// FailureInternal covers anything unclassified.
	FailureInternal FailureKind = "internal"
)

// Rejection is a dropped chunk in reportable form.
type Rejection struct {
	ChunkID int      `json:"chunk_id"`
	Paths   []string `json:"paths"`
	Reasons []string `json:"reasons"`
}

func rejections(r *chunks.ParseResult) []Rejection {
	out := make([]Rejection, 0, len(r.Rejected))
	for _, rej := range r.Rejected {
		reasons := make([]string, len(rej.Errors))
		for i, e := range rej.Errors {
			reasons[i] = e.Error()
		}
		out = append(out, Rejection{ChunkID: rej.Chunk.ID, Paths: rej.Chunk.Paths, Reasons: reasons})
	}
	return out
}

// Schedule is everything decided before the workspace is touched.
type Schedule struct {
	RunID        string               `json:"run_id"`
	Summary      graph.Summary        `json:"summary"`
	PlanAttempts int                  `json:"plan_attempts"`
	Accepted     []chunks.Chunk       `json:"accepted"`
	Rejected     []Rejection          `json:"rejected,omitempty"`
	Warnings     []chunks.Warning     `json:"warnings,omitempty"`
	Sorted       *topology.SortResult `json:"sorted"`
	Batch        BatchSummary         `json:"batch"`

	analysis *graph.AnalysisResult
	batch    *batch.ValidationBatch
}

// Analysis returns the analysis the schedule was built from.
func (s *Schedule) Analysis() *graph.AnalysisResult {
	return s.analysis
}

// BatchSummary is the reportable part of a ValidationBatch.
type BatchSummary struct {
	Touched   []string `json:"touched"`
	Affected  int      `json:"affected"`
	Artifacts []string `json:"artifacts,omitempty"`
	Levels    int      `json:"levels"`
}

// OrchestrationResult is the single outcome of a run: one whole-batch
// commit, or one whole-batch reset with a report.
type OrchestrationResult struct {
	RunID       string        `json:"run_id"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Success     bool          `json:"success"`
	FailureKind FailureKind   `json:"failure_kind,omitempty"`
	Error       string        `json:"error,omitempty"`
	Summary     graph.Summary `json:"summary"`

	Schedule    *Schedule          `json:"schedule,omitempty"`
	Materialize *materialize.Stats `json:"materialize,omitempty"`
	Validation  *deferred.Report   `json:"validation,omitempty"`

	// Commit is the commit ID on success, empty for a no-op workspace.
	Commit string `json:"commit,omitempty"`

	// Reset is true when the workspace was rolled back.
	Reset bool `json:"reset"`
}

// ProbableCauses returns the chunk IDs blamed by deferred validation.
func (r *OrchestrationResult) ProbableCauses() []int {
	if r.Validation == nil {
		return nil
	}
	return r.Validation.ProbableCauses()
}

// Record converts the result for the history store.
func (r *OrchestrationResult) Record() (*history.Record, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	rec := &history.Record{
		RunID:       r.RunID,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Success:     r.Success,
		FailureKind: string(r.FailureKind),
		Commit:      r.Commit,
		Cycles:      r.Summary.Cycles,
		Result:      payload,
	}
	if r.Schedule != nil {
		rec.Chunks = len(r.Schedule.Accepted)
		if r.Schedule.Sorted != nil {
			rec.Levels = len(r.Schedule.Sorted.Levels)
		}
	}
	return rec, nil
}
