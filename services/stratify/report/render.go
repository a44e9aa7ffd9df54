// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AleutianAI/Stratify/services/stratify/graph"
	"github.com/AleutianAI/Stratify/services/stratify/history"
	"github.com/AleutianAI/Stratify/services/stratify/orchestrator"
)

// maxErrors bounds the error records printed for a failed validation.
const maxErrors = 10

// Analysis renders a graph analysis with its critical files.
func (r *Renderer) Analysis(a *graph.AnalysisResult, critical int) {
	s := a.Summary()
	r.title("Dependency analysis")
	r.boxed([]string{
		fmt.Sprintf("%d files, %d edges (%d after reduction, %.1f%% redundant)",
			s.Files, s.Edges, s.ReducedEdges, s.RemovedPercent),
		fmt.Sprintf("%d levels, %d cycles (largest %d)", s.Levels, s.Cycles, s.LargestCycle),
		fmt.Sprintf("%d files nobody depends on", s.Unreferenced),
	})
	if s.SelfEdges > 0 || s.DuplicateEdges > 0 {
		r.printf("%s\n", r.st.muted.Render(fmt.Sprintf(
			"dropped %d self edges and %d duplicate edges", s.SelfEdges, s.DuplicateEdges)))
	}

	if cycles := a.Cycles(); len(cycles) > 0 {
		r.heading("Cycles")
		for _, c := range cycles {
			r.printf("  %s %s\n", r.st.warning.Render(fmt.Sprintf("#%d (%d files)", c.ID, c.Size())),
				r.list(toStrings(c.Members)))
		}
	}

	r.heading("Levels")
	for _, l := range a.Levels() {
		label := fmt.Sprintf("L%d", l.Index)
		if len(l.Cycles) > 0 {
			label += r.st.muted.Render(" cycles " + intsString(l.Cycles))
		}
		r.printf("  %s %s\n", r.st.label.Render(label), r.list(toStrings(l.Files)))
	}

	if critical > 0 {
		if files := a.CriticalFiles(critical); len(files) > 0 {
			r.heading("Critical files")
			for _, f := range files {
				line := fmt.Sprintf("%-4d %s", f.Dependents, f.File)
				if f.Cyclic {
					line += r.st.warning.Render(" (cycle)")
				}
				r.printf("  %s %s\n", line, r.st.muted.Render(fmt.Sprintf("L%d", f.Level)))
			}
		}
	}
}

// Schedule renders the planned execution order.
func (r *Renderer) Schedule(s *orchestrator.Schedule) {
	r.title("Schedule " + s.RunID)
	r.field("plan attempts", s.PlanAttempts)
	r.field("accepted chunks", len(s.Accepted))
	if len(s.Rejected) > 0 {
		r.field("rejected chunks", r.st.warning.Render(fmt.Sprintf("%d", len(s.Rejected))))
	}

	if s.Sorted != nil {
		r.heading("Execution order")
		for _, lvl := range s.Sorted.Levels {
			r.printf("  %s\n", r.st.label.Render(fmt.Sprintf("Level %d", lvl.Level)))
			for _, u := range lvl.Units {
				for _, c := range u.Chunks {
					prefix := "    "
					if u.IsCycleGroup() {
						prefix += r.st.warning.Render(fmt.Sprintf("[group %d] ", u.Group))
					}
					r.printf("%schunk %d: %s\n", prefix, c.ID, r.list(toStrings(c.Files)))
				}
			}
		}
	}

	if len(s.Rejected) > 0 {
		r.heading("Rejected")
		for _, rej := range s.Rejected {
			r.printf("  chunk %d: %s\n", rej.ChunkID, r.list(rej.Paths))
			for _, reason := range rej.Reasons {
				r.printf("    %s\n", r.st.failure.Render(reason))
			}
		}
	}
	if len(s.Warnings) > 0 {
		r.heading("Warnings")
		for _, w := range s.Warnings {
			r.printf("  %s chunk %d: %s\n", r.st.warning.Render(string(w.Kind)), w.ChunkID, w.Message)
		}
	}

	b := s.Batch
	r.heading("Validation batch")
	r.field("touched", len(b.Touched))
	r.field("affected", b.Affected)
	if len(b.Artifacts) > 0 {
		r.field("artifacts", r.list(b.Artifacts))
	} else {
		r.field("artifacts", r.st.muted.Render("none, regression check skipped"))
	}
}

// Result renders the outcome of a run.
func (r *Renderer) Result(res *orchestrator.OrchestrationResult) {
	r.title("Run " + res.RunID)
	if res.Success {
		msg := "committed"
		if res.Commit != "" {
			msg += " " + res.Commit
		}
		r.printf("  %s\n", r.status(true, msg, ""))
	} else {
		msg := fmt.Sprintf("failed (%s)", res.FailureKind)
		if res.Reset {
			msg += ", workspace reset"
		}
		r.printf("  %s\n", r.status(false, "", msg))
		r.printf("  %s\n", res.Error)
	}
	r.field("duration", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))

	if res.Schedule != nil {
		r.field("chunks", len(res.Schedule.Accepted))
		if res.Schedule.Sorted != nil {
			r.field("levels", len(res.Schedule.Sorted.Levels))
		}
	}
	if m := res.Materialize; m != nil {
		label := "applied"
		if res.Reset {
			label = "materialized before reset"
		}
		r.field(label, fmt.Sprintf("%d chunks in %d units over %d levels", m.ChunksApplied, m.UnitsApplied, m.LevelsRun))
	}

	v := res.Validation
	if v == nil {
		return
	}
	r.heading("Deferred validation")
	for _, o := range v.Checks {
		text := fmt.Sprintf("%s (%s)", o.Kind, o.Duration.Round(time.Millisecond))
		fail := text
		if o.TimedOut {
			fail += " timed out"
		} else {
			fail += fmt.Sprintf(" exit %d", o.ExitCode)
		}
		r.printf("  %s\n", r.status(o.Passed, text, fail))
	}
	if v.RegressionSkipped && v.SkipReason != "" {
		r.printf("  %s\n", r.st.muted.Render("regression skipped: "+v.SkipReason))
	}
	for i, e := range v.Errors {
		if i == maxErrors {
			r.printf("  %s\n", r.st.muted.Render(fmt.Sprintf("… and %d more errors", len(v.Errors)-maxErrors)))
			break
		}
		loc := "(no location)"
		if e.File != "" {
			loc = fmt.Sprintf("%s:%d", e.File, e.Line)
		}
		r.printf("  %s %s\n", r.st.label.Render(loc), e.Message)
	}
	if causes := res.ProbableCauses(); len(causes) > 0 {
		r.printf("  %s %s\n", r.st.failure.Render("probable cause: chunks"), intsString(causes))
	}
}

// Runs renders a history listing.
func (r *Renderer) Runs(records []history.Record) {
	if len(records) == 0 {
		r.printf("%s\n", r.st.muted.Render("no runs recorded"))
		return
	}
	r.title("Runs")
	for _, rec := range records {
		state := r.st.success.Render("ok    ")
		if !rec.Success {
			state = r.st.failure.Render(fmt.Sprintf("%-6s", "fail"))
		}
		detail := fmt.Sprintf("%d chunks, %d levels", rec.Chunks, rec.Levels)
		if rec.FailureKind != "" {
			detail += ", " + rec.FailureKind
		}
		r.printf("  %s %s  %s  %s\n", state, rec.StartedAt.Format(time.RFC3339), rec.RunID, r.st.muted.Render(detail))
	}
}

// Record renders one stored run, using its full result when present.
func (r *Renderer) Record(rec *history.Record) error {
	if len(rec.Result) > 0 {
		var res orchestrator.OrchestrationResult
		if err := json.Unmarshal(rec.Result, &res); err != nil {
			return fmt.Errorf("decode run %s: %w", rec.RunID, err)
		}
		r.Result(&res)
		return nil
	}
	r.Runs([]history.Record{*rec})
	return nil
}
