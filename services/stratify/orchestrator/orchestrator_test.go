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
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Stratify/services/stratify/check"
	"github.com/AleutianAI/Stratify/services/stratify/chunks"
	"github.com/AleutianAI/Stratify/services/stratify/deferred"
	"github.com/AleutianAI/Stratify/services/stratify/graph"
	"github.com/AleutianAI/Stratify/services/stratify/history"
	"github.com/AleutianAI/Stratify/services/stratify/materialize"
	"github.com/AleutianAI/Stratify/services/stratify/pathid"
	"github.com/AleutianAI/Stratify/services/stratify/transaction"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeWorkspace struct {
	mu        sync.Mutex
	began     int
	committed []transaction.Summary
	resets    int
	beginErr  error
	commitErr error
}

func (w *fakeWorkspace) Begin(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.began++
	return w.beginErr
}

func (w *fakeWorkspace) Commit(_ context.Context, s transaction.Summary) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.commitErr != nil {
		return "", w.commitErr
	}
	w.committed = append(w.committed, s)
	return "c0ffee", nil
}

func (w *fakeWorkspace) Reset(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resets++
	return nil
}

type fakeMaterializer struct {
	mu      sync.Mutex
	applied []int
	fail    map[int]error
	hook    func(chunks.Chunk)
}

func (m *fakeMaterializer) Materialize(_ context.Context, c chunks.Chunk) error {
	if m.hook != nil {
		m.hook(c)
	}
	if err := m.fail[c.ID]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, c.ID)
	return nil
}

type fakeChecker struct {
	outcome check.Outcome
	calls   int
}

func (f *fakeChecker) Kind() check.Kind { return check.KindBuild }

func (f *fakeChecker) Check(context.Context, check.Request) (*check.Outcome, error) {
	f.calls++
	out := f.outcome
	out.Kind = check.KindBuild
	return &out, nil
}

type memRecorder struct {
	records []*history.Record
}

func (r *memRecorder) Put(_ context.Context, rec *history.Record) error {
	r.records = append(r.records, rec)
	return nil
}

// Levels: 0 = a.go, 1 = b.go c.go.
func testGraph() *graph.Graph {
	return graph.FromEdges([]graph.Edge{
		{From: "b.go", To: "a.go"},
		{From: "c.go", To: "a.go"},
	})
}

const goodPlan = `[
  {"id": 1, "files": ["b.go", "c.go"], "rationale": "callers"},
  {"id": 2, "files": ["a.go"], "rationale": "base"}
]`

type harness struct {
	ws      *fakeWorkspace
	m       *fakeMaterializer
	checker *fakeChecker
	rec     *memRecorder
	orch    *Orchestrator
}

func newHarness(t *testing.T, p Planner, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		ws:      &fakeWorkspace{},
		m:       &fakeMaterializer{},
		checker: &fakeChecker{outcome: check.Outcome{Passed: true}},
		rec:     &memRecorder{},
	}
	v, err := deferred.New(h.checker, deferred.WithNormalizer(pathid.NewNormalizer(pathid.WithCaseFolding(false))))
	require.NoError(t, err)
	opts = append([]Option{
		WithWorkspace(h.ws),
		WithRecorder(h.rec),
		WithNormalizer(pathid.NewNormalizer(pathid.WithCaseFolding(false))),
	}, opts...)
	h.orch, err = New(p, h.m, v, opts...)
	require.NoError(t, err)
	return h
}

// =============================================================================
// Tests
// =============================================================================

func TestRun_CommitsWholeBatchOnce(t *testing.T) {
	h := newHarness(t, StaticPlanner{Text: goodPlan})

	res, err := h.orch.Run(context.Background(), Request{Graph: testGraph(), Goal: "rename"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, FailureNone, res.FailureKind)
	assert.Equal(t, "c0ffee", res.Commit)
	assert.False(t, res.Reset)
	assert.NotEmpty(t, res.RunID)

	// Level 0 chunk lands before the level 1 chunk despite planner order.
	assert.Equal(t, []int{2, 1}, h.m.applied)
	assert.Equal(t, 1, h.ws.began)
	require.Len(t, h.ws.committed, 1)
	assert.Equal(t, 0, h.ws.resets)
	assert.Equal(t, 2, h.ws.committed[0].Chunks)
	assert.Equal(t, 2, h.ws.committed[0].Levels)
	assert.Equal(t, 1, h.checker.calls)

	require.Len(t, h.rec.records, 1)
	assert.True(t, h.rec.records[0].Success)
	assert.Equal(t, res.RunID, h.rec.records[0].RunID)
	assert.Equal(t, 2, h.rec.records[0].Chunks)
}

func TestRun_MaterializationFailureResets(t *testing.T) {
	h := newHarness(t, StaticPlanner{Text: goodPlan})
	h.m.fail = map[int]error{2: materialize.ErrPatchMismatch}

	res, err := h.orch.Run(context.Background(), Request{Graph: testGraph()})
	require.Error(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, FailureMaterialization, res.FailureKind)
	assert.True(t, res.Reset)
	assert.Equal(t, 1, h.ws.resets)
	assert.Empty(t, h.ws.committed)
	assert.Equal(t, 0, h.checker.calls, "no check runs before the batch is complete")
	assert.Empty(t, h.m.applied, "level 1 never starts after a level 0 failure")

	var merr *materialize.MaterializationError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, 2, merr.ChunkID)
}

func TestRun_DeferredFailureAttributesAndResets(t *testing.T) {
	h := newHarness(t, StaticPlanner{Text: goodPlan})
	h.checker.outcome = check.Outcome{ExitCode: 2, Output: "b.go:3:5: undefined: Thing\n"}

	res, err := h.orch.Run(context.Background(), Request{Graph: testGraph()})
	require.Error(t, err)
	assert.ErrorIs(t, err, deferred.ErrDeferredValidation)

	assert.Equal(t, FailureDeferredValidation, res.FailureKind)
	assert.True(t, res.Reset)
	assert.Empty(t, h.ws.committed)
	assert.Equal(t, []int{2, 1}, h.m.applied, "every chunk lands before validation")
	assert.Equal(t, []int{1}, res.ProbableCauses())
	assert.False(t, h.rec.records[0].Success)
	assert.Equal(t, string(FailureDeferredValidation), h.rec.records[0].FailureKind)
}

func TestRun_TimeoutIsDistinct(t *testing.T) {
	h := newHarness(t, StaticPlanner{Text: goodPlan})
	h.checker.outcome = check.Outcome{TimedOut: true, ExitCode: -1}

	res, err := h.orch.Run(context.Background(), Request{Graph: testGraph()})
	require.Error(t, err)
	assert.ErrorIs(t, err, deferred.ErrCheckTimeout)
	assert.Equal(t, FailureTimeout, res.FailureKind)
	assert.True(t, res.Reset)
}

func TestRun_GraphFailureTouchesNothing(t *testing.T) {
	h := newHarness(t, StaticPlanner{Text: goodPlan})

	res, err := h.orch.Run(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, FailureGraphInconsistency, res.FailureKind)
	assert.Equal(t, 0, h.ws.began)
	assert.False(t, res.Reset)
	assert.Empty(t, h.m.applied)
}

func TestRun_RetriesPlanningWithFeedback(t *testing.T) {
	var requests []PlanRequest
	p := PlannerFunc(func(_ context.Context, req PlanRequest) (string, error) {
		requests = append(requests, req)
		if req.Attempt == 1 {
			return `[{"id": 1, "files": ["nowhere.go"]}]`, nil
		}
		return goodPlan, nil
	})
	h := newHarness(t, p)

	res, err := h.orch.Run(context.Background(), Request{Graph: testGraph()})
	require.NoError(t, err)

	require.Len(t, requests, 2)
	assert.Empty(t, requests[0].Feedback)
	assert.Contains(t, requests[1].Feedback, "nowhere.go")
	assert.Contains(t, requests[1].Prompt(), "## Previous attempt")
	assert.Equal(t, 2, res.Schedule.PlanAttempts)
}

func TestRun_PlanningExhausted(t *testing.T) {
	calls := 0
	p := PlannerFunc(func(context.Context, PlanRequest) (string, error) {
		calls++
		return "I would rather not.", nil
	})
	h := newHarness(t, p, WithMaxPlanAttempts(2))

	res, err := h.orch.Run(context.Background(), Request{Graph: testGraph()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAcceptedChunks)
	assert.Equal(t, FailurePlanning, res.FailureKind)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, h.ws.began)
}

func TestRun_PlannerErrorsAreRetried(t *testing.T) {
	p := PlannerFunc(func(_ context.Context, req PlanRequest) (string, error) {
		if req.Attempt == 1 {
			return "", errors.New("model overloaded")
		}
		return goodPlan, nil
	})
	h := newHarness(t, p)

	res, err := h.orch.Run(context.Background(), Request{Graph: testGraph()})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestRun_RejectedChunksAreReported(t *testing.T) {
	plan := `[
  {"id": 1, "files": ["a.go"]},
  {"id": 2, "files": ["ghost.go"]}
]`
	h := newHarness(t, StaticPlanner{Text: plan})

	res, err := h.orch.Run(context.Background(), Request{Graph: testGraph()})
	require.NoError(t, err)
	require.Len(t, res.Schedule.Rejected, 1)
	assert.Equal(t, 2, res.Schedule.Rejected[0].ChunkID)
	assert.Equal(t, []int{1}, h.m.applied)
}

func TestRun_CanceledMidBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, StaticPlanner{Text: goodPlan}, WithWorkers(1))
	h.m.hook = func(c chunks.Chunk) {
		if c.ID == 2 {
			cancel()
		}
	}

	res, err := h.orch.Run(ctx, Request{Graph: testGraph()})
	require.Error(t, err)
	assert.Equal(t, FailureCanceled, res.FailureKind)
	assert.True(t, res.Reset)
	assert.Empty(t, h.ws.committed)
}

func TestRun_BeginFailure(t *testing.T) {
	h := newHarness(t, StaticPlanner{Text: goodPlan})
	h.ws.beginErr = transaction.ErrDirtyWorkspace

	res, err := h.orch.Run(context.Background(), Request{Graph: testGraph()})
	require.Error(t, err)
	assert.ErrorIs(t, err, transaction.ErrDirtyWorkspace)
	assert.Equal(t, FailureWorkspace, res.FailureKind)
	assert.Empty(t, h.m.applied)
}

func TestRun_NothingToCommitStillSucceeds(t *testing.T) {
	h := newHarness(t, StaticPlanner{Text: goodPlan})
	h.ws.commitErr = transaction.ErrNothingToCommit

	res, err := h.orch.Run(context.Background(), Request{Graph: testGraph()})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Commit)
	assert.Equal(t, 0, h.ws.resets)
}

func TestSchedule_CycleChunksGrouped(t *testing.T) {
	g := graph.FromEdges([]graph.Edge{
		{From: "a.go", To: "b.go"},
		{From: "b.go", To: "a.go"},
	})
	plan := `[{"id": 1, "files": ["a.go"]}, {"id": 2, "files": ["b.go"]}]`
	h := newHarness(t, StaticPlanner{Text: plan})

	sched, err := h.orch.Schedule(context.Background(), Request{Graph: g})
	require.NoError(t, err)
	require.Len(t, sched.Sorted.Groups, 1)
	assert.Equal(t, []int{1, 2}, sched.Sorted.Groups[0].ChunkIDs)
	assert.Equal(t, []string{"a.go", "b.go"}, sched.Batch.Touched)
	assert.Equal(t, 0, h.ws.began)
	assert.NotNil(t, sched.Analysis())
}

func TestNew_Validation(t *testing.T) {
	v, err := deferred.New(&fakeChecker{})
	require.NoError(t, err)

	_, err = New(nil, &fakeMaterializer{}, v)
	assert.Error(t, err)

	_, err = New(StaticPlanner{}, &fakeMaterializer{}, v, WithArtifactPatterns("web/[a-"))
	assert.Error(t, err)
}

func TestScheduleOnly_RunIsRefused(t *testing.T) {
	orch, err := New(StaticPlanner{Text: goodPlan}, nil, nil)
	require.NoError(t, err)

	sched, err := orch.Schedule(context.Background(), Request{Graph: testGraph()})
	require.NoError(t, err)
	assert.NotEmpty(t, sched.Accepted)

	res, err := orch.Run(context.Background(), Request{Graph: testGraph()})
	assert.ErrorIs(t, err, ErrNotRunnable)
	assert.Equal(t, FailureInternal, res.FailureKind)
	assert.False(t, res.Reset)
}

func TestOrchestrationResult_Record(t *testing.T) {
	h := newHarness(t, StaticPlanner{Text: goodPlan})
	res, err := h.orch.Run(context.Background(), Request{Graph: testGraph()})
	require.NoError(t, err)

	rec, err := res.Record()
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Levels)
	assert.True(t, strings.Contains(string(rec.Result), `"commit":"c0ffee"`))
}
