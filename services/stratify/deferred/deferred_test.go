// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deferred

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Stratify/services/stratify/batch"
	"github.com/AleutianAI/Stratify/services/stratify/check"
	"github.com/AleutianAI/Stratify/services/stratify/chunks"
	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

type fakeChecker struct {
	kind    check.Kind
	outcome check.Outcome
	err     error
	calls   int
	lastReq check.Request
}

func (f *fakeChecker) Kind() check.Kind { return f.kind }

func (f *fakeChecker) Check(_ context.Context, req check.Request) (*check.Outcome, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	out := f.outcome
	out.Kind = f.kind
	return &out, nil
}

func passing(kind check.Kind) *fakeChecker {
	return &fakeChecker{kind: kind, outcome: check.Outcome{Passed: true}}
}

func failing(kind check.Kind, output string) *fakeChecker {
	return &fakeChecker{kind: kind, outcome: check.Outcome{ExitCode: 1, Output: output}}
}

func testBatch(artifacts ...pathid.FileID) *batch.ValidationBatch {
	return &batch.ValidationBatch{
		Chunks: []chunks.Chunk{
			{ID: 1, Files: []pathid.FileID{"src/api/client.ts"}},
			{ID: 2, Files: []pathid.FileID{"src/util/http.ts", "src/util/retry.ts"}},
			{ID: 3, Files: []pathid.FileID{"web/pages/Home.tsx"}},
		},
		Touched:   []pathid.FileID{"src/api/client.ts", "src/util/http.ts", "src/util/retry.ts", "web/pages/Home.tsx"},
		Affected:  []pathid.FileID{"src/api/client.ts", "src/util/http.ts", "src/util/retry.ts", "web/pages/Home.tsx"},
		Artifacts: artifacts,
	}
}

func TestValidate_SuccessWithoutArtifactsSkipsRegression(t *testing.T) {
	build, regression := passing(check.KindBuild), passing(check.KindRegression)
	v, err := New(build, WithRegression(regression))
	require.NoError(t, err)

	report, err := v.Validate(context.Background(), "run-1", testBatch())
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, 1, build.calls)
	assert.Zero(t, regression.calls)
	assert.True(t, report.RegressionSkipped)
	assert.Equal(t, SkipNoArtifacts, report.SkipReason)
	assert.Equal(t, "run-1", build.lastReq.RunID)
	assert.Len(t, build.lastReq.Touched, 4)
}

func TestValidate_ArtifactsRunRegression(t *testing.T) {
	build, regression := passing(check.KindBuild), passing(check.KindRegression)
	v, err := New(build, WithRegression(regression))
	require.NoError(t, err)

	report, err := v.Validate(context.Background(), "run-1", testBatch("web/pages/Home.tsx"))
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, 1, regression.calls)
	assert.False(t, report.RegressionSkipped)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, check.KindRegression, report.Checks[1].Kind)
	assert.Equal(t, []pathid.FileID{"web/pages/Home.tsx"}, regression.lastReq.Artifacts)
}

func TestValidate_BuildFailureAttributed(t *testing.T) {
	build := failing(check.KindBuild, "src/util/http.ts(4,2): error TS1005: ';' expected.\nnpm ERR! failed\n")
	regression := passing(check.KindRegression)
	v, err := New(build, WithRegression(regression))
	require.NoError(t, err)

	report, err := v.Validate(context.Background(), "run-2", testBatch("web/pages/Home.tsx"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeferredValidation))
	assert.False(t, errors.Is(err, ErrCheckTimeout))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Same(t, report, verr.Report)

	assert.False(t, report.Success)
	assert.Zero(t, regression.calls, "regression never runs after a failed build")
	assert.Equal(t, SkipBuildFailed, report.SkipReason)

	require.Len(t, report.Errors, 2)
	require.Len(t, report.Attributions, 2)
	assert.Equal(t, []int{2}, report.Attributions[0].ChunkIDs)
	assert.Empty(t, report.Attributions[1].ChunkIDs)
	assert.Equal(t, []int{2}, report.ProbableCauses())
}

func TestValidate_RegressionTimeout(t *testing.T) {
	build := passing(check.KindBuild)
	regression := &fakeChecker{kind: check.KindRegression, outcome: check.Outcome{TimedOut: true, ExitCode: -1}}
	v, err := New(build, WithRegression(regression))
	require.NoError(t, err)

	report, err := v.Validate(context.Background(), "run-3", testBatch("web/pages/Home.tsx"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCheckTimeout)
	assert.ErrorIs(t, err, ErrDeferredValidation)
	assert.True(t, report.TimedOut)
	assert.Contains(t, err.Error(), "regression (timeout)")
	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[0].Message, "timed out")
}

func TestValidate_UnstartableCheckIsFailure(t *testing.T) {
	build := &fakeChecker{kind: check.KindBuild, err: &check.CheckError{Kind: check.KindBuild, Err: check.ErrCheckUnavailable}}
	v, err := New(build)
	require.NoError(t, err)

	report, err := v.Validate(context.Background(), "run-4", testBatch())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeferredValidation)
	assert.False(t, report.Success)
	require.Len(t, report.Errors, 1)
	assert.False(t, report.Errors[0].Structured)
}

func TestValidate_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	build := &fakeChecker{kind: check.KindBuild, err: context.Canceled}
	v, err := New(build)
	require.NoError(t, err)

	report, err := v.Validate(ctx, "run-5", testBatch())
	assert.Nil(t, report)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidate_ArtifactsWithoutRegressionChecker(t *testing.T) {
	v, err := New(passing(check.KindBuild))
	require.NoError(t, err)

	report, err := v.Validate(context.Background(), "run-6", testBatch("web/pages/Home.tsx"))
	require.NoError(t, err)
	assert.Equal(t, SkipNotConfigured, report.SkipReason)
}

func TestNew_RequiresBuild(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoBuildCheck)
}

func TestAttribute(t *testing.T) {
	cs := testBatch().Chunks
	records := []check.ErrorRecord{
		{File: "src/api/client.ts", Structured: true, Raw: "src/api/client.ts:1:1: x"},
		{File: "api/client.ts", Structured: true, Raw: "api/client.ts:1:1: x"},
		{File: "/abs/repo/src/util/retry.ts", Structured: true, Raw: "x"},
		{Raw: "Snapshot mismatch for web/pages/Home.tsx and src/util/http.ts"},
		{File: "other/file.go", Structured: true, Raw: "other/file.go:3: imported from src/api/client.ts"},
		{Raw: "something else"},
	}

	got := Attribute(records, cs)
	require.Len(t, got, len(records))
	assert.Equal(t, []int{1}, got[0].ChunkIDs)
	assert.Equal(t, []int{1}, got[1].ChunkIDs, "relative to a subdirectory")
	assert.Equal(t, []int{2}, got[2].ChunkIDs, "absolute path outside root")
	assert.Equal(t, []int{2, 3}, got[3].ChunkIDs)
	assert.Empty(t, got[4].ChunkIDs, "a structured record is judged by its own file")
	assert.Empty(t, got[5].ChunkIDs)
}

func TestAttribute_WholePathsOnly(t *testing.T) {
	cs := []chunks.Chunk{
		{ID: 1, Files: []pathid.FileID{"src/App.js"}},
		{ID: 2, Files: []pathid.FileID{"src/other.js"}},
		{ID: 3, Files: []pathid.FileID{"a.go"}},
	}
	records := check.ExtractErrors("src/App.jsx:10:3: Unexpected token\n", nil)
	records = append(records,
		check.ErrorRecord{Raw: "FAIL loading data.go and src/App.jsx"},
		check.ErrorRecord{Raw: "FAIL snapshot (src/App.js) differs"},
		check.ErrorRecord{Raw: "panic in a.go: nil map"},
	)

	got := Attribute(records, cs)
	require.Len(t, got, 4)
	assert.True(t, records[0].Structured)
	assert.Empty(t, got[0].ChunkIDs)
	assert.Empty(t, got[1].ChunkIDs)
	assert.Equal(t, []int{1}, got[2].ChunkIDs)
	assert.Equal(t, []int{3}, got[3].ChunkIDs)
}
