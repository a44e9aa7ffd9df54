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
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Stratify/services/stratify/graph"
	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

func testAnalysis(t *testing.T) *graph.AnalysisResult {
	t.Helper()
	norm := pathid.NewNormalizer(pathid.WithCaseFolding(false))
	b := graph.NewBuilder(norm)
	b.AddEdge("app.js", "src/components/Foo.js")
	b.AddEdge("src/components/Foo.js", "src/a/Bar.js")
	b.AddEdge("src/a/Bar.js", "lib/base.js")
	b.AddEdge("src/b/Bar.js", "lib/base.js")
	b.AddEdge("x/A.go", "x/B.go")
	b.AddEdge("x/B.go", "x/A.go")
	r, err := graph.Analyze(context.Background(), b.Build())
	require.NoError(t, err)
	return r
}

func testValidator(t *testing.T) *Validator {
	t.Helper()
	return NewValidator(testAnalysis(t),
		WithNormalizer(pathid.NewNormalizer(pathid.WithCaseFolding(false))))
}

func warningKinds(ws []Warning) []WarningKind {
	var out []WarningKind
	for _, w := range ws {
		out = append(out, w.Kind)
	}
	return out
}

func TestValidate_UniqueSuffixMatchAccepted(t *testing.T) {
	v := testValidator(t)

	res := v.Validate([]RawChunk{{ID: 1, Paths: []string{"./Foo.js"}}})

	require.Len(t, res.Accepted, 1)
	assert.Equal(t, []pathid.FileID{"src/components/Foo.js"}, res.Accepted[0].Files)
	assert.Equal(t, []WarningKind{WarnSuffixMatch}, warningKinds(res.Warnings))
	assert.Empty(t, res.Rejected)
}

func TestValidate_AmbiguousSuffixRejected(t *testing.T) {
	v := testValidator(t)

	res := v.Validate([]RawChunk{{ID: 4, Paths: []string{"Bar.js"}}})

	assert.True(t, res.Empty())
	require.Len(t, res.Rejected, 1)
	require.Len(t, res.Rejected[0].Errors, 1)

	rerr := res.Rejected[0].Errors[0]
	assert.ErrorIs(t, rerr, ErrAmbiguousPath)
	assert.ErrorIs(t, rerr, ErrChunkResolution)
	assert.Equal(t, 4, rerr.ChunkID)
	assert.Equal(t, []pathid.FileID{"src/a/Bar.js", "src/b/Bar.js"}, rerr.Candidates)
	assert.Contains(t, rerr.Error(), `"Bar.js"`)
}

func TestValidate_UnknownPathRejectsWholeChunk(t *testing.T) {
	v := testValidator(t)

	res := v.Validate([]RawChunk{
		{ID: 1, Paths: []string{"lib/base.js", "src/components/Fo.js"}},
		{ID: 2, Paths: []string{"app.js"}},
	})

	require.Len(t, res.Accepted, 1)
	assert.Equal(t, 2, res.Accepted[0].ID)
	assert.Equal(t, 1, res.Accepted[0].Order)

	require.Len(t, res.Rejected, 1)
	errs := res.Errors()
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrUnknownPath))

	var rerr *ResolutionError
	require.ErrorAs(t, errs[0], &rerr)
	assert.Contains(t, rerr.Suggestions, pathid.FileID("src/components/Foo.js"))
	assert.Contains(t, rerr.Error(), "did you mean")
}

func TestValidate_EmptyChunkRejected(t *testing.T) {
	v := testValidator(t)
	res := v.Validate([]RawChunk{{ID: 3, Rationale: "nothing to do"}})

	require.Len(t, res.Rejected, 1)
	assert.ErrorIs(t, res.Rejected[0].Errors[0], ErrEmptyChunk)
}

func TestValidate_DeduplicatesFiles(t *testing.T) {
	v := testValidator(t)
	res := v.Validate([]RawChunk{{ID: 1, Paths: []string{"src/a/Bar.js", "./src/a/Bar.js", "a/Bar.js"}}})

	require.Len(t, res.Accepted, 1)
	assert.Equal(t, []pathid.FileID{"src/a/Bar.js"}, res.Accepted[0].Files)
}

func TestValidate_ParentRelativePath(t *testing.T) {
	v := testValidator(t)
	res := v.Validate([]RawChunk{{ID: 1, Paths: []string{"../components/Foo.js"}}})

	require.Len(t, res.Accepted, 1)
	assert.Equal(t, []pathid.FileID{"src/components/Foo.js"}, res.Accepted[0].Files)
}

func TestValidate_StructuralWarnings(t *testing.T) {
	v := testValidator(t)

	t.Run("spans more than two levels", func(t *testing.T) {
		res := v.Validate([]RawChunk{{ID: 1, Paths: []string{
			"lib/base.js", "src/a/Bar.js", "src/components/Foo.js",
		}}})
		require.Len(t, res.Accepted, 1)
		assert.Equal(t, []WarningKind{WarnSpansLevels}, warningKinds(res.Warnings))
	})

	t.Run("two levels is fine", func(t *testing.T) {
		res := v.Validate([]RawChunk{{ID: 1, Paths: []string{"lib/base.js", "src/a/Bar.js"}}})
		assert.Empty(t, res.Warnings)
	})

	t.Run("partial cycle", func(t *testing.T) {
		res := v.Validate([]RawChunk{{ID: 1, Paths: []string{"x/A.go"}}})
		require.Len(t, res.Accepted, 1)
		assert.Equal(t, []WarningKind{WarnPartialCycle}, warningKinds(res.Warnings))
	})

	t.Run("whole cycle", func(t *testing.T) {
		res := v.Validate([]RawChunk{{ID: 1, Paths: []string{"x/A.go", "x/B.go"}}})
		assert.Empty(t, res.Warnings)
	})
}

func TestResolve_EmptyPath(t *testing.T) {
	v := testValidator(t)
	_, _, rerr := v.Resolve("  ./  ")
	require.NotNil(t, rerr)
	assert.ErrorIs(t, rerr, ErrUnknownPath)
}

func TestResolve_NoSuggestionsWhenDisabled(t *testing.T) {
	v := NewValidator(testAnalysis(t), WithMaxSuggestions(0))
	_, _, rerr := v.Resolve("src/components/Fo.js")
	require.NotNil(t, rerr)
	assert.Empty(t, rerr.Suggestions)
}

func TestValidatePlan_CarriesParseWarnings(t *testing.T) {
	v := testValidator(t)
	plan, err := ParsePlan(`[{"id": 1, "files": ["app.js"]}, {"id": 1, "files": ["lib/base.js"]}]`)
	require.NoError(t, err)

	res := v.ValidatePlan(plan)
	require.Len(t, res.Accepted, 2)
	assert.Equal(t, []int{1, 2}, []int{res.Accepted[0].ID, res.Accepted[1].ID})
	assert.Equal(t, []WarningKind{WarnDuplicateID}, warningKinds(res.Warnings))
}

func TestChunk_Touches(t *testing.T) {
	c := Chunk{Files: []pathid.FileID{"a.go", "b.go"}}
	assert.True(t, c.Touches("b.go"))
	assert.False(t, c.Touches("c.go"))
}

func TestResolutionError_Message(t *testing.T) {
	err := &ResolutionError{ChunkID: 2, Kind: ErrEmptyChunk}
	assert.Equal(t, "chunk 2: chunk references no files", err.Error())
	assert.False(t, strings.Contains(err.Error(), `""`))
}
