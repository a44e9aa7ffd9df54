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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fenced replaces ''' with a Markdown code fence.
func fenced(s string) string {
	return strings.ReplaceAll(s, "'''", "```")
}

func TestParsePlan_JSON(t *testing.T) {
	t.Run("fenced array", func(t *testing.T) {
		plan, err := ParsePlan(fenced("'''json\n[{\"id\": 1, \"files\": [\"a.go\"], \"rationale\": \"r\"}]\n'''"))
		require.NoError(t, err)
		assert.Equal(t, PlanFormatJSON, plan.Format)
		assert.Equal(t, []RawChunk{{ID: 1, Paths: []string{"a.go"}, Rationale: "r"}}, plan.Chunks)
	})

	t.Run("envelope with alternate keys", func(t *testing.T) {
		plan, err := ParsePlan(`{"chunks": [{"number": "2", "paths": "a.go, b.go", "reason": "why", "diff": "--- a"}]}`)
		require.NoError(t, err)
		require.Len(t, plan.Chunks, 1)
		assert.Equal(t, RawChunk{ID: 2, Paths: []string{"a.go", "b.go"}, Rationale: "why", Patch: "--- a"}, plan.Chunks[0])
	})

	t.Run("fenced block inside prose", func(t *testing.T) {
		text := fenced("Sure! Here is the plan:\n\n'''json\n[{\"chunk\": \"chunk-3\", \"files\": [\"x.py\"]}]\n'''\nLet me know.")
		plan, err := ParsePlan(text)
		require.NoError(t, err)
		require.Len(t, plan.Chunks, 1)
		assert.Equal(t, 3, plan.Chunks[0].ID)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParsePlan(`[{"id": 1, "files": [`)
		assert.ErrorIs(t, err, ErrMalformedPlan)
	})
}

func TestParsePlan_YAML(t *testing.T) {
	plan, err := ParsePlan("- id: 1\n  files: [a.go, b.go]\n  rationale: first\n- files: c.go\n")
	require.NoError(t, err)
	assert.Equal(t, PlanFormatYAML, plan.Format)
	require.Len(t, plan.Chunks, 2)
	assert.Equal(t, []string{"a.go", "b.go"}, plan.Chunks[0].Paths)
	assert.Equal(t, RawChunk{ID: 2, Paths: []string{"c.go"}}, plan.Chunks[1])
}

func TestParsePlan_Markdown(t *testing.T) {
	text := fenced(`Here is the plan.

## Chunk 1: Update the base
Files:
- ` + "`lib/base.js`" + ` - shared helpers
- src/a/Bar.js
Rationale: Base must change first.
It is used everywhere.

**Chunk 2:** Wire the component
**Files:** src/components/Foo.js, app.js (entry)
Patch:
'''diff
--- a/app.js
+++ b/app.js
@@ -1 +1 @@
-old
+new
'''
`)

	plan, err := ParsePlan(text)
	require.NoError(t, err)
	assert.Equal(t, PlanFormatMarkdown, plan.Format)
	require.Len(t, plan.Chunks, 2)

	assert.Equal(t, RawChunk{
		ID:        1,
		Paths:     []string{"lib/base.js", "src/a/Bar.js"},
		Rationale: "Base must change first.\nIt is used everywhere.",
	}, plan.Chunks[0])

	assert.Equal(t, 2, plan.Chunks[1].ID)
	assert.Equal(t, []string{"src/components/Foo.js", "app.js"}, plan.Chunks[1].Paths)
	assert.Equal(t, "Wire the component", plan.Chunks[1].Rationale)
	assert.Equal(t, "--- a/app.js\n+++ b/app.js\n@@ -1 +1 @@\n-old\n+new\n", plan.Chunks[1].Patch)
	assert.Empty(t, plan.Warnings)
}

func TestParsePlan_MarkdownProseMentioningChunk(t *testing.T) {
	text := `## Chunk 1: base
Files: src/a.go
Rationale: Base helpers.
Chunk 2 must land after this one.

## Chunk 2: ui
Files: src/b.go
`
	plan, err := ParsePlan(text)
	require.NoError(t, err)
	require.Len(t, plan.Chunks, 2)
	assert.Equal(t, RawChunk{
		ID:        1,
		Paths:     []string{"src/a.go"},
		Rationale: "Base helpers.\nChunk 2 must land after this one.",
	}, plan.Chunks[0])
	assert.Equal(t, RawChunk{ID: 2, Paths: []string{"src/b.go"}, Rationale: "ui"}, plan.Chunks[1])
	assert.Empty(t, plan.Warnings)
}

func TestParseHeading(t *testing.T) {
	tests := []struct {
		line        string
		inRationale bool
		id          int
		ok          bool
	}{
		{"## Chunk 3: api", false, 3, true},
		{"**Chunk 4:** wire", true, 4, true},
		{"Chunk 5: plain", false, 5, true},
		{"Chunk 5: plain", true, 0, false},
		{"Chunk 6 must land first.", false, 0, false},
		{"chunking strategy", false, 0, false},
	}
	for _, tt := range tests {
		id, _, ok := parseHeading(tt.line, tt.inRationale)
		assert.Equal(t, tt.ok, ok, "line %q", tt.line)
		assert.Equal(t, tt.id, id, "line %q", tt.line)
	}
}

func TestParsePlan_MarkdownUnterminatedFence(t *testing.T) {
	plan, err := ParsePlan(fenced("Chunk 1: x\nFiles: a.go\n'''diff\n+line\n"))
	require.NoError(t, err)
	require.Len(t, plan.Chunks, 1)
	assert.Equal(t, []WarningKind{WarnParse}, warningKinds(plan.Warnings))
}

func TestParsePlan_NothingUsable(t *testing.T) {
	for _, text := range []string{"", "   ", "I could not determine any changes."} {
		plan, err := ParsePlan(text)
		require.NoError(t, err)
		assert.Empty(t, plan.Chunks, "input %q", text)
	}
}

func TestParsePlan_RenumbersMissingAndDuplicateIDs(t *testing.T) {
	plan, err := ParsePlan(`[{"id": 1, "files": ["a"]}, {"id": 1, "files": ["b"]}, {"files": ["c"]}]`)
	require.NoError(t, err)

	ids := []int{plan.Chunks[0].ID, plan.Chunks[1].ID, plan.Chunks[2].ID}
	assert.Equal(t, []int{1, 2, 3}, ids)
	require.Len(t, plan.Warnings, 1)
	assert.Equal(t, WarnDuplicateID, plan.Warnings[0].Kind)
	assert.Equal(t, 2, plan.Warnings[0].ChunkID)
}

func TestPathToken(t *testing.T) {
	tests := map[string]string{
		"src/a.go":                 "src/a.go",
		"`src/a.go` (new file)":    "src/a.go",
		"src/a.go - helper module": "src/a.go",
		"src/a.go (modified)":      "src/a.go",
		"  ":                       "",
	}
	for in, want := range tests {
		assert.Equal(t, want, pathToken(in), "input %q", in)
	}
}
