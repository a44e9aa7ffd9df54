// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package check

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

func TestExtractErrors_Shapes(t *testing.T) {
	norm := pathid.NewNormalizer(pathid.WithRoot("/work/repo"), pathid.WithCaseFolding(false))

	tests := []struct {
		name string
		line string
		want ErrorRecord
	}{
		{
			name: "go compiler",
			line: "./internal/api/server.go:42:7: undefined: handler",
			want: ErrorRecord{File: "internal/api/server.go", Line: 42, Column: 7, Message: "undefined: handler"},
		},
		{
			name: "gcc without column",
			line: "/work/repo/src/main.c:9: error: expected ';'",
			want: ErrorRecord{File: "src/main.c", Line: 9, Message: "error: expected ';'"},
		},
		{
			name: "typescript",
			line: "src/App.tsx(12,5): error TS2304: Cannot find name 'x'.",
			want: ErrorRecord{File: "src/App.tsx", Line: 12, Column: 5, Message: "error TS2304: Cannot find name 'x'."},
		},
		{
			name: "python traceback",
			line: `  File "/work/repo/app/models.py", line 88, in save`,
			want: ErrorRecord{File: "app/models.py", Line: 88, Message: "save"},
		},
		{
			name: "javascript stack frame",
			line: "    at render (src/components/Card.jsx:10:3)",
			want: ErrorRecord{File: "src/components/Card.jsx", Line: 10, Column: 3},
		},
		{
			name: "bare stack frame",
			line: "at src/index.js:4",
			want: ErrorRecord{File: "src/index.js", Line: 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := ExtractErrors(tt.line, norm)
			require.Len(t, recs, 1)
			got := recs[0]
			assert.True(t, got.Structured)
			assert.Equal(t, tt.want.File, got.File)
			assert.Equal(t, tt.want.Line, got.Line)
			assert.Equal(t, tt.want.Column, got.Column)
			if tt.want.Message != "" {
				assert.Equal(t, tt.want.Message, got.Message)
			}
		})
	}
}

func TestExtractErrors_Unstructured(t *testing.T) {
	output := strings.Join([]string{
		"ok   example.com/pkg/a 0.01s",
		"--- FAIL: TestRender (0.00s)",
		"    render_test.go:31: want 2, got 3",
		"FAIL",
		"FAIL",
	}, "\n")

	recs := ExtractErrors(output, nil)
	require.Len(t, recs, 3, "duplicate FAIL lines collapse")

	assert.False(t, recs[0].Structured)
	assert.Equal(t, "--- FAIL: TestRender (0.00s)", recs[0].Message)
	assert.True(t, recs[1].Structured)
	assert.Equal(t, pathid.FileID("render_test.go"), recs[1].File)
	assert.False(t, recs[2].Structured)
}

func TestExtractErrors_WholeOutputFallback(t *testing.T) {
	recs := ExtractErrors("Segmentation violation\ncore dumped\n", nil)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Structured)
	assert.Equal(t, "Segmentation violation", recs[0].Message)
	assert.Contains(t, recs[0].Raw, "core dumped")
}

func TestExtractErrors_Empty(t *testing.T) {
	assert.Nil(t, ExtractErrors("  \n\n", nil))
}

func TestExtractErrors_Bounded(t *testing.T) {
	var b strings.Builder
	for i := 0; i < maxRecords+50; i++ {
		b.WriteString("a.go:")
		b.WriteString(strings.Repeat("1", 1))
		b.WriteString(":1: error ")
		b.WriteString(strings.Repeat("x", i%7+1))
		b.WriteString(string(rune('a' + i%26)))
		b.WriteString("\n")
	}
	recs := ExtractErrors(b.String(), nil)
	assert.LessOrEqual(t, len(recs), maxRecords)
}

func TestExtractErrors_TruncatesOnRuneBoundary(t *testing.T) {
	// One byte of padding puts a rune boundary off the byte limit.
	output := "x" + strings.Repeat("é", maxUnstructuredChars)

	recs := ExtractErrors(output, nil)
	require.Len(t, recs, 1)
	raw := recs[0].Raw
	assert.True(t, utf8.ValidString(raw))
	assert.LessOrEqual(t, len(raw), maxUnstructuredChars)
	assert.Equal(t, maxUnstructuredChars-1, len(raw))
}
