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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEdges(t *testing.T) {
	tests := []struct {
		name   string
		format EdgeFormat
		input  string
		want   []EdgeEntry
	}{
		{
			name:   "json object sorted by dependent",
			format: EdgeFormatAuto,
			input:  `{"src/b.ts": ["src/c.ts"], "src/a.ts": ["src/b.ts", "src/c.ts"]}`,
			want: []EdgeEntry{
				{Dependent: "src/a.ts", Dependencies: []string{"src/b.ts", "src/c.ts"}},
				{Dependent: "src/b.ts", Dependencies: []string{"src/c.ts"}},
			},
		},
		{
			name:   "json array",
			format: EdgeFormatJSON,
			input:  `[{"dependent": "a.go", "dependencies": ["b.go"]}, {"dependent": "c.go"}]`,
			want: []EdgeEntry{
				{Dependent: "a.go", Dependencies: []string{"b.go"}},
				{Dependent: "c.go"},
			},
		},
		{
			name:   "yaml mapping",
			format: EdgeFormatAuto,
			input:  "a.py:\n  - b.py\n  - c.py\nb.py: []\n",
			want: []EdgeEntry{
				{Dependent: "a.py", Dependencies: []string{"b.py", "c.py"}},
				{Dependent: "b.py", Dependencies: []string{}},
			},
		},
		{
			name:   "yaml list",
			format: EdgeFormatYAML,
			input:  "- dependent: a.py\n  dependencies: [b.py]\n",
			want: []EdgeEntry{
				{Dependent: "a.py", Dependencies: []string{"b.py"}},
			},
		},
		{
			name:   "text with comments and bare nodes",
			format: EdgeFormatAuto,
			input: `# generated by the import scanner
src/app.js -> src/util.js, ./src/api.js
src/api.js -> src/util.js   # trailing comment

src/orphan.js
`,
			want: []EdgeEntry{
				{Dependent: "src/app.js", Dependencies: []string{"src/util.js", "./src/api.js"}},
				{Dependent: "src/api.js", Dependencies: []string{"src/util.js"}},
				{Dependent: "src/orphan.js"},
			},
		},
		{
			name:   "empty json",
			format: EdgeFormatJSON,
			input:  "   ",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEdges([]byte(tt.input), tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEdges_Errors(t *testing.T) {
	tests := []struct {
		name   string
		format EdgeFormat
		input  string
	}{
		{"malformed json", EdgeFormatJSON, `{"a": [`},
		{"yaml scalar", EdgeFormatYAML, "just a string"},
		{"text missing dependent", EdgeFormatText, " -> b.go"},
		{"unknown format", EdgeFormat("toml"), "a = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEdges([]byte(tt.input), tt.format)
			assert.ErrorIs(t, err, ErrInvalidEdges)
		})
	}
}

func TestLoadEdgesFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "edges.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"a.go": ["b.go"]}`), 0o644))
	entries, err := LoadEdgesFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, []EdgeEntry{{Dependent: "a.go", Dependencies: []string{"b.go"}}}, entries)

	txtPath := filepath.Join(dir, "edges.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("a.go -> b.go\n"), 0o644))
	entries, err = LoadEdgesFile(txtPath)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = LoadEdgesFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestParseEdges_FeedsBuilder(t *testing.T) {
	entries, err := ParseEdges([]byte("src/app.js -> ./src/util.js\nsrc/app.js -> src/util.js\n"), EdgeFormatText)
	require.NoError(t, err)

	b := NewBuilder(nil)
	b.AddEntries(entries)
	g := b.Build()

	assert.Equal(t, 1, g.EdgeCount())
	assert.Equal(t, 1, b.Stats().DuplicateEdges)
}
