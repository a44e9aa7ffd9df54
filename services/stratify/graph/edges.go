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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// EdgeFormat selects how ParseEdges reads its input.
type EdgeFormat string

const (
	// EdgeFormatAuto sniffs the input: JSON if it starts with '{' or '[',
	// text if any line contains "->", YAML otherwise.
	EdgeFormatAuto EdgeFormat = "auto"

	// EdgeFormatJSON reads {"a": ["b"]} or [{"dependent": "a", "dependencies": ["b"]}].
	EdgeFormatJSON EdgeFormat = "json"

	// EdgeFormatYAML reads the YAML equivalents of the JSON shapes.
	EdgeFormatYAML EdgeFormat = "yaml"

	// EdgeFormatText reads lines of "a -> b, c". A line with only "a"
	// declares a file without dependencies. '#' starts a comment.
	EdgeFormatText EdgeFormat = "text"
)

// textArrow separates dependent from dependencies in the text format.
const textArrow = "->"

// ParseEdges decodes a raw edge list from the dependency-extraction tool.
//
// Paths are returned exactly as written; normalization is the Builder's job.
// Map-shaped input is returned with dependents in lexical order so the
// result is deterministic.
func ParseEdges(data []byte, format EdgeFormat) ([]EdgeEntry, error) {
	if format == "" || format == EdgeFormatAuto {
		format = sniffEdgeFormat(data)
	}
	switch format {
	case EdgeFormatJSON:
		return parseJSONEdges(data)
	case EdgeFormatYAML:
		return parseYAMLEdges(data)
	case EdgeFormatText:
		return parseTextEdges(data)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidEdges, format)
	}
}

// LoadEdgesFile reads and parses an edge list file. The format follows the
// file extension (.json, .yaml, .yml); anything else is sniffed.
func LoadEdgesFile(path string) ([]EdgeEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading edges file: %w", err)
	}
	format := EdgeFormatAuto
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = EdgeFormatJSON
	case ".yaml", ".yml":
		format = EdgeFormatYAML
	}
	entries, err := ParseEdges(data, format)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return entries, nil
}

func sniffEdgeFormat(data []byte) EdgeFormat {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return EdgeFormatJSON
	}
	for _, line := range strings.Split(string(trimmed), "\n") {
		line = stripComment(line)
		if strings.Contains(line, textArrow) {
			return EdgeFormatText
		}
	}
	return EdgeFormatYAML
}

func parseJSONEdges(data []byte) ([]EdgeEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var entries []EdgeEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEdges, err)
		}
		return entries, nil
	}
	var m map[string][]string
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEdges, err)
	}
	return entriesFromMap(m), nil
}

func parseYAMLEdges(data []byte) ([]EdgeEntry, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEdges, err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var entries []EdgeEntry
		if err := root.Decode(&entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEdges, err)
		}
		return entries, nil
	case yaml.MappingNode:
		var m map[string][]string
		if err := root.Decode(&m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEdges, err)
		}
		return entriesFromMap(m), nil
	default:
		return nil, fmt.Errorf("%w: expected a mapping or a list at line %d", ErrInvalidEdges, root.Line)
	}
}

func parseTextEdges(data []byte) ([]EdgeEntry, error) {
	var entries []EdgeEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(stripComment(scanner.Text()))
		if line == "" {
			continue
		}
		dependent, rest, found := strings.Cut(line, textArrow)
		dependent = strings.TrimSpace(dependent)
		if dependent == "" {
			return nil, fmt.Errorf("%w: line %d: missing dependent", ErrInvalidEdges, lineNo)
		}
		entry := EdgeEntry{Dependent: dependent}
		if found {
			for _, dep := range strings.Split(rest, ",") {
				if dep = strings.TrimSpace(dep); dep != "" {
					entry.Dependencies = append(entry.Dependencies, dep)
				}
			}
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEdges, err)
	}
	return entries, nil
}

func entriesFromMap(m map[string][]string) []EdgeEntry {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]EdgeEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, EdgeEntry{Dependent: k, Dependencies: m[k]})
	}
	return entries
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return line[:i]
	}
	return line
}
