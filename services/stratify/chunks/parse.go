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
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlanFormat names the layout a planner response was read as.
type PlanFormat string

const (
	PlanFormatJSON     PlanFormat = "json"
	PlanFormatYAML     PlanFormat = "yaml"
	PlanFormatMarkdown PlanFormat = "markdown"
	PlanFormatNone     PlanFormat = "none"
)

// Plan is the structural reading of one planner response.
type Plan struct {
	Chunks   []RawChunk `json:"chunks"`
	Format   PlanFormat `json:"format"`
	Warnings []Warning  `json:"warnings,omitempty"`
}

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json|yaml|yml)[ \t]*\r?\n(.*?)```")
	headingRe     = regexp.MustCompile(`(?i)^\s*(#+\s*)?(\*\*)?chunk\s*#?\s*(\d+)(?:\*\*)?\s*([:.)\-])?\s*(.*)$`)
	fieldRe       = regexp.MustCompile(`(?i)^\s*[-*]?\s*(?:\*\*)?(files|paths|rationale|reason|patch|diff)(?:\*\*)?\s*:\s*(?:\*\*)?\s*(.*)$`)
	bulletRe      = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(.+)$`)
	annotationRe  = regexp.MustCompile(`\s+\([^)]*\)\s*$`)
)

// ParsePlan reads a planner response into raw chunks.
//
// # Description
//
// The response may be JSON (an array of chunks or {"chunks": [...]}),
// YAML of the same shape, or Markdown-ish text with "Chunk N:" or
// "## Chunk N" headings followed by "Files:" and "Rationale:" lines.
// Surrounding code fences are stripped, and a fenced json/yaml block
// embedded in prose is used when present.
//
// Chunk numbers that are missing or reused are reassigned so IDs are
// unique; reuse produces a warning. Paths are not resolved here.
//
// # Outputs
//
//   - *Plan: Possibly empty. An empty plan is not an error.
//   - error: ErrMalformedPlan when structured input cannot be decoded.
func ParsePlan(text string) (*Plan, error) {
	body := cleanResponse(text)
	if body == "" {
		return &Plan{Format: PlanFormatNone}, nil
	}

	var (
		plan *Plan
		err  error
	)
	switch {
	case body[0] == '{' || body[0] == '[':
		plan, err = parseStructured(body, PlanFormatJSON)
	case hasChunkHeading(body):
		plan = parseMarkdown(body)
	default:
		plan, err = parseStructured(body, PlanFormatYAML)
		if err != nil {
			// Prose without headings is not YAML either; nothing usable.
			return &Plan{
				Format: PlanFormatNone,
				Warnings: []Warning{{
					Kind:    WarnParse,
					Message: "planner response contains no recognizable chunks",
				}},
			}, nil
		}
	}
	if err != nil {
		return nil, err
	}
	plan.Warnings = append(plan.Warnings, assignIDs(plan.Chunks)...)
	return plan, nil
}

// cleanResponse strips code fences around or inside the response.
func cleanResponse(text string) string {
	s := strings.TrimSpace(text)
	if m := fencedBlockRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(s, "```") && strings.HasSuffix(s, "```") && len(s) > 6 {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[:") {
			s = s[nl+1:]
		}
	}
	return strings.TrimSpace(s)
}

func hasChunkHeading(body string) bool {
	for _, line := range strings.Split(body, "\n") {
		if _, _, ok := parseHeading(strings.TrimSpace(line), false); ok {
			return true
		}
	}
	return false
}

// =============================================================================
// STRUCTURED (JSON / YAML)
// =============================================================================

// planEntry accepts the key spellings planners actually produce.
type planEntry struct {
	ID          flexInt     `json:"id" yaml:"id"`
	Number      flexInt     `json:"number" yaml:"number"`
	Chunk       flexInt     `json:"chunk" yaml:"chunk"`
	Files       flexStrings `json:"files" yaml:"files"`
	Paths       flexStrings `json:"paths" yaml:"paths"`
	Rationale   string      `json:"rationale" yaml:"rationale"`
	Reason      string      `json:"reason" yaml:"reason"`
	Description string      `json:"description" yaml:"description"`
	Patch       string      `json:"patch" yaml:"patch"`
	Diff        string      `json:"diff" yaml:"diff"`
}

type planEnvelope struct {
	Chunks []planEntry `json:"chunks" yaml:"chunks"`
}

func (e planEntry) raw() RawChunk {
	c := RawChunk{
		ID:        firstSet(e.ID, e.Number, e.Chunk),
		Paths:     append([]string(e.Files), e.Paths...),
		Rationale: firstNonEmpty(e.Rationale, e.Reason, e.Description),
		Patch:     firstNonEmpty(e.Patch, e.Diff),
	}
	return c
}

func parseStructured(body string, format PlanFormat) (*Plan, error) {
	var entries []planEntry
	if format == PlanFormatJSON {
		data := []byte(body)
		if bytes.HasPrefix(data, []byte("[")) {
			if err := json.Unmarshal(data, &entries); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
			}
		} else {
			var env planEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
			}
			entries = env.Chunks
		}
	} else {
		var node yaml.Node
		if err := yaml.Unmarshal([]byte(body), &node); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
		}
		if len(node.Content) == 0 {
			return nil, fmt.Errorf("%w: empty document", ErrMalformedPlan)
		}
		root := node.Content[0]
		switch root.Kind {
		case yaml.SequenceNode:
			if err := root.Decode(&entries); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
			}
		case yaml.MappingNode:
			var env planEnvelope
			if err := root.Decode(&env); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
			}
			entries = env.Chunks
		default:
			return nil, fmt.Errorf("%w: expected a list of chunks", ErrMalformedPlan)
		}
	}

	plan := &Plan{Format: format}
	for _, e := range entries {
		plan.Chunks = append(plan.Chunks, e.raw())
	}
	return plan, nil
}

// flexInt decodes 3, "3" or "chunk-3" as 3.
type flexInt int

func (f *flexInt) set(s string) {
	s = strings.TrimSpace(strings.Trim(s, `"`))
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	if n, err := strconv.Atoi(s[start:end]); err == nil {
		*f = flexInt(n)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexInt) UnmarshalJSON(b []byte) error {
	f.set(string(b))
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *flexInt) UnmarshalYAML(value *yaml.Node) error {
	f.set(value.Value)
	return nil
}

// flexStrings decodes a list of strings or one comma-separated string.
type flexStrings []string

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexStrings) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*f = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*f = splitPaths(s)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *flexStrings) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*f = splitPaths(value.Value)
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*f = list
	return nil
}

func firstSet(vals ...flexInt) int {
	for _, v := range vals {
		if v > 0 {
			return int(v)
		}
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// splitPaths splits "a.go, b.go (new)" into ["a.go", "b.go"].
func splitPaths(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = pathToken(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// pathToken extracts the path from one list item: the first `quoted`
// span if any, otherwise the text before a " - " description, minus a
// trailing parenthetical.
func pathToken(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '`'); i >= 0 {
		if j := strings.IndexByte(s[i+1:], '`'); j > 0 {
			return strings.TrimSpace(s[i+1 : i+1+j])
		}
	}
	if before, _, found := strings.Cut(s, " - "); found {
		s = before
	}
	return strings.TrimSpace(annotationRe.ReplaceAllString(s, ""))
}

// =============================================================================
// MARKDOWN
// =============================================================================

type mdSection int

const (
	mdNone mdSection = iota
	mdFiles
	mdRationale
	mdPatch
)

// parseHeading recognizes a chunk heading. A line needs "#" or "**" markup,
// or a bare "Chunk N:" form outside a rationale, so prose such as "Chunk 2
// must land after this one." stays prose.
func parseHeading(line string, inRationale bool) (int, string, bool) {
	m := headingRe.FindStringSubmatch(line)
	if m == nil {
		return 0, "", false
	}
	marked := m[1] != "" || m[2] != ""
	if !marked && (inRationale || m[4] != ":") {
		return 0, "", false
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return 0, "", false
	}
	return n, strings.TrimSpace(strings.Trim(m[5], "*")), true
}

func parseMarkdown(body string) *Plan {
	plan := &Plan{Format: PlanFormatMarkdown}

	var (
		cur       *RawChunk
		title     string
		section   mdSection
		rationale []string
		inFence   bool
		fenceDiff bool
		patch     []string
	)

	flush := func() {
		if cur == nil {
			return
		}
		cur.Rationale = strings.TrimSpace(strings.Join(rationale, "\n"))
		if cur.Rationale == "" {
			cur.Rationale = title
		}
		cur.Patch = strings.Join(patch, "")
		plan.Chunks = append(plan.Chunks, *cur)
		cur, title, rationale, patch = nil, "", nil, nil
		section = mdNone
	}

	for _, line := range strings.SplitAfter(body, "\n") {
		trimmed := strings.TrimSpace(line)

		if inFence {
			if strings.HasPrefix(trimmed, "```") {
				inFence = false
				continue
			}
			if fenceDiff {
				patch = append(patch, strings.TrimRight(line, "\r\n")+"\n")
			}
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			inFence = true
			lang := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "```")))
			fenceDiff = cur != nil && (lang == "diff" || lang == "patch" || section == mdPatch)
			continue
		}

		if n, t, ok := parseHeading(trimmed, section == mdRationale); ok {
			flush()
			cur = &RawChunk{ID: n}
			title = t
			continue
		}
		if cur == nil {
			continue
		}

		if m := fieldRe.FindStringSubmatch(trimmed); m != nil {
			value := strings.TrimSpace(m[2])
			switch strings.ToLower(m[1]) {
			case "files", "paths":
				section = mdFiles
				cur.Paths = append(cur.Paths, splitPaths(value)...)
			case "rationale", "reason":
				section = mdRationale
				if value != "" {
					rationale = append(rationale, value)
				}
			case "patch", "diff":
				section = mdPatch
			}
			continue
		}

		switch section {
		case mdFiles:
			if m := bulletRe.FindStringSubmatch(trimmed); m != nil {
				cur.Paths = append(cur.Paths, splitPaths(m[1])...)
			} else if trimmed != "" {
				section = mdNone
			}
		case mdRationale:
			if trimmed != "" {
				rationale = append(rationale, trimmed)
			}
		}
	}
	if inFence {
		plan.Warnings = append(plan.Warnings, Warning{
			Kind:    WarnParse,
			Message: "unterminated code fence in planner response",
		})
	}
	flush()
	return plan
}

// assignIDs makes chunk IDs unique: missing IDs and reused IDs get the next
// free number after the largest seen.
func assignIDs(chunks []RawChunk) []Warning {
	var warnings []Warning
	maxID := 0
	for _, c := range chunks {
		if c.ID > maxID {
			maxID = c.ID
		}
	}
	used := make(map[int]bool, len(chunks))
	for i := range chunks {
		id := chunks[i].ID
		switch {
		case id <= 0:
			maxID++
			chunks[i].ID = maxID
		case used[id]:
			maxID++
			warnings = append(warnings, Warning{
				ChunkID: maxID,
				Kind:    WarnDuplicateID,
				Message: fmt.Sprintf("chunk number %d reused; renumbered to %d", id, maxID),
			})
			chunks[i].ID = maxID
		}
		used[chunks[i].ID] = true
	}
	return warnings
}
