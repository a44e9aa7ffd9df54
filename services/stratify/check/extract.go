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
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

// maxRecords bounds how many records one output produces.
const maxRecords = 500

// maxUnstructuredChars bounds the text kept for an unstructured record.
const maxUnstructuredChars = 4000

// ErrorRecord is one error extracted from check output.
type ErrorRecord struct {
	// File is the normalized file the error points at, empty when unknown.
	File pathid.FileID `json:"file,omitempty"`

	// Line and Column are 1-based, zero when unknown.
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`

	// Message is the error text without the location prefix.
	Message string `json:"message"`

	// Raw is the output line (or block) the record came from.
	Raw string `json:"raw"`

	// Structured is true when a file location was extracted.
	Structured bool `json:"structured"`
}

// locationPattern is one recognized "where did it fail" shape.
type locationPattern struct {
	re                   *regexp.Regexp
	file, line, col, msg int
}

// Patterns are tried in order; the first match wins.
var locationPatterns = []locationPattern{
	// src/a.go:12:5: undefined: x   |   src/a.c:12: error: x
	{re: regexp.MustCompile(`^([^\s:()"']+\.[A-Za-z0-9]+):(\d+)(?::(\d+))?:\s*(.*)$`), file: 1, line: 2, col: 3, msg: 4},
	// src/a.ts(12,5): error TS2304: Cannot find name 'x'.
	{re: regexp.MustCompile(`^([^\s()"']+\.[A-Za-z0-9]+)\((\d+),(\d+)\):\s*(.*)$`), file: 1, line: 2, col: 3, msg: 4},
	// File "app/models.py", line 12, in <module>
	{re: regexp.MustCompile(`^File "([^"]+)", line (\d+)(?:, in (.*))?$`), file: 1, line: 2, msg: 3},
	// at render (src/App.jsx:10:3)   |   at src/App.jsx:10
	{re: regexp.MustCompile(`^at\s+(?:[^\s(]+\s+\()?([^\s()]+\.[A-Za-z0-9]+):(\d+)(?::(\d+))?\)?$`), file: 1, line: 2, col: 3},
}

// failureWords mark a location-less line as an error worth keeping.
var failureWords = regexp.MustCompile(`(?i)\b(error|fail(ed|ure)?|panic|exception|fatal)\b`)

// ExtractErrors parses raw check output into error records.
//
// # Description
//
// Each line is matched against the known location shapes. Matched lines
// become structured records with a normalized file. Lines that mention a
// failure but carry no location become unstructured records. When a
// failed check yields no records at all, the whole output becomes one
// unstructured record so nothing is silently lost.
//
// # Inputs
//
//   - output: Raw combined output of a failed check.
//   - norm: Normalizer used for the graph. Nil uses host defaults.
//
// # Outputs
//
//   - []ErrorRecord: Deduplicated records in output order, at most 500.
func ExtractErrors(output string, norm *pathid.Normalizer) []ErrorRecord {
	if norm == nil {
		norm = pathid.NewNormalizer()
	}

	var records []ErrorRecord
	seen := make(map[ErrorRecord]bool)
	add := func(r ErrorRecord) {
		if seen[r] || len(records) >= maxRecords {
			return
		}
		seen[r] = true
		records = append(records, r)
	}

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if rec, ok := matchLocation(line, norm); ok {
			add(rec)
			continue
		}
		if failureWords.MatchString(line) {
			add(ErrorRecord{Message: line, Raw: line})
		}
	}

	if len(records) == 0 {
		text := strings.TrimSpace(output)
		if text == "" {
			return nil
		}
		if len(text) > maxUnstructuredChars {
			cut := maxUnstructuredChars
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut]
		}
		records = append(records, ErrorRecord{Message: firstLine(text), Raw: text})
	}
	return records
}

func matchLocation(line string, norm *pathid.Normalizer) (ErrorRecord, bool) {
	for _, p := range locationPatterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		file := norm.Normalize(m[p.file])
		if file == "" {
			continue
		}
		rec := ErrorRecord{File: file, Raw: line, Structured: true}
		rec.Line, _ = strconv.Atoi(m[p.line])
		if p.col > 0 && m[p.col] != "" {
			rec.Column, _ = strconv.Atoi(m[p.col])
		}
		if p.msg > 0 {
			rec.Message = strings.TrimSpace(m[p.msg])
		}
		if rec.Message == "" {
			rec.Message = line
		}
		return rec, true
	}
	return ErrorRecord{}, false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
