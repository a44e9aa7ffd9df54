// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pathid canonicalizes path strings into comparable file identifiers.
//
// Every path that enters Stratify (dependency edges, planner text, compiler
// output) passes through a Normalizer exactly once. Two FileIDs are equal iff
// they denote the same file within one workspace.
//
// Canonical form:
//
//   - forward slashes only
//   - no leading "./", no trailing "/", no empty or "." segments
//   - relative to the workspace root when a root is configured
//   - lower-cased when the workspace lives on a case-insensitive filesystem
//
// Normalize is idempotent: Normalize(Normalize(p)) == Normalize(p).
package pathid

import (
	"path"
	"runtime"
	"strings"
)

// FileID is the canonical identifier of one file in the dependency graph.
type FileID string

// String returns the identifier as a plain string.
func (id FileID) String() string {
	return string(id)
}

// Base returns the last path segment.
func (id FileID) Base() string {
	if id == "" {
		return ""
	}
	return path.Base(string(id))
}

// IsZero reports whether the identifier is empty.
func (id FileID) IsZero() bool {
	return id == ""
}

// HasSegmentSuffix reports whether id ends with suffix on a path-segment
// boundary. "src/components/Foo.js" has segment suffixes "Foo.js",
// "components/Foo.js" and itself, but not "oo.js".
func (id FileID) HasSegmentSuffix(suffix FileID) bool {
	if suffix == "" {
		return false
	}
	if id == suffix {
		return true
	}
	return strings.HasSuffix(string(id), "/"+string(suffix))
}

// quoteChars are stripped from both ends of planner-supplied paths.
const quoteChars = "\"'`"

// maxPasses bounds the fixed-point loop in Normalize.
const maxPasses = 8

// Normalizer turns raw path strings into FileIDs.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Normalizer struct {
	root     string
	foldCase bool
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithRoot makes absolute paths under root relative to it.
func WithRoot(root string) Option {
	return func(n *Normalizer) {
		n.root = root
	}
}

// WithCaseFolding overrides host detection of filesystem case sensitivity.
func WithCaseFolding(fold bool) Option {
	return func(n *Normalizer) {
		n.foldCase = fold
	}
}

// HostCaseInsensitive reports whether the default filesystem of the running
// platform is case-insensitive.
func HostCaseInsensitive() bool {
	return runtime.GOOS == "darwin" || runtime.GOOS == "windows"
}

// NewNormalizer creates a Normalizer.
//
// # Description
//
// Case folding defaults to HostCaseInsensitive. The root, when given, is
// itself cleaned so that "/repo/", "/repo" and "\\repo" behave the same.
//
// # Inputs
//
//   - opts: Optional root and case-folding overrides.
//
// # Outputs
//
//   - *Normalizer: Ready-to-use normalizer.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{foldCase: HostCaseInsensitive()}
	for _, opt := range opts {
		opt(n)
	}
	if n.root != "" {
		root := strings.ReplaceAll(strings.TrimSpace(n.root), "\\", "/")
		root = path.Clean(root)
		if n.foldCase {
			root = strings.ToLower(root)
		}
		if root == "." || root == "/" {
			root = ""
		}
		n.root = root
	}
	return n
}

// FoldsCase reports whether this normalizer lower-cases identifiers.
func (n *Normalizer) FoldsCase() bool {
	return n.foldCase
}

// Root returns the cleaned workspace root, or "" when none is configured.
func (n *Normalizer) Root() string {
	return n.root
}

// Normalize canonicalizes p.
//
// # Description
//
// Applies the canonicalization steps until the result stops changing, which
// makes the function idempotent even for inputs such as "a /" where cleaning
// exposes trailing whitespace. An input that reduces to nothing ("", ".",
// "./") yields the zero FileID.
//
// # Inputs
//
//   - p: Any path string as produced by a resolver, a planner or a compiler.
//
// # Outputs
//
//   - FileID: Canonical identifier.
func (n *Normalizer) Normalize(p string) FileID {
	s := p
	for i := 0; i < maxPasses; i++ {
		next := n.pass(s)
		if next == s {
			break
		}
		s = next
	}
	return FileID(s)
}

// NormalizeAll canonicalizes every element of ps, dropping empty results.
func (n *Normalizer) NormalizeAll(ps []string) []FileID {
	out := make([]FileID, 0, len(ps))
	for _, p := range ps {
		if id := n.Normalize(p); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func (n *Normalizer) pass(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, quoteChars)
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	s = strings.ReplaceAll(s, "\\", "/")
	if n.foldCase {
		s = strings.ToLower(s)
	}

	s = path.Clean(s)
	if n.root != "" {
		if s == n.root {
			return ""
		}
		if strings.HasPrefix(s, n.root+"/") {
			s = s[len(n.root)+1:]
		}
	}

	s = path.Clean(s)
	if s == "." {
		return ""
	}
	s = strings.TrimPrefix(s, "./")
	return s
}

var defaultNormalizer = NewNormalizer()

// Normalize canonicalizes p with host defaults and no workspace root.
func Normalize(p string) FileID {
	return defaultNormalizer.Normalize(p)
}
