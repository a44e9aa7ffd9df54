// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package materialize

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/Stratify/services/stratify/chunks"
	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

const devNull = "/dev/null"

// DiffMaterializer applies the unified diff carried in Chunk.Patch.
//
// Every file the diff touches must be declared by the chunk. Hunks must
// match the current file content exactly; there is no fuzz. All files of a
// chunk are computed before any is written, so a bad hunk leaves the
// workspace untouched by that chunk.
//
// Thread Safety: Safe for concurrent use on chunks with disjoint files.
type DiffMaterializer struct {
	root        string
	norm        *pathid.Normalizer
	checkSyntax bool
	logger      *slog.Logger
}

// DiffOption configures a DiffMaterializer.
type DiffOption func(*DiffMaterializer)

// WithDiffNormalizer sets the normalizer for paths named in diffs.
func WithDiffNormalizer(n *pathid.Normalizer) DiffOption {
	return func(m *DiffMaterializer) {
		if n != nil {
			m.norm = n
		}
	}
}

// WithSyntaxCheck enables or disables the tree-sitter check. Enabled by default.
func WithSyntaxCheck(enabled bool) DiffOption {
	return func(m *DiffMaterializer) { m.checkSyntax = enabled }
}

// WithDiffLogger sets the logger.
func WithDiffLogger(l *slog.Logger) DiffOption {
	return func(m *DiffMaterializer) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewDiffMaterializer creates a materializer rooted at the workspace directory.
func NewDiffMaterializer(root string, opts ...DiffOption) *DiffMaterializer {
	m := &DiffMaterializer{
		root:        root,
		norm:        pathid.NewNormalizer(),
		checkSyntax: true,
		logger:      slog.Default().With("component", "materialize.diff"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// fileChange is the computed effect of one file diff.
type fileChange struct {
	file    pathid.FileID
	abs     string
	content []byte
	remove  bool
	mode    fs.FileMode
}

// Materialize implements Materializer.
func (m *DiffMaterializer) Materialize(ctx context.Context, c chunks.Chunk) error {
	if strings.TrimSpace(c.Patch) == "" {
		return ErrNoPatch
	}
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(c.Patch)).ReadAllFiles()
	if err != nil {
		return fmt.Errorf("%w: parsing diff: %v", ErrPatchMismatch, err)
	}
	if len(fileDiffs) == 0 {
		return ErrNoPatch
	}

	declared := make(map[pathid.FileID]bool, len(c.Files))
	for _, f := range c.Files {
		declared[f] = true
	}

	changes := make([]fileChange, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		change, err := m.compute(ctx, fd, declared)
		if err != nil {
			return err
		}
		changes = append(changes, change)
	}

	for _, ch := range changes {
		if err := writeChange(ch); err != nil {
			return err
		}
	}
	m.logger.Debug("patch applied",
		slog.Int("chunk_id", c.ID),
		slog.Int("files", len(changes)),
	)
	return nil
}

func (m *DiffMaterializer) compute(ctx context.Context, fd *diff.FileDiff, declared map[pathid.FileID]bool) (fileChange, error) {
	name := fd.NewName
	remove := name == devNull
	if remove {
		name = fd.OrigName
	}
	file := m.norm.Normalize(stripDiffPrefix(name))
	if file == "" || file == ".." || strings.HasPrefix(string(file), "../") || path.IsAbs(string(file)) {
		return fileChange{}, fmt.Errorf("%w: %s", ErrOutsideWorkspace, name)
	}
	if !declared[file] {
		return fileChange{}, fmt.Errorf("%w: %s", ErrUndeclaredFile, file)
	}

	change := fileChange{
		file:   file,
		abs:    filepath.Join(m.root, filepath.FromSlash(string(file))),
		remove: remove,
		mode:   0o644,
	}

	var original []byte
	info, err := os.Stat(change.abs)
	switch {
	case err == nil:
		change.mode = info.Mode().Perm()
		original, err = os.ReadFile(change.abs)
		if err != nil {
			return fileChange{}, fmt.Errorf("reading %s: %w", file, err)
		}
		if fd.OrigName == devNull {
			return fileChange{}, fmt.Errorf("%w: %s already exists", ErrPatchMismatch, file)
		}
	case errors.Is(err, fs.ErrNotExist):
		if fd.OrigName != devNull {
			return fileChange{}, fmt.Errorf("%w: %s does not exist", ErrPatchMismatch, file)
		}
	default:
		return fileChange{}, fmt.Errorf("stat %s: %w", file, err)
	}
	if remove {
		return change, nil
	}

	content, err := applyHunks(original, fd.Hunks)
	if err != nil {
		return fileChange{}, fmt.Errorf("%w: %s: %v", ErrPatchMismatch, file, err)
	}
	if m.checkSyntax {
		if err := CheckSyntax(ctx, string(file), content); err != nil {
			return fileChange{}, err
		}
	}
	change.content = content
	return change, nil
}

// stripDiffPrefix removes the conventional a/ and b/ prefixes.
func stripDiffPrefix(name string) string {
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}

// applyHunks applies hunks to original, verifying every context and removed
// line against the current content.
func applyHunks(original []byte, hunks []*diff.Hunk) ([]byte, error) {
	orig := strings.SplitAfter(string(original), "\n")
	if len(orig) > 0 && orig[len(orig)-1] == "" {
		orig = orig[:len(orig)-1]
	}

	var out strings.Builder
	idx := 0
	for n, h := range hunks {
		start := int(h.OrigStartLine) - 1
		if h.OrigLines == 0 {
			start = int(h.OrigStartLine)
		}
		if start < idx || start > len(orig) {
			return nil, fmt.Errorf("hunk %d starts at line %d, outside the file or overlapping", n+1, h.OrigStartLine)
		}
		for ; idx < start; idx++ {
			out.WriteString(orig[idx])
		}

		lines := strings.SplitAfter(string(h.Body), "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			tag, text := byte(' '), ""
			if line != "\n" {
				tag, text = line[0], line[1:]
			}
			switch tag {
			case ' ', '-':
				if idx >= len(orig) {
					return nil, fmt.Errorf("hunk %d runs past end of file", n+1)
				}
				if trimEOL(orig[idx]) != trimEOL(text) {
					return nil, fmt.Errorf("hunk %d: line %d is %q, patch expects %q",
						n+1, idx+1, trimEOL(orig[idx]), trimEOL(text))
				}
				if tag == ' ' {
					out.WriteString(orig[idx])
				}
				idx++
			case '+':
				out.WriteString(text)
			case '\\':
				// "\ No newline at end of file"; go-diff already trimmed the newline.
			default:
				return nil, fmt.Errorf("hunk %d: unexpected line %q", n+1, trimEOL(line))
			}
		}
	}
	for ; idx < len(orig); idx++ {
		out.WriteString(orig[idx])
	}
	return []byte(out.String()), nil
}

func trimEOL(s string) string {
	return strings.TrimRight(s, "\r\n")
}

// writeChange writes through a temp file and rename so readers never see a
// half-written file.
func writeChange(ch fileChange) error {
	if ch.remove {
		if err := os.Remove(ch.abs); err != nil {
			return fmt.Errorf("removing %s: %w", ch.file, err)
		}
		return nil
	}
	dir := filepath.Dir(ch.abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".stratify-*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", ch.file, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(ch.content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", ch.file, err)
	}
	if err := tmp.Chmod(ch.mode); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", ch.file, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", ch.file, err)
	}
	if err := os.Rename(tmp.Name(), ch.abs); err != nil {
		return fmt.Errorf("writing %s: %w", ch.file, err)
	}
	return nil
}
