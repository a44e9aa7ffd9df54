// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders analyses, schedules and run results for people.
//
// Output is styled with lipgloss when writing to a terminal and plain text
// otherwise, so piped output stays grep-friendly. Machine-readable output is
// WriteJSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette shared with the rest of the CLI.
var (
	colorTitle   = lipgloss.Color("#2CD7C7")
	colorAccent  = lipgloss.Color("#20B9B4")
	colorBorder  = lipgloss.Color("#16858E")
	colorMuted   = lipgloss.Color("#2C4A54")
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
)

type styles struct {
	title   lipgloss.Style
	heading lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	box     lipgloss.Style
}

func styledStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(colorTitle),
		heading: lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		label:   lipgloss.NewStyle().Bold(true),
		muted:   lipgloss.NewStyle().Foreground(colorMuted),
		success: lipgloss.NewStyle().Foreground(colorSuccess),
		warning: lipgloss.NewStyle().Foreground(colorWarning),
		failure: lipgloss.NewStyle().Foreground(colorError).Bold(true),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1),
	}
}

func plainStyles() styles {
	s := lipgloss.NewStyle()
	return styles{title: s, heading: s, label: s, muted: s, success: s, warning: s, failure: s, box: s}
}

// Renderer writes human-readable reports.
//
// Thread Safety: NOT safe for concurrent use.
type Renderer struct {
	w        io.Writer
	styled   bool
	st       styles
	maxFiles int
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithStyle forces styling on or off instead of detecting a terminal.
func WithStyle(styled bool) Option {
	return func(r *Renderer) { r.styled = styled }
}

// WithMaxFiles caps the files listed per level, cycle or chunk. Zero lists
// everything.
func WithMaxFiles(n int) Option {
	return func(r *Renderer) {
		if n >= 0 {
			r.maxFiles = n
		}
	}
}

// New creates a Renderer for w. Styling is on when w is a terminal and
// NO_COLOR is unset.
func New(w io.Writer, opts ...Option) *Renderer {
	r := &Renderer{w: w, styled: IsTerminal(w), maxFiles: 8}
	for _, opt := range opts {
		opt(r)
	}
	if r.styled {
		r.st = styledStyles()
	} else {
		r.st = plainStyles()
	}
	return r
}

// IsTerminal reports whether w is a terminal that accepts color.
func IsTerminal(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// Helpers
// =============================================================================

func (r *Renderer) printf(format string, args ...any) {
	fmt.Fprintf(r.w, format, args...)
}

func (r *Renderer) title(s string) {
	r.printf("%s\n", r.st.title.Render(s))
}

func (r *Renderer) heading(s string) {
	r.printf("\n%s\n", r.st.heading.Render(s))
}

func (r *Renderer) field(label string, value any) {
	r.printf("  %s %v\n", r.st.label.Render(label+":"), value)
}

// boxed wraps lines in a border when styled and indents them otherwise.
func (r *Renderer) boxed(lines []string) {
	if r.styled {
		r.printf("%s\n", r.st.box.Render(strings.Join(lines, "\n")))
		return
	}
	for _, l := range lines {
		r.printf("  %s\n", l)
	}
}

// list joins items, truncating past maxFiles.
func (r *Renderer) list(items []string) string {
	if r.maxFiles > 0 && len(items) > r.maxFiles {
		more := len(items) - r.maxFiles
		return strings.Join(items[:r.maxFiles], ", ") + r.st.muted.Render(fmt.Sprintf(" … and %d more", more))
	}
	return strings.Join(items, ", ")
}

func (r *Renderer) status(ok bool, okText, failText string) string {
	if ok {
		return r.st.success.Render("✓ " + okText)
	}
	return r.st.failure.Render("✗ " + failText)
}

func toStrings[T ~string](ids []T) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func intsString(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}
