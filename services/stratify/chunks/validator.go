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
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/AleutianAI/Stratify/services/stratify/graph"
	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

// DefaultMaxSuggestions bounds the "did you mean" list on unknown paths.
const DefaultMaxSuggestions = 3

// maxLevelSpan is the widest level span a chunk may have without a warning.
const maxLevelSpan = 2

// Validator reconciles planner chunks against one graph analysis.
//
// Thread Safety: Safe for concurrent use after construction.
type Validator struct {
	analysis       *graph.AnalysisResult
	norm           *pathid.Normalizer
	logger         *slog.Logger
	maxSuggestions int

	byBase map[string][]pathid.FileID
	names  []string
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithNormalizer sets the path normalizer. It must match the one used to
// build the graph.
func WithNormalizer(n *pathid.Normalizer) ValidatorOption {
	return func(v *Validator) {
		if n != nil {
			v.norm = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ValidatorOption {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithMaxSuggestions sets how many fuzzy suggestions an unknown path gets.
// Zero disables suggestions.
func WithMaxSuggestions(n int) ValidatorOption {
	return func(v *Validator) {
		if n >= 0 {
			v.maxSuggestions = n
		}
	}
}

// NewValidator indexes the analysis for path resolution.
func NewValidator(analysis *graph.AnalysisResult, opts ...ValidatorOption) *Validator {
	v := &Validator{
		analysis:       analysis,
		norm:           pathid.NewNormalizer(),
		logger:         slog.Default().With("component", "chunks"),
		maxSuggestions: DefaultMaxSuggestions,
		byBase:         make(map[string][]pathid.FileID),
	}
	for _, opt := range opts {
		opt(v)
	}
	for _, f := range analysis.Files() {
		v.byBase[f.Base()] = append(v.byBase[f.Base()], f)
		v.names = append(v.names, string(f))
	}
	return v
}

// Resolve maps one planner path to a known file.
//
// # Description
//
// The path is normalized, then matched exactly. Failing that, every known
// file whose trailing path segments equal the path is a candidate; leading
// "../" and "/" are ignored for this comparison. Exactly one candidate is
// accepted (suffix reports true). Zero or several candidates fail with
// ErrUnknownPath or ErrAmbiguousPath.
//
// # Outputs
//
//   - pathid.FileID: The resolved file.
//   - bool: True when resolution used the suffix match.
//   - *ResolutionError: Non-nil on failure. ChunkID is left zero.
func (v *Validator) Resolve(raw string) (pathid.FileID, bool, *ResolutionError) {
	id := v.norm.Normalize(raw)
	if id == "" {
		pathResolutions.WithLabelValues("unknown").Inc()
		return "", false, &ResolutionError{Path: raw, Kind: ErrUnknownPath}
	}
	if v.analysis.Has(id) {
		pathResolutions.WithLabelValues("exact").Inc()
		return id, false, nil
	}

	suffix := pathid.FileID(trimRelative(string(id)))
	var candidates []pathid.FileID
	if suffix != "" {
		for _, f := range v.byBase[suffix.Base()] {
			if f.HasSegmentSuffix(suffix) {
				candidates = append(candidates, f)
			}
		}
	}

	switch len(candidates) {
	case 1:
		pathResolutions.WithLabelValues("suffix").Inc()
		return candidates[0], true, nil
	case 0:
		pathResolutions.WithLabelValues("unknown").Inc()
		return "", false, &ResolutionError{
			Path:        raw,
			Kind:        ErrUnknownPath,
			Suggestions: v.suggest(id),
		}
	default:
		pathResolutions.WithLabelValues("ambiguous").Inc()
		return "", false, &ResolutionError{
			Path:       raw,
			Kind:       ErrAmbiguousPath,
			Candidates: candidates,
		}
	}
}

// trimRelative drops leading "/" and "../" segments.
func trimRelative(p string) string {
	for {
		switch {
		case strings.HasPrefix(p, "/"):
			p = p[1:]
		case strings.HasPrefix(p, "../"):
			p = p[3:]
		case p == "..":
			return ""
		default:
			return p
		}
	}
}

// suggest returns up to maxSuggestions known files that fuzzily match the
// base name of id.
func (v *Validator) suggest(id pathid.FileID) []pathid.FileID {
	if v.maxSuggestions == 0 || len(v.names) == 0 {
		return nil
	}
	matches := fuzzy.Find(path.Base(string(id)), v.names)
	var out []pathid.FileID
	for i := 0; i < len(matches) && i < v.maxSuggestions; i++ {
		out = append(out, pathid.FileID(matches[i].Str))
	}
	return out
}

// Validate judges every raw chunk and returns the accepted ones.
//
// # Description
//
// A chunk is rejected when it references no paths or when any of its paths
// fails to resolve; all failures of a rejected chunk are reported. Accepted
// chunks keep planner order and get their files deduplicated. Warnings are
// raised for suffix matches, for chunks spanning more than two distinct
// levels, and for chunks touching only part of a cycle.
//
// The validator only judges. Retrying the planner when nothing is accepted
// is the caller's decision.
//
// # Thread Safety
//
// Safe for concurrent use.
func (v *Validator) Validate(raw []RawChunk) *ParseResult {
	result := &ParseResult{}

	for order, rc := range raw {
		var (
			files    []pathid.FileID
			seen     = make(map[pathid.FileID]bool)
			errs     []*ResolutionError
			warnings []Warning
		)

		if len(rc.Paths) == 0 {
			errs = append(errs, &ResolutionError{ChunkID: rc.ID, Kind: ErrEmptyChunk})
		}
		for _, p := range rc.Paths {
			id, viaSuffix, rerr := v.Resolve(p)
			if rerr != nil {
				rerr.ChunkID = rc.ID
				errs = append(errs, rerr)
				continue
			}
			if viaSuffix {
				warnings = append(warnings, Warning{
					ChunkID: rc.ID,
					Kind:    WarnSuffixMatch,
					Message: fmt.Sprintf("path %q resolved to %s by suffix match", p, id),
				})
			}
			if !seen[id] {
				seen[id] = true
				files = append(files, id)
			}
		}

		if len(errs) > 0 {
			chunkOutcomes.WithLabelValues("rejected").Inc()
			result.Rejected = append(result.Rejected, RejectedChunk{Chunk: rc, Errors: errs})
			for _, e := range errs {
				v.logger.Warn("chunk rejected",
					slog.Int("chunk_id", rc.ID),
					slog.String("path", e.Path),
					slog.String("error", e.Error()),
				)
			}
			continue
		}

		warnings = append(warnings, v.structuralWarnings(rc.ID, files)...)
		for _, w := range warnings {
			validationWarnings.WithLabelValues(string(w.Kind)).Inc()
			v.logger.Debug("chunk warning",
				slog.Int("chunk_id", w.ChunkID),
				slog.String("kind", string(w.Kind)),
				slog.String("message", w.Message),
			)
		}
		result.Warnings = append(result.Warnings, warnings...)

		chunkOutcomes.WithLabelValues("accepted").Inc()
		result.Accepted = append(result.Accepted, Chunk{
			ID:        rc.ID,
			Order:     order,
			Files:     files,
			Rationale: rc.Rationale,
			Patch:     rc.Patch,
		})
	}
	return result
}

// ValidatePlan validates a parsed plan and carries its parse warnings over.
func (v *Validator) ValidatePlan(plan *Plan) *ParseResult {
	result := v.Validate(plan.Chunks)
	result.Warnings = append(append([]Warning(nil), plan.Warnings...), result.Warnings...)
	return result
}

// structuralWarnings flags wide level spans and partial cycles.
func (v *Validator) structuralWarnings(chunkID int, files []pathid.FileID) []Warning {
	var warnings []Warning

	levels := make(map[int]bool)
	touched := make(map[int]int)
	for _, f := range files {
		if lvl, ok := v.analysis.LevelOf(f); ok {
			levels[lvl] = true
		}
		if c, ok := v.analysis.CycleOf(f); ok {
			touched[c]++
		}
	}
	if len(levels) > maxLevelSpan {
		list := make([]int, 0, len(levels))
		for l := range levels {
			list = append(list, l)
		}
		sort.Ints(list)
		warnings = append(warnings, Warning{
			ChunkID: chunkID,
			Kind:    WarnSpansLevels,
			Message: fmt.Sprintf("chunk touches %d distinct levels %v", len(list), list),
		})
	}

	ids := make([]int, 0, len(touched))
	for c := range touched {
		ids = append(ids, c)
	}
	sort.Ints(ids)
	for _, c := range ids {
		cycle, ok := v.analysis.Cycle(c)
		if !ok || touched[c] >= cycle.Size() {
			continue
		}
		warnings = append(warnings, Warning{
			ChunkID: chunkID,
			Kind:    WarnPartialCycle,
			Message: fmt.Sprintf("chunk touches %d of %d members of cycle %d", touched[c], cycle.Size(), c),
		})
	}
	return warnings
}
