// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package topology orders validated chunks for level-by-level execution.
//
// Every chunk is placed at the highest level among its files. Chunks that
// touch the same dependency cycle, directly or through a chain of shared
// cycles, are merged into one CycleChunkGroup that is scheduled, applied
// and judged as a single unit. Within a level, units keep the order in
// which the planner first mentioned them.
package topology

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/AleutianAI/Stratify/services/stratify/chunks"
	"github.com/AleutianAI/Stratify/services/stratify/graph"
	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

var (
	// ErrUnknownFile indicates a chunk references a file the analysis does
	// not know. Chunks must pass the validator first.
	ErrUnknownFile = errors.New("chunk references unknown file")

	// ErrDuplicateChunk indicates two chunks share an ID.
	ErrDuplicateChunk = errors.New("duplicate chunk id")
)

// CycleChunkGroup is a set of chunks that touch one or more shared cycles.
type CycleChunkGroup struct {
	// ID is the group's index in SortResult.Groups.
	ID int `json:"id"`

	// Cycles lists the cycle IDs that tie the chunks together, sorted.
	Cycles []int `json:"cycles"`

	// ChunkIDs lists the member chunks in planner order.
	ChunkIDs []int `json:"chunk_ids"`

	// Level is the highest level among the member chunks.
	Level int `json:"level"`
}

// Unit is the smallest schedulable item: one standalone chunk or one
// whole cycle group.
type Unit struct {
	// Chunks holds one chunk, or every member of a cycle group in planner order.
	Chunks []chunks.Chunk `json:"chunks"`

	// Group is the CycleChunkGroup ID, or -1 for a standalone chunk.
	Group int `json:"group"`

	order int
}

// IsCycleGroup reports whether the unit is a cycle group.
func (u Unit) IsCycleGroup() bool {
	return u.Group >= 0
}

// Files returns the union of the unit's files, first-seen order.
func (u Unit) Files() []pathid.FileID {
	seen := make(map[pathid.FileID]bool)
	var out []pathid.FileID
	for _, c := range u.Chunks {
		for _, f := range c.Files {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// ChunkIDs returns the IDs of the unit's chunks.
func (u Unit) ChunkIDs() []int {
	ids := make([]int, len(u.Chunks))
	for i, c := range u.Chunks {
		ids[i] = c.ID
	}
	return ids
}

// ChunkLevel is one execution step: every unit whose level is Level.
type ChunkLevel struct {
	// Level is the graph level index; levels with no chunks are skipped.
	Level int `json:"level"`

	// Units run in this order when executed sequentially.
	Units []Unit `json:"units"`
}

// SortResult is the execution plan for one run.
type SortResult struct {
	Levels []ChunkLevel      `json:"levels"`
	Groups []CycleChunkGroup `json:"groups,omitempty"`
	level  map[int]int       // chunk ID -> level
	group  map[int]int       // chunk ID -> group ID
}

// Order returns the flat execution list: levels ascending, units in level
// order, group members in planner order.
func (r *SortResult) Order() []chunks.Chunk {
	var out []chunks.Chunk
	for _, lvl := range r.Levels {
		for _, u := range lvl.Units {
			out = append(out, u.Chunks...)
		}
	}
	return out
}

// ChunkCount returns the number of scheduled chunks.
func (r *SortResult) ChunkCount() int {
	return len(r.level)
}

// UnitCount returns the number of schedulable units.
func (r *SortResult) UnitCount() int {
	n := 0
	for _, lvl := range r.Levels {
		n += len(lvl.Units)
	}
	return n
}

// LevelOf returns the level a chunk was scheduled at.
func (r *SortResult) LevelOf(chunkID int) (int, bool) {
	l, ok := r.level[chunkID]
	return l, ok
}

// GroupOf returns the cycle group containing a chunk.
func (r *SortResult) GroupOf(chunkID int) (CycleChunkGroup, bool) {
	g, ok := r.group[chunkID]
	if !ok {
		return CycleChunkGroup{}, false
	}
	return r.Groups[g], true
}

// Sort schedules validated chunks against the analysis.
//
// # Description
//
// Each chunk's level is the maximum level of its files. Chunks touching
// a common cycle are merged with a union-find pass into CycleChunkGroups;
// a group's level is the maximum over its members and its position within
// the level is that of its first-mentioned member.
//
// # Inputs
//
//   - analysis: The graph analysis the chunks were validated against.
//   - accepted: Validated chunks in planner order.
//
// # Outputs
//
//   - *SortResult: Non-empty levels in ascending order.
//   - error: ErrUnknownFile or ErrDuplicateChunk.
//
// # Thread Safety
//
// Safe for concurrent use.
func Sort(analysis *graph.AnalysisResult, accepted []chunks.Chunk) (*SortResult, error) {
	n := len(accepted)
	levels := make([]int, n)
	seenID := make(map[int]bool, n)
	firstToucher := make(map[int]int) // cycle ID -> chunk index
	uf := newUnionFind(n)
	cyclic := make([]bool, n)

	for i, c := range accepted {
		if seenID[c.ID] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateChunk, c.ID)
		}
		seenID[c.ID] = true

		for _, f := range c.Files {
			lvl, ok := analysis.LevelOf(f)
			if !ok {
				return nil, fmt.Errorf("%w: chunk %d: %s", ErrUnknownFile, c.ID, f)
			}
			if lvl > levels[i] {
				levels[i] = lvl
			}
			cycleID, ok := analysis.CycleOf(f)
			if !ok {
				continue
			}
			cyclic[i] = true
			if j, ok := firstToucher[cycleID]; ok {
				uf.union(j, i)
			} else {
				firstToucher[cycleID] = i
			}
		}
	}

	// Collect components in order of their first member.
	type component struct {
		members []int
		cycles  map[int]bool
		level   int
	}
	byRoot := make(map[int]*component)
	var roots []int
	for i := range accepted {
		r := uf.find(i)
		comp, ok := byRoot[r]
		if !ok {
			comp = &component{cycles: make(map[int]bool)}
			byRoot[r] = comp
			roots = append(roots, r)
		}
		comp.members = append(comp.members, i)
		if levels[i] > comp.level {
			comp.level = levels[i]
		}
	}
	for cycleID, i := range firstToucher {
		byRoot[uf.find(i)].cycles[cycleID] = true
	}

	result := &SortResult{
		level: make(map[int]int, n),
		group: make(map[int]int),
	}
	byLevel := make(map[int][]Unit)
	for _, r := range roots {
		comp := byRoot[r]
		first := comp.members[0]
		unit := Unit{Group: -1, order: accepted[first].Order}
		for _, i := range comp.members {
			unit.Chunks = append(unit.Chunks, accepted[i])
			result.level[accepted[i].ID] = comp.level
		}

		if cyclic[first] {
			g := CycleChunkGroup{
				ID:       len(result.Groups),
				ChunkIDs: unit.ChunkIDs(),
				Level:    comp.level,
			}
			for c := range comp.cycles {
				g.Cycles = append(g.Cycles, c)
			}
			sort.Ints(g.Cycles)
			unit.Group = g.ID
			for _, id := range g.ChunkIDs {
				result.group[id] = g.ID
			}
			result.Groups = append(result.Groups, g)
		}
		byLevel[comp.level] = append(byLevel[comp.level], unit)
	}

	keys := make([]int, 0, len(byLevel))
	for l := range byLevel {
		keys = append(keys, l)
	}
	sort.Ints(keys)
	for _, l := range keys {
		units := byLevel[l]
		sort.SliceStable(units, func(a, b int) bool { return units[a].order < units[b].order })
		result.Levels = append(result.Levels, ChunkLevel{Level: l, Units: units})
	}

	slog.Default().With("component", "topology").Debug("chunks sorted",
		slog.Int("chunks", n),
		slog.Int("levels", len(result.Levels)),
		slog.Int("cycle_groups", len(result.Groups)),
	)
	return result, nil
}

// unionFind is a disjoint-set forest over chunk indices. The root of a set
// is always its smallest index, so sets are discovered in planner order.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
