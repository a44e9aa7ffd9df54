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
	"sort"

	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

// Level is one ordinal layer of the dependency graph.
type Level struct {
	// Index is the level number, starting at 0.
	Index int `json:"index"`

	// Files holds every file at this level, including cycle members,
	// in lexical order.
	Files []pathid.FileID `json:"files"`

	// Cycles holds the IDs of the cycles placed at this level.
	Cycles []int `json:"cycles,omitempty"`
}

// AssignLevels partitions the graph into dependency-respecting levels.
//
// # Description
//
// Each cycle is collapsed into one supernode. The sweep then repeatedly
// collects every unit with no unresolved dependency on another unit,
// places the whole wave at the next level and releases its dependents.
// Edges between members of the same cycle are ignored, so co-members
// share a level.
//
// If units remain but none has zero unresolved dependencies, the cycle list
// did not cover every strongly connected component. That is a violated
// invariant and is returned as *InconsistencyError.
//
// # Inputs
//
//   - g: The graph. Must not be nil.
//   - cycles: Output of DetectCycles for g.
//
// # Outputs
//
//   - []Level: Contiguous levels starting at 0. Every node appears exactly once.
//   - error: *InconsistencyError when cycles and g disagree.
//
// # Thread Safety
//
// Safe for concurrent use.
func AssignLevels(g *Graph, cycles []Cycle) ([]Level, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	n := len(g.nodes)

	// unit[i] is the supernode of node i. Units 0..len(cycles)-1 are the
	// cycles; every other node gets its own unit after that.
	unit := make([]int, n)
	for i := range unit {
		unit[i] = -1
	}
	for ci, c := range cycles {
		for _, m := range c.Members {
			i, ok := g.index[m]
			if !ok {
				return nil, &InconsistencyError{
					Stage:  "levels",
					Reason: "cycle member is not a graph node",
					Files:  []pathid.FileID{m},
				}
			}
			if unit[i] != -1 {
				return nil, &InconsistencyError{
					Stage:  "levels",
					Reason: "file belongs to more than one cycle",
					Files:  []pathid.FileID{m},
				}
			}
			unit[i] = ci
		}
	}
	units := len(cycles)
	for i := range unit {
		if unit[i] == -1 {
			unit[i] = units
			units++
		}
	}

	members := make([][]int, units)
	for i := 0; i < n; i++ {
		members[unit[i]] = append(members[unit[i]], i)
	}

	// Distinct unit-level edges: pending counts unresolved dependencies,
	// dependents lists who to release when a unit is placed.
	pending := make([]int, units)
	dependents := make([][]int, units)
	seen := make(map[[2]int]struct{})
	for u := 0; u < n; u++ {
		for _, v := range g.out[u] {
			from, to := unit[u], unit[v]
			if from == to {
				continue
			}
			key := [2]int{from, to}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			pending[from]++
			dependents[to] = append(dependents[to], from)
		}
	}

	var wave []int
	for x := 0; x < units; x++ {
		if pending[x] == 0 {
			wave = append(wave, x)
		}
	}

	var levels []Level
	placed := 0
	for len(wave) > 0 {
		lvl := Level{Index: len(levels)}
		var next []int
		for _, x := range wave {
			placed++
			for _, m := range members[x] {
				lvl.Files = append(lvl.Files, g.nodes[m])
			}
			if x < len(cycles) {
				lvl.Cycles = append(lvl.Cycles, cycles[x].ID)
			}
			for _, d := range dependents[x] {
				pending[d]--
				if pending[d] == 0 {
					next = append(next, d)
				}
			}
		}
		sort.Slice(lvl.Files, func(i, j int) bool { return lvl.Files[i] < lvl.Files[j] })
		sort.Ints(lvl.Cycles)
		levels = append(levels, lvl)
		wave = next
	}

	if placed != units {
		var stuck []pathid.FileID
		for x := 0; x < units; x++ {
			if pending[x] > 0 {
				for _, m := range members[x] {
					stuck = append(stuck, g.nodes[m])
				}
			}
		}
		sort.Slice(stuck, func(i, j int) bool { return stuck[i] < stuck[j] })
		return nil, &InconsistencyError{
			Stage:  "levels",
			Reason: "unresolved files with no zero-dependency candidate",
			Files:  stuck,
		}
	}
	return levels, nil
}
