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
	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

// ReductionStats describes what Reduce removed. Diagnostic only.
type ReductionStats struct {
	// OriginalEdges is the edge count before reduction.
	OriginalEdges int `json:"original_edges"`

	// ReducedEdges is the edge count after reduction.
	ReducedEdges int `json:"reduced_edges"`

	// RemovedEdges is OriginalEdges - ReducedEdges.
	RemovedEdges int `json:"removed_edges"`

	// RemovedPercent is RemovedEdges as a percentage of OriginalEdges.
	// Zero when the graph has no edges.
	RemovedPercent float64 `json:"removed_percent"`
}

// Reduce removes every edge that adds no reachability.
//
// # Description
//
// Edges are visited in (From, To) order. An edge (A, B) is dropped when B
// is still reachable from A in the current graph without using (A, B)
// directly. Each removal leaves the transitive closure unchanged, so the
// reduced graph has exactly the closure of the input. Because the check
// runs against the graph as already reduced, the result is deterministic
// and a second Reduce removes nothing.
//
// Cycles are handled naturally: an edge inside a strongly connected
// component is kept unless another path inside the component replaces it.
//
// Time complexity: O(E * (V + E)).
//
// # Inputs
//
//   - g: Graph to reduce. Must not be nil.
//
// # Outputs
//
//   - *Graph: New reduced graph with the same nodes.
//   - ReductionStats: Edge counts before and after.
//
// # Thread Safety
//
// Safe for concurrent use; g is not modified.
func Reduce(g *Graph) (*Graph, ReductionStats) {
	n := len(g.nodes)
	live := make([]map[int]bool, n)
	for u := range g.out {
		live[u] = make(map[int]bool, len(g.out[u]))
		for _, v := range g.out[u] {
			live[u][v] = true
		}
	}

	visited := make([]int, n)
	epoch := 0
	queue := make([]int, 0, n)

	// reachableWithout reports whether v is reachable from u with edge
	// (u, v) ignored. Successors are walked in sorted order via g.out and
	// filtered by live.
	reachableWithout := func(u, v int) bool {
		epoch++
		queue = queue[:0]
		visited[u] = epoch
		queue = append(queue, u)
		for head := 0; head < len(queue); head++ {
			x := queue[head]
			for _, y := range g.out[x] {
				if !live[x][y] {
					continue
				}
				if x == u && y == v {
					continue
				}
				if y == v {
					return true
				}
				if visited[y] != epoch {
					visited[y] = epoch
					queue = append(queue, y)
				}
			}
		}
		return false
	}

	removed := 0
	for u := range g.out {
		for _, v := range g.out[u] {
			if reachableWithout(u, v) {
				live[u][v] = false
				removed++
			}
		}
	}

	kept := make([]Edge, 0, g.edges-removed)
	for u := range g.out {
		for _, v := range g.out[u] {
			if live[u][v] {
				kept = append(kept, Edge{From: g.nodes[u], To: g.nodes[v]})
			}
		}
	}

	stats := ReductionStats{
		OriginalEdges: g.edges,
		ReducedEdges:  len(kept),
		RemovedEdges:  removed,
	}
	if g.edges > 0 {
		stats.RemovedPercent = float64(removed) * 100 / float64(g.edges)
	}

	nodes := make([]pathid.FileID, len(g.nodes))
	copy(nodes, g.nodes)
	return newGraph(nodes, kept), stats
}
