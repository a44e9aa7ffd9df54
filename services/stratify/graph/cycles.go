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

// Cycle is a strongly connected component with at least two files.
type Cycle struct {
	// ID is the cycle's position in the DetectCycles result.
	ID int `json:"id"`

	// Members are the files of the component in lexical order.
	Members []pathid.FileID `json:"members"`
}

// Contains reports whether id is a member of the cycle.
func (c Cycle) Contains(id pathid.FileID) bool {
	k := sort.Search(len(c.Members), func(i int) bool { return c.Members[i] >= id })
	return k < len(c.Members) && c.Members[k] == id
}

// Size returns the number of members.
func (c Cycle) Size() int {
	return len(c.Members)
}

// DetectCycles finds every strongly connected component of size two or more.
//
// # Description
//
// Runs Tarjan's algorithm once over the graph, visiting nodes and successors
// in lexical order. A component is emitted when a node's low-link equals its
// discovery index. The DFS uses an explicit call stack so deep dependency
// chains cannot overflow the goroutine stack.
//
// Single-node components are not reported. Self-loops cannot occur because
// the graph never stores them.
//
// Time complexity: O(V + E)
// Space complexity: O(V)
//
// # Outputs
//
//   - []Cycle: Cycles ordered by their first (smallest) member, IDs 0..n-1.
//     No file appears in more than one cycle.
//
// # Thread Safety
//
// Safe for concurrent use.
func DetectCycles(g *Graph) []Cycle {
	n := len(g.nodes)
	const unvisited = -1

	index := 0
	nodeIndex := make([]int, n)
	lowLink := make([]int, n)
	onStack := make([]bool, n)
	for i := range nodeIndex {
		nodeIndex[i] = unvisited
	}
	sccStack := make([]int, 0, n)
	var sccs [][]int

	type callFrame struct {
		node      int
		edgeIndex int
		child     int
		returning bool
	}

	strongConnect := func(start int) {
		nodeIndex[start] = index
		lowLink[start] = index
		index++
		sccStack = append(sccStack, start)
		onStack[start] = true
		callStack := []callFrame{{node: start}}

		for len(callStack) > 0 {
			frame := &callStack[len(callStack)-1]

			if frame.returning {
				if lowLink[frame.child] < lowLink[frame.node] {
					lowLink[frame.node] = lowLink[frame.child]
				}
				frame.returning = false
			}

			descended := false
			succ := g.out[frame.node]
			for frame.edgeIndex < len(succ) {
				w := succ[frame.edgeIndex]
				frame.edgeIndex++

				if nodeIndex[w] == unvisited {
					nodeIndex[w] = index
					lowLink[w] = index
					index++
					sccStack = append(sccStack, w)
					onStack[w] = true

					frame.child = w
					frame.returning = true
					callStack = append(callStack, callFrame{node: w})
					descended = true
					break
				}
				if onStack[w] && nodeIndex[w] < lowLink[frame.node] {
					lowLink[frame.node] = nodeIndex[w]
				}
			}
			if descended {
				continue
			}

			// All successors done: emit a component if this node is its root.
			v := frame.node
			if lowLink[v] == nodeIndex[v] {
				var scc []int
				for {
					w := sccStack[len(sccStack)-1]
					sccStack = sccStack[:len(sccStack)-1]
					onStack[w] = false
					scc = append(scc, w)
					if w == v {
						break
					}
				}
				if len(scc) > 1 {
					sccs = append(sccs, scc)
				}
			}
			callStack = callStack[:len(callStack)-1]
		}
	}

	for i := 0; i < n; i++ {
		if nodeIndex[i] == unvisited {
			strongConnect(i)
		}
	}

	cycles := make([]Cycle, 0, len(sccs))
	for _, scc := range sccs {
		sort.Ints(scc)
		cycles = append(cycles, Cycle{Members: g.ids(scc)})
	}
	sort.Slice(cycles, func(i, j int) bool {
		return cycles[i].Members[0] < cycles[j].Members[0]
	})
	for i := range cycles {
		cycles[i].ID = i
	}
	return cycles
}
