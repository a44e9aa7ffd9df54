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

// Edge is a directed dependency: From depends on To.
type Edge struct {
	// From is the dependent file.
	From pathid.FileID

	// To is the dependency.
	To pathid.FileID
}

// Graph is an immutable directed dependency graph.
//
// Nodes are stored in lexical order and addressed internally by index.
// Successor (dependency) and predecessor (dependent) lists are sorted.
//
// Thread Safety: Safe for concurrent reads. There are no mutators.
type Graph struct {
	nodes []pathid.FileID
	index map[pathid.FileID]int
	out   [][]int
	in    [][]int
	edges int
}

// newGraph assembles a Graph from already-normalized nodes and edges.
// Edge endpoints are added as nodes; self-edges and duplicates are dropped.
func newGraph(nodes []pathid.FileID, edges []Edge) *Graph {
	set := make(map[pathid.FileID]struct{}, len(nodes)+len(edges))
	for _, n := range nodes {
		if n != "" {
			set[n] = struct{}{}
		}
	}
	for _, e := range edges {
		if e.From == "" || e.To == "" {
			continue
		}
		set[e.From] = struct{}{}
		set[e.To] = struct{}{}
	}

	sorted := make([]pathid.FileID, 0, len(set))
	for n := range set {
		sorted = append(sorted, n)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	g := &Graph{
		nodes: sorted,
		index: make(map[pathid.FileID]int, len(sorted)),
		out:   make([][]int, len(sorted)),
		in:    make([][]int, len(sorted)),
	}
	for i, n := range sorted {
		g.index[n] = i
	}

	seen := make(map[[2]int]struct{}, len(edges))
	for _, e := range edges {
		if e.From == "" || e.To == "" || e.From == e.To {
			continue
		}
		u, v := g.index[e.From], g.index[e.To]
		key := [2]int{u, v}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		g.out[u] = append(g.out[u], v)
		g.in[v] = append(g.in[v], u)
		g.edges++
	}
	for i := range g.out {
		sort.Ints(g.out[i])
		sort.Ints(g.in[i])
	}
	return g
}

// FromEdges builds a Graph from normalized edges plus optional isolated nodes.
//
// Self-edges and duplicate edges are dropped silently. Use Builder when raw,
// un-normalized input must be accounted for.
func FromEdges(edges []Edge, nodes ...pathid.FileID) *Graph {
	return newGraph(nodes, edges)
}

// NodeCount returns the number of files in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of dependency edges.
func (g *Graph) EdgeCount() int {
	return g.edges
}

// Nodes returns all files in lexical order.
func (g *Graph) Nodes() []pathid.FileID {
	out := make([]pathid.FileID, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Has reports whether id is a node of the graph.
func (g *Graph) Has(id pathid.FileID) bool {
	_, ok := g.index[id]
	return ok
}

// Dependencies returns the direct dependencies of id, sorted.
func (g *Graph) Dependencies(id pathid.FileID) []pathid.FileID {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.ids(g.out[i])
}

// Dependents returns the files that directly depend on id, sorted.
func (g *Graph) Dependents(id pathid.FileID) []pathid.FileID {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.ids(g.in[i])
}

// HasEdge reports whether from directly depends on to.
func (g *Graph) HasEdge(from, to pathid.FileID) bool {
	u, ok := g.index[from]
	if !ok {
		return false
	}
	v, ok := g.index[to]
	if !ok {
		return false
	}
	succ := g.out[u]
	k := sort.SearchInts(succ, v)
	return k < len(succ) && succ[k] == v
}

// Edges returns every edge ordered by (From, To).
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, g.edges)
	for u, succ := range g.out {
		for _, v := range succ {
			out = append(out, Edge{From: g.nodes[u], To: g.nodes[v]})
		}
	}
	return out
}

// Reachable reports whether to can be reached from from by following one or
// more dependency edges.
func (g *Graph) Reachable(from, to pathid.FileID) bool {
	u, ok := g.index[from]
	if !ok {
		return false
	}
	v, ok := g.index[to]
	if !ok {
		return false
	}
	visited := make([]bool, len(g.nodes))
	queue := append([]int(nil), g.out[u]...)
	for _, w := range queue {
		visited[w] = true
	}
	for len(queue) > 0 {
		x := queue[0]
		queue = queue[1:]
		if x == v {
			return true
		}
		for _, y := range g.out[x] {
			if !visited[y] {
				visited[y] = true
				queue = append(queue, y)
			}
		}
	}
	return false
}

// ReachableFrom returns every file reachable from id, sorted. id itself is
// included only when it lies on a cycle.
func (g *Graph) ReachableFrom(id pathid.FileID) []pathid.FileID {
	return g.closure(id, g.out)
}

// ReachingTo returns every file from which id is reachable, sorted. These
// are the transitive dependents of id.
func (g *Graph) ReachingTo(id pathid.FileID) []pathid.FileID {
	return g.closure(id, g.in)
}

func (g *Graph) closure(id pathid.FileID, adj [][]int) []pathid.FileID {
	start, ok := g.index[id]
	if !ok {
		return nil
	}
	visited := make([]bool, len(g.nodes))
	stack := append([]int(nil), adj[start]...)
	for _, w := range stack {
		visited[w] = true
	}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, y := range adj[x] {
			if !visited[y] {
				visited[y] = true
				stack = append(stack, y)
			}
		}
	}
	var idx []int
	for i, ok := range visited {
		if ok {
			idx = append(idx, i)
		}
	}
	return g.ids(idx)
}

func (g *Graph) ids(idx []int) []pathid.FileID {
	out := make([]pathid.FileID, len(idx))
	for i, k := range idx {
		out[i] = g.nodes[k]
	}
	return out
}

// =============================================================================
// BUILDER
// =============================================================================

// BuildStats counts what the Builder saw in its raw input.
type BuildStats struct {
	// RawEdges is the number of edges offered to the builder.
	RawEdges int `json:"raw_edges"`

	// SelfEdges is the number of edges dropped because both ends normalized
	// to the same file.
	SelfEdges int `json:"self_edges"`

	// DuplicateEdges is the number of edges that collapsed into an existing one.
	DuplicateEdges int `json:"duplicate_edges"`

	// EmptyPaths is the number of endpoints that normalized to nothing.
	EmptyPaths int `json:"empty_paths"`
}

// EdgeEntry is one record from the dependency-extraction collaborator:
// a dependent and the raw paths it depends on.
type EdgeEntry struct {
	Dependent    string   `json:"dependent" yaml:"dependent"`
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
}

// Builder assembles a Graph from raw, un-normalized edges.
//
// Thread Safety: NOT safe for concurrent use.
type Builder struct {
	norm  *pathid.Normalizer
	nodes map[pathid.FileID]struct{}
	edges map[Edge]struct{}
	order []Edge
	stats BuildStats
}

// NewBuilder creates a builder that normalizes every path with norm.
// A nil normalizer uses host defaults.
func NewBuilder(norm *pathid.Normalizer) *Builder {
	if norm == nil {
		norm = pathid.NewNormalizer()
	}
	return &Builder{
		norm:  norm,
		nodes: make(map[pathid.FileID]struct{}),
		edges: make(map[Edge]struct{}),
	}
}

// AddNode registers a file that may have no edges. Returns its FileID, or
// the zero FileID when p normalizes to nothing.
func (b *Builder) AddNode(p string) pathid.FileID {
	id := b.norm.Normalize(p)
	if id == "" {
		b.stats.EmptyPaths++
		return ""
	}
	b.nodes[id] = struct{}{}
	return id
}

// AddEdge records that dependent depends on dependency.
func (b *Builder) AddEdge(dependent, dependency string) {
	b.stats.RawEdges++
	from := b.norm.Normalize(dependent)
	to := b.norm.Normalize(dependency)
	if from == "" || to == "" {
		b.stats.EmptyPaths++
		if from != "" {
			b.nodes[from] = struct{}{}
		}
		if to != "" {
			b.nodes[to] = struct{}{}
		}
		return
	}
	b.nodes[from] = struct{}{}
	b.nodes[to] = struct{}{}
	if from == to {
		b.stats.SelfEdges++
		return
	}
	e := Edge{From: from, To: to}
	if _, dup := b.edges[e]; dup {
		b.stats.DuplicateEdges++
		return
	}
	b.edges[e] = struct{}{}
	b.order = append(b.order, e)
}

// AddEntries records every edge of every entry. A dependent with no
// dependencies is still added as a node.
func (b *Builder) AddEntries(entries []EdgeEntry) {
	for _, entry := range entries {
		b.AddNode(entry.Dependent)
		for _, dep := range entry.Dependencies {
			b.AddEdge(entry.Dependent, dep)
		}
	}
}

// Stats returns counters for the input seen so far.
func (b *Builder) Stats() BuildStats {
	return b.stats
}

// Build returns the immutable graph. The builder may keep accepting input
// afterwards; later Build calls include it.
func (b *Builder) Build() *Graph {
	nodes := make([]pathid.FileID, 0, len(b.nodes))
	for n := range b.nodes {
		nodes = append(nodes, n)
	}
	return newGraph(nodes, b.order)
}
