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
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

// randomGraph builds a graph with n nodes and roughly density*n*n edges.
// When acyclic is set, edges only point from higher to lower node numbers.
func randomGraph(rng *rand.Rand, n int, density float64, acyclic bool) *Graph {
	var edges []Edge
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j || (acyclic && j > i) {
				continue
			}
			if rng.Float64() < density {
				edges = append(edges, Edge{
					From: pathid.FileID(fmt.Sprintf("f%02d", i)),
					To:   pathid.FileID(fmt.Sprintf("f%02d", j)),
				})
			}
		}
	}
	nodes := make([]pathid.FileID, n)
	for i := range nodes {
		nodes[i] = pathid.FileID(fmt.Sprintf("f%02d", i))
	}
	return FromEdges(edges, nodes...)
}

func forRandomGraphs(t *testing.T, fn func(t *testing.T, g *Graph)) {
	t.Helper()
	for seed := int64(1); seed <= 40; seed++ {
		rng := rand.New(rand.NewSource(seed))
		n := 2 + rng.Intn(14)
		density := 0.05 + rng.Float64()*0.3
		acyclic := seed%2 == 0
		g := randomGraph(rng, n, density, acyclic)
		t.Run(fmt.Sprintf("seed=%d/n=%d/acyclic=%v", seed, n, acyclic), func(t *testing.T) {
			fn(t, g)
		})
	}
}

func TestReduce_PreservesReachability(t *testing.T) {
	forRandomGraphs(t, func(t *testing.T, g *Graph) {
		reduced, stats := Reduce(g)
		require.Equal(t, g.Nodes(), reduced.Nodes())
		assert.Equal(t, g.EdgeCount()-stats.RemovedEdges, reduced.EdgeCount())

		for _, a := range g.Nodes() {
			for _, b := range g.Nodes() {
				assert.Equal(t, g.Reachable(a, b), reduced.Reachable(a, b),
					"reachability %s -> %s changed", a, b)
			}
		}
		for _, e := range reduced.Edges() {
			assert.True(t, g.HasEdge(e.From, e.To), "reduce invented edge %v", e)
		}
	})
}

func TestReduce_Idempotent(t *testing.T) {
	forRandomGraphs(t, func(t *testing.T, g *Graph) {
		once, _ := Reduce(g)
		twice, stats := Reduce(once)
		assert.Zero(t, stats.RemovedEdges)
		assert.Equal(t, once.Edges(), twice.Edges())
	})
}

func TestReduce_EmptyGraph(t *testing.T) {
	reduced, stats := Reduce(FromEdges(nil, "only.go"))
	assert.Equal(t, 1, reduced.NodeCount())
	assert.Zero(t, stats.RemovedPercent)
}

func TestDetectCycles_Partition(t *testing.T) {
	forRandomGraphs(t, func(t *testing.T, g *Graph) {
		cycles := DetectCycles(g)

		owner := make(map[pathid.FileID]int)
		for i, c := range cycles {
			assert.Equal(t, i, c.ID)
			require.GreaterOrEqual(t, c.Size(), 2)
			for _, m := range c.Members {
				prev, dup := owner[m]
				assert.False(t, dup, "%s in cycles %d and %d", m, prev, c.ID)
				owner[m] = c.ID
			}
			for _, a := range c.Members {
				for _, b := range c.Members {
					if a != b {
						assert.True(t, g.Reachable(a, b))
					}
				}
			}
		}

		// Maximality: mutually reachable pairs share a cycle.
		for _, a := range g.Nodes() {
			for _, b := range g.Nodes() {
				if a == b || !g.Reachable(a, b) || !g.Reachable(b, a) {
					continue
				}
				ca, okA := owner[a]
				cb, okB := owner[b]
				assert.True(t, okA && okB && ca == cb, "%s and %s are mutually reachable", a, b)
			}
		}
	})
}

func TestDetectCycles_AcyclicHasNone(t *testing.T) {
	for seed := int64(1); seed <= 10; seed++ {
		rng := rand.New(rand.NewSource(seed))
		g := randomGraph(rng, 12, 0.3, true)
		assert.Empty(t, DetectCycles(g))
	}
}

func TestDetectCycles_DeepChainDoesNotRecurse(t *testing.T) {
	const n = 50000
	edges := make([]Edge, 0, n)
	for i := 0; i < n-1; i++ {
		edges = append(edges, Edge{
			From: pathid.FileID(fmt.Sprintf("n%06d", i)),
			To:   pathid.FileID(fmt.Sprintf("n%06d", i+1)),
		})
	}
	edges = append(edges, Edge{From: pathid.FileID(fmt.Sprintf("n%06d", n-1)), To: "n000000"})

	cycles := DetectCycles(FromEdges(edges))
	require.Len(t, cycles, 1)
	assert.Equal(t, n, cycles[0].Size())
}

func TestAnalyze_LevelProperties(t *testing.T) {
	forRandomGraphs(t, func(t *testing.T, g *Graph) {
		r, err := Analyze(context.Background(), g)
		require.NoError(t, err)

		// Totality: every node at exactly one level, levels contiguous.
		seen := make(map[pathid.FileID]bool)
		for i, lvl := range r.Levels() {
			assert.Equal(t, i, lvl.Index)
			assert.NotEmpty(t, lvl.Files)
			for _, f := range lvl.Files {
				assert.False(t, seen[f], "%s placed twice", f)
				seen[f] = true
			}
		}
		assert.Len(t, seen, g.NodeCount())

		// Monotonicity over the raw edges.
		for _, e := range g.Edges() {
			lf, _ := r.LevelOf(e.From)
			lt, _ := r.LevelOf(e.To)
			cf, cyclicF := r.CycleOf(e.From)
			ct, cyclicT := r.CycleOf(e.To)
			if cyclicF && cyclicT && cf == ct {
				assert.Equal(t, lf, lt, "cycle co-members %v split", e)
				continue
			}
			assert.Greater(t, lf, lt, "dependency %v not at a lower level", e)
		}

		// Files at level 0 have no dependencies outside their own cycle.
		for _, f := range r.Levels()[0].Files {
			for _, d := range g.Dependencies(f) {
				cf, _ := r.CycleOf(f)
				cd, ok := r.CycleOf(d)
				assert.True(t, ok && cd == cf, "level-0 file %s depends on %s", f, d)
			}
		}
	})
}

func TestAnalyze_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	g := randomGraph(rng, 15, 0.2, false)

	first, err := Analyze(context.Background(), g)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Analyze(context.Background(), g)
		require.NoError(t, err)
		assert.Equal(t, first.Levels(), again.Levels())
		assert.Equal(t, first.Cycles(), again.Cycles())
		assert.Equal(t, first.Graph().Edges(), again.Graph().Edges())
	}
}
