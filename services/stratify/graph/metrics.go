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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("stratify.graph")

// Prometheus metrics for graph analysis. Naming: stratify_graph_<metric>_<unit>.
var (
	// analysisDuration tracks end-to-end Analyze latency.
	analysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stratify_graph_analysis_duration_seconds",
		Help:    "Graph analysis duration in seconds",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// analysisTotal counts analyses by outcome (ok, inconsistent, canceled).
	analysisTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratify_graph_analysis_total",
		Help: "Total graph analyses by outcome",
	}, []string{"outcome"})

	// reductionPercent tracks how much of each graph was redundant.
	reductionPercent = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stratify_graph_reduction_percent",
		Help:    "Percentage of edges removed by transitive reduction",
		Buckets: []float64{0, 5, 10, 25, 50, 75, 90},
	})

	// cyclesFound counts detected cycles.
	cyclesFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stratify_graph_cycles_found_total",
		Help: "Total dependency cycles detected",
	})
)

// startAnalyzeSpan creates the span covering one Analyze call.
func startAnalyzeSpan(ctx context.Context, g *Graph) (context.Context, trace.Span) {
	return tracer.Start(ctx, "graph.Analyze",
		trace.WithAttributes(
			attribute.Int("graph.nodes", g.NodeCount()),
			attribute.Int("graph.edges", g.EdgeCount()),
		),
	)
}

// setAnalyzeSpanResult annotates the span with the analysis outcome.
func setAnalyzeSpanResult(span trace.Span, r *AnalysisResult) {
	span.SetAttributes(
		attribute.Int("graph.reduced_edges", r.reduction.ReducedEdges),
		attribute.Float64("graph.removed_percent", r.reduction.RemovedPercent),
		attribute.Int("graph.cycles", len(r.cycles)),
		attribute.Int("graph.levels", len(r.levels)),
	)
}
