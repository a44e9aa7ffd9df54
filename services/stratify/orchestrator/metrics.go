// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("stratify.orchestrator")
	meter  = otel.Meter("stratify.orchestrator")
)

var (
	runLatency   metric.Float64Histogram
	runTotal     metric.Int64Counter
	planAttempts metric.Int64Histogram
	chunksPerRun metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runLatency, err = meter.Float64Histogram(
			"stratify_run_duration_seconds",
			metric.WithDescription("Duration of orchestrated runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"stratify_run_total",
			metric.WithDescription("Total runs by failure kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		planAttempts, err = meter.Int64Histogram(
			"stratify_run_plan_attempts",
			metric.WithDescription("Planner attempts per run"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		chunksPerRun, err = meter.Int64Histogram(
			"stratify_run_chunks",
			metric.WithDescription("Accepted chunks per run"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordRunMetrics(ctx context.Context, r *OrchestrationResult) {
	if err := initMetrics(); err != nil {
		return
	}
	outcome := string(r.FailureKind)
	if r.Success {
		outcome = "committed"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	runLatency.Record(ctx, r.FinishedAt.Sub(r.StartedAt).Seconds(), attrs)
	runTotal.Add(ctx, 1, attrs)
	if r.Schedule != nil {
		planAttempts.Record(ctx, int64(r.Schedule.PlanAttempts))
		chunksPerRun.Record(ctx, int64(len(r.Schedule.Accepted)))
	}
}
