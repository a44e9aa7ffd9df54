// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package check

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("stratify.check")
	meter  = otel.Meter("stratify.check")
)

var (
	checkLatency metric.Float64Histogram
	checkTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		checkLatency, err = meter.Float64Histogram(
			"stratify_check_duration_seconds",
			metric.WithDescription("Duration of external checks"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		checkTotal, err = meter.Int64Counter(
			"stratify_check_total",
			metric.WithDescription("Total external checks by kind and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startCheckSpan(ctx context.Context, kind Kind, runID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "check.Check",
		trace.WithAttributes(
			attribute.String("check.kind", string(kind)),
			attribute.String("run.id", runID),
		),
	)
}

func setCheckSpanResult(span trace.Span, o *Outcome) {
	span.SetAttributes(
		attribute.Bool("check.passed", o.Passed),
		attribute.Bool("check.timed_out", o.TimedOut),
		attribute.Int("check.exit_code", o.ExitCode),
	)
}

func outcomeLabel(o *Outcome) string {
	switch {
	case o.TimedOut:
		return "timeout"
	case o.Passed:
		return "pass"
	default:
		return "fail"
	}
}

func recordCheckMetrics(ctx context.Context, kind Kind, o *Outcome) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcomeLabel(o)),
	)
	checkLatency.Record(ctx, o.Duration.Seconds(), attrs)
	checkTotal.Add(ctx, 1, attrs)
}
