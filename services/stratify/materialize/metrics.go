// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package materialize

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// chunksMaterialized counts chunk materializations by outcome (applied, failed).
	chunksMaterialized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratify_materialize_chunks_total",
		Help: "Total chunk materializations by outcome",
	}, []string{"outcome"})

	// levelDuration tracks wall time per executed level.
	levelDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stratify_materialize_level_duration_seconds",
		Help:    "Wall time to materialize one level",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	// syntaxRejections counts patches rejected by the syntax check, by language.
	syntaxRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratify_materialize_syntax_rejections_total",
		Help: "Total patches rejected because the result did not parse",
	}, []string{"language"})
)
