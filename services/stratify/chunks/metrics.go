// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chunks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// pathResolutions tracks how each referenced path was resolved.
	//
	// Labels:
	//   - strategy: exact, suffix, ambiguous, unknown
	pathResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratify_chunk_path_resolutions_total",
		Help: "Total chunk path resolutions by strategy",
	}, []string{"strategy"})

	// chunkOutcomes counts validated chunks by outcome (accepted, rejected).
	chunkOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratify_chunks_validated_total",
		Help: "Total chunks validated by outcome",
	}, []string{"outcome"})

	// validationWarnings counts non-fatal findings by kind.
	validationWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratify_chunk_warnings_total",
		Help: "Total chunk validation warnings by kind",
	}, []string{"kind"})
)
