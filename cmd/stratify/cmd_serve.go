// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Stratify/services/stratify/api"
	"github.com/AleutianAI/Stratify/services/stratify/orchestrator"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve analysis, scheduling and run history over HTTP",
		Long: `Serve exposes the analysis, brief and schedule operations and the run
history as a JSON API under /v1/stratify, plus Prometheus metrics on
/metrics. Runs are not started over HTTP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := a.cfg.Server
			if addr == "" {
				addr = sc.Addr
			}
			opts := []api.Option{
				api.WithNormalizer(a.normalizer()),
				api.WithCacheSize(sc.CacheSize),
				api.WithMaxBodyBytes(sc.MaxBodyBytes),
				api.WithMaxNodes(sc.MaxNodes),
				api.WithBriefOptions(a.briefOptions("")),
				api.WithOrchestratorOptions(
					orchestrator.WithArtifactPatterns(a.cfg.Artifacts...),
					orchestrator.WithMaxPlanAttempts(a.cfg.Planner.MaxAttempts),
					orchestrator.WithBriefOptions(a.briefOptions("")),
				),
				api.WithVersion(version),
				api.WithLogger(a.logger.Slog()),
			}
			if a.cfg.Planner.Command != "" {
				p, err := a.planner("")
				if err != nil {
					return err
				}
				opts = append(opts, api.WithPlanner(p))
			}
			store, err := a.openHistory()
			if err != nil {
				a.warnf("run history unavailable, /runs is disabled", err)
			} else {
				defer store.Close()
				opts = append(opts, api.WithHistory(store))
			}

			srv, err := api.New(opts...)
			if err != nil {
				return err
			}
			return srv.Serve(cmd.Context(), addr, sc.ReadTimeout, sc.WriteTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
