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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Stratify/services/stratify/orchestrator"
	"github.com/AleutianAI/Stratify/services/stratify/report"
)

func newBriefCmd(a *app) *cobra.Command {
	var goal string
	cmd := &cobra.Command{
		Use:   "brief EDGES_FILE",
		Short: "Print the planning brief handed to the planner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			analysis, err := a.loadAnalysis(cmd.Context(), args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			brief := orchestrator.Brief(analysis, a.briefOptions(goal))
			if a.jsonOut {
				return report.WriteJSON(cmd.OutOrStdout(), map[string]string{"brief": brief})
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), brief)
			return err
		},
	}
	cmd.Flags().StringVarP(&goal, "goal", "g", "", "the change the planner should split")
	return cmd
}

func newScheduleCmd(a *app) *cobra.Command {
	var (
		goal     string
		planFile string
	)
	cmd := &cobra.Command{
		Use:   "schedule EDGES_FILE",
		Short: "Plan and order chunks without touching the workspace",
		Long: `Schedule runs the planner (or reads --plan), validates the chunks against
the graph and prints the level-by-level execution order and the validation
batch. Nothing is applied.`,
		Example: `  stratify schedule deps.json --goal "rename Config to Settings"
  stratify schedule deps.json --plan plan.json --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			analysis, err := a.loadAnalysis(cmd.Context(), args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			planner, err := a.planner(planFile)
			if err != nil {
				return err
			}
			opts := a.orchestratorOptions(goal)
			if planFile != "" {
				opts = append(opts, orchestrator.WithMaxPlanAttempts(1))
			}
			orch, err := orchestrator.New(planner, nil, nil, opts...)
			if err != nil {
				return err
			}

			sched, err := orch.Schedule(cmd.Context(), orchestrator.Request{Analysis: analysis, Goal: goal})
			if sched != nil {
				if a.jsonOut {
					if werr := report.WriteJSON(cmd.OutOrStdout(), sched); werr != nil {
						return werr
					}
				} else {
					report.New(cmd.OutOrStdout()).Schedule(sched)
				}
			}
			if err != nil && sched != nil && errors.Is(err, orchestrator.ErrNoAcceptedChunks) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
				return errReported
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&goal, "goal", "g", "", "the change the planner should split")
	cmd.Flags().StringVarP(&planFile, "plan", "p", "", "read the plan from a file instead of running the planner")
	return cmd
}
