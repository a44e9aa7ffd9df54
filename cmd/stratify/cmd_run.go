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

func newRunCmd(a *app) *cobra.Command {
	var (
		goal     string
		planFile string
		noRecord bool
	)
	cmd := &cobra.Command{
		Use:   "run EDGES_FILE",
		Short: "Plan, apply and validate a change as one transaction",
		Long: `Run schedules the change, applies every chunk level by level, then runs
the build check (and the regression check when externally observable
files were touched) once over the whole batch.

A passing batch is committed once. Any failure resets the workspace to the
commit it started from and reports the chunks that probably caused it.
Every run is recorded in the history unless --no-record is given.`,
		Example: `  stratify run deps.json --goal "migrate to the v2 client"
  stratify run deps.json --plan plan.json --root ../service`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			analysis, err := a.loadAnalysis(ctx, args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			planner, err := a.planner(planFile)
			if err != nil {
				return err
			}
			m, err := a.materializer()
			if err != nil {
				return err
			}
			v, err := a.validator()
			if err != nil {
				return err
			}
			ws, err := a.workspace()
			if err != nil {
				return err
			}

			opts := append(a.orchestratorOptions(goal), orchestrator.WithWorkspace(ws))
			if planFile != "" {
				opts = append(opts, orchestrator.WithMaxPlanAttempts(1))
			}
			if !noRecord {
				store, herr := a.openHistory()
				if herr != nil {
					a.warnf("run history unavailable, this run will not be recorded", herr)
				} else {
					defer store.Close()
					opts = append(opts, orchestrator.WithRecorder(store))
				}
			}

			orch, err := orchestrator.New(planner, m, v, opts...)
			if err != nil {
				return err
			}
			result, runErr := orch.Run(ctx, orchestrator.Request{Analysis: analysis, Goal: goal})

			if a.jsonOut {
				if err := report.WriteJSON(cmd.OutOrStdout(), result); err != nil {
					return errors.Join(runErr, err)
				}
			} else {
				report.New(cmd.OutOrStdout()).Result(result)
			}
			if runErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: run %s failed (%s)\n", result.RunID, result.FailureKind)
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&goal, "goal", "g", "", "the change the planner should split")
	cmd.Flags().StringVarP(&planFile, "plan", "p", "", "read the plan from a file instead of running the planner")
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "do not record the run in the history")
	return cmd
}
