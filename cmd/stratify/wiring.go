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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/AleutianAI/Stratify/services/stratify/check"
	"github.com/AleutianAI/Stratify/services/stratify/config"
	"github.com/AleutianAI/Stratify/services/stratify/deferred"
	"github.com/AleutianAI/Stratify/services/stratify/graph"
	"github.com/AleutianAI/Stratify/services/stratify/history"
	"github.com/AleutianAI/Stratify/services/stratify/materialize"
	"github.com/AleutianAI/Stratify/services/stratify/orchestrator"
	"github.com/AleutianAI/Stratify/services/stratify/pathid"
	"github.com/AleutianAI/Stratify/services/stratify/transaction"
)

// normalizer builds the path normalizer for the configured workspace.
func (a *app) normalizer() *pathid.Normalizer {
	opts := []pathid.Option{pathid.WithRoot(a.cfg.Workspace.Root)}
	if ci := a.cfg.Workspace.CaseInsensitive; ci != nil {
		opts = append(opts, pathid.WithCaseFolding(*ci))
	}
	return pathid.NewNormalizer(opts...)
}

// loadAnalysis reads an edge list and analyzes it. "-" reads stdin.
func (a *app) loadAnalysis(ctx context.Context, path string, stdin io.Reader) (*graph.AnalysisResult, error) {
	var (
		entries []graph.EdgeEntry
		err     error
	)
	switch {
	case path == "-":
		data, rerr := io.ReadAll(stdin)
		if rerr != nil {
			return nil, fmt.Errorf("reading stdin: %w", rerr)
		}
		entries, err = graph.ParseEdges(data, graph.EdgeFormat(a.edgeFormat))
	case a.edgeFormat != "" && a.edgeFormat != string(graph.EdgeFormatAuto):
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil, fmt.Errorf("reading edges file: %w", rerr)
		}
		entries, err = graph.ParseEdges(data, graph.EdgeFormat(a.edgeFormat))
	default:
		entries, err = graph.LoadEdgesFile(path)
	}
	if err != nil {
		return nil, err
	}

	b := graph.NewBuilder(a.normalizer())
	b.AddEntries(entries)
	return graph.Analyze(ctx, b.Build(),
		graph.WithBuildStats(b.Stats()),
		graph.WithLogger(a.logger.Slog()),
	)
}

// briefOptions sizes the planning brief from config.
func (a *app) briefOptions(goal string) orchestrator.BriefOptions {
	return orchestrator.BriefOptions{
		Goal:          goal,
		CriticalFiles: a.cfg.Planner.CriticalFiles,
		MaxCycles:     a.cfg.Planner.MaxCycles,
	}
}

// planner returns a static planner for planFile, or the configured command.
func (a *app) planner(planFile string) (orchestrator.Planner, error) {
	if planFile != "" {
		data, err := os.ReadFile(planFile)
		if err != nil {
			return nil, fmt.Errorf("reading plan: %w", err)
		}
		return orchestrator.StaticPlanner{Text: string(data)}, nil
	}
	if a.cfg.Planner.Command == "" {
		return nil, fmt.Errorf("no planner: pass --plan or set planner.command")
	}
	return orchestrator.NewCommandPlanner(a.cfg.Planner.Command, a.cfg.Workspace.Root, a.cfg.Planner.Timeout)
}

func (a *app) materializer() (materialize.Materializer, error) {
	mc := a.cfg.Materializer
	logger := a.logger.Slog()
	switch mc.Kind {
	case config.MaterializerCommand:
		return materialize.NewCommandMaterializer(mc.Command, a.cfg.Workspace.Root,
			materialize.WithCommandTimeout(mc.Timeout),
			materialize.WithCommandLogger(logger),
		)
	default:
		return materialize.NewDiffMaterializer(a.cfg.Workspace.Root,
			materialize.WithDiffNormalizer(a.normalizer()),
			materialize.WithSyntaxCheck(mc.SyntaxCheck),
			materialize.WithDiffLogger(logger),
		), nil
	}
}

func (a *app) validator() (*deferred.Validator, error) {
	cc := a.cfg.Checks
	root := a.cfg.Workspace.Root
	logger := a.logger.Slog()

	build, err := check.NewCommandChecker(check.KindBuild, cc.Build.Command,
		check.WithDir(root),
		check.WithTimeout(cc.Build.Timeout),
		check.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	opts := []deferred.Option{
		deferred.WithNormalizer(a.normalizer()),
		deferred.WithLogger(logger),
	}
	if cc.Regression.Command != "" {
		regression, err := check.NewCommandChecker(check.KindRegression, cc.Regression.Command,
			check.WithDir(root),
			check.WithTimeout(cc.Regression.Timeout),
			check.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, deferred.WithRegression(regression))
	}
	return deferred.New(build, opts...)
}

func (a *app) workspace() (transaction.Workspace, error) {
	ws := a.cfg.Workspace
	if !ws.Git {
		return transaction.NoopWorkspace{}, nil
	}
	return transaction.NewGitWorkspace(ws.Root,
		transaction.WithTimeout(ws.GitTimeout),
		transaction.WithAllowDirty(ws.AllowDirty),
		transaction.WithLogger(a.logger.Slog()),
	)
}

// openHistory opens the run history described by config.
func (a *app) openHistory() (*history.Store, error) {
	hc := history.DefaultConfig(a.cfg.HistoryDir())
	if a.cfg.History.InMemory {
		hc = history.InMemoryConfig()
	}
	hc.Logger = a.logger.Slog()
	return history.Open(hc)
}

// orchestratorOptions are the options shared by schedule, run and serve.
func (a *app) orchestratorOptions(goal string) []orchestrator.Option {
	return []orchestrator.Option{
		orchestrator.WithNormalizer(a.normalizer()),
		orchestrator.WithArtifactPatterns(a.cfg.Artifacts...),
		orchestrator.WithMaxPlanAttempts(a.cfg.Planner.MaxAttempts),
		orchestrator.WithWorkers(a.cfg.Materializer.Workers),
		orchestrator.WithBriefOptions(a.briefOptions(goal)),
		orchestrator.WithLogger(a.logger.Slog()),
	}
}

// warnf logs a non-fatal setup problem.
func (a *app) warnf(msg string, err error) {
	a.logger.Slog().Warn(msg, slog.String("error", err.Error()))
}
