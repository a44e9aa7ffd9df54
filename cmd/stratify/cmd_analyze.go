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
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Stratify/services/stratify/graph"
	"github.com/AleutianAI/Stratify/services/stratify/report"
)

// watchDebounce collapses the burst of events an editor save produces.
const watchDebounce = 250 * time.Millisecond

type analyzeResult struct {
	Summary      graph.Summary        `json:"summary"`
	Cycles       []graph.Cycle        `json:"cycles"`
	Levels       []graph.Level        `json:"levels"`
	Critical     []graph.CriticalFile `json:"critical"`
	Unreferenced []string             `json:"unreferenced"`
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		critical int
		watch    bool
	)
	cmd := &cobra.Command{
		Use:   "analyze EDGES_FILE",
		Short: "Report levels, cycles and critical files of a dependency graph",
		Long: `Analyze builds the dependency graph from an edge list, removes redundant
edges, detects cycles and assigns every file a level. Level 0 holds files
with no dependencies.

With --watch the file is re-analyzed whenever it changes.`,
		Example: `  stratify analyze deps.json
  stratify analyze deps.txt --critical 30 --json
  extract-deps | stratify analyze -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			render := func() error {
				analysis, err := a.loadAnalysis(cmd.Context(), args[0], cmd.InOrStdin())
				if err != nil {
					return err
				}
				return a.printAnalysis(cmd.OutOrStdout(), analysis, critical)
			}
			if err := render(); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			if args[0] == "-" {
				return fmt.Errorf("--watch needs a file, not stdin")
			}
			return watchFile(cmd.Context(), args[0], a.logger.Slog(), func() {
				if err := render(); err != nil {
					a.logger.Slog().Error("analysis failed", slog.String("error", err.Error()))
				}
			})
		},
	}
	cmd.Flags().IntVar(&critical, "critical", 15, "number of critical files to list")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-analyze when the edges file changes")
	return cmd
}

func (a *app) printAnalysis(w io.Writer, analysis *graph.AnalysisResult, critical int) error {
	if a.jsonOut {
		unref := analysis.Unreferenced()
		out := analyzeResult{
			Summary:      analysis.Summary(),
			Cycles:       analysis.Cycles(),
			Levels:       analysis.Levels(),
			Critical:     analysis.CriticalFiles(critical),
			Unreferenced: make([]string, len(unref)),
		}
		for i, f := range unref {
			out.Unreferenced[i] = string(f)
		}
		return report.WriteJSON(w, out)
	}
	report.New(w).Analysis(analysis, critical)
	return nil
}

// watchFile calls onChange after every debounced change to path until ctx
// ends. The parent directory is watched because editors often replace the
// file instead of writing it.
func watchFile(ctx context.Context, path string, logger *slog.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("watching for changes", slog.String("file", abs))

	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			timer.Reset(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", slog.String("error", err.Error()))
		case <-timer.C:
			onChange()
		}
	}
}
