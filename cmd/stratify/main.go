// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command stratify schedules a large multi-file change along the
// repository's dependency levels and applies it as one transaction.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Stratify/pkg/logging"
	"github.com/AleutianAI/Stratify/services/stratify/config"
	"github.com/AleutianAI/Stratify/services/stratify/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errReported marks a failure whose details were already printed.
var errReported = errors.New("failed")

// app holds state shared by every subcommand.
type app struct {
	configPath string
	jsonOut    bool
	logLevel   string
	root       string
	edgeFormat string

	cfg      *config.Config
	logger   *logging.Logger
	shutdown func(context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	stop()
	if terr := a.teardown(); terr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", terr)
	}
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "stratify",
		Short: "Apply large changes level by level along the dependency graph",
		Long: `Stratify analyzes a repository's file dependency graph, asks a planner to
split a change into chunks, orders the chunks so dependencies are edited
before their dependents, applies them level by level, and validates the
whole batch once before a single commit or a single reset.

Edge lists are JSON ({"a.go": ["b.go"]}), YAML, or text lines "a.go -> b.go".
Pass "-" to read the edge list from stdin.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "config file (default ./stratify.yaml if present)")
	f.BoolVar(&a.jsonOut, "json", false, "print JSON instead of a rendered report")
	f.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&a.root, "root", "", "repository root (overrides workspace.root)")
	f.StringVar(&a.edgeFormat, "edges-format", "auto", "edge list format: auto, json, yaml, text")

	root.AddCommand(
		newAnalyzeCmd(a),
		newBriefCmd(a),
		newScheduleCmd(a),
		newRunCmd(a),
		newServeCmd(a),
		newHistoryCmd(a),
	)
	return root
}

// setup loads config, then logging, then telemetry.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.root != "" {
		cfg.Workspace.Root = a.root
	}
	root, err := filepath.Abs(cfg.Workspace.Root)
	if err != nil {
		return fmt.Errorf("resolve workspace root: %w", err)
	}
	cfg.Workspace.Root = root
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	lc, err := cfg.Logging.LoggerConfig("stratify")
	if err != nil {
		return err
	}
	lc.Output = cmd.ErrOrStderr()
	a.logger = logging.New(lc)
	slog.SetDefault(a.logger.Slog())

	tcfg := cfg.Telemetry
	tcfg.ServiceVersion = version
	// A short-lived command has nobody to scrape it.
	if cmd.Name() != "serve" && tcfg.MetricExporter == "prometheus" {
		tcfg.MetricExporter = "none"
	}
	a.shutdown, err = telemetry.Init(cmd.Context(), tcfg)
	if err != nil {
		return err
	}
	a.logger.Debug("stratify starting",
		slog.String("command", cmd.Name()),
		slog.String("version", version),
		slog.String("root", cfg.Workspace.Root),
	)
	return nil
}

// teardown flushes telemetry and closes the log file. Safe to call when
// setup never ran.
func (a *app) teardown() error {
	var errs []error
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.shutdown(ctx))
		a.shutdown = nil
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}
