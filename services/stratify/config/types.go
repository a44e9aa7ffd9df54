// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads stratify settings from YAML, .env files, and
// STRATIFY_* environment variables.
//
// Precedence, lowest first: built-in defaults, the YAML file, the process
// environment (which .env populates without overriding). The merged result
// is validated before it is returned.
package config

import (
	"time"

	"github.com/AleutianAI/Stratify/pkg/logging"
	"github.com/AleutianAI/Stratify/services/stratify/telemetry"
)

// Config is the full stratify configuration.
type Config struct {
	Workspace    WorkspaceConfig    `yaml:"workspace" json:"workspace"`
	Planner      PlannerConfig      `yaml:"planner" json:"planner"`
	Materializer MaterializerConfig `yaml:"materializer" json:"materializer"`
	Checks       ChecksConfig       `yaml:"checks" json:"checks"`

	// Artifacts are doublestar globs naming externally observable files.
	// Touching one makes the regression check run.
	Artifacts []string `yaml:"artifacts" json:"artifacts" validate:"dive,required,glob"`

	History   HistoryConfig    `yaml:"history" json:"history"`
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
	Server    ServerConfig     `yaml:"server" json:"server"`
	Logging   LoggingConfig    `yaml:"logging" json:"logging"`
}

// WorkspaceConfig describes the repository being changed.
type WorkspaceConfig struct {
	// Root is the repository root. Paths in edge lists and plans are
	// relative to it.
	Root string `yaml:"root" json:"root" validate:"required"`

	// CaseInsensitive forces case folding of file IDs. Nil detects the
	// host file system.
	CaseInsensitive *bool `yaml:"case_insensitive,omitempty" json:"case_insensitive,omitempty"`

	// Git wraps each run in a git transaction. When false, runs apply
	// changes without commit or reset.
	Git bool `yaml:"git" json:"git"`

	// AllowDirty lets a run begin on a tree with uncommitted changes.
	AllowDirty bool `yaml:"allow_dirty" json:"allow_dirty"`

	// GitTimeout bounds each git invocation.
	GitTimeout time.Duration `yaml:"git_timeout" json:"git_timeout" validate:"gt=0"`
}

// PlannerConfig configures the external planner.
type PlannerConfig struct {
	// Command receives the planning prompt on stdin and prints a plan.
	Command string `yaml:"command" json:"command"`

	Timeout     time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts" validate:"min=1,max=10"`

	// CriticalFiles and MaxCycles size the planning brief.
	CriticalFiles int `yaml:"critical_files" json:"critical_files" validate:"min=0,max=200"`
	MaxCycles     int `yaml:"max_cycles" json:"max_cycles" validate:"min=0,max=200"`
}

// Materializer kinds.
const (
	MaterializerDiff    = "diff"
	MaterializerCommand = "command"
)

// MaterializerConfig selects how chunks are applied.
type MaterializerConfig struct {
	Kind    string `yaml:"kind" json:"kind" validate:"oneof=diff command"`
	Command string `yaml:"command" json:"command" validate:"required_if=Kind command"`

	// Workers bounds concurrent units within one level.
	Workers int `yaml:"workers" json:"workers" validate:"min=1,max=64"`

	// Timeout bounds one chunk for the command materializer.
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`

	// SyntaxCheck parses patched source files before writing them.
	SyntaxCheck bool `yaml:"syntax_check" json:"syntax_check"`
}

// ChecksConfig holds the deferred checks.
type ChecksConfig struct {
	Build      CheckConfig `yaml:"build" json:"build"`
	Regression CheckConfig `yaml:"regression" json:"regression"`
}

// CheckConfig is one shell check. An empty regression command disables
// regression checking.
type CheckConfig struct {
	Command string        `yaml:"command" json:"command"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
}

// HistoryConfig locates the run history database.
type HistoryConfig struct {
	Path     string `yaml:"path" json:"path" validate:"required_unless=InMemory true"`
	InMemory bool   `yaml:"in_memory" json:"in_memory"`
}

// ServerConfig configures `stratify serve`.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr" validate:"required,hostname_port"`

	// CacheSize is the number of analyses kept in the server's LRU.
	CacheSize int `yaml:"cache_size" json:"cache_size" validate:"min=1,max=10000"`

	// MaxBodyBytes and MaxNodes bound what one request may submit.
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes" validate:"min=1024"`
	MaxNodes     int   `yaml:"max_nodes" json:"max_nodes" validate:"min=1"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gt=0"`
}

// LoggingConfig maps onto logging.Config.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level" validate:"loglevel"`
	Dir   string `yaml:"dir" json:"dir"`
	JSON  bool   `yaml:"json" json:"json"`
}

// LoggerConfig converts the section into a logging.Config for service.
func (l LoggingConfig) LoggerConfig(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{Level: level, LogDir: l.Dir, Service: service, JSON: l.JSON}, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Root:       ".",
			Git:        true,
			GitTimeout: 30 * time.Second,
		},
		Planner: PlannerConfig{
			Timeout:       10 * time.Minute,
			MaxAttempts:   3,
			CriticalFiles: 15,
			MaxCycles:     20,
		},
		Materializer: MaterializerConfig{
			Kind:        MaterializerDiff,
			Workers:     4,
			Timeout:     5 * time.Minute,
			SyntaxCheck: true,
		},
		Checks: ChecksConfig{
			Build:      CheckConfig{Command: "go build ./...", Timeout: 10 * time.Minute},
			Regression: CheckConfig{Timeout: 30 * time.Minute},
		},
		History: HistoryConfig{
			Path: "~/.stratify/history",
		},
		Telemetry: telemetry.DefaultConfig(),
		Server: ServerConfig{
			Addr:         "127.0.0.1:8480",
			CacheSize:    64,
			MaxBodyBytes: 8 << 20,
			MaxNodes:     20000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
