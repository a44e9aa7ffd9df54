// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/Stratify/services/stratify/telemetry"
)

// ErrPlanner indicates the planner could not produce a response.
var ErrPlanner = errors.New("planner failed")

// PlanRequest is one call to the planner.
type PlanRequest struct {
	RunID string

	// Brief is the analysis brief from Brief.
	Brief string

	// Attempt starts at 1.
	Attempt int

	// Feedback explains why the previous attempt produced no usable chunks.
	// Empty on the first attempt.
	Feedback string
}

// Prompt is the brief with any retry feedback appended.
func (r PlanRequest) Prompt() string {
	if r.Feedback == "" {
		return r.Brief
	}
	return r.Brief + "\n## Previous attempt\n\n" + r.Feedback + "\n"
}

// Planner turns a brief into free-form chunk text.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (string, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, req PlanRequest) (string, error)

// Plan implements Planner.
func (f PlannerFunc) Plan(ctx context.Context, req PlanRequest) (string, error) {
	return f(ctx, req)
}

// StaticPlanner returns the same text on every call. Used when the plan
// was written ahead of time.
type StaticPlanner struct {
	Text string
}

// Plan implements Planner.
func (p StaticPlanner) Plan(context.Context, PlanRequest) (string, error) {
	return p.Text, nil
}

// CommandPlanner runs an external command per planning attempt.
//
// The prompt is written to the command's stdin and its stdout is the plan.
// STRATIFY_RUN_ID and STRATIFY_PLAN_ATTEMPT are set in the environment.
type CommandPlanner struct {
	command string
	dir     string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommandPlanner creates a planner around a shell command.
func NewCommandPlanner(command, dir string, timeout time.Duration) (*CommandPlanner, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("%w: planner command is empty", ErrPlanner)
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CommandPlanner{
		command: command,
		dir:     dir,
		timeout: timeout,
		logger:  slog.Default().With("component", "planner"),
	}, nil
}

// Plan implements Planner.
func (p *CommandPlanner) Plan(ctx context.Context, req PlanRequest) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", p.command)
	cmd.Dir = p.dir
	cmd.WaitDelay = 5 * time.Second
	cmd.Env = append(os.Environ(),
		"STRATIFY_RUN_ID="+req.RunID,
		"STRATIFY_PLAN_ATTEMPT="+strconv.Itoa(req.Attempt),
	)
	cmd.Env = append(cmd.Env, telemetry.TraceEnv(ctx)...)
	cmd.Stdin = strings.NewReader(req.Prompt())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if cmdCtx.Err() != nil {
		return "", fmt.Errorf("%w: timed out after %s", ErrPlanner, p.timeout)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v: %s", ErrPlanner, err, strings.TrimSpace(stderr.String()))
	}
	p.logger.Debug("planner finished",
		slog.String("run_id", req.RunID),
		slog.Int("attempt", req.Attempt),
		slog.Int("bytes", stdout.Len()),
		slog.Duration("duration", time.Since(start)),
	)
	return stdout.String(), nil
}
