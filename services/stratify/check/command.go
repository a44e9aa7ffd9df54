// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package check

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/Stratify/services/stratify/pathid"
	"github.com/AleutianAI/Stratify/services/stratify/telemetry"
)

// DefaultTimeout bounds a check when none is configured.
const DefaultTimeout = 10 * time.Minute

// maxOutputBytes caps how much check output is kept in memory.
const maxOutputBytes = 1 << 20

// CommandChecker runs a shell command as a check.
//
// The command runs through "sh -c" in the workspace directory. It receives
// the touched files on stdin, one per line, and in the environment:
//
//	STRATIFY_RUN_ID     run identifier
//	STRATIFY_CHECK      check kind
//	STRATIFY_TOUCHED    touched files, newline separated
//	STRATIFY_AFFECTED   touched files plus transitive dependents
//	STRATIFY_ARTIFACTS  externally observable affected files
//
// Exit status 0 is a pass. Stdout and stderr are captured together.
//
// Thread Safety: Safe for concurrent use.
type CommandChecker struct {
	kind    Kind
	command string
	dir     string
	shell   string
	timeout time.Duration
	env     []string
	logger  *slog.Logger
}

// CommandOption configures a CommandChecker.
type CommandOption func(*CommandChecker)

// WithDir sets the working directory.
func WithDir(dir string) CommandOption {
	return func(c *CommandChecker) { c.dir = dir }
}

// WithTimeout sets the check timeout. Zero keeps DefaultTimeout.
func WithTimeout(d time.Duration) CommandOption {
	return func(c *CommandChecker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithEnv adds KEY=VALUE entries to the child environment.
func WithEnv(env ...string) CommandOption {
	return func(c *CommandChecker) { c.env = append(c.env, env...) }
}

// WithShell overrides the shell used to run the command.
func WithShell(shell string) CommandOption {
	return func(c *CommandChecker) {
		if shell != "" {
			c.shell = shell
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CommandOption {
	return func(c *CommandChecker) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCommandChecker creates a checker for one shell command.
func NewCommandChecker(kind Kind, command string, opts ...CommandOption) (*CommandChecker, error) {
	if strings.TrimSpace(command) == "" {
		return nil, &CheckError{Kind: kind, Err: ErrNoCommand}
	}
	c := &CommandChecker{
		kind:    kind,
		command: command,
		shell:   "sh",
		timeout: DefaultTimeout,
		logger:  slog.Default().With("component", "check"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Kind implements Checker.
func (c *CommandChecker) Kind() Kind {
	return c.kind
}

// Check implements Checker.
//
// # Description
//
// Runs the command under the configured timeout. A deadline hit is reported
// as a failed Outcome with TimedOut set. Cancellation of ctx itself is
// returned as an error because the run is being abandoned, not judged.
func (c *CommandChecker) Check(ctx context.Context, req Request) (*Outcome, error) {
	ctx, span := startCheckSpan(ctx, c.kind, req.RunID)
	defer span.End()

	cmdCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, c.shell, "-c", c.command)
	cmd.Dir = c.dir
	cmd.WaitDelay = 5 * time.Second
	cmd.Env = append(os.Environ(),
		"STRATIFY_RUN_ID="+req.RunID,
		"STRATIFY_CHECK="+string(c.kind),
		"STRATIFY_TOUCHED="+joinLines(req.Touched),
		"STRATIFY_AFFECTED="+joinLines(req.Affected),
		"STRATIFY_ARTIFACTS="+joinLines(req.Artifacts),
	)
	cmd.Env = append(cmd.Env, telemetry.TraceEnv(ctx)...)
	cmd.Env = append(cmd.Env, c.env...)
	cmd.Stdin = strings.NewReader(joinLines(req.Touched))

	out := &cappedBuffer{limit: maxOutputBytes}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	runErr := cmd.Run()
	outcome := &Outcome{
		Kind:     c.kind,
		Output:   out.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "canceled")
		return nil, ctx.Err()
	}

	switch {
	case errors.Is(cmdCtx.Err(), context.DeadlineExceeded):
		outcome.TimedOut = true
		outcome.ExitCode = -1
	case runErr == nil:
		outcome.Passed = true
	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			span.RecordError(runErr)
			span.SetStatus(codes.Error, runErr.Error())
			recordCheckMetrics(ctx, c.kind, outcome)
			return nil, &CheckError{Kind: c.kind, Command: c.command, Err: errors.Join(ErrCheckUnavailable, runErr)}
		}
		outcome.ExitCode = exitErr.ExitCode()
	}

	setCheckSpanResult(span, outcome)
	recordCheckMetrics(ctx, c.kind, outcome)
	c.logger.Info("check finished",
		slog.String("run_id", req.RunID),
		slog.String("kind", string(c.kind)),
		slog.Bool("passed", outcome.Passed),
		slog.Bool("timed_out", outcome.TimedOut),
		slog.Int("exit_code", outcome.ExitCode),
		slog.Duration("duration", outcome.Duration),
	)
	return outcome, nil
}

func joinLines(ids []pathid.FileID) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(id))
	}
	return b.String()
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]\n"
	}
	return b.buf.String()
}
