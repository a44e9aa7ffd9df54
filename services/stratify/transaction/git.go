// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// GitWorkspace implements Workspace with the git command line.
//
// # Description
//
// Begin refuses to start on a tree with uncommitted changes or an
// unfinished merge, rebase or cherry-pick, because Reset would otherwise
// destroy work that does not belong to the run.
//
// # Thread Safety
//
// Safe for concurrent use, but a workspace serves one run at a time.
type GitWorkspace struct {
	repoPath   string
	timeout    time.Duration
	allowDirty bool
	logger     *slog.Logger

	mu   sync.Mutex
	base string
}

// GitOption configures a GitWorkspace.
type GitOption func(*GitWorkspace)

// WithTimeout bounds each git invocation.
func WithTimeout(d time.Duration) GitOption {
	return func(g *GitWorkspace) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithAllowDirty lets Begin proceed on a dirty tree. Reset will then also
// discard the pre-existing changes.
func WithAllowDirty(allow bool) GitOption {
	return func(g *GitWorkspace) { g.allowDirty = allow }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GitOption {
	return func(g *GitWorkspace) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGitWorkspace creates a workspace for the repository at repoPath.
//
// # Inputs
//
//   - repoPath: Absolute path to the repository root.
//   - opts: Optional settings.
//
// # Outputs
//
//   - *GitWorkspace: Ready to Begin.
//   - error: Non-nil if repoPath is not absolute.
func NewGitWorkspace(repoPath string, opts ...GitOption) (*GitWorkspace, error) {
	if !filepath.IsAbs(repoPath) {
		return nil, fmt.Errorf("repoPath must be absolute: %s", repoPath)
	}
	g := &GitWorkspace{
		repoPath: repoPath,
		timeout:  30 * time.Second,
		logger:   slog.Default().With("component", "transaction"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Begin implements Workspace.
func (g *GitWorkspace) Begin(ctx context.Context) error {
	gitDir, err := g.run(ctx, "rev-parse", "--git-dir")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotRepository, err)
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(g.repoPath, gitDir)
	}
	for _, marker := range []string{"rebase-merge", "rebase-apply", "MERGE_HEAD", "CHERRY_PICK_HEAD", "BISECT_LOG"} {
		if _, err := os.Stat(filepath.Join(gitDir, marker)); err == nil {
			return fmt.Errorf("%w: %s", ErrOperationInProgress, marker)
		}
	}

	if !g.allowDirty {
		status, err := g.run(ctx, "status", "--porcelain")
		if err != nil {
			return fmt.Errorf("getting status: %w", err)
		}
		if status != "" {
			return fmt.Errorf("%w:\n%s", ErrDirtyWorkspace, status)
		}
	}

	head, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return fmt.Errorf("resolving HEAD: %w", err)
	}

	g.mu.Lock()
	g.base = head
	g.mu.Unlock()
	g.logger.Info("transaction begun", slog.String("base", head))
	return nil
}

// Commit implements Workspace.
func (g *GitWorkspace) Commit(ctx context.Context, s Summary) (string, error) {
	base, err := g.baseRef()
	if err != nil {
		return "", err
	}
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return "", fmt.Errorf("staging changes: %w", err)
	}
	staged, err := g.run(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return "", fmt.Errorf("checking staged changes: %w", err)
	}
	if staged == "" {
		return "", ErrNothingToCommit
	}
	if _, err := g.run(ctx, "commit", "-m", s.Message()); err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	sha, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving commit: %w", err)
	}

	g.mu.Lock()
	g.base = ""
	g.mu.Unlock()
	g.logger.Info("transaction committed",
		slog.String("run_id", s.RunID),
		slog.String("base", base),
		slog.String("commit", sha),
	)
	return sha, nil
}

// Reset implements Workspace.
func (g *GitWorkspace) Reset(ctx context.Context) error {
	base, err := g.baseRef()
	if err != nil {
		return err
	}
	if _, err := g.run(ctx, "reset", "--hard", base); err != nil {
		return fmt.Errorf("resetting to %s: %w", base, err)
	}
	if _, err := g.run(ctx, "clean", "-fd"); err != nil {
		return fmt.Errorf("cleaning untracked files: %w", err)
	}

	g.mu.Lock()
	g.base = ""
	g.mu.Unlock()
	g.logger.Info("transaction reset", slog.String("base", base))
	return nil
}

// Base returns the commit recorded by Begin, or "" outside a transaction.
func (g *GitWorkspace) Base() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.base
}

func (g *GitWorkspace) baseRef() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.base == "" {
		return "", ErrNotBegun
	}
	return g.base, nil
}

// run executes a git command and returns trimmed stdout.
func (g *GitWorkspace) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s: timeout after %v", args[0], g.timeout)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
