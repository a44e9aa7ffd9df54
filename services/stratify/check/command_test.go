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
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Stratify/services/stratify/pathid"
)

func TestCommandChecker_Pass(t *testing.T) {
	c, err := NewCommandChecker(KindBuild, "echo building; exit 0")
	require.NoError(t, err)

	out, err := c.Check(context.Background(), Request{RunID: "r1"})
	require.NoError(t, err)
	assert.True(t, out.Passed)
	assert.False(t, out.TimedOut)
	assert.Equal(t, KindBuild, out.Kind)
	assert.Contains(t, out.Output, "building")
}

func TestCommandChecker_FailCapturesStderr(t *testing.T) {
	c, err := NewCommandChecker(KindBuild, "echo 'src/a.go:3:1: boom' >&2; exit 2")
	require.NoError(t, err)

	out, err := c.Check(context.Background(), Request{})
	require.NoError(t, err)
	assert.False(t, out.Passed)
	assert.Equal(t, 2, out.ExitCode)
	assert.Contains(t, out.Output, "src/a.go:3:1: boom")
}

func TestCommandChecker_Timeout(t *testing.T) {
	c, err := NewCommandChecker(KindRegression, "exec sleep 5", WithTimeout(100*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	out, err := c.Check(context.Background(), Request{})
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
	assert.False(t, out.Passed)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestCommandChecker_ReceivesBatch(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCommandChecker(KindBuild,
		`cat > stdin.txt; printf '%s' "$STRATIFY_ARTIFACTS" > artifacts.txt; printf '%s' "$EXTRA" > extra.txt`,
		WithDir(dir), WithEnv("EXTRA=yes"))
	require.NoError(t, err)

	out, err := c.Check(context.Background(), Request{
		Touched:   []pathid.FileID{"a.go", "b.go"},
		Artifacts: []pathid.FileID{"web/x.tsx"},
	})
	require.NoError(t, err)
	require.True(t, out.Passed, out.Output)

	stdin, err := os.ReadFile(filepath.Join(dir, "stdin.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a.go\nb.go", string(stdin))

	artifacts, err := os.ReadFile(filepath.Join(dir, "artifacts.txt"))
	require.NoError(t, err)
	assert.Equal(t, "web/x.tsx", string(artifacts))

	extra, err := os.ReadFile(filepath.Join(dir, "extra.txt"))
	require.NoError(t, err)
	assert.Equal(t, "yes", string(extra))
}

func TestCommandChecker_Canceled(t *testing.T) {
	c, err := NewCommandChecker(KindBuild, "exec sleep 5")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Check(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommandChecker_ShellMissing(t *testing.T) {
	c, err := NewCommandChecker(KindBuild, "true", WithShell("/nonexistent/shell"))
	require.NoError(t, err)

	_, err = c.Check(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCheckUnavailable))

	var cerr *CheckError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindBuild, cerr.Kind)
}

func TestNewCommandChecker_EmptyCommand(t *testing.T) {
	_, err := NewCommandChecker(KindBuild, "   ")
	assert.ErrorIs(t, err, ErrNoCommand)
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.True(t, strings.HasPrefix(b.String(), "abcd\n[output truncated]"))
}
