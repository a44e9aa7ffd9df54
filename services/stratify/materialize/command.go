// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package materialize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/Stratify/services/stratify/chunks"
	"github.com/AleutianAI/Stratify/services/stratify/telemetry"
)

// DefaultChunkTimeout bounds a single chunk command.
const DefaultChunkTimeout = 5 * time.Minute

// outputTail is how much of a failing command's output is kept in the error.
const outputTail = 4096

// CommandMaterializer hands each chunk to an external command.
//
// The command runs through "sh -c" in the workspace directory with the
// chunk as JSON on stdin and STRATIFY_CHUNK_ID and STRATIFY_CHUNK_FILES in
// the environment. A non-zero exit fails the chunk.
type CommandMaterializer struct {
	command string
	dir     string
	timeout time.Duration
	logger  *slog.Logger
}

// CommandOption configures a CommandMaterializer.
type CommandOption func(*CommandMaterializer)

// WithCommandTimeout sets the per-chunk timeout.
func WithCommandTimeout(d time.Duration) CommandOption {
	return func(m *CommandMaterializer) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithCommandLogger sets the logger.
func WithCommandLogger(l *slog.Logger) CommandOption {
	return func(m *CommandMaterializer) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewCommandMaterializer creates a materializer that runs command in dir.
func NewCommandMaterializer(command, dir string, opts ...CommandOption) (*CommandMaterializer, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("materialize command is empty")
	}
	m := &CommandMaterializer{
		command: command,
		dir:     dir,
		timeout: DefaultChunkTimeout,
		logger:  slog.Default().With("component", "materialize.command"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// chunkPayload is the stdin document for a chunk command.
type chunkPayload struct {
	ID        int      `json:"id"`
	Order     int      `json:"order"`
	Files     []string `json:"files"`
	Rationale string   `json:"rationale,omitempty"`
	Patch     string   `json:"patch,omitempty"`
}

// Materialize implements Materializer.
func (m *CommandMaterializer) Materialize(ctx context.Context, c chunks.Chunk) error {
	payload := chunkPayload{
		ID:        c.ID,
		Order:     c.Order,
		Files:     make([]string, len(c.Files)),
		Rationale: c.Rationale,
		Patch:     c.Patch,
	}
	for i, f := range c.Files {
		payload.Files[i] = string(f)
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding chunk %d: %w", c.ID, err)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", m.command)
	cmd.Dir = m.dir
	cmd.WaitDelay = 5 * time.Second
	cmd.Env = append(os.Environ(),
		"STRATIFY_CHUNK_ID="+strconv.Itoa(c.ID),
		"STRATIFY_CHUNK_FILES="+strings.Join(payload.Files, "\n"),
	)
	cmd.Env = append(cmd.Env, telemetry.TraceEnv(ctx)...)
	cmd.Stdin = bytes.NewReader(input)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	runErr := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if cmdCtx.Err() != nil {
		return fmt.Errorf("command timed out after %s", m.timeout)
	}
	if runErr != nil {
		return fmt.Errorf("command failed: %w: %s", runErr, tail(out.String(), outputTail))
	}
	m.logger.Debug("chunk command finished",
		slog.Int("chunk_id", c.ID),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
