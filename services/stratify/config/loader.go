// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/Stratify/pkg/logging"
)

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidEnv indicates a STRATIFY_* variable could not be parsed.
	ErrInvalidEnv = errors.New("invalid environment override")
)

// FileName is the config file looked up when no path is given.
const FileName = "stratify.yaml"

// validate is shared by every Load call. Initialized in init() with the
// custom validators.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("glob", validateGlob)
	_ = validate.RegisterValidation("loglevel", validateLogLevel)
}

// validateGlob accepts well-formed doublestar patterns.
func validateGlob(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	_, err := doublestar.Match(p, p)
	return err == nil
}

func validateLogLevel(fl validator.FieldLevel) bool {
	_, err := logging.ParseLevel(fl.Field().String())
	return err == nil
}

// Load reads configuration.
//
// # Description
//
// Starts from Default, loads a .env file from the working directory if one
// exists, decodes the YAML file over the defaults, applies STRATIFY_*
// overrides, then validates. With an empty path, ./stratify.yaml is used
// when present and the defaults otherwise.
//
// # Inputs
//
//   - path: YAML file. An explicit path that does not exist is an error.
//
// # Outputs
//
//   - *Config: Validated configuration.
//   - error: Wraps ErrInvalidConfig or ErrInvalidEnv, or a read/decode error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		if _, err := os.Stat(FileName); err == nil {
			path = FileName
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode merges YAML over cfg. Unknown keys are rejected so typos surface.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// HistoryDir returns the history path with ~ expanded.
func (c *Config) HistoryDir() string {
	return expandHome(c.History.Path)
}

// Encode writes cfg as YAML.
func (c *Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// =============================================================================
// Environment overrides
// =============================================================================

type lookupFunc func(string) (string, bool)

// applyEnv copies STRATIFY_* variables into cfg.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidEnv, key, v, err)
		}
		*dst = d
		return nil
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidEnv, key, v, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidEnv, key, v, err)
		}
		*dst = b
		return nil
	}

	str("STRATIFY_WORKSPACE_ROOT", &cfg.Workspace.Root)
	str("STRATIFY_PLANNER_COMMAND", &cfg.Planner.Command)
	str("STRATIFY_MATERIALIZER_KIND", &cfg.Materializer.Kind)
	str("STRATIFY_MATERIALIZER_COMMAND", &cfg.Materializer.Command)
	str("STRATIFY_BUILD_COMMAND", &cfg.Checks.Build.Command)
	str("STRATIFY_REGRESSION_COMMAND", &cfg.Checks.Regression.Command)
	str("STRATIFY_HISTORY_PATH", &cfg.History.Path)
	str("STRATIFY_SERVER_ADDR", &cfg.Server.Addr)
	str("STRATIFY_LOG_LEVEL", &cfg.Logging.Level)
	str("STRATIFY_LOG_DIR", &cfg.Logging.Dir)

	if v, ok := lookup("STRATIFY_ARTIFACTS"); ok {
		cfg.Artifacts = splitList(v)
	}
	if v, ok := lookup("STRATIFY_CASE_INSENSITIVE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: STRATIFY_CASE_INSENSITIVE=%q: %v", ErrInvalidEnv, v, err)
		}
		cfg.Workspace.CaseInsensitive = &b
	}

	for _, fn := range []func() error{
		func() error { return flag("STRATIFY_GIT", &cfg.Workspace.Git) },
		func() error { return flag("STRATIFY_ALLOW_DIRTY", &cfg.Workspace.AllowDirty) },
		func() error { return flag("STRATIFY_LOG_JSON", &cfg.Logging.JSON) },
		func() error { return flag("STRATIFY_HISTORY_IN_MEMORY", &cfg.History.InMemory) },
		func() error { return dur("STRATIFY_PLANNER_TIMEOUT", &cfg.Planner.Timeout) },
		func() error { return dur("STRATIFY_CHUNK_TIMEOUT", &cfg.Materializer.Timeout) },
		func() error { return dur("STRATIFY_BUILD_TIMEOUT", &cfg.Checks.Build.Timeout) },
		func() error { return dur("STRATIFY_REGRESSION_TIMEOUT", &cfg.Checks.Regression.Timeout) },
		func() error { return num("STRATIFY_PLANNER_MAX_ATTEMPTS", &cfg.Planner.MaxAttempts) },
		func() error { return num("STRATIFY_WORKERS", &cfg.Materializer.Workers) },
		func() error { return num("STRATIFY_CACHE_SIZE", &cfg.Server.CacheSize) },
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
