// Copyright 2025 Umut Candan
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads engine and daemon settings from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	agenterrors "github.com/CandanUmut/systematic-automation-agent/pkg/errors"
	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
	"gopkg.in/yaml.v3"
)

// Config is the complete agent configuration.
type Config struct {
	Engine Engine `yaml:"engine"`
	Daemon Daemon `yaml:"daemon"`
	Log    Log    `yaml:"log"`
}

// Engine configures workflow execution behavior.
type Engine struct {
	// DefaultRetryAttempts applies to steps without an explicit retry policy.
	DefaultRetryAttempts int `yaml:"default_retry_attempts,omitempty"`

	// DefaultBackoff is one of fixed, linear, exponential.
	DefaultBackoff string `yaml:"default_backoff,omitempty"`

	// Interactive enables prompting for unbound variables. When false,
	// unresolved variables fail the step instead of prompting.
	Interactive bool `yaml:"interactive"`

	// LoopSafetyBound caps loop passes regardless of loop configuration.
	LoopSafetyBound int `yaml:"loop_safety_bound,omitempty"`

	// StepTimeout is the default per-step timeout.
	StepTimeout time.Duration `yaml:"step_timeout,omitempty"`

	// AllowedSteps restricts which step kinds the daemon will dispatch.
	// Empty means all kinds are permitted.
	AllowedSteps []string `yaml:"allowed_steps,omitempty"`

	// ShellAllowlist restricts run steps to commands whose first token
	// matches an entry. Empty means any command is permitted.
	ShellAllowlist []string `yaml:"shell_allowlist,omitempty"`
}

// Daemon configures the daemon server.
type Daemon struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen,omitempty"`

	// WorkflowsDir is the directory watched for workflow definitions.
	WorkflowsDir string `yaml:"workflows_dir,omitempty"`

	// DataDir holds the run archive database.
	DataDir string `yaml:"data_dir,omitempty"`

	// MaxConcurrentRuns limits simultaneous workflow executions.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// RunLogDir is where per-run JSONL logs are written. Empty keeps
	// run logs in memory only.
	RunLogDir string `yaml:"run_log_dir,omitempty"`

	// Schedules trigger library workflows on a cron cadence.
	Schedules []Schedule `yaml:"schedules,omitempty"`
}

// Schedule describes one cron-triggered workflow run.
type Schedule struct {
	Name     string            `yaml:"name"`
	Cron     string            `yaml:"cron"`
	Workflow string            `yaml:"workflow"`
	Vars     map[string]string `yaml:"vars,omitempty"`
	Enabled  bool              `yaml:"enabled"`
	Timezone string            `yaml:"timezone,omitempty"`
}

// Log configures structured logging.
type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Engine: Engine{
			DefaultRetryAttempts: workflow.DefaultRetryMaxAttempts,
			DefaultBackoff:       string(workflow.BackoffFixed),
			Interactive:          true,
			LoopSafetyBound:      workflow.DefaultLoopSafetyBound,
			StepTimeout:          2 * time.Minute,
		},
		Daemon: Daemon{
			Listen:            "127.0.0.1:8420",
			MaxConcurrentRuns: 4,
			ShutdownTimeout:   30 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from the YAML file at configPath, fills in
// defaults, and applies environment variable overrides. Environment
// variables take precedence over the file. An empty configPath uses only
// defaults and the environment.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &agenterrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// applyDefaults fills zero values so minimal config files work without
// spelling out every field.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Engine.DefaultRetryAttempts == 0 {
		c.Engine.DefaultRetryAttempts = defaults.Engine.DefaultRetryAttempts
	}
	if c.Engine.DefaultBackoff == "" {
		c.Engine.DefaultBackoff = defaults.Engine.DefaultBackoff
	}
	if c.Engine.LoopSafetyBound == 0 {
		c.Engine.LoopSafetyBound = defaults.Engine.LoopSafetyBound
	}
	if c.Engine.StepTimeout == 0 {
		c.Engine.StepTimeout = defaults.Engine.StepTimeout
	}

	if c.Daemon.Listen == "" {
		c.Daemon.Listen = defaults.Daemon.Listen
	}
	if c.Daemon.MaxConcurrentRuns == 0 {
		c.Daemon.MaxConcurrentRuns = defaults.Daemon.MaxConcurrentRuns
	}
	if c.Daemon.ShutdownTimeout == 0 {
		c.Daemon.ShutdownTimeout = defaults.Daemon.ShutdownTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("AUTOAGENT_RETRY_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.DefaultRetryAttempts = n
		}
	}
	if val := os.Getenv("AUTOAGENT_BACKOFF"); val != "" {
		c.Engine.DefaultBackoff = val
	}
	if val := os.Getenv("AUTOAGENT_INTERACTIVE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Engine.Interactive = b
		}
	}
	if val := os.Getenv("AUTOAGENT_LOOP_SAFETY_BOUND"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.LoopSafetyBound = n
		}
	}
	if val := os.Getenv("AUTOAGENT_STEP_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Engine.StepTimeout = d
		}
	}
	if val := os.Getenv("AUTOAGENT_ALLOWED_STEPS"); val != "" {
		c.Engine.AllowedSteps = splitList(val)
	}
	if val := os.Getenv("AUTOAGENT_SHELL_ALLOWLIST"); val != "" {
		c.Engine.ShellAllowlist = splitList(val)
	}

	if val := os.Getenv("AUTOAGENT_LISTEN"); val != "" {
		c.Daemon.Listen = val
	}
	if val := os.Getenv("AUTOAGENT_WORKFLOWS_DIR"); val != "" {
		c.Daemon.WorkflowsDir = val
	}
	if val := os.Getenv("AUTOAGENT_DATA_DIR"); val != "" {
		c.Daemon.DataDir = val
	}
	if val := os.Getenv("AUTOAGENT_MAX_CONCURRENT_RUNS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Daemon.MaxConcurrentRuns = n
		}
	}
	if val := os.Getenv("AUTOAGENT_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Daemon.ShutdownTimeout = d
		}
	}
	if val := os.Getenv("AUTOAGENT_RUN_LOG_DIR"); val != "" {
		c.Daemon.RunLogDir = val
	}

	if val := os.Getenv("AUTOAGENT_LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch workflow.Backoff(c.Engine.DefaultBackoff) {
	case workflow.BackoffFixed, workflow.BackoffLinear, workflow.BackoffExponential:
	default:
		return &agenterrors.ConfigError{
			Key:    "engine.default_backoff",
			Reason: fmt.Sprintf("unknown backoff strategy %q", c.Engine.DefaultBackoff),
		}
	}

	if c.Engine.DefaultRetryAttempts < 1 {
		return &agenterrors.ConfigError{
			Key:    "engine.default_retry_attempts",
			Reason: "must be at least 1",
		}
	}
	if c.Engine.LoopSafetyBound < 1 {
		return &agenterrors.ConfigError{
			Key:    "engine.loop_safety_bound",
			Reason: "must be at least 1",
		}
	}

	for _, kind := range c.Engine.AllowedSteps {
		if !validStepKind(kind) {
			return &agenterrors.ConfigError{
				Key:    "engine.allowed_steps",
				Reason: fmt.Sprintf("unknown step kind %q", kind),
			}
		}
	}

	if c.Daemon.MaxConcurrentRuns < 1 {
		return &agenterrors.ConfigError{
			Key:    "daemon.max_concurrent_runs",
			Reason: "must be at least 1",
		}
	}

	for i, s := range c.Daemon.Schedules {
		if s.Name == "" || s.Cron == "" || s.Workflow == "" {
			return &agenterrors.ConfigError{
				Key:    fmt.Sprintf("daemon.schedules[%d]", i),
				Reason: "name, cron, and workflow are required",
			}
		}
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return &agenterrors.ConfigError{
			Key:    "log.format",
			Reason: fmt.Sprintf("unknown format %q", c.Log.Format),
		}
	}

	return nil
}

// DefinitionDefaults converts the engine settings into the step policy
// defaults applied when parsing workflow definitions.
func (c *Config) DefinitionDefaults() workflow.DefinitionDefaults {
	return workflow.DefinitionDefaults{
		RetryMaxAttempts: c.Engine.DefaultRetryAttempts,
		Backoff:          workflow.Backoff(c.Engine.DefaultBackoff),
		StepTimeout:      c.Engine.StepTimeout.Seconds(),
	}
}

// StepAllowed reports whether the configuration permits dispatching the
// given step kind. An empty allowlist permits everything.
func (c *Config) StepAllowed(kind workflow.StepKind) bool {
	if len(c.Engine.AllowedSteps) == 0 {
		return true
	}
	for _, allowed := range c.Engine.AllowedSteps {
		if workflow.StepKind(allowed) == kind {
			return true
		}
	}
	return false
}

func validStepKind(kind string) bool {
	switch workflow.StepKind(kind) {
	case workflow.StepOpen, workflow.StepClick, workflow.StepType,
		workflow.StepRun, workflow.StepWait, workflow.StepScreenshot,
		workflow.StepCustom:
		return true
	}
	return false
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
