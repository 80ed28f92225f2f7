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

// Package shell executes run steps as shell commands.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Config holds configuration for the shell runner.
type Config struct {
	// WorkingDir is the working directory for commands. Empty means the
	// process working directory.
	WorkingDir string

	// Allowlist restricts which commands can run. A command is permitted
	// when its first token matches an entry (by name or full path).
	// Empty means any command is permitted.
	Allowlist []string
}

// Runner executes shell commands with optional allowlisting.
type Runner struct {
	config Config
}

// New creates a shell runner.
func New(config Config) *Runner {
	return &Runner{config: config}
}

// Run executes command via `sh -c` and returns its trimmed stdout.
// A non-zero exit reports stderr in the error.
func (r *Runner) Run(ctx context.Context, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("command is empty")
	}

	if err := r.checkAllowed(command); err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if r.config.WorkingDir != "" {
		cmd.Dir = r.config.WorkingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = err.Error()
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("command exited %d: %s", exitErr.ExitCode(), errMsg)
		}
		return "", fmt.Errorf("command failed: %s", errMsg)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// checkAllowed verifies the command's first token against the allowlist.
func (r *Runner) checkAllowed(command string) error {
	if len(r.config.Allowlist) == 0 {
		return nil
	}

	tokens, err := shellquote.Split(command)
	if err != nil {
		return fmt.Errorf("cannot parse command: %w", err)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("command is empty")
	}

	name := tokens[0]
	base := filepath.Base(name)
	for _, allowed := range r.config.Allowlist {
		if name == allowed || base == allowed {
			return nil
		}
	}
	return fmt.Errorf("command %q is not in the allowlist", base)
}
