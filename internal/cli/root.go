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

// Package cli implements the autoagent command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CandanUmut/systematic-automation-agent/internal/client"
	"github.com/CandanUmut/systematic-automation-agent/internal/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion sets version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// globalOptions holds flags shared by every command.
type globalOptions struct {
	configPath string
	addr       string
	jsonOutput bool
}

// loadConfig loads the configuration honoring --config, the default
// config path, and environment overrides.
func (g *globalOptions) loadConfig() (*config.Config, error) {
	path := g.configPath
	if path == "" {
		if p, err := config.ConfigPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}
	return config.Load(path)
}

// daemonClient creates a client for the daemon named by --addr, falling
// back to the configured listen address.
func (g *globalOptions) daemonClient() (*client.Client, error) {
	addr := g.addr
	if addr == "" {
		cfg, err := g.loadConfig()
		if err != nil {
			return nil, err
		}
		addr = cfg.Daemon.Listen
	}
	return client.New(addr), nil
}

// NewRootCommand creates the root command for autoagent.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "autoagent",
		Short: "autoagent - recorded desktop workflow automation",
		Long: `autoagent executes recorded desktop automation workflows: ordered
steps (open, click, type, run, wait, screenshot) with variable
substitution, retry policies, looping, and chaining.

Run 'autoagent run workflow.yaml' to execute a workflow locally, or
point commands at a running autoagentd with --addr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (default: ~/.config/autoagent/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.addr, "addr", "", "Daemon address for remote commands (default: configured listen address)")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newRunsCommand(opts))
	cmd.AddCommand(newWorkflowsCommand(opts))
	cmd.AddCommand(newDispatchCommand(opts))
	cmd.AddCommand(newSchedulesCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newVersionCommand(opts))

	return cmd
}

// HandleExitError prints the error and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())

	if exitErr, ok := asExitError(err); ok {
		os.Exit(exitErr.Code)
	}
	os.Exit(ExitExecutionFailed)
}
