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

package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.daemonClient()
			if err != nil {
				return err
			}

			if err := c.Ping(cmd.Context()); err != nil {
				fmt.Println(styleError.Render(symbolError), "daemon unreachable:", err)
				return NewExecutionError("daemon unreachable", nil)
			}

			daemonVersion, err := c.Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(styleOK.Render(symbolOK), "daemon healthy, version", daemonVersion)
			return nil
		},
	}
}

func newSchedulesCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedules",
		Short: "List the daemon's cron schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.daemonClient()
			if err != nil {
				return err
			}

			schedules, err := c.ListSchedules(cmd.Context())
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(schedules)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tWORKFLOW\tCRON\tENABLED\tNEXT RUN\tRUNS\tERRORS")
			for _, s := range schedules {
				next := "-"
				if !s.NextRun.IsZero() {
					next = s.NextRun.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%d\t%d\n",
					s.Name, s.Workflow, s.Cron, s.Enabled, next, s.RunCount, s.ErrorCount)
			}
			return w.Flush()
		},
	}
}

func newVersionCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.jsonOutput {
				return printJSON(map[string]string{
					"version":    version,
					"commit":     commit,
					"build_date": buildDate,
				})
			}
			fmt.Printf("autoagent %s (commit: %s, built: %s)\n", version, commit, buildDate)
			return nil
		},
	}
}
