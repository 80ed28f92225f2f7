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

	"github.com/spf13/cobra"

	"github.com/CandanUmut/systematic-automation-agent/internal/cli/format"
)

func newWorkflowsCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect the daemon's workflow library",
	}

	cmd.AddCommand(newWorkflowsListCommand(opts))
	cmd.AddCommand(newWorkflowsShowCommand(opts))

	return cmd
}

func newWorkflowsListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.daemonClient()
			if err != nil {
				return err
			}

			workflows, err := c.ListWorkflows(cmd.Context())
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(workflows)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTEPS\tDESCRIPTION")
			for _, info := range workflows {
				fmt.Fprintf(w, "%s\t%d\t%s\n", info.Name, info.Steps, info.Description)
			}
			return w.Flush()
		},
	}
}

func newWorkflowsShowCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.daemonClient()
			if err != nil {
				return err
			}

			def, err := c.GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if !opts.jsonOutput && def.Description != "" {
				rendered, err := format.FormatMarkdown(def.Description, format.IsTTY())
				if err == nil {
					fmt.Println(rendered)
				}
			}
			return printJSON(def)
		},
	}
}
