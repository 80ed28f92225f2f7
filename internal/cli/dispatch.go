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

	"github.com/spf13/cobra"

	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

func newDispatchCommand(opts *globalOptions) *cobra.Command {
	var (
		varFlags []string
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "dispatch TEMPLATE_ID",
		Short: "Trigger a stored workflow template on the daemon",
		Long: `Dispatch resolves TEMPLATE_ID against the daemon's workflow library,
seeds the run with the supplied variables, and starts it. Variables
passed here are pre-resolved: the run only prompts (or fails) for names
not covered by --var.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := parseVarFlags(varFlags)
			if err != nil {
				return err
			}

			c, err := opts.daemonClient()
			if err != nil {
				return err
			}

			out, err := c.Dispatch(cmd.Context(), args[0], vars)
			if err != nil {
				return err
			}

			if !wait {
				return printJSON(out)
			}

			fmt.Fprintf(os.Stderr, "run %s dispatched\n", styleBold.Render(out.RunID))
			ch, err := c.FollowLogs(cmd.Context(), out.RunID)
			if err != nil {
				return err
			}
			printer := &recordPrinter{out: os.Stderr}
			for rec := range ch {
				printer.print(rec)
			}

			final, err := c.GetRun(cmd.Context(), out.RunID, 0)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s\n", renderState(final.State))
			if final.State != workflow.RunCompleted {
				return NewExecutionError("workflow "+string(final.State), nil)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "Variable binding NAME=VALUE (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Stream records and wait for completion")

	return cmd
}
