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

	"github.com/CandanUmut/systematic-automation-agent/internal/cli/timeline"
)

func newRunsCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage workflow runs on the daemon",
	}

	cmd.AddCommand(newRunsListCommand(opts))
	cmd.AddCommand(newRunsShowCommand(opts))
	cmd.AddCommand(newRunsLogsCommand(opts))
	cmd.AddCommand(newRunsCancelCommand(opts))

	return cmd
}

func newRunsListCommand(opts *globalOptions) *cobra.Command {
	var (
		state        string
		workflowName string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.daemonClient()
			if err != nil {
				return err
			}

			runs, err := c.ListRuns(cmd.Context(), state, workflowName, limit)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(runs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWORKFLOW\tSTATE\tPASSES\tCREATED")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					run.ID, run.Workflow, renderState(run.State),
					run.Passes, run.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Filter by run state")
	cmd.Flags().StringVar(&workflowName, "workflow", "", "Filter by workflow name")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of runs to return")

	return cmd
}

func newRunsShowCommand(opts *globalOptions) *cobra.Command {
	var (
		tail         int
		showTimeline bool
	)

	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show run state and recent log records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.daemonClient()
			if err != nil {
				return err
			}

			snap, err := c.GetRun(cmd.Context(), args[0], tail)
			if err != nil {
				return err
			}

			if showTimeline {
				fmt.Print(timeline.NewRenderer().Render(snap.Records))
				return nil
			}
			return printJSON(snap)
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 20, "Number of recent log records to include")
	cmd.Flags().BoolVar(&showTimeline, "timeline", false, "Render the records as a timeline")

	return cmd
}

func newRunsLogsCommand(opts *globalOptions) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs RUN_ID",
		Short: "Print run log records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.daemonClient()
			if err != nil {
				return err
			}

			if follow {
				ch, err := c.FollowLogs(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printer := &recordPrinter{out: os.Stdout}
				for rec := range ch {
					printer.print(rec)
				}
				return nil
			}

			records, err := c.GetRunLogs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(records)
			}
			printer := &recordPrinter{out: os.Stdout}
			for _, rec := range records {
				printer.print(rec)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&follow, "follow", false, "Stream records until the run finishes")

	return cmd
}

func newRunsCancelCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel RUN_ID",
		Short: "Request cancellation of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.daemonClient()
			if err != nil {
				return err
			}
			if err := c.CancelRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println(styleOK.Render(symbolOK), "cancellation requested")
			return nil
		},
	}
}
