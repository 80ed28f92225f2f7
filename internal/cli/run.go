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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CandanUmut/systematic-automation-agent/internal/action"
	"github.com/CandanUmut/systematic-automation-agent/internal/action/desktop"
	"github.com/CandanUmut/systematic-automation-agent/internal/action/shell"
	"github.com/CandanUmut/systematic-automation-agent/internal/cli/format"
	"github.com/CandanUmut/systematic-automation-agent/internal/cli/prompt"
	"github.com/CandanUmut/systematic-automation-agent/internal/cli/timeline"
	"github.com/CandanUmut/systematic-automation-agent/internal/config"
	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

// maxChainDepth bounds how many chained workflows a single local run
// may start.
const maxChainDepth = 8

func newRunCommand(opts *globalOptions) *cobra.Command {
	var (
		varFlags       []string
		nonInteractive bool
		remote         bool
		follow         bool
		showTimeline   bool
	)

	cmd := &cobra.Command{
		Use:   "run WORKFLOW_FILE",
		Short: "Execute a workflow",
		Long: `Execute a workflow definition from a YAML file.

By default the workflow runs locally in this process. With --remote the
definition is submitted to a running autoagentd instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := parseVarFlags(varFlags)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return NewInvalidWorkflowError("failed to read workflow", err)
			}

			if remote {
				return runRemote(cmd.Context(), opts, data, vars, follow)
			}
			return runLocal(opts, args[0], data, vars, nonInteractive, showTimeline)
		},
	}

	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "Variable binding NAME=VALUE (repeatable)")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Fail on unresolved variables instead of prompting")
	cmd.Flags().BoolVar(&remote, "remote", false, "Submit the workflow to a running daemon")
	cmd.Flags().BoolVar(&follow, "follow", false, "Stream run records from the daemon (with --remote)")
	cmd.Flags().BoolVar(&showTimeline, "timeline", false, "Render an attempt timeline after the run")

	return cmd
}

func runLocal(opts *globalOptions, path string, data []byte, vars map[string]string, nonInteractive, showTimeline bool) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	def, err := workflow.ParseDefinitionWith(data, cfg.DefinitionDefaults())
	if err != nil {
		return NewInvalidWorkflowError("invalid workflow", err)
	}

	dispatcher := newLocalDispatcher(cfg)

	interactive := cfg.Engine.Interactive && !nonInteractive && format.IsTTY()
	prompter := prompt.NewSurveyPrompter(interactive)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainer := &localChainer{}
	result, records := executeDefinition(ctx, cfg, def, dispatcher, prompter, vars, opts.jsonOutput, chainer)

	// Chained workflows are resolved against the directory of the
	// original file.
	dir := filepath.Dir(path)
	for depth := 0; chainer.next != "" && depth < maxChainDepth; depth++ {
		name := chainer.next
		chainer.next = ""

		chainedDef, err := loadChained(dir, name, cfg.DefinitionDefaults())
		if err != nil {
			fmt.Fprintln(os.Stderr, styleWarn.Render(symbolWarn), "chained workflow:", err)
			break
		}
		fmt.Fprintf(os.Stderr, "chaining into %s\n", styleBold.Render(name))

		chainedResult, chainedRecords := executeDefinition(ctx, cfg, chainedDef, dispatcher, prompter, vars, opts.jsonOutput, chainer)
		result = chainedResult
		records = append(records, chainedRecords...)
	}

	if showTimeline {
		fmt.Print(timeline.NewRenderer().Render(records))
	}

	return reportResult(result, opts.jsonOutput)
}

// executeDefinition runs one definition to completion and returns its
// result plus the records it logged.
func executeDefinition(ctx context.Context, cfg *config.Config, def *workflow.Definition, dispatcher workflow.Dispatcher, prompter prompt.Prompter, vars map[string]string, jsonOutput bool, chainer *localChainer) (*workflow.RunResult, []workflow.RunRecord) {
	bindings := workflow.NewBindingSet(vars, def.Sensitive)
	onMissing := prompt.MissingVariableFunc(prompter, bindings.IsSensitive)

	var sink io.Writer
	if jsonOutput {
		sink = os.Stdout
	} else {
		sink = &recordPrinter{out: os.Stderr}
	}

	ectx := workflow.NewExecutionContext(bindings, workflow.NewRunLog(sink), onMissing)

	go func() {
		<-ctx.Done()
		ectx.Cancel()
	}()

	ctrl := workflow.NewController(def, dispatcher,
		workflow.WithLoopSafetyBound(cfg.Engine.LoopSafetyBound),
		workflow.WithChainNotifier(chainer),
	)
	result, _ := ctrl.Execute(ctx, ectx)
	return result, ectx.Log.Records()
}

func newLocalDispatcher(cfg *config.Config) workflow.Dispatcher {
	shellRunner := shell.New(shell.Config{
		Allowlist: cfg.Engine.ShellAllowlist,
	})
	backend := desktop.New(desktop.Config{}, shellRunner)
	return action.NewGate(backend, cfg.Engine.AllowedSteps)
}

func reportResult(result *workflow.RunResult, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		fmt.Fprintf(os.Stderr, "%s (%d pass(es), %d step(s))\n",
			renderState(result.State), result.Passes, len(result.Steps))
		for _, warning := range result.Warnings {
			fmt.Fprintln(os.Stderr, styleWarn.Render(symbolWarn), warning)
		}
	}

	switch result.State {
	case workflow.RunCompleted:
		return nil
	case workflow.RunCancelled:
		return NewExecutionError("run cancelled", nil)
	default:
		if strings.Contains(result.Error, "non-interactive mode") {
			return &ExitError{
				Code:    ExitMissingInputNonInteractive,
				Message: result.Error,
			}
		}
		return NewExecutionError("workflow failed", errors.New(result.Error))
	}
}

func runRemote(ctx context.Context, opts *globalOptions, data []byte, vars map[string]string, follow bool) error {
	c, err := opts.daemonClient()
	if err != nil {
		return err
	}

	snap, err := c.SubmitDefinition(ctx, data, vars)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "run %s submitted\n", styleBold.Render(snap.ID))

	if !follow {
		return printJSON(snap)
	}

	ch, err := c.FollowLogs(ctx, snap.ID)
	if err != nil {
		return err
	}
	printer := &recordPrinter{out: os.Stderr}
	for rec := range ch {
		printer.print(rec)
	}

	final, err := c.GetRun(ctx, snap.ID, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s\n", renderState(final.State))
	if final.State != workflow.RunCompleted {
		return NewExecutionError("workflow "+string(final.State), nil)
	}
	return nil
}

// localChainer records chain requests signalled by the controller.
type localChainer struct {
	next string
}

func (c *localChainer) StartChained(workflowName, from string, state workflow.RunState) {
	c.next = workflowName
}

func loadChained(dir, name string, defaults workflow.DefinitionDefaults) (*workflow.Definition, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		data, err := os.ReadFile(filepath.Join(dir, name+ext))
		if err != nil {
			continue
		}
		return workflow.ParseDefinitionWith(data, defaults)
	}
	return nil, fmt.Errorf("no %s.yaml in %s", name, dir)
}

// recordPrinter renders run records as styled lines. It implements
// io.Writer over JSONL so it can serve as a RunLog sink.
type recordPrinter struct {
	out io.Writer
	buf []byte
}

func (p *recordPrinter) Write(data []byte) (int, error) {
	p.buf = append(p.buf, data...)
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			return len(data), nil
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+1:]

		var rec workflow.RunRecord
		if err := json.Unmarshal(line, &rec); err == nil {
			p.print(rec)
		}
	}
}

func (p *recordPrinter) print(rec workflow.RunRecord) {
	duration := rec.CompletedAt.Sub(rec.StartedAt)
	line := fmt.Sprintf("%s step %d %s (pass %d, attempt %d, %dms)",
		renderOutcome(rec.Outcome), rec.StepIndex, rec.StepKind,
		rec.Pass, rec.Attempt, duration.Milliseconds())
	if rec.Error != "" {
		line += " " + styleMuted.Render(rec.Error)
	}
	fmt.Fprintln(p.out, line)
}

func parseVarFlags(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(flags))
	for _, flag := range flags {
		name, value, ok := strings.Cut(flag, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q: expected NAME=VALUE", flag)
		}
		vars[name] = value
	}
	return vars, nil
}

func printJSON(v any) error {
	out, err := format.FormatJSON(v, format.IsTTY())
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
