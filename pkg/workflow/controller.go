package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow/expression"
)

// RunState represents the workflow-level state machine.
type RunState string

const (
	// RunPending indicates the run has not started.
	RunPending RunState = "pending"
	// RunRunning indicates steps are executing.
	RunRunning RunState = "running"
	// RunCompleted indicates every step finished (soft failures allowed).
	RunCompleted RunState = "completed"
	// RunFailed indicates a step failed terminally without continue_on_error.
	RunFailed RunState = "failed"
	// RunCancelled indicates cancellation was honored at a step boundary.
	RunCancelled RunState = "cancelled"
)

// DefaultLoopSafetyBound caps until-mode passes when neither the definition
// nor the engine configuration lowers it. The bound is a required safeguard:
// a predicate that is never true terminates here instead of looping forever.
const DefaultLoopSafetyBound = 100

// ChainNotifier receives the fire-and-forget signal that a workflow with a
// matching chain condition reached a terminal state. Implementations must
// return promptly (hand the request to a scheduler or runner and return);
// the controller never waits for the chained run.
type ChainNotifier interface {
	StartChained(workflow string, from string, state RunState)
}

// RunResult is the aggregate outcome surfaced to the caller, alongside the
// full run log held by the execution context.
type RunResult struct {
	// State is the terminal run state
	State RunState

	// Passes is the number of loop passes executed
	Passes int

	// Steps collects the per-step results across all passes, in order
	Steps []StepResult

	// Warnings lists soft-failed steps (continue_on_error); the run may
	// report Completed while still carrying warnings
	Warnings []string

	// Error is the failure description when State is failed
	Error string
}

// Controller drives the full ordered step sequence for one run. It owns the
// run state machine, honors the loop policy, checks cancellation at step
// boundaries, and signals the chain notifier on terminal states.
//
// A controller is built per run around a fresh ExecutionContext and is not
// reused. Steps execute strictly in definition order on one logical thread of
// control; actions like click and type mutate shared external UI state and
// must stay causally ordered.
type Controller struct {
	def      *Definition
	executor *Executor
	logger   *slog.Logger
	notifier ChainNotifier
	eval     *expression.Evaluator

	loopBound           int
	resetRetriesPerPass bool
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logger }
}

// WithChainNotifier sets the sink for chain signals.
func WithChainNotifier(n ChainNotifier) ControllerOption {
	return func(c *Controller) { c.notifier = n }
}

// WithLoopSafetyBound overrides the engine-level cap on until-mode passes.
func WithLoopSafetyBound(bound int) ControllerOption {
	return func(c *Controller) {
		if bound > 0 {
			c.loopBound = bound
		}
	}
}

// WithRetryCarryAcrossPasses keeps per-step attempt counters accumulating
// across loop passes instead of resetting on each pass. The default resets
// per pass; whether backoff budgets span iterations is an explicit choice,
// not an accident.
func WithRetryCarryAcrossPasses() ControllerOption {
	return func(c *Controller) { c.resetRetriesPerPass = false }
}

// NewController creates a run controller for one definition.
func NewController(def *Definition, dispatcher Dispatcher, opts ...ControllerOption) *Controller {
	c := &Controller{
		def:                 def,
		executor:            NewExecutor(dispatcher),
		logger:              slog.Default(),
		eval:                expression.New(),
		loopBound:           DefaultLoopSafetyBound,
		resetRetriesPerPass: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.executor.WithLogger(c.logger)
	return c
}

// Execute runs the workflow to a terminal state.
//
// The returned error is non-nil only for a failed run; cancellation is a
// normal terminal state, not an error. The full attempt history lives in the
// execution context's run log.
func (c *Controller) Execute(ctx context.Context, ectx *ExecutionContext) (*RunResult, error) {
	result := &RunResult{State: RunRunning}

	maxPasses, err := c.maxPasses()
	if err != nil {
		result.State = RunFailed
		result.Error = err.Error()
		return result, err
	}

	var runErr error

passes:
	for pass := 1; pass <= maxPasses; pass++ {
		result.Passes = pass
		passFailed := false

		if pass > 1 && c.resetRetriesPerPass {
			ectx.resetAttempts()
		}

		for i := range c.def.Steps {
			step := &c.def.Steps[i]
			ectx.setStepIndex(i)

			// Cooperative cancellation, checked before the first attempt of
			// each step and never mid-action.
			if ectx.Cancelled() || ctx.Err() != nil {
				c.recordCancellation(ectx, i, pass)
				result.State = RunCancelled
				c.logger.Info("run cancelled",
					"workflow", c.def.Name,
					"step_index", i,
					"pass", pass,
				)
				break passes
			}

			stepResult, stepErr := c.executor.ExecuteStep(ctx, step, i, pass, ectx)
			result.Steps = append(result.Steps, *stepResult)

			if stepResult.SoftFailed {
				warning := fmt.Sprintf("step %d (%s) soft-failed: %s", i, step.Type, stepResult.Error)
				result.Warnings = append(result.Warnings, warning)
				c.logger.Warn("step soft-failed, continuing",
					"workflow", c.def.Name,
					"step_index", i,
					"error", stepResult.Error,
				)
				continue
			}

			if stepErr != nil {
				// Cancellation surfacing through a step is still a normal
				// terminal state; the executor already recorded the cut point.
				if ectx.Cancelled() || ctx.Err() != nil || errors.Is(stepErr, context.Canceled) {
					result.State = RunCancelled
					c.logger.Info("run cancelled mid-step",
						"workflow", c.def.Name,
						"step_index", i,
						"pass", pass,
					)
					break passes
				}
				runErr = stepErr
				passFailed = true
				c.logger.Error("step failed, halting run",
					"workflow", c.def.Name,
					"step_index", i,
					"attempts", stepResult.Attempts,
					"error", stepErr,
				)
				break
			}
		}

		if result.State == RunCancelled {
			break
		}

		if passFailed {
			result.State = RunFailed
			break
		}

		if c.loopDone(ectx, pass) {
			result.State = RunCompleted
			break
		}

		// Bound reached without the predicate holding.
		if pass == maxPasses {
			result.State = RunCompleted
			c.logger.Warn("loop terminated by safety bound",
				"workflow", c.def.Name,
				"passes", pass,
			)
		}
	}

	if result.State == RunRunning {
		result.State = RunCompleted
	}
	if result.State == RunFailed && runErr != nil {
		result.Error = runErr.Error()
	}

	c.signalChain(result.State)

	if result.State == RunFailed {
		return result, runErr
	}
	return result, nil
}

// maxPasses derives the pass budget from the loop policy.
func (c *Controller) maxPasses() (int, error) {
	loop := c.def.Loop
	if loop == nil || loop.Mode == LoopNone {
		return 1, nil
	}
	switch loop.Mode {
	case LoopCount:
		return loop.Count, nil
	case LoopUntil:
		bound := c.loopBound
		if loop.MaxPasses > 0 && loop.MaxPasses < bound {
			bound = loop.MaxPasses
		}
		if bound < 1 {
			bound = 1
		}
		return bound, nil
	default:
		return 0, fmt.Errorf("unknown loop mode: %s", loop.Mode)
	}
}

// loopDone reports whether the run should stop after the given pass.
func (c *Controller) loopDone(ectx *ExecutionContext, pass int) bool {
	loop := c.def.Loop
	if loop == nil || loop.Mode == LoopNone {
		return true
	}
	switch loop.Mode {
	case LoopCount:
		return pass >= loop.Count
	case LoopUntil:
		env := map[string]interface{}{
			"pass": pass,
			"vars": ectx.Bindings.Values(),
		}
		done, err := c.eval.Evaluate(loop.Until, env)
		if err != nil {
			// A broken predicate must not loop forever; the safety bound
			// still applies, but log the evaluation problem loudly.
			c.logger.Warn("loop predicate evaluation failed",
				"workflow", c.def.Name,
				"until", loop.Until,
				"error", err,
			)
			return false
		}
		return done
	default:
		return true
	}
}

// recordCancellation appends the final record documenting where the run was
// cut, for resumability analysis. Attempt is zero because no attempt of this
// step started.
func (c *Controller) recordCancellation(ectx *ExecutionContext, stepIndex, pass int) {
	now := time.Now()
	ectx.Log.Append(RunRecord{
		StepIndex:   stepIndex,
		StepKind:    c.def.Steps[stepIndex].Type,
		Pass:        pass,
		Attempt:     0,
		Outcome:     OutcomeCancelled,
		StartedAt:   now,
		CompletedAt: now,
		Error:       "cancellation requested before step start",
	})
}

// signalChain fires the chain handoff when the terminal state matches.
func (c *Controller) signalChain(state RunState) {
	if c.notifier == nil || c.def.Chain == nil {
		return
	}
	if !c.def.Chain.Matches(state) {
		return
	}
	c.logger.Info("chaining workflow",
		"workflow", c.def.Name,
		"chained", c.def.Chain.Workflow,
		"state", string(state),
	)
	c.notifier.StartChained(c.def.Chain.Workflow, c.def.Name, state)
}
