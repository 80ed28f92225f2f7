package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/CandanUmut/systematic-automation-agent/pkg/errors"
)

// StepStatus represents the execution state of one step.
type StepStatus string

const (
	// StepStatusPending indicates the step has not started yet.
	StepStatusPending StepStatus = "pending"
	// StepStatusRunning indicates an attempt is in flight.
	StepStatusRunning StepStatus = "running"
	// StepStatusRetrying indicates a failed attempt is waiting out its backoff.
	StepStatusRetrying StepStatus = "retrying"
	// StepStatusSucceeded indicates the step completed successfully.
	StepStatusSucceeded StepStatus = "succeeded"
	// StepStatusFailed indicates the step exhausted its attempts.
	StepStatusFailed StepStatus = "failed"
)

// StepResult is the outcome of executing one step, including retries.
type StepResult struct {
	// StepIndex is the step's position in the definition
	StepIndex int

	// Kind is the step's action family
	Kind StepKind

	// Status is the terminal status (succeeded or failed)
	Status StepStatus

	// Attempts is the number of attempts made
	Attempts int

	// Error is the last failure description, if any
	Error string

	// Output is the captured output for run steps
	Output string

	// ResolvedFields is the redacted snapshot of substituted fields
	ResolvedFields map[string]string

	// SoftFailed marks a failure converted by continue_on_error
	SoftFailed bool

	// StartedAt and CompletedAt bound the step including retries
	StartedAt   time.Time
	CompletedAt time.Time

	// Duration is CompletedAt - StartedAt
	Duration time.Duration
}

// Executor runs a single step with delay, retry, and timeout policy,
// classifying outcomes and appending one run record per attempt.
type Executor struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewExecutor creates a step executor backed by the given dispatcher.
func NewExecutor(dispatcher Dispatcher) *Executor {
	return &Executor{
		dispatcher: dispatcher,
		logger:     slog.Default(),
	}
}

// WithLogger sets a custom logger for the executor.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// ExecuteStep runs one step to a terminal status.
//
// The pre-step delay is honored once, before the first attempt; retries wait
// only the retry backoff. Every attempt appends exactly one run record, so
// the attempt history is fully reconstructable from the log. Resolution
// failures (unresolved variable, malformed template) fail the step without
// consuming retry attempts: retrying without new input cannot succeed.
func (e *Executor) ExecuteStep(ctx context.Context, step *StepDefinition, stepIndex, pass int, ectx *ExecutionContext) (*StepResult, error) {
	result := &StepResult{
		StepIndex: stepIndex,
		Kind:      step.Type,
		Status:    StepStatusPending,
		StartedAt: time.Now(),
	}

	finish := func(status StepStatus, err error) (*StepResult, error) {
		result.Status = status
		result.CompletedAt = time.Now()
		result.Duration = result.CompletedAt.Sub(result.StartedAt)
		if err != nil {
			result.Error = err.Error()
		}
		return result, err
	}

	// Resolve all template fields up front. Values are first-write-wins, so
	// one resolution serves every attempt.
	resolved, err := e.resolveFields(ctx, step, ectx)
	if err != nil {
		result.Attempts = 1
		outcome := OutcomeFailed
		if step.ContinueOnError {
			outcome = OutcomeSoftFailed
			result.SoftFailed = true
		}
		now := time.Now()
		ectx.Log.Append(RunRecord{
			StepIndex:   stepIndex,
			StepKind:    step.Type,
			Pass:        pass,
			Attempt:     1,
			Outcome:     outcome,
			StartedAt:   result.StartedAt,
			CompletedAt: now,
			Error:       err.Error(),
		})
		return finish(StepStatusFailed, err)
	}
	result.ResolvedFields = e.redactFields(step, ectx)

	if step.Delay > 0 {
		if err := sleepCtx(ctx, secondsToDuration(step.Delay)); err != nil {
			e.recordWaitCancellation(ectx, step, stepIndex, pass, 0, "cancelled during pre-step delay")
			return finish(StepStatusFailed, err)
		}
	}

	retry := step.Retry
	if retry == nil {
		retry = &RetryDefinition{MaxAttempts: 1, Backoff: BackoffFixed, Delay: DefaultRetryDelay}
	}

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		result.Status = StepStatusRunning
		result.Attempts = attempt
		ectx.recordAttempt(stepIndex)

		attemptStart := time.Now()
		output, attemptErr := e.performOnce(ctx, step, resolved)
		attemptEnd := time.Now()

		rec := RunRecord{
			StepIndex:      stepIndex,
			StepKind:       step.Type,
			Pass:           pass,
			Attempt:        attempt,
			StartedAt:      attemptStart,
			CompletedAt:    attemptEnd,
			ResolvedFields: result.ResolvedFields,
		}

		if attemptErr == nil {
			rec.Outcome = OutcomeSucceeded
			ectx.Log.Append(rec)
			result.Output = output
			return finish(StepStatusSucceeded, nil)
		}

		lastErr = attemptErr
		rec.Error = attemptErr.Error()

		terminal := attempt == retry.MaxAttempts || !errors.IsRetryable(attemptErr)
		switch {
		case errors.Is(attemptErr, context.Canceled):
			// Run-level cancellation observed mid-attempt; the record marks
			// where the run was cut.
			rec.Outcome = OutcomeCancelled
		case terminal && step.ContinueOnError:
			rec.Outcome = OutcomeSoftFailed
		default:
			rec.Outcome = OutcomeFailed
		}
		ectx.Log.Append(rec)

		if terminal {
			break
		}

		result.Status = StepStatusRetrying
		wait := backoffDelay(retry, attempt)
		e.logger.Debug("step attempt failed, retrying",
			"step_index", stepIndex,
			"attempt", attempt,
			"backoff_ms", wait.Milliseconds(),
			"error", attemptErr,
		)
		if err := sleepCtx(ctx, wait); err != nil {
			e.recordWaitCancellation(ectx, step, stepIndex, pass, attempt, "cancelled during retry backoff")
			return finish(StepStatusFailed, err)
		}
	}

	if step.ContinueOnError && !errors.Is(lastErr, context.Canceled) {
		result.SoftFailed = true
		res, _ := finish(StepStatusFailed, lastErr)
		// Soft failures surface in the aggregate result as warnings, not as
		// an error from the executor.
		return res, nil
	}
	return finish(StepStatusFailed, lastErr)
}

// recordWaitCancellation appends the record marking where a run was cut when
// cancellation arrived during a pre-step delay or a retry backoff. Attempt is
// the last attempt made, zero when no attempt started.
func (e *Executor) recordWaitCancellation(ectx *ExecutionContext, step *StepDefinition, stepIndex, pass, attempt int, detail string) {
	now := time.Now()
	ectx.Log.Append(RunRecord{
		StepIndex:   stepIndex,
		StepKind:    step.Type,
		Pass:        pass,
		Attempt:     attempt,
		Outcome:     OutcomeCancelled,
		StartedAt:   now,
		CompletedAt: now,
		Error:       detail,
	})
}

// resolvedFields carries the per-kind substituted payload for one step.
type resolvedFields struct {
	path     string
	text     string
	command  string
	filename string
	args     map[string]string
}

// resolveFields substitutes placeholders in every template field of the step.
func (e *Executor) resolveFields(ctx context.Context, step *StepDefinition, ectx *ExecutionContext) (*resolvedFields, error) {
	r := &resolvedFields{}
	var err error

	switch step.Type {
	case StepOpen:
		r.path, err = Resolve(ctx, step.Path, ectx.Bindings, ectx.OnMissing)
	case StepType:
		r.text, err = Resolve(ctx, step.Text, ectx.Bindings, ectx.OnMissing)
	case StepRun:
		r.command, err = Resolve(ctx, step.Command, ectx.Bindings, ectx.OnMissing)
	case StepScreenshot:
		r.filename, err = Resolve(ctx, step.Filename, ectx.Bindings, ectx.OnMissing)
	case StepCustom:
		r.args = make(map[string]string, len(step.Args))
		for k, v := range step.Args {
			r.args[k], err = Resolve(ctx, v, ectx.Bindings, ectx.OnMissing)
			if err != nil {
				break
			}
		}
	}

	if err != nil {
		return nil, err
	}
	return r, nil
}

// redactFields produces the log snapshot of the step's substituted fields,
// with sensitive variable values replaced by the redaction placeholder.
// Every referenced variable is bound by the time this runs, so resolution
// against the redacted snapshot cannot miss.
func (e *Executor) redactFields(step *StepDefinition, ectx *ExecutionContext) map[string]string {
	redacted := NewBindingSet(ectx.Bindings.Snapshot(), nil)
	out := make(map[string]string)
	for field, tmpl := range step.templateFields() {
		v, err := Resolve(context.Background(), tmpl, redacted, nil)
		if err != nil {
			// Unreachable after a successful resolve; keep the raw template
			// rather than dropping the field.
			v = tmpl
		}
		out[field] = v
	}
	if step.Type == StepClick {
		out["x"] = fmt.Sprintf("%d", step.X)
		out["y"] = fmt.Sprintf("%d", step.Y)
	}
	if step.Type == StepWait {
		out["seconds"] = fmt.Sprintf("%v", step.Seconds)
	}
	if step.Type == StepCustom {
		out["name"] = step.Name
	}
	return out
}

// performOnce dispatches a single attempt, bounding it by the step timeout.
//
// The dispatch runs in its own goroutine: if the backend overruns the timeout
// the attempt is reported as a TimeoutError immediately, without assuming the
// backend can be interrupted. The backend still receives the deadline context
// so cooperative implementations stop early.
func (e *Executor) performOnce(ctx context.Context, step *StepDefinition, r *resolvedFields) (string, error) {
	// Wait steps never reach the dispatcher.
	if step.Type == StepWait {
		if err := sleepCtx(ctx, secondsToDuration(step.Seconds)); err != nil {
			return "", err
		}
		return "", nil
	}

	timeout := secondsToDuration(step.Timeout)
	attemptCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type dispatchResult struct {
		output string
		err    error
	}
	done := make(chan dispatchResult, 1)

	go func() {
		var out string
		var err error
		switch step.Type {
		case StepOpen:
			err = e.dispatcher.Open(attemptCtx, r.path)
		case StepClick:
			err = e.dispatcher.Click(attemptCtx, step.X, step.Y)
		case StepType:
			err = e.dispatcher.Type(attemptCtx, r.text)
		case StepRun:
			out, err = e.dispatcher.Run(attemptCtx, r.command)
		case StepScreenshot:
			err = e.dispatcher.Screenshot(attemptCtx, r.filename)
		case StepCustom:
			err = e.dispatcher.Custom(attemptCtx, step.Name, r.args)
		default:
			err = fmt.Errorf("unsupported step type: %s", step.Type)
		}
		done <- dispatchResult{output: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if attemptCtx.Err() == context.DeadlineExceeded {
				return "", &errors.TimeoutError{
					Operation: fmt.Sprintf("%s step", step.Type),
					Duration:  timeout,
					Cause:     res.err,
				}
			}
			return "", &errors.ActionError{
				Step:   string(step.Type),
				Detail: res.err.Error(),
				Cause:  res.err,
			}
		}
		return res.output, nil
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			// Run-level cancellation, not a step timeout.
			return "", ctx.Err()
		}
		return "", &errors.TimeoutError{
			Operation: fmt.Sprintf("%s step", step.Type),
			Duration:  timeout,
		}
	}
}

// backoffDelay computes the wait after the given failed attempt number.
func backoffDelay(retry *RetryDefinition, attempt int) time.Duration {
	base := secondsToDuration(retry.Delay)
	switch retry.Backoff {
	case BackoffLinear:
		return time.Duration(attempt) * base
	case BackoffExponential:
		return time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	default:
		return base
	}
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
