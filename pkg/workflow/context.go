package workflow

import (
	"sync"
	"sync/atomic"
)

// ExecutionContext is the per-run mutable state: the binding set, the current
// step index, cumulative attempt counts, the run log handle, and the
// cooperative cancellation flag.
//
// Exactly one run controller owns an execution context, and a new run always
// gets a fresh one, even for the identical definition. Nothing here is shared
// across runs.
type ExecutionContext struct {
	// Bindings is the run's variable bindings
	Bindings *BindingSet

	// Log is the run's append-only record
	Log *RunLog

	// OnMissing resolves variables with no binding (may be nil)
	OnMissing MissingVariableFunc

	mu        sync.Mutex
	stepIndex int
	attempts  map[int]int
	cancelled atomic.Bool
}

// NewExecutionContext creates the state for one run.
func NewExecutionContext(bindings *BindingSet, log *RunLog, onMissing MissingVariableFunc) *ExecutionContext {
	if bindings == nil {
		bindings = NewBindingSet(nil, nil)
	}
	if log == nil {
		log = NewRunLog(nil)
	}
	return &ExecutionContext{
		Bindings:  bindings,
		Log:       log,
		OnMissing: onMissing,
		attempts:  make(map[int]int),
	}
}

// Cancel requests cooperative cancellation. The controller observes the flag
// before starting each step's first attempt; an action already in flight is
// never interrupted, since backends are not guaranteed interruptible.
func (e *ExecutionContext) Cancel() {
	e.cancelled.Store(true)
}

// Cancelled reports whether cancellation has been requested.
func (e *ExecutionContext) Cancelled() bool {
	return e.cancelled.Load()
}

// StepIndex returns the index of the step currently (or last) executing.
func (e *ExecutionContext) StepIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stepIndex
}

// setStepIndex records the step the controller is about to execute.
func (e *ExecutionContext) setStepIndex(i int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stepIndex = i
}

// recordAttempt bumps and returns the cumulative attempt count for a step.
func (e *ExecutionContext) recordAttempt(stepIndex int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts[stepIndex]++
	return e.attempts[stepIndex]
}

// Attempts returns the cumulative attempt count for a step across the run.
func (e *ExecutionContext) Attempts(stepIndex int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[stepIndex]
}

// resetAttempts clears per-step attempt counters. The controller calls this
// between loop passes when retry budgets are configured to reset per pass.
func (e *ExecutionContext) resetAttempts() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts = make(map[int]int)
}
