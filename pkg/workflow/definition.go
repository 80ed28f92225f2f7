// Package workflow implements the desktop workflow execution engine.
//
// A workflow definition is a named, ordered sequence of steps plus the set of
// variables referenced by the steps. Definitions are parsed from YAML or JSON,
// validated for structural correctness before any action runs, and are
// immutable once loaded. Steps execute strictly in definition order because
// they mutate shared external state (the one cursor, the one focused window).
package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/CandanUmut/systematic-automation-agent/pkg/errors"
	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow/expression"
)

// Definition represents a loaded workflow definition.
//
// Loop and Chain are optional. Vars must cover every ${name} placeholder that
// appears anywhere in the steps; Validate enforces this at load time so a
// half-broken workflow can never start executing side effects.
type Definition struct {
	// Name is the workflow identifier
	Name string `yaml:"name" json:"name"`

	// Description provides human-readable context about the workflow
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Vars declares every variable referenced by the steps
	Vars []string `yaml:"vars,omitempty" json:"vars,omitempty"`

	// Sensitive lists declared variables whose values are redacted in run logs
	Sensitive []string `yaml:"sensitive,omitempty" json:"sensitive,omitempty"`

	// Steps are the ordered executable units of the workflow
	Steps []StepDefinition `yaml:"steps" json:"steps"`

	// Loop re-executes the full step sequence (optional)
	Loop *LoopDefinition `yaml:"loop,omitempty" json:"loop,omitempty"`

	// Chain triggers another workflow when this one reaches a terminal state
	Chain *ChainDefinition `yaml:"chain,omitempty" json:"chain,omitempty"`
}

// StepKind identifies the action family of a step.
type StepKind string

const (
	// StepOpen opens a file or application by path
	StepOpen StepKind = "open"

	// StepClick clicks at screen coordinates
	StepClick StepKind = "click"

	// StepType types literal text
	StepType StepKind = "type"

	// StepRun executes a shell command
	StepRun StepKind = "run"

	// StepWait pauses the run; handled by the engine, never dispatched
	StepWait StepKind = "wait"

	// StepScreenshot captures the screen to a file
	StepScreenshot StepKind = "screenshot"

	// StepCustom invokes a named backend-specific action
	StepCustom StepKind = "custom"
)

// validStepKinds is the closed set of step kinds. New behavior is added as a
// new kind, not by open-ended dispatch.
var validStepKinds = map[StepKind]bool{
	StepOpen:       true,
	StepClick:      true,
	StepType:       true,
	StepRun:        true,
	StepWait:       true,
	StepScreenshot: true,
	StepCustom:     true,
}

// StepDefinition is one atomic, typed action within a workflow.
//
// It is a closed tagged variant: Type selects the kind and only that kind's
// payload fields are meaningful. Retry, Delay, Timeout, and ContinueOnError
// are valid on every kind.
type StepDefinition struct {
	// Type selects the step kind (open, click, type, run, wait, screenshot, custom)
	Type StepKind `yaml:"type" json:"type"`

	// Path is the file or application to open (open steps)
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// X, Y are screen coordinates (click steps)
	X int `yaml:"x,omitempty" json:"x,omitempty"`
	Y int `yaml:"y,omitempty" json:"y,omitempty"`

	// Text is the literal text to type (type steps)
	Text string `yaml:"text,omitempty" json:"text,omitempty"`

	// Command is the shell command to execute (run steps)
	Command string `yaml:"command,omitempty" json:"command,omitempty"`

	// Seconds is the pause duration (wait steps)
	Seconds float64 `yaml:"seconds,omitempty" json:"seconds,omitempty"`

	// Filename is the capture destination (screenshot steps)
	Filename string `yaml:"filename,omitempty" json:"filename,omitempty"`

	// Name identifies the backend action (custom steps)
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Args are backend action arguments (custom steps)
	Args map[string]string `yaml:"args,omitempty" json:"args,omitempty"`

	// Delay is an optional pause in seconds before the first attempt.
	// It is honored once; retries only wait the retry backoff.
	Delay float64 `yaml:"delay,omitempty" json:"delay,omitempty"`

	// Timeout is the maximum execution time for one attempt (in seconds)
	Timeout float64 `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Retry configures retry behavior for this step
	Retry *RetryDefinition `yaml:"retry,omitempty" json:"retry,omitempty"`

	// ContinueOnError converts a terminal step failure into a soft failure:
	// the outcome is recorded but the run advances to the next step.
	ContinueOnError bool `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`
}

// Backoff strategies for retry delays.
type Backoff string

const (
	// BackoffFixed waits the same delay between every attempt
	BackoffFixed Backoff = "fixed"

	// BackoffLinear waits delay * attemptNumber
	BackoffLinear Backoff = "linear"

	// BackoffExponential waits delay * 2^(attemptNumber-1)
	BackoffExponential Backoff = "exponential"
)

// RetryDefinition configures retry behavior for a step.
type RetryDefinition struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// Backoff selects the delay growth strategy (fixed, linear, exponential)
	Backoff Backoff `yaml:"backoff,omitempty" json:"backoff,omitempty"`

	// Delay is the base delay between attempts in seconds
	Delay float64 `yaml:"delay,omitempty" json:"delay,omitempty"`
}

// LoopMode selects how the full step sequence is repeated.
type LoopMode string

const (
	// LoopNone runs the step sequence once
	LoopNone LoopMode = "none"

	// LoopCount repeats the sequence a fixed number of times
	LoopCount LoopMode = "count"

	// LoopUntil repeats the sequence until a predicate holds, bounded by
	// a required safety limit
	LoopUntil LoopMode = "until"
)

// LoopDefinition re-executes the full step sequence.
type LoopDefinition struct {
	// Mode selects the loop behavior (none, count, until)
	Mode LoopMode `yaml:"mode" json:"mode"`

	// Count is the number of passes for count mode
	Count int `yaml:"count,omitempty" json:"count,omitempty"`

	// Until is the termination predicate for until mode, evaluated against
	// the current bindings and last pass outcome after each pass
	Until string `yaml:"until,omitempty" json:"until,omitempty"`

	// MaxPasses caps until-mode passes. Zero means the engine's configured
	// safety bound applies. The bound is mandatory: a never-true predicate
	// must terminate here, not loop forever.
	MaxPasses int `yaml:"max_passes,omitempty" json:"max_passes,omitempty"`
}

// ChainCondition selects which terminal states trigger a chained workflow.
type ChainCondition string

const (
	// ChainOnSuccess triggers only when the run completed
	ChainOnSuccess ChainCondition = "on_success"

	// ChainOnFailure triggers only when the run failed
	ChainOnFailure ChainCondition = "on_failure"

	// ChainAlways triggers on completion, failure, and cancellation
	ChainAlways ChainCondition = "always"
)

// ChainDefinition links this workflow's completion to starting another.
// The handoff is fire-and-forget; the run controller never waits for the
// chained run.
type ChainDefinition struct {
	// Workflow is the name of the workflow to trigger
	Workflow string `yaml:"workflow" json:"workflow"`

	// Condition selects which outcomes trigger the chain (defaults to on_success)
	Condition ChainCondition `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// Default retry configuration applied to steps without an explicit policy.
const (
	// DefaultRetryMaxAttempts is the default number of attempts per step.
	DefaultRetryMaxAttempts = 1

	// DefaultRetryDelay is the base delay between attempts in seconds.
	DefaultRetryDelay = 1.0
)

// DefaultStepTimeout is applied to steps without an explicit timeout, in
// seconds. Desktop actions normally complete quickly; run steps may launch
// slow commands, so the default is generous.
const DefaultStepTimeout = 120.0

// DefinitionDefaults carries engine-level defaults applied to steps that do
// not spell out their own retry, backoff, or timeout policy. Zero fields fall
// back to the package constants.
type DefinitionDefaults struct {
	// RetryMaxAttempts applies to steps without an explicit retry policy.
	RetryMaxAttempts int

	// Backoff applies to retry policies that omit a strategy.
	Backoff Backoff

	// StepTimeout is the default per-step timeout in seconds.
	StepTimeout float64
}

func (d DefinitionDefaults) withFallbacks() DefinitionDefaults {
	if d.RetryMaxAttempts < 1 {
		d.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if d.Backoff == "" {
		d.Backoff = BackoffFixed
	}
	if d.StepTimeout <= 0 {
		d.StepTimeout = DefaultStepTimeout
	}
	return d
}

// ParseDefinition parses a workflow definition from YAML or JSON bytes.
// (yaml.v3 accepts JSON input, so one entry point serves both formats.)
func ParseDefinition(data []byte) (*Definition, error) {
	return ParseDefinitionWith(data, DefinitionDefaults{})
}

// ParseDefinitionWith parses a definition and fills omitted step policies
// from the given engine defaults instead of the package constants.
func ParseDefinitionWith(data []byte, defaults DefinitionDefaults) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}

	def.applyDefaults(defaults.withFallbacks())

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}

	return &def, nil
}

// applyDefaults fills in retry, backoff, timeout, loop, and chain defaults.
func (d *Definition) applyDefaults(defaults DefinitionDefaults) {
	for i := range d.Steps {
		step := &d.Steps[i]

		if step.Timeout == 0 {
			step.Timeout = defaults.StepTimeout
		}

		if step.Retry == nil {
			step.Retry = &RetryDefinition{
				MaxAttempts: defaults.RetryMaxAttempts,
				Backoff:     defaults.Backoff,
				Delay:       DefaultRetryDelay,
			}
		}
		if step.Retry.Backoff == "" {
			step.Retry.Backoff = defaults.Backoff
		}
		if step.Retry.Delay == 0 {
			step.Retry.Delay = DefaultRetryDelay
		}
	}

	if d.Loop != nil && d.Loop.Mode == "" {
		d.Loop.Mode = LoopNone
	}

	if d.Chain != nil && d.Chain.Condition == "" {
		d.Chain.Condition = ChainOnSuccess
	}
}

// Validate checks the workflow definition for structural correctness.
//
// This is the single gate that prevents partially-malformed workflows from
// executing side effects midway: the engine never starts a run on a
// definition that failed validation.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &errors.ValidationError{
			Field:      "name",
			Message:    "workflow name is required",
			Suggestion: "add a descriptive name for the workflow",
		}
	}

	if len(d.Steps) == 0 {
		return &errors.ValidationError{
			Field:      "steps",
			Message:    "workflow must have at least one step",
			Suggestion: "add at least one step to the workflow definition",
		}
	}

	declared := make(map[string]bool, len(d.Vars))
	for _, name := range d.Vars {
		if name == "" {
			return &errors.ValidationError{
				Field:      "vars",
				Message:    "variable name cannot be empty",
				Suggestion: "remove the empty entry from vars",
			}
		}
		if !isIdentifier(name) {
			return &errors.ValidationError{
				Field:      "vars",
				Message:    fmt.Sprintf("invalid variable name: %q", name),
				Suggestion: "variable names may contain letters, digits, and underscores",
			}
		}
		declared[name] = true
	}

	for _, name := range d.Sensitive {
		if !declared[name] {
			return &errors.ValidationError{
				Field:      "sensitive",
				Message:    fmt.Sprintf("sensitive variable %q is not declared in vars", name),
				Suggestion: "declare the variable in vars before flagging it sensitive",
			}
		}
	}

	for i := range d.Steps {
		step := &d.Steps[i]

		if err := step.validate(i); err != nil {
			return err
		}

		// Every placeholder in any step field must be declared. Malformed
		// tokens are caught here too, before the run ever starts.
		for field, value := range step.templateFields() {
			refs, err := CollectPlaceholders(value)
			if err != nil {
				return &errors.ValidationError{
					Field:      fmt.Sprintf("steps[%d].%s", i, field),
					Message:    err.Error(),
					Suggestion: "close the ${...} token or escape the dollar sign",
				}
			}
			for _, ref := range refs {
				if !declared[ref] {
					return &errors.ValidationError{
						Field:      fmt.Sprintf("steps[%d].%s", i, field),
						Message:    fmt.Sprintf("undeclared variable: ${%s}", ref),
						Suggestion: fmt.Sprintf("add %q to the workflow vars list", ref),
					}
				}
			}
		}
	}

	if d.Loop != nil {
		if err := d.Loop.validate(); err != nil {
			return err
		}
		if d.Loop.Mode == LoopUntil {
			if err := expression.New().Validate(d.Loop.Until); err != nil {
				return &errors.ValidationError{
					Field:      "loop.until",
					Message:    fmt.Sprintf("predicate does not compile: %s", err),
					Suggestion: "check the expression syntax",
				}
			}
		}
	}

	if d.Chain != nil {
		if err := d.Chain.validate(); err != nil {
			return err
		}
	}

	return nil
}

// validate checks kind-specific structural constraints for one step.
func (s *StepDefinition) validate(index int) error {
	fieldName := func(f string) string { return fmt.Sprintf("steps[%d].%s", index, f) }

	if s.Type == "" {
		return &errors.ValidationError{
			Field:      fieldName("type"),
			Message:    "step type is required",
			Suggestion: "use one of: open, click, type, run, wait, screenshot, custom",
		}
	}
	if !validStepKinds[s.Type] {
		return &errors.ValidationError{
			Field:      fieldName("type"),
			Message:    fmt.Sprintf("unknown step type: %s", s.Type),
			Suggestion: "use one of: open, click, type, run, wait, screenshot, custom",
		}
	}

	switch s.Type {
	case StepOpen:
		if s.Path == "" {
			return &errors.ValidationError{
				Field:      fieldName("path"),
				Message:    "path is required for open steps",
				Suggestion: "set path to the file or application to open",
			}
		}
	case StepClick:
		if s.X < 0 || s.Y < 0 {
			return &errors.ValidationError{
				Field:      fieldName("x"),
				Message:    fmt.Sprintf("click coordinates must be non-negative, got (%d,%d)", s.X, s.Y),
				Suggestion: "use absolute screen coordinates",
			}
		}
	case StepType:
		if s.Text == "" {
			return &errors.ValidationError{
				Field:      fieldName("text"),
				Message:    "text is required for type steps",
				Suggestion: "set text to the string to type",
			}
		}
	case StepRun:
		if s.Command == "" {
			return &errors.ValidationError{
				Field:      fieldName("command"),
				Message:    "command is required for run steps",
				Suggestion: "set command to the shell command to execute",
			}
		}
	case StepWait:
		if s.Seconds < 0 {
			return &errors.ValidationError{
				Field:      fieldName("seconds"),
				Message:    fmt.Sprintf("wait seconds must be non-negative, got %v", s.Seconds),
				Suggestion: "use a zero or positive duration",
			}
		}
	case StepScreenshot:
		if s.Filename == "" {
			return &errors.ValidationError{
				Field:      fieldName("filename"),
				Message:    "filename is required for screenshot steps",
				Suggestion: "set filename to the capture destination",
			}
		}
	case StepCustom:
		if s.Name == "" {
			return &errors.ValidationError{
				Field:      fieldName("name"),
				Message:    "name is required for custom steps",
				Suggestion: "set name to the backend action identifier",
			}
		}
	}

	if s.Delay < 0 {
		return &errors.ValidationError{
			Field:      fieldName("delay"),
			Message:    "delay must be non-negative",
			Suggestion: "use a zero or positive delay",
		}
	}
	if s.Timeout < 0 {
		return &errors.ValidationError{
			Field:      fieldName("timeout"),
			Message:    "timeout must be non-negative",
			Suggestion: "use a zero or positive timeout",
		}
	}

	if s.Retry != nil {
		if err := s.Retry.validate(); err != nil {
			return &errors.ValidationError{
				Field:      fieldName("retry"),
				Message:    err.Error(),
				Suggestion: "use max_attempts >= 1 and a fixed, linear, or exponential backoff",
			}
		}
	}

	return nil
}

// validate checks the retry definition.
func (r *RetryDefinition) validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", r.MaxAttempts)
	}
	switch r.Backoff {
	case BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		return fmt.Errorf("unknown backoff strategy: %s", r.Backoff)
	}
	if r.Delay < 0 {
		return fmt.Errorf("delay must be non-negative, got %v", r.Delay)
	}
	return nil
}

// validate checks the loop definition.
func (l *LoopDefinition) validate() error {
	switch l.Mode {
	case LoopNone:
	case LoopCount:
		if l.Count < 1 {
			return &errors.ValidationError{
				Field:      "loop.count",
				Message:    fmt.Sprintf("count must be at least 1, got %d", l.Count),
				Suggestion: "set loop.count to the number of passes",
			}
		}
	case LoopUntil:
		if l.Until == "" {
			return &errors.ValidationError{
				Field:      "loop.until",
				Message:    "until expression is required for until mode",
				Suggestion: "add a predicate expression, e.g. pass >= 3",
			}
		}
		if l.MaxPasses < 0 {
			return &errors.ValidationError{
				Field:      "loop.max_passes",
				Message:    "max_passes must be non-negative",
				Suggestion: "omit max_passes to use the engine's safety bound",
			}
		}
	default:
		return &errors.ValidationError{
			Field:      "loop.mode",
			Message:    fmt.Sprintf("unknown loop mode: %s", l.Mode),
			Suggestion: "use one of: none, count, until",
		}
	}
	return nil
}

// validate checks the chain definition.
func (c *ChainDefinition) validate() error {
	if c.Workflow == "" {
		return &errors.ValidationError{
			Field:      "chain.workflow",
			Message:    "chained workflow name is required",
			Suggestion: "set chain.workflow to the workflow to trigger",
		}
	}
	switch c.Condition {
	case ChainOnSuccess, ChainOnFailure, ChainAlways:
	default:
		return &errors.ValidationError{
			Field:      "chain.condition",
			Message:    fmt.Sprintf("unknown chain condition: %s", c.Condition),
			Suggestion: "use one of: on_success, on_failure, always",
		}
	}
	return nil
}

// templateFields returns the step's string fields that are subject to
// variable substitution, keyed by field name.
func (s *StepDefinition) templateFields() map[string]string {
	fields := make(map[string]string)
	switch s.Type {
	case StepOpen:
		fields["path"] = s.Path
	case StepType:
		fields["text"] = s.Text
	case StepRun:
		fields["command"] = s.Command
	case StepScreenshot:
		fields["filename"] = s.Filename
	case StepCustom:
		for k, v := range s.Args {
			fields["args."+k] = v
		}
	}
	return fields
}

// Matches reports whether the chain should fire for the given terminal state.
func (c *ChainDefinition) Matches(state RunState) bool {
	switch c.Condition {
	case ChainAlways:
		return true
	case ChainOnSuccess:
		return state == RunCompleted
	case ChainOnFailure:
		return state == RunFailed
	default:
		return false
	}
}
