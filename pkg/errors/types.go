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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents a structural problem with a workflow definition.
// The engine refuses to start a run on a definition that produced one of these,
// so validation failures can never leave side effects behind.
type ValidationError struct {
	// Field identifies which definition field failed validation.
	// For step fields this includes the step index, e.g. "steps[2].command".
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "workflow", "run", "schedule")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// UnresolvedVariableError indicates a ${name} placeholder that had no binding
// and could not be obtained from the missing-variable callback.
//
// This error is deliberately never retried: retrying without new input cannot
// succeed.
type UnresolvedVariableError struct {
	// Name is the variable that could not be resolved
	Name string

	// Cause is the error from the missing-variable callback, if any
	Cause error
}

// Error implements the error interface.
func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("unresolved variable: ${%s}", e.Name)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *UnresolvedVariableError) Unwrap() error {
	return e.Cause
}

// MalformedTemplateError indicates a template with an unterminated or empty
// ${...} token. This is a hard error: silently passing the raw text through
// would inject the broken fragment verbatim into an action (including shell
// commands).
type MalformedTemplateError struct {
	// Template is the offending template string
	Template string

	// Position is the byte offset of the token that failed to parse
	Position int
}

// Error implements the error interface.
func (e *MalformedTemplateError) Error() string {
	return fmt.Sprintf("malformed template at offset %d: %q", e.Position, e.Template)
}

// ActionError represents a failure reported by an action backend.
// Action failures are retryable per the step's retry policy.
type ActionError struct {
	// Step is the kind of step that failed (e.g., "click", "run")
	Step string

	// Detail is the backend's description of the failure
	Detail string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s action failed: %s", e.Step, e.Detail)
	}
	return fmt.Sprintf("%s action failed", e.Step)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ActionError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents an action that exceeded its step timeout.
// It is a specialization of an action failure and is retryable.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "run step", "screenshot step")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "loop_safety_bound")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
