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

// Package prompt collects values for workflow variables that were not
// provided up front.
package prompt

import (
	"context"
	"strings"

	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

// Prompter asks the user for a variable value.
type Prompter interface {
	// Ask prompts for the named variable. sensitive hides the typed
	// value from the terminal.
	Ask(ctx context.Context, name string, sensitive bool) (string, error)
}

// MissingVariableFunc adapts a Prompter to the engine's missing-variable
// callback. isSensitive decides per variable whether input is masked.
func MissingVariableFunc(p Prompter, isSensitive func(name string) bool) workflow.MissingVariableFunc {
	return func(ctx context.Context, name string) (string, error) {
		sensitive := isSensitive != nil && isSensitive(name)
		value, err := p.Ask(ctx, name, sensitive)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(value), nil
	}
}
