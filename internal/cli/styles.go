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
	"github.com/charmbracelet/lipgloss"

	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

// CLI style colors using lipgloss
var (
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	styleError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	styleMuted = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	styleBold  = lipgloss.NewStyle().Bold(true)
)

// Symbols for status indicators
const (
	symbolOK    = "✓"
	symbolWarn  = "⚠"
	symbolError = "✗"
)

// renderState colors a run state for terminal output.
func renderState(state workflow.RunState) string {
	switch state {
	case workflow.RunCompleted:
		return styleOK.Render(string(state))
	case workflow.RunFailed:
		return styleError.Render(string(state))
	case workflow.RunCancelled:
		return styleWarn.Render(string(state))
	default:
		return styleMuted.Render(string(state))
	}
}

// renderOutcome renders a one-character marker for an attempt outcome.
func renderOutcome(outcome workflow.AttemptOutcome) string {
	switch outcome {
	case workflow.OutcomeSucceeded:
		return styleOK.Render(symbolOK)
	case workflow.OutcomeSoftFailed:
		return styleWarn.Render(symbolWarn)
	case workflow.OutcomeCancelled:
		return styleWarn.Render(symbolWarn)
	default:
		return styleError.Render(symbolError)
	}
}
