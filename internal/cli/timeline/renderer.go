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

// Package timeline renders an ASCII timeline of a run's step attempts.
package timeline

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

const (
	// MinTerminalWidth is the minimum supported terminal width
	MinTerminalWidth = 80
	// DefaultBarWidth is the default width for duration bars
	DefaultBarWidth = 40

	statusIconOK    = "✓"
	statusIconError = "✗"
)

// Renderer renders ASCII timelines from run records.
type Renderer struct {
	Width    int
	BarWidth int
}

// NewRenderer creates a renderer sized to the current terminal, falling
// back to MinTerminalWidth when stdout is not a terminal.
func NewRenderer() *Renderer {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < MinTerminalWidth {
		width = MinTerminalWidth
	}
	return &Renderer{
		Width:    width,
		BarWidth: DefaultBarWidth,
	}
}

// Render formats the records as one line per attempt, with a duration
// bar positioned relative to the full run span.
func (r *Renderer) Render(records []workflow.RunRecord) string {
	if len(records) == 0 {
		return "no records\n"
	}

	start := records[0].StartedAt
	end := records[0].CompletedAt
	for _, rec := range records {
		if rec.StartedAt.Before(start) {
			start = rec.StartedAt
		}
		if rec.CompletedAt.After(end) {
			end = rec.CompletedAt
		}
	}
	total := end.Sub(start)
	if total <= 0 {
		total = time.Millisecond
	}

	labelWidth := r.Width - r.BarWidth - 20
	if labelWidth < 16 {
		labelWidth = 16
	}

	var b strings.Builder
	fmt.Fprintf(&b, "total %s over %d attempt(s)\n", formatDuration(total), len(records))

	for _, rec := range records {
		label := fmt.Sprintf("%s step %d (pass %d, attempt %d)",
			icon(rec.Outcome), rec.StepIndex, rec.Pass, rec.Attempt)
		if len(label) > labelWidth {
			label = label[:labelWidth-1] + "…"
		}

		offset := int(float64(rec.StartedAt.Sub(start)) / float64(total) * float64(r.BarWidth))
		length := int(float64(rec.CompletedAt.Sub(rec.StartedAt)) / float64(total) * float64(r.BarWidth))
		if length < 1 {
			length = 1
		}
		if offset+length > r.BarWidth {
			length = r.BarWidth - offset
		}

		bar := strings.Repeat(" ", offset) + strings.Repeat("█", length)
		bar += strings.Repeat(" ", r.BarWidth-len([]rune(bar)))

		fmt.Fprintf(&b, "%-*s |%s| %8s %s\n",
			labelWidth, label, bar,
			formatDuration(rec.CompletedAt.Sub(rec.StartedAt)), rec.StepKind)
	}

	return b.String()
}

func icon(outcome workflow.AttemptOutcome) string {
	if outcome == workflow.OutcomeSucceeded {
		return statusIconOK
	}
	return statusIconError
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}
