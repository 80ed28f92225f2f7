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
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

func TestParseVarFlags(t *testing.T) {
	vars, err := parseVarFlags([]string{"who=world", "path=/tmp/a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"who": "world", "path": "/tmp/a=b"}, vars)

	_, err = parseVarFlags([]string{"novalue"})
	require.Error(t, err)

	_, err = parseVarFlags([]string{"=empty"})
	require.Error(t, err)

	vars, err = parseVarFlags(nil)
	require.NoError(t, err)
	assert.Nil(t, vars)
}

func TestRecordPrinterParsesSplitWrites(t *testing.T) {
	var out bytes.Buffer
	p := &recordPrinter{out: &out}

	line := `{"step_index":2,"step_kind":"run","pass":1,"attempt":3,"outcome":"succeeded",` +
		`"started_at":"2026-03-06T10:00:00Z","completed_at":"2026-03-06T10:00:01Z"}` + "\n"

	// Deliver the line in two writes to exercise buffering.
	_, err := p.Write([]byte(line[:10]))
	require.NoError(t, err)
	_, err = p.Write([]byte(line[10:]))
	require.NoError(t, err)

	assert.Contains(t, out.String(), "step 2 run")
	assert.Contains(t, out.String(), "attempt 3")
	assert.Contains(t, out.String(), "1000ms")
}

func TestReportResultSummaryCountsSteps(t *testing.T) {
	orig := os.Stderr
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stderr = w
	defer func() { os.Stderr = orig }()

	reportErr := reportResult(&workflow.RunResult{
		State:  workflow.RunCompleted,
		Passes: 2,
		Steps:  make([]workflow.StepResult, 3),
	}, false)
	w.Close()
	os.Stderr = orig

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, reportErr)
	assert.Contains(t, string(out), "2 pass(es)")
	assert.Contains(t, string(out), "3 step(s)")
}

func TestReportResultExitCodes(t *testing.T) {
	err := reportResult(&workflow.RunResult{State: workflow.RunCompleted, Passes: 1}, false)
	assert.NoError(t, err)

	err = reportResult(&workflow.RunResult{State: workflow.RunFailed, Error: "step failed"}, false)
	exitErr, ok := asExitError(err)
	require.True(t, ok)
	assert.Equal(t, ExitExecutionFailed, exitErr.Code)

	err = reportResult(&workflow.RunResult{
		State: workflow.RunFailed,
		Error: `cannot prompt for "who" in non-interactive mode`,
	}, false)
	exitErr, ok = asExitError(err)
	require.True(t, ok)
	assert.Equal(t, ExitMissingInputNonInteractive, exitErr.Code)

	err = reportResult(&workflow.RunResult{State: workflow.RunCancelled}, false)
	require.Error(t, err)
}

func TestLoadChained(t *testing.T) {
	dir := t.TempDir()
	yaml := `
name: second
steps:
  - type: wait
    seconds: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "second.yml"), []byte(yaml), 0600))

	def, err := loadChained(dir, "second", workflow.DefinitionDefaults{})
	require.NoError(t, err)
	assert.Equal(t, "second", def.Name)

	_, err = loadChained(dir, "missing", workflow.DefinitionDefaults{})
	require.Error(t, err)
}

func TestLocalChainerRecordsLatest(t *testing.T) {
	c := &localChainer{}
	c.StartChained("next", "first", workflow.RunCompleted)
	assert.Equal(t, "next", c.next)
}

func TestTimelineDurationInPrinter(t *testing.T) {
	start := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	p := &recordPrinter{out: &out}
	p.print(workflow.RunRecord{
		StepIndex:   0,
		StepKind:    workflow.StepClick,
		Pass:        1,
		Attempt:     1,
		Outcome:     workflow.OutcomeFailed,
		Error:       "no display",
		StartedAt:   start,
		CompletedAt: start.Add(50 * time.Millisecond),
	})

	assert.Contains(t, out.String(), "step 0 click")
	assert.Contains(t, out.String(), "no display")
	assert.Contains(t, out.String(), "50ms")
}
