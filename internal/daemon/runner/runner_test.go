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

package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CandanUmut/systematic-automation-agent/internal/store"
	agenterrors "github.com/CandanUmut/systematic-automation-agent/pkg/errors"
	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

// fakeDispatcher answers every call successfully, optionally blocking
// until released.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []string
	block chan struct{}
}

func (d *fakeDispatcher) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *fakeDispatcher) wait(ctx context.Context) error {
	if d.block == nil {
		return nil
	}
	select {
	case <-d.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *fakeDispatcher) Open(ctx context.Context, path string) error {
	d.record("open:" + path)
	return d.wait(ctx)
}

func (d *fakeDispatcher) Click(ctx context.Context, x, y int) error {
	d.record("click")
	return d.wait(ctx)
}

func (d *fakeDispatcher) Type(ctx context.Context, text string) error {
	d.record("type:" + text)
	return d.wait(ctx)
}

func (d *fakeDispatcher) Run(ctx context.Context, command string) (string, error) {
	d.record("run:" + command)
	return "ok", d.wait(ctx)
}

func (d *fakeDispatcher) Screenshot(ctx context.Context, filename string) error {
	d.record("screenshot:" + filename)
	return d.wait(ctx)
}

func (d *fakeDispatcher) Custom(ctx context.Context, name string, args map[string]string) error {
	d.record("custom:" + name)
	return d.wait(ctx)
}

func mustParse(t *testing.T, yaml string) *workflow.Definition {
	t.Helper()
	def, err := workflow.ParseDefinition([]byte(yaml))
	require.NoError(t, err)
	return def
}

func waitForState(t *testing.T, r *Runner, id string, want workflow.RunState) *RunSnapshot {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		snap, err := r.Get(id)
		require.NoError(t, err)
		if snap.State == want {
			return snap
		}
		select {
		case <-deadline:
			t.Fatalf("run %s never reached state %s (currently %s)", id, want, snap.State)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

const greetYAML = `
name: greet
steps:
  - type: run
    command: echo hello
`

func TestSubmitRunsToCompletion(t *testing.T) {
	d := &fakeDispatcher{}
	r := New(Config{MaxParallel: 2}, d)

	snap, err := r.Submit(context.Background(), SubmitRequest{
		Definition: mustParse(t, greetYAML),
	})
	require.NoError(t, err)
	assert.Equal(t, "greet", snap.Workflow)

	final := waitForState(t, r, snap.ID, workflow.RunCompleted)
	assert.Equal(t, 1, final.Passes)
	require.NotEmpty(t, final.Records)
	assert.Equal(t, workflow.OutcomeSucceeded, final.Records[0].Outcome)
	assert.Contains(t, d.calls, "run:echo hello")
}

func TestSubmitVarsResolveTemplates(t *testing.T) {
	d := &fakeDispatcher{}
	r := New(Config{}, d)

	varYAML := `
name: greet-who
vars: [who]
steps:
  - type: run
    command: echo ${who}
`
	snap, err := r.Submit(context.Background(), SubmitRequest{
		Definition: mustParse(t, varYAML),
		Vars:       map[string]string{"who": "there"},
	})
	require.NoError(t, err)

	waitForState(t, r, snap.ID, workflow.RunCompleted)
	assert.Contains(t, d.calls, "run:echo there")
}

func TestUnresolvedVarFailsRun(t *testing.T) {
	d := &fakeDispatcher{}
	r := New(Config{}, d)

	varYAML := `
name: greet-who
vars: [who]
steps:
  - type: run
    command: echo ${who}
`
	snap, err := r.Submit(context.Background(), SubmitRequest{
		Definition: mustParse(t, varYAML),
	})
	require.NoError(t, err)

	final := waitForState(t, r, snap.ID, workflow.RunFailed)
	assert.NotEmpty(t, final.Error)
	assert.Empty(t, d.calls)
}

func TestSubmitRequiresDefinitionOrName(t *testing.T) {
	r := New(Config{}, &fakeDispatcher{})
	_, err := r.Submit(context.Background(), SubmitRequest{})
	require.Error(t, err)
}

func TestGetUnknownRun(t *testing.T) {
	r := New(Config{}, &fakeDispatcher{})
	_, err := r.Get("nope")

	var notFound *agenterrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestCancelStopsRun(t *testing.T) {
	d := &fakeDispatcher{block: make(chan struct{})}
	r := New(Config{}, d)

	snap, err := r.Submit(context.Background(), SubmitRequest{
		Definition: mustParse(t, greetYAML),
	})
	require.NoError(t, err)

	waitForState(t, r, snap.ID, workflow.RunRunning)
	require.NoError(t, r.Cancel(snap.ID))

	final := waitForState(t, r, snap.ID, workflow.RunCancelled)
	assert.Equal(t, workflow.RunCancelled, final.State)

	// Cancelling again is a no-op.
	require.NoError(t, r.Cancel(snap.ID))
}

func TestCancelAllStopsActiveRuns(t *testing.T) {
	d := &fakeDispatcher{block: make(chan struct{})}
	r := New(Config{}, d)
	ctx := context.Background()

	first, err := r.Submit(ctx, SubmitRequest{Definition: mustParse(t, greetYAML)})
	require.NoError(t, err)
	second, err := r.Submit(ctx, SubmitRequest{Definition: mustParse(t, greetYAML)})
	require.NoError(t, err)

	waitForState(t, r, first.ID, workflow.RunRunning)
	waitForState(t, r, second.ID, workflow.RunRunning)

	cancelled := r.CancelAll()
	assert.Equal(t, 2, cancelled)

	waitForState(t, r, first.ID, workflow.RunCancelled)
	waitForState(t, r, second.ID, workflow.RunCancelled)

	// Finished runs are not re-cancelled.
	assert.Zero(t, r.CancelAll())
}

func TestListFiltersAndOrders(t *testing.T) {
	d := &fakeDispatcher{}
	r := New(Config{}, d)
	ctx := context.Background()

	first, err := r.Submit(ctx, SubmitRequest{Definition: mustParse(t, greetYAML)})
	require.NoError(t, err)
	waitForState(t, r, first.ID, workflow.RunCompleted)

	second, err := r.Submit(ctx, SubmitRequest{Definition: mustParse(t, greetYAML)})
	require.NoError(t, err)
	waitForState(t, r, second.ID, workflow.RunCompleted)

	all := r.List(ListFilter{})
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "most recent first")

	completed := r.List(ListFilter{State: workflow.RunCompleted, Limit: 1})
	assert.Len(t, completed, 1)

	none := r.List(ListFilter{Workflow: "other"})
	assert.Empty(t, none)
}

func TestSubscribeStreamsRecords(t *testing.T) {
	d := &fakeDispatcher{block: make(chan struct{})}
	r := New(Config{}, d)

	snap, err := r.Submit(context.Background(), SubmitRequest{
		Definition: mustParse(t, greetYAML),
	})
	require.NoError(t, err)

	ch, unsub := r.Subscribe(snap.ID)
	defer unsub()

	close(d.block)

	select {
	case rec := <-ch:
		assert.Equal(t, workflow.StepRun, rec.StepKind)
		assert.Equal(t, workflow.OutcomeSucceeded, rec.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("no record received")
	}
}

func TestRunLogFileWritten(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{RunLogDir: dir}, &fakeDispatcher{})

	snap, err := r.Submit(context.Background(), SubmitRequest{
		Definition: mustParse(t, greetYAML),
	})
	require.NoError(t, err)
	waitForState(t, r, snap.ID, workflow.RunCompleted)

	data, err := os.ReadFile(filepath.Join(dir, snap.ID+".jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"outcome":"succeeded"`)
}

type fixedSource struct {
	defs map[string]*workflow.Definition
}

func (s *fixedSource) Get(name string) (*workflow.Definition, error) {
	def, ok := s.defs[name]
	if !ok {
		return nil, &agenterrors.NotFoundError{Resource: "workflow", ID: name}
	}
	return def, nil
}

func TestChainedRunStarts(t *testing.T) {
	d := &fakeDispatcher{}
	chainYAML := `
name: first
steps:
  - type: run
    command: echo one
chain:
  workflow: second
`
	secondYAML := `
name: second
steps:
  - type: run
    command: echo two
`
	source := &fixedSource{defs: map[string]*workflow.Definition{
		"second": mustParse(t, secondYAML),
	}}
	r := New(Config{}, d, WithDefinitionSource(source))

	snap, err := r.Submit(context.Background(), SubmitRequest{
		Definition: mustParse(t, chainYAML),
	})
	require.NoError(t, err)
	waitForState(t, r, snap.ID, workflow.RunCompleted)

	// The chained run appears in the registry and completes.
	deadline := time.After(5 * time.Second)
	for {
		chained := r.List(ListFilter{Workflow: "second"})
		if len(chained) == 1 && chained[0].State == workflow.RunCompleted {
			assert.Equal(t, "first", chained[0].ChainedFrom)
			break
		}
		select {
		case <-deadline:
			t.Fatal("chained run never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type memoryArchiver struct {
	mu   sync.Mutex
	runs []*store.ArchivedRun
}

func (a *memoryArchiver) Archive(ctx context.Context, run *store.ArchivedRun) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = append(a.runs, run)
	return nil
}

func TestFinishedRunsArchived(t *testing.T) {
	archiver := &memoryArchiver{}
	r := New(Config{}, &fakeDispatcher{}, WithArchiver(archiver))

	snap, err := r.Submit(context.Background(), SubmitRequest{
		Definition: mustParse(t, greetYAML),
	})
	require.NoError(t, err)
	waitForState(t, r, snap.ID, workflow.RunCompleted)

	require.Eventually(t, func() bool {
		archiver.mu.Lock()
		defer archiver.mu.Unlock()
		return len(archiver.runs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	assert.Equal(t, snap.ID, archiver.runs[0].ID)
	assert.Equal(t, workflow.RunCompleted, archiver.runs[0].State)
	assert.NotEmpty(t, archiver.runs[0].Records)
}

func TestDrainingRejectsNewRuns(t *testing.T) {
	d := &fakeDispatcher{block: make(chan struct{})}
	r := New(Config{}, d)

	snap, err := r.Submit(context.Background(), SubmitRequest{
		Definition: mustParse(t, greetYAML),
	})
	require.NoError(t, err)
	waitForState(t, r, snap.ID, workflow.RunRunning)

	r.StartDraining()
	assert.True(t, r.IsDraining())

	_, err = r.Submit(context.Background(), SubmitRequest{
		Definition: mustParse(t, greetYAML),
	})
	require.Error(t, err)

	assert.Equal(t, 1, r.ActiveRunCount())
	close(d.block)

	require.NoError(t, r.WaitForDrain(context.Background(), 5*time.Second))
	assert.Equal(t, 0, r.ActiveRunCount())
}

func TestMaxParallelLimitsConcurrency(t *testing.T) {
	d := &fakeDispatcher{block: make(chan struct{})}
	r := New(Config{MaxParallel: 1}, d)
	ctx := context.Background()

	first, err := r.Submit(ctx, SubmitRequest{Definition: mustParse(t, greetYAML)})
	require.NoError(t, err)
	waitForState(t, r, first.ID, workflow.RunRunning)

	second, err := r.Submit(ctx, SubmitRequest{Definition: mustParse(t, greetYAML)})
	require.NoError(t, err)

	// The second run stays queued while the first holds the slot.
	time.Sleep(50 * time.Millisecond)
	snap, err := r.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunPending, snap.State)

	close(d.block)
	waitForState(t, r, first.ID, workflow.RunCompleted)
	waitForState(t, r, second.ID, workflow.RunCompleted)
}
