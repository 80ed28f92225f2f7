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

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "github.com/CandanUmut/systematic-automation-agent/pkg/errors"
	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

func newTestArchive(t *testing.T) *RunArchive {
	t.Helper()
	archive, err := New(Config{Path: filepath.Join(t.TempDir(), "runs.db")})
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })
	return archive
}

func sampleRun(id, wf string, state workflow.RunState, started time.Time) *ArchivedRun {
	return &ArchivedRun{
		ID:          id,
		Workflow:    wf,
		State:       state,
		Passes:      1,
		StartedAt:   started,
		CompletedAt: started.Add(2 * time.Second),
		Records: []workflow.RunRecord{
			{
				StepIndex: 0,
				StepKind:  workflow.StepRun,
				Pass:      1,
				Attempt:   1,
				Outcome:   workflow.OutcomeSucceeded,
				StartedAt: started,
			},
		},
	}
}

func TestArchiveAndGet(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	started := time.Now().Truncate(time.Millisecond)

	run := sampleRun("run-1", "greet", workflow.RunCompleted, started)
	run.Warnings = []string{"step 2 soft-failed"}
	require.NoError(t, archive.Archive(ctx, run))

	got, err := archive.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "greet", got.Workflow)
	assert.Equal(t, workflow.RunCompleted, got.State)
	assert.Equal(t, []string{"step 2 soft-failed"}, got.Warnings)
	require.Len(t, got.Records, 1)
	assert.Equal(t, workflow.OutcomeSucceeded, got.Records[0].Outcome)
	assert.True(t, got.StartedAt.Equal(started))
}

func TestGetNotFound(t *testing.T) {
	archive := newTestArchive(t)

	_, err := archive.Get(context.Background(), "missing")
	require.Error(t, err)

	var notFound *agenterrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "run", notFound.Resource)
	assert.Equal(t, "missing", notFound.ID)
}

func TestArchiveReplacesExisting(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	started := time.Now()

	run := sampleRun("run-1", "greet", workflow.RunRunning, started)
	require.NoError(t, archive.Archive(ctx, run))

	run.State = workflow.RunFailed
	run.Error = "step 1 failed"
	require.NoError(t, archive.Archive(ctx, run))

	got, err := archive.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.RunFailed, got.State)
	assert.Equal(t, "step 1 failed", got.Error)

	runs, err := archive.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestListFiltersAndOrder(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, archive.Archive(ctx, sampleRun("a", "deploy", workflow.RunCompleted, base.Add(-3*time.Hour))))
	require.NoError(t, archive.Archive(ctx, sampleRun("b", "deploy", workflow.RunFailed, base.Add(-2*time.Hour))))
	require.NoError(t, archive.Archive(ctx, sampleRun("c", "greet", workflow.RunCompleted, base.Add(-1*time.Hour))))

	runs, err := archive.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID, "most recent first")
	assert.Equal(t, "a", runs[2].ID)

	runs, err = archive.List(ctx, ListFilter{Workflow: "deploy"})
	require.NoError(t, err)
	require.Len(t, runs, 2)

	runs, err = archive.List(ctx, ListFilter{Workflow: "deploy", State: workflow.RunFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].ID)

	runs, err = archive.List(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestPruneBefore(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, archive.Archive(ctx, sampleRun("old", "greet", workflow.RunCompleted, base.Add(-48*time.Hour))))
	require.NoError(t, archive.Archive(ctx, sampleRun("new", "greet", workflow.RunCompleted, base)))

	deleted, err := archive.PruneBefore(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = archive.Get(ctx, "old")
	require.Error(t, err)
	_, err = archive.Get(ctx, "new")
	require.NoError(t, err)
}

func TestInMemoryDatabase(t *testing.T) {
	archive, err := New(Config{Path: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	defer archive.Close()

	require.NoError(t, archive.Archive(context.Background(), sampleRun("m", "greet", workflow.RunCompleted, time.Now())))
	got, err := archive.Get(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, "m", got.ID)
}
