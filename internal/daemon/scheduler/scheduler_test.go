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

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CandanUmut/systematic-automation-agent/internal/daemon/runner"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	requests []runner.SubmitRequest
	draining bool
}

func (f *fakeSubmitter) Submit(ctx context.Context, req runner.SubmitRequest) (*runner.RunSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return &runner.RunSnapshot{ID: "run-1", Workflow: req.Workflow}, nil
}

func (f *fakeSubmitter) IsDraining() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draining
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New([]Schedule{
		{Name: "bad", Cron: "not a cron", Workflow: "greet"},
	}, &fakeSubmitter{}, nil)
	require.Error(t, err)

	_, err = New([]Schedule{
		{Name: "", Cron: "* * * * *", Workflow: "greet"},
	}, &fakeSubmitter{}, nil)
	require.Error(t, err)

	_, err = New([]Schedule{
		{Name: "no-workflow", Cron: "* * * * *"},
	}, &fakeSubmitter{}, nil)
	require.Error(t, err)
}

func TestTickFiresDueSchedules(t *testing.T) {
	sub := &fakeSubmitter{}
	s, err := New([]Schedule{
		{Name: "nightly", Cron: "* * * * *", Workflow: "backup",
			Vars: map[string]string{"target": "/data"}, Enabled: true},
	}, sub, nil)
	require.NoError(t, err)

	// Force the schedule due, then tick past it.
	s.schedules["nightly"].nextRun = time.Now().Add(-time.Minute)
	s.tick(context.Background(), time.Now())

	require.Eventually(t, func() bool { return sub.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	sub.mu.Lock()
	req := sub.requests[0]
	sub.mu.Unlock()
	assert.Equal(t, "backup", req.Workflow)
	assert.Equal(t, "/data", req.Vars["target"])

	status := s.GetStatus()
	require.Len(t, status, 1)
	assert.Equal(t, int64(1), status[0].RunCount)
	assert.NotNil(t, status[0].LastRun)
	assert.True(t, status[0].NextRun.After(time.Now()), "next run advanced")
}

func TestDisabledScheduleDoesNotFire(t *testing.T) {
	sub := &fakeSubmitter{}
	s, err := New([]Schedule{
		{Name: "off", Cron: "* * * * *", Workflow: "backup"},
	}, sub, nil)
	require.NoError(t, err)

	s.schedules["off"].nextRun = time.Now().Add(-time.Minute)
	s.tick(context.Background(), time.Now())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sub.count())
}

func TestDrainingSkipsTrigger(t *testing.T) {
	sub := &fakeSubmitter{draining: true}
	s, err := New([]Schedule{
		{Name: "nightly", Cron: "* * * * *", Workflow: "backup", Enabled: true},
	}, sub, nil)
	require.NoError(t, err)

	s.schedules["nightly"].nextRun = time.Now().Add(-time.Minute)
	s.tick(context.Background(), time.Now())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sub.count())
}

func TestSetEnabledAndRemove(t *testing.T) {
	s, err := New([]Schedule{
		{Name: "nightly", Cron: "0 0 * * *", Workflow: "backup"},
	}, &fakeSubmitter{}, nil)
	require.NoError(t, err)

	require.NoError(t, s.SetEnabled("nightly", true))
	assert.True(t, s.GetStatus()[0].Enabled)

	require.Error(t, s.SetEnabled("missing", true))

	s.Remove("nightly")
	assert.Empty(t, s.GetStatus())
}

func TestStartStopIdempotent(t *testing.T) {
	s, err := New(nil, &fakeSubmitter{}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx) // second call is a no-op
	s.Stop()
	s.Stop() // safe to call again
}
