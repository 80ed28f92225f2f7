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
	"bytes"
	"encoding/json"
	"sync"

	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

// LogAggregator routes run records to live subscribers.
type LogAggregator struct {
	mu          sync.RWMutex
	subscribers map[string][]chan workflow.RunRecord
}

// NewLogAggregator creates a new LogAggregator.
func NewLogAggregator() *LogAggregator {
	return &LogAggregator{
		subscribers: make(map[string][]chan workflow.RunRecord),
	}
}

// Publish sends a record to all subscribers of a run. Slow subscribers
// are skipped rather than blocking the run.
func (l *LogAggregator) Publish(runID string, rec workflow.RunRecord) {
	l.mu.RLock()
	subs := l.subscribers[runID]
	l.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

// Subscribe returns a channel that receives run records for a run,
// plus an unsubscribe function that also closes the channel.
func (l *LogAggregator) Subscribe(runID string) (<-chan workflow.RunRecord, func()) {
	ch := make(chan workflow.RunRecord, 100)

	l.mu.Lock()
	l.subscribers[runID] = append(l.subscribers[runID], ch)
	l.mu.Unlock()

	unsub := func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		// DropRun may have removed and closed the channel already; only
		// close what is still registered.
		subs := l.subscribers[runID]
		for i, sub := range subs {
			if sub == ch {
				l.subscribers[runID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}

	return ch, unsub
}

// SubscriberCount returns the number of subscribers for a run.
func (l *LogAggregator) SubscriberCount(runID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subscribers[runID])
}

// DropRun removes and closes all subscriber channels for a run.
func (l *LogAggregator) DropRun(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ch := range l.subscribers[runID] {
		close(ch)
	}
	delete(l.subscribers, runID)
}

// recordTap is an io.Writer that feeds run log lines back into the
// aggregator. The run log writes one JSON document per line.
type recordTap struct {
	mu    sync.Mutex
	agg   *LogAggregator
	runID string
	buf   bytes.Buffer
}

func newRecordTap(agg *LogAggregator, runID string) *recordTap {
	return &recordTap{agg: agg, runID: runID}
}

func (t *recordTap) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf.Write(p)
	for {
		line, err := t.buf.ReadBytes('\n')
		if err != nil {
			// Partial line stays buffered for the next write.
			t.buf.Write(line)
			break
		}
		var rec workflow.RunRecord
		if err := json.Unmarshal(line, &rec); err == nil {
			t.agg.Publish(t.runID, rec)
		}
	}
	return len(p), nil
}
