package workflow

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AttemptOutcome classifies one step attempt in the run log.
type AttemptOutcome string

const (
	// OutcomeSucceeded marks an attempt that completed without error
	OutcomeSucceeded AttemptOutcome = "succeeded"

	// OutcomeFailed marks a failed attempt (terminal or about to be retried)
	OutcomeFailed AttemptOutcome = "failed"

	// OutcomeSoftFailed marks a terminal failure converted by continue_on_error
	OutcomeSoftFailed AttemptOutcome = "soft_failed"

	// OutcomeCancelled marks the record written at the cancellation point
	OutcomeCancelled AttemptOutcome = "cancelled"
)

// RunRecord is one append-only entry per step attempt. Records are never
// mutated after being appended, so the attempt history of a run is fully
// reconstructable from the log alone.
type RunRecord struct {
	// StepIndex is the zero-based position of the step in the definition
	StepIndex int `json:"step_index"`

	// StepKind is the step's action family
	StepKind StepKind `json:"step_kind"`

	// Pass is the loop pass number, starting at 1
	Pass int `json:"pass"`

	// Attempt is the attempt number within the step, starting at 1
	Attempt int `json:"attempt"`

	// Outcome classifies the attempt
	Outcome AttemptOutcome `json:"outcome"`

	// StartedAt and CompletedAt bound the attempt
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Error carries the failure description for non-success outcomes
	Error string `json:"error,omitempty"`

	// ResolvedFields snapshots the step's substituted fields at attempt time.
	// Sensitive variable values appear as the redaction placeholder.
	ResolvedFields map[string]string `json:"resolved_fields,omitempty"`
}

// RunLog is the append-only structured record of a run. One instance exists
// per run. Each record is flushed to the sink as it is appended, so a crash
// mid-run leaves a forensically complete partial log.
type RunLog struct {
	mu      sync.Mutex
	records []RunRecord
	sink    io.Writer
	enc     *json.Encoder
}

// NewRunLog creates a run log. sink may be nil for in-memory-only logs;
// otherwise each record is written as one JSON line immediately on append.
func NewRunLog(sink io.Writer) *RunLog {
	l := &RunLog{sink: sink}
	if sink != nil {
		l.enc = json.NewEncoder(sink)
	}
	return l
}

// Append adds one record and flushes it to the sink. Sink write failures are
// deliberately not fatal to the run: losing a log line must not corrupt the
// session, and the in-memory copy is still intact.
func (l *RunLog) Append(rec RunRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, rec)
	if l.enc != nil {
		_ = l.enc.Encode(rec)
	}

	if s, ok := l.sink.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

// Records returns a copy of all records appended so far.
func (l *RunLog) Records() []RunRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RunRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of appended records.
func (l *RunLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Tail returns up to n of the most recent records.
func (l *RunLog) Tail(n int) []RunRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	out := make([]RunRecord, n)
	copy(out, l.records[len(l.records)-n:])
	return out
}
