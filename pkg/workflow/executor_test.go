package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CandanUmut/systematic-automation-agent/pkg/errors"
)

// mockDispatcher records every backend invocation and fails on demand.
type mockDispatcher struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]error // keyed by step kind ("run", "click", ...)
	failFor  int              // fail this many calls per kind, then succeed
	failed   map[string]int
	runOut   string
	block    time.Duration // simulate a slow backend
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{
		failures: make(map[string]error),
		failed:   make(map[string]int),
	}
}

func (m *mockDispatcher) record(ctx context.Context, kind, detail string) error {
	if m.block > 0 {
		select {
		case <-time.After(m.block):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, kind+":"+detail)
	if err, ok := m.failures[kind]; ok {
		if m.failFor == 0 || m.failed[kind] < m.failFor {
			m.failed[kind]++
			return err
		}
	}
	return nil
}

func (m *mockDispatcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockDispatcher) callList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *mockDispatcher) Open(ctx context.Context, path string) error {
	return m.record(ctx, "open", path)
}

func (m *mockDispatcher) Click(ctx context.Context, x, y int) error {
	return m.record(ctx, "click", fmt.Sprintf("%d,%d", x, y))
}

func (m *mockDispatcher) Type(ctx context.Context, text string) error {
	return m.record(ctx, "type", text)
}

func (m *mockDispatcher) Run(ctx context.Context, command string) (string, error) {
	if err := m.record(ctx, "run", command); err != nil {
		return "", err
	}
	return m.runOut, nil
}

func (m *mockDispatcher) Screenshot(ctx context.Context, filename string) error {
	return m.record(ctx, "screenshot", filename)
}

func (m *mockDispatcher) Custom(ctx context.Context, name string, args map[string]string) error {
	return m.record(ctx, "custom", name)
}

func execContext(initial map[string]string, sensitive []string) *ExecutionContext {
	return NewExecutionContext(NewBindingSet(initial, sensitive), NewRunLog(nil), nil)
}

func TestExecuteStepSuccess(t *testing.T) {
	d := newMockDispatcher()
	e := NewExecutor(d)
	ectx := execContext(map[string]string{"name": "World"}, nil)

	step := &StepDefinition{Type: StepType, Text: "Hello ${name}"}
	result, err := e.ExecuteStep(context.Background(), step, 0, 1, ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StepStatusSucceeded {
		t.Errorf("status = %v", result.Status)
	}
	if got := d.callList(); len(got) != 1 || got[0] != "type:Hello World" {
		t.Errorf("calls = %v", got)
	}
	if result.ResolvedFields["text"] != "Hello World" {
		t.Errorf("resolved text = %q", result.ResolvedFields["text"])
	}
	if ectx.Log.Len() != 1 {
		t.Errorf("log has %d records", ectx.Log.Len())
	}
	if rec := ectx.Log.Records()[0]; rec.Outcome != OutcomeSucceeded || rec.Attempt != 1 {
		t.Errorf("record = %+v", rec)
	}
}

func TestExecuteStepRetryExhaustion(t *testing.T) {
	d := newMockDispatcher()
	d.failures["run"] = fmt.Errorf("exit status 1")
	e := NewExecutor(d)
	ectx := execContext(nil, nil)

	step := &StepDefinition{
		Type:    StepRun,
		Command: "false",
		Retry:   &RetryDefinition{MaxAttempts: 3, Backoff: BackoffFixed, Delay: 0.001},
	}

	result, err := e.ExecuteStep(context.Background(), step, 0, 1, ectx)
	if err == nil {
		t.Fatal("expected terminal failure")
	}
	if result.Status != StepStatusFailed {
		t.Errorf("status = %v", result.Status)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
	if d.callCount() != 3 {
		t.Errorf("backend invoked %d times, want 3", d.callCount())
	}

	// Exactly one record per attempt, all failed.
	records := ectx.Log.Records()
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for i, rec := range records {
		if rec.Attempt != i+1 {
			t.Errorf("record %d attempt = %d", i, rec.Attempt)
		}
		if rec.Outcome != OutcomeFailed {
			t.Errorf("record %d outcome = %v", i, rec.Outcome)
		}
	}
}

func TestExecuteStepRetryThenSuccess(t *testing.T) {
	d := newMockDispatcher()
	d.failures["click"] = fmt.Errorf("window not focused")
	d.failFor = 2
	e := NewExecutor(d)
	ectx := execContext(nil, nil)

	step := &StepDefinition{
		Type:  StepClick,
		X:     10,
		Y:     20,
		Retry: &RetryDefinition{MaxAttempts: 3, Backoff: BackoffFixed, Delay: 0.001},
	}

	result, err := e.ExecuteStep(context.Background(), step, 0, 1, ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StepStatusSucceeded || result.Attempts != 3 {
		t.Errorf("status=%v attempts=%d", result.Status, result.Attempts)
	}

	records := ectx.Log.Records()
	if len(records) != 3 {
		t.Fatalf("got %d records", len(records))
	}
	if records[2].Outcome != OutcomeSucceeded {
		t.Errorf("final outcome = %v", records[2].Outcome)
	}
}

func TestExecuteStepUnresolvedVariableNotRetried(t *testing.T) {
	d := newMockDispatcher()
	e := NewExecutor(d)
	ectx := execContext(nil, nil) // no bindings, no onMissing

	step := &StepDefinition{
		Type:    StepRun,
		Command: "echo ${missing}",
		Retry:   &RetryDefinition{MaxAttempts: 5, Backoff: BackoffFixed, Delay: 0.001},
	}

	_, err := e.ExecuteStep(context.Background(), step, 0, 1, ectx)
	var unresolved *errors.UnresolvedVariableError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedVariableError, got %v", err)
	}

	// Zero backend invocations: the resolution failure precedes dispatch and
	// is never retried.
	if d.callCount() != 0 {
		t.Errorf("backend invoked %d times, want 0", d.callCount())
	}
	if ectx.Log.Len() != 1 {
		t.Errorf("log has %d records, want 1", ectx.Log.Len())
	}
}

func TestExecuteStepSoftFailure(t *testing.T) {
	d := newMockDispatcher()
	d.failures["open"] = fmt.Errorf("no such file")
	e := NewExecutor(d)
	ectx := execContext(nil, nil)

	step := &StepDefinition{
		Type:            StepOpen,
		Path:            "/missing",
		Retry:           &RetryDefinition{MaxAttempts: 2, Backoff: BackoffFixed, Delay: 0.001},
		ContinueOnError: true,
	}

	result, err := e.ExecuteStep(context.Background(), step, 0, 1, ectx)
	if err != nil {
		t.Fatalf("soft failure must not surface as an error: %v", err)
	}
	if !result.SoftFailed {
		t.Error("expected SoftFailed")
	}
	if result.Status != StepStatusFailed {
		t.Errorf("status = %v", result.Status)
	}

	records := ectx.Log.Records()
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0].Outcome != OutcomeFailed {
		t.Errorf("first attempt outcome = %v", records[0].Outcome)
	}
	if records[1].Outcome != OutcomeSoftFailed {
		t.Errorf("terminal outcome = %v", records[1].Outcome)
	}
}

func TestExecuteStepTimeout(t *testing.T) {
	d := newMockDispatcher()
	d.block = 200 * time.Millisecond
	e := NewExecutor(d)
	ectx := execContext(nil, nil)

	step := &StepDefinition{
		Type:    StepRun,
		Command: "sleep 10",
		Timeout: 0.02,
		Retry:   &RetryDefinition{MaxAttempts: 1, Backoff: BackoffFixed, Delay: 0.001},
	}

	start := time.Now()
	_, err := e.ExecuteStep(context.Background(), step, 0, 1, ectx)
	elapsed := time.Since(start)

	var timeout *errors.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if elapsed > 150*time.Millisecond {
		t.Errorf("attempt was not bounded by the timeout: %v", elapsed)
	}
}

func TestExecuteStepWaitIsEngineInternal(t *testing.T) {
	d := newMockDispatcher()
	e := NewExecutor(d)
	ectx := execContext(nil, nil)

	step := &StepDefinition{Type: StepWait, Seconds: 0.01}
	result, err := e.ExecuteStep(context.Background(), step, 0, 1, ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StepStatusSucceeded {
		t.Errorf("status = %v", result.Status)
	}
	if d.callCount() != 0 {
		t.Errorf("wait step reached the dispatcher: %v", d.callList())
	}
}

func TestExecuteStepDelayHonoredOnce(t *testing.T) {
	d := newMockDispatcher()
	d.failures["type"] = fmt.Errorf("flaky")
	d.failFor = 1
	e := NewExecutor(d)
	ectx := execContext(nil, nil)

	step := &StepDefinition{
		Type:  StepType,
		Text:  "hi",
		Delay: 0.05,
		Retry: &RetryDefinition{MaxAttempts: 2, Backoff: BackoffFixed, Delay: 0.001},
	}

	start := time.Now()
	result, err := e.ExecuteStep(context.Background(), step, 0, 1, ectx)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 2 {
		t.Fatalf("attempts = %d", result.Attempts)
	}

	// One 50ms pre-step delay plus a ~1ms backoff; two delays would exceed
	// 100ms.
	if elapsed > 90*time.Millisecond {
		t.Errorf("delay appears to have been applied per attempt: %v", elapsed)
	}
}

func TestExecuteStepSensitiveRedactionInRecords(t *testing.T) {
	d := newMockDispatcher()
	e := NewExecutor(d)
	ectx := NewExecutionContext(
		NewBindingSet(map[string]string{"password": "hunter2"}, []string{"password"}),
		NewRunLog(nil), nil)

	step := &StepDefinition{Type: StepRun, Command: "login --pw ${password}"}
	result, err := e.ExecuteStep(context.Background(), step, 0, 1, ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The backend sees the real value.
	if got := d.callList()[0]; got != "run:login --pw hunter2" {
		t.Errorf("backend call = %q", got)
	}

	// The log never does.
	if strings.Contains(result.ResolvedFields["command"], "hunter2") {
		t.Errorf("secret leaked into result: %q", result.ResolvedFields["command"])
	}
	rec := ectx.Log.Records()[0]
	if strings.Contains(rec.ResolvedFields["command"], "hunter2") {
		t.Errorf("secret leaked into run record: %q", rec.ResolvedFields["command"])
	}
	if !strings.Contains(rec.ResolvedFields["command"], RedactedPlaceholder) {
		t.Errorf("expected redaction placeholder, got %q", rec.ResolvedFields["command"])
	}
}

func TestBackoffDelay(t *testing.T) {
	fixed := &RetryDefinition{Backoff: BackoffFixed, Delay: 1}
	linear := &RetryDefinition{Backoff: BackoffLinear, Delay: 1}
	exponential := &RetryDefinition{Backoff: BackoffExponential, Delay: 1}

	tests := []struct {
		retry   *RetryDefinition
		attempt int
		want    time.Duration
	}{
		{fixed, 1, time.Second},
		{fixed, 3, time.Second},
		{linear, 1, time.Second},
		{linear, 3, 3 * time.Second},
		{exponential, 1, time.Second},
		{exponential, 2, 2 * time.Second},
		{exponential, 4, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.retry, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%v, %d) = %v, want %v", tt.retry.Backoff, tt.attempt, got, tt.want)
		}
	}
}
