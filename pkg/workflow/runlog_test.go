package workflow

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestRunLogAppendFlushesImmediately(t *testing.T) {
	var buf bytes.Buffer
	log := NewRunLog(&buf)

	log.Append(RunRecord{
		StepIndex:   0,
		StepKind:    StepRun,
		Pass:        1,
		Attempt:     1,
		Outcome:     OutcomeSucceeded,
		StartedAt:   time.Now(),
		CompletedAt: time.Now(),
	})

	// The record must be on the sink before any further engine activity:
	// a crash mid-run leaves a forensically complete partial log.
	if buf.Len() == 0 {
		t.Fatal("record not flushed on append")
	}

	var decoded RunRecord
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("sink line is not valid JSON: %v", err)
	}
	if decoded.StepKind != StepRun || decoded.Outcome != OutcomeSucceeded {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestRunLogOneLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	log := NewRunLog(&buf)

	for i := 0; i < 3; i++ {
		log.Append(RunRecord{StepIndex: i, Attempt: 1, Outcome: OutcomeFailed})
	}

	scanner := bufio.NewScanner(&buf)
	lines := 0
	for scanner.Scan() {
		lines++
		var rec RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Errorf("line %d invalid: %v", lines, err)
		}
	}
	if lines != 3 {
		t.Errorf("got %d lines, want 3", lines)
	}
}

func TestRunLogNilSink(t *testing.T) {
	log := NewRunLog(nil)
	log.Append(RunRecord{StepIndex: 0, Attempt: 1, Outcome: OutcomeSucceeded})
	if log.Len() != 1 {
		t.Errorf("len = %d", log.Len())
	}
}

func TestRunLogRecordsReturnsCopy(t *testing.T) {
	log := NewRunLog(nil)
	log.Append(RunRecord{StepIndex: 7, Attempt: 1})

	records := log.Records()
	records[0].StepIndex = 99

	if log.Records()[0].StepIndex != 7 {
		t.Error("caller mutated the log's backing slice")
	}
}

func TestRunLogTail(t *testing.T) {
	log := NewRunLog(nil)
	for i := 0; i < 5; i++ {
		log.Append(RunRecord{StepIndex: i, Attempt: 1})
	}

	tail := log.Tail(2)
	if len(tail) != 2 || tail[0].StepIndex != 3 || tail[1].StepIndex != 4 {
		t.Errorf("tail = %+v", tail)
	}

	all := log.Tail(0)
	if len(all) != 5 {
		t.Errorf("Tail(0) returned %d records", len(all))
	}

	over := log.Tail(50)
	if len(over) != 5 {
		t.Errorf("Tail(50) returned %d records", len(over))
	}
}
