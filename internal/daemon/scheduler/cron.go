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
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldSet is a bit set of permitted values for one cron field. Bit n
// is set when value n matches. All cron fields fit in 64 bits.
type fieldSet uint64

func (s fieldSet) has(v int) bool { return s&(1<<uint(v)) != 0 }

// Expression is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
type Expression struct {
	minutes fieldSet // 0-59
	hours   fieldSet // 0-23
	days    fieldSet // 1-31
	months  fieldSet // 1-12
	dows    fieldSet // 0-6, 0 = Sunday
}

var cronAliases = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
}

// Parse parses a cron expression. Supported syntax per field: "*",
// single values, ranges (1-5), steps (*/15, 1-10/2), and comma lists.
// The @hourly/@daily/@weekly/@monthly/@yearly aliases are accepted.
func Parse(expr string) (*Expression, error) {
	if alias, ok := cronAliases[strings.ToLower(strings.TrimSpace(expr))]; ok {
		expr = alias
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	type fieldSpec struct {
		name     string
		min, max int
		dest     *fieldSet
	}

	e := &Expression{}
	specs := []fieldSpec{
		{"minute", 0, 59, &e.minutes},
		{"hour", 0, 23, &e.hours},
		{"day-of-month", 1, 31, &e.days},
		{"month", 1, 12, &e.months},
		{"day-of-week", 0, 6, &e.dows},
	}

	for i, spec := range specs {
		set, err := parseField(fields[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", spec.name, err)
		}
		*spec.dest = set
	}

	return e, nil
}

func parseField(field string, min, max int) (fieldSet, error) {
	var set fieldSet
	for _, part := range strings.Split(field, ",") {
		partSet, err := parsePart(part, min, max)
		if err != nil {
			return 0, err
		}
		set |= partSet
	}
	return set, nil
}

func parsePart(part string, min, max int) (fieldSet, error) {
	step := 1
	if idx := strings.Index(part, "/"); idx != -1 {
		n, err := strconv.Atoi(part[idx+1:])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step %q", part[idx+1:])
		}
		step = n
		part = part[:idx]
	}

	start, end := min, max
	switch {
	case part == "*":
	case strings.Contains(part, "-"):
		idx := strings.Index(part, "-")
		var err error
		if start, err = strconv.Atoi(part[:idx]); err != nil {
			return 0, fmt.Errorf("invalid range start %q", part[:idx])
		}
		if end, err = strconv.Atoi(part[idx+1:]); err != nil {
			return 0, fmt.Errorf("invalid range end %q", part[idx+1:])
		}
	default:
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", part)
		}
		start, end = n, n
	}

	if start < min || end > max {
		return 0, fmt.Errorf("value out of range [%d-%d]: %s", min, max, part)
	}
	if start > end {
		return 0, fmt.Errorf("inverted range %d-%d", start, end)
	}

	var set fieldSet
	for v := start; v <= end; v += step {
		set |= 1 << uint(v)
	}
	return set, nil
}

// Next returns the first time strictly after from that matches the
// expression, or the zero time if nothing matches within four years.
func (e *Expression) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !e.months.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !e.days.has(t.Day()) || !e.dows.has(int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !e.hours.has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !e.minutes.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}
