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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"too few fields", "* * * *"},
		{"too many fields", "* * * * * *"},
		{"minute out of range", "60 * * * *"},
		{"hour out of range", "* 24 * * *"},
		{"day zero", "* * 0 * *"},
		{"month out of range", "* * * 13 *"},
		{"weekday out of range", "* * * * 7"},
		{"inverted range", "30-10 * * * *"},
		{"bad step", "*/0 * * * *"},
		{"garbage", "x * * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expr)
			require.Error(t, err)
		})
	}
}

func TestNext(t *testing.T) {
	// Friday 2026-03-06 10:30 UTC.
	from := time.Date(2026, 3, 6, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{
			"every minute",
			"* * * * *",
			time.Date(2026, 3, 6, 10, 31, 0, 0, time.UTC),
		},
		{
			"top of hour",
			"0 * * * *",
			time.Date(2026, 3, 6, 11, 0, 0, 0, time.UTC),
		},
		{
			"every 15 minutes",
			"*/15 * * * *",
			time.Date(2026, 3, 6, 10, 45, 0, 0, time.UTC),
		},
		{
			"daily at 9",
			"0 9 * * *",
			time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC),
		},
		{
			"weekdays only skips weekend",
			"0 9 * * 1-5",
			time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC),
		},
		{
			"first of month",
			"0 0 1 * *",
			time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			"comma list",
			"0 8,20 * * *",
			time.Date(2026, 3, 6, 20, 0, 0, 0, time.UTC),
		},
		{
			"hourly alias",
			"@hourly",
			time.Date(2026, 3, 6, 11, 0, 0, 0, time.UTC),
		},
		{
			"yearly alias",
			"@yearly",
			time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.Next(from))
		})
	}
}

func TestNextIsStrictlyAfter(t *testing.T) {
	expr, err := Parse("30 10 * * *")
	require.NoError(t, err)

	exact := time.Date(2026, 3, 6, 10, 30, 0, 0, time.UTC)
	next := expr.Next(exact)
	assert.Equal(t, exact.AddDate(0, 0, 1), next)
}

func TestFebruaryThirtiethNeverMatches(t *testing.T) {
	expr, err := Parse("0 0 30 2 *")
	require.NoError(t, err)

	next := expr.Next(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, next.IsZero())
}
