package cronexpr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseField(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		min    int
		max    int
		names  map[string]int
		valid  bool
		expect []int
	}{
		{"wildcard full range", "*", 0, 5, nil, true, []int{0, 1, 2, 3, 4, 5}},
		{"single value", "3", 0, 5, nil, true, []int{3}},
		{"range", "2-4", 0, 5, nil, true, []int{2, 3, 4}},
		{"mixed", "1,3-4,5", 0, 5, nil, true, []int{1, 3, 4, 5}},
		{"step over wildcard", "*/20", 0, 59, nil, true, []int{0, 20, 40}},
		{"step over range", "10-30/10", 0, 59, nil, true, []int{10, 20, 30}},
		{"step from value", "50/5", 0, 59, nil, true, []int{50, 55}},
		{"month names", "JAN,mar-May", 1, 12, monthNames, true, []int{1, 3, 4, 5}},
		{"day names", "MON-FRI", 0, 7, dayNames, true, []int{1, 2, 3, 4, 5}},
		{"invalid number", "a", 0, 5, nil, false, nil},
		{"out of bounds", "7", 0, 5, nil, false, nil},
		{"bad range", "4-2", 0, 5, nil, false, nil},
		{"bad range format", "1-2-3", 0, 5, nil, false, nil},
		{"zero step", "*/0", 0, 5, nil, false, nil},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result, err := parseField(test.input, test.min, test.max, test.names)
			if !test.valid {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expect, result)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"* * * * * *",
		"61 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 8",
		"0 0 31 2 *",
		"@fortnightly",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			assert.Error(t, err)
		})
	}
}

func TestParse_SundayAliases(t *testing.T) {
	e, err := Parse("0 0 * * 7")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, e.DayOfWeek)

	e, err = Parse("0 0 * * 5-7")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 5, 6}, e.DayOfWeek)
}

func TestNext(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		from    time.Time
		expects time.Time
	}{
		{
			name:    "daily fires next day when evaluated at its own slot",
			expr:    "0 2 * * *",
			from:    time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC),
			expects: time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC),
		},
		{
			name:    "daily evaluated one second late",
			expr:    "0 2 * * *",
			from:    time.Date(2024, 1, 1, 2, 0, 1, 0, time.UTC),
			expects: time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC),
		},
		{
			name:    "next 15-min mark in same hour",
			expr:    "*/15 14 * * *",
			from:    time.Date(2025, 6, 21, 14, 0, 0, 0, time.UTC),
			expects: time.Date(2025, 6, 21, 14, 15, 0, 0, time.UTC),
		},
		{
			name:    "year rollover",
			expr:    "0 0 1 1 *",
			from:    time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC),
			expects: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "next weekday",
			expr:    "0 9 * * 1",
			from:    time.Date(2025, 6, 20, 8, 59, 0, 0, time.UTC),
			expects: time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC),
		},
		{
			name:    "weekdays skip the weekend",
			expr:    "0 9 * * MON-FRI",
			from:    time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC),
			expects: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		},
		{
			name:    "monthly",
			expr:    "0 0 1 * *",
			from:    time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
			expects: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "day of month or day of week when both restricted",
			expr:    "0 0 13 * 5",
			from:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			expects: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "leap day",
			expr:    "0 0 29 2 *",
			from:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			expects: time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "sunday written as 7",
			expr:    "0 12 * * 7",
			from:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			expects: time.Date(2024, 1, 7, 12, 0, 0, 0, time.UTC),
		},
		{
			name:    "named month and weekday",
			expr:    "0 0 * JAN MON",
			from:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			expects: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "hourly descriptor",
			expr:    "@hourly",
			from:    time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC),
			expects: time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
		},
		{
			name:    "seconds are truncated",
			expr:    "* * * * *",
			from:    time.Date(2024, 1, 1, 10, 30, 59, 999, time.UTC),
			expects: time.Date(2024, 1, 1, 10, 31, 0, 0, time.UTC),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			next, err := Next(test.expr, "UTC", test.from)
			require.NoError(t, err)
			assert.True(t, test.expects.Equal(next), "expected %v, got %v", test.expects, next)
		})
	}
}

func TestNext_Timezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 10:00 EST, so 09:00 has passed for today.
	next, err := Next("0 9 * * *", "America/New_York", time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC).Equal(next))
	assert.Equal(t, ny.String(), next.Location().String())
}

func TestNext_SpringForwardGapIsSkipped(t *testing.T) {
	// 2024-03-10 02:30 does not exist in New York.
	next, err := Next("30 2 * * *", "America/New_York", time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 3, 11, 6, 30, 0, 0, time.UTC).Equal(next), "got %v", next.UTC())
}

func TestNext_FallBackFiresOnce(t *testing.T) {
	// 01:30 happens twice on 2024-11-03 in New York.
	first, err := Next("30 1 * * *", "America/New_York", time.Date(2024, 11, 3, 4, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 11, 3, 5, 30, 0, 0, time.UTC).Equal(first), "got %v", first.UTC())

	second, err := Next("30 1 * * *", "America/New_York", first)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 11, 4, 6, 30, 0, 0, time.UTC).Equal(second), "got %v", second.UTC())
}

func TestNext_StrictlyIncreasing(t *testing.T) {
	e := MustParse("*/7 */3 * * *")
	at := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 500; i++ {
		next, err := e.Next(at, time.UTC)
		require.NoError(t, err)
		require.True(t, next.After(at))
		assert.Contains(t, e.Minute, next.Minute())
		assert.Contains(t, e.Hour, next.Hour())
		at = next
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("0 2 * * *", ""))
	assert.NoError(t, Validate("0 2 * * *", "Europe/Amsterdam"))
	assert.Error(t, Validate("0 2 * * *", "Mars/Olympus"))
	assert.Error(t, Validate("0 25 * * *", "UTC"))
}
