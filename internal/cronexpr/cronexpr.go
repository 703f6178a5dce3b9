// Package cronexpr parses five-field cron expressions and computes the next
// occurrence by searching field by field (month, day, hour, minute) in the
// wall clock of a location, so sparse schedules stay cheap to evaluate.
package cronexpr

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNoOccurrence is returned when an expression never fires within the search horizon.
var ErrNoOccurrence = errors.New("cron expression has no upcoming occurrence")

// searchYears bounds the forward search. Feb 29 on a given weekday repeats within 28 years.
const searchYears = 30

var descriptors = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

var dayNames = map[string]int{
	"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
}

// Expr is a parsed cron expression. Each field holds its sorted accepted values.
type Expr struct {
	source     string
	Minute     []int
	Hour       []int
	DayOfMonth []int
	Month      []int
	DayOfWeek  []int

	// A day field is restricted unless written as "*" or "?". When both day
	// fields are restricted a day matches if either one does.
	domRestricted bool
	dowRestricted bool
}

// String returns the expression as it was given.
func (e *Expr) String() string {
	return e.source
}

// Parse parses a cron string like "*/5 0 1-10 * MON-FRI" or a descriptor like "@daily".
func Parse(expr string) (*Expr, error) {
	source := strings.TrimSpace(expr)
	normalized := source
	if strings.HasPrefix(normalized, "@") {
		full, ok := descriptors[strings.ToLower(normalized)]
		if !ok {
			return nil, fmt.Errorf("unknown descriptor %q", source)
		}
		normalized = full
	}

	parts := strings.Fields(normalized)
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", source, len(parts))
	}

	minute, err := parseField(parts[0], 0, 59, nil)
	if err != nil {
		return nil, fmt.Errorf("minute: %w", err)
	}
	hour, err := parseField(parts[1], 0, 23, nil)
	if err != nil {
		return nil, fmt.Errorf("hour: %w", err)
	}
	dayOfMonth, err := parseField(parts[2], 1, 31, nil)
	if err != nil {
		return nil, fmt.Errorf("day of month: %w", err)
	}
	month, err := parseField(parts[3], 1, 12, monthNames)
	if err != nil {
		return nil, fmt.Errorf("month: %w", err)
	}
	dayOfWeek, err := parseField(parts[4], 0, 7, dayNames)
	if err != nil {
		return nil, fmt.Errorf("day of week: %w", err)
	}
	dayOfWeek = foldSunday(dayOfWeek)

	e := &Expr{
		source:        source,
		Minute:        minute,
		Hour:          hour,
		DayOfMonth:    dayOfMonth,
		Month:         month,
		DayOfWeek:     dayOfWeek,
		domRestricted: !isWildcard(parts[2]),
		dowRestricted: !isWildcard(parts[4]),
	}

	if !e.dowRestricted && !e.anyDayFitsAnyMonth() {
		return nil, fmt.Errorf("invalid cron expression %q: day of month never occurs in the selected months", source)
	}
	return e, nil
}

// MustParse is Parse for expressions known at compile time.
func MustParse(expr string) *Expr {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// Validate checks an expression and a timezone name together.
func Validate(expr, timezone string) error {
	if _, err := Parse(expr); err != nil {
		return err
	}
	if _, err := LoadLocation(timezone); err != nil {
		return err
	}
	return nil
}

// LoadLocation resolves a timezone name; empty means UTC.
func LoadLocation(timezone string) (*time.Location, error) {
	if strings.TrimSpace(timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", timezone, err)
	}
	return loc, nil
}

// Next returns the earliest occurrence strictly after `after`, evaluated in
// the wall clock of timezone.
func Next(expr, timezone string, after time.Time) (time.Time, error) {
	e, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	return e.Next(after, loc)
}

// wall is a calendar position that may temporarily overflow; norm carries it.
type wall struct {
	year, month, day, hour, minute int
}

func (w *wall) norm() {
	for w.minute > 59 {
		w.minute -= 60
		w.hour++
	}
	for w.hour > 23 {
		w.hour -= 24
		w.day++
	}
	for {
		if w.month > 12 {
			w.month = 1
			w.year++
		}
		dim := daysIn(w.year, w.month)
		if w.day <= dim {
			break
		}
		w.day -= dim
		w.month++
	}
	if w.month > 12 {
		w.month = 1
		w.year++
	}
}

// Next returns the earliest occurrence strictly after `after` in loc.
// Wall-clock times skipped by a DST gap never fire; a wall time repeated by
// a DST fall-back fires once.
func (e *Expr) Next(after time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start := after.In(loc)
	w := wall{start.Year(), int(start.Month()), start.Day(), start.Hour(), start.Minute() + 1}
	w.norm()
	limit := start.Year() + searchYears

	for w.year <= limit {
		m, ok := nextIn(e.Month, w.month)
		if !ok {
			w = wall{w.year + 1, 1, 1, 0, 0}
			continue
		}
		if m != w.month {
			w = wall{w.year, m, 1, 0, 0}
		}

		d, ok := e.nextDay(w.year, w.month, w.day)
		if !ok {
			w = wall{w.year, w.month + 1, 1, 0, 0}
			w.norm()
			continue
		}
		if d != w.day {
			w.day, w.hour, w.minute = d, 0, 0
		}

		h, ok := nextIn(e.Hour, w.hour)
		if !ok {
			w.day, w.hour, w.minute = w.day+1, 0, 0
			w.norm()
			continue
		}
		if h != w.hour {
			w.hour, w.minute = h, 0
		}

		mi, ok := nextIn(e.Minute, w.minute)
		if !ok {
			w.hour, w.minute = w.hour+1, 0
			w.norm()
			continue
		}
		w.minute = mi

		candidate := time.Date(w.year, time.Month(w.month), w.day, w.hour, w.minute, 0, 0, loc)
		if candidate.Hour() != w.hour || candidate.Minute() != w.minute || !candidate.After(after) {
			w.minute++
			w.norm()
			continue
		}
		return candidate, nil
	}
	return time.Time{}, ErrNoOccurrence
}

func (e *Expr) nextDay(year, month, from int) (int, bool) {
	dim := daysIn(year, month)
	for d := from; d <= dim; d++ {
		if e.dayMatches(year, month, d) {
			return d, true
		}
	}
	return 0, false
}

func (e *Expr) dayMatches(year, month, day int) bool {
	domOK := contains(e.DayOfMonth, day)
	dowOK := contains(e.DayOfWeek, int(time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Weekday()))
	if e.domRestricted && e.dowRestricted {
		return domOK || dowOK
	}
	return domOK && dowOK
}

// anyDayFitsAnyMonth rejects expressions such as "0 0 31 2 *".
func (e *Expr) anyDayFitsAnyMonth() bool {
	for _, m := range e.Month {
		longest := daysIn(2024, m) // leap year: February has 29 days
		if len(e.DayOfMonth) > 0 && e.DayOfMonth[0] <= longest {
			return true
		}
	}
	return false
}

func isWildcard(field string) bool {
	return field == "*" || field == "?"
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// nextIn returns the smallest value in the sorted slice that is >= v.
func nextIn(vals []int, v int) (int, bool) {
	i := sort.SearchInts(vals, v)
	if i < len(vals) {
		return vals[i], true
	}
	return 0, false
}

// contains checks if value v exists in sorted slice vals
func contains(vals []int, v int) bool {
	i := sort.SearchInts(vals, v)
	return i < len(vals) && vals[i] == v
}

// foldSunday maps 7 onto 0 so both spellings of Sunday work.
func foldSunday(vals []int) []int {
	if !contains(vals, 7) {
		return vals
	}
	set := map[int]struct{}{0: {}}
	for _, v := range vals {
		if v != 7 {
			set[v] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// parseField parses a field like "1,2,5-7,*/10" into a sorted slice of integers.
func parseField(field string, min, max int, names map[string]int) ([]int, error) {
	if field == "" {
		return nil, errors.New("empty field")
	}
	set := make(map[int]struct{})

	for _, token := range strings.Split(field, ",") {
		base, step := token, 1
		if i := strings.Index(token, "/"); i >= 0 {
			base = token[:i]
			s, err := strconv.Atoi(token[i+1:])
			if err != nil || s <= 0 {
				return nil, fmt.Errorf("invalid step in %q", token)
			}
			step = s
		}

		var start, end int
		switch {
		case base == "*" || base == "?":
			start, end = min, max
		case strings.Contains(base, "-"):
			bounds := strings.SplitN(base, "-", 2)
			lo, err := parseValue(bounds[0], min, max, names)
			if err != nil {
				return nil, err
			}
			hi, err := parseValue(bounds[1], min, max, names)
			if err != nil {
				return nil, err
			}
			if lo > hi {
				return nil, fmt.Errorf("invalid range %q", base)
			}
			start, end = lo, hi
		default:
			v, err := parseValue(base, min, max, names)
			if err != nil {
				return nil, err
			}
			start, end = v, v
			if step > 1 {
				end = max
			}
		}

		for i := start; i <= end; i += step {
			set[i] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

func parseValue(s string, min, max int, names map[string]int) (int, error) {
	if names != nil {
		if v, ok := names[strings.ToUpper(s)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("value %d out of range [%d-%d]", v, min, max)
	}
	return v, nil
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
