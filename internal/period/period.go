// Package period turns attendance presets into concrete date windows made of
// school days.
package period

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrUnknownFrequency   = errors.New("period: unknown frequency")
	ErrTermUnavailable    = errors.New("period: term dates unavailable")
	ErrSessionUnavailable = errors.New("period: session dates unavailable")
	ErrInvalidRange       = errors.New("period: from must not be after to")
	ErrInvalidWindow      = errors.New("period: business day window needs at least one day")
)

type Frequency string

const (
	FrequencyWeek         Frequency = "week"
	FrequencyBusinessWeek Frequency = "business-week"
	FrequencyMonth        Frequency = "month"
	FrequencyRolling7     Frequency = "rolling-7"
	FrequencyNextWeek     Frequency = "next-week"
	FrequencyRolling30    Frequency = "rolling-30"
	FrequencyTerm         Frequency = "term"
	FrequencyHalfTerm     Frequency = "half-term"
	FrequencySession      Frequency = "session"
	FrequencyCustom       Frequency = "custom"
)

// Frequencies lists every preset in display order.
var Frequencies = []Frequency{
	FrequencyWeek,
	FrequencyBusinessWeek,
	FrequencyMonth,
	FrequencyRolling7,
	FrequencyNextWeek,
	FrequencyRolling30,
	FrequencyTerm,
	FrequencyHalfTerm,
	FrequencySession,
	FrequencyCustom,
}

func ParseFrequency(value string) (Frequency, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, f := range Frequencies {
		if string(f) == value {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFrequency, value)
}

// DateRange is an inclusive pair of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(Day(r.Start)) && !d.After(Day(r.End))
}

// TermDateRange maps a session key (e.g. "2024/2025") to its terms.
type TermDateRange map[string]map[string]DateRange

func (t TermDateRange) Term(session, term string) (DateRange, bool) {
	terms, ok := t[session]
	if !ok {
		return DateRange{}, false
	}
	r, ok := terms[term]
	return r, ok
}

// Session spans the earliest term start to the latest term end.
func (t TermDateRange) Session(session string) (DateRange, bool) {
	terms, ok := t[session]
	if !ok || len(terms) == 0 {
		return DateRange{}, false
	}
	var out DateRange
	first := true
	for _, r := range terms {
		if first || r.Start.Before(out.Start) {
			out.Start = r.Start
		}
		if first || r.End.After(out.End) {
			out.End = r.End
		}
		first = false
	}
	return out, true
}

// SessionAt returns the session key whose span contains day.
func (t TermDateRange) SessionAt(day time.Time) (string, bool) {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if r, ok := t.Session(k); ok && r.Contains(day) {
			return k, true
		}
	}
	return "", false
}

// TermAt returns the term of session that contains day.
func (t TermDateRange) TermAt(session string, day time.Time) (string, bool) {
	keys := make([]string, 0, len(t[session]))
	for k := range t[session] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if t[session][k].Contains(day) {
			return k, true
		}
	}
	return "", false
}

// AttendancePeriod is what a resolved preset hands back to the caller.
type AttendancePeriod struct {
	From      time.Time
	To        time.Time
	ValidDays []time.Time
}

func newPeriod(r DateRange) AttendancePeriod {
	from, to := Day(r.Start), Day(r.End)
	return AttendancePeriod{From: from, To: to, ValidDays: ValidDays(from, to)}
}

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// ValidDays enumerates the weekdays in [from, to], ascending.
func ValidDays(from, to time.Time) []time.Time {
	days := []time.Time{}
	for d := Day(from); !d.After(Day(to)); d = d.AddDate(0, 0, 1) {
		if !IsWeekend(d) {
			days = append(days, d)
		}
	}
	return days
}

// BusinessDayWindow starts at today, or the following Monday when today is a
// weekend, and ends after n more weekdays have been counted.
func BusinessDayWindow(today time.Time, n int) (DateRange, error) {
	if n < 1 {
		return DateRange{}, ErrInvalidWindow
	}
	start := Day(today)
	for IsWeekend(start) {
		start = start.AddDate(0, 0, 1)
	}
	end := start
	for counted := 0; counted < n; {
		end = end.AddDate(0, 0, 1)
		if !IsWeekend(end) {
			counted++
		}
	}
	return DateRange{Start: start, End: end}, nil
}

// CustomRange validates a user picked interval.
func CustomRange(from, to time.Time) (DateRange, error) {
	if from.IsZero() || to.IsZero() {
		return DateRange{}, fmt.Errorf("%w: both dates are required", ErrInvalidRange)
	}
	from, to = Day(from), Day(to)
	if from.After(to) {
		return DateRange{}, ErrInvalidRange
	}
	return DateRange{Start: from, End: to}, nil
}

func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
