// Package schedule normalizes job schedules into trigger predicates.
//
// Two syntaxes are accepted and normalize to the same predicate:
//
//   - Cron: exactly five whitespace-separated fields
//     (minute hour day-of-month month day-of-week), each supporting
//     "*", integers, comma lists, low-high ranges, and /step strides.
//   - Legacy: an exact hour/minute pair plus a days selector, which is
//     rewritten into the equivalent cron expression before parsing.
//
// Day-of-month and day-of-week follow standard cron semantics: when both
// fields are restricted they combine with OR, otherwise with AND. This is
// the behavior of the robfig/cron parser backing this package and is pinned
// by tests in schedule_test.go; do not change parsers without re-checking.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger answers whether a schedule fires at a given minute and when it
// fires next. Instants are evaluated at minute resolution in the trigger's
// location; seconds are truncated.
type Trigger struct {
	// Expr is the normalized five-field cron expression (legacy schedules
	// are rewritten into this form).
	Expr string

	sched cron.Schedule
	loc   *time.Location
}

// ParseError describes a rejected schedule. Field names the offending part
// so registry errors can point at the exact config key.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// fieldNames indexes the five cron fields for error reporting.
var fieldNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

// Five-field parser, no seconds and no @descriptors: the config surface is
// plain crontab expressions only.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron normalizes a five-field cron expression into a Trigger evaluated
// in loc.
func ParseCron(expr string, loc *time.Location) (*Trigger, error) {
	if loc == nil {
		loc = time.Local
	}
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, &ParseError{Field: "schedule", Reason: "empty cron expression"}
	}
	fields := strings.Fields(trimmed)
	if len(fields) != 5 {
		return nil, &ParseError{
			Field:  "schedule",
			Reason: fmt.Sprintf("expected 5 cron fields (minute hour dom month dow), got %d", len(fields)),
		}
	}

	sched, err := parser.Parse(trimmed)
	if err != nil {
		return nil, &ParseError{Field: cronErrorField(fields, loc), Reason: err.Error()}
	}
	return &Trigger{Expr: trimmed, sched: sched, loc: loc}, nil
}

// cronErrorField re-parses field by field to name the one that failed.
// The full-expression parse already failed, so cost does not matter here.
func cronErrorField(fields []string, loc *time.Location) string {
	wildcard := [5]string{"*", "*", "*", "*", "*"}
	for i, f := range fields {
		probe := wildcard
		probe[i] = f
		if _, err := parser.Parse(strings.Join(probe[:], " ")); err != nil {
			return fieldNames[i]
		}
	}
	return "schedule"
}

// Legacy day selectors. "daily" leaves day-of-week wildcarded; "weekdays" is
// Monday through Friday; anything else is a comma-separated weekday list of
// names or digits 0-6 (Sunday = 0).
var weekdayTokens = map[string]int{
	"sun": 0, "sunday": 0,
	"mon": 1, "monday": 1,
	"tue": 2, "tuesday": 2,
	"wed": 3, "wednesday": 3,
	"thu": 4, "thursday": 4,
	"fri": 5, "friday": 5,
	"sat": 6, "saturday": 6,
}

// ParseLegacy normalizes an hour/minute/days triple into a Trigger.
// Day-of-month and month are always wildcarded in this form.
func ParseLegacy(hour, minute int, days string, loc *time.Location) (*Trigger, error) {
	if hour < 0 || hour > 23 {
		return nil, &ParseError{Field: "hour", Reason: fmt.Sprintf("out of range: %d (want 0-23)", hour)}
	}
	if minute < 0 || minute > 59 {
		return nil, &ParseError{Field: "minute", Reason: fmt.Sprintf("out of range: %d (want 0-59)", minute)}
	}

	dow, err := parseDays(days)
	if err != nil {
		return nil, err
	}

	expr := fmt.Sprintf("%d %d * * %s", minute, hour, dow)
	return ParseCron(expr, loc)
}

func parseDays(days string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(days)) {
	case "", "daily":
		return "*", nil
	case "weekdays":
		return "1-5", nil
	}

	seen := map[int]bool{}
	out := make([]int, 0, 7)
	for _, tok := range strings.Split(days, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		d, ok := weekdayTokens[tok]
		if !ok {
			if n, err := strconv.Atoi(tok); err == nil && n >= 0 && n <= 6 {
				d, ok = n, true
			}
		}
		if !ok {
			return "", &ParseError{Field: "days", Reason: fmt.Sprintf("unknown day %q (want daily, weekdays, sun..sat, or 0-6)", tok)}
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return "", &ParseError{Field: "days", Reason: "no days selected"}
	}
	sort.Ints(out)
	parts := make([]string, len(out))
	for i, d := range out {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return strings.Join(parts, ","), nil
}

// Matches reports whether the schedule fires at t. t is converted to the
// trigger's location and truncated to the minute.
func (tr *Trigger) Matches(t time.Time) bool {
	m := t.In(tr.loc).Truncate(time.Minute)
	// The backing schedule returns the first activation strictly after the
	// given instant, so probing from one second before m asks exactly
	// "is m an activation?".
	return tr.sched.Next(m.Add(-time.Second)).Equal(m)
}

// NextAfter returns the first trigger instant strictly after t.
func (tr *Trigger) NextAfter(t time.Time) time.Time {
	return tr.sched.Next(t.In(tr.loc))
}

// Location returns the timezone the trigger evaluates in.
func (tr *Trigger) Location() *time.Location { return tr.loc }
