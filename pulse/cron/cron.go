// Package cron evaluates cron expressions into fire times.
//
// Both the five-field form (minute first) and the six-field form (second
// first) are accepted, along with descriptors such as @hourly and @every 10s.
// Quartz-style expressions are normalized: '?' means "no constraint" and a
// trailing year field is allowed when it is '*' or '?'. The Quartz-only
// operators L, W and # are rejected.
package cron

import (
	"strings"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/teranos/cadence/errors"
)

var parser = robfig.NewParser(
	robfig.SecondOptional |
		robfig.Minute |
		robfig.Hour |
		robfig.Dom |
		robfig.Month |
		robfig.Dow |
		robfig.Descriptor,
)

// Schedule computes successive fire times for one parsed expression
type Schedule = robfig.Schedule

// Evaluator parses expressions once and evaluates them in a fixed location.
// Safe for concurrent use.
type Evaluator struct {
	loc *time.Location

	mu    sync.RWMutex
	cache map[string]Schedule
}

// NewEvaluator returns an evaluator for loc; nil means UTC
func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{
		loc:   loc,
		cache: make(map[string]Schedule),
	}
}

// Location returns the zone expressions are evaluated in
func (e *Evaluator) Location() *time.Location {
	return e.loc
}

// Validate reports whether expr parses.
// The error is marked errors.ErrInvalidExpression.
func (e *Evaluator) Validate(expr string) error {
	_, err := e.Parse(expr)
	return err
}

// Parse returns the cached schedule for expr, parsing it on first use
func (e *Evaluator) Parse(expr string) (Schedule, error) {
	e.mu.RLock()
	sched, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return sched, nil
	}

	normalized, err := Normalize(expr)
	if err != nil {
		return nil, err
	}
	sched, err = parser.Parse(normalized)
	if err != nil {
		return nil, errors.NewInvalidExpression(expr, err)
	}

	e.mu.Lock()
	e.cache[expr] = sched
	e.mu.Unlock()
	return sched, nil
}

// Next returns the earliest fire time strictly after after.
// A zero time with a nil error means the expression never matches again
// (e.g. "0 0 0 30 2 *"); callers treat that as "never due".
func (e *Evaluator) Next(expr string, after time.Time) (time.Time, error) {
	sched, err := e.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after.In(e.loc)), nil
}

// Preview lists up to n successive fire times after from.
// The list is shorter than n when the expression stops matching.
func (e *Evaluator) Preview(expr string, from time.Time, n int) ([]time.Time, error) {
	sched, err := e.Parse(expr)
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, n)
	t := from.In(e.loc)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// Normalize rewrites Quartz syntax into the form the parser accepts.
// Descriptors (@hourly, @every 1m) pass through unchanged.
func Normalize(expr string) (string, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return "", errors.NewInvalidExpression(expr, errors.New("empty expression"))
	}
	if strings.HasPrefix(trimmed, "@") || strings.HasPrefix(trimmed, "CRON_TZ=") || strings.HasPrefix(trimmed, "TZ=") {
		return trimmed, nil
	}

	fields := strings.Fields(trimmed)
	switch len(fields) {
	case 5, 6:
	case 7:
		year := fields[6]
		if year != "*" && year != "?" {
			return "", errors.NewInvalidExpression(expr,
				errors.Newf("year field %q is not supported, only '*' or '?'", year))
		}
		fields = fields[:6]
	default:
		return "", errors.NewInvalidExpression(expr,
			errors.Newf("expected 5 to 7 fields, found %d", len(fields)))
	}

	for i, field := range fields {
		for _, part := range strings.Split(field, ",") {
			if quartzOnly(part) {
				return "", errors.NewInvalidExpression(expr,
					errors.Newf("operator in %q is not supported", part))
			}
		}
		if field == "?" {
			fields[i] = "*"
		}
	}

	return strings.Join(fields, " "), nil
}

// quartzOnly matches the L, W and # operators while letting month and
// weekday names such as JUL or WED through
func quartzOnly(part string) bool {
	p := strings.ToUpper(part)
	if strings.Contains(p, "#") {
		return true
	}
	if p == "L" || p == "LW" || strings.HasPrefix(p, "L-") {
		return true
	}
	if len(p) > 1 {
		last := p[len(p)-1]
		if (last == 'L' || last == 'W') && isDigits(p[:len(p)-1]) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var defaultEvaluator = NewEvaluator(time.UTC)

// NextFireTime evaluates expr in UTC; see Evaluator.Next
func NextFireTime(expr string, after time.Time) (time.Time, error) {
	return defaultEvaluator.Next(expr, after)
}

// Validate checks expr with the UTC evaluator
func Validate(expr string) error {
	return defaultEvaluator.Validate(expr)
}
