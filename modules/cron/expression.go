// Package cron parses six-field cron expressions and computes trigger instants.
//
// Fields are, in order: seconds, minutes, hours, day-of-month, month and
// day-of-week. Each field accepts "*", numbers, lists ("1,15"), ranges
// ("9-17") and steps ("*/5", "10-40/10"). When both day-of-month and
// day-of-week are restricted a day matches if either field matches.
package cron

import (
	"fmt"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/Deepreo/jobscheduler/errors"
)

// Descriptors such as "@every" are rejected: the field count is exactly six.
var parser = robfig.NewParser(
	robfig.Second | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow,
)

// Expression is a validated cron expression. It is safe for concurrent use.
type Expression struct {
	text     string
	location *time.Location
	sched    robfig.Schedule
}

type Option func(*Expression)

// WithLocation evaluates the calendar fields in loc instead of the
// reference instant's own location.
func WithLocation(loc *time.Location) Option {
	return func(e *Expression) {
		e.location = loc
	}
}

// Parse validates text eagerly. Any syntax problem is returned as a
// schedule parse error.
func Parse(text string, opts ...Option) (*Expression, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.ScheduleParseError(fmt.Errorf("cron: empty expression")).
			WithCode("SCHEDULE_PARSE")
	}
	sched, err := parser.Parse(trimmed)
	if err != nil {
		return nil, errors.ScheduleParseError(fmt.Errorf("cron: parse %q: %w", trimmed, err)).
			WithCode("SCHEDULE_PARSE").
			WithMetadata("expression", trimmed)
	}
	e := &Expression{text: trimmed, sched: sched}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// MustParse is like Parse but panics on error.
func MustParse(text string, opts ...Option) *Expression {
	e, err := Parse(text, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Next returns the first matching instant strictly after ref, in ref's
// location. It fails when no instant matches within the search horizon
// (e.g. "0 0 0 30 2 *").
func (e *Expression) Next(ref time.Time) (time.Time, error) {
	from := ref
	if e.location != nil {
		from = ref.In(e.location)
	}
	next := e.sched.Next(from)
	if next.IsZero() {
		return time.Time{}, errors.EvaluationError(fmt.Errorf("cron: %q has no trigger after %s", e.text, ref.Format(time.RFC3339))).
			WithCode("NO_NEXT_TRIGGER").
			WithMetadata("expression", e.text)
	}
	if !next.After(ref) {
		return time.Time{}, errors.EvaluationError(fmt.Errorf("cron: %q produced %s, not after %s", e.text, next.Format(time.RFC3339Nano), ref.Format(time.RFC3339Nano))).
			WithCode("STALLED_SCHEDULE").
			WithMetadata("expression", e.text)
	}
	return next.In(ref.Location()), nil
}

func (e *Expression) String() string {
	return e.text
}

// Location returns the evaluation location, or nil when the reference
// instant's location is used.
func (e *Expression) Location() *time.Location {
	return e.location
}

// NextTrigger parses text and returns its next instant after ref.
func NextTrigger(text string, ref time.Time) (time.Time, error) {
	e, err := Parse(text)
	if err != nil {
		return time.Time{}, err
	}
	return e.Next(ref)
}
