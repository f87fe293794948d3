// Package timeutil provides calendar-date utilities for streak and daily-award logic.
// All learner-facing day boundaries are computed in one configured location
// (UTC unless the service is configured otherwise).
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// DateLayout is the ISO calendar date layout used for stored dates.
const DateLayout = "2006-01-02"

// Date is a calendar date in ISO form ("2026-10-19"). The zero value means "no date".
type Date string

// NoDate is the empty calendar date.
const NoDate Date = ""

// DateOf returns the calendar date of t in loc. A nil loc means UTC.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return Date(t.In(loc).Format(DateLayout))
}

// ParseDate parses an ISO calendar date.
func ParseDate(value string) (Date, error) {
	if value == "" {
		return NoDate, nil
	}
	if _, err := time.Parse(DateLayout, value); err != nil {
		return NoDate, fmt.Errorf("timeutil: invalid date %q: %w", value, err)
	}
	return Date(value), nil
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d == NoDate
}

// String implements fmt.Stringer.
func (d Date) String() string {
	return string(d)
}

// Time returns midnight UTC of the date. Invalid or empty dates return the zero time.
func (d Date) Time() time.Time {
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays returns the date n days later (n may be negative).
func (d Date) AddDays(n int) Date {
	t := d.Time()
	if t.IsZero() {
		return NoDate
	}
	return Date(t.AddDate(0, 0, n).Format(DateLayout))
}

// DaysUntil returns the number of calendar days from d to other.
// Positive when other is later. Returns 0 if either date is unset.
func (d Date) DaysUntil(other Date) int {
	a, b := d.Time(), other.Time()
	if a.IsZero() || b.IsZero() {
		return 0
	}
	return int(b.Sub(a).Hours() / 24)
}

// IsYesterdayOf reports whether d is exactly one day before other.
func (d Date) IsYesterdayOf(other Date) bool {
	if d.IsZero() || other.IsZero() {
		return false
	}
	return d.AddDays(1) == other
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOCK
// ══════════════════════════════════════════════════════════════════════════════

// Clock abstracts the current time so day boundaries can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// FixedClock always returns the same instant.
type FixedClock struct {
	At time.Time
}

// Now implements Clock.
func (c FixedClock) Now() time.Time {
	return c.At
}

// Calendar converts instants into calendar dates in a fixed location.
type Calendar struct {
	clock Clock
	loc   *time.Location
}

// NewCalendar creates a calendar. A nil clock means SystemClock, nil loc means UTC.
func NewCalendar(clock Clock, loc *time.Location) *Calendar {
	if clock == nil {
		clock = SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{clock: clock, loc: loc}
}

// LoadCalendar creates a system calendar for the named IANA zone.
func LoadCalendar(zone string) (*Calendar, error) {
	if zone == "" {
		return NewCalendar(nil, time.UTC), nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown timezone %q: %w", zone, err)
	}
	return NewCalendar(nil, loc), nil
}

// Now returns the current instant.
func (c *Calendar) Now() time.Time {
	return c.clock.Now()
}

// Today returns today's calendar date.
func (c *Calendar) Today() Date {
	return DateOf(c.clock.Now(), c.loc)
}

// StartOfDay returns the start of t's day in the calendar location.
func (c *Calendar) StartOfDay(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

// UntilEndOfDay returns the time left until the next day boundary.
func (c *Calendar) UntilEndOfDay() time.Duration {
	now := c.clock.Now()
	return c.StartOfDay(now).AddDate(0, 0, 1).Sub(now)
}
