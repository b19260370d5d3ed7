package backup

import (
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions plus @descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

const (
	// lookbackSafety is taken off "now" before looking for the previous due
	// occurrence, so the trigger that is firing right now is not mistaken
	// for the previous run.
	lookbackSafety = 10 * time.Minute

	day = 24 * time.Hour
)

// Schedule is a parsed cron expression evaluated in a fixed location.
// It holds no clock: every query takes the reference instant explicitly.
type Schedule struct {
	expr string
	spec cron.Schedule
	loc  *time.Location
}

// ParseSchedule parses expr and evaluates it in UTC.
func ParseSchedule(expr string) (*Schedule, error) {
	return ParseScheduleIn(expr, time.UTC)
}

// ParseScheduleIn parses expr and evaluates it in loc.
func ParseScheduleIn(expr string, loc *time.Location) (*Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, &InvalidScheduleError{Expr: expr, Err: errors.New("empty expression")}
	}
	spec, err := cronParser.Parse(trimmed)
	if err != nil {
		return nil, &InvalidScheduleError{Expr: expr, Err: err}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Schedule{expr: trimmed, spec: spec, loc: loc}, nil
}

// String returns the expression as configured.
func (s *Schedule) String() string { return s.expr }

// Location returns the time zone the expression is evaluated in.
func (s *Schedule) Location() *time.Location { return s.loc }

// Next returns the first due occurrence strictly after t.
// It makes *Schedule usable directly as a cron.Schedule.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.spec.Next(t.In(s.loc))
}

// LastOccurrence returns the most recent due occurrence at or before
// now minus the safety offset. The search never reaches back further than
// one year; if the expression has not fired in that year the result is the
// one-year boundary itself.
func (s *Schedule) LastOccurrence(now time.Time) time.Time {
	cutoff := now.In(s.loc).Add(-lookbackSafety)
	yearAgo := cutoff.AddDate(-1, 0, 0)

	// Narrow windows first: the latest occurrence inside a narrow window is
	// also the latest inside the full year, and frequent schedules then
	// avoid walking a year of occurrences.
	starts := []time.Time{
		cutoff.Add(-time.Hour),
		cutoff.Add(-day),
		cutoff.Add(-7 * day),
		cutoff.AddDate(0, -1, 0),
	}
	for _, start := range starts {
		if last, ok := s.lastBetween(start, cutoff); ok {
			return last
		}
	}
	last, _ := s.lastBetween(yearAgo, cutoff)
	return last
}

// lastBetween walks occurrences after start until the next one would pass
// cutoff. ok is false when no occurrence falls in (start, cutoff].
func (s *Schedule) lastBetween(start, cutoff time.Time) (last time.Time, ok bool) {
	last = start
	for {
		next := s.Next(last)
		if next.IsZero() || next.After(cutoff) {
			return last, ok
		}
		last, ok = next, true
	}
}

// NextOccurrence returns the earliest due occurrence strictly after now.
func (s *Schedule) NextOccurrence(now time.Time) time.Time {
	return s.Next(now)
}

// DaysSinceLastRun returns the look-back window in days: the time between
// the previous due occurrence and now, with any partial day counted as a
// whole one so the window never stops short of the previous run.
func (s *Schedule) DaysSinceLastRun(now time.Time) int {
	return wholeDaysCeil(now.Sub(s.LastOccurrence(now)))
}

// DaysUntilNextRun returns the days until the next due occurrence, with
// partial days rounded up. It is 0 only if the schedule never fires again.
func (s *Schedule) DaysUntilNextRun(now time.Time) int {
	next := s.NextOccurrence(now)
	if next.IsZero() {
		return 0
	}
	return wholeDaysCeil(next.Sub(now))
}

// DaysSinceLastRun parses expr and evaluates Schedule.DaysSinceLastRun in UTC.
func DaysSinceLastRun(expr string, now time.Time) (int, error) {
	s, err := ParseSchedule(expr)
	if err != nil {
		return 0, err
	}
	return s.DaysSinceLastRun(now), nil
}

// DaysUntilNextRun parses expr and evaluates Schedule.DaysUntilNextRun in UTC.
func DaysUntilNextRun(expr string, now time.Time) (int, error) {
	s, err := ParseSchedule(expr)
	if err != nil {
		return 0, err
	}
	return s.DaysUntilNextRun(now), nil
}

func wholeDaysCeil(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + day - 1) / day)
}

var _ cron.Schedule = (*Schedule)(nil)
