package app

import (
	"time"

	"github.com/DankTechnologies/AwsBackup/internal/backup"
)

// ScheduleInfo describes where a schedule stands at a given instant.
type ScheduleInfo struct {
	Expr             string
	Location         string
	LastRun          time.Time
	DaysSinceLastRun int
	NextRun          time.Time
	DaysUntilNextRun int
}

// DescribeSchedule evaluates expr in tz (UTC when empty) at now.
func DescribeSchedule(expr, tz string, now time.Time) (*ScheduleInfo, error) {
	loc := time.UTC
	if tz != "" {
		var err error
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, err
		}
	}
	s, err := backup.ParseScheduleIn(expr, loc)
	if err != nil {
		return nil, err
	}
	return &ScheduleInfo{
		Expr:             s.String(),
		Location:         loc.String(),
		LastRun:          s.LastOccurrence(now),
		DaysSinceLastRun: s.DaysSinceLastRun(now),
		NextRun:          s.NextOccurrence(now),
		DaysUntilNextRun: s.DaysUntilNextRun(now),
	}, nil
}
