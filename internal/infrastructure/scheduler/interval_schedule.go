package scheduler

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULES
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule runs a job at a fixed interval.
type IntervalSchedule struct {
	interval time.Duration
}

// Every creates an interval schedule. Intervals shorter than a second are
// rounded up to a second, matching the scheduler tick.
func Every(interval time.Duration) IntervalSchedule {
	if interval < time.Second {
		interval = time.Second
	}
	return IntervalSchedule{interval: interval}
}

// Next returns the next run time after t.
func (s IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.interval)
}

// String returns a human-readable representation.
func (s IntervalSchedule) String() string {
	return fmt.Sprintf("every %s", s.interval)
}

// DailyAtSchedule runs a job once a day at a fixed UTC time.
type DailyAtSchedule struct {
	hour   int
	minute int
}

// DailyAt creates a schedule that fires at hour:minute UTC each day.
func DailyAt(hour, minute int) DailyAtSchedule {
	return DailyAtSchedule{hour: hour, minute: minute}
}

// Next returns the next run time after t.
func (s DailyAtSchedule) Next(t time.Time) time.Time {
	t = t.UTC()
	next := time.Date(t.Year(), t.Month(), t.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// String returns a human-readable representation.
func (s DailyAtSchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d UTC", s.hour, s.minute)
}
