package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvery_Next(t *testing.T) {
	s := Every(5 * time.Minute)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(5*time.Minute), s.Next(now))
}

func TestEvery_ClampsSubSecondIntervals(t *testing.T) {
	s := Every(100 * time.Millisecond)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(time.Second), s.Next(now))
}

func TestDailyAt_SameDayWhenTimeNotPassed(t *testing.T) {
	s := DailyAt(15, 30)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC), s.Next(now))
}

func TestDailyAt_NextDayWhenTimePassed(t *testing.T) {
	s := DailyAt(3, 30)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 11, 3, 30, 0, 0, time.UTC), s.Next(now))
}

func TestDailyAt_ExactBoundaryRollsToNextDay(t *testing.T) {
	s := DailyAt(12, 0)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// A run at exactly 12:00 schedules the following day, not itself again.
	assert.Equal(t, time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC), s.Next(now))
}

func TestSchedules_String(t *testing.T) {
	assert.Equal(t, "every 5m0s", Every(5*time.Minute).String())
	assert.Equal(t, "daily at 03:05 UTC", DailyAt(3, 5).String())
}
