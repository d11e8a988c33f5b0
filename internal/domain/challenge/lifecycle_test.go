package challenge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/pkg/timeutil"
)

const (
	testUserID  = "5f8a1c2e-3b4d-4e5f-8a9b-0c1d2e3f4a5b"
	otherUserID = "6a9b2d3f-4c5e-4f6a-9b0c-1d2e3f4a5b6c"
)

func testChallenge(t *testing.T, ctype Type, start time.Time) *Challenge {
	t.Helper()
	c, err := NewChallenge("spring-sprint", ctype, "Spring Sprint",
		[]Requirement{CompletionCount(20), StreakLength(5)}, 14, 100, start)
	require.NoError(t, err)
	return c
}

func TestManager_Join(t *testing.T) {
	m := NewManager(DefaultRecoveryConfig())
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypeCommunity, start)
	now := start.AddDate(0, 0, 1)

	p, err := m.Join(c, testUserID, nil, 0, now)
	require.NoError(t, err)
	assert.Equal(t, shared.Percent(0), p.Progress)
	assert.False(t, p.Completed)
	assert.Equal(t, c.StartDate, p.StartDate)
	assert.Equal(t, c.EndDate, p.EndDate)
	assert.Equal(t, ParticipationActive, p.Status())
}

func TestManager_Join_AlreadyJoined(t *testing.T) {
	m := NewManager(DefaultRecoveryConfig())
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypeCommunity, start)
	now := start.AddDate(0, 0, 1)

	first, err := m.Join(c, testUserID, nil, 0, now)
	require.NoError(t, err)

	_, err = m.Join(c, testUserID, first, 1, now)
	assert.ErrorIs(t, err, shared.ErrAlreadyJoined)
}

func TestManager_Join_ChallengeEnded(t *testing.T) {
	m := NewManager(DefaultRecoveryConfig())
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypeCommunity, start)
	afterEnd := c.EndDate.Add(time.Hour)

	p, err := m.Join(c, testUserID, nil, 0, afterEnd)
	assert.ErrorIs(t, err, shared.ErrChallengeEnded)
	assert.Nil(t, p, "rejected join leaves no participation")
}

func TestManager_Join_AlreadyFull(t *testing.T) {
	m := NewManager(DefaultRecoveryConfig())
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypeCommunity, start)
	c.MaxParticipants = 2
	now := start.AddDate(0, 0, 1)

	_, err := m.Join(c, testUserID, nil, 2, now)
	assert.ErrorIs(t, err, shared.ErrAlreadyFull)

	// Unlimited when MaxParticipants is zero.
	c.MaxParticipants = 0
	_, err = m.Join(c, testUserID, nil, 100000, now)
	assert.NoError(t, err)
}

func TestManager_UpdateProgress_Monotonic(t *testing.T) {
	m := NewManager(DefaultRecoveryConfig())
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypePersonal, start)
	now := start.AddDate(0, 0, 1)
	p, err := m.Join(c, testUserID, nil, 0, now)
	require.NoError(t, err)

	_, err = m.UpdateProgress(c, p, 40, shared.HabitStats{}, now)
	require.NoError(t, err)
	assert.Equal(t, shared.Percent(40), p.Progress)

	// Decreasing progress is rejected and leaves state unchanged.
	_, err = m.UpdateProgress(c, p, 30, shared.HabitStats{}, now)
	assert.ErrorIs(t, err, shared.ErrInvalidProgress)
	assert.Equal(t, shared.Percent(40), p.Progress)

	// Values above 100 clamp and complete.
	outcome, err := m.UpdateProgress(c, p, 150, shared.HabitStats{}, now)
	require.NoError(t, err)
	assert.True(t, outcome.CompletedNow)
	assert.Equal(t, 100, outcome.XPAwarded)
	assert.Equal(t, shared.Percent(100), p.Progress)
}

func TestManager_UpdateProgress_RequirementsComplete(t *testing.T) {
	m := NewManager(DefaultRecoveryConfig())
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypePersonal, start)
	now := start.AddDate(0, 0, 2)
	p, err := m.Join(c, testUserID, nil, 0, now)
	require.NoError(t, err)

	// One requirement met, the other not: the list is AND-combined.
	stats := shared.HabitStats{TotalCompletions: 25, CurrentStreak: 3}
	outcome, err := m.UpdateProgress(c, p, 60, stats, now)
	require.NoError(t, err)
	assert.False(t, outcome.CompletedNow)

	stats.CurrentStreak = 5
	outcome, err = m.UpdateProgress(c, p, 60, stats, now)
	require.NoError(t, err)
	assert.True(t, outcome.CompletedNow)
	assert.Equal(t, 100, outcome.XPAwarded)
}

func TestManager_Complete_Idempotent(t *testing.T) {
	m := NewManager(DefaultRecoveryConfig())
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypePersonal, start)
	now := start.AddDate(0, 0, 1)
	p, err := m.Join(c, testUserID, nil, 0, now)
	require.NoError(t, err)

	outcome, err := m.Complete(c, p, now)
	require.NoError(t, err)
	assert.True(t, outcome.CompletedNow)
	assert.Equal(t, 100, outcome.XPAwarded)

	// Re-checking an already-completed participation awards nothing.
	outcome, err = m.Complete(c, p, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, outcome.CompletedNow)
	assert.Zero(t, outcome.XPAwarded)
}

func TestManager_Abandon(t *testing.T) {
	m := NewManager(DefaultRecoveryConfig())
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypePersonal, start)
	now := start.AddDate(0, 0, 1)
	p, err := m.Join(c, testUserID, nil, 0, now)
	require.NoError(t, err)

	require.NoError(t, m.Abandon(p, now))
	assert.Equal(t, ParticipationAbandoned, p.Status())

	// An abandoned participation cannot later complete or take progress,
	// even if requirements would have been met.
	_, err = m.UpdateProgress(c, p, 100, shared.HabitStats{TotalCompletions: 100, CurrentStreak: 10}, now)
	assert.ErrorIs(t, err, shared.ErrParticipationNotActive)

	_, err = m.Complete(c, p, now)
	assert.ErrorIs(t, err, shared.ErrParticipationNotActive)

	// A completed participation cannot be abandoned.
	p2, err := m.Join(c, otherUserID, nil, 1, now)
	require.NoError(t, err)
	_, err = m.Complete(c, p2, now)
	require.NoError(t, err)
	assert.Error(t, m.Abandon(p2, now))
}

func TestManager_GenerateRecovery(t *testing.T) {
	cfg := DefaultRecoveryConfig()
	m := NewManager(cfg)
	now := timeutil.DateTime(2026, 3, 10, 8, 0, 0)

	c, p, err := m.GenerateRecovery(testUserID, "morning-run", 3, false, now)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.NotNil(t, p)

	assert.True(t, c.IsRecovery())
	assert.Equal(t, TypePersonal, c.Type)
	assert.Equal(t, shared.HabitID("morning-run"), c.RecoveryFor)
	assert.Equal(t, 3, c.DaysMissed)
	assert.Equal(t, 2+2*3, c.DurationDays)
	assert.Equal(t, 10*3*3, c.RewardXP)
	assert.Equal(t, c.ID, p.ChallengeID)
	assert.Equal(t, shared.UserID(testUserID), p.UserID)
}

func TestManager_GenerateRecovery_ScalingCaps(t *testing.T) {
	cfg := DefaultRecoveryConfig()

	// Duration caps at MaxDays, reward at BaseHabitXP*MaxRewardFactor.
	assert.Equal(t, cfg.MaxDays, cfg.DurationDays(50))
	assert.Equal(t, cfg.BaseHabitXP*cfg.MaxRewardFactor, cfg.RewardXP(50))

	// More missed days never shrink the window or the reward.
	for d := 1; d < 20; d++ {
		assert.GreaterOrEqual(t, cfg.DurationDays(d+1), cfg.DurationDays(d))
		assert.GreaterOrEqual(t, cfg.RewardXP(d+1), cfg.RewardXP(d))
	}
}

func TestManager_GenerateRecovery_OnePerHabit(t *testing.T) {
	m := NewManager(DefaultRecoveryConfig())
	now := timeutil.Now()

	_, _, err := m.GenerateRecovery(testUserID, "morning-run", 2, true, now)
	assert.ErrorIs(t, err, shared.ErrRecoveryChallengeActive)

	_, _, err = m.GenerateRecovery(testUserID, "morning-run", 0, false, now)
	assert.Error(t, err, "daysMissed must be at least 1")
}

func TestChallenge_ApplyEdit(t *testing.T) {
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypeCommunity, start)
	now := start.AddDate(0, 0, 1)

	title := "Renamed Sprint"
	newEnd := c.EndDate.AddDate(0, 0, 7)
	require.NoError(t, c.ApplyEdit(EditPatch{Title: &title, EndDate: &newEnd}, true, now))
	assert.Equal(t, "Renamed Sprint", c.Title)
	assert.Equal(t, newEnd, c.EndDate)

	// Rule changes are locked once progress exists.
	reward := 500
	err := c.ApplyEdit(EditPatch{RewardXP: &reward}, true, now)
	assert.ErrorIs(t, err, shared.ErrChallengeLocked)
	assert.Equal(t, 100, c.RewardXP)

	// Without recorded progress rule changes are allowed.
	require.NoError(t, c.ApplyEdit(EditPatch{RewardXP: &reward}, false, now))
	assert.Equal(t, 500, c.RewardXP)

	// Inverted date ranges are rejected.
	badEnd := c.StartDate.AddDate(0, 0, -1)
	assert.Error(t, c.ApplyEdit(EditPatch{EndDate: &badEnd}, false, now))
}

func TestChallenge_StatusAt(t *testing.T) {
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypePersonal, start)

	assert.Equal(t, StatusCreated, c.StatusAt(start.Add(-time.Hour)))
	assert.Equal(t, StatusActive, c.StatusAt(start.AddDate(0, 0, 3)))
	assert.Equal(t, StatusEnded, c.StatusAt(c.EndDate.Add(time.Minute)))
}

func TestParticipation_DatesCopiedAtJoin(t *testing.T) {
	m := NewManager(DefaultRecoveryConfig())
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypeCommunity, start)
	now := start.AddDate(0, 0, 1)
	p, err := m.Join(c, testUserID, nil, 0, now)
	require.NoError(t, err)

	originalEnd := p.EndDate

	// A later date edit does not move an in-flight participant's deadline.
	newEnd := c.EndDate.AddDate(0, 0, 10)
	require.NoError(t, c.ApplyEdit(EditPatch{EndDate: &newEnd}, true, now))
	assert.Equal(t, originalEnd, p.EndDate)
}
