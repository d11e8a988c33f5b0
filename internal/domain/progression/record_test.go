package progression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/pkg/timeutil"
)

func TestNewRecord(t *testing.T) {
	now := timeutil.DateTime(2026, 3, 10, 12, 0, 0)

	record, err := NewRecord(shared.UserID(testUserID), now)
	require.NoError(t, err)
	assert.Equal(t, shared.XP(0), record.TotalXP)
	assert.Equal(t, 1, record.CurrentLevel)
	assert.Equal(t, MaxForgivenessTokens, record.ForgivenessTokens)
	assert.Equal(t, timeutil.StartOfMonth(now), record.TokenCycleStart)
	assert.Empty(t, record.UnlockedAchievements)
	assert.NoError(t, record.Validate())

	_, err = NewRecord("not-a-uuid", now)
	assert.Error(t, err)
}

func TestRecord_AddXP(t *testing.T) {
	now := timeutil.Now()
	record := newTestRecord(t, now)

	require.NoError(t, record.AddXP(50, now))
	assert.Equal(t, shared.XP(50), record.TotalXP)

	assert.ErrorIs(t, record.AddXP(0, now), shared.ErrInvalidXPDelta)
	assert.ErrorIs(t, record.AddXP(-10, now), shared.ErrInvalidXPDelta)
	assert.Equal(t, shared.XP(50), record.TotalXP, "rejected delta must not change the total")
}

func TestRecord_RecalculateLevel(t *testing.T) {
	curve := DefaultCurve()
	now := timeutil.Now()
	record := newTestRecord(t, now)

	require.NoError(t, record.AddXP(250, now))
	oldLevel, newLevel := record.RecalculateLevel(curve)
	assert.Equal(t, 1, oldLevel)
	assert.Equal(t, LevelForTotalXP(250, curve), newLevel)
	assert.Equal(t, newLevel, record.CurrentLevel)
}

func TestRecord_CorrectXP(t *testing.T) {
	curve := DefaultCurve()
	now := timeutil.Now()
	record := newTestRecord(t, now)
	require.NoError(t, record.AddXP(500, now))
	record.RecalculateLevel(curve)

	// Administrative correction may lower the total.
	require.NoError(t, record.CorrectXP(100, curve, now))
	assert.Equal(t, shared.XP(100), record.TotalXP)
	assert.Equal(t, LevelForTotalXP(100, curve), record.CurrentLevel)

	assert.Error(t, record.CorrectXP(-1, curve, now))
}

func TestRecord_UnlockAchievement(t *testing.T) {
	now := timeutil.Now()
	record := newTestRecord(t, now)

	require.NoError(t, record.UnlockAchievement("streak-7", now))
	assert.True(t, record.HasAchievement("streak-7"))

	err := record.UnlockAchievement("streak-7", now)
	assert.ErrorIs(t, err, shared.ErrAlreadyUnlocked)
	assert.Len(t, record.UnlockedAchievements, 1, "unlocked set must never gain duplicates")
}

func TestRecord_SortedAchievements(t *testing.T) {
	now := timeutil.Now()
	record := newTestRecord(t, now)

	require.NoError(t, record.UnlockAchievement("zeta", now))
	require.NoError(t, record.UnlockAchievement("alpha", now))
	require.NoError(t, record.UnlockAchievement("mid", now))

	sorted := record.SortedAchievements()
	assert.Equal(t, []shared.AchievementID{"alpha", "mid", "zeta"}, sorted)
	// Underlying insertion order is untouched.
	assert.Equal(t, shared.AchievementID("zeta"), record.UnlockedAchievements[0])
}

func TestRecord_Clone(t *testing.T) {
	now := timeutil.Now()
	record := newTestRecord(t, now)
	require.NoError(t, record.AddXP(100, now))
	require.NoError(t, record.UnlockAchievement("streak-7", now))

	clone := record.Clone()
	require.NoError(t, clone.AddXP(900, now))
	require.NoError(t, clone.UnlockAchievement("streak-30", now))
	clone.ForgivenessTokens = 0

	assert.Equal(t, shared.XP(100), record.TotalXP)
	assert.Len(t, record.UnlockedAchievements, 1)
	assert.Equal(t, MaxForgivenessTokens, record.ForgivenessTokens)

	assert.Equal(t, shared.XP(1000), clone.TotalXP)
	assert.Len(t, clone.UnlockedAchievements, 2)
}

func TestRecord_Validate(t *testing.T) {
	now := timeutil.Now()
	record := newTestRecord(t, now)

	record.ForgivenessTokens = MaxForgivenessTokens + 1
	assert.Error(t, record.Validate())

	record.ForgivenessTokens = -1
	assert.Error(t, record.Validate())

	record.ForgivenessTokens = 2
	assert.NoError(t, record.Validate())
}
