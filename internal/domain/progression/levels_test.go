package progression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXPForLevel_StrictlyIncreasing(t *testing.T) {
	curve := DefaultCurve()

	assert.Equal(t, 0, XPForLevel(0, curve))
	assert.Equal(t, 0, XPForLevel(1, curve))
	assert.Equal(t, 100, XPForLevel(2, curve))

	prev := XPForLevel(1, curve)
	for level := 2; level <= 200; level++ {
		cur := XPForLevel(level, curve)
		assert.Greater(t, cur, prev, "threshold for level %d must exceed level %d", level, level-1)
		prev = cur
	}
}

func TestLevelForTotalXP_Monotonic(t *testing.T) {
	curve := DefaultCurve()

	assert.Equal(t, 1, LevelForTotalXP(0, curve))
	assert.Equal(t, 1, LevelForTotalXP(-5, curve))
	assert.Equal(t, 1, LevelForTotalXP(99, curve))
	assert.Equal(t, 2, LevelForTotalXP(100, curve))

	prevLevel := 0
	for xp := 0; xp <= 100_000; xp += 137 {
		level := LevelForTotalXP(xp, curve)
		assert.GreaterOrEqual(t, level, prevLevel, "level must never decrease as XP grows (xp=%d)", xp)
		prevLevel = level
	}
}

func TestLevelForTotalXP_AtExactThreshold(t *testing.T) {
	curve := DefaultCurve()

	for level := 2; level <= 50; level++ {
		threshold := XPForLevel(level, curve)
		assert.Equal(t, level, LevelForTotalXP(threshold, curve))
		assert.Equal(t, level-1, LevelForTotalXP(threshold-1, curve))
	}
}

func TestComputeLevelInfo(t *testing.T) {
	curve := DefaultCurve()

	info := ComputeLevelInfo(0, curve)
	assert.Equal(t, 1, info.CurrentLevel)
	assert.Equal(t, 0, info.XPForCurrentLevel)
	assert.Equal(t, 100, info.XPForNextLevel)
	assert.Equal(t, 0, info.ProgressToNextLevel)
	assert.False(t, info.IsMilestone)
	assert.Equal(t, 5, info.NextMilestone)

	info = ComputeLevelInfo(50, curve)
	assert.Equal(t, 1, info.CurrentLevel)
	assert.Equal(t, 50, info.ProgressToNextLevel)
	assert.InDelta(t, 50.0, info.ProgressPercentage, 0.001)

	// Negative XP clamps to zero.
	info = ComputeLevelInfo(-10, curve)
	assert.Equal(t, 1, info.CurrentLevel)
	assert.Equal(t, 0, info.ProgressToNextLevel)
}

func TestNextMilestone(t *testing.T) {
	assert.Equal(t, 5, NextMilestone(1))
	assert.Equal(t, 5, NextMilestone(4))
	assert.Equal(t, 10, NextMilestone(5))
	assert.Equal(t, 10, NextMilestone(7))
	assert.Equal(t, 15, NextMilestone(10))

	for level := 0; level <= 100; level++ {
		next := NextMilestone(level)
		assert.Greater(t, next, level)
		assert.Equal(t, 0, next%5)
	}
}

func TestIsMilestoneLevel(t *testing.T) {
	assert.False(t, IsMilestoneLevel(1))
	assert.False(t, IsMilestoneLevel(4))
	assert.True(t, IsMilestoneLevel(5))
	assert.True(t, IsMilestoneLevel(25))
	assert.False(t, IsMilestoneLevel(0))
}

func TestLevelTitleAndColor(t *testing.T) {
	assert.Equal(t, "Novice", LevelTitle(1))
	assert.Equal(t, "Apprentice", LevelTitle(5))
	assert.Equal(t, "Practitioner", LevelTitle(12))
	assert.Equal(t, "Transcendent", LevelTitle(99))

	// Same level always maps to the same title and color.
	assert.Equal(t, LevelTitle(17), LevelTitle(17))
	assert.Equal(t, LevelColor(17), LevelColor(17))
	assert.NotEmpty(t, LevelColor(1))
}

func TestRewardForLevel(t *testing.T) {
	assert.Equal(t, "theme:Apprentice", RewardForLevel(5))
	assert.Contains(t, RewardForLevel(3), "badge:")
}

func TestCurveParams_Validate(t *testing.T) {
	require.NoError(t, DefaultCurve().Validate())

	bad := CurveParams{Coefficient: 0, Exponent: 1.6}
	assert.Error(t, bad.Validate())

	bad = CurveParams{Coefficient: 100, Exponent: 1.0}
	assert.Error(t, bad.Validate())
}
