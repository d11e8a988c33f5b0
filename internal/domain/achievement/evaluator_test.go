package achievement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitforge/progression-hub/internal/domain/progression"
	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/pkg/timeutil"
)

const testUserID = "5f8a1c2e-3b4d-4e5f-8a9b-0c1d2e3f4a5b"

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := NewCatalog("test", []Achievement{
		{ID: "first-steps", Title: "First Steps", Rarity: RarityCommon, Category: CategoryCompletion, Requirement: CompletionCount(1), XPReward: 10},
		{ID: "week-streak", Title: "One Week Strong", Rarity: RarityCommon, Category: CategoryStreak, Requirement: StreakLength(7), XPReward: 30, MaxProgress: 7},
		{ID: "steady-hand", Title: "Steady Hand", Rarity: RarityRare, Category: CategoryConsistency, Requirement: ConsistencyRate(80), XPReward: 80},
		{ID: "challenger", Title: "Challenger", Rarity: RarityCommon, Category: CategoryChallenge, Requirement: ChallengesCompleted(1), XPReward: 40},
		{ID: "rising-star", Title: "Rising Star", Rarity: RarityCommon, Category: CategoryMilestone, Requirement: LevelReached(5), XPReward: 50},
	})
	require.NoError(t, err)
	return catalog
}

func newRecord(t *testing.T) *progression.Record {
	t.Helper()
	record, err := progression.NewRecord(shared.UserID(testUserID), timeutil.Now())
	require.NoError(t, err)
	return record
}

func TestEvaluator_Evaluate_UnlocksInStableOrder(t *testing.T) {
	evaluator := NewEvaluator(testCatalog(t))
	record := newRecord(t)
	now := timeutil.Now()

	stats := shared.HabitStats{
		CurrentStreak:    8,
		BestStreak:       8,
		TotalCompletions: 12,
		ConsistencyRate:  50,
	}

	unlocked, err := evaluator.Evaluate(record, stats, now)
	require.NoError(t, err)
	require.Len(t, unlocked, 2)
	// Stable id order: "first-steps" < "week-streak".
	assert.Equal(t, shared.AchievementID("first-steps"), unlocked[0].ID)
	assert.Equal(t, shared.AchievementID("week-streak"), unlocked[1].ID)
	assert.Equal(t, 40, XPDelta(unlocked))
	assert.True(t, record.HasAchievement("first-steps"))
	assert.True(t, record.HasAchievement("week-streak"))
}

func TestEvaluator_Evaluate_NeverDoubleUnlocks(t *testing.T) {
	evaluator := NewEvaluator(testCatalog(t))
	record := newRecord(t)
	now := timeutil.Now()

	stats := shared.HabitStats{TotalCompletions: 5}

	first, err := evaluator.Evaluate(record, stats, now)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Same stats still satisfy the requirement, but nothing new unlocks.
	second, err := evaluator.Evaluate(record, stats, now)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, record.UnlockedAchievements, 1)

	third, err := evaluator.Evaluate(record, stats, now)
	require.NoError(t, err)
	assert.Empty(t, third)
	assert.Len(t, record.UnlockedAchievements, 1)
}

func TestEvaluator_Evaluate_LevelRequirement(t *testing.T) {
	evaluator := NewEvaluator(testCatalog(t))
	record := newRecord(t)
	now := timeutil.Now()

	unlocked, err := evaluator.Evaluate(record, shared.HabitStats{}, now)
	require.NoError(t, err)
	assert.Empty(t, unlocked, "level 1 satisfies nothing")

	record.CurrentLevel = 5
	unlocked, err = evaluator.Evaluate(record, shared.HabitStats{}, now)
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, shared.AchievementID("rising-star"), unlocked[0].ID)
}

func TestEvaluator_Evaluate_RejectsInvalidStats(t *testing.T) {
	evaluator := NewEvaluator(testCatalog(t))
	record := newRecord(t)

	_, err := evaluator.Evaluate(record, shared.HabitStats{CurrentStreak: -1}, timeutil.Now())
	assert.Error(t, err)
	assert.Empty(t, record.UnlockedAchievements)
}

func TestEvaluator_TrackProgress(t *testing.T) {
	evaluator := NewEvaluator(testCatalog(t))
	record := newRecord(t)

	stats := shared.HabitStats{CurrentStreak: 3}
	progressList := evaluator.TrackProgress(record, stats)
	require.Len(t, progressList, 1, "only MaxProgress entries are tracked")

	p := progressList[0]
	assert.Equal(t, shared.AchievementID("week-streak"), p.AchievementID)
	assert.Equal(t, 3, p.Current)
	assert.Equal(t, 7, p.Max)
	assert.False(t, p.Unlocked, "progress alone never unlocks")
	assert.False(t, record.HasAchievement("week-streak"))

	// Progress is clamped at max.
	stats.CurrentStreak = 20
	progressList = evaluator.TrackProgress(record, stats)
	assert.Equal(t, 7, progressList[0].Current)
}

func TestNewCatalog_Validation(t *testing.T) {
	_, err := NewCatalog("", nil)
	assert.Error(t, err, "version is required")

	_, err = NewCatalog("v1", []Achievement{
		{ID: "dup", Title: "A", Rarity: RarityCommon, Category: CategoryStreak, Requirement: StreakLength(1), XPReward: 1},
		{ID: "dup", Title: "B", Rarity: RarityCommon, Category: CategoryStreak, Requirement: StreakLength(2), XPReward: 1},
	})
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	_, err = NewCatalog("v1", []Achievement{
		{ID: "bad-reward", Title: "A", Rarity: RarityCommon, Category: CategoryStreak, Requirement: StreakLength(1), XPReward: 0},
	})
	assert.Error(t, err)

	_, err = NewCatalog("v1", []Achievement{
		{ID: "bad-rate", Title: "A", Rarity: RarityCommon, Category: CategoryConsistency, Requirement: ConsistencyRate(101), XPReward: 10},
	})
	assert.ErrorIs(t, err, shared.ErrInvalidRequirement)
}

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()
	assert.NotEmpty(t, catalog.Version())
	assert.Greater(t, catalog.Len(), 10)

	// Entries come back in stable id order.
	all := catalog.All()
	for i := 1; i < len(all); i++ {
		assert.Less(t, string(all[i-1].ID), string(all[i].ID))
	}

	entry, err := catalog.Get("first-steps")
	require.NoError(t, err)
	assert.Equal(t, RarityCommon, entry.Rarity)

	_, err = catalog.Get("nope")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
