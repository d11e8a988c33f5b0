package challenge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/pkg/timeutil"
)

func completedParticipation(c *Challenge, userID shared.UserID, completedAt time.Time) *Participation {
	p := NewParticipation(userID, c, c.StartDate)
	p.MarkCompleted(completedAt)
	return p
}

func TestFinalizeRanks_BonusSchedule(t *testing.T) {
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypeCommunity, start)
	c.RewardXP = 100

	users := []shared.UserID{
		"11111111-1111-4111-8111-111111111111",
		"22222222-2222-4222-8222-222222222222",
		"33333333-3333-4333-8333-333333333333",
		"44444444-4444-4444-8444-444444444444",
	}

	// Completion order: users[0] first, then 1, 2, 3.
	participations := make([]*Participation, 0, len(users))
	for i, u := range users {
		at := start.AddDate(0, 0, 2).Add(time.Duration(i) * time.Hour)
		participations = append(participations, completedParticipation(c, u, at))
	}

	now := c.EndDate.Add(time.Hour)
	bonuses, err := FinalizeRanks(c, participations, now)
	require.NoError(t, err)
	require.Len(t, bonuses, 4)

	// With rewardXP=100 the awarded totals per rank are 150, 130, 120, 100:
	// reward was paid at completion, bonuses here add 50, 30, 20, 0.
	assert.Equal(t, RankBonus{UserID: users[0], Rank: 1, BonusXP: 50}, bonuses[0])
	assert.Equal(t, RankBonus{UserID: users[1], Rank: 2, BonusXP: 30}, bonuses[1])
	assert.Equal(t, RankBonus{UserID: users[2], Rank: 3, BonusXP: 20}, bonuses[2])
	assert.Equal(t, RankBonus{UserID: users[3], Rank: 4, BonusXP: 0}, bonuses[3])

	for i, p := range participations {
		assert.Equal(t, i+1, p.FinalRank)
	}
	assert.True(t, c.RanksFinalized)
}

func TestFinalizeRanks_BeforeEndDate(t *testing.T) {
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypeCommunity, start)

	_, err := FinalizeRanks(c, nil, start.AddDate(0, 0, 5))
	assert.ErrorIs(t, err, shared.ErrChallengeStillRunning)
	assert.False(t, c.RanksFinalized)
}

func TestFinalizeRanks_Idempotent(t *testing.T) {
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypeCommunity, start)
	p := completedParticipation(c, testUserID, start.AddDate(0, 0, 2))
	now := c.EndDate.Add(time.Hour)

	_, err := FinalizeRanks(c, []*Participation{p}, now)
	require.NoError(t, err)

	// Ranks are immutable once finalized: a second pass is rejected.
	_, err = FinalizeRanks(c, []*Participation{p}, now.Add(time.Hour))
	assert.ErrorIs(t, err, shared.ErrRanksAlreadyFinal)
	assert.Equal(t, 1, p.FinalRank)
}

func TestFinalizeRanks_SkipsIncomplete(t *testing.T) {
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypeCommunity, start)

	done := completedParticipation(c, testUserID, start.AddDate(0, 0, 2))
	active := NewParticipation(otherUserID, c, start)
	abandoned := NewParticipation("77777777-7777-4777-8777-777777777777", c, start)
	require.NoError(t, abandoned.Abandon(start.AddDate(0, 0, 1)))

	now := c.EndDate.Add(time.Hour)
	bonuses, err := FinalizeRanks(c, []*Participation{active, abandoned, done}, now)
	require.NoError(t, err)
	require.Len(t, bonuses, 1)
	assert.Equal(t, 1, done.FinalRank)
	assert.Zero(t, active.FinalRank)
	assert.Zero(t, abandoned.FinalRank)
}

func TestFinalizeRanks_PersonalChallengeNoBonus(t *testing.T) {
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypePersonal, start)
	p := completedParticipation(c, testUserID, start.AddDate(0, 0, 2))

	bonuses, err := FinalizeRanks(c, []*Participation{p}, c.EndDate.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, bonuses, 1)
	assert.Zero(t, bonuses[0].BonusXP)
	assert.Equal(t, 1, p.FinalRank)
}

func TestFinalizeRanks_DeterministicTieBreak(t *testing.T) {
	start := timeutil.Date(2026, 3, 1)
	c := testChallenge(t, TypeCommunity, start)
	at := start.AddDate(0, 0, 2)

	a := completedParticipation(c, testUserID, at)
	b := completedParticipation(c, otherUserID, at)

	bonuses, err := FinalizeRanks(c, []*Participation{a, b}, c.EndDate.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, bonuses, 2)

	// Ties order by participation id, so the pass is reproducible.
	if a.ID < b.ID {
		assert.Equal(t, 1, a.FinalRank)
		assert.Equal(t, 2, b.FinalRank)
	} else {
		assert.Equal(t, 1, b.FinalRank)
		assert.Equal(t, 2, a.FinalRank)
	}
}
