package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitforge/progression-hub/internal/domain/challenge"
	"github.com/habitforge/progression-hub/internal/domain/shared"
)

func standingsChallenge(finalized bool) *challenge.Challenge {
	return &challenge.Challenge{
		ID:             "ch-1",
		Type:           challenge.TypeCommunity,
		Title:          "March Streak",
		RewardXP:       200,
		StartDate:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		RanksFinalized: finalized,
	}
}

func participant(id, user string, progress int) *challenge.Participation {
	return &challenge.Participation{
		ID:          id,
		UserID:      shared.UserID(user),
		ChallengeID: "ch-1",
		Progress:    shared.Percent(progress),
	}
}

func completedAt(p *challenge.Participation, ts time.Time) *challenge.Participation {
	p.Progress = 100
	p.Completed = true
	p.CompletedAt = &ts
	return p
}

func TestBuildStandings_ProvisionalOrder(t *testing.T) {
	c := standingsChallenge(false)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	early := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	late := time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC)

	participations := []*challenge.Participation{
		participant("p-1", "user-slow", 20),
		completedAt(participant("p-2", "user-late", 0), late),
		participant("p-3", "user-fast", 80),
		completedAt(participant("p-4", "user-early", 0), early),
	}

	dto := buildStandings(c, participations, now)

	require.Len(t, dto.Standings, 4)
	// Completed first, earliest completion wins, then actives by progress.
	assert.Equal(t, "user-early", dto.Standings[0].UserID)
	assert.Equal(t, "user-late", dto.Standings[1].UserID)
	assert.Equal(t, "user-fast", dto.Standings[2].UserID)
	assert.Equal(t, "user-slow", dto.Standings[3].UserID)

	for i, s := range dto.Standings {
		assert.Equal(t, i+1, s.Position)
	}
	assert.False(t, dto.RanksFinalized)
	assert.Zero(t, dto.Standings[0].BonusXP)
}

func TestBuildStandings_CompletionTieBreaksOnParticipationID(t *testing.T) {
	c := standingsChallenge(false)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	ts := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	participations := []*challenge.Participation{
		completedAt(participant("p-b", "user-b", 0), ts),
		completedAt(participant("p-a", "user-a", 0), ts),
	}

	dto := buildStandings(c, participations, now)

	require.Len(t, dto.Standings, 2)
	assert.Equal(t, "user-a", dto.Standings[0].UserID)
	assert.Equal(t, "user-b", dto.Standings[1].UserID)
}

func TestBuildStandings_FinalizedOrderAndBonuses(t *testing.T) {
	c := standingsChallenge(true)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	ts := time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC)

	first := completedAt(participant("p-1", "user-first", 0), ts)
	first.FinalRank = 1
	second := completedAt(participant("p-2", "user-second", 0), ts)
	second.FinalRank = 2
	third := completedAt(participant("p-3", "user-third", 0), ts)
	third.FinalRank = 3
	unranked := participant("p-4", "user-unranked", 40)

	dto := buildStandings(c, []*challenge.Participation{unranked, third, first, second}, now)

	require.Len(t, dto.Standings, 4)
	assert.Equal(t, "user-first", dto.Standings[0].UserID)
	assert.Equal(t, "user-second", dto.Standings[1].UserID)
	assert.Equal(t, "user-third", dto.Standings[2].UserID)
	assert.Equal(t, "user-unranked", dto.Standings[3].UserID)

	// 50/30/20 percent of the 200 XP reward.
	assert.Equal(t, 100, dto.Standings[0].BonusXP)
	assert.Equal(t, 60, dto.Standings[1].BonusXP)
	assert.Equal(t, 40, dto.Standings[2].BonusXP)
	assert.Zero(t, dto.Standings[3].BonusXP)
}

func TestBuildStandings_AbandonedExcluded(t *testing.T) {
	c := standingsChallenge(false)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	abandoned := participant("p-1", "user-gone", 50)
	abandoned.Abandoned = true

	dto := buildStandings(c, []*challenge.Participation{
		abandoned,
		participant("p-2", "user-here", 10),
	}, now)

	require.Len(t, dto.Standings, 1)
	assert.Equal(t, "user-here", dto.Standings[0].UserID)
	// Participants counts everyone who ever joined.
	assert.Equal(t, 2, dto.Participants)
}

func TestPaginate_SlicesWithoutTouchingHeader(t *testing.T) {
	dto := &StandingsDTO{
		ChallengeID: "ch-1",
		Standings: []StandingDTO{
			{UserID: "u1", Position: 1},
			{UserID: "u2", Position: 2},
			{UserID: "u3", Position: 3},
		},
	}

	page := paginate(dto, shared.NewPagination(2, 2))
	require.Len(t, page.Standings, 1)
	assert.Equal(t, "u3", page.Standings[0].UserID)
	assert.Equal(t, "ch-1", page.ChallengeID)

	beyond := paginate(dto, shared.NewPagination(5, 2))
	assert.Empty(t, beyond.Standings)
	assert.Equal(t, "ch-1", beyond.ChallengeID)
}
