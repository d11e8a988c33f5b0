package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitforge/progression-hub/internal/domain/challenge"
	"github.com/habitforge/progression-hub/internal/domain/progression"
	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/pkg/logger"
	"github.com/habitforge/progression-hub/pkg/timeutil"
)

func newFinalizeHandler(records *memRecords, challenges *memChallenges, participations *memParticipations, published *capturedEvents) *FinalizeChallengeHandler {
	return NewFinalizeChallengeHandler(
		challenges,
		participations,
		records,
		noopUoW{},
		published,
		logger.New(logger.Options{Level: logger.LevelFatal}),
		progression.DefaultCurve(),
	)
}

func TestFinalizeChallenge_AwardedTotals(t *testing.T) {
	ctx := context.Background()
	records := newMemRecords()
	challenges := newMemChallenges()
	participations := &memParticipations{challenges: challenges}
	published := &capturedEvents{}
	handler := newFinalizeHandler(records, challenges, participations, published)

	start := timeutil.Date(2026, 3, 1)
	c, err := challenge.NewChallenge("spring-sprint", challenge.TypeCommunity, "Spring Sprint",
		[]challenge.Requirement{challenge.CompletionCount(20)}, 14, 100, start)
	require.NoError(t, err)
	require.NoError(t, challenges.Create(ctx, c))

	users := []shared.UserID{
		"11111111-1111-4111-8111-111111111111",
		"22222222-2222-4222-8222-222222222222",
		"33333333-3333-4333-8333-333333333333",
		"44444444-4444-4444-8444-444444444444",
	}

	// Each participant completed during the challenge and was paid the 100 XP
	// reward at completion time.
	for i, u := range users {
		p := challenge.NewParticipation(u, c, start)
		_, err := p.MarkCompleted(start.AddDate(0, 0, 2).Add(time.Duration(i) * time.Hour))
		require.NoError(t, err)
		require.NoError(t, participations.Create(ctx, p))

		record, err := records.GetOrCreate(ctx, u, start)
		require.NoError(t, err)
		require.NoError(t, record.AddXP(100, start))
		require.NoError(t, records.Update(ctx, record))
	}

	result, err := handler.Handle(ctx, FinalizeChallengeCommand{
		ChallengeID: "spring-sprint",
		Timestamp:   c.EndDate.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, result.Bonuses, 4)

	// Awarded totals per rank: 150, 130, 120, 100.
	wantTotals := []int{150, 130, 120, 100}
	for i, u := range users {
		record, err := records.GetByUserID(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, shared.XP(wantTotals[i]), record.TotalXP, "rank %d total", i+1)
	}
}

func TestFinalizeChallenge_SecondPassRejected(t *testing.T) {
	ctx := context.Background()
	records := newMemRecords()
	challenges := newMemChallenges()
	participations := &memParticipations{challenges: challenges}
	handler := newFinalizeHandler(records, challenges, participations, &capturedEvents{})

	start := timeutil.Date(2026, 3, 1)
	c, err := challenge.NewChallenge("solo", challenge.TypeCommunity, "Solo",
		[]challenge.Requirement{challenge.StreakLength(3)}, 7, 50, start)
	require.NoError(t, err)
	require.NoError(t, challenges.Create(ctx, c))

	p := challenge.NewParticipation(testUserID, c, start)
	_, err = p.MarkCompleted(start.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.NoError(t, participations.Create(ctx, p))

	after := c.EndDate.Add(time.Hour)
	_, err = handler.Handle(ctx, FinalizeChallengeCommand{ChallengeID: "solo", Timestamp: after})
	require.NoError(t, err)

	_, err = handler.Handle(ctx, FinalizeChallengeCommand{ChallengeID: "solo", Timestamp: after.Add(time.Hour)})
	assert.ErrorIs(t, err, shared.ErrRanksAlreadyFinal)
}

func TestFinalizeChallenge_BeforeEndDate(t *testing.T) {
	ctx := context.Background()
	records := newMemRecords()
	challenges := newMemChallenges()
	participations := &memParticipations{challenges: challenges}
	handler := newFinalizeHandler(records, challenges, participations, &capturedEvents{})

	start := timeutil.Date(2026, 3, 1)
	c, err := challenge.NewChallenge("early", challenge.TypeCommunity, "Early",
		[]challenge.Requirement{challenge.StreakLength(3)}, 7, 50, start)
	require.NoError(t, err)
	require.NoError(t, challenges.Create(ctx, c))

	_, err = handler.Handle(ctx, FinalizeChallengeCommand{ChallengeID: "early", Timestamp: start.AddDate(0, 0, 3)})
	assert.ErrorIs(t, err, shared.ErrChallengeStillRunning)
}
