package command

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitforge/progression-hub/internal/domain/achievement"
	"github.com/habitforge/progression-hub/internal/domain/challenge"
	"github.com/habitforge/progression-hub/internal/domain/progression"
	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/pkg/logger"
	"github.com/habitforge/progression-hub/pkg/timeutil"
)

const testUserID = "5f8a1c2e-3b4d-4e5f-8a9b-0c1d2e3f4a5b"

// ══════════════════════════════════════════════════════════════════════════════
// In-memory fakes
// ══════════════════════════════════════════════════════════════════════════════

type memRecords struct {
	byUser map[shared.UserID]*progression.Record
}

func newMemRecords() *memRecords {
	return &memRecords{byUser: make(map[shared.UserID]*progression.Record)}
}

func (m *memRecords) Create(_ context.Context, r *progression.Record) error {
	if _, ok := m.byUser[r.UserID]; ok {
		return shared.ErrAlreadyExists
	}
	m.byUser[r.UserID] = r.Clone()
	return nil
}

func (m *memRecords) GetByUserID(_ context.Context, userID shared.UserID) (*progression.Record, error) {
	r, ok := m.byUser[userID]
	if !ok {
		return nil, shared.ErrRecordNotFound
	}
	return r.Clone(), nil
}

func (m *memRecords) GetOrCreate(ctx context.Context, userID shared.UserID, now time.Time) (*progression.Record, error) {
	if r, ok := m.byUser[userID]; ok {
		return r.Clone(), nil
	}
	r, err := progression.NewRecord(userID, now)
	if err != nil {
		return nil, err
	}
	m.byUser[userID] = r
	return r.Clone(), nil
}

func (m *memRecords) Update(_ context.Context, r *progression.Record) error {
	stored, ok := m.byUser[r.UserID]
	if !ok {
		return shared.ErrRecordNotFound
	}
	if stored.Version != r.Version {
		return shared.ErrOptimisticLock
	}
	updated := r.Clone()
	updated.Version++
	m.byUser[r.UserID] = updated
	return nil
}

func (m *memRecords) Count(_ context.Context) (int, error) { return len(m.byUser), nil }

type memGrants struct {
	grants []*progression.ForgivenessGrant
}

func (m *memGrants) Save(_ context.Context, g *progression.ForgivenessGrant) error {
	for _, e := range m.grants {
		if e.UserID == g.UserID && e.HabitID == g.HabitID && timeutil.IsSameDay(e.ForgivenDate, g.ForgivenDate) {
			return shared.ErrDuplicateGrant
		}
	}
	m.grants = append(m.grants, g)
	return nil
}

func (m *memGrants) ListByUser(_ context.Context, userID shared.UserID, since time.Time) ([]*progression.ForgivenessGrant, error) {
	var out []*progression.ForgivenessGrant
	for _, g := range m.grants {
		if g.UserID == userID && !g.CreatedAt.Before(since) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memGrants) Exists(_ context.Context, userID shared.UserID, habitID shared.HabitID, date time.Time) (bool, error) {
	for _, g := range m.grants {
		if g.UserID == userID && g.HabitID == habitID && timeutil.IsSameDay(g.ForgivenDate, date) {
			return true, nil
		}
	}
	return false, nil
}

type memProcessed struct {
	seen map[string]bool
}

func newMemProcessed() *memProcessed { return &memProcessed{seen: make(map[string]bool)} }

func key(userID shared.UserID, eventID shared.EventID) string {
	return userID.String() + "/" + eventID.String()
}

func (m *memProcessed) MarkProcessed(_ context.Context, userID shared.UserID, eventID shared.EventID, _ time.Time) error {
	k := key(userID, eventID)
	if m.seen[k] {
		return shared.ErrDuplicateEvent
	}
	m.seen[k] = true
	return nil
}

func (m *memProcessed) IsProcessed(_ context.Context, userID shared.UserID, eventID shared.EventID) (bool, error) {
	return m.seen[key(userID, eventID)], nil
}

func (m *memProcessed) PurgeOlderThan(_ context.Context, _ time.Time) (int, error) { return 0, nil }

type memChallenges struct {
	byID map[shared.ChallengeID]*challenge.Challenge
}

func newMemChallenges() *memChallenges {
	return &memChallenges{byID: make(map[shared.ChallengeID]*challenge.Challenge)}
}

func (m *memChallenges) Create(_ context.Context, c *challenge.Challenge) error {
	if _, ok := m.byID[c.ID]; ok {
		return shared.ErrAlreadyExists
	}
	m.byID[c.ID] = c
	return nil
}

func (m *memChallenges) GetByID(_ context.Context, id shared.ChallengeID) (*challenge.Challenge, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, shared.ErrChallengeNotFound
	}
	return c, nil
}

func (m *memChallenges) Update(_ context.Context, c *challenge.Challenge) error {
	m.byID[c.ID] = c
	return nil
}

func (m *memChallenges) ListActive(_ context.Context, _ time.Time, _ shared.Pagination) ([]*challenge.Challenge, error) {
	return nil, nil
}

func (m *memChallenges) ListEndedUnfinalized(_ context.Context, _ time.Time, _ int) ([]*challenge.Challenge, error) {
	return nil, nil
}

func (m *memChallenges) ListExpiredRecoveries(_ context.Context, _ time.Time, _ int) ([]*challenge.Challenge, error) {
	return nil, nil
}

type memParticipations struct {
	items      []*challenge.Participation
	challenges *memChallenges
}

func (m *memParticipations) Create(_ context.Context, p *challenge.Participation) error {
	m.items = append(m.items, p)
	return nil
}

func (m *memParticipations) Get(_ context.Context, userID shared.UserID, challengeID shared.ChallengeID) (*challenge.Participation, error) {
	for _, p := range m.items {
		if p.UserID == userID && p.ChallengeID == challengeID {
			return p, nil
		}
	}
	return nil, shared.ErrParticipationNotFound
}

func (m *memParticipations) Update(_ context.Context, _ *challenge.Participation) error { return nil }

func (m *memParticipations) UpdateAll(_ context.Context, _ []*challenge.Participation) error {
	return nil
}

func (m *memParticipations) ListByChallenge(_ context.Context, challengeID shared.ChallengeID) ([]*challenge.Participation, error) {
	var out []*challenge.Participation
	for _, p := range m.items {
		if p.ChallengeID == challengeID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memParticipations) ListActiveByUser(_ context.Context, userID shared.UserID) ([]*challenge.Participation, error) {
	var out []*challenge.Participation
	for _, p := range m.items {
		if p.UserID == userID && p.IsActive() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memParticipations) CountByChallenge(_ context.Context, challengeID shared.ChallengeID) (int, error) {
	n := 0
	for _, p := range m.items {
		if p.ChallengeID == challengeID {
			n++
		}
	}
	return n, nil
}

func (m *memParticipations) HasActiveRecovery(_ context.Context, userID shared.UserID, habitID shared.HabitID) (bool, error) {
	for _, p := range m.items {
		if p.UserID != userID || !p.IsActive() {
			continue
		}
		if c, ok := m.challenges.byID[p.ChallengeID]; ok && c.RecoveryFor == habitID {
			return true, nil
		}
	}
	return false, nil
}

type noopUoW struct{}

func (noopUoW) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type capturedEvents struct {
	events []shared.Event
}

func (c *capturedEvents) Publish(e shared.Event) error {
	c.events = append(c.events, e)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// Fixture
// ══════════════════════════════════════════════════════════════════════════════

type fixture struct {
	handler        *ApplyEventHandler
	records        *memRecords
	grants         *memGrants
	challenges     *memChallenges
	participations *memParticipations
	published      *capturedEvents
}

func newFixture(t *testing.T, catalog *achievement.Catalog) *fixture {
	t.Helper()
	records := newMemRecords()
	grants := &memGrants{}
	challenges := newMemChallenges()
	participations := &memParticipations{challenges: challenges}
	published := &capturedEvents{}

	handler := NewApplyEventHandler(
		records,
		grants,
		newMemProcessed(),
		challenges,
		participations,
		achievement.NewEvaluator(catalog),
		challenge.NewManager(challenge.DefaultRecoveryConfig()),
		progression.NewTokenLedger(),
		nil, // no cache in tests; the store is authoritative
		noopUoW{},
		published,
		logger.New(logger.Options{Level: logger.LevelFatal}),
		DefaultApplyEventConfig(),
	)
	return &fixture{
		handler:        handler,
		records:        records,
		grants:         grants,
		challenges:     challenges,
		participations: participations,
		published:      published,
	}
}

func emptyCatalog(t *testing.T) *achievement.Catalog {
	t.Helper()
	catalog, err := achievement.NewCatalog("test", nil)
	require.NoError(t, err)
	return catalog
}

// ══════════════════════════════════════════════════════════════════════════════
// Tests
// ══════════════════════════════════════════════════════════════════════════════

func TestApplyEvent_HabitCompletions_AccumulateXP(t *testing.T) {
	f := newFixture(t, emptyCatalog(t))
	ctx := context.Background()
	now := timeutil.DateTime(2026, 3, 10, 9, 0, 0)

	for i := 0; i < 5; i++ {
		result, err := f.handler.Handle(ctx, ApplyEventCommand{
			EventID:   shared.EventID(fmt.Sprintf("evt-%d", i)),
			UserID:    testUserID,
			Type:      InboundHabitCompleted,
			HabitID:   "morning-run",
			Date:      now,
			Stats:     shared.HabitStats{TotalCompletions: i + 1, CurrentStreak: i + 1},
			Timestamp: now,
		})
		require.NoError(t, err)
		assert.Equal(t, 10, result.XPDelta)
	}

	record, err := f.records.GetByUserID(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, shared.XP(50), record.TotalXP)
	assert.Equal(t, progression.LevelForTotalXP(50, progression.DefaultCurve()), record.CurrentLevel)
}

func TestApplyEvent_Replay_ReturnsDuplicateEvent(t *testing.T) {
	f := newFixture(t, emptyCatalog(t))
	ctx := context.Background()
	now := timeutil.Now()

	cmd := ApplyEventCommand{
		EventID:   "evt-1",
		UserID:    testUserID,
		Type:      InboundHabitCompleted,
		HabitID:   "morning-run",
		Date:      now,
		Stats:     shared.HabitStats{TotalCompletions: 1, CurrentStreak: 1},
		Timestamp: now,
	}

	first, err := f.handler.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, 10, first.NewTotalXP)

	_, err = f.handler.Handle(ctx, cmd)
	assert.ErrorIs(t, err, shared.ErrDuplicateEvent)

	record, err := f.records.GetByUserID(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, shared.XP(10), record.TotalXP, "replay must not double-award XP")
}

func TestApplyEvent_AchievementUnlocks_AddReward(t *testing.T) {
	catalog, err := achievement.NewCatalog("test", []achievement.Achievement{
		{ID: "first-steps", Title: "First Steps", Rarity: achievement.RarityCommon,
			Category: achievement.CategoryCompletion, Requirement: achievement.CompletionCount(1), XPReward: 25},
	})
	require.NoError(t, err)
	f := newFixture(t, catalog)
	ctx := context.Background()
	now := timeutil.Now()

	result, err := f.handler.Handle(ctx, ApplyEventCommand{
		EventID:   "evt-1",
		UserID:    testUserID,
		Type:      InboundHabitCompleted,
		HabitID:   "morning-run",
		Date:      now,
		Stats:     shared.HabitStats{TotalCompletions: 1, CurrentStreak: 1},
		Timestamp: now,
	})
	require.NoError(t, err)

	// 10 base + 25 achievement reward, summed in one delta.
	assert.Equal(t, 35, result.XPDelta)
	require.Len(t, result.UnlockedAchievements, 1)
	assert.Equal(t, shared.AchievementID("first-steps"), result.UnlockedAchievements[0].ID)

	record, err := f.records.GetByUserID(ctx, testUserID)
	require.NoError(t, err)
	assert.True(t, record.HasAchievement("first-steps"))

	// A later completion does not unlock it again.
	result, err = f.handler.Handle(ctx, ApplyEventCommand{
		EventID:   "evt-2",
		UserID:    testUserID,
		Type:      InboundHabitCompleted,
		HabitID:   "morning-run",
		Date:      now,
		Stats:     shared.HabitStats{TotalCompletions: 2, CurrentStreak: 2},
		Timestamp: now,
	})
	require.NoError(t, err)
	assert.Empty(t, result.UnlockedAchievements)
	assert.Equal(t, 10, result.XPDelta)
}

func TestApplyEvent_Forgiveness_Success(t *testing.T) {
	f := newFixture(t, emptyCatalog(t))
	ctx := context.Background()
	missed := timeutil.Date(2026, 3, 10)
	now := timeutil.DateTime(2026, 3, 10, 23, 0, 0) // within 23 hours

	result, err := f.handler.Handle(ctx, ApplyEventCommand{
		EventID:   "evt-forgive",
		UserID:    testUserID,
		Type:      InboundForgivenessRequested,
		HabitID:   "morning-run",
		Date:      missed,
		Stats:     shared.HabitStats{},
		Timestamp: now,
	})
	require.NoError(t, err)

	require.NotNil(t, result.Grant)
	assert.Equal(t, -1, result.TokenDelta)
	assert.Equal(t, progression.MaxForgivenessTokens-1, result.TokensRemaining)
	assert.Zero(t, result.XPDelta, "forgiven days never award XP")
	assert.Len(t, f.grants.grants, 1)

	record, err := f.records.GetByUserID(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, progression.MaxForgivenessTokens-1, record.ForgivenessTokens)
}

func TestApplyEvent_Forgiveness_WindowExpired_LeavesRecordUnchanged(t *testing.T) {
	f := newFixture(t, emptyCatalog(t))
	ctx := context.Background()
	missed := timeutil.Date(2026, 3, 10)
	now := timeutil.DateTime(2026, 3, 11, 1, 0, 0) // 25 hours after the missed day

	_, err := f.handler.Handle(ctx, ApplyEventCommand{
		EventID:   "evt-forgive",
		UserID:    testUserID,
		Type:      InboundForgivenessRequested,
		HabitID:   "morning-run",
		Date:      missed,
		Stats:     shared.HabitStats{},
		Timestamp: now,
	})
	assert.ErrorIs(t, err, shared.ErrWindowExpired)
	assert.Empty(t, f.grants.grants)

	record, err := f.records.GetByUserID(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, progression.MaxForgivenessTokens, record.ForgivenessTokens, "failed event must not partially apply")

	// The failed event id was not consumed: a corrected retry can reuse it.
	_, err = f.handler.Handle(ctx, ApplyEventCommand{
		EventID:   "evt-forgive",
		UserID:    testUserID,
		Type:      InboundForgivenessRequested,
		HabitID:   "morning-run",
		Date:      timeutil.Date(2026, 3, 11),
		Stats:     shared.HabitStats{},
		Timestamp: now,
	})
	assert.NoError(t, err)
}

func TestApplyEvent_Forgiveness_Duplicate(t *testing.T) {
	f := newFixture(t, emptyCatalog(t))
	ctx := context.Background()
	missed := timeutil.Date(2026, 3, 10)
	now := timeutil.DateTime(2026, 3, 10, 12, 0, 0)

	_, err := f.handler.Handle(ctx, ApplyEventCommand{
		EventID: "evt-1", UserID: testUserID, Type: InboundForgivenessRequested,
		HabitID: "morning-run", Date: missed, Timestamp: now,
	})
	require.NoError(t, err)

	_, err = f.handler.Handle(ctx, ApplyEventCommand{
		EventID: "evt-2", UserID: testUserID, Type: InboundForgivenessRequested,
		HabitID: "morning-run", Date: missed, Timestamp: now,
	})
	assert.ErrorIs(t, err, shared.ErrDuplicateGrant)

	record, err := f.records.GetByUserID(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, progression.MaxForgivenessTokens-1, record.ForgivenessTokens)
}

func TestApplyEvent_HabitMissed_GeneratesRecoveryOnce(t *testing.T) {
	f := newFixture(t, emptyCatalog(t))
	ctx := context.Background()
	now := timeutil.Now()

	result, err := f.handler.Handle(ctx, ApplyEventCommand{
		EventID:    "evt-miss-1",
		UserID:     testUserID,
		Type:       InboundHabitMissed,
		HabitID:    "morning-run",
		DaysMissed: 2,
		Stats:      shared.HabitStats{},
		Timestamp:  now,
	})
	require.NoError(t, err)
	require.NotNil(t, result.RecoveryChallenge)
	assert.True(t, result.RecoveryChallenge.IsRecovery())
	assert.Zero(t, result.XPDelta, "a miss awards nothing")
	assert.Len(t, f.participations.items, 1)

	// A second miss while the recovery is active is absorbed by it.
	result, err = f.handler.Handle(ctx, ApplyEventCommand{
		EventID:    "evt-miss-2",
		UserID:     testUserID,
		Type:       InboundHabitMissed,
		HabitID:    "morning-run",
		DaysMissed: 1,
		Stats:      shared.HabitStats{},
		Timestamp:  now,
	})
	require.NoError(t, err)
	assert.Nil(t, result.RecoveryChallenge)
	assert.Len(t, f.participations.items, 1)
}

func TestApplyEvent_ChallengeProgress_CompletesOnce(t *testing.T) {
	f := newFixture(t, emptyCatalog(t))
	ctx := context.Background()
	start := timeutil.Date(2026, 3, 1)
	now := start.AddDate(0, 0, 2)

	c, err := challenge.NewChallenge("spring-sprint", challenge.TypePersonal, "Spring Sprint",
		[]challenge.Requirement{challenge.CompletionCount(20)}, 14, 100, start)
	require.NoError(t, err)
	require.NoError(t, f.challenges.Create(ctx, c))
	p := challenge.NewParticipation(testUserID, c, now)
	require.NoError(t, f.participations.Create(ctx, p))

	result, err := f.handler.Handle(ctx, ApplyEventCommand{
		EventID:     "evt-prog-1",
		UserID:      testUserID,
		Type:        InboundChallengeProgress,
		ChallengeID: "spring-sprint",
		NewProgress: 100,
		Stats:       shared.HabitStats{TotalCompletions: 20},
		Timestamp:   now,
	})
	require.NoError(t, err)
	assert.Equal(t, 100, result.XPDelta)

	// A later progress event on the completed participation awards nothing.
	result, err = f.handler.Handle(ctx, ApplyEventCommand{
		EventID:     "evt-prog-2",
		UserID:      testUserID,
		Type:        InboundChallengeProgress,
		ChallengeID: "spring-sprint",
		NewProgress: 100,
		Stats:       shared.HabitStats{TotalCompletions: 25},
		Timestamp:   now.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Zero(t, result.XPDelta, "challenge completion is idempotent")

	record, err := f.records.GetByUserID(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, shared.XP(100), record.TotalXP)
}

func TestApplyEvent_LevelUp_RewardsPerLevel(t *testing.T) {
	f := newFixture(t, emptyCatalog(t))
	ctx := context.Background()
	now := timeutil.Now()

	// Seed enough XP that one more completion crosses several levels.
	record, err := f.records.GetOrCreate(ctx, testUserID, now)
	require.NoError(t, err)
	require.NoError(t, record.AddXP(990, now))
	record.RecalculateLevel(progression.DefaultCurve())
	require.NoError(t, f.records.Update(ctx, record))

	result, err := f.handler.Handle(ctx, ApplyEventCommand{
		EventID:   "evt-1",
		UserID:    testUserID,
		Type:      InboundHabitCompleted,
		HabitID:   "morning-run",
		Date:      now,
		Stats:     shared.HabitStats{TotalCompletions: 50, CurrentStreak: 3},
		Timestamp: now,
	})
	require.NoError(t, err)

	curve := progression.DefaultCurve()
	wantLevel := progression.LevelForTotalXP(1000, curve)
	assert.Equal(t, wantLevel, result.NewLevel)
	assert.Equal(t, result.LevelsGained, len(result.Rewards), "one reward string per level gained")
	if result.LevelsGained > 0 {
		assert.NotEmpty(t, result.Rewards[0])
	}
}

func TestApplyEvent_ValidationErrors(t *testing.T) {
	f := newFixture(t, emptyCatalog(t))
	ctx := context.Background()

	_, err := f.handler.Handle(ctx, ApplyEventCommand{
		EventID: "", UserID: testUserID, Type: InboundHabitCompleted, HabitID: "a",
	})
	assert.Error(t, err, "event id is required")

	_, err = f.handler.Handle(ctx, ApplyEventCommand{
		EventID: "evt-1", UserID: testUserID, Type: "bogus",
	})
	assert.Error(t, err, "unknown event type")

	_, err = f.handler.Handle(ctx, ApplyEventCommand{
		EventID: "evt-1", UserID: "nope", Type: InboundHabitCompleted, HabitID: "a",
	})
	assert.Error(t, err, "invalid user id")
}
