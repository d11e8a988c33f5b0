// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/habitforge/progression-hub/internal/domain/achievement"
	"github.com/habitforge/progression-hub/internal/domain/challenge"
	"github.com/habitforge/progression-hub/internal/domain/progression"
	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY EVENT COMMAND
// The progression aggregator: the single write path for a user's progression
// record. Routes inbound habit events to the token ledger, challenge manager,
// and achievement evaluator in a fixed order and emits one consolidated
// progression result.
// ══════════════════════════════════════════════════════════════════════════════

// InboundEventType defines the type of inbound domain event.
type InboundEventType string

const (
	// InboundHabitCompleted - the user completed a habit for a day.
	InboundHabitCompleted InboundEventType = "habit_completed"

	// InboundHabitMissed - the user missed one or more days of a habit.
	InboundHabitMissed InboundEventType = "habit_missed"

	// InboundChallengeProgress - the user's progress in a challenge changed.
	InboundChallengeProgress InboundEventType = "challenge_progress_updated"

	// InboundForgivenessRequested - the user wants to spend a forgiveness
	// token on a missed day.
	InboundForgivenessRequested InboundEventType = "forgiveness_requested"
)

// ApplyEventCommand carries one inbound domain event.
type ApplyEventCommand struct {
	// EventID is the caller-supplied idempotency key. Each id is applied at
	// most once per user.
	EventID shared.EventID

	// UserID is the affected user.
	UserID shared.UserID

	// Type is the inbound event type.
	Type InboundEventType

	// HabitID is the habit the event concerns (habit and forgiveness events).
	HabitID shared.HabitID

	// Date is the habit day the event concerns.
	Date time.Time

	// Stats is the habit/streak statistics snapshot after the event,
	// computed by the habit subsystem.
	Stats shared.HabitStats

	// ChallengeID and NewProgress apply to challenge progress events.
	ChallengeID shared.ChallengeID
	NewProgress int

	// DaysMissed applies to habit missed events.
	DaysMissed int

	// Timestamp is when the event occurred (defaults to now if zero).
	Timestamp time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c ApplyEventCommand) Validate() error {
	if !c.EventID.IsValid() {
		return shared.NewDomainError("command", "ApplyEvent", shared.ErrInvalidID, "event id is required")
	}
	if !c.UserID.IsValid() {
		return shared.NewDomainError("command", "ApplyEvent", shared.ErrInvalidID, "invalid user id")
	}
	if !c.Stats.IsValid() {
		return shared.NewDomainError("command", "ApplyEvent", shared.ErrInvalidInput, "invalid stats snapshot")
	}

	switch c.Type {
	case InboundHabitCompleted:
		if !c.HabitID.IsValid() {
			return shared.NewDomainError("command", "ApplyEvent", shared.ErrInvalidID, "habit id is required")
		}
	case InboundHabitMissed:
		if !c.HabitID.IsValid() {
			return shared.NewDomainError("command", "ApplyEvent", shared.ErrInvalidID, "habit id is required")
		}
		if c.DaysMissed < 1 {
			return shared.NewDomainError("command", "ApplyEvent", shared.ErrValueOutOfRange, "daysMissed must be at least 1")
		}
	case InboundChallengeProgress:
		if !c.ChallengeID.IsValid() {
			return shared.NewDomainError("command", "ApplyEvent", shared.ErrInvalidID, "challenge id is required")
		}
	case InboundForgivenessRequested:
		if !c.HabitID.IsValid() {
			return shared.NewDomainError("command", "ApplyEvent", shared.ErrInvalidID, "habit id is required")
		}
		if c.Date.IsZero() {
			return shared.NewDomainError("command", "ApplyEvent", shared.ErrEmptyValue, "missed date is required")
		}
	default:
		return shared.NewDomainError("command", "ApplyEvent", shared.ErrInvalidInput,
			fmt.Sprintf("unknown event type %q", c.Type))
	}
	return nil
}

// ProgressionResult is the consolidated outcome of applying one event.
type ProgressionResult struct {
	// UserID and EventID echo the command.
	UserID  shared.UserID
	EventID shared.EventID

	// NewTotalXP is the record's XP total after the event.
	NewTotalXP int

	// NewLevel is the record's level after the event.
	NewLevel int

	// LevelsGained is how many levels the event crossed. Zero if no level-up.
	LevelsGained int

	// Rewards holds one display reward string per level gained.
	Rewards []string

	// UnlockedAchievements are the achievements newly unlocked by this event,
	// in stable id order.
	UnlockedAchievements []achievement.Achievement

	// XPDelta is the total XP added by this event.
	XPDelta int

	// TokenDelta is the forgiveness token change (-1 on a successful grant).
	TokenDelta int

	// TokensRemaining is the forgiveness token balance after the event.
	TokensRemaining int

	// Grant is the forgiveness grant, set for forgiveness events.
	Grant *progression.ForgivenessGrant

	// RecoveryChallenge is the auto-generated recovery challenge, set for
	// missed-day events.
	RecoveryChallenge *challenge.Challenge

	// LevelInfo is the full level snapshot after the event.
	LevelInfo progression.LevelInfo

	// AppliedAt is when the event was applied.
	AppliedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// IdempotencyCache is the fast-path duplicate check in front of the
// authoritative processed-events store. Cache failures are tolerated; the
// store remains the source of truth.
type IdempotencyCache interface {
	// Seen reports whether the event id was already observed for the user.
	Seen(ctx context.Context, userID shared.UserID, eventID shared.EventID) (bool, error)

	// Mark records the event id for the user with a TTL.
	Mark(ctx context.Context, userID shared.UserID, eventID shared.EventID) error
}

// UnitOfWork runs a function within one storage transaction. Repository calls
// made with the inner context join the transaction.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ApplyEventConfig holds the aggregator tunables.
type ApplyEventConfig struct {
	// Curve is the XP level curve.
	Curve progression.CurveParams

	// BaseHabitXP is the XP value of one habit completion.
	BaseHabitXP int
}

// DefaultApplyEventConfig returns default aggregator tunables.
func DefaultApplyEventConfig() ApplyEventConfig {
	return ApplyEventConfig{
		Curve:       progression.DefaultCurve(),
		BaseHabitXP: 10,
	}
}

// ApplyEventHandler handles the ApplyEventCommand.
type ApplyEventHandler struct {
	records       progression.Repository
	grants        progression.GrantRepository
	processed     progression.ProcessedEventRepository
	challenges    challenge.Repository
	participation challenge.ParticipationRepository
	evaluator     *achievement.Evaluator
	manager       *challenge.Manager
	ledger        *progression.TokenLedger
	cache         IdempotencyCache
	uow           UnitOfWork
	publisher     shared.EventPublisher
	log           *logger.Logger
	cfg           ApplyEventConfig

	// Per-user locks enforce the single-writer-per-user discipline within
	// this process. Cross-user events run fully in parallel. Across
	// processes the record's optimistic version is the guard.
	mu    sync.Mutex
	locks map[shared.UserID]*sync.Mutex
}

// NewApplyEventHandler creates a new ApplyEventHandler.
func NewApplyEventHandler(
	records progression.Repository,
	grants progression.GrantRepository,
	processed progression.ProcessedEventRepository,
	challenges challenge.Repository,
	participation challenge.ParticipationRepository,
	evaluator *achievement.Evaluator,
	manager *challenge.Manager,
	ledger *progression.TokenLedger,
	cache IdempotencyCache,
	uow UnitOfWork,
	publisher shared.EventPublisher,
	log *logger.Logger,
	cfg ApplyEventConfig,
) *ApplyEventHandler {
	if cfg.BaseHabitXP == 0 {
		cfg = DefaultApplyEventConfig()
	}
	return &ApplyEventHandler{
		records:       records,
		grants:        grants,
		processed:     processed,
		challenges:    challenges,
		participation: participation,
		evaluator:     evaluator,
		manager:       manager,
		ledger:        ledger,
		cache:         cache,
		uow:           uow,
		publisher:     publisher,
		log:           log,
		cfg:           cfg,
	}
}

// userLock returns the mutex for a user, creating it on first use.
func (h *ApplyEventHandler) userLock(userID shared.UserID) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.locks == nil {
		h.locks = make(map[shared.UserID]*sync.Mutex)
	}
	lock, ok := h.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		h.locks[userID] = lock
	}
	return lock
}

// Handle applies one inbound event to the user's progression record.
//
// Sub-step order is fixed: route the event, run the achievement evaluator
// against the updated statistics, sum the XP deltas, add them to the record,
// recompute the level. The whole application is all-or-nothing: it works on a
// clone of the record inside one transaction, and any validation failure
// leaves the stored record unchanged.
func (h *ApplyEventHandler) Handle(ctx context.Context, cmd ApplyEventCommand) (*ProgressionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := cmd.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	now = now.UTC()

	lock := h.userLock(cmd.UserID)
	lock.Lock()
	defer lock.Unlock()

	// Cache fast path. A cache miss or error falls through to the
	// authoritative store.
	if h.cache != nil {
		seen, err := h.cache.Seen(ctx, cmd.UserID, cmd.EventID)
		if err != nil {
			h.log.Warn("idempotency cache check failed",
				logger.UserID(cmd.UserID.String()), logger.EventIDField(cmd.EventID.String()), logger.Err(err))
		} else if seen {
			return nil, shared.ErrDuplicateEvent
		}
	}

	already, err := h.processed.IsProcessed(ctx, cmd.UserID, cmd.EventID)
	if err != nil {
		return nil, fmt.Errorf("apply_event: idempotency check: %w", err)
	}
	if already {
		return nil, shared.ErrDuplicateEvent
	}

	var result *ProgressionResult
	err = h.uow.WithinTx(ctx, func(ctx context.Context) error {
		record, err := h.records.GetOrCreate(ctx, cmd.UserID, now)
		if err != nil {
			return fmt.Errorf("apply_event: load record: %w", err)
		}

		// Work on a clone; commit only on full success.
		working := record.Clone()
		result, err = h.apply(ctx, working, cmd, now)
		if err != nil {
			return err
		}

		// Marking the event processed inside the same transaction makes the
		// at-most-once guarantee atomic with the record write.
		if err := h.processed.MarkProcessed(ctx, cmd.UserID, cmd.EventID, now); err != nil {
			return err
		}
		if err := h.records.Update(ctx, working); err != nil {
			return fmt.Errorf("apply_event: commit record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.Mark(ctx, cmd.UserID, cmd.EventID); err != nil {
			h.log.Warn("idempotency cache mark failed",
				logger.UserID(cmd.UserID.String()), logger.Err(err))
		}
	}

	h.publishOutcome(cmd, result)
	return result, nil
}

// apply runs the fixed sub-step order against the working clone. Everything
// it persists besides the record itself (grants, participations, recovery
// challenges) shares the surrounding transaction.
func (h *ApplyEventHandler) apply(ctx context.Context, working *progression.Record, cmd ApplyEventCommand, now time.Time) (*ProgressionResult, error) {
	result := &ProgressionResult{
		UserID:    cmd.UserID,
		EventID:   cmd.EventID,
		AppliedAt: now,
	}

	xpDelta := 0

	// Step 1: route the event to its sub-component.
	switch cmd.Type {
	case InboundHabitCompleted:
		// The habit completion itself is worth the base XP. Forgiven days
		// never reach this path, so they never earn it.
		xpDelta += h.cfg.BaseHabitXP

	case InboundHabitMissed:
		c, p, err := h.generateRecovery(ctx, cmd, now)
		if err != nil {
			return nil, err
		}
		if c != nil {
			result.RecoveryChallenge = c
			if err := h.challenges.Create(ctx, c); err != nil {
				return nil, fmt.Errorf("apply_event: save recovery challenge: %w", err)
			}
			if err := h.participation.Create(ctx, p); err != nil {
				return nil, fmt.Errorf("apply_event: save recovery participation: %w", err)
			}
		}

	case InboundChallengeProgress:
		awarded, err := h.applyChallengeProgress(ctx, cmd, now)
		if err != nil {
			return nil, err
		}
		xpDelta += awarded

	case InboundForgivenessRequested:
		grant, err := h.applyForgiveness(ctx, working, cmd, now)
		if err != nil {
			return nil, err
		}
		result.Grant = grant
		result.TokenDelta = -1
	}
	result.TokensRemaining = working.ForgivenessTokens

	// Step 2+3: evaluate achievements against the updated statistics.
	unlocked, err := h.evaluator.Evaluate(working, cmd.Stats, now)
	if err != nil {
		return nil, err
	}
	result.UnlockedAchievements = unlocked
	xpDelta += achievement.XPDelta(unlocked)

	// Step 4+5: add the summed delta to the record.
	result.XPDelta = xpDelta
	if xpDelta > 0 {
		if err := working.AddXP(xpDelta, now); err != nil {
			return nil, err
		}
	}

	// Step 6: recompute the level and detect level-up.
	oldLevel, newLevel := working.RecalculateLevel(h.cfg.Curve)
	result.NewTotalXP = working.TotalXP.Int()
	result.NewLevel = newLevel
	result.LevelInfo = working.LevelSnapshot(h.cfg.Curve)
	if newLevel > oldLevel {
		result.LevelsGained = newLevel - oldLevel
		result.Rewards = make([]string, 0, result.LevelsGained)
		for level := oldLevel + 1; level <= newLevel; level++ {
			result.Rewards = append(result.Rewards, progression.RewardForLevel(level))
		}
	}

	return result, nil
}

// generateRecovery creates a recovery challenge for a missed-day event,
// unless one is already active for the habit. An already-active recovery is
// not an error at the aggregator level: the miss is simply absorbed by the
// running recovery.
func (h *ApplyEventHandler) generateRecovery(ctx context.Context, cmd ApplyEventCommand, now time.Time) (*challenge.Challenge, *challenge.Participation, error) {
	active, err := h.participation.HasActiveRecovery(ctx, cmd.UserID, cmd.HabitID)
	if err != nil {
		return nil, nil, fmt.Errorf("apply_event: recovery lookup: %w", err)
	}
	if active {
		return nil, nil, nil
	}
	return h.manager.GenerateRecovery(cmd.UserID, cmd.HabitID, cmd.DaysMissed, false, now)
}

// applyChallengeProgress routes a progress update through the challenge
// manager and persists the participation.
func (h *ApplyEventHandler) applyChallengeProgress(ctx context.Context, cmd ApplyEventCommand, now time.Time) (int, error) {
	c, err := h.challenges.GetByID(ctx, cmd.ChallengeID)
	if err != nil {
		return 0, err
	}
	p, err := h.participation.Get(ctx, cmd.UserID, cmd.ChallengeID)
	if err != nil {
		return 0, err
	}

	outcome, err := h.manager.UpdateProgress(c, p, cmd.NewProgress, cmd.Stats, now)
	if err != nil {
		return 0, err
	}
	if err := h.participation.Update(ctx, p); err != nil {
		return 0, fmt.Errorf("apply_event: save participation: %w", err)
	}
	return outcome.XPAwarded, nil
}

// applyForgiveness spends a token on the working record and persists the
// grant.
func (h *ApplyEventHandler) applyForgiveness(ctx context.Context, working *progression.Record, cmd ApplyEventCommand, now time.Time) (*progression.ForgivenessGrant, error) {
	existing, err := h.grants.ListByUser(ctx, cmd.UserID, now.Add(-progression.ForgivenessWindow*2))
	if err != nil {
		return nil, fmt.Errorf("apply_event: load grants: %w", err)
	}

	grant, err := h.ledger.UseToken(working, cmd.HabitID, cmd.Date, now, existing)
	if err != nil {
		return nil, err
	}
	// The store's unique index on (user, habit, date) backs up the in-memory
	// duplicate check.
	if err := h.grants.Save(ctx, grant); err != nil {
		return nil, err
	}
	return grant, nil
}

// publishOutcome emits outbound events for subscribers. Publishing is
// best-effort; the record is already committed.
func (h *ApplyEventHandler) publishOutcome(cmd ApplyEventCommand, result *ProgressionResult) {
	if h.publisher == nil {
		return
	}

	if result.XPDelta > 0 {
		_ = h.publisher.Publish(shared.NewXPGainedEvent(
			cmd.UserID.String(), result.XPDelta, result.NewTotalXP, string(cmd.Type), cmd.HabitID.String()))
	}
	if result.LevelsGained > 0 {
		_ = h.publisher.Publish(shared.NewLevelUpEvent(
			cmd.UserID.String(), result.NewLevel-result.LevelsGained, result.NewLevel,
			result.Rewards, result.LevelInfo.IsMilestone))
	}
	for _, a := range result.UnlockedAchievements {
		_ = h.publisher.Publish(shared.NewAchievementUnlockedEvent(
			cmd.UserID.String(), a.ID.String(), a.Rarity.String(), a.XPReward))
	}
	if result.Grant != nil {
		_ = h.publisher.Publish(shared.NewTokenConsumedEvent(
			cmd.UserID.String(), cmd.HabitID.String(), result.Grant.ForgivenDate, result.TokensRemaining))
	}
	if result.RecoveryChallenge != nil {
		c := result.RecoveryChallenge
		_ = h.publisher.Publish(shared.NewRecoveryCreatedEvent(
			cmd.UserID.String(), cmd.HabitID.String(), c.ID.String(), c.DaysMissed, c.DurationDays, c.RewardXP))
	}
}
