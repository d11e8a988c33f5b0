package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/habitforge/progression-hub/internal/domain/challenge"
	"github.com/habitforge/progression-hub/internal/domain/progression"
	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/pkg/logger"
	"github.com/habitforge/progression-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// FINALIZE CHALLENGE COMMAND
// The read-then-finalize barrier: ranks depend on the completion order of all
// participants, so they are computed in one idempotent pass at or after the
// challenge's end date, never streamed per participant.
// ══════════════════════════════════════════════════════════════════════════════

// FinalizeChallengeCommand asks to finalize a challenge's ranks.
type FinalizeChallengeCommand struct {
	ChallengeID   shared.ChallengeID
	Timestamp     time.Time
	CorrelationID string
}

// Validate validates the command.
func (c FinalizeChallengeCommand) Validate() error {
	if !c.ChallengeID.IsValid() {
		return shared.NewDomainError("command", "FinalizeChallenge", shared.ErrInvalidID, "invalid challenge id")
	}
	return nil
}

// FinalizeChallengeResult is the outcome of a finalization pass.
type FinalizeChallengeResult struct {
	ChallengeID  shared.ChallengeID
	Participants int
	Bonuses      []challenge.RankBonus
	FinalizedAt  time.Time
}

// FinalizeChallengeHandler handles the FinalizeChallengeCommand.
type FinalizeChallengeHandler struct {
	challenges    challenge.Repository
	participation challenge.ParticipationRepository
	records       progression.Repository
	uow           UnitOfWork
	publisher     shared.EventPublisher
	log           *logger.Logger
	curve         progression.CurveParams
	retrier       *retry.Retrier
}

// NewFinalizeChallengeHandler creates a new FinalizeChallengeHandler.
func NewFinalizeChallengeHandler(
	challenges challenge.Repository,
	participation challenge.ParticipationRepository,
	records progression.Repository,
	uow UnitOfWork,
	publisher shared.EventPublisher,
	log *logger.Logger,
	curve progression.CurveParams,
) *FinalizeChallengeHandler {
	return &FinalizeChallengeHandler{
		challenges:    challenges,
		participation: participation,
		records:       records,
		uow:           uow,
		publisher:     publisher,
		log:           log,
		curve:         curve,
		retrier:       retry.OptimisticLockRetrier(),
	}
}

// Handle runs the finalization pass. Ranks are assigned once and the bonus XP
// for ranks 1-3 of community challenges is credited to each participant's
// progression record.
func (h *FinalizeChallengeHandler) Handle(ctx context.Context, cmd FinalizeChallengeCommand) (*FinalizeChallengeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := cmd.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result *FinalizeChallengeResult
	err := h.uow.WithinTx(ctx, func(ctx context.Context) error {
		c, err := h.challenges.GetByID(ctx, cmd.ChallengeID)
		if err != nil {
			return err
		}
		participations, err := h.participation.ListByChallenge(ctx, cmd.ChallengeID)
		if err != nil {
			return fmt.Errorf("finalize_challenge: load participations: %w", err)
		}

		bonuses, err := challenge.FinalizeRanks(c, participations, now)
		if err != nil {
			return err
		}

		if err := h.participation.UpdateAll(ctx, participations); err != nil {
			return fmt.Errorf("finalize_challenge: save participations: %w", err)
		}
		if err := h.challenges.Update(ctx, c); err != nil {
			return fmt.Errorf("finalize_challenge: save challenge: %w", err)
		}

		for _, bonus := range bonuses {
			if bonus.BonusXP <= 0 {
				continue
			}
			if err := h.creditBonus(ctx, bonus.UserID, bonus.BonusXP, now); err != nil {
				return fmt.Errorf("finalize_challenge: credit bonus for %s: %w", bonus.UserID, err)
			}
		}

		result = &FinalizeChallengeResult{
			ChallengeID:  cmd.ChallengeID,
			Participants: len(participations),
			Bonuses:      bonuses,
			FinalizedAt:  now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if h.publisher != nil {
		byUser := make(map[string]int, len(result.Bonuses))
		for _, b := range result.Bonuses {
			byUser[b.UserID.String()] = b.BonusXP
		}
		_ = h.publisher.Publish(shared.NewRanksFinalizedEvent(cmd.ChallengeID.String(), result.Participants, byUser))
	}
	h.log.Info("challenge ranks finalized",
		logger.ChallengeID(cmd.ChallengeID.String()),
		logger.Int("participants", result.Participants),
		logger.Int("bonuses", len(result.Bonuses)))
	return result, nil
}

// creditBonus adds rank bonus XP to a user's record, retrying on concurrent
// record updates from live event traffic.
func (h *FinalizeChallengeHandler) creditBonus(ctx context.Context, userID shared.UserID, bonusXP int, now time.Time) error {
	return h.retrier.Do(ctx, func(ctx context.Context) error {
		record, err := h.records.GetOrCreate(ctx, userID, now)
		if err != nil {
			return retry.Permanent(err)
		}
		if err := record.AddXP(bonusXP, now); err != nil {
			return retry.Permanent(err)
		}
		record.RecalculateLevel(h.curve)
		if err := h.records.Update(ctx, record); err != nil {
			if errors.Is(err, shared.ErrOptimisticLock) {
				return retry.Retryable(err)
			}
			return retry.Permanent(err)
		}
		return nil
	})
}
