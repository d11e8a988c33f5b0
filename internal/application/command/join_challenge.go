package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/habitforge/progression-hub/internal/domain/challenge"
	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOIN CHALLENGE COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// JoinChallengeCommand asks to add a user to a challenge.
type JoinChallengeCommand struct {
	UserID        shared.UserID
	ChallengeID   shared.ChallengeID
	Timestamp     time.Time
	CorrelationID string
}

// Validate validates the command.
func (c JoinChallengeCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.NewDomainError("command", "JoinChallenge", shared.ErrInvalidID, "invalid user id")
	}
	if !c.ChallengeID.IsValid() {
		return shared.NewDomainError("command", "JoinChallenge", shared.ErrInvalidID, "invalid challenge id")
	}
	return nil
}

// JoinChallengeResult is the outcome of a join.
type JoinChallengeResult struct {
	Participation *challenge.Participation
	Challenge     *challenge.Challenge
	JoinedAt      time.Time
}

// JoinChallengeHandler handles the JoinChallengeCommand.
type JoinChallengeHandler struct {
	challenges    challenge.Repository
	participation challenge.ParticipationRepository
	manager       *challenge.Manager
	uow           UnitOfWork
	publisher     shared.EventPublisher
	log           *logger.Logger
}

// NewJoinChallengeHandler creates a new JoinChallengeHandler.
func NewJoinChallengeHandler(
	challenges challenge.Repository,
	participation challenge.ParticipationRepository,
	manager *challenge.Manager,
	uow UnitOfWork,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *JoinChallengeHandler {
	return &JoinChallengeHandler{
		challenges:    challenges,
		participation: participation,
		manager:       manager,
		uow:           uow,
		publisher:     publisher,
		log:           log,
	}
}

// Handle executes the join. A rejected join leaves no participation record.
func (h *JoinChallengeHandler) Handle(ctx context.Context, cmd JoinChallengeCommand) (*JoinChallengeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := cmd.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result *JoinChallengeResult
	err := h.uow.WithinTx(ctx, func(ctx context.Context) error {
		c, err := h.challenges.GetByID(ctx, cmd.ChallengeID)
		if err != nil {
			return err
		}

		existing, err := h.participation.Get(ctx, cmd.UserID, cmd.ChallengeID)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("join_challenge: lookup participation: %w", err)
		}

		count, err := h.participation.CountByChallenge(ctx, cmd.ChallengeID)
		if err != nil {
			return fmt.Errorf("join_challenge: count participants: %w", err)
		}

		p, err := h.manager.Join(c, cmd.UserID, existing, count, now)
		if err != nil {
			return err
		}
		if err := h.participation.Create(ctx, p); err != nil {
			return err
		}

		result = &JoinChallengeResult{Participation: p, Challenge: c, JoinedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if h.publisher != nil {
		_ = h.publisher.Publish(shared.NewChallengeJoinedEvent(cmd.UserID.String(), cmd.ChallengeID.String()))
	}
	h.log.Info("user joined challenge",
		logger.UserID(cmd.UserID.String()), logger.ChallengeID(cmd.ChallengeID.String()))
	return result, nil
}
