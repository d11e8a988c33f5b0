package command

import (
	"context"
	"time"

	"github.com/habitforge/progression-hub/internal/domain/challenge"
	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE ADMINISTRATION COMMANDS
// Create and edit are operator-facing. Edits split into always-allowed
// cosmetic fields and rule fields that lock once any participant has
// recorded progress.
// ══════════════════════════════════════════════════════════════════════════════

// CreateChallengeCommand asks to create a challenge.
type CreateChallengeCommand struct {
	ChallengeID     shared.ChallengeID
	Type            challenge.Type
	Title           string
	Description     string
	Requirements    []challenge.Requirement
	DurationDays    int
	RewardXP        int
	StartDate       time.Time
	MaxParticipants int
}

// Validate validates the command. Field-level validation happens in the
// challenge constructor.
func (c CreateChallengeCommand) Validate() error {
	if !c.ChallengeID.IsValid() {
		return shared.NewDomainError("command", "CreateChallenge", shared.ErrInvalidID, "invalid challenge id")
	}
	if c.StartDate.IsZero() {
		return shared.NewDomainError("command", "CreateChallenge", shared.ErrEmptyValue, "start date is required")
	}
	return nil
}

// CreateChallengeHandler handles the CreateChallengeCommand.
type CreateChallengeHandler struct {
	challenges challenge.Repository
	log        *logger.Logger
}

// NewCreateChallengeHandler creates a new CreateChallengeHandler.
func NewCreateChallengeHandler(challenges challenge.Repository, log *logger.Logger) *CreateChallengeHandler {
	return &CreateChallengeHandler{challenges: challenges, log: log}
}

// Handle creates and stores the challenge.
func (h *CreateChallengeHandler) Handle(ctx context.Context, cmd CreateChallengeCommand) (*challenge.Challenge, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	c, err := challenge.NewChallenge(cmd.ChallengeID, cmd.Type, cmd.Title, cmd.Requirements, cmd.DurationDays, cmd.RewardXP, cmd.StartDate)
	if err != nil {
		return nil, err
	}
	c.Description = cmd.Description
	c.MaxParticipants = cmd.MaxParticipants

	if err := h.challenges.Create(ctx, c); err != nil {
		return nil, err
	}

	h.log.Info("challenge created",
		logger.ChallengeID(c.ID.String()),
		logger.String("type", string(c.Type)),
		logger.Int("duration_days", c.DurationDays))
	return c, nil
}

// EditChallengeCommand asks to edit a challenge.
type EditChallengeCommand struct {
	ChallengeID shared.ChallengeID
	Patch       challenge.EditPatch
}

// Validate validates the command.
func (c EditChallengeCommand) Validate() error {
	if !c.ChallengeID.IsValid() {
		return shared.NewDomainError("command", "EditChallenge", shared.ErrInvalidID, "invalid challenge id")
	}
	return nil
}

// EditChallengeHandler handles the EditChallengeCommand.
type EditChallengeHandler struct {
	challenges    challenge.Repository
	participation challenge.ParticipationRepository
	uow           UnitOfWork
	log           *logger.Logger
}

// NewEditChallengeHandler creates a new EditChallengeHandler.
func NewEditChallengeHandler(
	challenges challenge.Repository,
	participation challenge.ParticipationRepository,
	uow UnitOfWork,
	log *logger.Logger,
) *EditChallengeHandler {
	return &EditChallengeHandler{
		challenges:    challenges,
		participation: participation,
		uow:           uow,
		log:           log,
	}
}

// Handle applies the edit. Whether rule fields are still editable depends on
// recorded progress, so the check and the write share a transaction.
func (h *EditChallengeHandler) Handle(ctx context.Context, cmd EditChallengeCommand) (*challenge.Challenge, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var edited *challenge.Challenge
	err := h.uow.WithinTx(ctx, func(ctx context.Context) error {
		c, err := h.challenges.GetByID(ctx, cmd.ChallengeID)
		if err != nil {
			return err
		}

		hasProgress, err := h.anyRecordedProgress(ctx, cmd.ChallengeID)
		if err != nil {
			return err
		}

		if err := c.ApplyEdit(cmd.Patch, hasProgress, time.Now().UTC()); err != nil {
			return err
		}
		if err := h.challenges.Update(ctx, c); err != nil {
			return err
		}
		edited = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.log.Info("challenge edited", logger.ChallengeID(cmd.ChallengeID.String()))
	return edited, nil
}

// anyRecordedProgress reports whether any participant has progress, a
// completion, or an abandonment on record.
func (h *EditChallengeHandler) anyRecordedProgress(ctx context.Context, challengeID shared.ChallengeID) (bool, error) {
	participations, err := h.participation.ListByChallenge(ctx, challengeID)
	if err != nil {
		return false, err
	}
	for _, p := range participations {
		if p.Progress > 0 || p.Completed || p.Abandoned {
			return true, nil
		}
	}
	return false, nil
}
