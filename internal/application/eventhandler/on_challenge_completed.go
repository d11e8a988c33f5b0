package eventhandler

import (
	"context"
	"log/slog"

	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON CHALLENGE COMPLETED HANDLER
// Keeps the standings view fresh: a completion changes the provisional order
// of every participant behind the completer, so the whole cached standings
// entry is dropped rather than patched.
// ═══════════════════════════════════════════════════════════════════════════

// StandingsCacheInvalidator invalidates a challenge's cached standings.
type StandingsCacheInvalidator interface {
	Invalidate(ctx context.Context, challengeID shared.ChallengeID) error
}

// OnChallengeCompletedHandler handles challenge completion events.
type OnChallengeCompletedHandler struct {
	standings   StandingsCacheInvalidator
	progression ProgressionCacheInvalidator
	logger      *slog.Logger
}

// NewOnChallengeCompletedHandler creates a new challenge-completed handler.
func NewOnChallengeCompletedHandler(
	standings StandingsCacheInvalidator,
	progression ProgressionCacheInvalidator,
	logger *slog.Logger,
) *OnChallengeCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnChallengeCompletedHandler{
		standings:   standings,
		progression: progression,
		logger:      logger.With("handler", "on_challenge_completed"),
	}
}

// Handle processes a challenge completion event. Implements shared.EventHandler.
func (h *OnChallengeCompletedHandler) Handle(event shared.Event) error {
	completed, ok := event.(shared.ChallengeCompletedEvent)
	if !ok {
		h.logger.Warn("received non-ChallengeCompletedEvent", "event_type", event.EventType())
		return nil
	}

	ctx := context.Background()

	if h.standings != nil {
		if err := h.standings.Invalidate(ctx, shared.ChallengeID(completed.ChallengeID)); err != nil {
			h.logger.Warn("failed to invalidate standings cache",
				"challenge_id", completed.ChallengeID,
				"error", err,
			)
		}
	}

	if h.progression != nil {
		if err := h.progression.InvalidateProgression(ctx, shared.UserID(completed.UserID)); err != nil {
			h.logger.Warn("failed to invalidate progression cache",
				"user_id", completed.UserID,
				"error", err,
			)
		}
	}

	h.logger.Info("challenge completion processed",
		"user_id", completed.UserID,
		"challenge_id", completed.ChallengeID,
		"reward_xp", completed.RewardXP,
	)

	return nil
}

// EventType returns the event type this handler processes.
func (h *OnChallengeCompletedHandler) EventType() shared.EventType {
	return shared.EventChallengeCompleted
}
