package eventhandler

import (
	"context"
	"log/slog"

	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON RANKS FINALIZED HANDLER
// After a finalization pass the standings cache holds the provisional order
// and every bonus recipient's progression snapshot is stale.
// ═══════════════════════════════════════════════════════════════════════════

// OnRanksFinalizedHandler handles rank finalization events.
type OnRanksFinalizedHandler struct {
	standings   StandingsCacheInvalidator
	progression ProgressionCacheInvalidator
	logger      *slog.Logger
}

// NewOnRanksFinalizedHandler creates a new ranks-finalized handler.
func NewOnRanksFinalizedHandler(
	standings StandingsCacheInvalidator,
	progression ProgressionCacheInvalidator,
	logger *slog.Logger,
) *OnRanksFinalizedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnRanksFinalizedHandler{
		standings:   standings,
		progression: progression,
		logger:      logger.With("handler", "on_ranks_finalized"),
	}
}

// Handle processes a ranks-finalized event. Implements shared.EventHandler.
func (h *OnRanksFinalizedHandler) Handle(event shared.Event) error {
	finalized, ok := event.(shared.RanksFinalizedEvent)
	if !ok {
		h.logger.Warn("received non-RanksFinalizedEvent", "event_type", event.EventType())
		return nil
	}

	ctx := context.Background()

	if h.standings != nil {
		if err := h.standings.Invalidate(ctx, shared.ChallengeID(finalized.ChallengeID)); err != nil {
			h.logger.Warn("failed to invalidate standings cache",
				"challenge_id", finalized.ChallengeID,
				"error", err,
			)
		}
	}

	if h.progression != nil {
		for userID, bonus := range finalized.Bonuses {
			if bonus <= 0 {
				continue
			}
			if err := h.progression.InvalidateProgression(ctx, shared.UserID(userID)); err != nil {
				h.logger.Warn("failed to invalidate progression cache",
					"user_id", userID,
					"error", err,
				)
			}
		}
	}

	h.logger.Info("rank finalization processed",
		"challenge_id", finalized.ChallengeID,
		"participants", finalized.Participants,
		"bonus_recipients", len(finalized.Bonuses),
	)

	return nil
}

// EventType returns the event type this handler processes.
func (h *OnRanksFinalizedHandler) EventType() shared.EventType {
	return shared.EventRanksFinalized
}
