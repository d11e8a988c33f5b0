// Package eventhandler contains handlers that react to domain events.
package eventhandler

import (
	"context"
	"log/slog"

	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON LEVEL UP HANDLER
// Reacts to level-up events produced by the progression pipeline.
//
// Responsibilities:
// 1. Invalidate the cached progression snapshot so the next read reflects
//    the new level immediately.
// 2. Log milestone levels for the celebration pipeline downstream.
// ═══════════════════════════════════════════════════════════════════════════

// ProgressionCacheInvalidator invalidates a user's cached progression snapshot.
type ProgressionCacheInvalidator interface {
	InvalidateProgression(ctx context.Context, userID shared.UserID) error
}

// OnLevelUpHandler handles level-up events.
type OnLevelUpHandler struct {
	cache  ProgressionCacheInvalidator
	logger *slog.Logger
}

// NewOnLevelUpHandler creates a new level-up event handler.
func NewOnLevelUpHandler(cache ProgressionCacheInvalidator, logger *slog.Logger) *OnLevelUpHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnLevelUpHandler{
		cache:  cache,
		logger: logger.With("handler", "on_level_up"),
	}
}

// Handle processes a level-up event. Implements shared.EventHandler.
func (h *OnLevelUpHandler) Handle(event shared.Event) error {
	levelEvent, ok := event.(shared.LevelUpEvent)
	if !ok {
		h.logger.Warn("received non-LevelUpEvent", "event_type", event.EventType())
		return nil
	}

	ctx := context.Background()

	if h.cache != nil {
		if err := h.cache.InvalidateProgression(ctx, shared.UserID(levelEvent.UserID)); err != nil {
			// Stale cache entries expire on their own; the read path also
			// falls back to the repository.
			h.logger.Warn("failed to invalidate progression cache",
				"user_id", levelEvent.UserID,
				"error", err,
			)
		}
	}

	if levelEvent.IsMilestone {
		h.logger.Info("milestone level reached",
			"user_id", levelEvent.UserID,
			"new_level", levelEvent.NewLevel,
			"rewards", levelEvent.Rewards,
		)
	} else {
		h.logger.Debug("level up processed",
			"user_id", levelEvent.UserID,
			"old_level", levelEvent.OldLevel,
			"new_level", levelEvent.NewLevel,
		)
	}

	return nil
}

// EventType returns the event type this handler processes.
func (h *OnLevelUpHandler) EventType() shared.EventType {
	return shared.EventLevelUp
}
