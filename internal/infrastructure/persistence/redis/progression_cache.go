package redis

import (
	"context"
	"errors"

	"github.com/habitforge/progression-hub/internal/application/query"
	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION CACHE
// Caches per-user progression snapshots for the profile read path. Entries
// are dropped by the level-up and challenge-completed event handlers, so the
// TTL only bounds staleness after a missed invalidation.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressionCache caches ProgressionDTO snapshots in Redis.
type ProgressionCache struct {
	cache *Cache
}

// NewProgressionCache creates a new ProgressionCache.
func NewProgressionCache(cache *Cache) *ProgressionCache {
	return &ProgressionCache{cache: cache}
}

func progressionKey(userID shared.UserID) string {
	return PrefixProgression + userID.String()
}

// GetProgression returns a cached snapshot, or false on a miss.
func (c *ProgressionCache) GetProgression(ctx context.Context, userID shared.UserID) (*query.ProgressionDTO, bool) {
	var dto query.ProgressionDTO
	if err := c.cache.Get(ctx, progressionKey(userID), &dto); err != nil {
		return nil, false
	}
	return &dto, true
}

// SetProgression stores a snapshot.
func (c *ProgressionCache) SetProgression(ctx context.Context, userID shared.UserID, dto *query.ProgressionDTO) error {
	return c.cache.Set(ctx, progressionKey(userID), dto, TTLProgressionCache)
}

// InvalidateProgression drops a user's cached snapshot.
// Implements eventhandler.ProgressionCacheInvalidator.
func (c *ProgressionCache) InvalidateProgression(ctx context.Context, userID shared.UserID) error {
	err := c.cache.Delete(ctx, progressionKey(userID))
	if errors.Is(err, ErrCacheMiss) {
		return nil
	}
	return err
}
