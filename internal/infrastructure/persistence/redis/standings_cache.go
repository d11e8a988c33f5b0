package redis

import (
	"context"
	"errors"

	"github.com/habitforge/progression-hub/internal/application/query"
	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STANDINGS CACHE
// Caches the full standings response for hot community challenges. The whole
// entry is invalidated on any completion or finalization because a single
// completion reorders every participant behind it.
// ══════════════════════════════════════════════════════════════════════════════

// StandingsCache implements query.StandingsCache on Redis.
type StandingsCache struct {
	cache *Cache
}

// NewStandingsCache creates a new StandingsCache.
func NewStandingsCache(cache *Cache) *StandingsCache {
	return &StandingsCache{cache: cache}
}

func standingsKey(challengeID shared.ChallengeID) string {
	return PrefixStandings + challengeID.String()
}

// Get returns cached standings, or false on a miss.
func (c *StandingsCache) Get(ctx context.Context, challengeID shared.ChallengeID) (*query.StandingsDTO, bool) {
	var dto query.StandingsDTO
	if err := c.cache.Get(ctx, standingsKey(challengeID), &dto); err != nil {
		return nil, false
	}
	return &dto, true
}

// Set stores standings. Failures are swallowed; the cache is best effort.
func (c *StandingsCache) Set(ctx context.Context, challengeID shared.ChallengeID, dto *query.StandingsDTO) {
	_ = c.cache.Set(ctx, standingsKey(challengeID), dto, TTLStandingsCache)
}

// Invalidate drops a challenge's cached standings.
// Implements eventhandler.StandingsCacheInvalidator.
func (c *StandingsCache) Invalidate(ctx context.Context, challengeID shared.ChallengeID) error {
	err := c.cache.Delete(ctx, standingsKey(challengeID))
	if errors.Is(err, ErrCacheMiss) {
		return nil
	}
	return err
}
