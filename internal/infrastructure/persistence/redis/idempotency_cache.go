package redis

import (
	"context"
	"fmt"

	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// IDEMPOTENCY CACHE
// Fast-path duplicate detection for inbound events. A marker here lets the
// aggregator reject replays without touching postgres; the processed-event
// ledger stays authoritative, so a lost or expired marker only costs one
// extra database check.
// ══════════════════════════════════════════════════════════════════════════════

// IdempotencyCache implements command.IdempotencyCache on Redis.
type IdempotencyCache struct {
	cache *Cache
}

// NewIdempotencyCache creates a new IdempotencyCache.
func NewIdempotencyCache(cache *Cache) *IdempotencyCache {
	return &IdempotencyCache{cache: cache}
}

func eventKey(userID shared.UserID, eventID shared.EventID) string {
	return fmt.Sprintf("%s%s:%s", PrefixEvent, userID.String(), eventID.String())
}

// Seen reports whether the event id was already observed for the user.
func (c *IdempotencyCache) Seen(ctx context.Context, userID shared.UserID, eventID shared.EventID) (bool, error) {
	return c.cache.Exists(ctx, eventKey(userID, eventID))
}

// Mark records the event id for the user. SETNX keeps a concurrent replay
// from refreshing the marker's TTL.
func (c *IdempotencyCache) Mark(ctx context.Context, userID shared.UserID, eventID shared.EventID) error {
	_, err := c.cache.SetNX(ctx, eventKey(userID, eventID), 1, TTLEventMarker)
	return err
}
