package progression

import (
	"context"
	"time"

	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// These interfaces define the storage contract for progression state.
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines storage operations for progression records.
type Repository interface {
	// Create stores a new progression record.
	// Returns ErrAlreadyExists if a record for the user already exists.
	Create(ctx context.Context, record *Record) error

	// GetByUserID returns the record for a user.
	// Returns ErrRecordNotFound if no record exists.
	GetByUserID(ctx context.Context, userID shared.UserID) (*Record, error)

	// GetOrCreate returns the record for a user, creating a fresh one if none
	// exists yet.
	GetOrCreate(ctx context.Context, userID shared.UserID, now time.Time) (*Record, error)

	// Update persists a modified record using optimistic concurrency: the
	// write succeeds only if the stored version matches record.Version, and
	// increments it. Returns ErrOptimisticLock on a version mismatch.
	Update(ctx context.Context, record *Record) error

	// Count returns the total number of records.
	Count(ctx context.Context) (int, error)
}

// GrantRepository defines storage operations for forgiveness grants.
type GrantRepository interface {
	// Save stores a grant. The store enforces at most one grant per
	// (user, habit, date); a second insert returns ErrDuplicateGrant.
	Save(ctx context.Context, grant *ForgivenessGrant) error

	// ListByUser returns the user's grants issued since the given time,
	// newest first.
	ListByUser(ctx context.Context, userID shared.UserID, since time.Time) ([]*ForgivenessGrant, error)

	// Exists reports whether a grant exists for (user, habit, date).
	Exists(ctx context.Context, userID shared.UserID, habitID shared.HabitID, date time.Time) (bool, error)
}

// ProcessedEventRepository tracks which event ids have been applied to which
// user record. It is the authoritative idempotency store behind the cache
// fast path.
type ProcessedEventRepository interface {
	// MarkProcessed records that an event id has been applied for a user.
	// Returns ErrDuplicateEvent if the id was already recorded.
	MarkProcessed(ctx context.Context, userID shared.UserID, eventID shared.EventID, processedAt time.Time) error

	// IsProcessed reports whether an event id has already been applied.
	IsProcessed(ctx context.Context, userID shared.UserID, eventID shared.EventID) (bool, error)

	// PurgeOlderThan removes processed-event rows older than the threshold.
	PurgeOlderThan(ctx context.Context, threshold time.Time) (int, error)
}
