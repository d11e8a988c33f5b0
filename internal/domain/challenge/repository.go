package challenge

import (
	"context"
	"time"

	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// These interfaces define the storage contract for challenges and
// participations. Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines storage operations for challenges.
type Repository interface {
	// Create stores a new challenge.
	// Returns ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, c *Challenge) error

	// GetByID returns a challenge.
	// Returns ErrChallengeNotFound if no challenge exists.
	GetByID(ctx context.Context, id shared.ChallengeID) (*Challenge, error)

	// Update persists a modified challenge.
	Update(ctx context.Context, c *Challenge) error

	// ListActive returns challenges whose window contains now.
	ListActive(ctx context.Context, now time.Time, p shared.Pagination) ([]*Challenge, error)

	// ListEndedUnfinalized returns community challenges past their end date
	// whose ranks have not been finalized yet. Feeds the finalization job.
	ListEndedUnfinalized(ctx context.Context, now time.Time, limit int) ([]*Challenge, error)

	// ListExpiredRecoveries returns recovery challenges past their end date
	// with still-active participations. Feeds the recovery expiry job.
	ListExpiredRecoveries(ctx context.Context, now time.Time, limit int) ([]*Challenge, error)
}

// ParticipationRepository defines storage operations for participations.
type ParticipationRepository interface {
	// Create stores a new participation.
	// Returns ErrAlreadyJoined if the user already participates.
	Create(ctx context.Context, p *Participation) error

	// Get returns a user's participation in a challenge.
	// Returns ErrParticipationNotFound if none exists.
	Get(ctx context.Context, userID shared.UserID, challengeID shared.ChallengeID) (*Participation, error)

	// Update persists a modified participation.
	Update(ctx context.Context, p *Participation) error

	// UpdateAll persists a batch of participations atomically. Used by rank
	// finalization.
	UpdateAll(ctx context.Context, ps []*Participation) error

	// ListByChallenge returns all participations of a challenge.
	ListByChallenge(ctx context.Context, challengeID shared.ChallengeID) ([]*Participation, error)

	// ListActiveByUser returns a user's active participations.
	ListActiveByUser(ctx context.Context, userID shared.UserID) ([]*Participation, error)

	// CountByChallenge returns the participant count of a challenge.
	CountByChallenge(ctx context.Context, challengeID shared.ChallengeID) (int, error)

	// HasActiveRecovery reports whether the user has an active participation
	// in a recovery challenge for the habit.
	HasActiveRecovery(ctx context.Context, userID shared.UserID, habitID shared.HabitID) (bool, error)
}
