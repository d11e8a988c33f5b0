package progression

import (
	"sort"
	"time"

	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/pkg/timeutil"
)

// MaxForgivenessTokens is the monthly forgiveness token cap.
const MaxForgivenessTokens = 3

// Record is the per-user progression aggregate. It is mutated only through
// its methods, and only by the event aggregator, which is the single write
// path for a user's progression state.
type Record struct {
	// UserID is the owning user.
	UserID shared.UserID

	// TotalXP is the cumulative XP. Monotonically non-decreasing except for
	// administrative corrections.
	TotalXP shared.XP

	// CurrentLevel is the cached level derived from TotalXP.
	CurrentLevel int

	// ForgivenessTokens is the remaining monthly allowance, 0..3.
	ForgivenessTokens int

	// TokenCycleStart marks the start of the current monthly token window.
	TokenCycleStart time.Time

	// UnlockedAchievements is the append-only set of unlocked achievement ids.
	// Achievements cannot be revoked.
	UnlockedAchievements []shared.AchievementID

	// Version is the optimistic concurrency version, incremented on persist.
	Version int

	// CreatedAt is when the record was created.
	CreatedAt time.Time

	// UpdatedAt is when the record was last modified.
	UpdatedAt time.Time
}

// NewRecord creates a fresh progression record for a user. New users start at
// level 1 with a full token allowance.
func NewRecord(userID shared.UserID, now time.Time) (*Record, error) {
	if !userID.IsValid() {
		return nil, shared.NewDomainError("progression", "NewRecord", shared.ErrInvalidID, "invalid user ID")
	}
	now = now.UTC()
	return &Record{
		UserID:               userID,
		TotalXP:              0,
		CurrentLevel:         1,
		ForgivenessTokens:    MaxForgivenessTokens,
		TokenCycleStart:      timeutil.StartOfMonth(now),
		UnlockedAchievements: make([]shared.AchievementID, 0),
		Version:              0,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// Validate checks the record invariants.
func (r *Record) Validate() error {
	if !r.UserID.IsValid() {
		return shared.NewDomainError("progression", "Validate", shared.ErrInvalidID, "invalid user ID")
	}
	if !r.TotalXP.IsValid() {
		return shared.NewDomainError("progression", "Validate", shared.ErrValueOutOfRange, "total XP out of range")
	}
	if r.ForgivenessTokens < 0 || r.ForgivenessTokens > MaxForgivenessTokens {
		return shared.NewDomainError("progression", "Validate", shared.ErrValueOutOfRange, "forgiveness tokens out of range")
	}
	if r.CurrentLevel < 1 {
		return shared.NewDomainError("progression", "Validate", shared.ErrValueOutOfRange, "level must be at least 1")
	}
	return nil
}

// AddXP adds a positive XP delta, capped at the hard maximum.
func (r *Record) AddXP(delta int, now time.Time) error {
	if delta <= 0 {
		return shared.ErrInvalidXPDelta
	}
	r.TotalXP = r.TotalXP.Add(shared.XP(delta))
	r.UpdatedAt = now.UTC()
	return nil
}

// CorrectXP sets the XP total directly. Administrative corrections are the
// only path that may lower TotalXP.
func (r *Record) CorrectXP(newTotal int, curve CurveParams, now time.Time) error {
	xp, err := shared.NewXP(newTotal)
	if err != nil {
		return err
	}
	r.TotalXP = xp
	r.CurrentLevel = LevelForTotalXP(xp.Int(), curve)
	r.UpdatedAt = now.UTC()
	return nil
}

// RecalculateLevel recomputes the cached level from TotalXP and returns the
// old and new level.
func (r *Record) RecalculateLevel(curve CurveParams) (oldLevel, newLevel int) {
	oldLevel = r.CurrentLevel
	newLevel = LevelForTotalXP(r.TotalXP.Int(), curve)
	r.CurrentLevel = newLevel
	return oldLevel, newLevel
}

// HasAchievement reports whether the achievement is already unlocked.
func (r *Record) HasAchievement(id shared.AchievementID) bool {
	for _, a := range r.UnlockedAchievements {
		if a == id {
			return true
		}
	}
	return false
}

// UnlockAchievement appends an achievement id to the unlocked set.
// Appending an already-unlocked id fails, so the set never gains duplicates.
func (r *Record) UnlockAchievement(id shared.AchievementID, now time.Time) error {
	if !id.IsValid() {
		return shared.NewDomainError("progression", "UnlockAchievement", shared.ErrInvalidID, "invalid achievement ID")
	}
	if r.HasAchievement(id) {
		return shared.ErrAlreadyUnlocked
	}
	r.UnlockedAchievements = append(r.UnlockedAchievements, id)
	r.UpdatedAt = now.UTC()
	return nil
}

// SortedAchievements returns the unlocked achievement ids in stable id order.
func (r *Record) SortedAchievements() []shared.AchievementID {
	ids := make([]shared.AchievementID, len(r.UnlockedAchievements))
	copy(ids, r.UnlockedAchievements)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone returns a deep copy of the record. The aggregator works on a clone
// and commits it back only when the whole event application succeeds, so a
// failed sub-step leaves the original record untouched.
func (r *Record) Clone() *Record {
	clone := *r
	clone.UnlockedAchievements = make([]shared.AchievementID, len(r.UnlockedAchievements))
	copy(clone.UnlockedAchievements, r.UnlockedAchievements)
	return &clone
}

// LevelSnapshot returns the derived level info for the record's XP total.
func (r *Record) LevelSnapshot(curve CurveParams) LevelInfo {
	return ComputeLevelInfo(r.TotalXP.Int(), curve)
}
