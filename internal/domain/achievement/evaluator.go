package achievement

import (
	"time"

	"github.com/habitforge/progression-hub/internal/domain/progression"
	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// Evaluator unlocks achievements against a statistics snapshot. It holds only
// the immutable catalog and is safe for concurrent use.
type Evaluator struct {
	catalog *Catalog
}

// NewEvaluator creates an evaluator over a catalog.
func NewEvaluator(catalog *Catalog) *Evaluator {
	return &Evaluator{catalog: catalog}
}

// Catalog returns the underlying catalog.
func (e *Evaluator) Catalog() *Catalog {
	return e.catalog
}

// Evaluate checks every not-yet-unlocked achievement against the statistics
// snapshot and the record's current level, unlocks the satisfied ones on the
// record, and returns them in stable id order.
//
// Re-evaluation with stats that still satisfy an already-unlocked requirement
// is a no-op for that achievement: the record's unlocked set is the guard, so
// repeated calls never double-unlock or double-award.
func (e *Evaluator) Evaluate(record *progression.Record, stats shared.HabitStats, now time.Time) ([]Achievement, error) {
	if !stats.IsValid() {
		return nil, shared.NewDomainError("achievement", "Evaluate", shared.ErrInvalidInput, "invalid habit stats snapshot")
	}

	var unlocked []Achievement
	// Catalog order is stable id order, so the result is deterministic.
	for _, entry := range e.catalog.ordered {
		if record.HasAchievement(entry.ID) {
			continue
		}
		if !entry.Requirement.Satisfied(stats, record.CurrentLevel) {
			continue
		}
		if err := record.UnlockAchievement(entry.ID, now); err != nil {
			return nil, err
		}
		unlocked = append(unlocked, entry)
	}
	return unlocked, nil
}

// XPDelta sums the rewards of a set of unlocked achievements.
func XPDelta(unlocked []Achievement) int {
	total := 0
	for _, a := range unlocked {
		total += a.XPReward
	}
	return total
}

// Progress is the display state of one partially-trackable achievement.
type Progress struct {
	AchievementID shared.AchievementID
	Current       int
	Max           int
	Unlocked      bool
}

// TrackProgress reports progress for every achievement with MaxProgress set,
// in stable id order. Progress is informational only; crossing the full
// requirement via Evaluate is the only unlock path.
func (e *Evaluator) TrackProgress(record *progression.Record, stats shared.HabitStats) []Progress {
	var out []Progress
	for _, entry := range e.catalog.ordered {
		if entry.MaxProgress <= 0 {
			continue
		}
		current := entry.Requirement.CurrentValue(stats, record.CurrentLevel)
		if current > entry.MaxProgress {
			current = entry.MaxProgress
		}
		out = append(out, Progress{
			AchievementID: entry.ID,
			Current:       current,
			Max:           entry.MaxProgress,
			Unlocked:      record.HasAchievement(entry.ID),
		})
	}
	return out
}
