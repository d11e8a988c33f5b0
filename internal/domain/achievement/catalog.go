// Package achievement contains the immutable achievement catalog and the
// evaluator that unlocks achievements against habit statistics.
package achievement

import (
	"fmt"
	"sort"

	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// Rarity & Category
// ═══════════════════════════════════════════════════════════════════════════

// Rarity represents how rare an achievement is.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// IsValid checks if the rarity is one of the known values.
func (r Rarity) IsValid() bool {
	switch r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// String returns the string representation.
func (r Rarity) String() string {
	return string(r)
}

// Category groups achievements for display.
type Category string

const (
	CategoryStreak      Category = "streak"
	CategoryCompletion  Category = "completion"
	CategoryConsistency Category = "consistency"
	CategoryChallenge   Category = "challenge"
	CategoryMilestone   Category = "milestone"
)

// IsValid checks if the category is one of the known values.
func (c Category) IsValid() bool {
	switch c {
	case CategoryStreak, CategoryCompletion, CategoryConsistency, CategoryChallenge, CategoryMilestone:
		return true
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════
// Requirement (tagged union)
// ═══════════════════════════════════════════════════════════════════════════

// RequirementType is the discriminant of the requirement union. Requirements
// form a closed enumeration evaluated by a single dispatch function; there is
// no string-keyed predicate lookup.
type RequirementType string

const (
	RequirementCompletionCount     RequirementType = "completion_count"
	RequirementStreakLength        RequirementType = "streak_length"
	RequirementConsistencyRate     RequirementType = "consistency_rate"
	RequirementChallengesCompleted RequirementType = "challenges_completed"
	RequirementLevelReached        RequirementType = "level_reached"
)

// Requirement is a machine-checkable unlock predicate: one type tag plus one
// threshold. Requirements are idempotent pure predicates over a statistics
// snapshot.
type Requirement struct {
	Type      RequirementType `json:"type"`
	Threshold int             `json:"threshold"`
}

// Typed constructors for the requirement variants.

// CompletionCount requires at least n lifetime habit completions.
func CompletionCount(n int) Requirement {
	return Requirement{Type: RequirementCompletionCount, Threshold: n}
}

// StreakLength requires a current streak of at least n days.
func StreakLength(n int) Requirement {
	return Requirement{Type: RequirementStreakLength, Threshold: n}
}

// ConsistencyRate requires a 30-day completion rate of at least p percent.
func ConsistencyRate(p int) Requirement {
	return Requirement{Type: RequirementConsistencyRate, Threshold: p}
}

// ChallengesCompleted requires at least k completed challenges.
func ChallengesCompleted(k int) Requirement {
	return Requirement{Type: RequirementChallengesCompleted, Threshold: k}
}

// LevelReached requires the user to have reached level n.
func LevelReached(n int) Requirement {
	return Requirement{Type: RequirementLevelReached, Threshold: n}
}

// Validate checks the requirement is a known variant with a sane threshold.
func (r Requirement) Validate() error {
	switch r.Type {
	case RequirementCompletionCount, RequirementStreakLength,
		RequirementChallengesCompleted, RequirementLevelReached:
		if r.Threshold < 1 {
			return shared.ErrInvalidRequirement
		}
	case RequirementConsistencyRate:
		if r.Threshold < 1 || r.Threshold > 100 {
			return shared.ErrInvalidRequirement
		}
	default:
		return shared.ErrInvalidRequirement
	}
	return nil
}

// Satisfied evaluates the predicate against a statistics snapshot and the
// user's current level. Single dispatch point for all variants.
func (r Requirement) Satisfied(stats shared.HabitStats, level int) bool {
	return r.CurrentValue(stats, level) >= r.Threshold
}

// CurrentValue returns the statistic the requirement tracks. Used both for
// predicate evaluation and for progress display on partially-trackable
// achievements.
func (r Requirement) CurrentValue(stats shared.HabitStats, level int) int {
	switch r.Type {
	case RequirementCompletionCount:
		return stats.TotalCompletions
	case RequirementStreakLength:
		return stats.CurrentStreak
	case RequirementConsistencyRate:
		return stats.ConsistencyRate.Int()
	case RequirementChallengesCompleted:
		return stats.ChallengesCompleted
	case RequirementLevelReached:
		return level
	default:
		return 0
	}
}

// String returns a human-readable description of the requirement.
func (r Requirement) String() string {
	switch r.Type {
	case RequirementCompletionCount:
		return fmt.Sprintf("complete %d habits", r.Threshold)
	case RequirementStreakLength:
		return fmt.Sprintf("reach a %d-day streak", r.Threshold)
	case RequirementConsistencyRate:
		return fmt.Sprintf("hold %d%% consistency over 30 days", r.Threshold)
	case RequirementChallengesCompleted:
		return fmt.Sprintf("complete %d challenges", r.Threshold)
	case RequirementLevelReached:
		return fmt.Sprintf("reach level %d", r.Threshold)
	default:
		return "unknown requirement"
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement & Catalog
// ═══════════════════════════════════════════════════════════════════════════

// Achievement is an immutable catalog entry. It is not owned by any user;
// per-user unlock state lives on the progression record.
type Achievement struct {
	// ID is the catalog identifier.
	ID shared.AchievementID

	// Title is the display name.
	Title string

	// Description is the display description.
	Description string

	// Rarity of the achievement.
	Rarity Rarity

	// Category for display grouping.
	Category Category

	// Requirement is the unlock predicate.
	Requirement Requirement

	// XPReward is the XP granted on unlock. Positive.
	XPReward int

	// MaxProgress, when positive, marks the achievement as partially
	// trackable: progress towards Requirement.Threshold is exposed for UI
	// display. Progress alone never unlocks.
	MaxProgress int
}

// Validate checks the catalog entry.
func (a Achievement) Validate() error {
	if !a.ID.IsValid() {
		return shared.NewDomainError("achievement", "Validate", shared.ErrInvalidID, "invalid achievement ID")
	}
	if a.Title == "" {
		return shared.NewDomainError("achievement", "Validate", shared.ErrEmptyValue, "title is required")
	}
	if !a.Rarity.IsValid() {
		return shared.NewDomainError("achievement", "Validate", shared.ErrInvalidInput, "unknown rarity")
	}
	if !a.Category.IsValid() {
		return shared.NewDomainError("achievement", "Validate", shared.ErrInvalidInput, "unknown category")
	}
	if a.XPReward <= 0 {
		return shared.NewDomainError("achievement", "Validate", shared.ErrValueOutOfRange, "xp reward must be positive")
	}
	if a.MaxProgress < 0 {
		return shared.NewDomainError("achievement", "Validate", shared.ErrNegativeValue, "max progress cannot be negative")
	}
	return a.Requirement.Validate()
}

// Catalog is the versioned, immutable achievement table. It is loaded once at
// startup; lookups after construction are read-only and safe for concurrent
// use.
type Catalog struct {
	version string
	byID    map[shared.AchievementID]Achievement
	ordered []Achievement // stable id order
}

// NewCatalog builds a catalog from entries, validating each and rejecting
// duplicate ids. Entries are kept in stable id order.
func NewCatalog(version string, entries []Achievement) (*Catalog, error) {
	if version == "" {
		return nil, shared.NewDomainError("achievement", "NewCatalog", shared.ErrEmptyValue, "catalog version is required")
	}

	byID := make(map[shared.AchievementID]Achievement, len(entries))
	ordered := make([]Achievement, 0, len(entries))
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return nil, err
		}
		if _, exists := byID[entry.ID]; exists {
			return nil, shared.NewDomainError("achievement", "NewCatalog", shared.ErrAlreadyExists,
				fmt.Sprintf("duplicate achievement id %q", entry.ID))
		}
		byID[entry.ID] = entry
		ordered = append(ordered, entry)
	}

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	return &Catalog{version: version, byID: byID, ordered: ordered}, nil
}

// Version returns the catalog version.
func (c *Catalog) Version() string {
	return c.version
}

// Get returns the achievement with the given id.
func (c *Catalog) Get(id shared.AchievementID) (Achievement, error) {
	entry, ok := c.byID[id]
	if !ok {
		return Achievement{}, shared.ErrAchievementNotFound
	}
	return entry, nil
}

// All returns all entries in stable id order. The returned slice is a copy.
func (c *Catalog) All() []Achievement {
	out := make([]Achievement, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.ordered)
}

// DefaultCatalog returns the built-in achievement set.
func DefaultCatalog() *Catalog {
	catalog, err := NewCatalog("2026.08", []Achievement{
		{ID: "first-steps", Title: "First Steps", Description: "Complete your first habit", Rarity: RarityCommon, Category: CategoryCompletion, Requirement: CompletionCount(1), XPReward: 10},
		{ID: "getting-going", Title: "Getting Going", Description: "Complete 10 habits", Rarity: RarityCommon, Category: CategoryCompletion, Requirement: CompletionCount(10), XPReward: 25, MaxProgress: 10},
		{ID: "century", Title: "Century", Description: "Complete 100 habits", Rarity: RarityRare, Category: CategoryCompletion, Requirement: CompletionCount(100), XPReward: 100, MaxProgress: 100},
		{ID: "thousand-club", Title: "Thousand Club", Description: "Complete 1000 habits", Rarity: RarityLegendary, Category: CategoryCompletion, Requirement: CompletionCount(1000), XPReward: 500, MaxProgress: 1000},
		{ID: "week-streak", Title: "One Week Strong", Description: "Hold a 7-day streak", Rarity: RarityCommon, Category: CategoryStreak, Requirement: StreakLength(7), XPReward: 30, MaxProgress: 7},
		{ID: "month-streak", Title: "Habitual", Description: "Hold a 30-day streak", Rarity: RarityRare, Category: CategoryStreak, Requirement: StreakLength(30), XPReward: 120, MaxProgress: 30},
		{ID: "hundred-streak", Title: "Unbreakable", Description: "Hold a 100-day streak", Rarity: RarityEpic, Category: CategoryStreak, Requirement: StreakLength(100), XPReward: 400, MaxProgress: 100},
		{ID: "steady-hand", Title: "Steady Hand", Description: "Hold 80% consistency over 30 days", Rarity: RarityRare, Category: CategoryConsistency, Requirement: ConsistencyRate(80), XPReward: 80},
		{ID: "clockwork", Title: "Clockwork", Description: "Hold 95% consistency over 30 days", Rarity: RarityEpic, Category: CategoryConsistency, Requirement: ConsistencyRate(95), XPReward: 200},
		{ID: "challenger", Title: "Challenger", Description: "Complete your first challenge", Rarity: RarityCommon, Category: CategoryChallenge, Requirement: ChallengesCompleted(1), XPReward: 40},
		{ID: "conqueror", Title: "Conqueror", Description: "Complete 10 challenges", Rarity: RarityEpic, Category: CategoryChallenge, Requirement: ChallengesCompleted(10), XPReward: 250, MaxProgress: 10},
		{ID: "rising-star", Title: "Rising Star", Description: "Reach level 5", Rarity: RarityCommon, Category: CategoryMilestone, Requirement: LevelReached(5), XPReward: 50},
		{ID: "seasoned", Title: "Seasoned", Description: "Reach level 20", Rarity: RarityRare, Category: CategoryMilestone, Requirement: LevelReached(20), XPReward: 150},
		{ID: "legend", Title: "Legend", Description: "Reach level 50", Rarity: RarityLegendary, Category: CategoryMilestone, Requirement: LevelReached(50), XPReward: 600},
	})
	if err != nil {
		// The built-in set is validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return catalog
}
