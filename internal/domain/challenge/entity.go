// Package challenge contains the challenge and participation state machines,
// recovery challenge generation, and community rank finalization.
package challenge

import (
	"time"

	"github.com/google/uuid"

	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// Challenge Types & Requirements
// ═══════════════════════════════════════════════════════════════════════════

// Type distinguishes personal challenges from shared community challenges.
type Type string

const (
	TypePersonal  Type = "personal"
	TypeCommunity Type = "community"
)

// IsValid checks the type is a known value.
func (t Type) IsValid() bool {
	return t == TypePersonal || t == TypeCommunity
}

// Status is the derived lifecycle state of a challenge.
type Status string

const (
	StatusCreated Status = "created"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

// RequirementType is the discriminant of the completion requirement union.
type RequirementType string

const (
	RequirementCompletionCount RequirementType = "completion_count"
	RequirementStreakLength    RequirementType = "streak_length"
	RequirementConsistencyRate RequirementType = "consistency_rate"
)

// Requirement is one typed completion threshold. A challenge's requirement
// list is AND-combined: every threshold must be met.
type Requirement struct {
	Type      RequirementType `json:"type"`
	Threshold int             `json:"threshold"`
}

// Typed constructors for the requirement variants.

// CompletionCount requires at least n habit completions.
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

// Validate checks the requirement variant and threshold.
func (r Requirement) Validate() error {
	switch r.Type {
	case RequirementCompletionCount, RequirementStreakLength:
		if r.Threshold < 1 {
			return shared.NewDomainError("challenge", "Requirement", shared.ErrValueOutOfRange, "threshold must be positive")
		}
	case RequirementConsistencyRate:
		if r.Threshold < 1 || r.Threshold > 100 {
			return shared.NewDomainError("challenge", "Requirement", shared.ErrValueOutOfRange, "consistency threshold must be in 1..100")
		}
	default:
		return shared.NewDomainError("challenge", "Requirement", shared.ErrInvalidInput, "unknown requirement type")
	}
	return nil
}

// Satisfied evaluates the threshold against a statistics snapshot.
func (r Requirement) Satisfied(stats shared.HabitStats) bool {
	switch r.Type {
	case RequirementCompletionCount:
		return stats.TotalCompletions >= r.Threshold
	case RequirementStreakLength:
		return stats.CurrentStreak >= r.Threshold
	case RequirementConsistencyRate:
		return stats.ConsistencyRate.Int() >= r.Threshold
	default:
		return false
	}
}

// AllSatisfied reports whether every requirement in the list is met.
func AllSatisfied(requirements []Requirement, stats shared.HabitStats) bool {
	if len(requirements) == 0 {
		return false
	}
	for _, r := range requirements {
		if !r.Satisfied(stats) {
			return false
		}
	}
	return true
}

// ═══════════════════════════════════════════════════════════════════════════
// Challenge Entity
// ═══════════════════════════════════════════════════════════════════════════

// Challenge is a time-boxed goal shared by its participants.
// Lifecycle: created -> active (now within [StartDate, EndDate]) -> ended.
type Challenge struct {
	// ID is the challenge identifier.
	ID shared.ChallengeID

	// Type is personal or community.
	Type Type

	// Title is the display name.
	Title string

	// Description is the display description.
	Description string

	// Requirements is the ordered, AND-combined completion requirement list.
	Requirements []Requirement

	// DurationDays is the intended length of the challenge window.
	DurationDays int

	// RewardXP is awarded once per participant on completion.
	RewardXP int

	// StartDate is when the challenge opens.
	StartDate time.Time

	// EndDate is when the challenge closes. Joins and completions after this
	// point are rejected.
	EndDate time.Time

	// MaxParticipants caps the participant set. Zero means unlimited.
	MaxParticipants int

	// RanksFinalized marks that community ranks have been fixed. One-way.
	RanksFinalized bool

	// RecoveryFor is set on auto-generated recovery challenges: the habit
	// whose missed days the challenge recovers. Empty for normal challenges.
	RecoveryFor shared.HabitID

	// DaysMissed is the missed-day count a recovery challenge was generated
	// for. Zero for normal challenges.
	DaysMissed int

	// CreatedAt is when the challenge was created.
	CreatedAt time.Time

	// UpdatedAt is when the challenge was last modified.
	UpdatedAt time.Time
}

// NewChallenge creates a challenge with validation.
func NewChallenge(id shared.ChallengeID, ctype Type, title string, requirements []Requirement, durationDays, rewardXP int, start time.Time) (*Challenge, error) {
	if !id.IsValid() {
		return nil, shared.NewDomainError("challenge", "NewChallenge", shared.ErrInvalidID, "invalid challenge ID")
	}
	if !ctype.IsValid() {
		return nil, shared.NewDomainError("challenge", "NewChallenge", shared.ErrInvalidInput, "unknown challenge type")
	}
	if title == "" {
		return nil, shared.NewDomainError("challenge", "NewChallenge", shared.ErrEmptyValue, "title is required")
	}
	if len(requirements) == 0 {
		return nil, shared.NewDomainError("challenge", "NewChallenge", shared.ErrEmptyValue, "at least one requirement is required")
	}
	for _, r := range requirements {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	if durationDays < 1 {
		return nil, shared.NewDomainError("challenge", "NewChallenge", shared.ErrValueOutOfRange, "duration must be at least one day")
	}
	if rewardXP <= 0 {
		return nil, shared.NewDomainError("challenge", "NewChallenge", shared.ErrValueOutOfRange, "reward XP must be positive")
	}

	start = start.UTC()
	now := time.Now().UTC()
	return &Challenge{
		ID:           id,
		Type:         ctype,
		Title:        title,
		Requirements: requirements,
		DurationDays: durationDays,
		RewardXP:     rewardXP,
		StartDate:    start,
		EndDate:      start.AddDate(0, 0, durationDays),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsRecovery reports whether the challenge was auto-generated to recover a
// missed habit.
func (c *Challenge) IsRecovery() bool {
	return c.RecoveryFor != ""
}

// StatusAt returns the derived lifecycle state at the given time.
func (c *Challenge) StatusAt(now time.Time) Status {
	now = now.UTC()
	switch {
	case now.Before(c.StartDate):
		return StatusCreated
	case now.After(c.EndDate):
		return StatusEnded
	default:
		return StatusActive
	}
}

// HasEnded reports whether the challenge window has closed.
func (c *Challenge) HasEnded(now time.Time) bool {
	return now.UTC().After(c.EndDate)
}

// EditPatch carries an admin edit. Nil fields are left unchanged.
type EditPatch struct {
	Title       *string
	Description *string
	StartDate   *time.Time
	EndDate     *time.Time

	// Rule changes, only allowed before any participant has recorded
	// progress.
	RewardXP     *int
	Requirements []Requirement
}

// ApplyEdit applies an admin edit. Title, description, and dates may change
// at any time; participations copy their dates at join, so date edits never
// retroactively invalidate in-flight progress. Reward and requirement changes
// are locked once any participant has recorded progress.
func (c *Challenge) ApplyEdit(patch EditPatch, hasRecordedProgress bool, now time.Time) error {
	if patch.RewardXP != nil || len(patch.Requirements) > 0 {
		if hasRecordedProgress {
			return shared.ErrChallengeLocked
		}
		if patch.RewardXP != nil {
			if *patch.RewardXP <= 0 {
				return shared.NewDomainError("challenge", "Edit", shared.ErrValueOutOfRange, "reward XP must be positive")
			}
		}
		for _, r := range patch.Requirements {
			if err := r.Validate(); err != nil {
				return err
			}
		}
	}

	start := c.StartDate
	end := c.EndDate
	if patch.StartDate != nil {
		start = patch.StartDate.UTC()
	}
	if patch.EndDate != nil {
		end = patch.EndDate.UTC()
	}
	if !start.Before(end) {
		return shared.NewDomainError("challenge", "Edit", shared.ErrInvalidInput, "start date must be before end date")
	}

	if patch.Title != nil {
		if *patch.Title == "" {
			return shared.NewDomainError("challenge", "Edit", shared.ErrEmptyValue, "title is required")
		}
		c.Title = *patch.Title
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	c.StartDate = start
	c.EndDate = end
	if patch.RewardXP != nil {
		c.RewardXP = *patch.RewardXP
	}
	if len(patch.Requirements) > 0 {
		c.Requirements = patch.Requirements
	}
	c.UpdatedAt = now.UTC()
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Participation Entity
// ═══════════════════════════════════════════════════════════════════════════

// ParticipationStatus is the participation state machine state.
type ParticipationStatus string

const (
	ParticipationActive    ParticipationStatus = "active"
	ParticipationCompleted ParticipationStatus = "completed"
	ParticipationAbandoned ParticipationStatus = "abandoned"
)

// Participation is one user's membership in a challenge.
//
// State machine: active -> completed (one-way) or active -> abandoned
// (one-way). Progress is monotonically non-decreasing while active.
type Participation struct {
	// ID is the participation identifier.
	ID string

	// UserID is the participant.
	UserID shared.UserID

	// ChallengeID is the joined challenge.
	ChallengeID shared.ChallengeID

	// Progress is the 0-100 completion percent.
	Progress shared.Percent

	// Completed is the one-way completion flag.
	Completed bool

	// Abandoned is the one-way abandonment flag.
	Abandoned bool

	// StartDate and EndDate are copied from the challenge at join time, so
	// later challenge edits never change an in-flight participant's deadline.
	StartDate time.Time
	EndDate   time.Time

	// CompletedAt is when the participation completed. Orders community
	// ranks.
	CompletedAt *time.Time

	// FinalRank is set only by rank finalization after the challenge ends.
	// Zero means unranked.
	FinalRank int

	// JoinedAt is when the user joined.
	JoinedAt time.Time

	// UpdatedAt is when the participation was last modified.
	UpdatedAt time.Time
}

// NewParticipation creates an active participation for a user in a challenge,
// copying the challenge dates.
func NewParticipation(userID shared.UserID, c *Challenge, now time.Time) *Participation {
	now = now.UTC()
	return &Participation{
		ID:          uuid.New().String(),
		UserID:      userID,
		ChallengeID: c.ID,
		Progress:    0,
		StartDate:   c.StartDate,
		EndDate:     c.EndDate,
		JoinedAt:    now,
		UpdatedAt:   now,
	}
}

// Status returns the participation state.
func (p *Participation) Status() ParticipationStatus {
	switch {
	case p.Abandoned:
		return ParticipationAbandoned
	case p.Completed:
		return ParticipationCompleted
	default:
		return ParticipationActive
	}
}

// IsActive reports whether the participation can still accept progress.
func (p *Participation) IsActive() bool {
	return !p.Completed && !p.Abandoned
}

// UpdateProgress applies a progress update. Only non-decreasing values are
// accepted; values are clamped to [0,100].
func (p *Participation) UpdateProgress(newProgress int, now time.Time) error {
	if !p.IsActive() {
		return shared.ErrParticipationNotActive
	}
	clamped := shared.Percent(newProgress).Clamp()
	if clamped < p.Progress {
		return shared.ErrInvalidProgress
	}
	p.Progress = clamped
	p.UpdatedAt = now.UTC()
	return nil
}

// MarkCompleted transitions the participation to completed. Idempotent: the
// first call returns true (reward due), later calls return false.
func (p *Participation) MarkCompleted(now time.Time) (bool, error) {
	if p.Abandoned {
		return false, shared.ErrParticipationNotActive
	}
	if p.Completed {
		return false, nil
	}
	now = now.UTC()
	p.Completed = true
	p.Progress = 100
	p.CompletedAt = &now
	p.UpdatedAt = now
	return true, nil
}

// Abandon transitions the participation to abandoned. One-way: an abandoned
// participation can never complete and never awards XP.
func (p *Participation) Abandon(now time.Time) error {
	if p.Completed {
		return shared.NewDomainError("challenge", "Abandon", shared.ErrStateTransition, "completed participation cannot be abandoned")
	}
	if p.Abandoned {
		return nil
	}
	p.Abandoned = true
	p.UpdatedAt = now.UTC()
	return nil
}
