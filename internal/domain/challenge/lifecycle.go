package challenge

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// RecoveryConfig holds the tunables for auto-generated recovery challenges.
// Duration and reward scale with the number of missed days and are capped.
type RecoveryConfig struct {
	// BaseDays is the recovery window for a single missed day.
	BaseDays int

	// PerMissedDay extends the window per additional missed day.
	PerMissedDay int

	// MaxDays caps the recovery window.
	MaxDays int

	// BaseHabitXP is the XP value of one habit completion.
	BaseHabitXP int

	// RewardPerDayFactor scales the reward per missed day, in multiples of
	// BaseHabitXP.
	RewardPerDayFactor int

	// MaxRewardFactor caps the reward, in multiples of BaseHabitXP.
	MaxRewardFactor int
}

// DefaultRecoveryConfig returns the default recovery tunables.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		BaseDays:           2,
		PerMissedDay:       2,
		MaxDays:            14,
		BaseHabitXP:        10,
		RewardPerDayFactor: 3,
		MaxRewardFactor:    30,
	}
}

// DurationDays computes the recovery window for a missed-day count.
func (c RecoveryConfig) DurationDays(daysMissed int) int {
	days := c.BaseDays + c.PerMissedDay*daysMissed
	if days > c.MaxDays {
		days = c.MaxDays
	}
	if days < 1 {
		days = 1
	}
	return days
}

// RewardXP computes the recovery reward for a missed-day count.
func (c RecoveryConfig) RewardXP(daysMissed int) int {
	reward := c.BaseHabitXP * c.RewardPerDayFactor * daysMissed
	cap := c.BaseHabitXP * c.MaxRewardFactor
	if reward > cap {
		reward = cap
	}
	if reward < 1 {
		reward = 1
	}
	return reward
}

// Manager owns the challenge/participation state machine transitions. It is
// stateless; all state lives on the entities and in the repositories.
type Manager struct {
	recovery RecoveryConfig
}

// NewManager creates a manager with the given recovery tunables.
func NewManager(recovery RecoveryConfig) *Manager {
	return &Manager{recovery: recovery}
}

// Join creates a participation for a user. participantCount is the current
// number of participants; existing is the user's participation in this
// challenge if one exists.
//
// A rejected join creates no participation: all-or-nothing.
func (m *Manager) Join(c *Challenge, userID shared.UserID, existing *Participation, participantCount int, now time.Time) (*Participation, error) {
	if !userID.IsValid() {
		return nil, shared.NewDomainError("challenge", "Join", shared.ErrInvalidID, "invalid user ID")
	}
	if existing != nil {
		return nil, shared.ErrAlreadyJoined
	}
	if c.HasEnded(now) {
		return nil, shared.ErrChallengeEnded
	}
	if c.MaxParticipants > 0 && participantCount >= c.MaxParticipants {
		return nil, shared.ErrAlreadyFull
	}
	return NewParticipation(userID, c, now), nil
}

// ProgressOutcome is the result of a progress update or completion check.
type ProgressOutcome struct {
	// CompletedNow is true when this call transitioned the participation to
	// completed.
	CompletedNow bool

	// XPAwarded is the reward XP due for this call. Zero unless CompletedNow.
	XPAwarded int
}

// UpdateProgress applies a progress update and completes the participation
// when progress reaches 100 or every challenge requirement is independently
// satisfied by the statistics snapshot.
//
// Completion is idempotent: a participation that is already completed awards
// nothing, so re-running an update can never double-award the challenge
// reward.
func (m *Manager) UpdateProgress(c *Challenge, p *Participation, newProgress int, stats shared.HabitStats, now time.Time) (ProgressOutcome, error) {
	if p.ChallengeID != c.ID {
		return ProgressOutcome{}, shared.NewDomainError("challenge", "UpdateProgress", shared.ErrInvalidInput, "participation does not belong to this challenge")
	}
	if err := p.UpdateProgress(newProgress, now); err != nil {
		return ProgressOutcome{}, err
	}

	if p.Progress.IsComplete() || AllSatisfied(c.Requirements, stats) {
		return m.Complete(c, p, now)
	}
	return ProgressOutcome{}, nil
}

// Complete transitions a participation to completed and awards the challenge
// reward exactly once. Re-checking an already-completed participation is a
// no-op.
func (m *Manager) Complete(c *Challenge, p *Participation, now time.Time) (ProgressOutcome, error) {
	awarded, err := p.MarkCompleted(now)
	if err != nil {
		return ProgressOutcome{}, err
	}
	if !awarded {
		return ProgressOutcome{}, nil
	}
	return ProgressOutcome{CompletedNow: true, XPAwarded: c.RewardXP}, nil
}

// Abandon transitions a participation to abandoned.
func (m *Manager) Abandon(p *Participation, now time.Time) error {
	return p.Abandon(now)
}

// GenerateRecovery creates a recovery challenge plus the auto-joined
// participation for a missed-day event. hasActiveRecovery is whether the user
// already has an active recovery challenge for this habit; at most one is
// allowed per (user, habit).
func (m *Manager) GenerateRecovery(userID shared.UserID, habitID shared.HabitID, daysMissed int, hasActiveRecovery bool, now time.Time) (*Challenge, *Participation, error) {
	if !userID.IsValid() {
		return nil, nil, shared.NewDomainError("challenge", "GenerateRecovery", shared.ErrInvalidID, "invalid user ID")
	}
	if !habitID.IsValid() {
		return nil, nil, shared.NewDomainError("challenge", "GenerateRecovery", shared.ErrInvalidID, "invalid habit ID")
	}
	if daysMissed < 1 {
		return nil, nil, shared.NewDomainError("challenge", "GenerateRecovery", shared.ErrValueOutOfRange, "daysMissed must be at least 1")
	}
	if hasActiveRecovery {
		return nil, nil, shared.ErrRecoveryChallengeActive
	}

	now = now.UTC()
	duration := m.recovery.DurationDays(daysMissed)
	reward := m.recovery.RewardXP(daysMissed)

	c := &Challenge{
		ID:          shared.ChallengeID("recovery-" + uuid.New().String()),
		Type:        TypePersonal,
		Title:       fmt.Sprintf("Get back on track: %s", habitID),
		Description: fmt.Sprintf("Rebuild your %s streak within %d days", habitID, duration),
		Requirements: []Requirement{
			StreakLength(daysMissed),
		},
		DurationDays: duration,
		RewardXP:     reward,
		StartDate:    now,
		EndDate:      now.AddDate(0, 0, duration),
		RecoveryFor:  habitID,
		DaysMissed:   daysMissed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	return c, NewParticipation(userID, c, now), nil
}
