// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Inbound events are delivered by the habit subsystem; outbound events are
// produced by the engine for collaborators (cache invalidation, celebration
// triggers, persistence of deltas).
const (
	// Inbound events (consumed by the aggregator)
	EventHabitCompleted           EventType = "habit.completed"
	EventHabitMissed              EventType = "habit.missed"
	EventChallengeProgressUpdated EventType = "challenge.progress_updated"
	EventForgivenessRequested     EventType = "forgiveness.requested"

	// Progression events
	EventXPGained           EventType = "progression.xp_gained"
	EventLevelUp            EventType = "progression.level_up"
	EventTokenConsumed      EventType = "progression.token_consumed"
	EventTokenCycleReset    EventType = "progression.token_cycle_reset"
	EventAchievementUnlock  EventType = "progression.achievement_unlocked"
	EventRecordCorrected    EventType = "progression.record_corrected"

	// Challenge events
	EventChallengeJoined    EventType = "challenge.joined"
	EventChallengeCompleted EventType = "challenge.completed"
	EventChallengeAbandoned EventType = "challenge.abandoned"
	EventRanksFinalized     EventType = "challenge.ranks_finalized"
	EventRecoveryCreated    EventType = "challenge.recovery_created"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// XPGainedEvent is emitted when a user gains XP.
type XPGainedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	Amount   int    `json:"amount"`
	NewTotal int    `json:"new_total"`
	Source   string `json:"source"` // "habit_completion", "achievement", "challenge", "rank_bonus"
	HabitID  string `json:"habit_id,omitempty"`
}

// Payload implements Event interface.
func (e XPGainedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"amount":    e.Amount,
		"new_total": e.NewTotal,
		"source":    e.Source,
		"habit_id":  e.HabitID,
	}
}

// NewXPGainedEvent creates a new XPGainedEvent.
func NewXPGainedEvent(userID string, amount, newTotal int, source, habitID string) XPGainedEvent {
	return XPGainedEvent{
		BaseEvent: NewBaseEvent(EventXPGained, userID),
		UserID:    userID,
		Amount:    amount,
		NewTotal:  newTotal,
		Source:    source,
		HabitID:   habitID,
	}
}

// LevelUpEvent is emitted when a user's level increases.
type LevelUpEvent struct {
	BaseEvent
	UserID       string   `json:"user_id"`
	OldLevel     int      `json:"old_level"`
	NewLevel     int      `json:"new_level"`
	LevelsGained int      `json:"levels_gained"`
	Rewards      []string `json:"rewards"`
	IsMilestone  bool     `json:"is_milestone"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"old_level":     e.OldLevel,
		"new_level":     e.NewLevel,
		"levels_gained": e.LevelsGained,
		"rewards":       e.Rewards,
		"is_milestone":  e.IsMilestone,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, oldLevel, newLevel int, rewards []string, milestone bool) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent:    NewBaseEvent(EventLevelUp, userID),
		UserID:       userID,
		OldLevel:     oldLevel,
		NewLevel:     newLevel,
		LevelsGained: newLevel - oldLevel,
		Rewards:      rewards,
		IsMilestone:  milestone,
	}
}

// TokenConsumedEvent is emitted when a forgiveness token is spent.
type TokenConsumedEvent struct {
	BaseEvent
	UserID        string    `json:"user_id"`
	HabitID       string    `json:"habit_id"`
	ForgivenDate  time.Time `json:"forgiven_date"`
	TokensLeft    int       `json:"tokens_left"`
}

// Payload implements Event interface.
func (e TokenConsumedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"habit_id":      e.HabitID,
		"forgiven_date": e.ForgivenDate.Format(time.RFC3339),
		"tokens_left":   e.TokensLeft,
	}
}

// NewTokenConsumedEvent creates a new TokenConsumedEvent.
func NewTokenConsumedEvent(userID, habitID string, forgivenDate time.Time, tokensLeft int) TokenConsumedEvent {
	return TokenConsumedEvent{
		BaseEvent:    NewBaseEvent(EventTokenConsumed, userID),
		UserID:       userID,
		HabitID:      habitID,
		ForgivenDate: forgivenDate,
		TokensLeft:   tokensLeft,
	}
}

// AchievementUnlockedEvent is emitted for each newly unlocked achievement.
type AchievementUnlockedEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	AchievementID string `json:"achievement_id"`
	Rarity        string `json:"rarity"`
	XPReward      int    `json:"xp_reward"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"achievement_id": e.AchievementID,
		"rarity":         e.Rarity,
		"xp_reward":      e.XPReward,
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(userID, achievementID, rarity string, xpReward int) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlock, userID),
		UserID:        userID,
		AchievementID: achievementID,
		Rarity:        rarity,
		XPReward:      xpReward,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Challenge Events
// ═══════════════════════════════════════════════════════════════════════════

// ChallengeJoinedEvent is emitted when a user joins a challenge.
type ChallengeJoinedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	ChallengeID string `json:"challenge_id"`
}

// Payload implements Event interface.
func (e ChallengeJoinedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"challenge_id": e.ChallengeID,
	}
}

// NewChallengeJoinedEvent creates a new ChallengeJoinedEvent.
func NewChallengeJoinedEvent(userID, challengeID string) ChallengeJoinedEvent {
	return ChallengeJoinedEvent{
		BaseEvent:   NewBaseEvent(EventChallengeJoined, challengeID),
		UserID:      userID,
		ChallengeID: challengeID,
	}
}

// ChallengeCompletedEvent is emitted when a participation completes.
type ChallengeCompletedEvent struct {
	BaseEvent
	UserID      string    `json:"user_id"`
	ChallengeID string    `json:"challenge_id"`
	RewardXP    int       `json:"reward_xp"`
	CompletedAt time.Time `json:"completed_at"`
}

// Payload implements Event interface.
func (e ChallengeCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"challenge_id": e.ChallengeID,
		"reward_xp":    e.RewardXP,
		"completed_at": e.CompletedAt.Format(time.RFC3339),
	}
}

// NewChallengeCompletedEvent creates a new ChallengeCompletedEvent.
func NewChallengeCompletedEvent(userID, challengeID string, rewardXP int, completedAt time.Time) ChallengeCompletedEvent {
	return ChallengeCompletedEvent{
		BaseEvent:   NewBaseEvent(EventChallengeCompleted, challengeID),
		UserID:      userID,
		ChallengeID: challengeID,
		RewardXP:    rewardXP,
		CompletedAt: completedAt,
	}
}

// RanksFinalizedEvent is emitted once a community challenge's ranks are fixed.
type RanksFinalizedEvent struct {
	BaseEvent
	ChallengeID  string         `json:"challenge_id"`
	Participants int            `json:"participants"`
	Bonuses      map[string]int `json:"bonuses"` // user id -> bonus XP
}

// Payload implements Event interface.
func (e RanksFinalizedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"challenge_id": e.ChallengeID,
		"participants": e.Participants,
		"bonuses":      e.Bonuses,
	}
}

// NewRanksFinalizedEvent creates a new RanksFinalizedEvent.
func NewRanksFinalizedEvent(challengeID string, participants int, bonuses map[string]int) RanksFinalizedEvent {
	return RanksFinalizedEvent{
		BaseEvent:    NewBaseEvent(EventRanksFinalized, challengeID),
		ChallengeID:  challengeID,
		Participants: participants,
		Bonuses:      bonuses,
	}
}

// RecoveryCreatedEvent is emitted when a recovery challenge is generated
// in response to a missed-day event.
type RecoveryCreatedEvent struct {
	BaseEvent
	UserID       string `json:"user_id"`
	HabitID      string `json:"habit_id"`
	ChallengeID  string `json:"challenge_id"`
	DaysMissed   int    `json:"days_missed"`
	DurationDays int    `json:"duration_days"`
	RewardXP     int    `json:"reward_xp"`
}

// Payload implements Event interface.
func (e RecoveryCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"habit_id":      e.HabitID,
		"challenge_id":  e.ChallengeID,
		"days_missed":   e.DaysMissed,
		"duration_days": e.DurationDays,
		"reward_xp":     e.RewardXP,
	}
}

// NewRecoveryCreatedEvent creates a new RecoveryCreatedEvent.
func NewRecoveryCreatedEvent(userID, habitID, challengeID string, daysMissed, durationDays, rewardXP int) RecoveryCreatedEvent {
	return RecoveryCreatedEvent{
		BaseEvent:    NewBaseEvent(EventRecoveryCreated, userID),
		UserID:       userID,
		HabitID:      habitID,
		ChallengeID:  challengeID,
		DaysMissed:   daysMissed,
		DurationDays: durationDays,
		RewardXP:     rewardXP,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
