// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UUID validation regex (simple version).
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// UserID represents a unique user identifier (UUID format).
type UserID string

// IsValid checks if the user ID is a valid UUID.
func (u UserID) IsValid() bool {
	return uuidRegex.MatchString(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// IsEmpty checks if the ID is empty.
func (u UserID) IsEmpty() bool {
	return u == ""
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.ToLower(strings.TrimSpace(id)))
	if !uid.IsValid() {
		return "", NewDomainError("shared", "NewUserID", ErrInvalidID, "invalid user ID format")
	}
	return uid, nil
}

// HabitID represents a unique habit identifier.
// Habit ID format: slug-like lowercase (e.g., "morning-run", "read-20-pages").
type HabitID string

var habitIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// IsValid checks if the habit ID format is valid.
func (h HabitID) IsValid() bool {
	s := string(h)
	return len(s) >= 1 && len(s) <= 64 && habitIDRegex.MatchString(s)
}

// String returns the string representation.
func (h HabitID) String() string {
	return string(h)
}

// NewHabitID creates a new HabitID with validation.
func NewHabitID(id string) (HabitID, error) {
	hid := HabitID(strings.ToLower(strings.TrimSpace(id)))
	if !hid.IsValid() {
		return "", NewDomainError("shared", "NewHabitID", ErrInvalidID, "invalid habit ID format")
	}
	return hid, nil
}

// ChallengeID represents a unique challenge identifier.
type ChallengeID string

// IsValid checks if the challenge ID is non-empty and within bounds.
func (c ChallengeID) IsValid() bool {
	s := string(c)
	return len(s) >= 1 && len(s) <= 64 && !strings.ContainsAny(s, " \t\n\r")
}

// String returns the string representation.
func (c ChallengeID) String() string {
	return string(c)
}

// AchievementID identifies an achievement catalog entry.
type AchievementID string

// String returns the string representation.
func (a AchievementID) String() string {
	return string(a)
}

// IsValid checks if the achievement ID is non-empty.
func (a AchievementID) IsValid() bool {
	return len(a) >= 1 && len(a) <= 64
}

// EventID is the caller-supplied idempotency key for a domain event.
// The aggregator applies each EventID at most once per record.
type EventID string

// IsValid checks if the event ID is non-empty and within bounds.
func (e EventID) IsValid() bool {
	s := string(e)
	return len(s) >= 1 && len(s) <= 128 && !strings.ContainsAny(s, " \t\n\r")
}

// String returns the string representation.
func (e EventID) String() string {
	return string(e)
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Value Object (Experience Points)
// ═══════════════════════════════════════════════════════════════════════════

// XP represents experience points.
type XP int

const (
	// XP boundaries
	MinXP XP = 0
	MaxXP XP = 100000000 // hard cap, administrative corrections stay below this
)

// IsValid checks if the XP value is within valid range.
func (x XP) IsValid() bool {
	return x >= MinXP && x <= MaxXP
}

// Int returns the underlying int value.
func (x XP) Int() int {
	return int(x)
}

// Add adds XP and returns the result, capped at MaxXP.
func (x XP) Add(amount XP) XP {
	result := x + amount
	if result > MaxXP {
		return MaxXP
	}
	if result < MinXP {
		return MinXP
	}
	return result
}

// NewXP creates a new XP value with validation.
func NewXP(amount int) (XP, error) {
	if amount < int(MinXP) {
		return 0, NewDomainError("shared", "NewXP", ErrNegativeValue, "XP cannot be negative")
	}
	if amount > int(MaxXP) {
		return MaxXP, nil
	}
	return XP(amount), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Percent Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Percent represents an integer percentage in [0,100].
// Used for challenge progress and consistency rates.
type Percent int

// IsValid checks if the percent is within [0,100].
func (p Percent) IsValid() bool {
	return p >= 0 && p <= 100
}

// Int returns the underlying int value.
func (p Percent) Int() int {
	return int(p)
}

// Clamp returns the percent clamped into [0,100].
func (p Percent) Clamp() Percent {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// IsComplete returns true when the percent has reached 100.
func (p Percent) IsComplete() bool {
	return p >= 100
}

// String returns the string representation.
func (p Percent) String() string {
	return fmt.Sprintf("%d%%", int(p))
}

// ═══════════════════════════════════════════════════════════════════════════
// HabitStats Value Object
// ═══════════════════════════════════════════════════════════════════════════

// HabitStats is the habit/streak statistics snapshot carried by inbound
// events and consumed by the achievement evaluator and challenge manager.
// It is computed by the habit subsystem; the engine only reads it.
type HabitStats struct {
	// CurrentStreak is the current consecutive-day streak.
	CurrentStreak int

	// BestStreak is the longest streak ever recorded.
	BestStreak int

	// TotalCompletions is the lifetime habit-completion count.
	TotalCompletions int

	// ConsistencyRate is the completion rate over the last 30 days.
	ConsistencyRate Percent

	// ChallengesCompleted is the number of challenges the user has finished.
	ChallengesCompleted int
}

// IsValid checks all counters are non-negative and the rate is in range.
func (s HabitStats) IsValid() bool {
	return s.CurrentStreak >= 0 &&
		s.BestStreak >= 0 &&
		s.TotalCompletions >= 0 &&
		s.ChallengesCompleted >= 0 &&
		s.ConsistencyRate.IsValid()
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange represents a time period.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsValid checks if the time range is valid.
func (t TimeRange) IsValid() bool {
	return !t.From.IsZero() && !t.To.IsZero() && !t.From.After(t.To)
}

// Duration returns the duration of the time range.
func (t TimeRange) Duration() time.Duration {
	return t.To.Sub(t.From)
}

// Contains checks if a time is within the range.
func (t TimeRange) Contains(tm time.Time) bool {
	return (tm.Equal(t.From) || tm.After(t.From)) && (tm.Equal(t.To) || tm.Before(t.To))
}

// NewTimeRange creates a new TimeRange with validation.
func NewTimeRange(from, to time.Time) (TimeRange, error) {
	tr := TimeRange{From: from, To: to}
	if !tr.IsValid() {
		return TimeRange{}, NewDomainError("shared", "NewTimeRange", ErrInvalidInput, "'from' must be before 'to'")
	}
	return tr, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Offset returns the offset for database queries.
func (p Pagination) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// NewPagination creates a new Pagination with defaults.
func NewPagination(page, pageSize int) Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}
