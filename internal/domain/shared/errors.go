// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrExpired          = errors.New("expired")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progression", "challenge", "achievement"
	Op      string // Operation that failed, e.g., "UseToken", "Join"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Forgiveness token ledger errors
var (
	ErrInsufficientTokens = NewDomainError("progression", "UseToken", ErrValueOutOfRange, "no forgiveness tokens available")
	ErrWindowExpired      = NewDomainError("progression", "UseToken", ErrExpired, "missed day is outside the 24h forgiveness window")
	ErrDuplicateGrant     = NewDomainError("progression", "UseToken", ErrAlreadyExists, "a grant already exists for this habit and date")
)

// Progression record errors
var (
	ErrRecordNotFound = NewDomainError("progression", "Find", ErrNotFound, "progression record not found")
	ErrInvalidXPDelta = NewDomainError("progression", "AddXP", ErrNegativeValue, "xp delta must be positive")
	ErrDuplicateEvent = NewDomainError("progression", "ApplyEvent", ErrAlreadyProcessed, "event already applied to this record")
)

// Challenge lifecycle errors
var (
	ErrChallengeNotFound       = NewDomainError("challenge", "Find", ErrNotFound, "challenge not found")
	ErrChallengeEnded          = NewDomainError("challenge", "Join", ErrExpired, "challenge has already ended")
	ErrAlreadyFull             = NewDomainError("challenge", "Join", ErrValueOutOfRange, "challenge has reached its participant capacity")
	ErrAlreadyJoined           = NewDomainError("challenge", "Join", ErrAlreadyExists, "user already participates in this challenge")
	ErrParticipationNotFound   = NewDomainError("challenge", "FindParticipation", ErrNotFound, "participation not found")
	ErrInvalidProgress         = NewDomainError("challenge", "UpdateProgress", ErrValueOutOfRange, "progress must be non-decreasing and within 0-100")
	ErrParticipationNotActive  = NewDomainError("challenge", "UpdateProgress", ErrInvalidState, "participation is not active")
	ErrRecoveryChallengeActive = NewDomainError("challenge", "GenerateRecovery", ErrAlreadyExists, "an active recovery challenge already exists for this habit")
	ErrRanksAlreadyFinal       = NewDomainError("challenge", "FinalizeRanks", ErrAlreadyProcessed, "ranks have already been finalized")
	ErrChallengeStillRunning   = NewDomainError("challenge", "FinalizeRanks", ErrInvalidState, "challenge end date has not passed yet")
	ErrChallengeLocked         = NewDomainError("challenge", "Edit", ErrInvalidState, "challenge fields are locked once participants have progress")
)

// Achievement errors
var (
	ErrAchievementNotFound = NewDomainError("achievement", "Find", ErrNotFound, "achievement not found in catalog")
	ErrAlreadyUnlocked     = NewDomainError("achievement", "Unlock", ErrAlreadyExists, "achievement already unlocked")
	ErrInvalidRequirement  = NewDomainError("achievement", "Validate", ErrInvalidInput, "invalid achievement requirement")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsConflict checks if the error is a concurrency conflict that can be retried.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrOptimisticLock)
}

// IsUserFacing reports whether the error is a recoverable, user-facing
// condition from the engine's error taxonomy rather than an internal failure.
func IsUserFacing(err error) bool {
	return errors.Is(err, ErrInsufficientTokens) ||
		errors.Is(err, ErrWindowExpired) ||
		errors.Is(err, ErrDuplicateGrant) ||
		errors.Is(err, ErrChallengeEnded) ||
		errors.Is(err, ErrAlreadyFull) ||
		errors.Is(err, ErrRecoveryChallengeActive) ||
		errors.Is(err, ErrDuplicateEvent) ||
		errors.Is(err, ErrInvalidProgress)
}
