package progression

import (
	"time"

	"github.com/google/uuid"

	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/pkg/timeutil"
)

// ForgivenessWindow is how long after a missed day a token can still be spent.
const ForgivenessWindow = 24 * time.Hour

// ForgivenessGrant is the record produced when a token is spent. The streak
// subsystem consumes it to retroactively mark the day completed. Forgiven days
// never award XP.
type ForgivenessGrant struct {
	// GrantID is the unique grant identifier.
	GrantID string

	// UserID is the spending user.
	UserID shared.UserID

	// HabitID is the habit whose missed day is forgiven.
	HabitID shared.HabitID

	// ForgivenDate is the missed day being excused (start of day, UTC).
	ForgivenDate time.Time

	// TokenConsumed is always true; a grant without a consumed token cannot
	// exist.
	TokenConsumed bool

	// CreatedAt is when the grant was issued.
	CreatedAt time.Time
}

// TokenLedger implements the forgiveness token rules over a progression
// record. The ledger itself is stateless; all state lives on the record and
// in the persisted grants.
type TokenLedger struct {
	// Window is the forgiveness window. Zero means ForgivenessWindow.
	Window time.Duration

	// Cap is the monthly token allowance. Zero means MaxForgivenessTokens.
	Cap int
}

// NewTokenLedger creates a ledger with the default window and cap.
func NewTokenLedger() *TokenLedger {
	return &TokenLedger{Window: ForgivenessWindow, Cap: MaxForgivenessTokens}
}

func (l *TokenLedger) window() time.Duration {
	if l.Window <= 0 {
		return ForgivenessWindow
	}
	return l.Window
}

func (l *TokenLedger) cap() int {
	if l.Cap <= 0 {
		return MaxForgivenessTokens
	}
	return l.Cap
}

// GrantsAvailable returns the current token allowance, lazily resetting it to
// the monthly cap when now has crossed into a new calendar month relative to
// the record's cycle start. The reset happens on read, not via a background
// job, so it fires exactly once per boundary crossing no matter how often the
// allowance is queried.
func (l *TokenLedger) GrantsAvailable(record *Record, now time.Time) int {
	now = now.UTC()
	if !timeutil.IsSameMonth(record.TokenCycleStart, now) {
		record.ForgivenessTokens = l.cap()
		record.TokenCycleStart = timeutil.StartOfMonth(now)
		record.UpdatedAt = now
	}
	return record.ForgivenessTokens
}

// UseToken spends one token to forgive a missed day. The existing slice holds
// the user's already-issued grants, used for duplicate detection.
//
// Failure leaves the record untouched: no partial decrement.
func (l *TokenLedger) UseToken(record *Record, habitID shared.HabitID, missedDate, now time.Time, existing []*ForgivenessGrant) (*ForgivenessGrant, error) {
	if !habitID.IsValid() {
		return nil, shared.NewDomainError("progression", "UseToken", shared.ErrInvalidID, "invalid habit ID")
	}
	now = now.UTC()
	missedDay := timeutil.StartOfDay(missedDate)

	if l.GrantsAvailable(record, now) == 0 {
		return nil, shared.ErrInsufficientTokens
	}
	if now.Sub(missedDay) > l.window() {
		return nil, shared.ErrWindowExpired
	}
	for _, g := range existing {
		if g.HabitID == habitID && timeutil.IsSameDay(g.ForgivenDate, missedDay) {
			return nil, shared.ErrDuplicateGrant
		}
	}

	record.ForgivenessTokens--
	record.UpdatedAt = now

	return &ForgivenessGrant{
		GrantID:       uuid.New().String(),
		UserID:        record.UserID,
		HabitID:       habitID,
		ForgivenDate:  missedDay,
		TokenConsumed: true,
		CreatedAt:     now,
	}, nil
}
