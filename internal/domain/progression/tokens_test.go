package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/pkg/timeutil"
)

const testUserID = "5f8a1c2e-3b4d-4e5f-8a9b-0c1d2e3f4a5b"

func newTestRecord(t *testing.T, now time.Time) *Record {
	t.Helper()
	record, err := NewRecord(shared.UserID(testUserID), now)
	require.NoError(t, err)
	return record
}

func TestTokenLedger_UseToken_Success(t *testing.T) {
	ledger := NewTokenLedger()
	missed := timeutil.Date(2026, 3, 10)
	now := timeutil.DateTime(2026, 3, 10, 23, 0, 0) // 23h after start of missed day
	record := newTestRecord(t, now)

	grant, err := ledger.UseToken(record, "morning-run", missed, now, nil)
	require.NoError(t, err)
	require.NotNil(t, grant)

	assert.Equal(t, MaxForgivenessTokens-1, record.ForgivenessTokens)
	assert.Equal(t, shared.HabitID("morning-run"), grant.HabitID)
	assert.Equal(t, record.UserID, grant.UserID)
	assert.True(t, grant.TokenConsumed)
	assert.True(t, timeutil.IsSameDay(grant.ForgivenDate, missed))
	assert.NotEmpty(t, grant.GrantID)
}

func TestTokenLedger_UseToken_WindowExpired(t *testing.T) {
	ledger := NewTokenLedger()
	missed := timeutil.Date(2026, 3, 10)
	now := timeutil.DateTime(2026, 3, 11, 1, 0, 0) // 25h after start of missed day
	record := newTestRecord(t, now)

	grant, err := ledger.UseToken(record, "morning-run", missed, now, nil)
	assert.ErrorIs(t, err, shared.ErrWindowExpired)
	assert.Nil(t, grant)
	assert.Equal(t, MaxForgivenessTokens, record.ForgivenessTokens, "rejected use must not touch the ledger")
}

func TestTokenLedger_UseToken_InsufficientTokens(t *testing.T) {
	ledger := NewTokenLedger()
	now := timeutil.DateTime(2026, 3, 10, 12, 0, 0)
	record := newTestRecord(t, now)
	record.ForgivenessTokens = 0

	grant, err := ledger.UseToken(record, "morning-run", timeutil.Date(2026, 3, 10), now, nil)
	assert.ErrorIs(t, err, shared.ErrInsufficientTokens)
	assert.Nil(t, grant)
	assert.Equal(t, 0, record.ForgivenessTokens)
}

func TestTokenLedger_UseToken_DuplicateGrant(t *testing.T) {
	ledger := NewTokenLedger()
	missed := timeutil.Date(2026, 3, 10)
	now := timeutil.DateTime(2026, 3, 10, 12, 0, 0)
	record := newTestRecord(t, now)

	first, err := ledger.UseToken(record, "morning-run", missed, now, nil)
	require.NoError(t, err)

	second, err := ledger.UseToken(record, "morning-run", missed, now, []*ForgivenessGrant{first})
	assert.ErrorIs(t, err, shared.ErrDuplicateGrant)
	assert.Nil(t, second)
	assert.Equal(t, MaxForgivenessTokens-1, record.ForgivenessTokens, "duplicate must not decrement again")

	// A different habit on the same date is fine.
	third, err := ledger.UseToken(record, "read-20-pages", missed, now, []*ForgivenessGrant{first})
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, MaxForgivenessTokens-2, record.ForgivenessTokens)
}

func TestTokenLedger_MonthlyReset(t *testing.T) {
	ledger := NewTokenLedger()
	feb := timeutil.DateTime(2026, 2, 20, 10, 0, 0)
	record := newTestRecord(t, feb)
	record.ForgivenessTokens = 0

	// Still February: no reset regardless of how often we ask.
	assert.Equal(t, 0, ledger.GrantsAvailable(record, feb))
	assert.Equal(t, 0, ledger.GrantsAvailable(record, feb.Add(24*time.Hour)))

	// Crossing into March resets to the cap exactly once.
	march := timeutil.DateTime(2026, 3, 1, 0, 30, 0)
	assert.Equal(t, MaxForgivenessTokens, ledger.GrantsAvailable(record, march))
	assert.Equal(t, timeutil.StartOfMonth(march), record.TokenCycleStart)

	// Spending within March is not undone by later reads in the same month.
	_, err := ledger.UseToken(record, "morning-run", timeutil.Date(2026, 3, 1), march, nil)
	require.NoError(t, err)
	assert.Equal(t, MaxForgivenessTokens-1, ledger.GrantsAvailable(record, march.Add(48*time.Hour)))
}
