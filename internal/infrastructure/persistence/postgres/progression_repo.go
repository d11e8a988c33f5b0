package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/habitforge/progression-hub/internal/domain/progression"
	"github.com/habitforge/progression-hub/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION RECORD REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ProgressionRepository implements progression.Repository for PostgreSQL.
type ProgressionRepository struct {
	conn *Connection
}

// NewProgressionRepository creates a new ProgressionRepository.
func NewProgressionRepository(conn *Connection) *ProgressionRepository {
	return &ProgressionRepository{conn: conn}
}

// Create creates a new progression record.
func (r *ProgressionRepository) Create(ctx context.Context, record *progression.Record) error {
	query := `
		INSERT INTO progression_records (
			user_id, total_xp, current_level, forgiveness_tokens,
			token_cycle_start, unlocked_achievements, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	achievementsJSON, err := marshalAchievements(record.UnlockedAchievements)
	if err != nil {
		return err
	}

	_, err = r.conn.Exec(ctx, query,
		record.UserID.String(),
		record.TotalXP.Int(),
		record.CurrentLevel,
		record.ForgivenessTokens,
		record.TokenCycleStart,
		achievementsJSON,
		record.Version,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create progression record: %w", err)
	}

	return nil
}

// GetByUserID returns the record for a user.
func (r *ProgressionRepository) GetByUserID(ctx context.Context, userID shared.UserID) (*progression.Record, error) {
	query := `
		SELECT user_id, total_xp, current_level, forgiveness_tokens,
			   token_cycle_start, unlocked_achievements, version, created_at, updated_at
		FROM progression_records
		WHERE user_id = $1
	`

	return r.scanRecord(r.conn.QueryRow(ctx, query, userID.String()))
}

// GetOrCreate returns the record for a user, creating a fresh one if needed.
// A concurrent create of the same user is resolved by re-reading.
func (r *ProgressionRepository) GetOrCreate(ctx context.Context, userID shared.UserID, now time.Time) (*progression.Record, error) {
	record, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return record, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}

	record, err = progression.NewRecord(userID, now)
	if err != nil {
		return nil, err
	}
	if err := r.Create(ctx, record); err != nil {
		if shared.IsAlreadyExists(err) {
			return r.GetByUserID(ctx, userID)
		}
		return nil, err
	}
	return record, nil
}

// Update persists a modified record with optimistic concurrency. The write
// only lands if the stored version still matches; the in-memory version is
// bumped to match the row on success.
func (r *ProgressionRepository) Update(ctx context.Context, record *progression.Record) error {
	query := `
		UPDATE progression_records SET
			total_xp = $1,
			current_level = $2,
			forgiveness_tokens = $3,
			token_cycle_start = $4,
			unlocked_achievements = $5,
			version = version + 1,
			updated_at = $6
		WHERE user_id = $7 AND version = $8
	`

	achievementsJSON, err := marshalAchievements(record.UnlockedAchievements)
	if err != nil {
		return err
	}

	result, err := r.conn.Exec(ctx, query,
		record.TotalXP.Int(),
		record.CurrentLevel,
		record.ForgivenessTokens,
		record.TokenCycleStart,
		achievementsJSON,
		record.UpdatedAt,
		record.UserID.String(),
		record.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update progression record: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Records are never deleted, so a zero-row update is a version race.
		return shared.ErrOptimisticLock
	}

	record.Version++
	return nil
}

// Count returns the total number of records.
func (r *ProgressionRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.conn.QueryRow(ctx, "SELECT COUNT(*) FROM progression_records").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count progression records: %w", err)
	}
	return count, nil
}

func (r *ProgressionRepository) scanRecord(row pgx.Row) (*progression.Record, error) {
	var (
		record           progression.Record
		userID           string
		totalXP          int
		achievementsJSON []byte
	)

	err := row.Scan(
		&userID,
		&totalXP,
		&record.CurrentLevel,
		&record.ForgivenessTokens,
		&record.TokenCycleStart,
		&achievementsJSON,
		&record.Version,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to scan progression record: %w", err)
	}

	record.UserID = shared.UserID(userID)
	record.TotalXP = shared.XP(totalXP)
	if err := unmarshalAchievements(achievementsJSON, &record.UnlockedAchievements); err != nil {
		return nil, err
	}

	return &record, nil
}

func marshalAchievements(ids []shared.AchievementID) ([]byte, error) {
	if ids == nil {
		ids = []shared.AchievementID{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal achievements: %w", err)
	}
	return data, nil
}

func unmarshalAchievements(data []byte, ids *[]shared.AchievementID) error {
	if len(data) == 0 {
		*ids = []shared.AchievementID{}
		return nil
	}
	if err := json.Unmarshal(data, ids); err != nil {
		return fmt.Errorf("failed to unmarshal achievements: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FORGIVENESS GRANT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// GrantRepository implements progression.GrantRepository for PostgreSQL.
// The unique constraint on (user_id, habit_id, forgiven_date) is the
// authoritative duplicate check behind the in-memory one.
type GrantRepository struct {
	conn *Connection
}

// NewGrantRepository creates a new GrantRepository.
func NewGrantRepository(conn *Connection) *GrantRepository {
	return &GrantRepository{conn: conn}
}

// Save stores a grant.
func (r *GrantRepository) Save(ctx context.Context, grant *progression.ForgivenessGrant) error {
	query := `
		INSERT INTO forgiveness_grants (id, user_id, habit_id, forgiven_date, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.conn.Exec(ctx, query,
		grant.GrantID,
		grant.UserID.String(),
		grant.HabitID.String(),
		grant.ForgivenDate,
		grant.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrDuplicateGrant
		}
		return fmt.Errorf("failed to save forgiveness grant: %w", err)
	}

	return nil
}

// ListByUser returns the user's grants issued since the given time, newest first.
func (r *GrantRepository) ListByUser(ctx context.Context, userID shared.UserID, since time.Time) ([]*progression.ForgivenessGrant, error) {
	query := `
		SELECT id, user_id, habit_id, forgiven_date, created_at
		FROM forgiveness_grants
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`

	rows, err := r.conn.Query(ctx, query, userID.String(), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query forgiveness grants: %w", err)
	}
	defer rows.Close()

	var grants []*progression.ForgivenessGrant
	for rows.Next() {
		var (
			grant   progression.ForgivenessGrant
			userID  string
			habitID string
		)
		if err := rows.Scan(&grant.GrantID, &userID, &habitID, &grant.ForgivenDate, &grant.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan forgiveness grant: %w", err)
		}
		grant.UserID = shared.UserID(userID)
		grant.HabitID = shared.HabitID(habitID)
		grant.TokenConsumed = true
		grants = append(grants, &grant)
	}

	return grants, rows.Err()
}

// Exists reports whether a grant exists for (user, habit, date).
func (r *GrantRepository) Exists(ctx context.Context, userID shared.UserID, habitID shared.HabitID, date time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM forgiveness_grants
			WHERE user_id = $1 AND habit_id = $2 AND forgiven_date = $3
		)
	`

	var exists bool
	err := r.conn.QueryRow(ctx, query, userID.String(), habitID.String(), date).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check grant existence: %w", err)
	}
	return exists, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROCESSED EVENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ProcessedEventRepository implements progression.ProcessedEventRepository
// for PostgreSQL. MarkProcessed runs in the same transaction as the record
// update, so a failed event application leaves the id unconsumed.
type ProcessedEventRepository struct {
	conn *Connection
}

// NewProcessedEventRepository creates a new ProcessedEventRepository.
func NewProcessedEventRepository(conn *Connection) *ProcessedEventRepository {
	return &ProcessedEventRepository{conn: conn}
}

// MarkProcessed records that an event id has been applied for a user.
func (r *ProcessedEventRepository) MarkProcessed(ctx context.Context, userID shared.UserID, eventID shared.EventID, processedAt time.Time) error {
	query := `
		INSERT INTO processed_events (user_id, event_id, processed_at)
		VALUES ($1, $2, $3)
	`

	_, err := r.conn.Exec(ctx, query, userID.String(), eventID.String(), processedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	return nil
}

// IsProcessed reports whether an event id has already been applied.
func (r *ProcessedEventRepository) IsProcessed(ctx context.Context, userID shared.UserID, eventID shared.EventID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM processed_events
			WHERE user_id = $1 AND event_id = $2
		)
	`

	var exists bool
	err := r.conn.QueryRow(ctx, query, userID.String(), eventID.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// PurgeOlderThan removes processed-event rows older than the threshold.
func (r *ProcessedEventRepository) PurgeOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	result, err := r.conn.Exec(ctx, "DELETE FROM processed_events WHERE processed_at < $1", threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to purge processed events: %w", err)
	}
	return int(result.RowsAffected()), nil
}
