package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/habitforge/progression-hub/internal/domain/challenge"
	"github.com/habitforge/progression-hub/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

const challengeColumns = `
	id, type, title, description, requirements, duration_days, reward_xp,
	start_date, end_date, max_participants, ranks_finalized, recovery_for,
	days_missed, created_at, updated_at
`

// ChallengeRepository implements challenge.Repository for PostgreSQL.
type ChallengeRepository struct {
	conn *Connection
}

// NewChallengeRepository creates a new ChallengeRepository.
func NewChallengeRepository(conn *Connection) *ChallengeRepository {
	return &ChallengeRepository{conn: conn}
}

// Create stores a new challenge.
func (r *ChallengeRepository) Create(ctx context.Context, c *challenge.Challenge) error {
	query := `
		INSERT INTO challenges (
			id, type, title, description, requirements, duration_days, reward_xp,
			start_date, end_date, max_participants, ranks_finalized, recovery_for,
			days_missed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	requirementsJSON, err := json.Marshal(c.Requirements)
	if err != nil {
		return fmt.Errorf("failed to marshal requirements: %w", err)
	}

	_, err = r.conn.Exec(ctx, query,
		c.ID.String(),
		string(c.Type),
		c.Title,
		c.Description,
		requirementsJSON,
		c.DurationDays,
		c.RewardXP,
		c.StartDate,
		c.EndDate,
		c.MaxParticipants,
		c.RanksFinalized,
		c.RecoveryFor.String(),
		c.DaysMissed,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create challenge: %w", err)
	}

	return nil
}

// GetByID returns a challenge.
func (r *ChallengeRepository) GetByID(ctx context.Context, id shared.ChallengeID) (*challenge.Challenge, error) {
	query := fmt.Sprintf("SELECT %s FROM challenges WHERE id = $1", challengeColumns)
	return r.scanChallenge(r.conn.QueryRow(ctx, query, id.String()))
}

// Update persists a modified challenge.
func (r *ChallengeRepository) Update(ctx context.Context, c *challenge.Challenge) error {
	query := `
		UPDATE challenges SET
			title = $1,
			description = $2,
			requirements = $3,
			reward_xp = $4,
			start_date = $5,
			end_date = $6,
			max_participants = $7,
			ranks_finalized = $8,
			updated_at = $9
		WHERE id = $10
	`

	requirementsJSON, err := json.Marshal(c.Requirements)
	if err != nil {
		return fmt.Errorf("failed to marshal requirements: %w", err)
	}

	result, err := r.conn.Exec(ctx, query,
		c.Title,
		c.Description,
		requirementsJSON,
		c.RewardXP,
		c.StartDate,
		c.EndDate,
		c.MaxParticipants,
		c.RanksFinalized,
		c.UpdatedAt,
		c.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update challenge: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrChallengeNotFound
	}

	return nil
}

// ListActive returns challenges whose window contains now.
func (r *ChallengeRepository) ListActive(ctx context.Context, now time.Time, p shared.Pagination) ([]*challenge.Challenge, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM challenges
		WHERE start_date <= $1 AND end_date >= $1
		ORDER BY end_date ASC
		LIMIT $2 OFFSET $3
	`, challengeColumns)

	rows, err := r.conn.Query(ctx, query, now, p.Limit(), p.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to query active challenges: %w", err)
	}
	defer rows.Close()

	return r.scanChallenges(rows)
}

// ListEndedUnfinalized returns community challenges past their end date
// whose ranks have not been finalized.
func (r *ChallengeRepository) ListEndedUnfinalized(ctx context.Context, now time.Time, limit int) ([]*challenge.Challenge, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM challenges
		WHERE type = 'community' AND ranks_finalized = FALSE AND end_date < $1
		ORDER BY end_date ASC
		LIMIT $2
	`, challengeColumns)

	rows, err := r.conn.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unfinalized challenges: %w", err)
	}
	defer rows.Close()

	return r.scanChallenges(rows)
}

// ListExpiredRecoveries returns recovery challenges past their end date with
// still-active participations.
func (r *ChallengeRepository) ListExpiredRecoveries(ctx context.Context, now time.Time, limit int) ([]*challenge.Challenge, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM challenges c
		WHERE c.recovery_for <> '' AND c.end_date < $1
		  AND EXISTS (
			SELECT 1 FROM challenge_participations p
			WHERE p.challenge_id = c.id AND p.completed = FALSE AND p.abandoned = FALSE
		  )
		ORDER BY c.end_date ASC
		LIMIT $2
	`, challengeColumnsQualified("c"))

	rows, err := r.conn.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired recoveries: %w", err)
	}
	defer rows.Close()

	return r.scanChallenges(rows)
}

func challengeColumnsQualified(alias string) string {
	return fmt.Sprintf(`
		%[1]s.id, %[1]s.type, %[1]s.title, %[1]s.description, %[1]s.requirements,
		%[1]s.duration_days, %[1]s.reward_xp, %[1]s.start_date, %[1]s.end_date,
		%[1]s.max_participants, %[1]s.ranks_finalized, %[1]s.recovery_for,
		%[1]s.days_missed, %[1]s.created_at, %[1]s.updated_at
	`, alias)
}

func (r *ChallengeRepository) scanChallenge(row pgx.Row) (*challenge.Challenge, error) {
	var (
		c                challenge.Challenge
		id               string
		ctype            string
		requirementsJSON []byte
		recoveryFor      string
	)

	err := row.Scan(
		&id,
		&ctype,
		&c.Title,
		&c.Description,
		&requirementsJSON,
		&c.DurationDays,
		&c.RewardXP,
		&c.StartDate,
		&c.EndDate,
		&c.MaxParticipants,
		&c.RanksFinalized,
		&recoveryFor,
		&c.DaysMissed,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to scan challenge: %w", err)
	}

	c.ID = shared.ChallengeID(id)
	c.Type = challenge.Type(ctype)
	c.RecoveryFor = shared.HabitID(recoveryFor)
	if err := json.Unmarshal(requirementsJSON, &c.Requirements); err != nil {
		return nil, fmt.Errorf("failed to unmarshal requirements: %w", err)
	}

	return &c, nil
}

func (r *ChallengeRepository) scanChallenges(rows pgx.Rows) ([]*challenge.Challenge, error) {
	var challenges []*challenge.Challenge
	for rows.Next() {
		c, err := r.scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, c)
	}
	return challenges, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// PARTICIPATION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

const participationColumns = `
	id, user_id, challenge_id, progress, completed, abandoned,
	start_date, end_date, completed_at, final_rank, joined_at, updated_at
`

// ParticipationRepository implements challenge.ParticipationRepository for
// PostgreSQL.
type ParticipationRepository struct {
	conn *Connection
}

// NewParticipationRepository creates a new ParticipationRepository.
func NewParticipationRepository(conn *Connection) *ParticipationRepository {
	return &ParticipationRepository{conn: conn}
}

// Create stores a new participation.
func (r *ParticipationRepository) Create(ctx context.Context, p *challenge.Participation) error {
	query := `
		INSERT INTO challenge_participations (
			id, user_id, challenge_id, progress, completed, abandoned,
			start_date, end_date, completed_at, final_rank, joined_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.conn.Exec(ctx, query,
		p.ID,
		p.UserID.String(),
		p.ChallengeID.String(),
		p.Progress.Int(),
		p.Completed,
		p.Abandoned,
		p.StartDate,
		p.EndDate,
		p.CompletedAt,
		p.FinalRank,
		p.JoinedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyJoined
		}
		return fmt.Errorf("failed to create participation: %w", err)
	}

	return nil
}

// Get returns a user's participation in a challenge.
func (r *ParticipationRepository) Get(ctx context.Context, userID shared.UserID, challengeID shared.ChallengeID) (*challenge.Participation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM challenge_participations
		WHERE user_id = $1 AND challenge_id = $2
	`, participationColumns)

	return r.scanParticipation(r.conn.QueryRow(ctx, query, userID.String(), challengeID.String()))
}

// Update persists a modified participation.
func (r *ParticipationRepository) Update(ctx context.Context, p *challenge.Participation) error {
	query := `
		UPDATE challenge_participations SET
			progress = $1,
			completed = $2,
			abandoned = $3,
			completed_at = $4,
			final_rank = $5,
			updated_at = $6
		WHERE id = $7
	`

	result, err := r.conn.Exec(ctx, query,
		p.Progress.Int(),
		p.Completed,
		p.Abandoned,
		p.CompletedAt,
		p.FinalRank,
		p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update participation: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrParticipationNotFound
	}

	return nil
}

// UpdateAll persists a batch of participations. Callers wrap this in a
// transaction when atomicity matters; rank finalization does.
func (r *ParticipationRepository) UpdateAll(ctx context.Context, ps []*challenge.Participation) error {
	for _, p := range ps {
		if err := r.Update(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// ListByChallenge returns all participations of a challenge.
func (r *ParticipationRepository) ListByChallenge(ctx context.Context, challengeID shared.ChallengeID) ([]*challenge.Participation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM challenge_participations
		WHERE challenge_id = $1
		ORDER BY joined_at ASC
	`, participationColumns)

	rows, err := r.conn.Query(ctx, query, challengeID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query participations: %w", err)
	}
	defer rows.Close()

	return r.scanParticipations(rows)
}

// ListActiveByUser returns a user's active participations.
func (r *ParticipationRepository) ListActiveByUser(ctx context.Context, userID shared.UserID) ([]*challenge.Participation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM challenge_participations
		WHERE user_id = $1 AND completed = FALSE AND abandoned = FALSE
		ORDER BY joined_at ASC
	`, participationColumns)

	rows, err := r.conn.Query(ctx, query, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query active participations: %w", err)
	}
	defer rows.Close()

	return r.scanParticipations(rows)
}

// CountByChallenge returns the participant count of a challenge.
func (r *ParticipationRepository) CountByChallenge(ctx context.Context, challengeID shared.ChallengeID) (int, error) {
	var count int
	err := r.conn.QueryRow(ctx,
		"SELECT COUNT(*) FROM challenge_participations WHERE challenge_id = $1",
		challengeID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count participations: %w", err)
	}
	return count, nil
}

// HasActiveRecovery reports whether the user has an active participation in a
// recovery challenge for the habit.
func (r *ParticipationRepository) HasActiveRecovery(ctx context.Context, userID shared.UserID, habitID shared.HabitID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM challenge_participations p
			JOIN challenges c ON c.id = p.challenge_id
			WHERE p.user_id = $1
			  AND c.recovery_for = $2
			  AND p.completed = FALSE AND p.abandoned = FALSE
		)
	`

	var exists bool
	err := r.conn.QueryRow(ctx, query, userID.String(), habitID.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active recovery: %w", err)
	}
	return exists, nil
}

func (r *ParticipationRepository) scanParticipation(row pgx.Row) (*challenge.Participation, error) {
	var (
		p           challenge.Participation
		userID      string
		challengeID string
		progress    int
	)

	err := row.Scan(
		&p.ID,
		&userID,
		&challengeID,
		&progress,
		&p.Completed,
		&p.Abandoned,
		&p.StartDate,
		&p.EndDate,
		&p.CompletedAt,
		&p.FinalRank,
		&p.JoinedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrParticipationNotFound
		}
		return nil, fmt.Errorf("failed to scan participation: %w", err)
	}

	p.UserID = shared.UserID(userID)
	p.ChallengeID = shared.ChallengeID(challengeID)
	p.Progress = shared.Percent(progress)

	return &p, nil
}

func (r *ParticipationRepository) scanParticipations(rows pgx.Rows) ([]*challenge.Participation, error) {
	var participations []*challenge.Participation
	for rows.Next() {
		p, err := r.scanParticipation(rows)
		if err != nil {
			return nil, err
		}
		participations = append(participations, p)
	}
	return participations, rows.Err()
}
