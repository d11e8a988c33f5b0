package query

import (
	"context"
	"sort"
	"time"

	"github.com/habitforge/progression-hub/internal/domain/challenge"
	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STANDINGS QUERY
// Returns the live or final standings of a challenge. Before finalization the
// order is provisional (completed-first by completion time, then active by
// progress); after finalization FinalRank is authoritative.
// ══════════════════════════════════════════════════════════════════════════════

// GetStandingsQuery contains the query parameters.
type GetStandingsQuery struct {
	ChallengeID shared.ChallengeID
	Pagination  shared.Pagination
}

// Validate validates the query.
func (q GetStandingsQuery) Validate() error {
	if !q.ChallengeID.IsValid() {
		return shared.NewDomainError("query", "GetStandings", shared.ErrInvalidID, "invalid challenge id")
	}
	return nil
}

// StandingDTO is one participant's standing.
type StandingDTO struct {
	UserID      string     `json:"user_id"`
	Position    int        `json:"position"`
	Progress    int        `json:"progress"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FinalRank   int        `json:"final_rank,omitempty"`
	BonusXP     int        `json:"bonus_xp,omitempty"`
}

// StandingsDTO is the full standings response.
type StandingsDTO struct {
	ChallengeID    string        `json:"challenge_id"`
	Title          string        `json:"title"`
	Type           string        `json:"type"`
	Status         string        `json:"status"`
	RewardXP       int           `json:"reward_xp"`
	EndDate        time.Time     `json:"end_date"`
	RanksFinalized bool          `json:"ranks_finalized"`
	Participants   int           `json:"participants"`
	Standings      []StandingDTO `json:"standings"`
}

// StandingsCache caches standings responses for hot community challenges.
// A nil cache or a cache failure falls through to the repositories.
type StandingsCache interface {
	Get(ctx context.Context, challengeID shared.ChallengeID) (*StandingsDTO, bool)
	Set(ctx context.Context, challengeID shared.ChallengeID, dto *StandingsDTO)
	Invalidate(ctx context.Context, challengeID shared.ChallengeID) error
}

// GetStandingsHandler handles the GetStandingsQuery.
type GetStandingsHandler struct {
	challenges    challenge.Repository
	participation challenge.ParticipationRepository
	cache         StandingsCache
	log           *logger.Logger
}

// NewGetStandingsHandler creates a new GetStandingsHandler.
func NewGetStandingsHandler(
	challenges challenge.Repository,
	participation challenge.ParticipationRepository,
	cache StandingsCache,
	log *logger.Logger,
) *GetStandingsHandler {
	return &GetStandingsHandler{
		challenges:    challenges,
		participation: participation,
		cache:         cache,
		log:           log,
	}
}

// Handle executes the query.
func (h *GetStandingsHandler) Handle(ctx context.Context, q GetStandingsQuery) (*StandingsDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if h.cache != nil {
		if dto, ok := h.cache.Get(ctx, q.ChallengeID); ok {
			return paginate(dto, q.Pagination), nil
		}
	}

	c, err := h.challenges.GetByID(ctx, q.ChallengeID)
	if err != nil {
		return nil, err
	}
	participations, err := h.participation.ListByChallenge(ctx, q.ChallengeID)
	if err != nil {
		return nil, err
	}

	dto := buildStandings(c, participations, time.Now().UTC())

	if h.cache != nil {
		h.cache.Set(ctx, q.ChallengeID, dto)
	}
	return paginate(dto, q.Pagination), nil
}

// buildStandings orders participations into standings.
func buildStandings(c *challenge.Challenge, participations []*challenge.Participation, now time.Time) *StandingsDTO {
	ordered := make([]*challenge.Participation, 0, len(participations))
	for _, p := range participations {
		if p.Abandoned {
			continue
		}
		ordered = append(ordered, p)
	}

	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if c.RanksFinalized && a.FinalRank != b.FinalRank {
			// Unranked (0) participants sort last.
			if a.FinalRank == 0 || b.FinalRank == 0 {
				return b.FinalRank == 0
			}
			return a.FinalRank < b.FinalRank
		}
		if a.Completed != b.Completed {
			return a.Completed
		}
		if a.Completed && b.Completed {
			if !a.CompletedAt.Equal(*b.CompletedAt) {
				return a.CompletedAt.Before(*b.CompletedAt)
			}
			return a.ID < b.ID
		}
		if a.Progress != b.Progress {
			return a.Progress > b.Progress
		}
		return a.ID < b.ID
	})

	dto := &StandingsDTO{
		ChallengeID:    c.ID.String(),
		Title:          c.Title,
		Type:           string(c.Type),
		Status:         string(c.StatusAt(now)),
		RewardXP:       c.RewardXP,
		EndDate:        c.EndDate,
		RanksFinalized: c.RanksFinalized,
		Participants:   len(participations),
	}

	for i, p := range ordered {
		entry := StandingDTO{
			UserID:      p.UserID.String(),
			Position:    i + 1,
			Progress:    p.Progress.Int(),
			Completed:   p.Completed,
			CompletedAt: p.CompletedAt,
			FinalRank:   p.FinalRank,
		}
		if c.RanksFinalized && c.Type == challenge.TypeCommunity {
			switch p.FinalRank {
			case 1:
				entry.BonusXP = c.RewardXP * challenge.RankFirstBonusPercent / 100
			case 2:
				entry.BonusXP = c.RewardXP * challenge.RankSecondBonusPercent / 100
			case 3:
				entry.BonusXP = c.RewardXP * challenge.RankThirdBonusPercent / 100
			}
		}
		dto.Standings = append(dto.Standings, entry)
	}
	return dto
}

// paginate slices the standings list without copying the header.
func paginate(dto *StandingsDTO, p shared.Pagination) *StandingsDTO {
	offset := p.Offset()
	limit := p.Limit()
	if offset >= len(dto.Standings) {
		out := *dto
		out.Standings = nil
		return &out
	}
	end := offset + limit
	if end > len(dto.Standings) {
		end = len(dto.Standings)
	}
	out := *dto
	out.Standings = dto.Standings[offset:end]
	return &out
}
