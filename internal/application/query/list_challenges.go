package query

import (
	"context"
	"time"

	"github.com/habitforge/progression-hub/internal/domain/challenge"
	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST CHALLENGES QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ListChallengesQuery contains the query parameters.
type ListChallengesQuery struct {
	// UserID, when supplied, restricts the result to challenges the user
	// actively participates in.
	UserID shared.UserID

	Pagination shared.Pagination
}

// ChallengeDTO is one challenge for display.
type ChallengeDTO struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Title        string                  `json:"title"`
	Description  string                  `json:"description,omitempty"`
	Requirements []challenge.Requirement `json:"requirements"`
	DurationDays int                     `json:"duration_days"`
	RewardXP     int                     `json:"reward_xp"`
	StartDate    time.Time               `json:"start_date"`
	EndDate      time.Time               `json:"end_date"`
	Status       string                  `json:"status"`
	Progress     int                     `json:"progress,omitempty"`
}

// ListChallengesHandler handles the ListChallengesQuery.
type ListChallengesHandler struct {
	challenges    challenge.Repository
	participation challenge.ParticipationRepository
}

// NewListChallengesHandler creates a new ListChallengesHandler.
func NewListChallengesHandler(
	challenges challenge.Repository,
	participation challenge.ParticipationRepository,
) *ListChallengesHandler {
	return &ListChallengesHandler{challenges: challenges, participation: participation}
}

// Handle executes the query.
func (h *ListChallengesHandler) Handle(ctx context.Context, q ListChallengesQuery) ([]ChallengeDTO, error) {
	now := time.Now().UTC()

	if q.UserID.IsValid() {
		return h.listForUser(ctx, q.UserID, now)
	}

	active, err := h.challenges.ListActive(ctx, now, q.Pagination)
	if err != nil {
		return nil, err
	}
	out := make([]ChallengeDTO, 0, len(active))
	for _, c := range active {
		out = append(out, toChallengeDTO(c, now, 0))
	}
	return out, nil
}

// listForUser resolves the user's active participations to their challenges.
func (h *ListChallengesHandler) listForUser(ctx context.Context, userID shared.UserID, now time.Time) ([]ChallengeDTO, error) {
	participations, err := h.participation.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ChallengeDTO, 0, len(participations))
	for _, p := range participations {
		c, err := h.challenges.GetByID(ctx, p.ChallengeID)
		if err != nil {
			if shared.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, toChallengeDTO(c, now, p.Progress.Int()))
	}
	return out, nil
}

func toChallengeDTO(c *challenge.Challenge, now time.Time, progress int) ChallengeDTO {
	return ChallengeDTO{
		ID:           c.ID.String(),
		Type:         string(c.Type),
		Title:        c.Title,
		Description:  c.Description,
		Requirements: c.Requirements,
		DurationDays: c.DurationDays,
		RewardXP:     c.RewardXP,
		StartDate:    c.StartDate,
		EndDate:      c.EndDate,
		Status:       string(c.StatusAt(now)),
		Progress:     progress,
	}
}
