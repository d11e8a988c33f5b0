// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"time"

	"github.com/habitforge/progression-hub/internal/domain/achievement"
	"github.com/habitforge/progression-hub/internal/domain/progression"
	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESSION QUERY
// Returns a user's full progression snapshot: XP, level, token allowance, and
// unlocked achievements. This is the read the host app uses to render the
// profile and progress screens.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressionQuery contains the query parameters.
type GetProgressionQuery struct {
	// UserID is the user to read.
	UserID shared.UserID

	// Stats, when supplied, enables achievement progress reporting for
	// partially-trackable achievements.
	Stats *shared.HabitStats
}

// Validate validates the query.
func (q GetProgressionQuery) Validate() error {
	if !q.UserID.IsValid() {
		return shared.NewDomainError("query", "GetProgression", shared.ErrInvalidID, "invalid user id")
	}
	return nil
}

// AchievementDTO is one unlocked achievement for display.
type AchievementDTO struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Rarity      string `json:"rarity"`
	Category    string `json:"category"`
	XPReward    int    `json:"xp_reward"`
}

// AchievementProgressDTO is progress toward a partially-trackable achievement.
type AchievementProgressDTO struct {
	ID       string `json:"id"`
	Current  int    `json:"current"`
	Max      int    `json:"max"`
	Unlocked bool   `json:"unlocked"`
}

// ProgressionDTO is the full progression snapshot.
type ProgressionDTO struct {
	UserID              string                   `json:"user_id"`
	TotalXP             int                      `json:"total_xp"`
	CurrentLevel        int                      `json:"current_level"`
	LevelTitle          string                   `json:"level_title"`
	LevelColor          string                   `json:"level_color"`
	XPForCurrentLevel   int                      `json:"xp_for_current_level"`
	XPForNextLevel      int                      `json:"xp_for_next_level"`
	ProgressToNextLevel int                      `json:"progress_to_next_level"`
	ProgressPercentage  float64                  `json:"progress_percentage"`
	IsMilestone         bool                     `json:"is_milestone"`
	NextMilestone       int                      `json:"next_milestone"`
	ForgivenessTokens   int                      `json:"forgiveness_tokens"`
	TokenCycleStart     time.Time                `json:"token_cycle_start"`
	Achievements        []AchievementDTO         `json:"achievements"`
	AchievementProgress []AchievementProgressDTO `json:"achievement_progress,omitempty"`
	CatalogVersion      string                   `json:"catalog_version"`
}

// GetProgressionHandler handles the GetProgressionQuery.
type GetProgressionHandler struct {
	records   progression.Repository
	evaluator *achievement.Evaluator
	ledger    *progression.TokenLedger
	curve     progression.CurveParams
}

// NewGetProgressionHandler creates a new GetProgressionHandler.
func NewGetProgressionHandler(
	records progression.Repository,
	evaluator *achievement.Evaluator,
	ledger *progression.TokenLedger,
	curve progression.CurveParams,
) *GetProgressionHandler {
	return &GetProgressionHandler{
		records:   records,
		evaluator: evaluator,
		ledger:    ledger,
		curve:     curve,
	}
}

// Handle executes the query. The token allowance is read through the ledger,
// so a month-boundary crossing is reflected without waiting for a write.
func (h *GetProgressionHandler) Handle(ctx context.Context, q GetProgressionQuery) (*ProgressionDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	record, err := h.records.GetByUserID(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	// The lazy reset mutates only the in-memory copy here; the next write
	// path persists it.
	tokens := h.ledger.GrantsAvailable(record, now)
	info := record.LevelSnapshot(h.curve)

	dto := &ProgressionDTO{
		UserID:              record.UserID.String(),
		TotalXP:             record.TotalXP.Int(),
		CurrentLevel:        info.CurrentLevel,
		LevelTitle:          progression.LevelTitle(info.CurrentLevel),
		LevelColor:          progression.LevelColor(info.CurrentLevel),
		XPForCurrentLevel:   info.XPForCurrentLevel,
		XPForNextLevel:      info.XPForNextLevel,
		ProgressToNextLevel: info.ProgressToNextLevel,
		ProgressPercentage:  info.ProgressPercentage,
		IsMilestone:         info.IsMilestone,
		NextMilestone:       info.NextMilestone,
		ForgivenessTokens:   tokens,
		TokenCycleStart:     record.TokenCycleStart,
		CatalogVersion:      h.evaluator.Catalog().Version(),
	}

	for _, id := range record.SortedAchievements() {
		entry, err := h.evaluator.Catalog().Get(id)
		if err != nil {
			// Ids from an older catalog version stay on the record but are
			// not displayable.
			continue
		}
		dto.Achievements = append(dto.Achievements, AchievementDTO{
			ID:          entry.ID.String(),
			Title:       entry.Title,
			Description: entry.Description,
			Rarity:      entry.Rarity.String(),
			Category:    string(entry.Category),
			XPReward:    entry.XPReward,
		})
	}

	if q.Stats != nil {
		for _, p := range h.evaluator.TrackProgress(record, *q.Stats) {
			dto.AchievementProgress = append(dto.AchievementProgress, AchievementProgressDTO{
				ID:       p.AchievementID.String(),
				Current:  p.Current,
				Max:      p.Max,
				Unlocked: p.Unlocked,
			})
		}
	}

	return dto, nil
}
