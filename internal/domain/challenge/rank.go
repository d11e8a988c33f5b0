package challenge

import (
	"sort"
	"time"

	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// Rank bonus percentages for community challenges. Rank 4 and below earn no
// bonus.
const (
	RankFirstBonusPercent  = 50
	RankSecondBonusPercent = 30
	RankThirdBonusPercent  = 20
)

// RankBonus is one participant's finalized rank and bonus.
type RankBonus struct {
	UserID  shared.UserID
	Rank    int
	BonusXP int
}

// bonusPercentForRank returns the bonus percent of RewardXP for a rank.
func bonusPercentForRank(rank int) int {
	switch rank {
	case 1:
		return RankFirstBonusPercent
	case 2:
		return RankSecondBonusPercent
	case 3:
		return RankThirdBonusPercent
	default:
		return 0
	}
}

// FinalizeRanks runs the single idempotent rank pass for a challenge.
//
// It may only run once the challenge's end date has passed, because rank
// depends on the relative completion order of all participants: a streaming
// per-participant update could assign a rank that a later completion would
// invalidate. Completed participations are ordered by completion time
// (earlier is better) with participation id as a deterministic tie-break,
// FinalRank is assigned 1..n, and bonuses are computed for community
// challenges. Ranks are immutable once finalized.
//
// The passed participations are mutated in place; the caller persists them
// together with the challenge in one transaction.
func FinalizeRanks(c *Challenge, participations []*Participation, now time.Time) ([]RankBonus, error) {
	if c.RanksFinalized {
		return nil, shared.ErrRanksAlreadyFinal
	}
	if !c.HasEnded(now) {
		return nil, shared.ErrChallengeStillRunning
	}

	completed := make([]*Participation, 0, len(participations))
	for _, p := range participations {
		if p.ChallengeID != c.ID {
			return nil, shared.NewDomainError("challenge", "FinalizeRanks", shared.ErrInvalidInput, "participation does not belong to this challenge")
		}
		if p.Completed && p.CompletedAt != nil {
			completed = append(completed, p)
		}
	}

	sort.Slice(completed, func(i, j int) bool {
		if completed[i].CompletedAt.Equal(*completed[j].CompletedAt) {
			return completed[i].ID < completed[j].ID
		}
		return completed[i].CompletedAt.Before(*completed[j].CompletedAt)
	})

	bonuses := make([]RankBonus, 0, len(completed))
	for i, p := range completed {
		rank := i + 1
		p.FinalRank = rank
		p.UpdatedAt = now.UTC()

		bonus := 0
		if c.Type == TypeCommunity {
			bonus = c.RewardXP * bonusPercentForRank(rank) / 100
		}
		bonuses = append(bonuses, RankBonus{UserID: p.UserID, Rank: rank, BonusXP: bonus})
	}

	c.RanksFinalized = true
	c.UpdatedAt = now.UTC()
	return bonuses, nil
}
