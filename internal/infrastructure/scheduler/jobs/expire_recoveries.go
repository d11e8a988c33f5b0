package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/habitforge/progression-hub/internal/domain/challenge"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPIRE RECOVERIES JOB
// Recovery challenges that ran out without completing are abandoned so the
// user becomes eligible for a fresh recovery on the next missed day.
// ══════════════════════════════════════════════════════════════════════════════

// ExpireRecoveriesJob abandons stale recovery participations.
type ExpireRecoveriesJob struct {
	challenges    challenge.Repository
	participation challenge.ParticipationRepository
	logger        *slog.Logger
	batchSize     int
}

// NewExpireRecoveriesJob creates a new recovery expiry job.
func NewExpireRecoveriesJob(
	challenges challenge.Repository,
	participation challenge.ParticipationRepository,
	logger *slog.Logger,
	batchSize int,
) *ExpireRecoveriesJob {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpireRecoveriesJob{
		challenges:    challenges,
		participation: participation,
		logger:        logger,
		batchSize:     batchSize,
	}
}

// Name returns the job name.
func (j *ExpireRecoveriesJob) Name() string {
	return "expire_recoveries"
}

// Description returns a human-readable description.
func (j *ExpireRecoveriesJob) Description() string {
	return "Abandons expired recovery challenge participations"
}

// Run executes one sweep.
func (j *ExpireRecoveriesJob) Run(ctx context.Context) error {
	now := time.Now().UTC()

	expired, err := j.challenges.ListExpiredRecoveries(ctx, now, j.batchSize)
	if err != nil {
		return err
	}

	abandoned := 0
	var lastErr error
	for _, c := range expired {
		participations, err := j.participation.ListByChallenge(ctx, c.ID)
		if err != nil {
			lastErr = err
			continue
		}
		for _, p := range participations {
			if !p.IsActive() {
				continue
			}
			if err := p.Abandon(now); err != nil {
				continue
			}
			if err := j.participation.Update(ctx, p); err != nil {
				j.logger.Error("failed to abandon recovery participation",
					"challenge_id", c.ID.String(),
					"user_id", p.UserID.String(),
					"error", err,
				)
				lastErr = err
				continue
			}
			abandoned++
		}
	}

	if abandoned > 0 {
		j.logger.Info("recovery expiry sweep done",
			"challenges", len(expired),
			"abandoned", abandoned,
		)
	}
	return lastErr
}
