// Package jobs contains implementations of scheduled jobs for the
// progression engine.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/habitforge/progression-hub/internal/application/command"
	"github.com/habitforge/progression-hub/internal/domain/challenge"
	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FINALIZE CHALLENGES JOB
// Sweeps community challenges past their end date and runs the one-shot rank
// finalization pass for each. The pass itself is idempotent, so a challenge
// picked up twice by overlapping sweeps only finalizes once.
// ══════════════════════════════════════════════════════════════════════════════

// FinalizeChallengesJob finalizes ranks for ended community challenges.
type FinalizeChallengesJob struct {
	challenges challenge.Repository
	finalizer  *command.FinalizeChallengeHandler
	logger     *slog.Logger
	config     FinalizeChallengesConfig
}

// FinalizeChallengesConfig contains configuration for the job.
type FinalizeChallengesConfig struct {
	// BatchSize is the maximum challenges to finalize per sweep.
	BatchSize int

	// Timeout is the maximum duration for one sweep.
	Timeout time.Duration
}

// DefaultFinalizeChallengesConfig returns sensible defaults.
func DefaultFinalizeChallengesConfig() FinalizeChallengesConfig {
	return FinalizeChallengesConfig{
		BatchSize: 50,
		Timeout:   2 * time.Minute,
	}
}

// NewFinalizeChallengesJob creates a new finalization sweep job.
func NewFinalizeChallengesJob(
	challenges challenge.Repository,
	finalizer *command.FinalizeChallengeHandler,
	logger *slog.Logger,
	config FinalizeChallengesConfig,
) *FinalizeChallengesJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	return &FinalizeChallengesJob{
		challenges: challenges,
		finalizer:  finalizer,
		logger:     logger,
		config:     config,
	}
}

// Name returns the job name.
func (j *FinalizeChallengesJob) Name() string {
	return "finalize_challenges"
}

// Description returns a human-readable description.
func (j *FinalizeChallengesJob) Description() string {
	return "Finalizes ranks and credits rank bonuses for ended community challenges"
}

// Run executes one sweep.
func (j *FinalizeChallengesJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	now := time.Now().UTC()
	pending, err := j.challenges.ListEndedUnfinalized(ctx, now, j.config.BatchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	finalized := 0
	var lastErr error
	for _, c := range pending {
		_, err := j.finalizer.Handle(ctx, command.FinalizeChallengeCommand{
			ChallengeID: c.ID,
			Timestamp:   now,
		})
		if err != nil {
			// A concurrent sweep got there first; not a failure.
			if errors.Is(err, shared.ErrRanksAlreadyFinal) {
				continue
			}
			j.logger.Error("failed to finalize challenge",
				"challenge_id", c.ID.String(),
				"error", err,
			)
			lastErr = err
			continue
		}
		finalized++
	}

	j.logger.Info("finalization sweep done",
		"pending", len(pending),
		"finalized", finalized,
	)
	return lastErr
}
