package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/habitforge/progression-hub/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// PURGE PROCESSED EVENTS JOB
// The processed-event ledger only needs to cover the window in which the
// habit subsystem can redeliver an event; rows past that window are dead
// weight on the index.
// ══════════════════════════════════════════════════════════════════════════════

// PurgeEventsJob removes old processed-event rows.
type PurgeEventsJob struct {
	processed progression.ProcessedEventRepository
	retention time.Duration
	logger    *slog.Logger
}

// NewPurgeEventsJob creates a new purge job.
func NewPurgeEventsJob(processed progression.ProcessedEventRepository, retention time.Duration, logger *slog.Logger) *PurgeEventsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &PurgeEventsJob{
		processed: processed,
		retention: retention,
		logger:    logger,
	}
}

// Name returns the job name.
func (j *PurgeEventsJob) Name() string {
	return "purge_processed_events"
}

// Description returns a human-readable description.
func (j *PurgeEventsJob) Description() string {
	return "Removes processed-event rows older than the retention window"
}

// Run executes one purge pass.
func (j *PurgeEventsJob) Run(ctx context.Context) error {
	threshold := time.Now().UTC().Add(-j.retention)

	purged, err := j.processed.PurgeOlderThan(ctx, threshold)
	if err != nil {
		return err
	}

	if purged > 0 {
		j.logger.Info("purged processed events", "rows", purged, "older_than", threshold.Format(time.RFC3339))
	}
	return nil
}
