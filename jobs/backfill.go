package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// NumberBackfiller is the packing list service surface the backfill job
// needs.
type NumberBackfiller interface {
	BackfillMissingNumbers(ctx context.Context) (int, error)
}

// PackingListBackfillJob sweeps unnumbered packing lists and assigns
// document numbers.
type PackingListBackfillJob struct {
	PackingLists NumberBackfiller
	Logger       *slog.Logger
}

// NewPackingListBackfillJob wires dependencies for the backfill handler.
func NewPackingListBackfillJob(pls NumberBackfiller, logger *slog.Logger) *PackingListBackfillJob {
	return &PackingListBackfillJob{PackingLists: pls, Logger: logger}
}

// Handle processes packing list backfill tasks.
func (j *PackingListBackfillJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.PackingLists == nil {
		return errors.New("packing list backfill: handler not configured")
	}
	var payload PackingListBackfillPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	repaired, err := j.PackingLists.BackfillMissingNumbers(ctx)
	if err != nil {
		j.Logger.Error("packing list backfill failed",
			slog.Int("repaired", repaired), slog.Any("error", err))
		return err
	}
	if repaired > 0 {
		j.Logger.Info("packing list numbers backfilled", slog.Int("repaired", repaired))
	}
	return nil
}

// KeyCleaner is the idempotency store surface the cleanup job needs.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Keys older than this no longer guard any in-flight retry.
const idempotencyRetention = 7 * 24 * time.Hour

// IdempotencyCleanupJob prunes expired idempotency keys.
type IdempotencyCleanupJob struct {
	Store  KeyCleaner
	Logger *slog.Logger
}

// NewIdempotencyCleanupJob wires dependencies for the cleanup handler.
func NewIdempotencyCleanupJob(store KeyCleaner, logger *slog.Logger) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger}
}

// Handle processes idempotency cleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	removed, err := j.Store.Cleanup(ctx, idempotencyRetention)
	if err != nil {
		j.Logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	if removed > 0 {
		j.Logger.Info("idempotency keys pruned", slog.Int64("removed", removed))
	}
	return nil
}
