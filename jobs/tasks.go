package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypePackingListBackfill assigns numbers to legacy packing lists
	// that were imported without one.
	TaskTypePackingListBackfill = "packinglist:backfill_numbers"
	// TaskTypeIdempotencyCleanup prunes expired idempotency keys.
	TaskTypeIdempotencyCleanup = "idempotency:cleanup"
)

// PackingListBackfillPayload bounds one backfill sweep.
type PackingListBackfillPayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

// NewPackingListBackfillTask constructs a backfill task.
func NewPackingListBackfillTask() (*asynq.Task, error) {
	data, err := json.Marshal(PackingListBackfillPayload{RequestedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePackingListBackfill, data), nil
}

// IdempotencyCleanupPayload bounds one cleanup sweep.
type IdempotencyCleanupPayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask() (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RequestedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIdempotencyCleanup, data), nil
}
