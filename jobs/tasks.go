package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueWebhooks carries webhook delivery attempts.
	QueueWebhooks = "webhooks"
	// TaskWebhookDeliver performs one delivery attempt for a propagation.
	TaskWebhookDeliver = "webhook:deliver"
	// TaskWebhookSweep re-queues stale pending propagations.
	TaskWebhookSweep = "webhook:sweep"
	// TaskIdempotencyPrune drops expired Idempotency-Key claims.
	TaskIdempotencyPrune = "idempotency:prune"
)

// WebhookDeliverPayload identifies the propagation to attempt.
type WebhookDeliverPayload struct {
	PropagationID uuid.UUID `json:"propagation_id"`
}

// NewWebhookDeliverTask constructs an Asynq task.
func NewWebhookDeliverTask(id uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(WebhookDeliverPayload{PropagationID: id})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWebhookDeliver, data), nil
}

// NewWebhookSweepTask constructs the periodic sweep task.
func NewWebhookSweepTask() *asynq.Task {
	return asynq.NewTask(TaskWebhookSweep, nil)
}

// NewIdempotencyPruneTask constructs the periodic prune task.
func NewIdempotencyPruneTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyPrune, nil)
}

// DeliverTaskID is the queue-wide identity of a propagation's delivery task.
// Only one delivery task per propagation can be queued at a time.
func DeliverTaskID(id uuid.UUID) string {
	return fmt.Sprintf("%s:%s", TaskWebhookDeliver, id)
}
