package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-gateway/internal/jobs"
	"github.com/odyssey-erp/odyssey-gateway/internal/webhook"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// WebhookService is the part of the webhook dispatcher the worker drives.
type WebhookService interface {
	Deliver(ctx context.Context, id uuid.UUID) error
	Sweep(ctx context.Context) (int, error)
}

// WebhookJob runs delivery attempts and the stale-propagation sweep.
type WebhookJob struct {
	Service WebhookService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewWebhookJob wires dependencies for the webhook handlers.
func NewWebhookJob(service WebhookService, logger *slog.Logger, metrics *jobmetrics.Metrics) *WebhookJob {
	return &WebhookJob{Service: service, Logger: logger, Metrics: metrics}
}

// HandleDeliver processes TaskWebhookDeliver tasks. A propagation that has
// just failed permanently completes the task so its id can be queued again
// by a manual retry; every other error goes back to Asynq for a retry.
func (j *WebhookJob) HandleDeliver(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("webhook deliver: handler not configured")
	}
	var payload WebhookDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.PropagationID == uuid.Nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskWebhookDeliver)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	err := j.Service.Deliver(ctx, payload.PropagationID)
	switch {
	case err == nil:
	case errors.Is(err, webhook.ErrPermanent):
	case errors.Is(err, webhook.ErrNotFound):
		j.logger(TaskWebhookDeliver).Warn("propagation vanished", slog.String("propagation_id", payload.PropagationID.String()))
		resultErr = asynq.SkipRetry
	case errors.Is(err, webhook.ErrLocked), errors.Is(err, webhook.ErrRetryable):
		resultErr = err
	default:
		j.logger(TaskWebhookDeliver).Error("deliver webhook", slog.String("propagation_id", payload.PropagationID.String()), slog.Any("error", err))
		resultErr = err
	}
	return resultErr
}

// HandleSweep processes TaskWebhookSweep tasks.
func (j *WebhookJob) HandleSweep(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("webhook sweep: handler not configured")
	}
	tracker := j.metrics().Track(TaskWebhookSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	requeued, err := j.Service.Sweep(ctx)
	if err != nil {
		resultErr = err
		j.logger(TaskWebhookSweep).Error("sweep propagations", slog.Any("error", err))
		return resultErr
	}
	j.metrics().ObserveRequeued(requeued)
	j.logger(TaskWebhookSweep).Info("completed webhook sweep", slog.Int("requeued", requeued), slog.Duration("duration", time.Since(start)))
	return resultErr
}

// Handlers lists the task handlers for worker registration.
func (j *WebhookJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskWebhookDeliver, Handler: j.HandleDeliver},
		{Type: TaskWebhookSweep, Handler: j.HandleSweep},
	}
}

// DeliveryRetryDelay spaces Asynq retries of delivery tasks with the same
// exponential schedule the dispatcher records on the propagation.
func DeliveryRetryDelay(base, max time.Duration) asynq.RetryDelayFunc {
	return func(n int, err error, t *asynq.Task) time.Duration {
		if t != nil && t.Type() == TaskWebhookDeliver {
			return webhook.Backoff(base, max, n+1)
		}
		return asynq.DefaultRetryDelayFunc(n, err, t)
	}
}

func (j *WebhookJob) logger(job string) *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (j *WebhookJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
