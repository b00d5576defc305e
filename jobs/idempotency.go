package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-gateway/internal/jobs"
)

// KeyPruner removes expired Idempotency-Key claims.
type KeyPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// IdempotencyPruneJob runs TaskIdempotencyPrune.
type IdempotencyPruneJob struct {
	pruner    KeyPruner
	retention time.Duration
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewIdempotencyPruneJob wires the prune handler.
func NewIdempotencyPruneJob(pruner KeyPruner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyPruneJob {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	return &IdempotencyPruneJob{pruner: pruner, retention: retention, logger: logger.With(slog.String("job", TaskIdempotencyPrune)), metrics: metrics}
}

// Handle deletes claims older than the retention window.
func (j *IdempotencyPruneJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.pruner == nil {
		return errors.New("idempotency prune: handler not configured")
	}
	if j.retention <= 0 {
		return asynq.SkipRetry
	}
	span := j.metrics.Track(TaskIdempotencyPrune)
	removed, err := j.pruner.Prune(ctx, j.retention)
	if err != nil {
		j.logger.Error("prune idempotency keys", slog.Any("error", err))
		return span.End(err)
	}
	j.logger.Info("pruned idempotency keys", slog.Int64("removed", removed))
	return span.End(nil)
}

// Handler returns the registration for the worker mux.
func (j *IdempotencyPruneJob) Handler() TaskHandler {
	return TaskHandler{Type: TaskIdempotencyPrune, Handler: j.Handle}
}
