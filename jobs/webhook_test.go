package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-gateway/internal/jobs"
	"github.com/odyssey-erp/odyssey-gateway/internal/webhook"
)

type stubWebhookService struct {
	deliverErr error
	delivered  []uuid.UUID
	swept      int
	sweepErr   error
}

func (s *stubWebhookService) Deliver(ctx context.Context, id uuid.UUID) error {
	s.delivered = append(s.delivered, id)
	return s.deliverErr
}

func (s *stubWebhookService) Sweep(ctx context.Context) (int, error) {
	s.swept++
	return 3, s.sweepErr
}

func newTestJob(svc WebhookService) *WebhookJob {
	return NewWebhookJob(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), jobmetrics.NewMetrics(prometheus.NewRegistry()))
}

func TestHandleDeliverMapsOutcomes(t *testing.T) {
	id := uuid.New()
	task, err := NewWebhookDeliverTask(id)
	require.NoError(t, err)

	cases := []struct {
		name    string
		err     error
		wantErr error
		wantNil bool
	}{
		{name: "delivered", wantNil: true},
		{name: "permanent", err: fmt.Errorf("%w: unexpected status 404", webhook.ErrPermanent), wantNil: true},
		{name: "retryable", err: fmt.Errorf("%w: attempt 1", webhook.ErrRetryable), wantErr: webhook.ErrRetryable},
		{name: "locked", err: webhook.ErrLocked, wantErr: webhook.ErrLocked},
		{name: "vanished", err: webhook.ErrNotFound, wantErr: asynq.SkipRetry},
		{name: "infra", err: errors.New("db down")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubWebhookService{deliverErr: tc.err}
			err := newTestJob(svc).HandleDeliver(context.Background(), task)
			assert.Equal(t, []uuid.UUID{id}, svc.delivered)
			switch {
			case tc.wantNil:
				assert.NoError(t, err)
			case tc.wantErr != nil:
				assert.ErrorIs(t, err, tc.wantErr)
			default:
				assert.Error(t, err)
			}
		})
	}
}

func TestHandleDeliverRejectsMalformedPayload(t *testing.T) {
	svc := &stubWebhookService{}
	job := newTestJob(svc)

	err := job.HandleDeliver(context.Background(), asynq.NewTask(TaskWebhookDeliver, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	empty, _ := json.Marshal(map[string]string{})
	err = job.HandleDeliver(context.Background(), asynq.NewTask(TaskWebhookDeliver, empty))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, svc.delivered)
}

func TestHandleSweep(t *testing.T) {
	svc := &stubWebhookService{}
	require.NoError(t, newTestJob(svc).HandleSweep(context.Background(), NewWebhookSweepTask()))
	assert.Equal(t, 1, svc.swept)

	svc.sweepErr = errors.New("db down")
	assert.Error(t, newTestJob(svc).HandleSweep(context.Background(), NewWebhookSweepTask()))

	var nilJob *WebhookJob
	assert.Error(t, nilJob.HandleSweep(context.Background(), NewWebhookSweepTask()))
}

func TestDeliveryRetryDelay(t *testing.T) {
	delay := DeliveryRetryDelay(2*time.Second, 30*time.Second)
	task := asynq.NewTask(TaskWebhookDeliver, nil)

	assert.Equal(t, 2*time.Second, delay(0, nil, task))
	assert.Equal(t, 4*time.Second, delay(1, nil, task))
	assert.Equal(t, 16*time.Second, delay(3, nil, task))
	assert.Equal(t, 30*time.Second, delay(10, nil, task))
	assert.Positive(t, delay(0, nil, asynq.NewTask(TaskWebhookSweep, nil)))
}

func TestClientEnqueueDeliveryIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()}, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	id := uuid.New()
	require.NoError(t, client.EnqueueDelivery(context.Background(), id, 0))
	require.NoError(t, client.EnqueueDelivery(context.Background(), id, time.Minute))

	assert.True(t, mr.Exists(fmt.Sprintf("asynq:{%s}:t:%s", QueueWebhooks, DeliverTaskID(id))))
	pending, err := mr.List(fmt.Sprintf("asynq:{%s}:pending", QueueWebhooks))
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestClientEnqueueDeliveryReplacesArchivedTask(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: mr.Addr()}
	client, err := NewClient(opts, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	inspector := asynq.NewInspector(opts)
	t.Cleanup(func() { _ = inspector.Close() })

	id := uuid.New()
	require.NoError(t, client.EnqueueDelivery(context.Background(), id, 0))
	require.NoError(t, inspector.ArchiveTask(QueueWebhooks, DeliverTaskID(id)))

	require.NoError(t, client.EnqueueDelivery(context.Background(), id, 0))

	info, err := inspector.GetTaskInfo(QueueWebhooks, DeliverTaskID(id))
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStatePending, info.State)
	queue, err := inspector.GetQueueInfo(QueueWebhooks)
	require.NoError(t, err)
	assert.Equal(t, 1, queue.Pending)
	assert.Zero(t, queue.Archived)
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	assert.Equal(t, QueueWebhooks, body.Queues[0].Queue)
}
