package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gateway/internal/shared"
)

// Delivery headers.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTrigger   = "X-Webhook-Trigger"
	HeaderPayloadID = "X-Webhook-Payload-Id"
	HeaderAttempt   = "X-Webhook-Attempt"
)

// Filter narrows propagation listings.
type Filter struct {
	Status  Status
	Trigger Trigger
	Page    int
	PerPage int
}

// Store persists propagations.
type Store interface {
	// CreatePropagations inserts props atomically, skipping ids that already
	// exist, and returns the ids actually inserted.
	CreatePropagations(ctx context.Context, props []Propagation) ([]uuid.UUID, error)
	GetPropagation(ctx context.Context, id uuid.UUID) (Propagation, error)
	RecordAttempt(ctx context.Context, id uuid.UUID, attempt Attempt) error
	ListPropagations(ctx context.Context, filter Filter) ([]Propagation, int, error)
	StalePending(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
	ResetForRetry(ctx context.Context, id uuid.UUID) error
}

// Subscribers looks up webhook registrations.
type Subscribers interface {
	ListByTrigger(ctx context.Context, trigger Trigger) ([]WebHook, error)
	Get(ctx context.Context, id uuid.UUID) (WebHook, error)
}

// Deliverer posts a payload and reports the response status.
type Deliverer interface {
	Post(ctx context.Context, url string, payload []byte, headers http.Header) (int, error)
}

// Queue schedules delivery attempts on the durable job queue.
type Queue interface {
	EnqueueDelivery(ctx context.Context, propagationID uuid.UUID, delay time.Duration) error
}

// Locker serialises attempts on one propagation.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Observer records delivery attempt outcomes.
type Observer interface {
	ObserveWebhookAttempt(trigger, outcome string)
}

// Config tunes delivery.
type Config struct {
	MaxAttempts int
	Timeout     time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
	SweepAfter  time.Duration
	SweepLimit  int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Minute
	}
	if c.SweepAfter <= 0 {
		c.SweepAfter = 15 * time.Minute
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = 500
	}
	return c
}

// Service is the webhook dispatcher.
type Service struct {
	store       Store
	subscribers Subscribers
	deliverer   Deliverer
	queue       Queue
	locker      Locker
	observer    Observer
	logger      *slog.Logger
	cfg         Config
	now         func() time.Time
}

// Deps groups the Service collaborators. Locker and Observer are optional.
type Deps struct {
	Store       Store
	Subscribers Subscribers
	Deliverer   Deliverer
	Queue       Queue
	Locker      Locker
	Observer    Observer
	Logger      *slog.Logger
}

// NewService constructs a Service.
func NewService(deps Deps, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       deps.Store,
		subscribers: deps.Subscribers,
		deliverer:   deps.Deliverer,
		queue:       deps.Queue,
		locker:      deps.Locker,
		observer:    deps.Observer,
		logger:      logger,
		cfg:         cfg.withDefaults(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the effective delivery configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Enqueue records one Pending propagation per subscriber of trigger and
// schedules their delivery. Identical trigger and payload always yield the
// same payload id and never produce duplicate propagations.
func (s *Service) Enqueue(ctx context.Context, trigger Trigger, payload string) (string, error) {
	if !trigger.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTrigger, trigger)
	}
	payloadID := PayloadID(trigger, payload)
	hooks, err := s.subscribers.ListByTrigger(ctx, trigger)
	if err != nil {
		return payloadID, fmt.Errorf("webhook: list subscribers: %w", err)
	}
	if len(hooks) == 0 {
		return payloadID, nil
	}
	now := s.now()
	props := make([]Propagation, 0, len(hooks))
	for _, hook := range hooks {
		if !hook.Active {
			continue
		}
		props = append(props, Propagation{
			ID:        PropagationID(payloadID, hook.ID),
			WebhookID: hook.ID,
			Trigger:   trigger,
			URL:       hook.URL,
			Payload:   payload,
			PayloadID: payloadID,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if len(props) == 0 {
		return payloadID, nil
	}
	created, err := s.store.CreatePropagations(ctx, props)
	if err != nil {
		return payloadID, fmt.Errorf("webhook: create propagations: %w", err)
	}
	for _, id := range created {
		if err := s.queue.EnqueueDelivery(ctx, id, 0); err != nil {
			// The sweep picks up pending propagations that never reached the queue.
			s.logger.Warn("enqueue webhook delivery", slog.String("propagation_id", id.String()), slog.Any("error", err))
		}
	}
	s.logger.Info("webhook event enqueued", slog.String("trigger", string(trigger)),
		slog.String("payload_id", payloadID), slog.Int("propagations", len(created)))
	return payloadID, nil
}

// Deliver performs one attempt on a propagation. It returns nil once the
// propagation is Delivered (or was already terminal), an error wrapping
// ErrRetryable when another attempt is scheduled, and one wrapping
// ErrPermanent when the propagation has just been marked Failed.
func (s *Service) Deliver(ctx context.Context, id uuid.UUID) error {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.PropagationLockKey(id.String()), 2*s.cfg.Timeout)
		if err != nil {
			return err
		}
		defer release()
	}

	prop, err := s.store.GetPropagation(ctx, id)
	if err != nil {
		return err
	}
	if prop.Status != StatusPending {
		return nil
	}
	logger := s.logger.With(slog.String("propagation_id", id.String()), slog.String("trigger", string(prop.Trigger)))
	if prop.Attempts >= s.cfg.MaxAttempts {
		return s.fail(ctx, prop, prop.Attempts, 0, "max attempts reached", logger)
	}

	hook, err := s.subscribers.Get(ctx, prop.WebhookID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.fail(ctx, prop, prop.Attempts, 0, "webhook no longer registered", logger)
		}
		return err
	}
	if !hook.Active {
		return s.fail(ctx, prop, prop.Attempts, 0, "webhook disabled", logger)
	}

	attempt := prop.Attempts + 1
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set(HeaderSignature, Sign(hook.Secret, prop.Payload))
	headers.Set(HeaderTrigger, string(prop.Trigger))
	headers.Set(HeaderPayloadID, prop.PayloadID)
	headers.Set(HeaderAttempt, strconv.Itoa(attempt))

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	status, postErr := s.deliverer.Post(attemptCtx, prop.URL, []byte(prop.Payload), headers)
	cancel()

	switch outcome := classify(status, postErr); outcome {
	case outcomeDelivered:
		s.observe(prop.Trigger, "delivered")
		if err := s.store.RecordAttempt(ctx, id, Attempt{
			Status: StatusDelivered, Attempts: attempt, AttemptedAt: s.now(), LastStatus: status,
		}); err != nil {
			return fmt.Errorf("webhook: record delivery: %w", err)
		}
		logger.Info("webhook delivered", slog.Int("attempt", attempt), slog.Int("status", status))
		return nil
	case outcomePermanent:
		s.observe(prop.Trigger, "rejected")
		return s.fail(ctx, prop, attempt, status, describe(status, postErr), logger)
	default:
		s.observe(prop.Trigger, "retry")
		if attempt >= s.cfg.MaxAttempts {
			return s.fail(ctx, prop, attempt, status, describe(status, postErr), logger)
		}
		now := s.now()
		next := now.Add(Backoff(s.cfg.BackoffBase, s.cfg.BackoffMax, attempt))
		msg := describe(status, postErr)
		if err := s.store.RecordAttempt(ctx, id, Attempt{
			Status: StatusPending, Attempts: attempt, AttemptedAt: now, NextAttemptAt: &next, LastError: &msg, LastStatus: status,
		}); err != nil {
			return fmt.Errorf("webhook: record attempt: %w", err)
		}
		logger.Warn("webhook attempt failed", slog.Int("attempt", attempt), slog.Int("status", status), slog.String("error", msg))
		return fmt.Errorf("%w: attempt %d: %s", ErrRetryable, attempt, msg)
	}
}

func (s *Service) fail(ctx context.Context, prop Propagation, attempts, status int, reason string, logger *slog.Logger) error {
	if err := s.store.RecordAttempt(ctx, prop.ID, Attempt{
		Status: StatusFailed, Attempts: attempts, AttemptedAt: s.now(), LastError: &reason, LastStatus: status,
	}); err != nil {
		return fmt.Errorf("webhook: record failure: %w", err)
	}
	s.observe(prop.Trigger, "failed")
	logger.Error("webhook failed permanently", slog.Int("attempts", attempts), slog.String("error", reason))
	return fmt.Errorf("%w: %s", ErrPermanent, reason)
}

func (s *Service) observe(trigger Trigger, outcome string) {
	if s.observer != nil {
		s.observer.ObserveWebhookAttempt(string(trigger), outcome)
	}
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeRetryable
	outcomePermanent
)

func classify(status int, err error) outcome {
	if err != nil {
		return outcomeRetryable
	}
	switch {
	case status >= 200 && status < 300:
		return outcomeDelivered
	case status == http.StatusTooManyRequests, status >= 500:
		return outcomeRetryable
	default:
		return outcomePermanent
	}
}

func describe(status int, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("unexpected status %d", status)
}

// Sweep re-queues Pending propagations idle for longer than SweepAfter.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	ids, err := s.store.StalePending(ctx, s.now().Add(-s.cfg.SweepAfter), s.cfg.SweepLimit)
	if err != nil {
		return 0, fmt.Errorf("webhook: stale pending: %w", err)
	}
	queued := 0
	for _, id := range ids {
		if err := s.queue.EnqueueDelivery(ctx, id, 0); err != nil {
			s.logger.Warn("sweep enqueue", slog.String("propagation_id", id.String()), slog.Any("error", err))
			continue
		}
		queued++
	}
	if queued > 0 {
		s.logger.Info("webhook sweep", slog.Int("requeued", queued))
	}
	return queued, nil
}

// List returns a page of propagations and the total match count.
func (s *Service) List(ctx context.Context, filter Filter) ([]Propagation, int, error) {
	return s.store.ListPropagations(ctx, filter)
}

// Retry moves a Failed propagation back to Pending with a fresh attempt
// budget and schedules it.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) error {
	if err := s.store.ResetForRetry(ctx, id); err != nil {
		return err
	}
	if err := s.queue.EnqueueDelivery(ctx, id, 0); err != nil {
		return fmt.Errorf("webhook: enqueue retry: %w", err)
	}
	s.logger.Info("webhook retry scheduled", slog.String("propagation_id", id.String()))
	return nil
}
