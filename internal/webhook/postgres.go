package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-gateway/internal/platform/db"
)

const propagationColumns = `id, webhook_id, trigger, url, payload, payload_id, status, attempts,
	attempted_at, next_attempt_at, last_error, last_status, created_at, updated_at`

// PostgresStore implements Store on the webhook_propagations table.
type PostgresStore struct {
	pool    db.Pool
	builder sq.StatementBuilderType
}

// NewPostgresStore constructs the store.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

const insertPropagationSQL = `INSERT INTO webhook_propagations (` + propagationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO NOTHING
RETURNING id`

// CreatePropagations implements Store.
func (s *PostgresStore) CreatePropagations(ctx context.Context, props []Propagation) ([]uuid.UUID, error) {
	var created []uuid.UUID
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		created = created[:0]
		for _, p := range props {
			var id uuid.UUID
			err := tx.QueryRow(ctx, insertPropagationSQL,
				p.ID, p.WebhookID, string(p.Trigger), p.URL, p.Payload, p.PayloadID, string(p.Status), p.Attempts,
				p.AttemptedAt, p.NextAttemptAt, p.LastError, p.LastStatus, p.CreatedAt, p.UpdatedAt,
			).Scan(&id)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("webhook: insert propagation %s: %w", p.ID, err)
			}
			created = append(created, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetPropagation implements Store.
func (s *PostgresStore) GetPropagation(ctx context.Context, id uuid.UUID) (Propagation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+propagationColumns+` FROM webhook_propagations WHERE id = $1`, id)
	p, err := scanPropagation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Propagation{}, ErrNotFound
		}
		return Propagation{}, fmt.Errorf("webhook: get propagation: %w", err)
	}
	return p, nil
}

const recordAttemptSQL = `UPDATE webhook_propagations
SET status = $2, attempts = $3, attempted_at = $4, next_attempt_at = $5, last_error = $6, last_status = $7, updated_at = $4
WHERE id = $1`

// RecordAttempt implements Store.
func (s *PostgresStore) RecordAttempt(ctx context.Context, id uuid.UUID, a Attempt) error {
	tag, err := s.pool.Exec(ctx, recordAttemptSQL, id, string(a.Status), a.Attempts, a.AttemptedAt, a.NextAttemptAt, a.LastError, a.LastStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPropagations implements Store.
func (s *PostgresStore) ListPropagations(ctx context.Context, f Filter) ([]Propagation, int, error) {
	where := sq.And{}
	if f.Status != "" {
		where = append(where, sq.Eq{"status": string(f.Status)})
	}
	if f.Trigger != "" {
		where = append(where, sq.Eq{"trigger": string(f.Trigger)})
	}
	page, perPage := f.Page, f.PerPage
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}

	countQuery, countArgs, err := s.builder.Select("COUNT(*)").From("webhook_propagations").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("webhook: build count sql: %w", err)
	}
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("webhook: count propagations: %w", err)
	}

	listQuery, listArgs, err := s.builder.Select(propagationColumns).From("webhook_propagations").Where(where).
		OrderBy("updated_at DESC", "id").
		Limit(uint64(perPage)).Offset(uint64((page - 1) * perPage)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("webhook: build list sql: %w", err)
	}
	rows, err := s.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("webhook: list propagations: %w", err)
	}
	defer rows.Close()
	var out []Propagation
	for rows.Next() {
		p, err := scanPropagation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("webhook: scan propagation: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

const stalePendingSQL = `SELECT id FROM webhook_propagations
WHERE status = 'pending' AND updated_at < $1 AND (next_attempt_at IS NULL OR next_attempt_at < now())
ORDER BY updated_at
LIMIT $2`

// StalePending implements Store.
func (s *PostgresStore) StalePending(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, stalePendingSQL, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const resetForRetrySQL = `UPDATE webhook_propagations
SET status = 'pending', attempts = 0, next_attempt_at = NULL, updated_at = now()
WHERE id = $1 AND status = 'failed'`

// ResetForRetry implements Store.
func (s *PostgresStore) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, resetForRetrySQL, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	if err := s.pool.QueryRow(ctx, `SELECT status FROM webhook_propagations WHERE id = $1`, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return fmt.Errorf("%w: status %s", ErrNotRetryable, status)
}

func scanPropagation(row pgx.Row) (Propagation, error) {
	var (
		p               Propagation
		trigger, status string
	)
	err := row.Scan(&p.ID, &p.WebhookID, &trigger, &p.URL, &p.Payload, &p.PayloadID, &status, &p.Attempts,
		&p.AttemptedAt, &p.NextAttemptAt, &p.LastError, &p.LastStatus, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Propagation{}, err
	}
	p.Trigger = Trigger(trigger)
	p.Status = Status(status)
	return p, nil
}

// PostgresSubscribers implements Subscribers on the webhooks table.
type PostgresSubscribers struct {
	exec db.Executor
}

// NewPostgresSubscribers constructs the source.
func NewPostgresSubscribers(exec db.Executor) *PostgresSubscribers {
	return &PostgresSubscribers{exec: exec}
}

const webhookColumns = `id, url, secret, triggers, active`

// ListByTrigger implements Subscribers.
func (s *PostgresSubscribers) ListByTrigger(ctx context.Context, trigger Trigger) ([]WebHook, error) {
	rows, err := s.exec.Query(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE active AND $1 = ANY(triggers) ORDER BY id`, string(trigger))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WebHook
	for rows.Next() {
		hook, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, hook)
	}
	return out, rows.Err()
}

// Get implements Subscribers.
func (s *PostgresSubscribers) Get(ctx context.Context, id uuid.UUID) (WebHook, error) {
	hook, err := scanWebhook(s.exec.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WebHook{}, ErrNotFound
		}
		return WebHook{}, err
	}
	return hook, nil
}

func scanWebhook(row pgx.Row) (WebHook, error) {
	var (
		hook     WebHook
		triggers []string
	)
	if err := row.Scan(&hook.ID, &hook.URL, &hook.Secret, &triggers, &hook.Active); err != nil {
		return WebHook{}, err
	}
	for _, t := range triggers {
		hook.Triggers = append(hook.Triggers, Trigger(t))
	}
	return hook, nil
}
