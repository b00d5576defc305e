package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-gateway/internal/platform/db"
)

var (
	// ErrIdempotencyConflict indicates the same request already claimed the key.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
	// ErrIdempotencyKeyReused indicates the key was claimed by a different request.
	ErrIdempotencyKeyReused = errors.New("idempotency key reused with a different request")
)

// IdempotencyStore claims Idempotency-Key values per scope in idempotency_keys.
type IdempotencyStore struct {
	exec db.Executor
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(exec db.Executor) *IdempotencyStore {
	return &IdempotencyStore{exec: exec, now: func() time.Time { return time.Now().UTC() }}
}

// CheckAndInsert claims key within scope for the request identified by
// fingerprint. Replaying the same request returns ErrIdempotencyConflict;
// another request under the same key returns ErrIdempotencyKeyReused.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, scope, fingerprint string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" || scope == "" {
		return errors.New("idempotency key and scope required")
	}
	_, err := s.exec.Exec(ctx, `INSERT INTO idempotency_keys (key, module, fingerprint, created_at) VALUES ($1, $2, $3, $4)`,
		key, scope, fingerprint, s.now())
	if !db.IsUniqueViolation(err) {
		return err
	}
	var stored string
	if err := s.exec.QueryRow(ctx, `SELECT fingerprint FROM idempotency_keys WHERE key=$1 AND module=$2`, key, scope).Scan(&stored); err != nil {
		return fmt.Errorf("shared: read idempotency key: %w", err)
	}
	if stored != fingerprint {
		return ErrIdempotencyKeyReused
	}
	return ErrIdempotencyConflict
}

// Delete releases a claim after the guarded work failed.
func (s *IdempotencyStore) Delete(ctx context.Context, key, scope string) error {
	if s == nil || key == "" {
		return nil
	}
	_, err := s.exec.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1 AND module=$2`, key, scope)
	return err
}

// Prune drops claims older than retention and reports how many were removed.
func (s *IdempotencyStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	tag, err := s.exec.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("shared: prune idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
