package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-gateway/internal/platform/db"
	"github.com/odyssey-erp/odyssey-gateway/internal/shared"
)

// Repository looks up service accounts.
type Repository interface {
	FindServiceAccount(ctx context.Context, id uuid.UUID) (ServiceAccount, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	exec db.Executor
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(exec db.Executor) *PGRepository {
	return &PGRepository{exec: exec}
}

const findServiceAccountSQL = `SELECT id, name, secret_hash, is_active, is_staff
FROM service_accounts
WHERE id = $1`

// FindServiceAccount fetches a service account by id.
func (r *PGRepository) FindServiceAccount(ctx context.Context, id uuid.UUID) (ServiceAccount, error) {
	var sa ServiceAccount
	err := r.exec.QueryRow(ctx, findServiceAccountSQL, id).Scan(&sa.ID, &sa.Name, &sa.SecretHash, &sa.IsActive, &sa.IsStaff)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ServiceAccount{}, shared.ErrNotFound
		}
		return ServiceAccount{}, fmt.Errorf("auth: find service account: %w", err)
	}
	return sa, nil
}

var _ Repository = (*PGRepository)(nil)
