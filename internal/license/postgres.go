package license

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-gateway/internal/identity"
	"github.com/odyssey-erp/odyssey-gateway/internal/platform/db"
	"github.com/odyssey-erp/odyssey-gateway/internal/shared"
)

// PostgresSource reads guest assignments and tenant ownership rows.
type PostgresSource struct {
	exec db.Executor
}

// NewPostgresSource constructs the source.
func NewPostgresSource(exec db.Executor) *PostgresSource {
	return &PostgresSource{exec: exec}
}

const assignmentRowsSQL = `SELECT a.id, a.name, a.tenant_id, a.is_standard, ga.role_id,
	ga.permit_flags, ga.deny_flags, ga.verified
FROM guest_assignments ga
JOIN accounts a ON a.id = ga.account_id
WHERE ga.principal_id = $1 AND a.deleted_at IS NULL`

const tenantOwnerRowsSQL = `SELECT tenant_id FROM tenant_owners WHERE principal_id = $1`

const accountTenantSQL = `SELECT tenant_id FROM accounts WHERE id = $1 AND deleted_at IS NULL`

// FetchRows implements RoleAssignmentSource. Ownership rows are only read for
// managers.
func (s *PostgresSource) FetchRows(ctx context.Context, principal identity.Principal) ([]Row, error) {
	rows, err := s.exec.Query(ctx, assignmentRowsSQL, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("license: query assignments: %w", err)
	}
	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.AccountID, &row.AccountName, &row.TenantID, &row.IsAccountStandard,
			&row.RoleID, &row.PermitFlags, &row.DenyFlags, &row.GuestVerified); err != nil {
			rows.Close()
			return nil, fmt.Errorf("license: scan assignment: %w", err)
		}
		out = append(out, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !principal.IsManager {
		return out, nil
	}

	owners, err := s.exec.Query(ctx, tenantOwnerRowsSQL, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("license: query tenant owners: %w", err)
	}
	defer owners.Close()
	for owners.Next() {
		row := Row{TenantOwner: true, GuestVerified: true}
		if err := owners.Scan(&row.TenantID); err != nil {
			return nil, fmt.Errorf("license: scan tenant owner: %w", err)
		}
		out = append(out, row)
	}
	if err := owners.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AccountTenant returns the tenant owning accountID, nil for accounts outside
// any tenant. Unknown or deleted accounts yield shared.ErrNotFound.
func (s *PostgresSource) AccountTenant(ctx context.Context, accountID uuid.UUID) (*uuid.UUID, error) {
	var tenant *uuid.UUID
	if err := s.exec.QueryRow(ctx, accountTenantSQL, accountID).Scan(&tenant); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("license: account tenant: %w", err)
	}
	return tenant, nil
}
