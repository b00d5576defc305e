package license

import (
	"context"
	"testing"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gateway/internal/identity"
	"github.com/odyssey-erp/odyssey-gateway/internal/shared"
)

func TestPostgresSourceFetchRowsForManager(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	principal := identity.Principal{ID: uuid.New(), Kind: identity.KindUser, IsManager: true}
	account := uuid.New()
	role := uuid.New()
	tenant := uuid.New()

	mock.ExpectQuery(`FROM guest_assignments ga`).
		WithArgs(principal.ID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "tenant_id", "is_standard", "role_id", "permit_flags", "deny_flags", "verified"}).
			AddRow(account, "Acme", &tenant, true, role, []string{"delete"}, []string{}, true))
	mock.ExpectQuery(`FROM tenant_owners`).
		WithArgs(principal.ID).
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id"}).AddRow(&tenant))

	rows, err := NewPostgresSource(mock).FetchRows(context.Background(), principal)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, account, rows[0].AccountID)
	assert.Equal(t, []string{"delete"}, rows[0].PermitFlags)
	assert.True(t, rows[1].TenantOwner)
	assert.Equal(t, tenant, *rows[1].TenantID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSourceSkipsOwnershipForRegularUsers(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	principal := identity.Principal{ID: uuid.New(), Kind: identity.KindUser}
	mock.ExpectQuery(`FROM guest_assignments ga`).
		WithArgs(principal.ID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "tenant_id", "is_standard", "role_id", "permit_flags", "deny_flags", "verified"}))

	rows, err := NewPostgresSource(mock).FetchRows(context.Background(), principal)
	require.NoError(t, err)
	assert.Empty(t, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSourceAccountTenant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	account := uuid.New()
	tenant := uuid.New()
	mock.ExpectQuery(`SELECT tenant_id FROM accounts`).
		WithArgs(account).
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id"}).AddRow(&tenant))
	mock.ExpectQuery(`SELECT tenant_id FROM accounts`).
		WithArgs(account).
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id"}))

	source := NewPostgresSource(mock)
	got, err := source.AccountTenant(context.Background(), account)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tenant, *got)

	_, err = source.AccountTenant(context.Background(), account)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
