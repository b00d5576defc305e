package permission

import (
	"context"
	"testing"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRoleSourceLoadRoles(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	viewerID := uuid.New()
	editorID := uuid.New()
	mock.ExpectQuery(`SELECT r\.id, r\.name, r\.slug, r\.permission`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "slug", "permission", "children"}).
			AddRow(editorID, "Editor", "editor", int32(5), []string{viewerID.String()}).
			AddRow(viewerID, "Viewer", "viewer", int32(1), []string{}))

	roles, err := NewPostgresRoleSource(mock).LoadRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, View|Update, roles[0].Permission)
	assert.Equal(t, []uuid.UUID{viewerID}, roles[0].Children)
	assert.Empty(t, roles[1].Children)
	require.NoError(t, mock.ExpectationsWereMet())
}
