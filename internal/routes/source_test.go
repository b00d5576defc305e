package routes

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSourceLoadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yml")
	doc := `routes:
  - service: billing
    type: protected
    security_group: tenant-manager
    upstream: http://billing.internal:8080
    health:
      path: /healthz
      accepted_status: [200, 204]
  - id: 6f1c2f52-0d1a-4c1e-9a55-1d2f7c3b9e10
    service: auth
    type: public
    upstream: http://auth.internal
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	routes, err := FileSource{Path: path}.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, routes, 2)

	assert.Equal(t, "billing", routes[0].Service)
	assert.Equal(t, Protected, routes[0].Type)
	assert.Equal(t, []int{200, 204}, routes[0].Health.AcceptedStatus)
	assert.NotEqual(t, uuid.Nil, routes[0].ID)
	assert.Equal(t, uuid.MustParse("6f1c2f52-0d1a-4c1e-9a55-1d2f7c3b9e10"), routes[1].ID)

	again, err := FileSource{Path: path}.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, routes[0].ID, again[0].ID)
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := FileSource{Path: filepath.Join(t.TempDir(), "absent.yml")}.LoadAll(context.Background())
	require.Error(t, err)
}

func TestPostgresSourceLoadAll(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery(`FROM gateway_routes`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "service", "route_type", "security_group", "upstream_url", "health_path", "health_status"}).
			AddRow(id, "billing", "protected", "viewer", "http://billing.internal", "/healthz", []int32{200}))

	routes, err := NewPostgresSource(mock).LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, Route{
		ID:            id,
		Service:       "billing",
		Type:          Protected,
		SecurityGroup: "viewer",
		Upstream:      "http://billing.internal",
		Health:        HealthCheck{Path: "/healthz", AcceptedStatus: []int{200}},
	}, routes[0])
	require.NoError(t, mock.ExpectationsWereMet())
}
