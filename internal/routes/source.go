package routes

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-gateway/internal/platform/db"
)

// Source loads every route definition.
type Source interface {
	LoadAll(ctx context.Context) ([]Route, error)
}

// PostgresSource reads routes from the gateway_routes table.
type PostgresSource struct {
	exec db.Executor
}

// NewPostgresSource constructs the source.
func NewPostgresSource(exec db.Executor) *PostgresSource {
	return &PostgresSource{exec: exec}
}

const listRoutesSQL = `SELECT id, service, route_type, COALESCE(security_group, ''), upstream_url,
	COALESCE(health_path, ''), COALESCE(health_status, '{}')
FROM gateway_routes
WHERE enabled
ORDER BY service`

// LoadAll implements Source.
func (s *PostgresSource) LoadAll(ctx context.Context) ([]Route, error) {
	rows, err := s.exec.Query(ctx, listRoutesSQL)
	if err != nil {
		return nil, fmt.Errorf("routes: list: %w", err)
	}
	defer rows.Close()
	var out []Route
	for rows.Next() {
		var (
			r        Route
			kind     string
			accepted []int32
		)
		if err := rows.Scan(&r.ID, &r.Service, &kind, &r.SecurityGroup, &r.Upstream, &r.Health.Path, &accepted); err != nil {
			return nil, fmt.Errorf("routes: scan: %w", err)
		}
		r.Type = Type(kind)
		for _, code := range accepted {
			r.Health.AcceptedStatus = append(r.Health.AcceptedStatus, int(code))
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FileSource reads routes from a YAML document.
type FileSource struct {
	Path string
}

type routeFile struct {
	Routes []Route `yaml:"routes"`
}

// LoadAll implements Source. Routes without an id get one derived from the
// service name so reloads keep stable ids.
func (s FileSource) LoadAll(context.Context) ([]Route, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("routes: read %s: %w", s.Path, err)
	}
	var doc routeFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("routes: parse %s: %w", s.Path, err)
	}
	for i := range doc.Routes {
		if doc.Routes[i].ID == uuid.Nil {
			doc.Routes[i].ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("gateway-route:"+doc.Routes[i].Service))
		}
	}
	return doc.Routes, nil
}
