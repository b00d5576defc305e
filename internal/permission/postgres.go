package permission

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gateway/internal/platform/db"
)

// PostgresRoleSource reads guest roles and their child edges.
type PostgresRoleSource struct {
	exec db.Executor
}

// NewPostgresRoleSource constructs the source.
func NewPostgresRoleSource(exec db.Executor) *PostgresRoleSource {
	return &PostgresRoleSource{exec: exec}
}

const listRolesSQL = `SELECT r.id, r.name, r.slug, r.permission,
	COALESCE(array_agg(c.child_id::text ORDER BY c.position) FILTER (WHERE c.child_id IS NOT NULL), '{}')
FROM guest_roles r
LEFT JOIN guest_role_children c ON c.role_id = r.id
GROUP BY r.id, r.name, r.slug, r.permission
ORDER BY r.slug`

// LoadRoles implements RoleSource.
func (s *PostgresRoleSource) LoadRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.exec.Query(ctx, listRolesSQL)
	if err != nil {
		return nil, fmt.Errorf("permission: list roles: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var (
			role     Role
			bitmask  int32
			children []string
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Slug, &bitmask, &children); err != nil {
			return nil, fmt.Errorf("permission: scan role: %w", err)
		}
		role.Permission = Capability(bitmask)
		for _, raw := range children {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("permission: role %s child %q: %w", role.Slug, raw, err)
			}
			role.Children = append(role.Children, id)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}
