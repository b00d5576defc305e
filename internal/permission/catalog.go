package permission

import (
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ErrUnknownRole indicates a role id absent from the catalog.
var ErrUnknownRole = errors.New("permission: unknown role")

// Role is a guest role template. Children reference subordinate roles the
// role delegates to.
type Role struct {
	ID         uuid.UUID
	Name       string
	Slug       string
	Permission Capability
	Children   []uuid.UUID
}

// Closure is a role together with every role reachable through its children.
type Closure struct {
	Root       Role
	Permission Capability
	Slugs      []string
	// Cyclic is set when a child edge pointed back into the visited set.
	Cyclic bool
	// Missing lists child ids that do not exist in the catalog.
	Missing []uuid.UUID
}

// Catalog is an immutable id-indexed table of roles.
type Catalog struct {
	roles  map[uuid.UUID]Role
	bySlug map[string]uuid.UUID
}

// NewCatalog indexes roles by id and slug. Later duplicates replace earlier
// ones.
func NewCatalog(roles []Role) *Catalog {
	c := &Catalog{
		roles:  make(map[uuid.UUID]Role, len(roles)),
		bySlug: make(map[string]uuid.UUID, len(roles)),
	}
	for _, role := range roles {
		role.Slug = strings.TrimSpace(role.Slug)
		role.Children = append([]uuid.UUID(nil), role.Children...)
		c.roles[role.ID] = role
		if role.Slug != "" {
			c.bySlug[role.Slug] = role.ID
		}
	}
	return c
}

// Len returns the number of roles held.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.roles)
}

// Role looks up a role by id.
func (c *Catalog) Role(id uuid.UUID) (Role, bool) {
	if c == nil {
		return Role{}, false
	}
	role, ok := c.roles[id]
	return role, ok
}

// HasSlug reports whether a role with slug exists.
func (c *Catalog) HasSlug(slug string) bool {
	if c == nil {
		return false
	}
	_, ok := c.bySlug[strings.TrimSpace(slug)]
	return ok
}

// Closure walks the role's children breadth first. Each role is visited once,
// so misconfigured cycles terminate and are reported through Closure.Cyclic.
func (c *Catalog) Closure(id uuid.UUID) (Closure, error) {
	root, ok := c.Role(id)
	if !ok {
		return Closure{}, ErrUnknownRole
	}
	out := Closure{Root: root}
	visited := map[uuid.UUID]struct{}{root.ID: {}}
	queue := []Role{root}
	for len(queue) > 0 {
		role := queue[0]
		queue = queue[1:]
		out.Permission |= role.Permission
		if role.Slug != "" {
			out.Slugs = append(out.Slugs, role.Slug)
		}
		for _, childID := range role.Children {
			if _, seen := visited[childID]; seen {
				out.Cyclic = out.Cyclic || childID == root.ID || c.reaches(childID, role.ID)
				continue
			}
			child, ok := c.roles[childID]
			if !ok {
				out.Missing = append(out.Missing, childID)
				continue
			}
			visited[childID] = struct{}{}
			queue = append(queue, child)
		}
	}
	sort.Strings(out.Slugs)
	out.Slugs = compactStrings(out.Slugs)
	return out, nil
}

// reaches reports whether to is reachable from from.
func (c *Catalog) reaches(from, to uuid.UUID) bool {
	if from == to {
		return true
	}
	visited := map[uuid.UUID]struct{}{from: {}}
	stack := []uuid.UUID{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range c.roles[id].Children {
			if child == to {
				return true
			}
			if _, seen := visited[child]; seen {
				continue
			}
			visited[child] = struct{}{}
			stack = append(stack, child)
		}
	}
	return false
}

func compactStrings(in []string) []string {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
