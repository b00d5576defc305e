package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gateway/internal/identity"
	"github.com/odyssey-erp/odyssey-gateway/internal/permission"
)

// RoleAssignmentSource returns the raw join rows visible to a principal.
type RoleAssignmentSource interface {
	FetchRows(ctx context.Context, principal identity.Principal) ([]Row, error)
	AccountTenant(ctx context.Context, accountID uuid.UUID) (*uuid.UUID, error)
}

// CatalogProvider exposes the current role catalog.
type CatalogProvider interface {
	Catalog() *permission.Catalog
}

// Resolver turns raw rows into licensed resources. It holds no mutable state
// and is safe for concurrent use.
type Resolver struct {
	roles  CatalogProvider
	logger *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(roles CatalogProvider, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{roles: roles, logger: logger}
}

type accountGroup struct {
	first    Row
	base     permission.Closure
	hasBase  bool
	permit   permission.FlagSet
	deny     permission.FlagSet
	roles    map[string]struct{}
	verified bool
}

// Resolve computes the principal's scope from rows.
func (r *Resolver) Resolve(principal identity.Principal, rows []Row) Resolution {
	if principal.IsStaff {
		return Resolution{Related: HasStaffPrivileges()}
	}
	if principal.IsManager {
		if related, ok := managerScope(rows); ok {
			return Resolution{Related: related}
		}
	}

	catalog := r.roles.Catalog()
	groups := make(map[uuid.UUID]*accountGroup)
	for _, row := range rows {
		if row.TenantOwner {
			continue
		}
		closure, err := catalog.Closure(row.RoleID)
		if err != nil {
			r.logger.Warn("skip license row",
				slog.String("principal_id", principal.ID.String()),
				slog.String("account_id", row.AccountID.String()),
				slog.String("role_id", row.RoleID.String()),
				slog.Any("error", err))
			continue
		}
		if closure.Cyclic || len(closure.Missing) > 0 {
			r.logger.Warn("role composition fault",
				slog.String("role", closure.Root.Slug),
				slog.Bool("cyclic", closure.Cyclic),
				slog.Int("missing_children", len(closure.Missing)))
		}
		g, ok := groups[row.AccountID]
		if !ok {
			g = &accountGroup{
				first:  row,
				permit: permission.NewFlagSet(),
				deny:   permission.NewFlagSet(),
				roles:  make(map[string]struct{}),
			}
			groups[row.AccountID] = g
		}
		if !g.hasBase || broader(closure, g.base) {
			g.base = closure
			g.hasBase = true
			g.first = row
		}
		g.permit.Add(row.PermitFlags...)
		g.deny.Add(row.DenyFlags...)
		for _, slug := range closure.Slugs {
			g.roles[slug] = struct{}{}
		}
		g.verified = g.verified || row.GuestVerified
	}

	resources := make([]LicensedResource, 0, len(groups))
	ids := make([]uuid.UUID, 0, len(groups))
	for accountID, g := range groups {
		permit, deny := permission.Normalize(g.permit, g.deny)
		roles := make([]string, 0, len(g.roles))
		for slug := range g.roles {
			roles = append(roles, slug)
		}
		sort.Strings(roles)
		resources = append(resources, LicensedResource{
			AccountID:         accountID,
			AccountName:       g.first.AccountName,
			TenantID:          g.first.TenantID,
			IsAccountStandard: g.first.IsAccountStandard,
			Permission:        permission.Resolve(g.base.Permission, permit, deny),
			RoleSlug:          g.base.Root.Slug,
			Roles:             roles,
			GuestVerified:     g.verified,
		})
		ids = append(ids, accountID)
	}
	sort.Slice(resources, func(i, j int) bool {
		return resources[i].AccountID.String() < resources[j].AccountID.String()
	})
	return Resolution{Related: AllowedAccounts(ids...), Resources: resources}
}

// broader reports whether candidate should replace current as the account's
// base role: the larger bitmask wins, ties go to the smaller slug.
func broader(candidate, current permission.Closure) bool {
	if candidate.Permission != current.Permission {
		return candidate.Permission > current.Permission
	}
	return candidate.Root.Slug < current.Root.Slug
}

func managerScope(rows []Row) (RelatedAccounts, bool) {
	var tenant *uuid.UUID
	found := false
	for _, row := range rows {
		if !row.TenantOwner {
			continue
		}
		if row.TenantID == nil {
			return HasManagerPrivileges(), true
		}
		if !found || row.TenantID.String() < tenant.String() {
			tenant = row.TenantID
		}
		found = true
	}
	if !found {
		return RelatedAccounts{}, false
	}
	return HasTenantWidePrivileges(*tenant), true
}

// Service fetches rows and resolves them per request.
type Service struct {
	source   RoleAssignmentSource
	resolver *Resolver
}

// NewService constructs a Service.
func NewService(source RoleAssignmentSource, resolver *Resolver) *Service {
	return &Service{source: source, resolver: resolver}
}

// Resolve returns the principal's licenses. Staff principals short-circuit
// before any row is fetched.
func (s *Service) Resolve(ctx context.Context, principal identity.Principal) (Resolution, error) {
	if principal.IsZero() {
		return Resolution{}, errors.New("license: principal required")
	}
	if principal.IsStaff {
		return s.resolver.Resolve(principal, nil), nil
	}
	rows, err := s.source.FetchRows(ctx, principal)
	if err != nil {
		return Resolution{}, fmt.Errorf("license: fetch rows: %w", err)
	}
	return s.resolver.Resolve(principal, rows), nil
}

// AccountTenant returns the tenant owning accountID.
func (s *Service) AccountTenant(ctx context.Context, accountID uuid.UUID) (*uuid.UUID, error) {
	return s.source.AccountTenant(ctx, accountID)
}
