// Package license resolves the accounts and tenants a principal may act on.
package license

import (
	"sort"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gateway/internal/permission"
)

// Row is one raw join row: a guest-role assignment of the principal on an
// account, or a tenant ownership marker.
type Row struct {
	AccountID         uuid.UUID
	AccountName       string
	TenantID          *uuid.UUID
	IsAccountStandard bool
	RoleID            uuid.UUID
	PermitFlags       []string
	DenyFlags         []string
	GuestVerified     bool
	// TenantOwner marks a tenant-wide ownership row. A nil TenantID on such a
	// row means platform-wide management.
	TenantOwner bool
}

// LicensedResource is the resolved outcome for one account.
type LicensedResource struct {
	AccountID         uuid.UUID             `json:"account_id" validate:"required"`
	AccountName       string                `json:"account_name"`
	TenantID          *uuid.UUID            `json:"tenant_id,omitempty"`
	IsAccountStandard bool                  `json:"is_account_standard"`
	Permission        permission.Capability `json:"permission"`
	RoleSlug          string                `json:"role" validate:"required"`
	Roles             []string              `json:"roles,omitempty"`
	GuestVerified     bool                  `json:"guest_verified"`
}

// HasRole reports whether slug is granted on the account, directly or
// through role composition.
func (r LicensedResource) HasRole(slug string) bool {
	if r.RoleSlug == slug {
		return true
	}
	i := sort.SearchStrings(r.Roles, slug)
	return i < len(r.Roles) && r.Roles[i] == slug
}

// ScopeKind enumerates RelatedAccounts variants.
type ScopeKind string

const (
	ScopeAllowedAccounts ScopeKind = "allowed_accounts"
	ScopeTenantWide      ScopeKind = "tenant_wide"
	ScopeStaff           ScopeKind = "staff"
	ScopeManager         ScopeKind = "manager"
)

// RelatedAccounts is the authorization scope handed to downstream use-cases.
type RelatedAccounts struct {
	Kind       ScopeKind   `json:"kind" validate:"required,oneof=allowed_accounts tenant_wide staff manager"`
	AccountIDs []uuid.UUID `json:"account_ids,omitempty"`
	TenantID   *uuid.UUID  `json:"tenant_id,omitempty" validate:"required_if=Kind tenant_wide"`
}

// AllowedAccounts scopes access to an explicit set of accounts.
func AllowedAccounts(ids ...uuid.UUID) RelatedAccounts {
	out := append([]uuid.UUID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return RelatedAccounts{Kind: ScopeAllowedAccounts, AccountIDs: out}
}

// HasTenantWidePrivileges scopes access to every account of a tenant.
func HasTenantWidePrivileges(tenantID uuid.UUID) RelatedAccounts {
	return RelatedAccounts{Kind: ScopeTenantWide, TenantID: &tenantID}
}

// HasStaffPrivileges is the global staff override.
func HasStaffPrivileges() RelatedAccounts {
	return RelatedAccounts{Kind: ScopeStaff}
}

// HasManagerPrivileges is the global manager override.
func HasManagerPrivileges() RelatedAccounts {
	return RelatedAccounts{Kind: ScopeManager}
}

// IsOverride reports whether the scope is a global override that bypasses
// per-account checks.
func (r RelatedAccounts) IsOverride() bool {
	return r.Kind == ScopeStaff || r.Kind == ScopeManager
}

// Allows reports whether the account is listed in an AllowedAccounts scope.
// Global overrides allow every account. A tenant-wide scope needs the
// account's tenant and is checked through Covers.
func (r RelatedAccounts) Allows(accountID uuid.UUID) bool {
	if r.IsOverride() {
		return true
	}
	if r.Kind != ScopeAllowedAccounts {
		return false
	}
	for _, id := range r.AccountIDs {
		if id == accountID {
			return true
		}
	}
	return false
}

// Covers reports whether accountID, owned by tenantID, falls inside the
// scope. A tenant-wide scope only covers accounts of its own tenant.
func (r RelatedAccounts) Covers(accountID uuid.UUID, tenantID *uuid.UUID) bool {
	if r.Kind == ScopeTenantWide {
		return r.TenantID != nil && tenantID != nil && *r.TenantID == *tenantID
	}
	return r.Allows(accountID)
}

// Resolution is the resolver output: the scope plus per-account details.
type Resolution struct {
	Related   RelatedAccounts
	Resources []LicensedResource
}

// Resource returns the licensed resource for an account.
func (r Resolution) Resource(accountID uuid.UUID) (LicensedResource, bool) {
	for _, res := range r.Resources {
		if res.AccountID == accountID {
			return res, true
		}
	}
	return LicensedResource{}, false
}
