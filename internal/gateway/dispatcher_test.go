package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gateway/internal/auth"
	"github.com/odyssey-erp/odyssey-gateway/internal/identity"
	"github.com/odyssey-erp/odyssey-gateway/internal/license"
	"github.com/odyssey-erp/odyssey-gateway/internal/permission"
	"github.com/odyssey-erp/odyssey-gateway/internal/profile"
	"github.com/odyssey-erp/odyssey-gateway/internal/routes"
	"github.com/odyssey-erp/odyssey-gateway/internal/shared"
)

var (
	accountA = uuid.MustParse("11111111-1111-4111-8111-111111111111")
	accountB = uuid.MustParse("22222222-2222-4222-8222-222222222222")
)

type stubLicenses struct {
	resolution license.Resolution
	err        error
	calls      int
	tenants    map[uuid.UUID]uuid.UUID
	tenantErr  error
}

func (s *stubLicenses) Resolve(ctx context.Context, principal identity.Principal) (license.Resolution, error) {
	s.calls++
	if s.err != nil {
		return license.Resolution{}, s.err
	}
	if principal.IsStaff {
		return license.Resolution{Related: license.HasStaffPrivileges()}, nil
	}
	return s.resolution, nil
}

func (s *stubLicenses) AccountTenant(ctx context.Context, accountID uuid.UUID) (*uuid.UUID, error) {
	if s.tenantErr != nil {
		return nil, s.tenantErr
	}
	tenant, ok := s.tenants[accountID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &tenant, nil
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveDecision(service, outcome string, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, service+":"+outcome)
}

var tokens = map[string]identity.Principal{
	"viewer": {ID: uuid.MustParse("aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"), Kind: identity.KindUser, Email: "viewer@example.com"},
	"staff":  {ID: uuid.MustParse("bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"), Kind: identity.KindUser, IsStaff: true},
}

func stubVerifier() auth.Verifier {
	return auth.VerifierFunc(func(ctx context.Context, cred auth.Credential) (identity.Principal, error) {
		if cred.Token == "boom" {
			return identity.Principal{}, errors.New("redis down")
		}
		p, ok := tokens[cred.Token]
		if !ok {
			return identity.Principal{}, auth.ErrUnauthenticated
		}
		return p, nil
	})
}

func newTable(t *testing.T) *routes.Table {
	t.Helper()
	snapshot, err := routes.NewSnapshot([]routes.Route{
		{Service: "billing", Type: routes.Protected, SecurityGroup: "tenant-manager", Upstream: "http://billing.internal:8080"},
		{Service: "catalog", Type: routes.Protected, Upstream: "http://catalog.internal"},
		{Service: "docs", Type: routes.Public, Upstream: "http://docs.internal/base"},
	})
	require.NoError(t, err)
	table := routes.NewTable()
	table.Swap(snapshot)
	return table
}

func viewerResolution() license.Resolution {
	return license.Resolution{
		Related: license.AllowedAccounts(accountA, accountB),
		Resources: []license.LicensedResource{
			{AccountID: accountA, AccountName: "Acme", Permission: permission.View | permission.Update, RoleSlug: "tenant-manager", Roles: []string{"tenant-manager", "viewer"}},
			{AccountID: accountB, AccountName: "Globex", Permission: permission.View, RoleSlug: "viewer", Roles: []string{"viewer"}},
		},
	}
}

func newDispatcher(t *testing.T, licenses *stubLicenses, observer Observer) *Dispatcher {
	t.Helper()
	return NewDispatcher(stubVerifier(), licenses, newTable(t), slog.New(slog.NewTextHandler(io.Discard, nil)), observer)
}

func bearer(token string) auth.Credential {
	return auth.Credential{Kind: auth.CredentialBearer, Token: token}
}

func TestDispatchForbiddenWithoutSecurityGroup(t *testing.T) {
	licenses := &stubLicenses{resolution: license.Resolution{
		Related:   license.AllowedAccounts(accountB),
		Resources: []license.LicensedResource{{AccountID: accountB, Permission: permission.All, RoleSlug: "viewer"}},
	}}
	decision := newDispatcher(t, licenses, nil).Dispatch(context.Background(), Request{
		Method: http.MethodGet, Path: "/billing/v1/invoices", Credential: bearer("viewer"),
	})

	require.NotNil(t, decision.Reject)
	assert.Nil(t, decision.Forward)
	assert.Equal(t, ReasonForbidden, decision.Reject.Reason)
	assert.Equal(t, http.StatusForbidden, decision.Reject.HTTPStatus)
	assert.ErrorIs(t, decision.Reject.Err, ErrForbidden)
	assert.Equal(t, []State{StateReceived, StateAuthenticated, StateMatched, StateRejected}, decision.Trail)
	assert.Equal(t, "billing", decision.Service)
}

func TestDispatchForwardsWithFreshContext(t *testing.T) {
	licenses := &stubLicenses{resolution: viewerResolution()}
	d := newDispatcher(t, licenses, nil)

	decision := d.Dispatch(context.Background(), Request{
		Method: http.MethodGet, Path: "/billing/v1/invoices?x=1", Credential: bearer("viewer"),
	})
	require.NotNil(t, decision.Forward, "%+v", decision.Reject)
	assert.Equal(t, []State{StateReceived, StateAuthenticated, StateMatched, StateAuthorized, StateForwarded}, decision.Trail)
	assert.Equal(t, "/v1/invoices?x=1", decision.Forward.Remainder)
	assert.Equal(t, "http://billing.internal:8080/v1/invoices?x=1", decision.Forward.Target.String())

	ctx, err := profile.Decode(decision.Forward.ContextHeader)
	require.NoError(t, err)
	assert.Equal(t, tokens["viewer"], ctx.Principal)
	assert.Equal(t, license.ScopeAllowedAccounts, ctx.Related.Kind)
	assert.Len(t, ctx.Resources, 2)

	licenses.resolution.Resources[0].Permission = permission.View
	again := d.Dispatch(context.Background(), Request{Method: http.MethodGet, Path: "/billing/v1/invoices?x=1", Credential: bearer("viewer")})
	require.NotNil(t, again.Forward)
	assert.NotEqual(t, decision.Forward.ContextHeader, again.Forward.ContextHeader)
	assert.Equal(t, 2, licenses.calls)
}

func TestDispatchCapabilityFollowsMethod(t *testing.T) {
	d := newDispatcher(t, &stubLicenses{resolution: viewerResolution()}, nil)

	put := d.Dispatch(context.Background(), Request{Method: http.MethodPut, Path: "/billing/v1/invoices/1", Credential: bearer("viewer")})
	assert.NotNil(t, put.Forward)

	del := d.Dispatch(context.Background(), Request{Method: http.MethodDelete, Path: "/billing/v1/invoices/1", Credential: bearer("viewer")})
	require.NotNil(t, del.Reject)
	assert.Equal(t, ReasonForbidden, del.Reject.Reason)

	post := d.Dispatch(context.Background(), Request{Method: http.MethodPost, Path: "/catalog/items", Credential: bearer("viewer")})
	require.NotNil(t, post.Reject)
	get := d.Dispatch(context.Background(), Request{Method: http.MethodGet, Path: "/catalog/items", Credential: bearer("viewer")})
	assert.NotNil(t, get.Forward)
}

func TestDispatchAccountTargeting(t *testing.T) {
	d := newDispatcher(t, &stubLicenses{resolution: viewerResolution()}, nil)

	onB := d.Dispatch(context.Background(), Request{Method: http.MethodGet, Path: "/billing/x", Credential: bearer("viewer"), AccountID: accountB.String()})
	require.NotNil(t, onB.Reject)
	assert.Equal(t, ReasonForbidden, onB.Reject.Reason)

	onA := d.Dispatch(context.Background(), Request{Method: http.MethodGet, Path: "/billing/x", Credential: bearer("viewer"), AccountID: accountA.String()})
	require.NotNil(t, onA.Forward)
	ctx, err := profile.Decode(onA.Forward.ContextHeader)
	require.NoError(t, err)
	require.Len(t, ctx.Resources, 1)
	assert.Equal(t, accountA, ctx.Resources[0].AccountID)

	garbage := d.Dispatch(context.Background(), Request{Method: http.MethodGet, Path: "/billing/x", Credential: bearer("viewer"), AccountID: "nope"})
	require.NotNil(t, garbage.Reject)
	assert.ErrorIs(t, garbage.Reject.Err, ErrInvalidTarget)
}

func TestDispatchStaffOverride(t *testing.T) {
	d := newDispatcher(t, &stubLicenses{}, nil)
	decision := d.Dispatch(context.Background(), Request{Method: http.MethodDelete, Path: "/billing/v1", Credential: bearer("staff")})
	require.NotNil(t, decision.Forward)
	ctx, err := profile.Decode(decision.Forward.ContextHeader)
	require.NoError(t, err)
	assert.Equal(t, license.ScopeStaff, ctx.Related.Kind)
}

func TestDispatchPublicRoutes(t *testing.T) {
	licenses := &stubLicenses{err: errors.New("db down")}
	d := newDispatcher(t, licenses, nil)

	anon := d.Dispatch(context.Background(), Request{Method: http.MethodGet, Path: "/docs?page=2"})
	require.NotNil(t, anon.Forward)
	assert.Empty(t, anon.Forward.ContextHeader)
	assert.True(t, anon.Forward.Principal.IsZero())
	assert.Equal(t, "http://docs.internal/base/?page=2", anon.Forward.Target.String())
	assert.Equal(t, []State{StateReceived, StateMatched, StateAuthorized, StateForwarded}, anon.Trail)
	assert.Zero(t, licenses.calls)

	signed := d.Dispatch(context.Background(), Request{Method: http.MethodGet, Path: "/docs/guide", Credential: bearer("viewer")})
	require.NotNil(t, signed.Forward)
	ctx, err := profile.Decode(signed.Forward.ContextHeader)
	require.NoError(t, err)
	assert.Equal(t, license.AllowedAccounts(), ctx.Related)
	assert.Empty(t, ctx.Resources)
}

func TestDispatchRejections(t *testing.T) {
	observer := &recordingObserver{}
	d := newDispatcher(t, &stubLicenses{err: errors.New("db down")}, observer)

	cases := []struct {
		name   string
		req    Request
		reason Reason
		status int
	}{
		{"unknown route", Request{Method: http.MethodGet, Path: "/nowhere/x", Credential: bearer("viewer")}, ReasonRouteNotFound, http.StatusNotFound},
		{"bad token on public route", Request{Method: http.MethodGet, Path: "/docs", Credential: bearer("forged")}, ReasonUnauthenticated, http.StatusUnauthorized},
		{"anonymous on protected route", Request{Method: http.MethodGet, Path: "/billing"}, ReasonUnauthenticated, http.StatusUnauthorized},
		{"verifier outage", Request{Method: http.MethodGet, Path: "/billing", Credential: bearer("boom")}, ReasonInternal, http.StatusInternalServerError},
		{"license outage", Request{Method: http.MethodGet, Path: "/billing", Credential: bearer("viewer")}, ReasonInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := d.Dispatch(context.Background(), tc.req)
			require.NotNil(t, decision.Reject)
			assert.Equal(t, tc.reason, decision.Reject.Reason)
			assert.Equal(t, tc.status, decision.Reject.HTTPStatus)
			assert.Equal(t, StateRejected, decision.State)
		})
	}
	assert.Len(t, observer.outcomes, len(cases))
	assert.Equal(t, ":route_not_found", observer.outcomes[0])
}

func TestDispatchCancelledRequestIsNotForwarded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	decision := newDispatcher(t, &stubLicenses{resolution: viewerResolution()}, nil).Dispatch(ctx, Request{
		Method: http.MethodGet, Path: "/billing/v1", Credential: bearer("viewer"),
	})
	assert.Nil(t, decision.Forward)
	require.NotNil(t, decision.Reject)
	assert.ErrorIs(t, decision.Reject.Err, context.Canceled)
}

func TestAuthorizeOverrides(t *testing.T) {
	tenant := uuid.New()
	for _, related := range []license.RelatedAccounts{license.HasStaffPrivileges(), license.HasManagerPrivileges(), license.HasTenantWidePrivileges(tenant)} {
		assert.True(t, Authorize(license.Resolution{Related: related}, "tenant-manager", permission.Delete, nil, nil), related.Kind)
	}
	assert.False(t, Authorize(license.Resolution{Related: license.AllowedAccounts()}, "", permission.View, nil, nil))
}

func TestAuthorizeTenantWideChecksTargetTenant(t *testing.T) {
	tenant := uuid.New()
	other := uuid.New()
	resolution := license.Resolution{Related: license.HasTenantWidePrivileges(tenant)}

	assert.True(t, Authorize(resolution, "tenant-manager", permission.Delete, &accountA, &tenant))
	assert.False(t, Authorize(resolution, "tenant-manager", permission.View, &accountA, &other))
	assert.False(t, Authorize(resolution, "tenant-manager", permission.View, &accountA, nil))
}

func TestDispatchTenantWideTargets(t *testing.T) {
	tenant := uuid.New()
	licenses := &stubLicenses{
		resolution: license.Resolution{Related: license.HasTenantWidePrivileges(tenant)},
		tenants:    map[uuid.UUID]uuid.UUID{accountA: tenant, accountB: uuid.New()},
	}
	d := newDispatcher(t, licenses, nil)
	request := func(account string) Request {
		return Request{Method: http.MethodDelete, Path: "/billing/v1", Credential: bearer("viewer"), AccountID: account}
	}

	own := d.Dispatch(context.Background(), request(accountA.String()))
	require.NotNil(t, own.Forward)
	ctx, err := profile.Decode(own.Forward.ContextHeader)
	require.NoError(t, err)
	assert.Equal(t, tenant, *ctx.Related.TenantID)

	foreign := d.Dispatch(context.Background(), request(accountB.String()))
	require.NotNil(t, foreign.Reject)
	assert.Equal(t, ReasonForbidden, foreign.Reject.Reason)

	unknown := d.Dispatch(context.Background(), request(uuid.NewString()))
	require.NotNil(t, unknown.Reject)
	assert.Equal(t, ReasonForbidden, unknown.Reject.Reason)
	assert.ErrorIs(t, unknown.Reject.Err, ErrForbidden)

	licenses.tenantErr = errors.New("db down")
	outage := d.Dispatch(context.Background(), request(accountA.String()))
	require.NotNil(t, outage.Reject)
	assert.Equal(t, ReasonInternal, outage.Reject.Reason)
}
