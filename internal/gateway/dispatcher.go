package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gateway/internal/auth"
	"github.com/odyssey-erp/odyssey-gateway/internal/identity"
	"github.com/odyssey-erp/odyssey-gateway/internal/license"
	"github.com/odyssey-erp/odyssey-gateway/internal/permission"
	"github.com/odyssey-erp/odyssey-gateway/internal/profile"
	"github.com/odyssey-erp/odyssey-gateway/internal/routes"
	"github.com/odyssey-erp/odyssey-gateway/internal/shared"
)

// LicenseService resolves a principal's licensed resources.
type LicenseService interface {
	Resolve(ctx context.Context, principal identity.Principal) (license.Resolution, error)
	AccountTenant(ctx context.Context, accountID uuid.UUID) (*uuid.UUID, error)
}

// RouteMatcher resolves a path against the current route snapshot.
type RouteMatcher interface {
	Match(path string) (routes.Match, error)
}

// Observer records dispatch outcomes.
type Observer interface {
	ObserveDecision(service, outcome string, elapsed time.Duration)
}

// Dispatcher runs the authentication, routing and authorization pipeline.
type Dispatcher struct {
	verifier auth.Verifier
	licenses LicenseService
	routes   RouteMatcher
	logger   *slog.Logger
	observer Observer
}

// NewDispatcher constructs a Dispatcher. observer may be nil.
func NewDispatcher(verifier auth.Verifier, licenses LicenseService, matcher RouteMatcher, logger *slog.Logger, observer Observer) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{verifier: verifier, licenses: licenses, routes: matcher, logger: logger, observer: observer}
}

type run struct {
	decision Decision
}

func (r *run) advance(s State) {
	r.decision.State = s
	r.decision.Trail = append(r.decision.Trail, s)
}

func (r *run) reject(reason Reason, err error) Decision {
	r.advance(StateRejected)
	r.decision.Reject = &Reject{Reason: reason, HTTPStatus: reason.HTTPStatus(), Err: err}
	return r.decision
}

// Dispatch decides whether req is forwarded or rejected. It has no side
// effects besides logging and metrics.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Decision {
	start := time.Now()
	decision := d.dispatch(ctx, req)
	if d.observer != nil {
		d.observer.ObserveDecision(decision.Service, decision.Outcome(), time.Since(start))
	}
	logger := d.logger.With(slog.String("request_id", req.RequestID), slog.String("method", req.Method))
	if decision.Reject != nil {
		level := slog.LevelInfo
		if decision.Reject.HTTPStatus >= 500 {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "request rejected",
			slog.String("service", decision.Service),
			slog.String("reason", string(decision.Reject.Reason)),
			slog.Any("error", decision.Reject.Err))
	} else {
		logger.Debug("request forwarded",
			slog.String("service", decision.Service),
			slog.String("principal", decision.Forward.Principal.ID.String()))
	}
	return decision
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Decision {
	r := &run{}
	r.advance(StateReceived)

	var principal identity.Principal
	if !req.Credential.IsZero() {
		p, err := d.verifier.Resolve(ctx, req.Credential)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) || errors.Is(err, auth.ErrNoCredential) {
				return r.reject(ReasonUnauthenticated, err)
			}
			return r.reject(ReasonInternal, fmt.Errorf("gateway: resolve credential: %w", err))
		}
		principal = p
		r.advance(StateAuthenticated)
	}

	match, err := d.routes.Match(req.Path)
	if err != nil {
		if errors.Is(err, routes.ErrNotFound) {
			return r.reject(ReasonRouteNotFound, err)
		}
		return r.reject(ReasonInternal, err)
	}
	r.decision.Service = match.Route.Service
	r.advance(StateMatched)

	var target *uuid.UUID
	if req.AccountID != "" {
		id, err := uuid.Parse(req.AccountID)
		if err != nil {
			return r.reject(ReasonForbidden, fmt.Errorf("%w: %v", ErrInvalidTarget, err))
		}
		target = &id
	}

	kind, group := routes.RequiredPolicy(match.Route)
	var ctxHeader string
	switch kind {
	case routes.Public:
		// Anonymous callers are forwarded without a context header.
		if !principal.IsZero() {
			resolution, err := d.licenses.Resolve(ctx, principal)
			if err != nil {
				d.logger.Warn("license resolution on public route", slog.String("service", match.Route.Service), slog.Any("error", err))
				resolution = license.Resolution{Related: license.AllowedAccounts()}
			}
			ctxHeader, err = encodeContext(principal, resolution, target)
			if err != nil {
				return r.reject(ReasonInternal, err)
			}
		}
		r.advance(StateAuthorized)
	default:
		if principal.IsZero() {
			return r.reject(ReasonUnauthenticated, ErrAnonymous)
		}
		resolution, err := d.licenses.Resolve(ctx, principal)
		if err != nil {
			return r.reject(ReasonInternal, fmt.Errorf("gateway: resolve licenses: %w", err))
		}
		var tenant *uuid.UUID
		if target != nil && resolution.Related.Kind == license.ScopeTenantWide {
			tenant, err = d.licenses.AccountTenant(ctx, *target)
			if errors.Is(err, shared.ErrNotFound) {
				return r.reject(ReasonForbidden, fmt.Errorf("%w: account %s not found", ErrForbidden, *target))
			}
			if err != nil {
				return r.reject(ReasonInternal, fmt.Errorf("gateway: account tenant: %w", err))
			}
		}
		want := permission.ForMethod(req.Method)
		if !Authorize(resolution, group, want, target, tenant) {
			return r.reject(ReasonForbidden, fmt.Errorf("%w: %s requires %s on group %q", ErrForbidden, match.Route.Service, want, group))
		}
		r.advance(StateAuthorized)
		ctxHeader, err = encodeContext(principal, resolution, target)
		if err != nil {
			return r.reject(ReasonInternal, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return r.reject(ReasonInternal, err)
	}
	targetURL, err := match.Route.Target(match.Remainder)
	if err != nil {
		return r.reject(ReasonInternal, err)
	}
	r.advance(StateForwarded)
	r.decision.Forward = &Forward{
		Route:         match.Route,
		Target:        targetURL,
		Remainder:     match.Remainder,
		ContextHeader: ctxHeader,
		Principal:     principal,
		AccountID:     target,
	}
	return r.decision
}

// Authorize reports whether resolution satisfies a route's security group
// for the wanted capability. Global overrides always pass. A tenant-wide
// scope passes without a target, and with one only when tenant owns it. When
// target is set only that account's resource is considered.
func Authorize(resolution license.Resolution, group string, want permission.Capability, target, tenant *uuid.UUID) bool {
	related := resolution.Related
	if related.IsOverride() {
		return true
	}
	if related.Kind == license.ScopeTenantWide {
		return target == nil || related.Covers(*target, tenant)
	}
	for _, res := range resolution.Resources {
		if target != nil && res.AccountID != *target {
			continue
		}
		if !related.Allows(res.AccountID) {
			continue
		}
		if group != "" && !res.HasRole(group) {
			continue
		}
		if permission.HasCapability(res.Permission, want) {
			return true
		}
	}
	return false
}

func encodeContext(principal identity.Principal, resolution license.Resolution, target *uuid.UUID) (string, error) {
	resources := resolution.Resources
	if target != nil {
		resources = nil
		if res, ok := resolution.Resource(*target); ok {
			resources = []license.LicensedResource{res}
		}
	}
	header, err := profile.Encode(profile.NewContext(principal, resolution.Related, resources))
	if err != nil {
		return "", fmt.Errorf("gateway: encode profile: %w", err)
	}
	return header, nil
}
