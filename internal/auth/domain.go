// Package auth resolves request credentials into principals.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gateway/internal/identity"
)

// CredentialKind identifies how a caller presented itself.
type CredentialKind string

const (
	CredentialBearer        CredentialKind = "bearer"
	CredentialSession       CredentialKind = "session"
	CredentialServiceSecret CredentialKind = "service_secret"
)

// Headers carrying credentials. The gateway strips them before forwarding.
const (
	HeaderAuthorization = "Authorization"
	HeaderSessionToken  = "X-Session-Token"
	HeaderServiceID     = "X-Service-Id"
	HeaderServiceSecret = "X-Service-Secret"
)

// DefaultSessionCookie is the cookie holding a session token.
const DefaultSessionCookie = "gateway_session"

var (
	// ErrUnauthenticated indicates a missing, malformed, unknown or expired credential.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrNoCredential indicates the request carried no credential at all.
	ErrNoCredential = errors.New("auth: no credential")
)

// Credential is the raw secret extracted from a request.
type Credential struct {
	Kind      CredentialKind
	Token     string
	ServiceID string
}

// IsZero reports whether no credential was presented.
func (c Credential) IsZero() bool {
	return c.Kind == ""
}

// Verifier resolves a credential into a principal.
type Verifier interface {
	Resolve(ctx context.Context, cred Credential) (identity.Principal, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, cred Credential) (identity.Principal, error)

// Resolve implements Verifier.
func (f VerifierFunc) Resolve(ctx context.Context, cred Credential) (identity.Principal, error) {
	return f(ctx, cred)
}

// CredentialFromRequest extracts the first credential present, in order:
// bearer token, service secret, session header, session cookie.
func CredentialFromRequest(r *http.Request, cookieName string) Credential {
	if header := r.Header.Get(HeaderAuthorization); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return Credential{Kind: CredentialBearer, Token: strings.TrimSpace(token)}
		}
		return Credential{Kind: CredentialBearer}
	}
	if id := r.Header.Get(HeaderServiceID); id != "" {
		return Credential{Kind: CredentialServiceSecret, ServiceID: id, Token: r.Header.Get(HeaderServiceSecret)}
	}
	if token := r.Header.Get(HeaderSessionToken); token != "" {
		return Credential{Kind: CredentialSession, Token: token}
	}
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return Credential{Kind: CredentialSession, Token: cookie.Value}
	}
	return Credential{}
}

// ServiceAccount is a machine caller authenticated by id and shared secret.
type ServiceAccount struct {
	ID         uuid.UUID
	Name       string
	SecretHash string
	IsActive   bool
	IsStaff    bool
}
