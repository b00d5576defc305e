package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-gateway/internal/identity"
	"github.com/odyssey-erp/odyssey-gateway/internal/shared"
)

// Service dispatches a credential to the verifier for its kind.
type Service struct {
	bearer   Verifier
	sessions Verifier
	repo     Repository
}

// NewService constructs a Service. Any collaborator may be nil, in which case
// credentials of that kind are rejected.
func NewService(bearer, sessions Verifier, repo Repository) *Service {
	return &Service{bearer: bearer, sessions: sessions, repo: repo}
}

// Resolve implements Verifier. Credential faults wrap ErrUnauthenticated;
// other errors are infrastructure failures.
func (s *Service) Resolve(ctx context.Context, cred Credential) (identity.Principal, error) {
	switch cred.Kind {
	case "":
		return identity.Principal{}, ErrNoCredential
	case CredentialBearer:
		return resolveWith(ctx, s.bearer, cred)
	case CredentialSession:
		return resolveWith(ctx, s.sessions, cred)
	case CredentialServiceSecret:
		return s.authenticateService(ctx, cred.ServiceID, cred.Token)
	default:
		return identity.Principal{}, fmt.Errorf("%w: unsupported credential %q", ErrUnauthenticated, cred.Kind)
	}
}

func resolveWith(ctx context.Context, v Verifier, cred Credential) (identity.Principal, error) {
	if v == nil {
		return identity.Principal{}, fmt.Errorf("%w: %s credentials disabled", ErrUnauthenticated, cred.Kind)
	}
	return v.Resolve(ctx, cred)
}

func (s *Service) authenticateService(ctx context.Context, rawID, secret string) (identity.Principal, error) {
	if s.repo == nil {
		return identity.Principal{}, fmt.Errorf("%w: service credentials disabled", ErrUnauthenticated)
	}
	id, err := uuid.Parse(rawID)
	if err != nil || secret == "" {
		return identity.Principal{}, ErrUnauthenticated
	}
	account, err := s.repo.FindServiceAccount(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return identity.Principal{}, ErrUnauthenticated
		}
		return identity.Principal{}, err
	}
	if !account.IsActive {
		return identity.Principal{}, ErrUnauthenticated
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.SecretHash), []byte(secret)); err != nil {
		return identity.Principal{}, ErrUnauthenticated
	}
	return identity.Principal{ID: account.ID, Kind: identity.KindService, IsStaff: account.IsStaff}, nil
}

var _ Verifier = (*Service)(nil)
