package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gateway/internal/identity"
)

// maxEmailLen matches the principal's email bound.
const maxEmailLen = 320

// Claims is the bearer token payload.
type Claims struct {
	Email     string        `json:"email,omitempty"`
	Kind      identity.Kind `json:"kind,omitempty"`
	IsStaff   bool          `json:"is_staff,omitempty"`
	IsManager bool          `json:"is_manager,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 bearer tokens.
type JWTVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewJWTVerifier constructs a verifier. An empty issuer skips the iss check.
func NewJWTVerifier(secret, issuer string, leeway time.Duration) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, leeway: leeway, now: time.Now}
}

// Resolve implements Verifier for bearer credentials.
func (v *JWTVerifier) Resolve(_ context.Context, cred Credential) (identity.Principal, error) {
	if cred.Kind != CredentialBearer || cred.Token == "" {
		return identity.Principal{}, ErrUnauthenticated
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(cred.Token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return identity.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return identity.Principal{}, fmt.Errorf("%w: subject: %v", ErrUnauthenticated, err)
	}
	kind := claims.Kind
	if kind == "" {
		kind = identity.KindUser
	}
	if kind != identity.KindUser && kind != identity.KindService {
		return identity.Principal{}, fmt.Errorf("%w: unknown principal kind %q", ErrUnauthenticated, kind)
	}
	email := strings.TrimSpace(claims.Email)
	if len(email) > maxEmailLen {
		return identity.Principal{}, fmt.Errorf("%w: email claim exceeds %d bytes", ErrUnauthenticated, maxEmailLen)
	}
	return identity.Principal{
		ID:        id,
		Kind:      kind,
		Email:     email,
		IsStaff:   claims.IsStaff,
		IsManager: claims.IsManager,
	}, nil
}

// Issue signs a token for p valid for ttl.
func (v *JWTVerifier) Issue(p identity.Principal, ttl time.Duration) (string, error) {
	if p.IsZero() {
		return "", errors.New("auth: issue token for empty principal")
	}
	now := v.now()
	claims := Claims{
		Email:     p.Email,
		Kind:      p.Kind,
		IsStaff:   p.IsStaff,
		IsManager: p.IsManager,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
