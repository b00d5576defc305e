package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-gateway/internal/identity"
)

// SessionStore keeps opaque session tokens in Redis.
type SessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type sessionPayload struct {
	Principal identity.Principal `json:"principal"`
	CreatedAt time.Time          `json:"created_at"`
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, prefix string, ttl time.Duration) *SessionStore {
	if prefix == "" {
		prefix = "gateway:session:"
	}
	return &SessionStore{client: client, prefix: prefix, ttl: ttl}
}

// TTL exposes the configured session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Create stores a new session for p and returns its token.
func (s *SessionStore) Create(ctx context.Context, p identity.Principal) (string, error) {
	if p.IsZero() {
		return "", errors.New("auth: session for empty principal")
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(sessionPayload{Principal: p, CreatedAt: time.Now().UTC()})
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.redisKey(token), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("auth: store session: %w", err)
	}
	return token, nil
}

// Resolve implements Verifier for session credentials.
func (s *SessionStore) Resolve(ctx context.Context, cred Credential) (identity.Principal, error) {
	if cred.Kind != CredentialSession || cred.Token == "" {
		return identity.Principal{}, ErrUnauthenticated
	}
	payload, err := s.client.Get(ctx, s.redisKey(cred.Token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return identity.Principal{}, ErrUnauthenticated
		}
		return identity.Principal{}, fmt.Errorf("auth: load session: %w", err)
	}
	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return identity.Principal{}, fmt.Errorf("%w: corrupt session: %v", ErrUnauthenticated, err)
	}
	if stored.Principal.IsZero() {
		return identity.Principal{}, ErrUnauthenticated
	}
	return stored.Principal, nil
}

// Delete removes a session. Unknown tokens are ignored.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.client.Del(ctx, s.redisKey(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (s *SessionStore) redisKey(token string) string {
	return s.prefix + token
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
