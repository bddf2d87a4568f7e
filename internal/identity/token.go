// Package identity resolves callers of guarded routes to opaque caller ids.
// The access engine treats identities as opaque strings; everything here is
// a pluggable collaborator in front of it.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Source resolves a caller identity from an inbound request. ok is false for
// anonymous callers; errors are reserved for backend failures.
type Source interface {
	CallerID(ctx context.Context, r *http.Request) (callerID string, ok bool, err error)
}

// TokenStore maps opaque bearer tokens to caller ids in Redis. Requests
// without a token, or with a token the store no longer knows, count as
// anonymous rather than failing: denial policy belongs to the access engine.
type TokenStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewTokenStore constructs a token store.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{client: client, prefix: "rolegate:token:", ttl: ttl}
}

// Issue mints a token for the caller id.
func (s *TokenStore) Issue(ctx context.Context, callerID string) (string, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, s.prefix+token, callerID, s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Revoke forgets a token.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.prefix+token).Err()
}

// CallerID resolves the bearer token on the request, refreshing its TTL on a
// hit.
func (s *TokenStore) CallerID(ctx context.Context, r *http.Request) (string, bool, error) {
	token := bearerToken(r)
	if token == "" {
		return "", false, nil
	}
	callerID, err := s.client.GetEx(ctx, s.prefix+token, s.ttl).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return callerID, true, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const scheme = "Bearer "
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return ""
	}
	return strings.TrimSpace(header[len(scheme):])
}
