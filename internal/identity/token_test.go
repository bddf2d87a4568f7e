package identity

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*TokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenStore(client, time.Minute), mr
}

func TestTokenStoreIssueAndResolve(t *testing.T) {
	store, _ := newTestStore(t)

	token, err := store.Issue(context.Background(), "caller-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	req := httptest.NewRequest("GET", "/items", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	callerID, ok, err := store.CallerID(context.Background(), req)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "caller-1", callerID)
}

func TestTokenStoreUnknownTokenAnonymous(t *testing.T) {
	store, _ := newTestStore(t)

	req := httptest.NewRequest("GET", "/items", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")

	callerID, ok, err := store.CallerID(context.Background(), req)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, callerID)
}

func TestTokenStoreNoHeaderAnonymous(t *testing.T) {
	store, _ := newTestStore(t)

	_, ok, err := store.CallerID(context.Background(), httptest.NewRequest("GET", "/items", nil))
	require.NoError(t, err)
	require.False(t, ok)

	malformed := httptest.NewRequest("GET", "/items", nil)
	malformed.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, ok, err = store.CallerID(context.Background(), malformed)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTokenStoreRevoke(t *testing.T) {
	store, _ := newTestStore(t)

	token, err := store.Issue(context.Background(), "caller-1")
	require.NoError(t, err)
	require.NoError(t, store.Revoke(context.Background(), token))

	req := httptest.NewRequest("GET", "/items", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	_, ok, err := store.CallerID(context.Background(), req)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTokenStoreResolveRefreshesTTL(t *testing.T) {
	store, mr := newTestStore(t)

	token, err := store.Issue(context.Background(), "caller-1")
	require.NoError(t, err)

	mr.FastForward(45 * time.Second)

	req := httptest.NewRequest("GET", "/items", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	_, ok, err := store.CallerID(context.Background(), req)
	require.NoError(t, err)
	require.True(t, ok)

	// The hit reset the clock, so the original expiry has no effect.
	mr.FastForward(45 * time.Second)
	_, ok, err = store.CallerID(context.Background(), req)
	require.NoError(t, err)
	require.True(t, ok)
}
