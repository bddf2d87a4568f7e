package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchesAction(t *testing.T) {
	act := Action{Route: "/items/{id}", Method: "GET"}

	require.True(t, MatchesAction(act, "/items/{id}", "GET"))
	require.True(t, MatchesAction(act, "/items/{id}", "get"))
	require.False(t, MatchesAction(act, "/items/{id}", "POST"))
	// Exact template equality only, no prefix matching.
	require.False(t, MatchesAction(act, "/items/{id}/buy", "GET"))
	require.False(t, MatchesAction(act, "/items", "GET"))
}

func TestNormalizeMethod(t *testing.T) {
	for raw, want := range map[string]string{
		"get":    "GET",
		"Post":   "POST",
		" PUT ":  "PUT",
		"patch":  "PATCH",
		"DELETE": "DELETE",
	} {
		got, err := NormalizeMethod(raw)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	for _, raw := range []string{"", "TRACE", "CONNECT", "FETCH"} {
		_, err := NormalizeMethod(raw)
		var methodErr *InvalidMethodError
		require.ErrorAs(t, err, &methodErr)
	}
}
