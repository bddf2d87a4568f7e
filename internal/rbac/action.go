package rbac

import (
	"net/http"
	"strings"
)

// allowedMethods is the fixed method enumeration actions may use. The route
// table provider is expected to hand over canonical template routes; this
// package only canonicalizes the method casing.
var allowedMethods = map[string]struct{}{
	http.MethodGet:    {},
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// NormalizeMethod upper-cases and validates a request method.
func NormalizeMethod(method string) (string, error) {
	m := strings.ToUpper(strings.TrimSpace(method))
	if _, ok := allowedMethods[m]; !ok {
		return "", &InvalidMethodError{Method: method}
	}
	return m, nil
}

// MatchesAction reports whether the action satisfies the requested
// (route, method) pair. Methods compare case-insensitively; routes compare
// by exact template equality, so "/items/{id}" never matches
// "/items/{id}/buy".
func MatchesAction(a Action, route, method string) bool {
	return strings.EqualFold(a.Method, method) && a.Route == route
}
