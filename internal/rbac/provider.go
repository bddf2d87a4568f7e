package rbac

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Declaration ties one registered (route, method) pair to a permission name.
// An empty Permission marks an unprotected endpoint, folded into the
// "dynamic:uncovered" permission by the registry.
type Declaration struct {
	Route      string
	Method     string
	Permission string
}

// RouteTableProvider enumerates the currently registered endpoints and their
// declared permission requirements.
type RouteTableProvider interface {
	Declarations() []Declaration
}

// Table is the in-process route table. Handlers declare their protected
// endpoints while mounting; CollectRoutes then walks the router so every
// undeclared endpoint still surfaces, without a permission name.
type Table struct {
	mu    sync.Mutex
	decls []Declaration
	seen  map[string]struct{}
}

// NewTable constructs an empty route table.
func NewTable() *Table {
	return &Table{seen: make(map[string]struct{})}
}

// Declare registers a permission requirement for one endpoint. The method
// must belong to the fixed enumeration and the permission name must follow
// the "<abstract-action>:<target>" convention; dynamic-prefixed names are
// rejected because they may never be paired with routes directly.
func (t *Table) Declare(method, route, permission string) error {
	m, err := NormalizeMethod(method)
	if err != nil {
		return err
	}
	if err := ValidateName(permission); err != nil {
		return err
	}
	if HasDynamicPrefix(permission) {
		return &NonDynamicPermissionError{Name: permission, InOrderTo: "guard a route"}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := m + " " + route
	if _, ok := t.seen[key]; ok {
		return fmt.Errorf("rbac: endpoint %s declared twice", key)
	}
	t.seen[key] = struct{}{}
	t.decls = append(t.decls, Declaration{Route: route, Method: m, Permission: permission})
	return nil
}

// MustDeclare is Declare for wiring paths where a bad declaration is a
// programming fault.
func (t *Table) MustDeclare(method, route, permission string) {
	if err := t.Declare(method, route, permission); err != nil {
		panic(err)
	}
}

// CollectRoutes walks the router and records every endpoint that no Declare
// call covered as an unprotected declaration.
func (t *Table) CollectRoutes(r chi.Routes) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		m := strings.ToUpper(method)
		if _, ok := allowedMethods[m]; !ok {
			return nil
		}
		key := m + " " + normalizeRoute(route)
		if _, ok := t.seen[key]; ok {
			return nil
		}
		t.seen[key] = struct{}{}
		t.decls = append(t.decls, Declaration{Route: normalizeRoute(route), Method: m})
		return nil
	})
}

// Declarations returns a stable snapshot of the table.
func (t *Table) Declarations() []Declaration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Declaration, len(t.decls))
	copy(out, t.decls)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Route != out[j].Route {
			return out[i].Route < out[j].Route
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// normalizeRoute flattens the artifacts chi.Walk leaves on mounted
// subrouters so the template matches what handlers declared.
func normalizeRoute(route string) string {
	route = strings.ReplaceAll(route, "/*/", "/")
	if route != "/" {
		route = strings.TrimSuffix(route, "/")
	}
	return route
}
