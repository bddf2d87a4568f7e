package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rolegate/rolegate/internal/identity"
)

// Middleware guards mounted routes with the access decision engine. It must
// be attached with r.With or an inline group so it runs after chi resolved
// the route pattern.
type Middleware struct {
	Engine AccessEngine
	Source identity.Source
	Logger *slog.Logger
	// Observe, when set, receives every decision the guard acted on.
	Observe func(Decision)
}

// Guard resolves the caller, asks the engine about the matched route
// template and method, and rejects denials with 403. Engine faults are 500s;
// a denial is a routine outcome and is logged at debug level only.
func (m Middleware) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		callerID, ok, err := m.Source.CallerID(ctx, r)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("resolve caller", slog.Any("error", err))
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if ok {
			ctx = identity.ContextWithCaller(ctx, callerID)
		}

		route := normalizeRoute(chi.RouteContext(ctx).RoutePattern())
		decision, err := m.Engine.CheckAccess(ctx, callerID, route, r.Method)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("check access", slog.Any("error", err), slog.String("route", route))
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if m.Observe != nil {
			m.Observe(decision)
		}
		if !decision.Allowed {
			if m.Logger != nil {
				m.Logger.Debug("access denied", slog.String("reason", decision.Reason()))
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
