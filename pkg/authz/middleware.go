package authz

import (
	"net/http"

	"github.com/latticehq/lattice/pkg/httputil"
	"github.com/latticehq/lattice/pkg/identity"
	"github.com/latticehq/lattice/pkg/observability"
)

// PlatformRoleAdmin is the platform-level operator role. Platform
// roles come from the verified identity and bypass tenant grants
// entirely.
const PlatformRoleAdmin = "platform-admin"

// Middleware enforces authorization on routes. Denials are uniform: a
// caller cannot distinguish a missing grant, an expired grant, or a
// grant at the wrong tenant.
type Middleware struct {
	resolver *Resolver
}

// NewMiddleware creates authorization middleware
func NewMiddleware(resolver *Resolver) *Middleware {
	return &Middleware{resolver: resolver}
}

// RequireFeature guards a route behind a feature check against the
// request's selected tenant.
func (m *Middleware) RequireFeature(feature Feature) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current := identity.FromContext(r.Context())
			if !current.IsAuthenticated() {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			userID, err := current.UserID()
			if err != nil {
				httputil.WriteInternalError(w, err)
				return
			}

			path, ok := current.SelectedTenantPath()
			if !ok {
				httputil.WriteForbidden(w)
				return
			}

			allowed, err := m.resolver.IsAuthorized(r.Context(), userID, path, feature)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("authorization check failed")
				httputil.WriteInternalError(w, err)
				return
			}
			if !allowed {
				httputil.WriteForbidden(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePlatformRole guards a route behind a platform role carried on
// the verified identity. Tenant grants are not consulted.
func RequirePlatformRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current := identity.FromContext(r.Context())
			if !current.IsAuthenticated() {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if !current.HasPlatformRole(role) {
				httputil.WriteForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
