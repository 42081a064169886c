package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/latticehq/lattice/pkg/contextkeys"
	"github.com/latticehq/lattice/pkg/httputil"
	"github.com/latticehq/lattice/pkg/observability"
)

// Verifier validates a bearer token and returns its verified claims.
// The production implementation wraps the OIDC provider's JWT verifier;
// tests supply a fake.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (Claims, error)
}

// OIDCVerifier adapts go-oidc's IDTokenVerifier to the Verifier interface
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier creates a verifier backed by the provider's JWKS
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, err
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// Verify validates the token signature and expiry and extracts claims
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (Claims, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	var claims Claims
	if err := token.Claims(&claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Middleware authenticates requests and attaches the CurrentUser to the
// request context. When required is false, requests without a bearer
// token continue with an anonymous identity; otherwise they are
// rejected with 401.
type Middleware struct {
	verifier Verifier
	users    *UserStore
	required bool
}

// NewMiddleware creates the identity middleware. users may be nil when
// lazy provisioning is not wanted (e.g. in tests).
func NewMiddleware(verifier Verifier, users *UserStore, required bool) *Middleware {
	return &Middleware{verifier: verifier, users: users, required: required}
}

// Handler wraps next with identity extraction
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken, ok := bearerToken(r)
		if !ok {
			if m.required {
				httputil.WriteUnauthorized(w, "missing bearer token")
				return
			}
			ctx := contextkeys.WithIdentity(r.Context(), Anonymous())
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		claims, err := m.verifier.Verify(r.Context(), rawToken)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		current := NewCurrentUser(claims, r.Header.Get(TenantPathHeader))

		// Provision the user row on first authenticated access.
		if m.users != nil {
			if err := m.provision(r.Context(), current); err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("failed to provision user")
				httputil.WriteInternalError(w, err)
				return
			}
		}

		ctx := contextkeys.WithIdentity(r.Context(), current)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) provision(ctx context.Context, current *CurrentUser) error {
	userID, err := current.UserID()
	if err != nil {
		return err
	}
	email, err := current.Email()
	if err != nil {
		return err
	}
	givenName, err := current.GivenName()
	if err != nil {
		return err
	}
	surname, err := current.Surname()
	if err != nil {
		return err
	}

	return m.users.EnsureUser(ctx, &User{
		ID:        userID,
		Email:     email,
		GivenName: givenName,
		Surname:   surname,
	})
}

// FromContext retrieves the CurrentUser attached by the middleware.
// Returns an anonymous identity when none is present.
func FromContext(ctx context.Context) *CurrentUser {
	if current, ok := ctx.Value(contextkeys.IdentityKey).(*CurrentUser); ok {
		return current
	}
	return Anonymous()
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
