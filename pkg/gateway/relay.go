package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/latticehq/lattice/pkg/observability"
)

// refreshSkew refreshes tokens this close to expiry so an upstream
// call never departs with a token about to lapse in flight.
const refreshSkew = 30 * time.Second

// upstreamTimeout bounds a relayed round trip
const upstreamTimeout = 30 * time.Second

// refreshTimeout bounds the token-endpoint call so a hung IdP cannot
// stall every request waiting on the shared refresh
const refreshTimeout = 10 * time.Second

// TokenExchanger refreshes an access token from a refresh token. The
// production implementation wraps the OIDC provider's OAuth2 endpoint;
// tests supply a fake.
type TokenExchanger interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// OAuth2Exchanger refreshes tokens against the provider's token
// endpoint.
type OAuth2Exchanger struct {
	config *oauth2.Config
}

// NewOAuth2Exchanger wraps an OAuth2 config for token refresh
func NewOAuth2Exchanger(config *oauth2.Config) *OAuth2Exchanger {
	return &OAuth2Exchanger{config: config}
}

// Refresh exchanges the refresh token for a new token pair
func (e *OAuth2Exchanger) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := e.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return token, nil
}

// Relay translates cookie sessions into bearer-authenticated upstream
// requests. The browser never sees a token; the upstream never sees a
// cookie.
type Relay struct {
	routes    *RouteTable
	sessions  *SessionStore
	exchanger TokenExchanger
	logger    *observability.Logger
	metrics   *observability.Metrics

	// refreshGroup collapses concurrent refreshes for the same
	// session into one token-endpoint call.
	refreshGroup singleflight.Group

	refreshTimeout time.Duration
	transport      http.RoundTripper
}

// NewRelay creates the token relay. metrics may be nil.
func NewRelay(routes *RouteTable, sessions *SessionStore, exchanger TokenExchanger, logger *observability.Logger, metrics *observability.Metrics) *Relay {
	return &Relay{
		routes:         routes,
		sessions:       sessions,
		exchanger:      exchanger,
		logger:         logger,
		metrics:        metrics,
		refreshTimeout: refreshTimeout,
		transport:      &http.Transport{ResponseHeaderTimeout: upstreamTimeout},
	}
}

// ServeHTTP relays the request to the upstream matched by the route
// table with the session's bearer token attached.
func (g *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upstream, ok := g.routes.Match(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	session, err := g.sessions.SessionFromRequest(r)
	if err != nil {
		g.unauthorized(w)
		return
	}

	token, err := g.ensureFreshToken(r.Context(), session)
	if err != nil {
		// The session cannot produce a usable token; it is dead.
		// The upstream is never called with a stale credential.
		if err := g.sessions.Delete(r.Context(), session.ID); err != nil {
			g.logger.WithError(err).Warn("failed to delete dead session")
		}
		ClearSessionCookie(w)
		g.unauthorized(w)
		return
	}

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = upstream.Scheme
			req.URL.Host = upstream.Host
			req.Host = upstream.Host

			// Strip browser credentials; attach the bearer token
			req.Header.Del("Cookie")
			req.Header.Set("Authorization", "Bearer "+token)
		},
		Transport: g.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			g.logger.WithError(err).Error("upstream request failed")
			g.countProxied("upstream_error")
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	g.countProxied("relayed")
	proxy.ServeHTTP(w, r)
}

// ensureFreshToken returns a token valid past the refresh skew,
// refreshing through singleflight when needed. Concurrent requests on
// the same session share one refresh; all of them see the new token.
// The refresh itself runs under its own bounded deadline.
func (g *Relay) ensureFreshToken(ctx context.Context, session *Session) (string, error) {
	if time.Until(session.TokenExpiry) > refreshSkew {
		return session.AccessToken, nil
	}
	if session.RefreshToken == "" {
		return "", errors.New("session token expired with no refresh token")
	}

	result, err, _ := g.refreshGroup.Do(session.ID, func() (interface{}, error) {
		// The flight serves every waiter on this session: it must not
		// die with the first caller's context, and it must not hang on
		// a stuck token endpoint.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.refreshTimeout)
		defer cancel()

		// Another request may have refreshed while we queued
		current, err := g.sessions.Get(flightCtx, session.ID)
		if err != nil {
			return nil, err
		}
		if time.Until(current.TokenExpiry) > refreshSkew {
			return current.AccessToken, nil
		}

		token, err := g.exchanger.Refresh(flightCtx, current.RefreshToken)
		if err != nil {
			g.countRefresh("failure")
			return nil, err
		}

		current.AccessToken = token.AccessToken
		current.TokenExpiry = token.Expiry
		if token.RefreshToken != "" {
			current.RefreshToken = token.RefreshToken
		}
		if err := g.sessions.Save(flightCtx, current); err != nil {
			g.countRefresh("failure")
			return nil, err
		}

		g.countRefresh("success")
		return current.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (g *Relay) unauthorized(w http.ResponseWriter) {
	g.countProxied("unauthorized")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
}

func (g *Relay) countRefresh(outcome string) {
	if g.metrics != nil {
		g.metrics.TokenRefreshTotal.WithLabelValues(outcome).Inc()
	}
}

func (g *Relay) countProxied(outcome string) {
	if g.metrics != nil {
		g.metrics.ProxiedRequestsTotal.WithLabelValues(outcome).Inc()
	}
}

// Upstream is a resolved proxy target
type Upstream struct {
	Scheme string
	Host   string
}

// parseUpstream validates an upstream URL from route config
func parseUpstream(raw string) (Upstream, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Upstream{}, fmt.Errorf("invalid upstream url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Upstream{}, fmt.Errorf("upstream url %q must be http or https", raw)
	}
	if u.Host == "" {
		return Upstream{}, fmt.Errorf("upstream url %q has no host", raw)
	}
	return Upstream{Scheme: u.Scheme, Host: u.Host}, nil
}
