package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/oauth2"

	"github.com/latticehq/lattice/pkg/httputil"
	"github.com/latticehq/lattice/pkg/observability"
)

const (
	stateKeyPrefix = "authstate:"
	stateTTL       = 10 * time.Minute
)

// AuthHandlers drives the OIDC login flow and session lifecycle
type AuthHandlers struct {
	oauth2Config  *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	sessions      *SessionStore
	states        *redis.Client
	logger        *observability.Logger
	secureCookies bool
}

// NewAuthHandlers discovers the OIDC provider and builds the login
// handlers.
func NewAuthHandlers(ctx context.Context, issuerURL, clientID, clientSecret, redirectURL string, sessions *SessionStore, states *redis.Client, logger *observability.Logger, secureCookies bool) (*AuthHandlers, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &AuthHandlers{
		oauth2Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email", "offline_access"},
		},
		verifier:      provider.Verifier(&oidc.Config{ClientID: clientID}),
		sessions:      sessions,
		states:        states,
		logger:        logger,
		secureCookies: secureCookies,
	}, nil
}

// Exchanger returns a token exchanger sharing this flow's OAuth2
// client, for the relay.
func (h *AuthHandlers) Exchanger() TokenExchanger {
	return NewOAuth2Exchanger(h.oauth2Config)
}

// RegisterRoutes registers the login flow routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/login", h.login).Methods("GET")
	router.HandleFunc("/auth/callback", h.callback).Methods("GET")
	router.HandleFunc("/auth/logout", h.logout).Methods("POST", "GET")
}

// login starts the authorization code flow. The caller's returnUrl is
// parked server-side under the state value so the callback can finish
// where the user started.
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	returnURL := sanitizeReturnURL(r.URL.Query().Get("returnUrl"))

	state := uuid.NewString()
	if err := h.states.Set(r.Context(), stateKeyPrefix+state, returnURL, stateTTL).Err(); err != nil {
		h.logger.WithError(err).Error("failed to store login state")
		httputil.WriteInternalError(w, err)
		return
	}

	authURL := h.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *AuthHandlers) callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		httputil.WriteBadRequest(w, "missing state")
		return
	}

	// One-shot: the state is consumed whether or not the rest succeeds
	returnURL, err := h.states.GetDel(r.Context(), stateKeyPrefix+state).Result()
	if err == redis.Nil {
		httputil.WriteBadRequest(w, "unknown or expired state")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		httputil.WriteBadRequest(w, "missing authorization code")
		return
	}

	token, err := h.oauth2Config.Exchange(r.Context(), code)
	if err != nil {
		h.logger.WithError(err).Error("authorization code exchange failed")
		httputil.WriteUnauthorized(w, "login failed")
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		httputil.WriteUnauthorized(w, "login failed")
		return
	}
	idToken, err := h.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		h.logger.WithError(err).Error("id token verification failed")
		httputil.WriteUnauthorized(w, "login failed")
		return
	}

	session := &Session{
		Subject:      idToken.Subject,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  token.Expiry,
		IDToken:      rawIDToken,
	}
	if err := h.sessions.Create(r.Context(), session); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	SetSessionCookie(w, session.ID, h.secureCookies)
	http.Redirect(w, r, returnURL, http.StatusFound)
}

func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if err := h.sessions.Delete(r.Context(), cookie.Value); err != nil {
			h.logger.WithError(err).Warn("failed to delete session on logout")
		}
	}
	ClearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// sanitizeReturnURL only admits same-site relative paths; anything
// else falls back to the root to keep the flow from becoming an open
// redirect.
func sanitizeReturnURL(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return "/"
	}
	return raw
}
