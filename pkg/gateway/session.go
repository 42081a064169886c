package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/latticehq/lattice/pkg/observability"
)

// SessionCookieName carries the opaque session id in the browser. The
// cookie never contains tokens; those stay server-side.
const SessionCookieName = "lattice_session"

// ErrSessionNotFound is returned when a session id has no backing state
var ErrSessionNotFound = errors.New("session not found")

const sessionKeyPrefix = "session:"

// Session is the server-side state behind a session cookie. Upstream
// tokens live here and are attached to relayed requests by the token
// relay.
type Session struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry"`
	IDToken      string    `json:"id_token,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SessionStore persists sessions in Redis with a sliding TTL
type SessionStore struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewSessionStore creates a Redis-backed session store. metrics may be
// nil.
func NewSessionStore(client *redis.Client, ttl time.Duration, metrics *observability.Metrics) *SessionStore {
	return &SessionStore{client: client, ttl: ttl, metrics: metrics}
}

// Create persists a new session and returns it with a fresh id
func (s *SessionStore) Create(ctx context.Context, session *Session) error {
	session.ID = uuid.NewString()
	session.CreatedAt = time.Now().UTC()

	if err := s.write(ctx, session); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}
	return nil
}

// Get loads a session by id
func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// Save rewrites an existing session, refreshing its TTL
func (s *SessionStore) Save(ctx context.Context, session *Session) error {
	return s.write(ctx, session)
}

// Delete removes a session. Deleting an absent session is not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	deleted, err := s.client.Del(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if deleted > 0 && s.metrics != nil {
		s.metrics.ActiveSessions.Dec()
	}
	return nil
}

func (s *SessionStore) write(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+session.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// SessionFromRequest resolves the request's session via its cookie
func (s *SessionStore) SessionFromRequest(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return s.Get(r.Context(), cookie.Value)
}

// SetSessionCookie writes the session cookie on the response
func SetSessionCookie(w http.ResponseWriter, sessionID string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
