package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSessionStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewSessionStore(client, time.Hour, nil), mr
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store, _ := setupSessionStore(t)
	ctx := context.Background()

	session := &Session{
		Subject:      "user-1",
		AccessToken:  "at",
		RefreshToken: "rt",
		TokenExpiry:  time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, store.Create(ctx, session))
	require.NotEmpty(t, session.ID)
	assert.False(t, session.CreatedAt.IsZero())

	got, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.Subject)
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)
}

func TestSessionStore_GetMissing(t *testing.T) {
	store, _ := setupSessionStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_SaveRewritesState(t *testing.T) {
	store, _ := setupSessionStore(t)
	ctx := context.Background()

	session := &Session{Subject: "user-1", AccessToken: "old"}
	require.NoError(t, store.Create(ctx, session))

	session.AccessToken = "new"
	require.NoError(t, store.Save(ctx, session))

	got, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
}

func TestSessionStore_Delete(t *testing.T) {
	store, _ := setupSessionStore(t)
	ctx := context.Background()

	session := &Session{Subject: "user-1"}
	require.NoError(t, store.Create(ctx, session))
	require.NoError(t, store.Delete(ctx, session.ID))

	_, err := store.Get(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Deleting again is not an error
	assert.NoError(t, store.Delete(ctx, session.ID))
}

func TestSessionStore_TTLExpiry(t *testing.T) {
	store, mr := setupSessionStore(t)
	ctx := context.Background()

	session := &Session{Subject: "user-1"}
	require.NoError(t, store.Create(ctx, session))

	mr.FastForward(2 * time.Hour)

	_, err := store.Get(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionFromRequest(t *testing.T) {
	store, _ := setupSessionStore(t)
	ctx := context.Background()

	session := &Session{Subject: "user-1"}
	require.NoError(t, store.Create(ctx, session))

	r := httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: session.ID})

	got, err := store.SessionFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	// No cookie at all
	_, err = store.SessionFromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionCookieFlags(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSessionCookie(rec, "abc", true)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

	rec = httptest.NewRecorder()
	ClearSessionCookie(rec)
	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}
