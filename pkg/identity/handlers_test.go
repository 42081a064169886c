package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/contextkeys"
	"github.com/latticehq/lattice/pkg/tenant"
)

type fakeGrantLister struct {
	paths []tenant.Path
	err   error
}

func (f *fakeGrantLister) ActiveTenantPaths(ctx context.Context, userID uuid.UUID, asOf time.Time) ([]tenant.Path, error) {
	return f.paths, f.err
}

func setupHandlers(t *testing.T, grants GrantLister) (*mux.Router, *UserStore) {
	t.Helper()

	checker := &fakeGrantChecker{granted: map[tenant.Path]bool{"acme.emea": true}}
	store := setupUserStore(t, checker)

	router := mux.NewRouter()
	NewHandlers(store, grants).RegisterRoutes(router)
	return router, store
}

func authed(r *http.Request, userID uuid.UUID) *http.Request {
	claims := Claims{ClaimSubject: userID.String()}
	return r.WithContext(contextkeys.WithIdentity(r.Context(), NewCurrentUser(claims, "")))
}

func TestHandlers_GetMe(t *testing.T) {
	router, store := setupHandlers(t, &fakeGrantLister{})
	user := provisionUser(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/me", nil), user.ID))

	require.Equal(t, http.StatusOK, rec.Code)

	var got User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "ada@example.com", got.Email)
}

func TestHandlers_GetMe_Unauthenticated(t *testing.T) {
	router, _ := setupHandlers(t, &fakeGrantLister{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlers_GetMe_ClaimMissingIsServerFault(t *testing.T) {
	router, _ := setupHandlers(t, &fakeGrantLister{})

	// Authenticated but the subject claim is absent
	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r = r.WithContext(contextkeys.WithIdentity(r.Context(), NewCurrentUser(Claims{}, "")))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandlers_GetMe_NotProvisioned(t *testing.T) {
	router, _ := setupHandlers(t, &fakeGrantLister{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/me", nil), uuid.New()))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_GetMyTenants(t *testing.T) {
	router, store := setupHandlers(t, &fakeGrantLister{
		paths: []tenant.Path{"acme.emea", "acme.apac"},
	})
	user := provisionUser(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/me/tenants", nil), user.ID))

	require.Equal(t, http.StatusOK, rec.Code)

	var paths []tenant.Path
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paths))
	assert.Equal(t, []tenant.Path{"acme.emea", "acme.apac"}, paths)
}

func TestHandlers_UpdateLanguage(t *testing.T) {
	router, store := setupHandlers(t, &fakeGrantLister{})
	user := provisionUser(t, store)

	r := authed(httptest.NewRequest(http.MethodPut, "/me/language", strings.NewReader(`{"language_code":"fr"}`)), user.ID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := store.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "fr", got.LanguageCode)

	// Bad language code
	r = authed(httptest.NewRequest(http.MethodPut, "/me/language", strings.NewReader(`{"language_code":"x"}`)), user.ID)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_UpdateDarkMode(t *testing.T) {
	router, store := setupHandlers(t, &fakeGrantLister{})
	user := provisionUser(t, store)

	r := authed(httptest.NewRequest(http.MethodPut, "/me/dark-mode", strings.NewReader(`{"dark_mode":true}`)), user.ID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := store.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, got.DarkMode)
}

func TestHandlers_UpdateLastSelectedTenant(t *testing.T) {
	router, store := setupHandlers(t, &fakeGrantLister{})
	user := provisionUser(t, store)

	send := func(body string) *httptest.ResponseRecorder {
		r := authed(httptest.NewRequest(http.MethodPut, "/me/last-selected-tenant", strings.NewReader(body)), user.ID)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)
		return rec
	}

	rec := send(`{"tenant_path":"acme.emea"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := store.Get(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSelectedTenantPath)
	assert.Equal(t, tenant.Path("acme.emea"), *got.LastSelectedTenantPath)

	// No grant under the tenant
	assert.Equal(t, http.StatusBadRequest, send(`{"tenant_path":"acme.apac"}`).Code)

	// Malformed path
	assert.Equal(t, http.StatusBadRequest, send(`{"tenant_path":"bad..path"}`).Code)

	// Malformed JSON
	assert.Equal(t, http.StatusBadRequest, send(`{not json`).Code)
}
