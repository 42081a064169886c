package identity

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/latticehq/lattice/pkg/httputil"
	"github.com/latticehq/lattice/pkg/tenant"
)

// GrantLister returns the tenant paths a user currently holds grants
// at. Implemented by the authz store.
type GrantLister interface {
	ActiveTenantPaths(ctx context.Context, userID uuid.UUID, asOf time.Time) ([]tenant.Path, error)
}

// Handlers serves the authenticated user's own profile endpoints
type Handlers struct {
	users  *UserStore
	grants GrantLister
}

// NewHandlers creates the /me handlers
func NewHandlers(users *UserStore, grants GrantLister) *Handlers {
	return &Handlers{users: users, grants: grants}
}

// RegisterRoutes registers the profile routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/me", h.getMe).Methods("GET")
	router.HandleFunc("/me/tenants", h.getMyTenants).Methods("GET")
	router.HandleFunc("/me/language", h.updateLanguage).Methods("PUT")
	router.HandleFunc("/me/dark-mode", h.updateDarkMode).Methods("PUT")
	router.HandleFunc("/me/last-selected-tenant", h.updateLastSelectedTenant).Methods("PUT")
}

// currentUserID resolves the acting user id or writes the appropriate
// error response. A missing claim on an authenticated request is an
// integration fault, not an authentication failure.
func currentUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	current := FromContext(r.Context())
	if !current.IsAuthenticated() {
		httputil.WriteUnauthorized(w, "authentication required")
		return uuid.Nil, false
	}

	id, err := current.UserID()
	if err != nil {
		httputil.WriteInternalError(w, err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) getMe(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUserID(w, r)
	if !ok {
		return
	}

	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			httputil.WriteNotFound(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, user)
}

func (h *Handlers) getMyTenants(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUserID(w, r)
	if !ok {
		return
	}

	paths, err := h.grants.ActiveTenantPaths(r.Context(), id, time.Now().UTC())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, paths)
}

type updateLanguageRequest struct {
	LanguageCode string `json:"language_code"`
}

func (h *Handlers) updateLanguage(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req updateLanguageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.users.UpdateLanguage(r.Context(), id, req.LanguageCode); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			httputil.WriteNotFound(w, err.Error())
			return
		}
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	httputil.WriteNoContent(w)
}

type updateDarkModeRequest struct {
	DarkMode bool `json:"dark_mode"`
}

func (h *Handlers) updateDarkMode(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req updateDarkModeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.users.UpdateDarkMode(r.Context(), id, req.DarkMode); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			httputil.WriteNotFound(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

type updateLastSelectedTenantRequest struct {
	TenantPath string `json:"tenant_path"`
}

func (h *Handlers) updateLastSelectedTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req updateLastSelectedTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	path, err := tenant.ParsePath(req.TenantPath)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.users.UpdateLastSelectedTenant(r.Context(), id, path); err != nil {
		switch {
		case errors.Is(err, ErrTenantNotGranted):
			httputil.WriteBadRequest(w, err.Error())
		case errors.Is(err, ErrUserNotFound):
			httputil.WriteNotFound(w, err.Error())
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}

	httputil.WriteNoContent(w)
}
