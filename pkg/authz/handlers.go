package authz

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/latticehq/lattice/pkg/httputil"
	"github.com/latticehq/lattice/pkg/identity"
	"github.com/latticehq/lattice/pkg/tenant"
)

// Handlers serves role and grant administration. The router wiring
// restricts these routes to platform administrators.
type Handlers struct {
	store *Store
}

// NewHandlers creates authorization admin handlers
func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers role and grant administration routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/roles", h.listRoles).Methods("GET")
	router.HandleFunc("/roles", h.createRole).Methods("POST")
	router.HandleFunc("/roles/{id}", h.getRole).Methods("GET")
	router.HandleFunc("/roles/{id}", h.updateRole).Methods("PUT")
	router.HandleFunc("/grants", h.createGrant).Methods("POST")
	router.HandleFunc("/grants/{id}", h.getGrant).Methods("GET")
	router.HandleFunc("/grants/{id}", h.deleteGrant).Methods("DELETE")
	router.HandleFunc("/grants/{id}/extend", h.extendGrant).Methods("PUT")
	router.HandleFunc("/users/{id}/grants", h.listUserGrants).Methods("GET")
}

type createRoleRequest struct {
	Name     string            `json:"name"`
	Features []Feature         `json:"features"`
	Labels   map[string]string `json:"labels,omitempty"`
}

func (h *Handlers) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}
	if len(req.Features) == 0 {
		httputil.WriteBadRequest(w, "at least one feature is required")
		return
	}

	role := &Role{Name: req.Name, Features: req.Features, Labels: req.Labels}
	if err := h.store.CreateRole(r.Context(), role); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, role)
}

func (h *Handlers) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := idVar(w, r)
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			httputil.WriteNotFound(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, role)
}

func (h *Handlers) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := idVar(w, r)
	if !ok {
		return
	}

	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	role := &Role{ID: id, Name: req.Name, Features: req.Features, Labels: req.Labels}
	if err := h.store.UpdateRole(r.Context(), role); err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			httputil.WriteNotFound(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, role)
}

func (h *Handlers) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

type createGrantRequest struct {
	UserID     uuid.UUID  `json:"user_id"`
	RoleID     uuid.UUID  `json:"role_id"`
	TenantPath string     `json:"tenant_path"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidTo    *time.Time `json:"valid_to,omitempty"`
}

func (h *Handlers) createGrant(w http.ResponseWriter, r *http.Request) {
	var req createGrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == uuid.Nil || req.RoleID == uuid.Nil {
		httputil.WriteBadRequest(w, "user_id and role_id are required")
		return
	}

	path, err := tenant.ParsePath(req.TenantPath)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	// The referenced role must exist before the grant is accepted
	if _, err := h.store.GetRole(r.Context(), req.RoleID); err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	var validFrom, validTo time.Time
	if req.ValidFrom != nil {
		validFrom = *req.ValidFrom
	}
	if req.ValidTo != nil {
		validTo = *req.ValidTo
	}

	grant, err := NewGrant(req.UserID, req.RoleID, path, validFrom, validTo)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	current := identity.FromContext(r.Context())
	if grantedBy, err := current.UserID(); err == nil {
		grant.GrantedBy = &grantedBy
	}

	if err := h.store.CreateGrant(r.Context(), grant); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, grant)
}

func (h *Handlers) getGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := idVar(w, r)
	if !ok {
		return
	}

	grant, err := h.store.GetGrant(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			httputil.WriteNotFound(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, grant)
}

func (h *Handlers) deleteGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := idVar(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteGrant(r.Context(), id); err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			httputil.WriteNotFound(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

type extendGrantRequest struct {
	ValidTo time.Time `json:"valid_to"`
}

func (h *Handlers) extendGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := idVar(w, r)
	if !ok {
		return
	}

	var req extendGrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	grant, err := h.store.GetGrant(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			httputil.WriteNotFound(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	if err := grant.ExtendTo(req.ValidTo); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.store.UpdateGrantWindow(r.Context(), grant); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, grant)
}

func (h *Handlers) listUserGrants(w http.ResponseWriter, r *http.Request) {
	id, ok := idVar(w, r)
	if !ok {
		return
	}

	grants, err := h.store.ListGrantsByUser(r.Context(), id)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, grants)
}

func idVar(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteBadRequest(w, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
