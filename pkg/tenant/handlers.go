package tenant

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/latticehq/lattice/pkg/httputil"
)

// Handlers serves the tenant provisioning endpoints. Authorization is
// applied by the router wiring (platform-admin only).
type Handlers struct {
	store *Store
}

// NewHandlers creates tenant HTTP handlers
func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers tenant administration routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tenants", h.list).Methods("GET")
	router.HandleFunc("/tenants", h.create).Methods("POST")
	router.HandleFunc("/tenants/{path}", h.get).Methods("GET")
	router.HandleFunc("/tenants/{path}", h.rename).Methods("PATCH")
	router.HandleFunc("/tenants/{path}/subtree", h.subtree).Methods("GET")
}

// RegisterReadRoutes registers the read-only browse routes used by
// tenant users, guarded by a feature check in the router wiring.
func (h *Handlers) RegisterReadRoutes(router *mux.Router) {
	router.HandleFunc("/tenants/{path}", h.get).Methods("GET")
	router.HandleFunc("/tenants/{path}/subtree", h.subtree).Methods("GET")
}

type createTenantRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type renameTenantRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	path, err := ParsePath(req.Path)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	node := &Node{Path: path, Name: req.Name}
	if err := h.store.Create(r.Context(), node); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyExists):
			httputil.WriteConflict(w, err.Error())
		case errors.Is(err, ErrParentMissing):
			httputil.WriteBadRequest(w, err.Error())
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}

	httputil.WriteCreated(w, node)
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	path, ok := pathVar(w, r)
	if !ok {
		return
	}

	node, err := h.store.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFound(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, node)
}

func (h *Handlers) rename(w http.ResponseWriter, r *http.Request) {
	path, ok := pathVar(w, r)
	if !ok {
		return
	}

	var req renameTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	if err := h.store.Rename(r.Context(), path, req.Name); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFound(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.store.List(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, nodes)
}

func (h *Handlers) subtree(w http.ResponseWriter, r *http.Request) {
	path, ok := pathVar(w, r)
	if !ok {
		return
	}

	nodes, err := h.store.Subtree(r.Context(), path)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, nodes)
}

func pathVar(w http.ResponseWriter, r *http.Request) (Path, bool) {
	raw := mux.Vars(r)["path"]
	path, err := ParsePath(raw)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return "", false
	}
	return path, true
}
