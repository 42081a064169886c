package audit

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/latticehq/lattice/pkg/httputil"
	"github.com/latticehq/lattice/pkg/tenant"
)

// Handlers serves read access to the audit logs. The router wiring
// restricts these routes to platform administrators.
type Handlers struct {
	store *Store
}

// NewHandlers creates audit query handlers
func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers audit query routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/trails", h.listTrails).Methods("GET")
	router.HandleFunc("/audit/requests", h.listRequests).Methods("GET")
}

func (h *Handlers) listTrails(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTrailFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	page := httputil.ParsePageParams(r)

	trails, total, err := h.store.ListTrails(r.Context(), filter, page)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WritePage(w, trails, page.Page, page.PageSize, int64(total))
}

func (h *Handlers) listRequests(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRequestFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	page := httputil.ParsePageParams(r)

	records, total, err := h.store.ListRequests(r.Context(), filter, page)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WritePage(w, records, page.Page, page.PageSize, int64(total))
}

func parseTrailFilter(r *http.Request) (TrailFilter, error) {
	q := r.URL.Query()
	filter := TrailFilter{
		EntityName: q.Get("entity_name"),
		PrimaryKey: q.Get("primary_key"),
		Type:       TrailType(q.Get("type")),
	}

	userID, err := parseUUIDParam(q.Get("user_id"))
	if err != nil {
		return filter, err
	}
	filter.UserID = userID

	tenantPath, err := parseTenantParam(q.Get("tenant_path"))
	if err != nil {
		return filter, err
	}
	filter.TenantPath = tenantPath

	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		return filter, err
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseRequestFilter(r *http.Request) (RequestFilter, error) {
	q := r.URL.Query()
	filter := RequestFilter{
		Method:     q.Get("method"),
		PathPrefix: q.Get("path_prefix"),
	}

	userID, err := parseUUIDParam(q.Get("user_id"))
	if err != nil {
		return filter, err
	}
	filter.UserID = userID

	tenantPath, err := parseTenantParam(q.Get("tenant_path"))
	if err != nil {
		return filter, err
	}
	filter.TenantPath = tenantPath

	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		return filter, err
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseUUIDParam(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseTenantParam(raw string) (*tenant.Path, error) {
	if raw == "" {
		return nil, nil
	}
	path, err := tenant.ParsePath(raw)
	if err != nil {
		return nil, err
	}
	return &path, nil
}

func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
